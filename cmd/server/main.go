// Command pv-server starts the PassVault gRPC server.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/passvault/internal/config"
	pkgcrypto "github.com/and161185/passvault/internal/crypto"
	"github.com/and161185/passvault/internal/gate"
	"github.com/and161185/passvault/internal/limiter"
	"github.com/and161185/passvault/internal/migrate"
	"github.com/and161185/passvault/internal/repository"
	"github.com/and161185/passvault/internal/repository/memory"
	"github.com/and161185/passvault/internal/repository/postgres"
	grpcserver "github.com/and161185/passvault/internal/server/grpc"
	"github.com/and161185/passvault/internal/service"
	"github.com/and161185/passvault/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// slowKDF is the derivation time above which a warning is logged.
const slowKDF = 250 * time.Millisecond

type store struct {
	users repository.UserRepository
	creds repository.CredentialRepository
	// separate limiters so login failures and gate rejections do not share counters
	loginLim limiter.Limiter
	gateLim  limiter.Limiter
	regLim   limiter.Limiter
	opsLim   limiter.Limiter
	close    func()
}

// main parses configuration, runs migrations, and starts the gRPC server.
func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (*store, error) {
	lc, reg, ops := cfg.Limiter, cfg.RegisterRate, cfg.OpsRate
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory store, data is lost on exit")
		return &store{
			users:    memory.NewUserRepo(),
			creds:    memory.NewCredentialRepo(),
			loginLim: limiter.NewMemory(lc.Window, lc.MaxFails, lc.BlockFor),
			gateLim:  limiter.NewMemory(lc.Window, lc.MaxFails, lc.BlockFor),
			regLim:   limiter.NewMemory(reg.Window, reg.Max, reg.Window),
			opsLim:   limiter.NewMemory(ops.Window, ops.Max, ops.Window),
			close:    func() {},
		}, nil
	}

	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return nil, fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	// one table, disjoint subjects: login keys are emails, the rest carry a
	// "gate:", "ops:" or "register:" prefix
	lim := limiter.NewPG(db.Pool, lc.Window, lc.MaxFails, lc.BlockFor)
	return &store{
		users:    postgres.NewUserRepo(db),
		creds:    postgres.NewCredentialRepo(db),
		loginLim: lim,
		gateLim:  lim,
		regLim:   limiter.NewPG(db.Pool, reg.Window, reg.Max, reg.Window),
		opsLim:   limiter.NewPG(db.Pool, ops.Window, ops.Max, ops.Window),
		close:    db.Close,
	}, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	kdf := cfg.KDFParams()
	took, err := pkgcrypto.MeasureKDF(kdf)
	if err != nil {
		return fmt.Errorf("measure kdf: %w", err)
	}
	if took > slowKDF {
		logger.Warn("key derivation is slow", zap.Duration("took", took), zap.Int("iterations", kdf.Iterations))
	} else {
		logger.Debug("key derivation", zap.Duration("took", took), zap.Int("iterations", kdf.Iterations))
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	issuer := session.NewIssuer(st.users, cfg.Session(), session.WithLogger(logger.Named("session")))
	g, err := gate.New(st.users, kdf, cfg.HashParams(), logger.Named("gate"))
	if err != nil {
		return err
	}
	authSvc, err := service.NewAuthService(st.users, issuer, st.loginLim, st.regLim, cfg.HashParams(), logger.Named("auth"))
	if err != nil {
		return err
	}
	credSvc := service.NewCredentialService(st.creds, g, st.gateLim, st.opsLim, logger.Named("credentials"))
	app := grpcserver.New(authSvc, credSvc, issuer, logger.Named("grpc"))

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			app.AuthUnary(),
		),
	}
	if cfg.InsecureListen {
		logger.Warn("serving without TLS")
	} else {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	s := grpc.NewServer(opts...)
	grpcserver.RegisterVaultServer(s, app)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Reflection {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", lis.Addr().String()), zap.Bool("tls", !cfg.InsecureListen))
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
		return nil
	case err := <-errCh:
		return err
	}
}
