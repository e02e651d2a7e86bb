// Package grpcserver exposes the PassVault gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/passvault/internal/convert"
	"github.com/and161185/passvault/internal/errs"
	"github.com/and161185/passvault/internal/model"
	"github.com/and161185/passvault/internal/service"
)

// Verifier resolves an access token to the identity it was issued for.
type Verifier interface {
	Verify(token string) (uuid.UUID, error)
}

// Server wires services into gRPC handlers.
type Server struct {
	auth   service.AuthService
	creds  service.CredentialService
	tokens Verifier
	log    *zap.Logger
}

var _ VaultServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, creds service.CredentialService, tokens Verifier, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, creds: creds, tokens: tokens, log: log}
}

// toStatus maps domain errors to gRPC statuses. Internal details are logged, not returned.
func (s *Server) toStatus(method string, err error) error {
	switch {
	case errors.Is(err, errs.ErrSessionExpired):
		return status.Error(codes.Unauthenticated, "session expired")
	case errors.Is(err, errs.ErrSessionInvalid), errors.Is(err, errs.ErrTokenRevoked):
		return status.Error(codes.Unauthenticated, "not authenticated")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "bad credentials")
	case errors.Is(err, errs.ErrRejected), errors.Is(err, errs.ErrAuthenticationFailed):
		return status.Error(codes.PermissionDenied, "invalid credentials")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrInvalidArgument), errors.Is(err, errs.ErrMalformedInput):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		s.log.Error("request failed", zap.String("method", method), zap.Error(err))
		return status.Error(codes.Internal, "internal")
	}
}

func remoteIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// --- Auth ---

// Register creates a new account and opens its first session.
func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	email, secret := convert.Str(req, convert.FieldEmail), convert.Str(req, convert.FieldSecret)
	if email == "" || secret == "" {
		return nil, status.Error(codes.InvalidArgument, "empty email/secret")
	}
	u, tok, err := s.auth.Register(ctx, email, secret, remoteIP(ctx))
	if err != nil {
		return nil, s.toStatus(MethodRegister, err)
	}
	return convert.ToStructSession(u, tok), nil
}

// Login authenticates a user and returns tokens.
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	u, tok, err := s.auth.Login(ctx, convert.Str(req, convert.FieldEmail), convert.Str(req, convert.FieldSecret), remoteIP(ctx))
	if err != nil {
		return nil, s.toStatus(MethodLogin, err)
	}
	return convert.ToStructSession(u, tok), nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *Server) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	access, exp, err := s.auth.Refresh(ctx, convert.Str(req, convert.FieldRefreshToken))
	if err != nil {
		return nil, s.toStatus(MethodRefresh, err)
	}
	return convert.ToStructTokens(model.Tokens{AccessToken: access, ExpiresAt: exp}), nil
}

// Logout revokes the caller's refresh token.
func (s *Server) Logout(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus(MethodLogout, err)
	}
	if err := s.auth.Logout(ctx, userID); err != nil {
		return nil, s.toStatus(MethodLogout, err)
	}
	return &structpb.Struct{}, nil
}

// Me returns the caller's profile.
func (s *Server) Me(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus(MethodMe, err)
	}
	u, err := s.auth.Me(ctx, userID)
	if err != nil {
		return nil, s.toStatus(MethodMe, err)
	}
	return convert.ToStructUser(u), nil
}

// --- Credentials ---

func credentialInput(req *structpb.Struct) service.CredentialInput {
	return service.CredentialInput{
		Site:     convert.Str(req, convert.FieldSite),
		Username: convert.Str(req, convert.FieldUsername),
		Password: convert.Str(req, convert.FieldPassword),
	}
}

// CreateCredential seals and stores a credential.
func (s *Server) CreateCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus(MethodCreateCredential, err)
	}
	sum, err := s.creds.Create(ctx, userID, convert.Str(req, convert.FieldSecret), credentialInput(req), remoteIP(ctx))
	if err != nil {
		return nil, s.toStatus(MethodCreateCredential, err)
	}
	return convert.ToStructSummary(sum), nil
}

// ListCredentials returns credential metadata, newest first.
func (s *Server) ListCredentials(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus(MethodListCredentials, err)
	}
	list, err := s.creds.List(ctx, userID)
	if err != nil {
		return nil, s.toStatus(MethodListCredentials, err)
	}
	return convert.ToStructSummaries(list), nil
}

// RevealCredential opens one password.
func (s *Server) RevealCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus(MethodRevealCredential, err)
	}
	id, err := convert.UUID(req, convert.FieldID)
	if err != nil {
		return nil, s.toStatus(MethodRevealCredential, err)
	}
	pw, err := s.creds.Reveal(ctx, userID, id, convert.Str(req, convert.FieldSecret), remoteIP(ctx))
	if err != nil {
		return nil, s.toStatus(MethodRevealCredential, err)
	}
	return convert.Strings(map[string]string{convert.FieldPassword: pw}), nil
}

// UpdateCredential replaces metadata and reseals the password.
func (s *Server) UpdateCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus(MethodUpdateCredential, err)
	}
	id, err := convert.UUID(req, convert.FieldID)
	if err != nil {
		return nil, s.toStatus(MethodUpdateCredential, err)
	}
	sum, err := s.creds.Update(ctx, userID, id, convert.Str(req, convert.FieldSecret), credentialInput(req), remoteIP(ctx))
	if err != nil {
		return nil, s.toStatus(MethodUpdateCredential, err)
	}
	return convert.ToStructSummary(sum), nil
}

// DeleteCredential removes a credential.
func (s *Server) DeleteCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, s.toStatus(MethodDeleteCredential, err)
	}
	id, err := convert.UUID(req, convert.FieldID)
	if err != nil {
		return nil, s.toStatus(MethodDeleteCredential, err)
	}
	if err := s.creds.Delete(ctx, userID, id); err != nil {
		return nil, s.toStatus(MethodDeleteCredential, err)
	}
	return &structpb.Struct{}, nil
}

// GeneratePassword returns a random password.
func (s *Server) GeneratePassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.userIDFromCtx(ctx); err != nil {
		return nil, s.toStatus(MethodGeneratePassword, err)
	}
	pw, err := s.creds.GeneratePassword(convert.Int(req, convert.FieldLength))
	if err != nil {
		return nil, s.toStatus(MethodGeneratePassword, err)
	}
	return convert.Strings(map[string]string{convert.FieldPassword: pw}), nil
}

// userIDFromCtx returns the identity stored by AuthUnary, or verifies the
// bearer token itself when the interceptor is not installed.
func (s *Server) userIDFromCtx(ctx context.Context) (uuid.UUID, error) {
	if id, ok := UserIDFromCtx(ctx); ok {
		return id, nil
	}
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return uuid.Nil, errs.ErrSessionInvalid
	}
	return s.tokens.Verify(tok)
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
