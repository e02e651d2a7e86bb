package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/passvault/internal/convert"
	grpcserver "github.com/and161185/passvault/internal/server/grpc"
)

var errUsage = errors.New("usage")

type app struct {
	client *grpcserver.Client
	secure bool
	out    io.Writer
	errOut io.Writer
}

func newApp(cc grpc.ClientConnInterface, secure bool, out, errOut io.Writer) *app {
	return &app{client: grpcserver.NewClient(cc), secure: secure, out: out, errOut: errOut}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "register":
		return a.cmdOpenSession(ctx, grpcserver.MethodRegister, args)
	case "login":
		return a.cmdOpenSession(ctx, grpcserver.MethodLogin, args)
	case "refresh":
		return a.cmdRefresh(ctx)
	case "logout":
		return a.cmdLogout(ctx)
	case "me":
		return a.cmdMe(ctx)
	case "add":
		return a.cmdAdd(ctx, args)
	case "list":
		return a.cmdList(ctx)
	case "show":
		return a.cmdShow(ctx, args)
	case "edit":
		return a.cmdEdit(ctx, args)
	case "rm":
		return a.cmdRm(ctx, args)
	case "gen":
		return a.cmdGen(ctx, args)
	default:
		return errUsage
	}
}

// ---- plumbing ----

func (a *app) bearer(token string) grpc.CallOption {
	return grpc.PerRPCCredentials(bearerCreds{token: token, secure: a.secure})
}

// prompt reads a value without echo unless it was given on the command line.
func (a *app) prompt(label, given string) (string, error) {
	if given != "" {
		return given, nil
	}
	fmt.Fprint(a.errOut, label+": ")
	b, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(a.errOut)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return string(b), nil
}

func (a *app) refresh(ctx context.Context, s sessionFile) (sessionFile, error) {
	resp, err := a.client.Call(ctx, grpcserver.MethodRefresh,
		convert.Strings(map[string]string{convert.FieldRefreshToken: s.RefreshToken}))
	if err != nil {
		return s, err
	}
	tok, err := convert.FromStructTokens(resp)
	if err != nil {
		return s, err
	}
	s.AccessToken, s.ExpiresAt = tok.AccessToken, tok.ExpiresAt
	return s, saveSession(s)
}

// call invokes an authenticated method, refreshing the access token once when
// the server reports it expired.
func (a *app) call(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	s, err := loadSession()
	if err != nil {
		return nil, err
	}
	out, err := a.client.Call(ctx, method, in, a.bearer(s.AccessToken))
	if !isSessionExpired(err) {
		return out, err
	}
	if s, err = a.refresh(ctx, s); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return a.client.Call(ctx, method, in, a.bearer(s.AccessToken))
}

func newFlags(name string, errOut io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	return fs
}

// ---- account ----

func (a *app) cmdOpenSession(ctx context.Context, method string, args []string) error {
	fs := newFlags(method, a.errOut)
	email := fs.String("e", "", "email")
	secret := fs.String("p", "", "master secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("need -e")
	}
	sec, err := a.prompt("Master secret", *secret)
	if err != nil {
		return err
	}

	resp, err := a.client.Call(ctx, method, convert.Strings(map[string]string{
		convert.FieldEmail: *email, convert.FieldSecret: sec,
	}))
	if err != nil {
		return err
	}
	u, tok, err := convert.FromStructSession(resp)
	if err != nil {
		return err
	}
	if err := saveSession(sessionFile{
		Email:            u.Email,
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		ExpiresAt:        tok.ExpiresAt,
		RefreshExpiresAt: tok.RefreshExpiresAt,
	}); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "logged in as %s (%s)\n", u.Email, u.ID)
	return nil
}

func (a *app) cmdRefresh(ctx context.Context) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	if s, err = a.refresh(ctx, s); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "access token valid until %s\n", s.ExpiresAt.Local().Format(time.RFC3339))
	return nil
}

func (a *app) cmdLogout(ctx context.Context) error {
	if _, err := a.call(ctx, grpcserver.MethodLogout, nil); err != nil && !errors.Is(err, errNotLoggedIn) {
		return err
	}
	if err := clearSession(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged out")
	return nil
}

func (a *app) cmdMe(ctx context.Context) error {
	resp, err := a.call(ctx, grpcserver.MethodMe, nil)
	if err != nil {
		return err
	}
	u, err := convert.FromStructUser(resp)
	if err != nil {
		return err
	}
	row := map[string]any{"id": u.ID.String(), "email": u.Email, "created_at": u.CreatedAt}
	if u.LastLogin != nil {
		row["last_login"] = *u.LastLogin
	}
	printJSON(a.out, row)
	return nil
}

// ---- credentials ----

// password resolves -password / -gen; required prompts when neither is set.
func (a *app) password(ctx context.Context, given string, gen int, required bool) (string, error) {
	switch {
	case given != "":
		return given, nil
	case gen != 0:
		resp, err := a.call(ctx, grpcserver.MethodGeneratePassword,
			&structpb.Struct{Fields: map[string]*structpb.Value{convert.FieldLength: structpb.NewNumberValue(float64(gen))}})
		if err != nil {
			return "", err
		}
		return convert.Str(resp, convert.FieldPassword), nil
	case required:
		return a.prompt("Password to store", "")
	default:
		return "", nil
	}
}

func (a *app) cmdAdd(ctx context.Context, args []string) error {
	fs := newFlags("add", a.errOut)
	site := fs.String("site", "", "site")
	user := fs.String("user", "", "username on the site")
	pw := fs.String("password", "", "password to store")
	gen := fs.Int("gen", 0, "generate a password of this length instead")
	secret := fs.String("p", "", "master secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *site == "" || *user == "" {
		return errors.New("need -site and -user")
	}
	plain, err := a.password(ctx, *pw, *gen, true)
	if err != nil {
		return err
	}
	sec, err := a.prompt("Master secret", *secret)
	if err != nil {
		return err
	}

	resp, err := a.call(ctx, grpcserver.MethodCreateCredential, convert.Strings(map[string]string{
		convert.FieldSecret:   sec,
		convert.FieldSite:     *site,
		convert.FieldUsername: *user,
		convert.FieldPassword: plain,
	}))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, convert.Str(resp, convert.FieldID))
	return nil
}

type listRow struct {
	ID        string    `json:"id"`
	Site      string    `json:"site"`
	Username  string    `json:"username"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *app) list(ctx context.Context) ([]listRow, error) {
	resp, err := a.call(ctx, grpcserver.MethodListCredentials, nil)
	if err != nil {
		return nil, err
	}
	list, err := convert.FromStructSummaries(resp)
	if err != nil {
		return nil, err
	}
	rows := make([]listRow, 0, len(list))
	for _, c := range list {
		rows = append(rows, listRow{ID: c.ID.String(), Site: c.Site, Username: c.Username, UpdatedAt: c.UpdatedAt})
	}
	return rows, nil
}

func (a *app) cmdList(ctx context.Context) error {
	rows, err := a.list(ctx)
	if err != nil {
		return err
	}
	printJSON(a.out, rows)
	return nil
}

func (a *app) cmdShow(ctx context.Context, args []string) error {
	fs := newFlags("show", a.errOut)
	id := fs.String("id", "", "credential id (uuid)")
	secret := fs.String("p", "", "master secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("need -id")
	}
	sec, err := a.prompt("Master secret", *secret)
	if err != nil {
		return err
	}
	resp, err := a.call(ctx, grpcserver.MethodRevealCredential, convert.Strings(map[string]string{
		convert.FieldID: *id, convert.FieldSecret: sec,
	}))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, convert.Str(resp, convert.FieldPassword))
	return nil
}

func (a *app) cmdEdit(ctx context.Context, args []string) error {
	fs := newFlags("edit", a.errOut)
	id := fs.String("id", "", "credential id (uuid)")
	site := fs.String("site", "", "new site (default: keep)")
	user := fs.String("user", "", "new username (default: keep)")
	pw := fs.String("password", "", "new password (default: keep)")
	gen := fs.Int("gen", 0, "generate a new password of this length")
	secret := fs.String("p", "", "master secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("need -id")
	}

	if *site == "" || *user == "" {
		rows, err := a.list(ctx)
		if err != nil {
			return err
		}
		found := false
		for _, r := range rows {
			if r.ID == *id {
				if *site == "" {
					*site = r.Site
				}
				if *user == "" {
					*user = r.Username
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("credential %s not found", *id)
		}
	}

	plain, err := a.password(ctx, *pw, *gen, false)
	if err != nil {
		return err
	}
	sec, err := a.prompt("Master secret", *secret)
	if err != nil {
		return err
	}
	if _, err := a.call(ctx, grpcserver.MethodUpdateCredential, convert.Strings(map[string]string{
		convert.FieldID:       *id,
		convert.FieldSecret:   sec,
		convert.FieldSite:     *site,
		convert.FieldUsername: *user,
		convert.FieldPassword: plain,
	})); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "updated")
	return nil
}

func (a *app) cmdRm(ctx context.Context, args []string) error {
	fs := newFlags("rm", a.errOut)
	id := fs.String("id", "", "credential id (uuid)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("need -id")
	}
	if _, err := a.call(ctx, grpcserver.MethodDeleteCredential, convert.Strings(map[string]string{convert.FieldID: *id})); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "deleted")
	return nil
}

func (a *app) cmdGen(ctx context.Context, args []string) error {
	fs := newFlags("gen", a.errOut)
	n := fs.Int("n", 16, "length")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw, err := a.password(ctx, "", *n, false)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, pw)
	return nil
}
