// Package convert maps model values to and from google.protobuf.Struct messages
// carried by the Vault gRPC service.
package convert

import (
	"fmt"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/passvault/internal/errs"
	model "github.com/and161185/passvault/internal/model"
)

// Message field names shared by server and client.
const (
	FieldEmail            = "email"
	FieldSecret           = "secret"
	FieldUserID           = "user_id"
	FieldCreatedAt        = "created_at"
	FieldUpdatedAt        = "updated_at"
	FieldLastLogin        = "last_login"
	FieldAccessToken      = "access_token"
	FieldRefreshToken     = "refresh_token"
	FieldExpiresAt        = "expires_at"
	FieldRefreshExpiresAt = "refresh_expires_at"
	FieldID               = "id"
	FieldSite             = "site"
	FieldUsername         = "username"
	FieldPassword         = "password"
	FieldLength           = "length"
	FieldCredentials      = "credentials"
)

// --- helpers ---

func ts(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewNullValue()
	}
	return structpb.NewStringValue(t.UTC().Format(time.RFC3339Nano))
}

func parseTS(s *structpb.Struct, key string) (time.Time, error) {
	v := Str(s, key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

// Str returns the string field key or "".
func Str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// Int returns the numeric field key truncated to int, or 0.
func Int(s *structpb.Struct, key string) int {
	return int(s.GetFields()[key].GetNumberValue())
}

// UUID parses the string field key.
func UUID(s *structpb.Struct, key string) (u.UUID, error) {
	id, err := u.FromString(Str(s, key))
	if err != nil {
		return u.Nil, fmt.Errorf("invalid %s: %w", key, errs.ErrInvalidArgument)
	}
	return id, nil
}

// Strings builds a Struct from string fields.
func Strings(kv map[string]string) *structpb.Struct {
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(kv))}
	for k, v := range kv {
		out.Fields[k] = structpb.NewStringValue(v)
	}
	return out
}

// --- Tokens ---

// ToStructTokens converts issued tokens.
func ToStructTokens(t model.Tokens) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldAccessToken:      structpb.NewStringValue(t.AccessToken),
		FieldRefreshToken:     structpb.NewStringValue(t.RefreshToken),
		FieldExpiresAt:        ts(t.ExpiresAt),
		FieldRefreshExpiresAt: ts(t.RefreshExpiresAt),
	}}
}

// FromStructTokens is the client side of ToStructTokens.
func FromStructTokens(s *structpb.Struct) (model.Tokens, error) {
	exp, err := parseTS(s, FieldExpiresAt)
	if err != nil {
		return model.Tokens{}, err
	}
	rexp, err := parseTS(s, FieldRefreshExpiresAt)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{
		AccessToken:      Str(s, FieldAccessToken),
		RefreshToken:     Str(s, FieldRefreshToken),
		ExpiresAt:        exp,
		RefreshExpiresAt: rexp,
	}, nil
}

// --- User ---

// ToStructUser converts the public part of a user profile. Hashes, salts and
// fingerprints never leave the server.
func ToStructUser(usr model.User) *structpb.Struct {
	last := structpb.NewNullValue()
	if usr.LastLogin != nil {
		last = ts(*usr.LastLogin)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldUserID:    structpb.NewStringValue(usr.ID.String()),
		FieldEmail:     structpb.NewStringValue(usr.Email),
		FieldCreatedAt: ts(usr.CreatedAt),
		FieldLastLogin: last,
	}}
}

// FromStructUser is the client side of ToStructUser.
func FromStructUser(s *structpb.Struct) (model.User, error) {
	id, err := UUID(s, FieldUserID)
	if err != nil {
		return model.User{}, err
	}
	created, err := parseTS(s, FieldCreatedAt)
	if err != nil {
		return model.User{}, err
	}
	last, err := parseTS(s, FieldLastLogin)
	if err != nil {
		return model.User{}, err
	}
	out := model.User{ID: id, Email: Str(s, FieldEmail), CreatedAt: created}
	if !last.IsZero() {
		out.LastLogin = &last
	}
	return out, nil
}

// --- Credentials ---

// ToStructSummary converts credential metadata.
func ToStructSummary(c model.CredentialSummary) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldID:        structpb.NewStringValue(c.ID.String()),
		FieldSite:      structpb.NewStringValue(c.Site),
		FieldUsername:  structpb.NewStringValue(c.Username),
		FieldCreatedAt: ts(c.CreatedAt),
		FieldUpdatedAt: ts(c.UpdatedAt),
	}}
}

// FromStructSummary is the client side of ToStructSummary.
func FromStructSummary(s *structpb.Struct) (model.CredentialSummary, error) {
	id, err := UUID(s, FieldID)
	if err != nil {
		return model.CredentialSummary{}, err
	}
	created, err := parseTS(s, FieldCreatedAt)
	if err != nil {
		return model.CredentialSummary{}, err
	}
	updated, err := parseTS(s, FieldUpdatedAt)
	if err != nil {
		return model.CredentialSummary{}, err
	}
	return model.CredentialSummary{
		ID:        id,
		Site:      Str(s, FieldSite),
		Username:  Str(s, FieldUsername),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

// ToStructSummaries wraps a list under "credentials", preserving order.
func ToStructSummaries(cs []model.CredentialSummary) *structpb.Struct {
	vals := make([]*structpb.Value, 0, len(cs))
	for _, c := range cs {
		vals = append(vals, structpb.NewStructValue(ToStructSummary(c)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldCredentials: structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}
}

// FromStructSummaries unwraps ToStructSummaries output.
func FromStructSummaries(s *structpb.Struct) ([]model.CredentialSummary, error) {
	vals := s.GetFields()[FieldCredentials].GetListValue().GetValues()
	out := make([]model.CredentialSummary, 0, len(vals))
	for i, v := range vals {
		c, err := FromStructSummary(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("credential[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// --- Session (register / login) ---

// Nested message names of a session response.
const (
	FieldUser   = "user"
	FieldTokens = "tokens"
)

// ToStructSession pairs a profile with freshly issued tokens.
func ToStructSession(usr model.User, t model.Tokens) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldUser:   structpb.NewStructValue(ToStructUser(usr)),
		FieldTokens: structpb.NewStructValue(ToStructTokens(t)),
	}}
}

// FromStructSession is the client side of ToStructSession.
func FromStructSession(s *structpb.Struct) (model.User, model.Tokens, error) {
	usr, err := FromStructUser(s.GetFields()[FieldUser].GetStructValue())
	if err != nil {
		return model.User{}, model.Tokens{}, fmt.Errorf("user: %w", err)
	}
	t, err := FromStructTokens(s.GetFields()[FieldTokens].GetStructValue())
	if err != nil {
		return model.User{}, model.Tokens{}, fmt.Errorf("tokens: %w", err)
	}
	return usr, t, nil
}
