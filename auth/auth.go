// Package auth implements password login and bearer-token sessions on top
// of the store package's records and secondary indexes.
//
// A user's bearer token lives both in the record's api_token field and in
// the index entry "user:api_token:<token>". Login rotates the token and
// Logout clears it; neither is atomic with respect to concurrent logins of
// the same user.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/jacentio/kvmodel/store"
)

// ErrAuthentication is returned by Login for an unknown email and for a wrong
// password alike.
var ErrAuthentication = errors.New("kvmodel: invalid credentials")

const (
	// TokenLength is the length of minted bearer tokens.
	TokenLength = 60

	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Field names of the user model.
const (
	FieldName          = "name"
	FieldEmail         = "email"
	FieldPassword      = "password"
	FieldAPIToken      = "api_token"
	FieldRememberToken = "remember_token"
	FieldLastLogin     = "last_login"
)

// UserModel returns the default user model. opts are applied after the defaults.
func UserModel(opts ...store.ModelOption) *store.Model {
	defaults := []store.ModelOption{
		store.WithFillable(FieldName, FieldEmail, FieldPassword, FieldAPIToken),
		store.WithHidden(FieldPassword, FieldRememberToken),
		store.WithGuarded(FieldLastLogin),
		store.WithIndexTemplate(FieldEmail, "{model}:email:%s"),
		store.WithIndexTemplate(FieldAPIToken, "{model}:api_token:%s"),
		store.WithTimestamps(),
	}
	return store.MustModel("User", append(defaults, opts...)...)
}

// Service authenticates users stored in a store.Store.
type Service struct {
	store  *store.Store
	users  *store.Model
	cost   int
	logger *slog.Logger

	// dummyHash is compared against when no user matches, so that unknown
	// emails cost as much as wrong passwords.
	dummyOnce sync.Once
	dummyHash []byte
}

// Option configures a Service.
type Option func(*Service)

// WithUserModel replaces the default user model. It must index email and api_token.
func WithUserModel(m *store.Model) Option {
	return func(a *Service) { a.users = m }
}

// WithBcryptCost sets the cost used when hashing passwords.
// Default: bcrypt.DefaultCost
func WithBcryptCost(cost int) Option {
	return func(a *Service) { a.cost = cost }
}

// NewService creates a Service over s.
func NewService(s *store.Store, opts ...Option) *Service {
	a := &Service{
		store:  s,
		users:  UserModel(),
		cost:   bcrypt.DefaultCost,
		logger: s.Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Users returns the user model.
func (a *Service) Users() *store.Model {
	return a.users
}

// Register creates a user. The password is stored as a bcrypt hash and a
// fresh api_token is minted.
func (a *Service) Register(ctx context.Context, attrs store.Attrs) (*store.Record, error) {
	attrs = maps.Clone(attrs)
	if attrs == nil {
		attrs = store.Attrs{}
	}

	if pw, ok := attrs[FieldPassword].(string); ok && pw != "" {
		hash, err := a.HashPassword(pw)
		if err != nil {
			return nil, err
		}
		attrs[FieldPassword] = hash
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	attrs[FieldAPIToken] = token

	return a.store.Create(ctx, a.users, attrs)
}

// HashPassword returns the bcrypt hash of password.
func (a *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// IsEmailTaken reports whether an email index entry exists.
func (a *Service) IsEmailTaken(ctx context.Context, email string) (bool, error) {
	return a.store.KV().Exists(ctx, a.users.IndexKey(FieldEmail, email))
}

// Login verifies email and password, rotates the user's bearer token and
// records the login time.
func (a *Service) Login(ctx context.Context, email, password string) (*store.Record, error) {
	user, err := a.store.LookupBy(ctx, a.users, FieldEmail, email)
	if errors.Is(err, store.ErrNotFound) {
		a.compareDummy(password)
		return nil, ErrAuthentication
	}
	if err != nil {
		return nil, err
	}
	if !a.checkPassword(user, password) {
		return nil, ErrAuthentication
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	user.Set(FieldAPIToken, token)
	user.Set(FieldLastLogin, a.store.Config().Now())

	// Save releases the previous token's index entry and writes the new one.
	if err := a.store.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("rotate token: %w", err)
	}

	a.logger.Debug("user logged in", "user", user.ID())
	return user, nil
}

// Logout clears the session identified by token. It returns false when the
// token doesn't belong to any user.
func (a *Service) Logout(ctx context.Context, token string) (bool, error) {
	user, err := a.ResolveByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	user.Unset(FieldAPIToken)
	if err := a.store.Save(ctx, user); err != nil {
		return false, fmt.Errorf("clear token: %w", err)
	}
	return true, nil
}

// ResolveByToken returns the user owning token without modifying anything.
func (a *Service) ResolveByToken(ctx context.Context, token string) (*store.Record, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", store.ErrNotFound)
	}
	return a.store.LookupBy(ctx, a.users, FieldAPIToken, token)
}

func (a *Service) checkPassword(user *store.Record, password string) bool {
	hash, ok := user.Value(FieldPassword)
	if !ok {
		a.compareDummy(password)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// compareDummy runs a bcrypt comparison at the service's cost and discards the result.
func (a *Service) compareDummy(password string) {
	a.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("kvmodel"), a.cost)
		if err != nil {
			a.logger.Warn("failed to hash dummy password", "error", err)
			return
		}
		a.dummyHash = hash
	})
	if a.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
	}
}

// NewToken returns a random alphanumeric token of TokenLength characters.
func NewToken() (string, error) {
	buf := make([]byte, TokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	// 248 is the largest multiple of 62 below 256; higher bytes are redrawn.
	out := make([]byte, 0, TokenLength)
	for len(out) < TokenLength {
		for _, b := range buf {
			if b < 248 && len(out) < TokenLength {
				out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			}
		}
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("mint token: %w", err)
		}
	}
	return string(out), nil
}
