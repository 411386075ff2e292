package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jacentio/kvmodel/store"
)

// RetrieveByID loads a user by primary key.
func (a *Service) RetrieveByID(ctx context.Context, id string) (*store.Record, error) {
	return a.store.Get(ctx, a.users, id)
}

// RetrieveByToken loads the user owning a bearer token.
func (a *Service) RetrieveByToken(ctx context.Context, token string) (*store.Record, error) {
	return a.ResolveByToken(ctx, token)
}

// RetrieveByCredentials loads the user named by the "email" credential.
// The password is not checked; see ValidateCredentials.
func (a *Service) RetrieveByCredentials(ctx context.Context, credentials map[string]string) (*store.Record, error) {
	email, ok := credentials[FieldEmail]
	if !ok || email == "" {
		return nil, fmt.Errorf("%w: no email credential", store.ErrNotFound)
	}
	return a.store.LookupBy(ctx, a.users, FieldEmail, email)
}

// ValidateCredentials reports whether the "password" credential matches user.
func (a *Service) ValidateCredentials(user *store.Record, credentials map[string]string) bool {
	password, ok := credentials[FieldPassword]
	if !ok {
		return false
	}
	return a.checkPassword(user, password)
}

// UpdateRememberToken stores token as the user's remember token.
func (a *Service) UpdateRememberToken(ctx context.Context, user *store.Record, token string) error {
	user.Set(FieldRememberToken, token)
	return a.store.Save(ctx, user)
}

// TokenFromRequest returns the bearer token of r: the api_token query
// parameter, else the Authorization Bearer header.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get(FieldAPIToken); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// Scope memoizes the user of one request. It is safe for concurrent use.
type Scope struct {
	service *Service
	token   string

	once sync.Once
	user *store.Record
	err  error
}

// Scope returns a per-request resolver for token.
func (a *Service) Scope(token string) *Scope {
	return &Scope{service: a, token: token}
}

// ScopeFromRequest is Scope with the token taken from r.
func (a *Service) ScopeFromRequest(r *http.Request) *Scope {
	return a.Scope(TokenFromRequest(r))
}

// User resolves the token on first call and returns the same result afterwards.
func (s *Scope) User(ctx context.Context) (*store.Record, error) {
	s.once.Do(func() {
		s.user, s.err = s.service.ResolveByToken(ctx, s.token)
	})
	return s.user, s.err
}

// Check reports whether the token resolves to a user.
func (s *Scope) Check(ctx context.Context) (bool, error) {
	_, err := s.User(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
