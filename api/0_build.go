// Package api exposes the store and the token guard over HTTP.
package api

import (
	"context"
	"log/slog"

	"github.com/fulldump/box"

	"github.com/jacentio/kvmodel/auth"
	"github.com/jacentio/kvmodel/store"
)

// DefaultPerPage is used when a relation listing has no per_page parameter.
const DefaultPerPage = 15

// Build mounts every endpoint under /v1.
func Build(s *store.Store, a *auth.Service, logger *slog.Logger) *box.B {
	if logger == nil {
		logger = slog.Default()
	}

	b := box.NewBox()
	b.WithInterceptors(
		AccessLog(logger),
		box.SetResponseHeader("Content-Type", "application/json"),
		PrettyErrorInterceptor(logger),
		injectServices(s, a),
	)

	v1 := b.Resource("/v1")

	v1.Resource("/register").
		WithActions(box.Post(register))

	v1.Resource("/login").
		WithActions(box.Post(login))

	v1.Resource("/logout").
		WithActions(box.Post(logout)).
		WithInterceptors(RequireUser)

	v1.Resource("/me").
		WithActions(box.Get(me)).
		WithInterceptors(RequireUser)

	models := v1.Resource("/models").
		WithInterceptors(RequireUser)

	models.Resource("/{model}/{id}").
		WithActions(box.Get(getRecord))

	models.Resource("/{model}/{id}/{related}").
		WithActions(box.Get(listRelated))

	return b
}

type contextKey int

const (
	storeKey contextKey = iota
	authKey
	userKey
)

func injectServices(s *store.Store, a *auth.Service) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			ctx = context.WithValue(ctx, storeKey, s)
			ctx = context.WithValue(ctx, authKey, a)
			next(ctx)
		}
	}
}

func getStore(ctx context.Context) *store.Store {
	return ctx.Value(storeKey).(*store.Store)
}

func getAuth(ctx context.Context) *auth.Service {
	return ctx.Value(authKey).(*auth.Service)
}

// CurrentUser returns the user resolved by RequireUser, or nil.
func CurrentUser(ctx context.Context) *store.Record {
	user, _ := ctx.Value(userKey).(*store.Record)
	return user
}
