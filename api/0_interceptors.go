package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fulldump/box"

	"github.com/jacentio/kvmodel/auth"
	"github.com/jacentio/kvmodel/store"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrEmailTaken   = errors.New("email already registered")
	ErrBadRequest   = errors.New("bad request")
)

// AccessLog logs one line per request.
func AccessLog(l *slog.Logger) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			r := box.GetRequest(ctx)
			now := time.Now()
			defer func() {
				l.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"duration", time.Since(now),
				)
			}()

			next(ctx)
		}
	}
}

// RequireUser resolves the bearer token of the request and rejects
// requests without a valid one.
func RequireUser(next box.H) box.H {
	return func(ctx context.Context) {
		scope := getAuth(ctx).ScopeFromRequest(box.GetRequest(ctx))
		user, err := scope.User(ctx)
		if errors.Is(err, store.ErrNotFound) {
			box.SetError(ctx, ErrUnauthorized)
			return
		}
		if err != nil {
			box.SetError(ctx, err)
			return
		}
		next(context.WithValue(ctx, userKey, user))
	}
}

type prettyError struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}

// PrettyErrorInterceptor writes the error left by a handler as JSON with a
// matching status code. Unexpected errors are logged and reported without
// their text.
func PrettyErrorInterceptor(l *slog.Logger) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {

			next(ctx)

			err := box.GetError(ctx)
			if err == nil {
				return
			}

			status, description := classify(err)
			message := err.Error()
			if status == http.StatusInternalServerError {
				r := box.GetRequest(ctx)
				l.Error("request failed",
					"method", r.Method,
					"path", r.URL.Path,
					"error", err,
				)
				message = http.StatusText(status)
			}

			w := box.GetResponse(ctx)
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]any{
				"error": prettyError{
					Message:     message,
					Description: description,
				},
			})
		}
	}
}

func classify(err error) (int, string) {
	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, auth.ErrAuthentication):
		return http.StatusUnauthorized, "user is not authenticated"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownModel):
		return http.StatusNotFound, "resource not found"
	case errors.Is(err, ErrEmailTaken):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, store.ErrMassAssignment):
		return http.StatusUnprocessableEntity, "field is not fillable"
	case errors.Is(err, ErrBadRequest), errors.Is(err, store.ErrNoLocalKey), errors.As(err, &syntaxErr):
		return http.StatusBadRequest, "malformed request"
	default:
		return http.StatusInternalServerError, "unexpected error"
	}
}
