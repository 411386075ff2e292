package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fulldump/box"

	"github.com/jacentio/kvmodel/auth"
	"github.com/jacentio/kvmodel/store"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func register(ctx context.Context, w http.ResponseWriter, input *registerRequest) (*store.Record, error) {

	if input.Email == "" || input.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrBadRequest)
	}

	a := getAuth(ctx)
	taken, err := a.IsEmailTaken(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	user, err := a.Register(ctx, store.Attrs{
		auth.FieldName:     input.Name,
		auth.FieldEmail:    input.Email,
		auth.FieldPassword: input.Password,
	})
	if err != nil {
		return nil, err
	}

	w.WriteHeader(http.StatusCreated)
	return user, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func login(ctx context.Context, input *loginRequest) (*store.Record, error) {
	return getAuth(ctx).Login(ctx, input.Email, input.Password)
}

type logoutResponse struct {
	LoggedOut bool `json:"logged_out"`
}

func logout(ctx context.Context) (*logoutResponse, error) {
	token := auth.TokenFromRequest(box.GetRequest(ctx))
	ok, err := getAuth(ctx).Logout(ctx, token)
	if err != nil {
		return nil, err
	}
	return &logoutResponse{LoggedOut: ok}, nil
}

func me(ctx context.Context) *store.Record {
	return CurrentUser(ctx)
}
