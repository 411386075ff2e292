package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fulldump/box"

	"github.com/jacentio/kvmodel/auth"
	"github.com/jacentio/kvmodel/store"
)

// credentialFields are removed from user records other than the caller's.
var credentialFields = []string{auth.FieldAPIToken, auth.FieldRememberToken}

type relatedPage struct {
	Data        []map[string]any `json:"data"`
	Total       int64            `json:"total"`
	PerPage     int              `json:"per_page"`
	CurrentPage int              `json:"current_page"`
	LastPage    int              `json:"last_page"`
}

func getRecord(ctx context.Context) (map[string]any, error) {

	s := getStore(ctx)
	m, err := s.Registry().Model(box.GetUrlParameter(ctx, "model"))
	if err != nil {
		return nil, err
	}

	rec, err := s.Get(ctx, m, box.GetUrlParameter(ctx, "id"))
	if err != nil {
		return nil, err
	}
	return present(ctx, rec), nil
}

func listRelated(ctx context.Context) (*relatedPage, error) {

	s := getStore(ctx)
	owners, err := s.Registry().Model(box.GetUrlParameter(ctx, "model"))
	if err != nil {
		return nil, err
	}
	related, err := s.Registry().Model(box.GetUrlParameter(ctx, "related"))
	if err != nil {
		return nil, err
	}

	query := box.GetRequest(ctx).URL.Query()
	perPage, err := intParam(query.Get("per_page"), DefaultPerPage)
	if err != nil {
		return nil, err
	}
	page, err := intParam(query.Get("page"), 1)
	if err != nil {
		return nil, err
	}

	owner, err := s.Get(ctx, owners, box.GetUrlParameter(ctx, "id"))
	if err != nil {
		return nil, err
	}

	p, err := s.Relation(owner, related).Paginate(ctx, perPage, page)
	if err != nil {
		return nil, err
	}

	out := &relatedPage{
		Data:        make([]map[string]any, 0, len(p.Items)),
		Total:       p.Total,
		PerPage:     p.PerPage,
		CurrentPage: p.CurrentPage,
		LastPage:    p.LastPage,
	}
	for _, rec := range p.Items {
		out.Data = append(out.Data, present(ctx, rec))
	}
	return out, nil
}

// present returns the visible fields of rec. Bearer tokens of users other
// than the caller are never returned.
func present(ctx context.Context, rec *store.Record) map[string]any {
	out := rec.Map()
	if rec.Model().Prefix() != getAuth(ctx).Users().Prefix() {
		return out
	}
	if caller := CurrentUser(ctx); caller != nil && caller.ID() == rec.ID() {
		return out
	}
	for _, f := range credentialFields {
		delete(out, f)
	}
	return out
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: invalid number %q", ErrBadRequest, raw)
	}
	return n, nil
}
