package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/kvmodel/store"
)

var commentModel = store.MustModel("Comment",
	store.WithFillable("body"),
)

func setupRelation(t *testing.T) (context.Context, *store.Store, *store.Record) {
	t.Helper()
	ctx := context.Background()
	s, _ := newStore(t)
	owner, err := s.Create(ctx, userModel, store.Attrs{"name": "owner"})
	require.NoError(t, err)
	return ctx, s, owner
}

func TestRelation_Keys(t *testing.T) {
	_, s, owner := setupRelation(t)
	rel := s.Relation(owner, commentModel)

	assert.Equal(t, "user_id", rel.ForeignKey())
	assert.Equal(t, "id", rel.LocalKey())

	key, err := rel.Key()
	require.NoError(t, err)
	assert.Equal(t, "user:1:rel:comment", key)

	custom := s.Relation(owner, commentModel, store.WithForeignKey("author_id"), store.WithLocalKey("name"))
	assert.Equal(t, "author_id", custom.ForeignKey())
	key, err = custom.Key()
	require.NoError(t, err)
	assert.Equal(t, "user:owner:rel:comment", key)

	unnamed := s.Relation(owner, commentModel, store.WithLocalKey("email"))
	_, err = unnamed.Key()
	assert.ErrorIs(t, err, store.ErrNoLocalKey)
}

func TestRelation_KeyIsStable(t *testing.T) {
	ctx, s, owner := setupRelation(t)
	rel := s.Relation(owner, commentModel)
	before, err := rel.Key()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		c, err := s.Create(ctx, commentModel, store.Attrs{"body": "x"})
		require.NoError(t, err)
		require.NoError(t, rel.Sync(ctx, c))
		require.NoError(t, rel.Detach(ctx, c.ID()))
	}
	require.NoError(t, rel.Detach(ctx))

	after, err := rel.Key()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRelation_ItemsOrdering(t *testing.T) {
	ctx, s, owner := setupRelation(t)
	rel := s.Relation(owner, commentModel)

	for i := 0; i < 12; i++ {
		c, err := s.Create(ctx, commentModel, store.Attrs{"body": "x"})
		require.NoError(t, err)
		require.NoError(t, rel.Sync(ctx, c))
	}

	tests := []struct {
		name string
		opts store.ItemsOptions
		want []string
	}{
		{"newest first", store.ItemsOptions{Limit: 3}, []string{"12", "11", "10"}},
		{"ascending", store.ItemsOptions{Limit: 3, Ascending: true}, []string{"1", "2", "3"}},
		{"offset", store.ItemsOptions{Offset: 10}, []string{"2", "1"}},
		{"past end", store.ItemsOptions{Offset: 20, Limit: 5}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rel.Items(ctx, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelation_SyncTwoRecords(t *testing.T) {
	ctx, s, owner := setupRelation(t)
	rel := s.Relation(owner, commentModel)

	a, _ := s.Create(ctx, commentModel, store.Attrs{"body": "a"})
	b, _ := s.Create(ctx, commentModel, store.Attrs{"body": "b"})
	require.NoError(t, rel.Sync(ctx, a))
	require.NoError(t, rel.Sync(ctx, b))

	got, err := rel.Items(ctx, store.ItemsOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID(), a.ID()}, got)
}

func TestRelation_SyncInvalidScore(t *testing.T) {
	ctx, s, owner := setupRelation(t)
	rel := s.Relation(owner, commentModel, store.WithLocalKey("name"))

	c, _ := s.Create(ctx, commentModel, store.Attrs{"body": "x"})
	c.Set("name", "not a number")
	assert.ErrorIs(t, rel.Sync(ctx, c), store.ErrInvalidScore)
}

func TestRelation_Detach(t *testing.T) {
	ctx, s, owner := setupRelation(t)
	rel := s.Relation(owner, commentModel)

	for i := 0; i < 3; i++ {
		c, _ := s.Create(ctx, commentModel, store.Attrs{"body": "x"})
		require.NoError(t, rel.Sync(ctx, c))
	}

	require.NoError(t, rel.Detach(ctx, "2"))
	got, err := rel.Items(ctx, store.ItemsOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1"}, got)

	require.NoError(t, rel.Detach(ctx))
	got, err = rel.Items(ctx, store.ItemsOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRelation_GetSkipsDangling(t *testing.T) {
	ctx, s, owner := setupRelation(t)
	rel := s.Relation(owner, commentModel)

	var created []*store.Record
	for i := 0; i < 4; i++ {
		c, err := s.Create(ctx, commentModel, store.Attrs{"body": "x"})
		require.NoError(t, err)
		require.NoError(t, rel.Sync(ctx, c))
		created = append(created, c)
	}
	ok, err := s.Delete(ctx, created[2])
	require.NoError(t, err)
	require.True(t, ok)

	page, err := rel.Get(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "4", page[0].ID())

	page, err = rel.Get(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "2", page[0].ID())
	assert.Equal(t, "1", page[1].ID())

	all, err := rel.Get(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRelation_Paginate(t *testing.T) {
	ctx, s, owner := setupRelation(t)
	rel := s.Relation(owner, commentModel)

	for i := 0; i < 5; i++ {
		c, _ := s.Create(ctx, commentModel, store.Attrs{"body": "x"})
		require.NoError(t, rel.Sync(ctx, c))
	}

	page, err := rel.Paginate(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 2, page.PerPage)
	assert.Equal(t, 3, page.CurrentPage)
	assert.Equal(t, 3, page.LastPage)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "1", page.Items[0].ID())

	empty := s.Relation(owner, postModel)
	page, err = empty.Paginate(ctx, 10, 1)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Equal(t, 1, page.LastPage)
	assert.Empty(t, page.Items)
}

func TestRelation_CreateThrough(t *testing.T) {
	ctx, s, owner := setupRelation(t)
	rel := s.Relation(owner, commentModel)

	before, err := s.KV().ZCard(ctx, "user:1:rel:comment")
	require.NoError(t, err)

	c, err := rel.CreateThrough(ctx, store.Attrs{"body": "hello", "user_id": "999"})
	require.NoError(t, err)
	assert.Equal(t, owner.ID(), c.String("user_id"))

	stored, err := s.Get(ctx, commentModel, c.ID())
	require.NoError(t, err)
	assert.Equal(t, owner.ID(), stored.String("user_id"))
	assert.Equal(t, "hello", stored.String("body"))

	after, err := s.KV().ZCard(ctx, "user:1:rel:comment")
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
}

func TestRelation_DeletedWithOwner(t *testing.T) {
	ctx, s, owner := setupRelation(t)
	rel := s.Relation(owner, commentModel)

	_, err := rel.CreateThrough(ctx, store.Attrs{"body": "x"})
	require.NoError(t, err)

	ok, err := s.Delete(ctx, owner)
	require.NoError(t, err)
	require.True(t, ok)

	exists, err := s.KV().Exists(ctx, "user:1:rel:comment")
	require.NoError(t, err)
	assert.False(t, exists)

	// Inbound references are not cascaded: the comment survives.
	_, err = s.Get(ctx, commentModel, "1")
	assert.NoError(t, err)
}
