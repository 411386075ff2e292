package store_test

import (
	"errors"
	"testing"

	"github.com/jacentio/kvmodel/kv/memory"
	"github.com/jacentio/kvmodel/store"
)

func TestNewRegistry(t *testing.T) {
	r := store.NewRegistry()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if len(r.Models()) != 0 {
		t.Errorf("expected empty registry, got %d models", len(r.Models()))
	}
}

func TestRegistry_Register(t *testing.T) {
	r := store.NewRegistry()

	if err := r.Register(userModel); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(postModel); err != nil {
		t.Fatal(err)
	}

	models := r.Models()
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].Name() != "User" {
		t.Errorf("expected first model 'User', got %q", models[0].Name())
	}
}

func TestRegistry_DuplicatePrefix(t *testing.T) {
	r := store.NewRegistry()
	r.MustRegister(userModel)

	other := store.MustModel("user")
	if err := r.Register(other); !errors.Is(err, store.ErrDuplicatePrefix) {
		t.Errorf("expected ErrDuplicatePrefix, got %v", err)
	}
}

func TestRegistry_Model(t *testing.T) {
	r := store.NewRegistry()
	r.MustRegister(userModel, postModel)

	tests := []struct {
		name     string
		lookup   string
		expected string
	}{
		{"type name", "BlogPost", "BlogPost"},
		{"snake case", "blog_post", "BlogPost"},
		{"lower", "user", "User"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := r.Model(tt.lookup)
			if err != nil {
				t.Fatal(err)
			}
			if m.Name() != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, m.Name())
			}
		})
	}

	if _, err := r.Model("Comment"); !errors.Is(err, store.ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
}

func TestRegistry_ModelForKey(t *testing.T) {
	r := store.NewRegistry()
	r.MustRegister(userModel, postModel)

	tests := []struct {
		key    string
		model  string
		id     string
		wantOK bool
	}{
		{"user:12", "User", "12", true},
		{"blog_post:3", "BlogPost", "3", true},
		{"user:email:a@x.com", "", "", false},
		{"user:1:rel:blog_post", "", "", false},
		{"comment:1", "", "", false},
		{"total_users", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			m, id, ok := r.ModelForKey(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if m.Name() != tt.model || id != tt.id {
				t.Errorf("expected (%s, %s), got (%s, %s)", tt.model, tt.id, m.Name(), id)
			}
		})
	}
}

func TestNewWithRegistry(t *testing.T) {
	r := store.NewRegistry()
	s := store.NewWithRegistry(memory.New(), store.DefaultConfig(), r)
	if s.Registry() != r {
		t.Error("expected registry to be set")
	}

	s.SetRegistry(nil)
	if s.Registry() != nil {
		t.Error("expected registry to be cleared")
	}
}
