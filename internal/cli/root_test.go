package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-json-experiment/json"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/kvmodel/kv/redisstore"
	"github.com/jacentio/kvmodel/store"
)

const testConfig = `
connection: default
connections:
  default:
    driver: redis
    addr: %s
  archive:
    driver: dynamodb
    table: archive
    region: eu-west-1
models:
  - name: User
    preset: user
  - name: Post
    fillable: [title, slug, user_id]
    indexed: [slug]
`

// setup starts a miniredis server, writes a config pointing at it and
// returns a store over the same server for seeding.
func setup(t *testing.T) (string, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)

	path := filepath.Join(t.TempDir(), "kvmodel.yaml")
	content := bytes.ReplaceAll([]byte(testConfig), []byte("%s"), []byte(mr.Addr()))
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfig(path, false)
	require.NoError(t, err)
	registry, err := cfg.Registry()
	require.NoError(t, err)

	client := redisstore.Open(redisstore.Config{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return path, store.NewWithRegistry(client, store.DefaultConfig(), registry)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "kvmodel", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"keys", "get", "lookup", "refresh-index", "init-table", "serve"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	addrFlag := serveCmd.Flags().Lookup("addr")
	require.NotNil(t, addrFlag)
	assert.Equal(t, ":8080", addrFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "keys", "user")
	assert.Error(t, err)
}

func TestKeysCommand(t *testing.T) {
	ctx := context.Background()
	path, s := setup(t)
	posts, err := s.Registry().Model("Post")
	require.NoError(t, err)

	for _, slug := range []string{"a", "b", "c"} {
		_, err := s.Create(ctx, posts, store.Attrs{"title": slug, "slug": slug})
		require.NoError(t, err)
	}

	g := goldie.New(t)

	out, err := execute(t, "-c", path, "keys", "post")
	require.NoError(t, err)
	g.Assert(t, "keys", []byte(out))

	out, err = execute(t, "-c", path, "keys", "post", "--ids")
	require.NoError(t, err)
	g.Assert(t, "keys_ids", []byte(out))
}

func TestGetCommand(t *testing.T) {
	ctx := context.Background()
	path, s := setup(t)
	users, err := s.Registry().Model("User")
	require.NoError(t, err)
	_, err = s.Create(ctx, users, store.Attrs{"name": "Ann", "email": "a@x.com", "password": "hash"})
	require.NoError(t, err)

	out, err := execute(t, "-c", path, "--format", "json", "get", "User", "1")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "Ann", resp.Data["name"])
	assert.NotContains(t, resp.Data, "password")

	out, err = execute(t, "-c", path, "get", "User", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "email=a@x.com\n")
	assert.NotContains(t, out, "password")
}

func TestGetCommand_NotFound(t *testing.T) {
	path, _ := setup(t)

	out, err := execute(t, "-c", path, "--format", "json", "get", "user", "9")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, store.ErrNotFound)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestGetCommand_UnknownModel(t *testing.T) {
	path, _ := setup(t)

	_, err := execute(t, "-c", path, "get", "comment", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, store.ErrUnknownModel)
}

func TestLookupCommand(t *testing.T) {
	ctx := context.Background()
	path, s := setup(t)
	posts, err := s.Registry().Model("Post")
	require.NoError(t, err)
	_, err = s.Create(ctx, posts, store.Attrs{"title": "Hello", "slug": "hello"})
	require.NoError(t, err)

	out, err := execute(t, "-c", path, "lookup", "post", "slug", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "title=Hello\n")

	_, err = execute(t, "-c", path, "lookup", "post", "slug", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = execute(t, "-c", path, "lookup", "post", "title", "Hello")
	assert.ErrorIs(t, err, store.ErrNotIndexed)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRefreshIndexCommand(t *testing.T) {
	ctx := context.Background()
	path, s := setup(t)
	posts, err := s.Registry().Model("Post")
	require.NoError(t, err)
	_, err = s.Create(ctx, posts, store.Attrs{"title": "Hello", "slug": "hello"})
	require.NoError(t, err)

	_, err = s.KV().Del(ctx, "post:slug:hello")
	require.NoError(t, err)

	out, err := execute(t, "-c", path, "refresh-index", "post")
	require.NoError(t, err)
	assert.Equal(t, "Post: 1 index entries written\n", out)

	id, err := s.Lookup(ctx, posts, "slug", "hello")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	out, err = execute(t, "-c", path, "--format", "json", "refresh-index", "post")
	require.NoError(t, err)
	var resp struct {
		Data RefreshResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 0, resp.Data.Written)
}

func TestInitTableCommand_WrongDriver(t *testing.T) {
	path, _ := setup(t)

	_, err := execute(t, "-c", path, "init-table")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "-c", filepath.Join(t.TempDir(), "absent.yaml"), "keys", "user")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
