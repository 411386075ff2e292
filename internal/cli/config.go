package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/kvmodel/auth"
	"github.com/jacentio/kvmodel/kv"
	"github.com/jacentio/kvmodel/kv/dynamo"
	"github.com/jacentio/kvmodel/kv/memory"
	"github.com/jacentio/kvmodel/kv/redisstore"
	"github.com/jacentio/kvmodel/store"
)

// Supported connection drivers.
const (
	DriverRedis    = "redis"
	DriverDynamoDB = "dynamodb"
	DriverMemory   = "memory"
)

// FileConfig is the YAML configuration file.
//
//	connection: default
//	connections:
//	  default:
//	    driver: redis
//	    addr: localhost:6379
//	models:
//	  - name: User
//	    preset: user
//	  - name: Post
//	    fillable: [title, body, user_id]
//	    indexed: [slug]
type FileConfig struct {
	Connection  string                `yaml:"connection"`
	Guard       string                `yaml:"guard"`
	Provider    string                `yaml:"provider"`
	Connections map[string]Connection `yaml:"connections"`
	Models      []ModelConfig         `yaml:"models"`
}

// Connection selects and configures a backend.
type Connection struct {
	// Driver is one of redis, dynamodb or memory.
	Driver string `yaml:"driver"`

	Redis  redisstore.Config `yaml:",inline"`
	Dynamo dynamo.Config     `yaml:",inline"`
}

// ModelConfig declares one model.
type ModelConfig struct {
	Name string `yaml:"name"`

	// Preset "user" starts from the authentication user model.
	Preset string `yaml:"preset"`

	PrimaryKey     string            `yaml:"primary_key"`
	Fillable       []string          `yaml:"fillable"`
	Hidden         []string          `yaml:"hidden"`
	Guarded        []string          `yaml:"guarded"`
	Indexed        []string          `yaml:"indexed"`
	IndexTemplates map[string]string `yaml:"index_templates"`
	Timestamps     bool              `yaml:"timestamps"`
	Unguarded      bool              `yaml:"unguarded"`
}

// DefaultFileConfig returns a configuration with one local Redis connection.
func DefaultFileConfig() *FileConfig {
	cfg := &FileConfig{}
	cfg.validate()
	return cfg
}

func (c *FileConfig) validate() {
	defaults := store.DefaultConfig()
	if c.Connection == "" {
		c.Connection = defaults.Connection
	}
	if c.Guard == "" {
		c.Guard = defaults.Guard
	}
	if c.Provider == "" {
		c.Provider = defaults.Provider
	}
	if c.Connections == nil {
		c.Connections = map[string]Connection{}
	}
	if _, ok := c.Connections[c.Connection]; !ok {
		c.Connections[c.Connection] = Connection{Driver: DriverRedis}
	}
}

// LoadConfig reads path. A missing file yields the defaults when optional is true.
func LoadConfig(path string, optional bool) (*FileConfig, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) && optional {
		return DefaultFileConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := &FileConfig{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.validate()
	return cfg, nil
}

// StoreConfig returns the store configuration named by the file.
func (c *FileConfig) StoreConfig() store.Config {
	return store.Config{
		Connection: c.Connection,
		Guard:      c.Guard,
		Provider:   c.Provider,
	}
}

// Registry builds the declared models.
func (c *FileConfig) Registry() (*store.Registry, error) {
	registry := store.NewRegistry()
	for _, mc := range c.Models {
		m, err := mc.Build()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(m); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Build creates the model.
func (mc ModelConfig) Build() (*store.Model, error) {
	var opts []store.ModelOption
	if mc.PrimaryKey != "" {
		opts = append(opts, store.WithPrimaryKey(mc.PrimaryKey))
	}
	if len(mc.Fillable) > 0 {
		opts = append(opts, store.WithFillable(mc.Fillable...))
	}
	if len(mc.Hidden) > 0 {
		opts = append(opts, store.WithHidden(mc.Hidden...))
	}
	if len(mc.Guarded) > 0 {
		opts = append(opts, store.WithGuarded(mc.Guarded...))
	}
	if len(mc.Indexed) > 0 {
		opts = append(opts, store.WithIndexed(mc.Indexed...))
	}
	for field, template := range mc.IndexTemplates {
		opts = append(opts, store.WithIndexTemplate(field, template))
	}
	if mc.Timestamps {
		opts = append(opts, store.WithTimestamps())
	}
	if mc.Unguarded {
		opts = append(opts, store.Unguarded())
	}

	switch mc.Preset {
	case "":
		return store.NewModel(mc.Name, opts...)
	case "user":
		if mc.Name != "" && mc.Name != "User" {
			return nil, fmt.Errorf("model %s: preset user requires name User", mc.Name)
		}
		return auth.UserModel(opts...), nil
	default:
		return nil, fmt.Errorf("model %s: unknown preset %q", mc.Name, mc.Preset)
	}
}

// Open connects to the named connection, or the default when name is empty.
func (c *FileConfig) Open(ctx context.Context, name string) (kv.Store, error) {
	if name == "" {
		name = c.Connection
	}
	conn, ok := c.Connections[name]
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", name)
	}

	switch conn.Driver {
	case DriverRedis, "":
		return redisstore.Open(conn.Redis), nil
	case DriverDynamoDB:
		s, _, err := dynamo.Open(ctx, conn.Dynamo)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("connection %s: unknown driver %q", name, conn.Driver)
	}
}
