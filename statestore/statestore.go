package statestore

import (
	"context"
	"fmt"

	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils"
)

const (
	FileStore     = "file"
	S3Store       = "s3"
	PostgresStore = "postgres"
)

// Store persists the sync state between runs; a Save replaces the stored state as a whole
type Store interface {
	Type() string
	// Load returns an empty state when nothing was stored yet
	Load(ctx context.Context) (*types.State, error)
	Save(ctx context.Context, state *types.State) error
	Close() error
}

type Config struct {
	Type     string          `json:"type,omitempty" validate:"omitempty,oneof=file s3 postgres"`
	Path     string          `json:"path,omitempty"`
	S3       *S3Config       `json:"s3,omitempty" validate:"required_if=Type s3"`
	Postgres *PostgresConfig `json:"postgres,omitempty" validate:"required_if=Type postgres"`
}

type S3Config struct {
	Bucket    string `json:"bucket" validate:"required"`
	Key       string `json:"key,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty" validate:"omitempty,url"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	PathStyle bool   `json:"path_style,omitempty"`
}

type PostgresConfig struct {
	DSN         string `json:"dsn" validate:"required"`
	Table       string `json:"table,omitempty"`
	ConnectorID string `json:"connector_id,omitempty"`
}

func (c *Config) Validate() error {
	return utils.Validate(c)
}

func (c *Config) storeType() string {
	if c == nil || c.Type == "" {
		return FileStore
	}
	return c.Type
}

// New opens the configured store; without a config the state file at defaultPath is used
func New(ctx context.Context, cfg *Config, defaultPath string) (Store, error) {
	switch cfg.storeType() {
	case FileStore:
		path := defaultPath
		if cfg != nil && cfg.Path != "" {
			path = cfg.Path
		}
		if path == "" {
			return nil, fmt.Errorf("file state store requires a path")
		}
		return NewFile(path), nil
	case S3Store:
		return NewS3(cfg.S3)
	case PostgresStore:
		return NewPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported state store type [%s]", cfg.Type)
	}
}
