package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/arkiveio/arkive/internal/backend"
	"github.com/arkiveio/arkive/internal/crypto"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
)

const configVersion = 1

// configHandle is the single, fixed-name file a repository's config lives
// under. Unlike packs and snapshots it is not content-addressed: there is
// exactly one per repository.
var configHandle = model.Handle{Type: model.ConfigFile, Name: "config"}

// Config identifies a repository, independent of any particular key. Its ID
// is a random UUID rather than a content hash since the config has no
// content to hash.
type Config struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
}

// ErrAlreadyInitialized is returned by Create when the backend already has
// a config file.
var ErrAlreadyInitialized = errors.New("repository already initialized")

// ErrNotInitialized is returned by LoadConfig when the backend has no
// config file yet.
var ErrNotInitialized = errors.New("repository not initialized")

// CreateConfig builds a fresh Config with a new random ID.
func CreateConfig() Config {
	return Config{Version: configVersion, ID: uuid.NewString()}
}

// Create initializes be's storage location and writes a fresh, key-encrypted
// Config to it. It fails with ErrAlreadyInitialized if be already has one,
// so callers never silently overwrite an existing repository.
func Create(ctx context.Context, be backend.Backend, key *crypto.Key) (Config, error) {
	if err := be.Create(ctx); err != nil {
		return Config{}, errors.Wrap(err, "create backend")
	}

	if _, err := be.Stat(ctx, configHandle); err == nil {
		return Config{}, ErrAlreadyInitialized
	}

	cfg := CreateConfig()
	if err := saveConfig(ctx, be, key, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func saveConfig(ctx context.Context, be backend.Backend, key *crypto.Key, cfg Config) error {
	plaintext, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	ciphertext, err := key.Encrypt(nil, plaintext)
	if err != nil {
		return errors.Wrap(err, "encrypt config")
	}

	if err := be.WriteFile(ctx, configHandle, ciphertext); err != nil {
		return errors.Wrap(err, "write config")
	}
	return nil
}

// LoadConfig reads and decrypts be's Config. It returns ErrNotInitialized if
// be has no config file, so callers (chiefly cmd/arkive) can tell a missing
// repository apart from any other read failure.
func LoadConfig(ctx context.Context, be backend.Backend, key *crypto.Key) (Config, error) {
	ciphertext, err := be.ReadFull(ctx, configHandle)
	if err != nil {
		if _, statErr := be.Stat(ctx, configHandle); statErr != nil {
			return Config{}, ErrNotInitialized
		}
		return Config{}, errors.Wrap(err, "read config")
	}

	plaintext := make([]byte, len(ciphertext))
	n, err := key.Decrypt(plaintext, ciphertext)
	if err != nil {
		return Config{}, errors.Wrap(err, "decrypt config")
	}

	var cfg Config
	if err := json.Unmarshal(plaintext[:n], &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}
