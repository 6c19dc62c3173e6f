package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/pflag"

	"github.com/arkiveio/arkive/internal/backend"
	"github.com/arkiveio/arkive/internal/backend/local"
	"github.com/arkiveio/arkive/internal/backend/mem"
	"github.com/arkiveio/arkive/internal/backend/retry"
	"github.com/arkiveio/arkive/internal/crypto"
	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/repository"
)

// repoOptions is the set of flags every subcommand that opens a repository
// shares. repo is either a local directory path or the literal "mem://",
// which opens a throwaway in-memory backend (used for demos and tests, not
// for anything meant to survive the process).
type repoOptions struct {
	Repo    string
	KeyFile string
}

func addRepoFlags(f *pflag.FlagSet, o *repoOptions) {
	f.StringVar(&o.Repo, "repo", "", "repository directory, or mem:// for an in-memory repository")
	f.StringVar(&o.KeyFile, "key-file", "", "path to the repository's key file")
}

// repoHandle bundles the two faces a repository presents: blob I/O plus the
// snapshot store, composed exactly like the teacher wires backend +
// repository + BackendSnapshotRepository together.
type repoHandle struct {
	*repository.Repository
	*data.BackendSnapshotRepository
}

func openBackend(repo string) (backend.Backend, error) {
	if repo == "" {
		return nil, errors.New("--repo is required")
	}
	if repo == "mem://" {
		return mem.New(), nil
	}
	return retry.New(local.New(repo)), nil
}

func loadKey(path string) (*crypto.Key, error) {
	if path == "" {
		return nil, errors.New("--key-file is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	var key crypto.Key
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, errors.Wrap(err, "parse key file")
	}
	return &key, nil
}

// openRepo loads key and config, then builds the blob index so the returned
// repoHandle is ready for prune/restore/copy/repair to use immediately.
func openRepo(ctx context.Context, opts repoOptions, connections uint) (*repoHandle, error) {
	be, err := openBackend(opts.Repo)
	if err != nil {
		return nil, err
	}

	key, err := loadKey(opts.KeyFile)
	if err != nil {
		return nil, err
	}

	if _, err := repository.LoadConfig(ctx, be, key); err != nil {
		return nil, err
	}

	idxRepo := &index.BackendRepository{Backend: be}
	repo := repository.New(be, key, idxRepo, connections)
	if err := repo.LoadIndex(ctx, false); err != nil {
		return nil, errors.Wrap(err, "load index")
	}

	return &repoHandle{
		Repository:                repo,
		BackendSnapshotRepository: &data.BackendSnapshotRepository{Backend: be},
	}, nil
}

func loadSnapshots(ctx context.Context, repo *repoHandle, ids []string) ([]*data.Snapshot, error) {
	if len(ids) == 0 {
		var all []*data.Snapshot
		err := repo.ListSnapshotIDs(ctx, func(id model.ID) error {
			sn, err := repo.LoadSnapshot(ctx, id)
			if err != nil {
				return err
			}
			all = append(all, sn)
			return nil
		})
		return all, err
	}

	var snapshots []*data.Snapshot
	for _, s := range ids {
		id, err := model.ParseID(s)
		if err != nil {
			return nil, err
		}
		sn, err := repo.LoadSnapshot(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "load snapshot %v", s)
		}
		snapshots = append(snapshots, sn)
	}
	return snapshots, nil
}
