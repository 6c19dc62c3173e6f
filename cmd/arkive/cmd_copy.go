package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkiveio/arkive/internal/copy"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/index"
	"github.com/arkiveio/arkive/internal/repository"
)

type copyOptions struct {
	From repoOptions
	To   repoOptions
}

var copyOpts copyOptions

var cmdCopy = &cobra.Command{
	Use:   "copy",
	Short: "Copy snapshots from one repository into another",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCopy(cmd, copyOpts, args)
	},
}

func init() {
	f := cmdCopy.Flags()
	f.StringVar(&copyOpts.From.Repo, "from-repo", "", "source repository directory, or mem://")
	f.StringVar(&copyOpts.From.KeyFile, "from-key-file", "", "source repository's key file")
	f.StringVar(&copyOpts.To.Repo, "to-repo", "", "destination repository directory, or mem://")
	f.StringVar(&copyOpts.To.KeyFile, "to-key-file", "", "destination repository's key file")
	cmdRoot.AddCommand(cmdCopy)
}

// runCopy copies the snapshots named by args (or every snapshot in the
// source, if args is empty) into the destination. The destination must
// already be initialized with `arkive init`; see copy.ErrDestinationNotInitialized.
func runCopy(cmd *cobra.Command, opts copyOptions, args []string) error {
	ctx := cmd.Context()

	src, err := openRepo(ctx, opts.From, 8)
	if err != nil {
		return errors.Wrap(err, "open source repository")
	}

	dst, err := openRepo(ctx, opts.To, 8)
	if err != nil {
		if errors.Is(err, repository.ErrNotInitialized) {
			return copy.ErrDestinationNotInitialized
		}
		return errors.Wrap(err, "open destination repository")
	}

	snapshots, err := loadSnapshots(ctx, src, args)
	if err != nil {
		return err
	}

	idx := index.NewIndexer(dst.IdxRepo, false)
	stats, err := copy.Run(ctx, src, dst, snapshots, idx, copy.Options{})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "copy: %d snapshots copied, %d skipped, %d blobs copied, %d skipped\n",
		stats.SnapshotsCopied, stats.SnapshotsSkipped, stats.BlobsCopied, stats.BlobsSkipped)
	return nil
}
