package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/restorer"
)

type restoreOptions struct {
	repoOptions
	Snapshot       string
	Target         string
	VerifyExisting bool
}

var restoreOpts restoreOptions

var cmdRestore = &cobra.Command{
	Use:   "restore",
	Short: "Write a snapshot's tree out to a target directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestore(cmd, restoreOpts)
	},
}

func init() {
	f := cmdRestore.Flags()
	addRepoFlags(f, &restoreOpts.repoOptions)
	f.StringVar(&restoreOpts.Snapshot, "snapshot", "", "id of the snapshot to restore")
	f.StringVar(&restoreOpts.Target, "target", "", "directory to restore into")
	f.BoolVar(&restoreOpts.VerifyExisting, "verify", false, "hash-verify files that already exist at the target instead of trusting size and mtime")
	cmdRoot.AddCommand(cmdRestore)
}

func runRestore(cmd *cobra.Command, opts restoreOptions) error {
	ctx := cmd.Context()
	if opts.Snapshot == "" {
		return errors.New("--snapshot is required")
	}
	if opts.Target == "" {
		return errors.New("--target is required")
	}

	repo, err := openRepo(ctx, opts.repoOptions, 8)
	if err != nil {
		return err
	}

	id, err := model.ParseID(opts.Snapshot)
	if err != nil {
		return err
	}
	sn, err := repo.LoadSnapshot(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "load snapshot %v", opts.Snapshot)
	}

	probe := &restorer.OSExistingProbe{Root: opts.Target}
	plan, err := restorer.PlanRestore(ctx, repo.Repository, sn.Tree, probe, restorer.Options{VerifyExisting: opts.VerifyExisting})
	if err != nil {
		return errors.Wrap(err, "plan restore")
	}

	writer := restorer.NewOSFileWriter(opts.Target)
	exec := restorer.NewExecutor(plan, repo.Repository, writer, restorer.ExecOptions{})
	if err := exec.RestoreContent(ctx); err != nil {
		_ = writer.Close()
		return errors.Wrap(err, "restore content")
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, "close restored files")
	}

	applier := &restorer.OSMetadataApplier{Root: opts.Target}
	if err := restorer.ApplyMetadata(plan, applier); err != nil {
		return errors.Wrap(err, "apply metadata")
	}

	var modified, existing int
	for _, pf := range plan.Files {
		switch pf.Action {
		case restorer.ActionExisting, restorer.ActionVerified:
			existing++
		case restorer.ActionModify:
			modified++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restore: %d files written, %d already matched\n", modified, existing)
	return nil
}
