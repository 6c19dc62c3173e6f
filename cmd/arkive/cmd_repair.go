package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkiveio/arkive/internal/repair"
)

type repairOptions struct {
	repoOptions
	DryRun bool
	Forget bool
}

var repairOpts repairOptions

var cmdRepair = &cobra.Command{
	Use:   "repair",
	Short: "Repair snapshots whose trees reference missing blobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepair(cmd, repairOpts, args)
	},
}

func init() {
	f := cmdRepair.Flags()
	addRepoFlags(f, &repairOpts.repoOptions)
	f.BoolVar(&repairOpts.DryRun, "dry-run", false, "report what would change without saving or deleting anything")
	f.BoolVar(&repairOpts.Forget, "forget", false, "delete the original, broken snapshots once repaired")
	cmdRoot.AddCommand(cmdRepair)
}

func runRepair(cmd *cobra.Command, opts repairOptions, args []string) error {
	ctx := cmd.Context()
	repo, err := openRepo(ctx, opts.repoOptions, 8)
	if err != nil {
		return err
	}

	snapshots, err := loadSnapshots(ctx, repo, args)
	if err != nil {
		return err
	}

	newIDs, stats, err := repair.Run(ctx, repo, snapshots, repair.Options{DryRun: opts.DryRun, Forget: opts.Forget})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "repair: %d unchanged, %d repaired, %d deleted\n",
		stats.SnapshotsUnchanged, stats.SnapshotsRepaired, stats.SnapshotsDeleted)
	for _, id := range newIDs {
		fmt.Fprintf(cmd.OutOrStdout(), "  new snapshot %v\n", id)
	}
	return nil
}
