package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/arkiveio/arkive/internal/data"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/model"
	"github.com/arkiveio/arkive/internal/progress"
	"github.com/arkiveio/arkive/internal/repository"
)

type pruneOptions struct {
	repoOptions
	DryRun              bool
	MaxUnusedPercent    float64
	MaxRepackPercent    float64
	RepackCacheableOnly bool
	RepackAll           bool
	FastRepack          bool
	NoResize            bool
	RepackUncompressed  bool
	InstantDelete       bool
	IgnoreSnaps         []string
}

var pruneOpts pruneOptions

var cmdPrune = &cobra.Command{
	Use:   "prune",
	Short: "Reclaim space by rewriting or dropping packs no snapshot still uses",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPrune(cmd, pruneOpts)
	},
}

func init() {
	f := cmdPrune.Flags()
	addRepoFlags(f, &pruneOpts.repoOptions)
	f.BoolVar(&pruneOpts.DryRun, "dry-run", false, "print what prune would do without changing anything")
	f.Float64Var(&pruneOpts.MaxUnusedPercent, "max-unused-percent", 5, "maximum percentage of unused data to tolerate after prune")
	f.Float64Var(&pruneOpts.MaxRepackPercent, "max-repack-percent", 10, "maximum percentage of the repository's total size to rewrite in one prune")
	f.BoolVar(&pruneOpts.RepackCacheableOnly, "repack-cacheable-only", false, "only repack packs the backend can cache")
	f.BoolVar(&pruneOpts.RepackAll, "repack-all", false, "repack every pack that is not already fully used and minimally sized")
	f.BoolVar(&pruneOpts.FastRepack, "fast-repack", false, "repack by copying ciphertext instead of decrypting and recompressing")
	f.BoolVar(&pruneOpts.NoResize, "no-resize", false, "never repack a fully-used pack just because it is far from the target pack size")
	f.BoolVar(&pruneOpts.RepackUncompressed, "repack-uncompressed", false, "also repack packs holding uncompressed blobs")
	f.BoolVar(&pruneOpts.InstantDelete, "instant-delete", false, "delete unreferenced packs immediately instead of marking them")
	f.StringArrayVar(&pruneOpts.IgnoreSnaps, "ignore-snapshot", nil, "exclude this snapshot's blobs from the used set (can be given multiple times)")
	cmdRoot.AddCommand(cmdPrune)
}

func runPrune(cmd *cobra.Command, opts pruneOptions) error {
	ctx := cmd.Context()
	repo, err := openRepo(ctx, opts.repoOptions, 8)
	if err != nil {
		return err
	}

	snapshots, err := loadSnapshots(ctx, repo, nil)
	if err != nil {
		return err
	}

	ignoreSnaps := make(model.IDs, 0, len(opts.IgnoreSnaps))
	for _, s := range opts.IgnoreSnaps {
		id, err := model.ParseID(s)
		if err != nil {
			return errors.Wrapf(err, "ignore-snapshot %q", s)
		}
		ignoreSnaps = append(ignoreSnaps, id)
	}
	if len(ignoreSnaps) > 0 {
		ignore := make(map[model.ID]bool, len(ignoreSnaps))
		for _, id := range ignoreSnaps {
			ignore[id] = true
		}
		kept := snapshots[:0]
		for _, sn := range snapshots {
			if !ignore[sn.ID] {
				kept = append(kept, sn)
			}
		}
		snapshots = kept
	}

	maxUnusedPercent := opts.MaxUnusedPercent
	maxRepackPercent := opts.MaxRepackPercent
	usedBlobsFn := func(ctx context.Context, r *repository.Repository, used model.FindBlobSet) error {
		treeIDs := make(model.IDs, 0, len(snapshots))
		for _, sn := range snapshots {
			treeIDs = append(treeIDs, sn.Tree)
		}
		return data.FindUsedBlobs(ctx, r, treeIDs, used, nil)
	}

	prOpts := repository.PruneOptions{
		MaxUnusedBytes: func(used uint64) uint64 {
			return uint64(float64(used) * maxUnusedPercent / 100)
		},
		MaxRepackBytes: func(total uint64) uint64 {
			return uint64(float64(total) * maxRepackPercent / 100)
		},
		RepackCacheableOnly: opts.RepackCacheableOnly,
		RepackAll:           opts.RepackAll,
		FastRepack:          opts.FastRepack,
		NoResize:            opts.NoResize,
		RepackUncompressed:  opts.RepackUncompressed,
		InstantDelete:       opts.InstantDelete,
		IgnoreSnaps:         ignoreSnaps,
		KeepPackDuration:    time.Hour,
	}

	plan, err := repository.PlanPrune(ctx, prOpts, repo.Repository, usedBlobsFn, progress.NoopPrinter{})
	if err != nil {
		return err
	}

	stats := plan.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "prune: %d packs to keep, %d to repack, %d to delete, %d to mark for deletion\n",
		stats.Packs.Keep, stats.Packs.Repack, stats.Packs.Delete, stats.Packs.MarkDelete)
	fmt.Fprintf(cmd.OutOrStdout(), "prune: %s will be freed, %s will be rewritten\n",
		humanize.Bytes(stats.Size.Remove+stats.Size.Repackrm), humanize.Bytes(stats.Size.Repack))

	if opts.DryRun {
		return nil
	}
	return plan.Execute(ctx, progress.NoopPrinter{})
}
