// Command arkive is a thin cobra CLI wiring the prune, restore, copy, and
// repair engines together. It owns everything out of this module's core
// scope: flag parsing, opening a repository from a directory and key file,
// and printing results. No internal/* package imports cobra.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/arkiveio/arkive/internal/errors"
)

func init() {
	// silence automaxprocs' own log line, matching the teacher's main.go
	_, _ = maxprocs.Set()
}

type globalOptions struct {
	JSON    bool
	Quiet   bool
	Verbose bool
}

var globalOpts globalOptions

var cmdRoot = &cobra.Command{
	Use:   "arkive",
	Short: "Prune, restore, copy, and repair content-addressed snapshot repositories",
	Long: `
arkive operates on the encrypted, deduplicating snapshot repositories this
module implements: pruning unused pack data, restoring a snapshot's tree to
disk, copying snapshots between repositories, and repairing trees broken by
missing blobs.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

func init() {
	f := cmdRoot.PersistentFlags()
	f.BoolVar(&globalOpts.JSON, "json", false, "has no effect: every command prints plain text")
	f.BoolVarP(&globalOpts.Quiet, "quiet", "q", false, "suppress progress output")
	f.BoolVarP(&globalOpts.Verbose, "verbose", "v", false, "has no effect: no command prints progress output")
}

func createGlobalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()
	return ctx
}

func Warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}

func main() {
	ctx := createGlobalContext()
	err := cmdRoot.ExecuteContext(ctx)
	if err == nil {
		err = ctx.Err()
	}

	if err != nil {
		exitMessage := fmt.Sprintf("%+v", err)
		if errors.IsFatal(err) {
			exitMessage = err.Error()
		}
		Warnf("%v\n", exitMessage)
		os.Exit(1)
	}
}
