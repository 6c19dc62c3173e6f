package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arkiveio/arkive/internal/crypto"
	"github.com/arkiveio/arkive/internal/errors"
	"github.com/arkiveio/arkive/internal/repository"
)

var initOpts repoOptions

var cmdInit = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new repository and write its key file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(cmd, initOpts)
	},
}

func init() {
	addRepoFlags(cmdInit.Flags(), &initOpts)
	cmdRoot.AddCommand(cmdInit)
}

func runInit(cmd *cobra.Command, opts repoOptions) error {
	be, err := openBackend(opts.Repo)
	if err != nil {
		return err
	}
	if opts.KeyFile == "" {
		return errors.New("--key-file is required")
	}
	if _, err := os.Stat(opts.KeyFile); err == nil {
		return errors.Errorf("key file %v already exists", opts.KeyFile)
	}

	key := crypto.NewRandomKey()
	cfg, err := repository.Create(cmd.Context(), be, key)
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal key")
	}
	if err := os.WriteFile(opts.KeyFile, raw, 0o600); err != nil {
		return errors.Wrap(err, "write key file")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "initialized repository %v, key written to %v\n", cfg.ID, opts.KeyFile)
	return nil
}
