package model

import "github.com/arkiveio/arkive/internal/errors"

// Integrity errors: violations of the invariants in spec §3. These abort
// the current operation immediately.
var (
	ErrBlobMissing      = errors.New("blob referenced by a snapshot is missing from all packs")
	ErrPackSizeMismatch = errors.New("pack size on backend does not match index")
	ErrPackNotOnBackend = errors.New("pack listed in index is absent from the backend")
	ErrUndecidedPack    = errors.New("pack reached execution with an undecided fate")
)

// Policy errors: the operation is not permitted given the repository's
// current mode/version.
var (
	ErrAppendOnly      = errors.New("repository is in append-only mode")
	ErrUnsupportedOnV1 = errors.New("operation requires a v2 repository")
)
