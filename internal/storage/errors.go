package storage

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrEpochExists is returned by CommitEpoch when the epoch number is
	// already taken.
	ErrEpochExists = errors.New("storage: epoch already exists")

	// ErrEpochGap is returned by CommitEpoch when the epoch number does not
	// directly follow the last committed epoch.
	ErrEpochGap = errors.New("storage: epoch number is not the next in sequence")

	// ErrAnchorConflict is returned by SetEpochAnchor when a different hash
	// is already attached.
	ErrAnchorConflict = errors.New("storage: epoch already carries a different anchor")

	// ErrAgentExists is returned by CreateAgent on a duplicate id.
	ErrAgentExists = errors.New("storage: agent already exists")

	// ErrNotBankrupt is returned by ReviveAgent for an agent that is still active.
	ErrNotBankrupt = errors.New("storage: agent is not bankrupt")
)
