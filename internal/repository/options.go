package repository

import (
	"log/slog"

	"github.com/example/sourced-repo/internal/infrastructure/store"
)

const defaultSnapshotLookback = 5

type options struct {
	snapshotFrequency int
	snapshotLookback  int
	appendConcurrency int
	conditionalAppend bool
	logger            *slog.Logger
}

func defaultOptions() options {
	return options{
		snapshotFrequency: store.DefaultSnapshotFrequency,
		snapshotLookback:  defaultSnapshotLookback,
		logger:            slog.Default(),
	}
}

// Option configures a Repository
type Option func(*options)

// WithSnapshotFrequency sets how many versions must pass since the last
// snapshot before Commit takes a new one. Non-positive values keep the default.
func WithSnapshotFrequency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.snapshotFrequency = n
		}
	}
}

// WithSnapshotLookback sets how many recent snapshot rows Load considers
func WithSnapshotLookback(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.snapshotLookback = n
		}
	}
}

// WithAppendConcurrency bounds the number of event writes in flight per
// commit. Zero means every pending event is written at once.
func WithAppendConcurrency(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.appendConcurrency = n
		}
	}
}

// WithConditionalAppend makes event writes fail instead of overwriting an
// existing (id, version) row, surfacing ErrConcurrentModification.
func WithConditionalAppend() Option {
	return func(o *options) { o.conditionalAppend = true }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

type commitOptions struct {
	forceSnapshot bool
}

// CommitOption configures a single Commit
type CommitOption func(*commitOptions)

// ForceSnapshot takes a snapshot regardless of the snapshot frequency
func ForceSnapshot() CommitOption {
	return func(o *commitOptions) { o.forceSnapshot = true }
}
