package archive

import "log/slog"

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger used for diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithReadOnly opens an existing archive without write access.
// A missing file is an error instead of being created, and every
// mutation returns ErrReadOnly.
func WithReadOnly() Option {
	return func(a *Archive) {
		a.readOnly = true
	}
}

// WithProgress sets a callback for Pack, Unpack, Merge and Rebuild progress.
func WithProgress(fn ProgressFunc) Option {
	return func(a *Archive) {
		a.progress = fn
	}
}
