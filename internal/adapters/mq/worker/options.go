package worker

import (
	"time"

	"github.com/okian/versus/pkg/logger"
)

// Option applies a configuration option to a PartitionWorker.
type Option func(*PartitionWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *PartitionWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *PartitionWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRetryBackoff bounds the redelivery delay after a failed record.
func WithRetryBackoff(initial, maxDelay time.Duration) Option {
	return func(w *PartitionWorker) {
		if initial > 0 {
			w.retryInitial = initial
		}
		if maxDelay >= w.retryInitial {
			w.retryMax = maxDelay
		}
	}
}
