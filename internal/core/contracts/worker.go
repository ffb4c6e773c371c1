package contracts

import "context"

type AsyncWorker interface {
	// Run blocks until ctx is cancelled. It returns nil on cancellation.
	Run(ctx context.Context) error
}
