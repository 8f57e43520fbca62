package meeting

import "context"

// Store is the persistence boundary for meeting records. The SQLite
// implementation is the only one in production; tests use it with an
// in-memory database.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, limit, offset int) ([]*Record, int, error)
	// SearchCandidates returns every record with its text fields populated
	// so the caller can score them. Relevance ranking lives in the search
	// package, not in SQL.
	SearchCandidates(ctx context.Context) ([]*Record, error)

	// MarkProcessing transitions pending|processing -> processing. Calling it
	// on a record already processing is a no-op so job redelivery is safe.
	// Returns ErrNotFound if the record is gone, ErrTerminal if it has
	// already completed or failed.
	MarkProcessing(ctx context.Context, id string) error
	// UpsertResults writes results and transitions to completed in one
	// statement. Writing results for a deleted record matches zero rows and
	// returns ErrNotFound; callers treat that as a no-op and ack the job.
	UpsertResults(ctx context.Context, id string, res *Results) error
	MarkFailed(ctx context.Context, id, reason string) error
	IncrementRetry(ctx context.Context, id string) (int, error)
	// ResetForReprocess clears results and returns the record to pending for
	// an explicit re-submission against the same id.
	ResetForReprocess(ctx context.Context, id string) error

	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}
