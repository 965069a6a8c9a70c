package watch

import (
	"context"
	"time"
)

// Fetcher retrieves one document for a relative path or absolute URL,
// absorbing mirror fallback and retries behind the contract.
type Fetcher interface {
	Fetch(ctx context.Context, pathOrURL string) (Document, error)
}

// StateStore persists MonitorState between polling cycles. Load never
// fails on an absent or corrupt backing store; it returns an empty
// state instead. Save fully overwrites the previous state.
type StateStore interface {
	Load(ctx context.Context) (MonitorState, error)
	Save(ctx context.Context, state MonitorState) error
}

// Sink consumes alert decisions. A delivery failure for one alert must
// not block subsequent alerts in the same cycle.
type Sink interface {
	Deliver(ctx context.Context, alert AlertDecision) error
}

// Lookup is the account-enrichment boundary.
type Lookup interface {
	Profile(ctx context.Context, handle string) (AuthorProfile, error)
}

// RelationshipLookup answers whether one account follows another.
type RelationshipLookup interface {
	Follows(ctx context.Context, handle, target string) (bool, error)
}

// Archive stores raw fetched documents for post-mortem inspection.
type Archive interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints identifiers for cycles and alerts.
type IDGenerator interface {
	NewID() (string, error)
}
