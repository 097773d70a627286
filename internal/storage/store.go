package storage

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadySent reports that the (user, url) pair is already in the ledger.
// It is an expected outcome of RecordSent under concurrent runs, not a failure.
var ErrAlreadySent = errors.New("notification already recorded")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// TrackedAccount is one externally monitored handle and its owning user.
// The conversational front-end creates these; the pipeline only reads them.
type TrackedAccount struct {
	ID        int64
	Handle    string
	OwnerID   int64
	CreatedAt time.Time
}

// Store is the persistence API consumed by the pipeline.
type Store interface {
	ListTrackedAccounts(ctx context.Context) ([]TrackedAccount, error)
	AddTrackedAccount(ctx context.Context, handle string, ownerID int64) (TrackedAccount, error)
	RemoveTrackedAccount(ctx context.Context, handle string, ownerID int64) (bool, error)

	// Ledger: at-most-once delivery per (user, url), enforced by a
	// storage-level uniqueness constraint rather than in-process locking.
	WasSent(ctx context.Context, userID int64, url string) (bool, error)
	RecordSent(ctx context.Context, userID int64, url, accountName string) error
	SentURLs(ctx context.Context, userID int64) (map[string]struct{}, error)
	PurgeSentBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
