package repo

import (
	"context"
	"time"
)

// AlertRecord holds the last-known safety state of a test URL and the last
// time a notification went out for it (used for cooldown).
type AlertRecord struct {
	URL        string
	LastSafe   bool
	LastSentAt *time.Time
}

// AlertStore is implemented by a persistence layer to store alert state.
type AlertStore interface {
	// Get returns nil, nil if there's no record yet.
	Get(ctx context.Context, url string) (*AlertRecord, error)
	// Set upserts the record. If sentAt.IsZero() we store NULL for last_sent_at.
	Set(ctx context.Context, url string, safe bool, sentAt time.Time) error
}
