package usecase

import (
	"context"
	"time"

	"github.com/opencivics/dispatch"
	"github.com/opencivics/dispatch/internal/domain"
)

// EventRepository defines storage operations for the event log.
type EventRepository interface {
	// Reconcile brings the stored rows for one source in line with the
	// asserted set, inside a single transaction. Rows the source no longer
	// asserts are deleted; their ids are returned. Concurrent reconciliation
	// of the same source is a caller error and must be avoided upstream.
	Reconcile(ctx context.Context, src dispatch.SourceRef, assertions []domain.Assertion) (deleted []int64, err error)

	// ScanRecent returns up to limit rows starting at offset, ordered
	// (when DESC, source_kind DESC, source_id DESC, seq DESC).
	ScanRecent(ctx context.Context, offset, limit int) ([]domain.EventRow, error)

	// RecentByFeed returns the top-limit rows of one feed in the same
	// descending order, using the per-feed index.
	RecentByFeed(ctx context.Context, feed string, limit int) ([]domain.EventRow, error)

	// ScanSince returns rows with id > afterID, when >= since, and feed in
	// the given set, ordered ascending (when, source_kind, source_id, seq).
	ScanSince(ctx context.Context, feeds []string, afterID int64, since time.Time) ([]domain.EventRow, error)

	// ResolveCursor maps a stored cursor row id to the maximum row id
	// sharing that row's logical identity. Returns the input id unchanged
	// when the row no longer exists.
	ResolveCursor(ctx context.Context, rowID int64) (int64, error)
}

// SubscriptionRepository defines persistence for subscribers and their lists.
type SubscriptionRepository interface {
	// CandidatesByFrequency returns subscribers owning at least one list
	// with one of the given frequencies, each with all of their lists
	// loaded.
	CandidatesByFrequency(ctx context.Context, freqs []domain.Frequency) ([]domain.Subscriber, error)

	GetSubscriber(ctx context.Context, subscriberID string) (domain.Subscriber, error)

	// AdvanceCursor moves a list's cursor forward and stamps the delivery
	// time. Implementations must never move the cursor backwards.
	AdvanceCursor(ctx context.Context, listID int64, cursor int64, at time.Time) error
}

// SubscriptionManager mutates a subscriber's tracked feeds. Subscribe adds
// the feed to the subscriber's default list, creating the list if needed;
// both operations are idempotent.
type SubscriptionManager interface {
	Subscribe(ctx context.Context, subscriberID, feed string) error
	Unsubscribe(ctx context.Context, subscriberID, feed string) error
}

// BounceRepository records hard delivery failures per subscriber.
type BounceRepository interface {
	IsBounced(ctx context.Context, subscriberID string) (bool, error)
	RecordBounce(ctx context.Context, subscriberID, address, reason string) error
	GetBounce(ctx context.Context, subscriberID string) (*domain.Bounce, error)
}

// EngagementPolicy decides whether a subscriber is still worth emailing.
type EngagementPolicy interface {
	IsActive(ctx context.Context, subscriberID string) (bool, error)
}

// Mailer is one outbound mail connection. A delivery worker opens one for
// the duration of a run and reuses it across sends; implementations reopen
// the underlying transport if it was silently dropped.
type Mailer interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
	Close() error
}

// MailerFactory builds one Mailer per delivery worker.
type MailerFactory func() Mailer

// SourceRenderer resolves an event row back to its producer's rendered
// view. Implementations may cache; cache lifetime is one pipeline run.
type SourceRenderer interface {
	Render(ctx context.Context, ref dispatch.SourceRef, eventID string, feedNames []string) (dispatch.EventView, error)
}

// SourceRendererFactory builds one SourceRenderer per delivery worker, so
// each worker carries its own run-scoped cache without cross-worker locking.
type SourceRendererFactory func() SourceRenderer

// DigestRenderer turns a subscriber's grouped digest into mail bodies.
type DigestRenderer interface {
	RenderDigest(d Digest) (textBody, htmlBody string, err error)
}
