package usecase

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/opencivics/dispatch"
	"github.com/opencivics/dispatch/internal/domain"
)

var digestTracer = otel.Tracer("digest")

// DigestUsecase computes the incremental, deduplicated set of events a
// subscription list has not been delivered yet.
type DigestUsecase struct {
	registry *domain.Registry
	repo     EventRepository
}

func NewDigestUsecase(registry *domain.Registry, repo EventRepository) *DigestUsecase {
	return &DigestUsecase{
		registry: registry,
		repo:     repo,
	}
}

// NewEvents returns the candidate new cursor and the time-ordered,
// deduplicated events that arrived since the list's last delivery, bounded
// by the list frequency's backfill window. A never-delivered list is bounded
// by the same window rather than dumped full history. An empty result with a
// nil error is a no-op: the caller must not advance the cursor or record a
// delivery.
func (uc *DigestUsecase) NewEvents(ctx context.Context, list domain.SubscriptionList, now time.Time) (int64, []domain.Item, error) {
	ctx, span := digestTracer.Start(ctx, "Digest.Usecase.NewEvents")
	defer span.End()

	if len(list.Trackers) == 0 {
		return 0, nil, nil
	}

	feeds := make([]domain.Feed, 0, len(list.Trackers))
	for _, name := range list.Trackers {
		feed, err := uc.registry.Resolve(name)
		if err != nil {
			span.RecordError(err)
			return 0, nil, err
		}
		feeds = append(feeds, feed)
	}
	closure, origin, err := uc.registry.Expand(feeds)
	if err != nil {
		return 0, nil, err
	}
	names := make([]string, 0, len(closure))
	for _, feed := range closure {
		if feed.Meta() {
			continue
		}
		names = append(names, feed.Name)
	}

	// The stored cursor points at one per-feed row of a logical event. A
	// sibling row with a higher id may have been indexed after the cursor
	// was taken, so the effective lower bound is the maximum row id sharing
	// the cursor row's logical identity.
	var afterID int64
	if list.LastEventDelivered != nil {
		afterID, err = uc.repo.ResolveCursor(ctx, *list.LastEventDelivered)
		if err != nil {
			span.RecordError(err)
			return 0, nil, errors.Wrap(err, "DigestUsecase.NewEvents: cursor resolution failed")
		}
	}

	since := now.Add(-list.Frequency.BackfillWindow())
	rows, err := uc.repo.ScanSince(ctx, names, afterID, since)
	if err != nil {
		span.RecordError(err)
		return 0, nil, errors.Wrap(err, "DigestUsecase.NewEvents: scan failed")
	}
	if len(rows) == 0 {
		return 0, nil, nil
	}

	var cursor int64
	items := make([]domain.Item, 0, len(rows))
	index := make(map[dispatch.LogicalID]int)
	for _, row := range rows {
		if row.ID > cursor {
			cursor = row.ID
		}
		matched := origin[row.Feed]
		if i, seen := index[row.Logical()]; seen {
			items[i].Feeds = appendFeedName(items[i].Feeds, matched)
			if row.ID > items[i].RowID {
				items[i].RowID = row.ID
			}
			continue
		}
		index[row.Logical()] = len(items)
		items = append(items, domain.Item{
			RowID:   row.ID,
			Source:  row.Source,
			EventID: row.EventID,
			When:    row.When,
			Seq:     row.Seq,
			Feeds:   []string{matched},
		})
	}

	return cursor, items, nil
}
