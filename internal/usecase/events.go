package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/opencivics/dispatch"
	"github.com/opencivics/dispatch/internal/domain"
)

var eventTracer = otel.Tracer("events")

// EventUsecase publishes events into the log and answers "most recent N"
// queries over it.
type EventUsecase struct {
	registry *domain.Registry
	repo     EventRepository
}

func NewEventUsecase(registry *domain.Registry, repo EventRepository) *EventUsecase {
	return &EventUsecase{
		registry: registry,
		repo:     repo,
	}
}

// Publish reconciles a source's asserted events against the store. Every
// feed name must resolve and no assertion may target a meta feed; both are
// caller errors surfaced before any write happens.
func (uc *EventUsecase) Publish(ctx context.Context, src dispatch.SourceRef, assertions []domain.Assertion) ([]int64, error) {
	ctx, span := eventTracer.Start(ctx, "Event.Usecase.Publish")
	defer span.End()

	if src.Kind == "" || src.ID == "" {
		return nil, fmt.Errorf("source identity must have kind and id")
	}
	for _, a := range assertions {
		if a.EventID == "" || len(a.EventID) > domain.MaxEventIDLen {
			return nil, fmt.Errorf("event id %q must be 1..%d chars", a.EventID, domain.MaxEventIDLen)
		}
		for _, name := range a.Feeds {
			feed, err := uc.registry.Resolve(name)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			if feed.Meta() {
				return nil, fmt.Errorf("feed %q is meta and holds no event rows", name)
			}
		}
	}

	deleted, err := uc.repo.Reconcile(ctx, src, assertions)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "EventUsecase.Publish: reconcile failed")
	}
	return deleted, nil
}

// MostRecent returns up to count distinct logical events, most recent first,
// each annotated with the requested feeds it matched. A nil feed slice means
// no filter.
func (uc *EventUsecase) MostRecent(ctx context.Context, feeds []domain.Feed, count int) ([]domain.Item, error) {
	ctx, span := eventTracer.Start(ctx, "Event.Usecase.MostRecent")
	defer span.End()

	if count <= 0 {
		return nil, nil
	}
	if feeds == nil {
		return uc.mostRecentGlobal(ctx, count)
	}
	return uc.mostRecentFiltered(ctx, feeds, count)
}

// MostRecentByNames resolves feed names before querying.
func (uc *EventUsecase) MostRecentByNames(ctx context.Context, names []string, count int) ([]domain.Item, error) {
	if names == nil {
		return uc.MostRecent(ctx, nil, count)
	}
	feeds := make([]domain.Feed, 0, len(names))
	for _, name := range names {
		feed, err := uc.registry.Resolve(name)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	return uc.MostRecent(ctx, feeds, count)
}

// mostRecentGlobal scans the whole log in growing batches. The store has no
// per-row distinctness (one logical event occupies one row per feed), so a
// plain LIMIT would undercount; fetching 2×count and doubling on each round
// bounds the work to the fan-out actually encountered instead of the whole
// table.
func (uc *EventUsecase) mostRecentGlobal(ctx context.Context, count int) ([]domain.Item, error) {
	items := make([]domain.Item, 0, count)
	index := make(map[dispatch.LogicalID]int)

	offset := 0
	batch := 2 * count
	for {
		rows, err := uc.repo.ScanRecent(ctx, offset, batch)
		if err != nil {
			return nil, errors.Wrap(err, "EventUsecase.mostRecentGlobal: scan failed")
		}

		for _, row := range rows {
			if i, seen := index[row.Logical()]; seen {
				items[i].Feeds = appendFeedName(items[i].Feeds, row.Feed)
				if row.ID > items[i].RowID {
					items[i].RowID = row.ID
				}
				continue
			}
			if len(items) == count {
				continue
			}
			index[row.Logical()] = len(items)
			items = append(items, domain.Item{
				RowID:   row.ID,
				Source:  row.Source,
				EventID: row.EventID,
				When:    row.When,
				Seq:     row.Seq,
				Feeds:   []string{row.Feed},
			})
		}

		if len(items) >= count || len(rows) < batch {
			// Either done or the log is exhausted.
			break
		}
		offset += len(rows)
		batch *= 2
	}

	return items, nil
}

// mostRecentFiltered issues one top-count query per feed in the expanded
// closure and merges client-side. An IN-clause across many feed ids defeats
// the per-feed index once the table is large; per-feed top-N queries do not.
func (uc *EventUsecase) mostRecentFiltered(ctx context.Context, feeds []domain.Feed, count int) ([]domain.Item, error) {
	closure, origin, err := uc.registry.Expand(feeds)
	if err != nil {
		return nil, err
	}

	items := make([]domain.Item, 0, count)
	index := make(map[dispatch.LogicalID]int)

	for _, feed := range closure {
		if feed.Meta() {
			continue
		}
		rows, err := uc.repo.RecentByFeed(ctx, feed.Name, count)
		if err != nil {
			return nil, errors.Wrapf(err, "EventUsecase.mostRecentFiltered: feed %s", feed.Name)
		}
		for _, row := range rows {
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
	}

	sort.Slice(items, func(i, j int) bool {
		return moreRecent(items[i], items[j])
	})
	if len(items) > count {
		items = items[:count]
	}
	return items, nil
}

// moreRecent orders items by (when, sourceKind, sourceID, seq) descending,
// the same key the store indexes.
func moreRecent(a, b domain.Item) bool {
	if !a.When.Equal(b.When) {
		return a.When.After(b.When)
	}
	if a.Source.Kind != b.Source.Kind {
		return a.Source.Kind > b.Source.Kind
	}
	if a.Source.ID != b.Source.ID {
		return a.Source.ID > b.Source.ID
	}
	return a.Seq > b.Seq
}

func appendFeedName(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}
