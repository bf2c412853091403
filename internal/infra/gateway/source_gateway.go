package gateway

import (
	"context"
	"log/slog"
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/opencivics/dispatch"
	"github.com/opencivics/dispatch/internal/usecase"
)

// SourceGateway resolves events back to producer-rendered views through a
// read-through cache, so one logical event fanned into many digests is
// fetched from its producer once. Each delivery worker constructs its own
// gateway: the cache is scoped to one pipeline run and never shared across
// workers, trading a few redundant fetches for zero coordination.
type SourceGateway struct {
	registry *dispatch.SourceRegistry
	cache    *cache.Cache
}

func NewSourceGateway(registry *dispatch.SourceRegistry) *SourceGateway {
	return &SourceGateway{
		registry: registry,
		cache:    cache.New(cache.NoExpiration, 0),
	}
}

func (g *SourceGateway) Render(ctx context.Context, ref dispatch.SourceRef, eventID string, feedNames []string) (dispatch.EventView, error) {
	key := ref.Kind + "\x00" + ref.ID + "\x00" + eventID

	if cached, found := g.cache.Get(key); found {
		return cached.(dispatch.EventView), nil
	}

	src, ok := g.registry.Lookup(ref.Kind)
	if !ok {
		// A producer kind can disappear between publish and delivery, e.g.
		// during staged rollouts. A stub view keeps the digest whole.
		slog.Warn("no source registered for kind, using stub view",
			slog.String("kind", ref.Kind),
			slog.String("module", "gateway"),
		)
		view := stubView(ref, eventID)
		g.cache.Set(key, view, cache.DefaultExpiration)
		return view, nil
	}

	view, err := src.RenderEvent(ctx, ref.ID, eventID, feedNames)
	if err != nil {
		return dispatch.EventView{}, err
	}
	g.cache.Set(key, view, cache.DefaultExpiration)
	return view, nil
}

func stubView(ref dispatch.SourceRef, eventID string) dispatch.EventView {
	title := strings.TrimSpace(ref.Kind + " " + eventID)
	return dispatch.EventView{
		Kind:  ref.Kind,
		Title: title,
	}
}

var _ usecase.SourceRenderer = (*SourceGateway)(nil)
