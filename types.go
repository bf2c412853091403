package dispatch

import (
	"context"
	"fmt"
	"time"
)

// SourceRef identifies the producer object behind an event. The store keeps
// only this identity, never the producer itself, so producer lifetimes stay
// decoupled from the event log.
type SourceRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (s SourceRef) String() string {
	return s.Kind + "/" + s.ID
}

// LogicalID identifies "the same event" across the multiple per-feed rows it
// was fanned into.
type LogicalID struct {
	Source  SourceRef
	EventID string
}

// EventView is what a producer returns when asked to render one of its
// events. The body templates are executed against Context by the
// presentation layer.
type EventView struct {
	Kind        string         `json:"kind"`
	When        time.Time      `json:"when"`
	DateHasTime bool           `json:"dateHasTime"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	BodyText    string         `json:"bodyTextTemplate"`
	BodyHTML    string         `json:"bodyHtmlTemplate"`
	Context     map[string]any `json:"context"`
}

// Source is the capability a producer kind exposes so its events can be
// rendered. feedNames carries the feeds the event matched, letting producers
// vary presentation by audience.
type Source interface {
	RenderEvent(ctx context.Context, sourceID string, eventID string, feedNames []string) (EventView, error)
}

// SourceRegistry maps source kinds to their render capability. It is
// populated at startup and read-only afterwards.
type SourceRegistry struct {
	kinds map[string]Source
}

func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{kinds: make(map[string]Source)}
}

// RegisterKind panics on duplicate registration: kind wiring is startup-time
// programmer responsibility.
func (r *SourceRegistry) RegisterKind(kind string, src Source) {
	if _, ok := r.kinds[kind]; ok {
		panic(fmt.Sprintf("dispatch: source kind %q registered twice", kind))
	}
	r.kinds[kind] = src
}

func (r *SourceRegistry) Lookup(kind string) (Source, bool) {
	src, ok := r.kinds[kind]
	return src, ok
}

func (r *SourceRegistry) Render(ctx context.Context, ref SourceRef, eventID string, feedNames []string) (EventView, error) {
	src, ok := r.kinds[ref.Kind]
	if !ok {
		return EventView{}, fmt.Errorf("no source registered for kind %q", ref.Kind)
	}
	return src.RenderEvent(ctx, ref.ID, eventID, feedNames)
}
