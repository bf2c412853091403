package domain

import (
	"fmt"
	"strings"
)

// FeedDef is the startup-time registration of a feed or a family of feeds.
// Either Name (exact) or Prefix (dynamic, must end in ':') is set, never
// both. Meta feeds have no physical event rows and exist only to aggregate
// the feeds their Includes closure yields.
type FeedDef struct {
	Name   string
	Prefix string

	Title     string
	TitleFunc func(arg string) string

	// Includes yields the names of feeds whose events are merged in when
	// this feed is queried. arg is the part after the prefix for dynamic
	// feeds, empty otherwise.
	Includes func(arg string) []string

	Meta            bool
	SingleEventType bool
}

// Feed is a resolved feed: a concrete name bound to its registration.
type Feed struct {
	Name string

	arg string
	def *FeedDef
}

func (f Feed) Title() string {
	if f.def.TitleFunc != nil {
		return f.def.TitleFunc(f.arg)
	}
	if f.def.Title != "" {
		return f.def.Title
	}
	return f.Name
}

func (f Feed) Meta() bool            { return f.def.Meta }
func (f Feed) SingleEventType() bool { return f.def.SingleEventType }

func (f Feed) includeNames() []string {
	if f.def.Includes == nil {
		return nil
	}
	return f.def.Includes(f.arg)
}

// Registry maps feed names to their definitions. It is populated once during
// initialization and treated as immutable afterwards; components receive it
// explicitly rather than reading ambient global state.
type Registry struct {
	exact    map[string]*FeedDef
	prefixes map[string]*FeedDef
}

func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]*FeedDef),
		prefixes: make(map[string]*FeedDef),
	}
}

// Register installs a definition. Malformed definitions are programmer
// errors and fatal at startup.
func (r *Registry) Register(def FeedDef) {
	if (def.Name == "") == (def.Prefix == "") {
		panic(fmt.Sprintf("feed registration must set exactly one of Name or Prefix: %+v", def))
	}
	if def.Prefix != "" && !strings.HasSuffix(def.Prefix, ":") {
		panic(fmt.Sprintf("dynamic feed prefix %q must end in ':'", def.Prefix))
	}
	if def.Meta && def.Includes == nil {
		panic(fmt.Sprintf("meta feed %s%s has no includes", def.Name, def.Prefix))
	}

	d := def
	if d.Name != "" {
		if _, ok := r.exact[d.Name]; ok {
			panic(fmt.Sprintf("feed %q registered twice", d.Name))
		}
		r.exact[d.Name] = &d
		return
	}
	if _, ok := r.prefixes[d.Prefix]; ok {
		panic(fmt.Sprintf("feed prefix %q registered twice", d.Prefix))
	}
	r.prefixes[d.Prefix] = &d
}

// Resolve looks a name up by exact match first, then by declared prefix.
func (r *Registry) Resolve(name string) (Feed, error) {
	if def, ok := r.exact[name]; ok {
		return Feed{Name: name, def: def}, nil
	}
	if i := strings.Index(name, ":"); i >= 0 {
		prefix := name[:i+1]
		if def, ok := r.prefixes[prefix]; ok {
			arg := name[i+1:]
			if arg != "" {
				return Feed{Name: name, arg: arg, def: def}, nil
			}
		}
	}
	return Feed{}, UnknownFeedError{Name: name}
}

// Expand computes the inclusion closure of the requested feeds: the input
// set unioned with everything their Includes chains pull in, breadth first.
// The returned map records, for every feed in the closure, the name of the
// originally requested feed that pulled it in, so callers can report which
// requested feed an event logically belongs to. Membership is checked
// before insertion, which makes inclusion cycles terminate.
func (r *Registry) Expand(feeds []Feed) ([]Feed, map[string]string, error) {
	closure := make([]Feed, 0, len(feeds))
	origin := make(map[string]string, len(feeds))

	queue := make([]Feed, 0, len(feeds))
	for _, f := range feeds {
		if _, seen := origin[f.Name]; seen {
			continue
		}
		origin[f.Name] = f.Name
		closure = append(closure, f)
		queue = append(queue, f)
	}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		for _, name := range f.includeNames() {
			if _, seen := origin[name]; seen {
				continue
			}
			inc, err := r.Resolve(name)
			if err != nil {
				return nil, nil, err
			}
			origin[name] = origin[f.Name]
			closure = append(closure, inc)
			queue = append(queue, inc)
		}
	}

	return closure, origin, nil
}
