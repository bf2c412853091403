package domain

import (
	"sort"
	"testing"
)

func civicRegistry() *Registry {
	r := NewRegistry()
	r.Register(FeedDef{Name: "misc:allvotes", Title: "All Roll Call Votes"})
	r.Register(FeedDef{Name: "misc:activebills", Title: "Activity on Legislation"})
	r.Register(FeedDef{Name: "misc:allcommittee", Title: "Committee Meetings"})
	r.Register(FeedDef{
		Name: "misc:comingup",
		Meta: true,
		Includes: func(string) []string {
			return []string{"misc:activebills", "misc:allcommittee"}
		},
	})
	r.Register(FeedDef{Prefix: "pv:", TitleFunc: func(arg string) string { return "Votes by " + arg }})
	r.Register(FeedDef{Prefix: "ps:", TitleFunc: func(arg string) string { return "Sponsorship by " + arg }})
	r.Register(FeedDef{
		Prefix: "p:",
		TitleFunc: func(arg string) string { return "Person " + arg },
		Includes: func(arg string) []string {
			return []string{"pv:" + arg, "ps:" + arg}
		},
	})
	return r
}

func TestResolveExact(t *testing.T) {
	r := civicRegistry()

	feed, err := r.Resolve("misc:allvotes")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if feed.Name != "misc:allvotes" || feed.Title() != "All Roll Call Votes" {
		t.Fatalf("unexpected feed %+v", feed)
	}
	if feed.Meta() {
		t.Fatalf("misc:allvotes should not be meta")
	}
}

func TestResolvePrefix(t *testing.T) {
	r := civicRegistry()

	feed, err := r.Resolve("p:400629")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if feed.Title() != "Person 400629" {
		t.Fatalf("unexpected title %q", feed.Title())
	}
}

func TestResolveUnknown(t *testing.T) {
	r := civicRegistry()

	for _, name := range []string{"nosuch", "bill:hr1", "p:", "misc:unknown"} {
		if _, err := r.Resolve(name); err == nil {
			t.Fatalf("expected %q to be unknown", name)
		}
	}
}

func TestRegisterPanicsOnMalformed(t *testing.T) {
	cases := []struct {
		name string
		def  FeedDef
	}{
		{"neither name nor prefix", FeedDef{}},
		{"both name and prefix", FeedDef{Name: "a", Prefix: "b:"}},
		{"prefix without colon", FeedDef{Prefix: "bill"}},
		{"meta without includes", FeedDef{Name: "m", Meta: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			NewRegistry().Register(tc.def)
		})
	}
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.Register(FeedDef{Name: "a"})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	r.Register(FeedDef{Name: "a"})
}

func TestExpandClosureWithOrigin(t *testing.T) {
	r := civicRegistry()

	requested, err := r.Resolve("p:100")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	closure, origin, err := r.Expand([]Feed{requested})
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}

	names := make([]string, 0, len(closure))
	for _, f := range closure {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	want := []string{"p:100", "ps:100", "pv:100"}
	if len(names) != len(want) {
		t.Fatalf("closure %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("closure %v, want %v", names, want)
		}
	}
	for _, name := range want {
		if origin[name] != "p:100" {
			t.Fatalf("origin[%s] = %q, want p:100", name, origin[name])
		}
	}
}

func TestExpandKeepsRequestedOrigin(t *testing.T) {
	r := civicRegistry()

	// pv:100 requested directly keeps itself as origin even though p:100
	// would also pull it in.
	pv, _ := r.Resolve("pv:100")
	p, _ := r.Resolve("p:100")
	_, origin, err := r.Expand([]Feed{pv, p})
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if origin["pv:100"] != "pv:100" {
		t.Fatalf("origin[pv:100] = %q, want pv:100", origin["pv:100"])
	}
	if origin["ps:100"] != "p:100" {
		t.Fatalf("origin[ps:100] = %q, want p:100", origin["ps:100"])
	}
}

func TestExpandTerminatesOnCycle(t *testing.T) {
	r := NewRegistry()
	r.Register(FeedDef{Name: "a", Includes: func(string) []string { return []string{"b"} }})
	r.Register(FeedDef{Name: "b", Includes: func(string) []string { return []string{"a"} }})

	a, _ := r.Resolve("a")
	closure, _, err := r.Expand([]Feed{a})
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	if len(closure) != 2 {
		t.Fatalf("closure size %d, want 2", len(closure))
	}
}

func TestExpandUnknownInclude(t *testing.T) {
	r := NewRegistry()
	r.Register(FeedDef{Name: "a", Includes: func(string) []string { return []string{"missing"} }})

	a, _ := r.Resolve("a")
	if _, _, err := r.Expand([]Feed{a}); err == nil {
		t.Fatalf("expected error for unknown include")
	}
}
