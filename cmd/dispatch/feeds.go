package main

import (
	"github.com/opencivics/dispatch/internal/domain"
)

// newFeedRegistry builds the civic feed set. Exact misc feeds cover the
// sitewide firehoses; dynamic prefixes cover per-bill, per-committee, and
// per-person feeds, with the person feed aggregating votes and sponsorship.
func newFeedRegistry() *domain.Registry {
	r := domain.NewRegistry()

	r.Register(domain.FeedDef{
		Name:  "misc:allvotes",
		Title: "All Roll Call Votes",
	})
	r.Register(domain.FeedDef{
		Name:  "misc:activebills",
		Title: "Activity on Legislation",
	})
	r.Register(domain.FeedDef{
		Name:            "misc:enactedbills",
		Title:           "Enacted Bills",
		SingleEventType: true,
	})
	r.Register(domain.FeedDef{
		Name:            "misc:introducedbills",
		Title:           "Introduced Bills",
		SingleEventType: true,
	})
	r.Register(domain.FeedDef{
		Name:  "misc:allcommittee",
		Title: "Committee Meetings",
	})
	r.Register(domain.FeedDef{
		Name:  "misc:comingup",
		Title: "Legislation Coming Up",
		Meta:  true,
		Includes: func(string) []string {
			return []string{"misc:activebills", "misc:allcommittee"}
		},
	})

	r.Register(domain.FeedDef{
		Prefix: "bill:",
		TitleFunc: func(arg string) string {
			return "Bill " + arg
		},
	})
	r.Register(domain.FeedDef{
		Prefix: "committee:",
		TitleFunc: func(arg string) string {
			return "Committee " + arg
		},
	})
	r.Register(domain.FeedDef{
		Prefix: "pv:",
		TitleFunc: func(arg string) string {
			return "Votes by Person " + arg
		},
		SingleEventType: true,
	})
	r.Register(domain.FeedDef{
		Prefix: "ps:",
		TitleFunc: func(arg string) string {
			return "Bills Sponsored by Person " + arg
		},
		SingleEventType: true,
	})
	r.Register(domain.FeedDef{
		Prefix: "p:",
		TitleFunc: func(arg string) string {
			return "Person " + arg
		},
		Includes: func(arg string) []string {
			return []string{"pv:" + arg, "ps:" + arg}
		},
	})

	return r
}
