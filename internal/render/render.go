// Package render turns a subscriber's digest into the text and HTML mail
// bodies. Each event's body is itself a template supplied by its producer
// and executed against the producer's context, so this package never knows
// what a vote or a bill looks like.
package render

import (
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/pkg/errors"

	"github.com/opencivics/dispatch"
	"github.com/opencivics/dispatch/internal/usecase"
)

const textDigest = `Tracked events update for {{.Date}}

{{if .Announcement}}{{.Announcement}}

------------------------------------------------------------

{{end}}{{range .Sections}}{{.Name}}
============================================================
{{range .Items}}
{{.Title}}
{{.When}}{{if .Feeds}} | {{join .Feeds ", "}}{{end}}{{if .URL}}
{{.URL}}{{end}}{{if .Body}}
{{.Body}}{{end}}
{{end}}
{{end}}`

const htmlDigest = `<html><body>
<h1>Tracked events update for {{.Date}}</h1>
{{if .Announcement}}<p class="announcement">{{.Announcement}}</p><hr>{{end}}
{{range .Sections}}<h2>{{.Name}}</h2>
{{range .Items}}<div class="event">
<h3>{{if .URL}}<a href="{{.URL}}">{{.Title}}</a>{{else}}{{.Title}}{{end}}</h3>
<p class="meta">{{.When}}{{if .Feeds}} &mdash; {{join .Feeds ", "}}{{end}}</p>
{{if .Body}}<div class="body">{{.Body}}</div>{{end}}
</div>
{{end}}{{end}}</body></html>`

type digestData struct {
	Announcement string
	Date         string
	Sections     []sectionData
}

type sectionData struct {
	Name  string
	Items []itemData
}

type itemData struct {
	Title string
	URL   string
	When  string
	Feeds []string
	Body  any // string for text, template.HTML for html
}

// Renderer implements the digest rendering port.
type Renderer struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

func New() *Renderer {
	funcs := map[string]any{"join": strings.Join}
	return &Renderer{
		text: texttemplate.Must(texttemplate.New("digest").Funcs(funcs).Parse(textDigest)),
		html: htmltemplate.Must(htmltemplate.New("digest").Funcs(funcs).Parse(htmlDigest)),
	}
}

func (r *Renderer) RenderDigest(d usecase.Digest) (string, string, error) {
	textData, err := r.assemble(d, renderItemText)
	if err != nil {
		return "", "", err
	}
	htmlData, err := r.assemble(d, renderItemHTML)
	if err != nil {
		return "", "", err
	}

	var textOut, htmlOut strings.Builder
	if err := r.text.Execute(&textOut, textData); err != nil {
		return "", "", errors.Wrap(err, "rendering text digest")
	}
	if err := r.html.Execute(&htmlOut, htmlData); err != nil {
		return "", "", errors.Wrap(err, "rendering html digest")
	}
	return textOut.String(), htmlOut.String(), nil
}

func (r *Renderer) assemble(d usecase.Digest, body func(dispatch.EventView) (any, error)) (digestData, error) {
	data := digestData{
		Announcement: d.Announcement,
		Date:         d.Date.Format("Jan 2, 2006"),
	}
	for _, section := range d.Sections {
		sd := sectionData{Name: section.List.Name}
		for _, item := range section.Items {
			rendered, err := body(item.View)
			if err != nil {
				return digestData{}, errors.Wrapf(err, "event %s/%s", item.Item.Source, item.Item.EventID)
			}
			when := item.View.When
			if when.IsZero() {
				when = item.Item.When
			}
			sd.Items = append(sd.Items, itemData{
				Title: item.View.Title,
				URL:   item.View.URL,
				When:  formatWhen(when, item.View.DateHasTime),
				Feeds: item.Item.Feeds,
				Body:  rendered,
			})
		}
		data.Sections = append(data.Sections, sd)
	}
	return data, nil
}

func renderItemText(view dispatch.EventView) (any, error) {
	if view.BodyText == "" {
		return "", nil
	}
	tmpl, err := texttemplate.New("body").Parse(view.BodyText)
	if err != nil {
		return nil, err
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, view.Context); err != nil {
		return nil, err
	}
	return strings.TrimSpace(out.String()), nil
}

// renderItemHTML trusts the producer's template, not its context: the
// template text is first-party, the context values are escaped by
// html/template as usual.
func renderItemHTML(view dispatch.EventView) (any, error) {
	if view.BodyHTML == "" {
		return htmltemplate.HTML(""), nil
	}
	tmpl, err := htmltemplate.New("body").Parse(view.BodyHTML)
	if err != nil {
		return nil, err
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, view.Context); err != nil {
		return nil, err
	}
	return htmltemplate.HTML(out.String()), nil
}

func formatWhen(t time.Time, hasTime bool) string {
	if hasTime {
		return t.Format("Jan 2, 2006 3:04 PM")
	}
	return t.Format("Jan 2, 2006")
}

var _ usecase.DigestRenderer = (*Renderer)(nil)
