// Package views renders the embeddable membership fragments and the admin roster page.
// Rendering is a pure function of the data passed in; no view touches storage.
package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"membership/internal/application/listutil"
	"membership/internal/domain/member"
)

//go:embed templates/*.html
var templateFS embed.FS

// mdRenderer escapes raw HTML in markdown input (WithUnsafe is not set).
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// RenderMarkdown converts md to HTML, falling back to escaped text.
func RenderMarkdown(md string) template.HTML {
	if md == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// Status panel states.
const (
	StatusEnrolled    = "enrolled"
	StatusNotEnrolled = "not_enrolled"
	StatusNoEmail     = "no_email"
)

// EnrollFormData feeds enroll_form.html.
type EnrollFormData struct {
	AlreadyEnrolled bool
	ActionURL       string
	Token           string        // per-action anti-forgery token
	CSRFField       template.HTML // gorilla/csrf hidden input
	Intro           template.HTML
}

// StatusPanelData feeds status_panel.html.
type StatusPanelData struct {
	State      string
	FullName   string
	Flags      member.Flags
	Eligible   bool
	ContactURL string
	EnrollURL  string
}

// RosterData feeds admin_roster.html.
type RosterData struct {
	Members []member.Member
	Params  listutil.RosterParams
	Shown   int
	Total   int
	Updated bool // show the "updated" notice

	UpdateToken string
	ExportToken string
	ImportToken string
	CSRFField   template.HTML
}

// HasFilters reports whether the roster is narrowed by filter or search.
func (d RosterData) HasFilters() bool {
	return d.Params.Search != "" || (d.Params.Filter != "" && d.Params.Filter != member.FilterAll)
}

// SortLink returns the roster query for sorting by col, toggling direction on the active column.
func (d RosterData) SortLink(col string) template.URL {
	return template.URL("?" + d.Params.SortLink(col))
}

var funcs = template.FuncMap{
	"verified": func(b bool) string {
		if b {
			return "✅ Verified"
		}
		return "❌ Not Verified"
	},
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}

// Renderer holds the parsed templates.
type Renderer struct {
	tpl *template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	tpl, err := template.New("views").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tpl: tpl}, nil
}

// MustNew is New for package-level initialisation and tests.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// EnrollForm renders the enrollment form, or the already-enrolled message.
func (r *Renderer) EnrollForm(w io.Writer, d EnrollFormData) error {
	return r.tpl.ExecuteTemplate(w, "enroll_form.html", d)
}

// StatusPanel renders one member's engagement status.
func (r *Renderer) StatusPanel(w io.Writer, d StatusPanelData) error {
	return r.tpl.ExecuteTemplate(w, "status_panel.html", d)
}

// AdminRoster renders the full admin page.
func (r *Renderer) AdminRoster(w io.Writer, d RosterData) error {
	return r.tpl.ExecuteTemplate(w, "admin_roster.html", d)
}
