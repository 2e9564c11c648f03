package filter

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

//go:embed templates
var embedded embed.FS

// PageData is passed to the maintenance page template.
type PageData struct {
	StatusCode int
	// RetryAfter is in seconds, 0 when no Retry-After header is sent.
	RetryAfter int
	Path       string
	RequestID  string
}

// RetryAfterText renders RetryAfter for humans, e.g. "1 hour" or "90 seconds".
func (p PageData) RetryAfterText() string {
	s := p.RetryAfter
	switch {
	case s >= 3600 && s%3600 == 0:
		return plural(s/3600, "hour")
	case s >= 60 && s%60 == 0:
		return plural(s/60, "minute")
	default:
		return plural(s, "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Renderer produces the maintenance page body.
type Renderer interface {
	Render(w io.Writer, data PageData) error
}

// TemplateOptions locate the maintenance page. The page is read from
// <Dir>/<Path>/<Name><Extension>; a non-empty Layout wraps it with
// <Dir>/layout/<Layout><Extension>, which must call {{template "content" .}}.
// An empty Dir selects the built-in page.
type TemplateOptions struct {
	Dir       string
	Path      string
	Name      string
	Layout    string
	Extension string
}

// DefaultTemplateOptions match the built-in page.
func DefaultTemplateOptions() TemplateOptions {
	return TemplateOptions{
		Path:      "error",
		Name:      "maintenance",
		Layout:    "maintenance",
		Extension: ".html",
	}
}

// TemplateRenderer renders an html/template page parsed once at construction.
type TemplateRenderer struct {
	tmpl *template.Template
}

// NewTemplateRenderer parses the configured page and optional layout.
func NewTemplateRenderer(opts TemplateOptions) (*TemplateRenderer, error) {
	for field, v := range map[string]string{"template path": opts.Path, "template layout": opts.Layout} {
		if !cleanSegment(v, true) {
			return nil, &ConfigError{Field: field, Msg: fmt.Sprintf("%q must be a relative path inside the template directory", v)}
		}
	}
	if !cleanSegment(opts.Name, false) {
		return nil, &ConfigError{Field: "template name", Msg: fmt.Sprintf("%q must be a file name", opts.Name)}
	}
	if opts.Extension != "" && !strings.HasPrefix(opts.Extension, ".") {
		return nil, &ConfigError{Field: "template extension", Msg: fmt.Sprintf("%q must start with a dot", opts.Extension)}
	}

	var fsys fs.FS
	if opts.Dir == "" {
		sub, err := fs.Sub(embedded, "templates")
		if err != nil {
			return nil, err
		}
		fsys = sub
	} else {
		fsys = os.DirFS(opts.Dir)
	}

	page, err := fs.ReadFile(fsys, path.Join(opts.Path, opts.Name+opts.Extension))
	if err != nil {
		return nil, &ConfigError{Field: "template", Msg: err.Error()}
	}

	var root *template.Template
	if opts.Layout == "" {
		root, err = template.New(opts.Name).Parse(string(page))
	} else {
		var layout []byte
		layout, err = fs.ReadFile(fsys, path.Join("layout", opts.Layout+opts.Extension))
		if err != nil {
			return nil, &ConfigError{Field: "template layout", Msg: err.Error()}
		}
		root, err = template.New(opts.Layout).Parse(string(layout))
		if err == nil {
			_, err = root.New("content").Parse(string(page))
		}
	}
	if err != nil {
		return nil, &ConfigError{Field: "template", Msg: err.Error()}
	}
	return &TemplateRenderer{tmpl: root}, nil
}

// Render executes the parsed template.
func (r *TemplateRenderer) Render(w io.Writer, data PageData) error {
	return r.tmpl.Execute(w, data)
}

// cleanSegment reports whether s stays inside the template root. Path
// separators are allowed only when nested is set.
func cleanSegment(s string, nested bool) bool {
	if s == "" {
		return nested
	}
	if strings.Contains(s, "\\") || path.IsAbs(s) {
		return false
	}
	if !nested && strings.Contains(s, "/") {
		return false
	}
	return fs.ValidPath(s)
}
