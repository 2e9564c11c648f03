package filter

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemplate(t *testing.T, dir, rel, body string) {
	t.Helper()
	p := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEmbeddedRenderer(t *testing.T) {
	r, err := NewTemplateRenderer(DefaultTemplateOptions())
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := r.Render(&buf, PageData{StatusCode: 503, RetryAfter: 1800}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "<!DOCTYPE html>") || !strings.Contains(out, "30 minutes") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestDirectoryRendererWithLayout(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "pages/down.tmpl", `<p>back in {{.RetryAfterText}} ({{.Path}})</p>`)
	writeTemplate(t, dir, "layout/site.tmpl", `<body>{{template "content" .}}</body>`)

	r, err := NewTemplateRenderer(TemplateOptions{Dir: dir, Path: "pages", Name: "down", Layout: "site", Extension: ".tmpl"})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := r.Render(&buf, PageData{RetryAfter: 60, Path: "/<x>"}); err != nil {
		t.Fatal(err)
	}
	want := `<body><p>back in 1 minute (/&lt;x&gt;)</p></body>`
	if buf.String() != want {
		t.Errorf("got %q want %q", buf.String(), want)
	}
}

func TestDirectoryRendererWithoutLayout(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "maintenance.html", `down {{.StatusCode}}`)

	r, err := NewTemplateRenderer(TemplateOptions{Dir: dir, Name: "maintenance", Extension: ".html"})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	_ = r.Render(&buf, PageData{StatusCode: 503})
	if buf.String() != "down 503" {
		t.Errorf("got %q", buf.String())
	}
}

func TestRendererConfigErrors(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "error/maintenance.html", `{{.Broken`)

	cases := map[string]TemplateOptions{
		"parse":          {Dir: dir, Path: "error", Name: "maintenance", Extension: ".html"},
		"missing layout": {Dir: t.TempDir(), Path: "", Name: "x", Layout: "none", Extension: ".html"},
		"escape":         {Dir: dir, Path: "../..", Name: "maintenance", Extension: ".html"},
		"extension":      {Dir: dir, Path: "error", Name: "maintenance", Extension: "html"},
		"empty name":     {Dir: dir, Path: "error", Extension: ".html"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTemplateRenderer(opts)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
		})
	}
}

func TestRetryAfterText(t *testing.T) {
	cases := map[int]string{3600: "1 hour", 7200: "2 hours", 120: "2 minutes", 60: "1 minute", 90: "90 seconds", 1: "1 second"}
	for secs, want := range cases {
		if got := (PageData{RetryAfter: secs}).RetryAfterText(); got != want {
			t.Errorf("RetryAfterText(%d): got %q want %q", secs, got, want)
		}
	}
}
