package extractors

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/custodia-labs/docpipe/internal/core/ports/driven"
)

// Mock extractor for testing
type mockExtractor struct {
	name     string
	types    []string
	priority int
}

func (m *mockExtractor) Extract(ctx context.Context, path, mimeType string) (*driven.ExtractedText, error) {
	return &driven.ExtractedText{Text: m.name, Quality: 1}, nil
}

func (m *mockExtractor) SupportedTypes() []string {
	return m.types
}

func (m *mockExtractor) Priority() int {
	return m.priority
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "test", types: []string{"text/plain"}, priority: 50})

	types := r.List()
	if len(types) != 1 || types[0] != "text/plain" {
		t.Errorf("unexpected types %v", types)
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "test", types: []string{"text/plain"}, priority: 50})

	if r.Get("text/plain") == nil {
		t.Fatal("expected to find extractor")
	}
	if r.Get("application/pdf") != nil {
		t.Error("expected nil for unregistered type")
	}
}

func TestRegistry_Get_PrioritySelection(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "low", types: []string{"text/plain"}, priority: 10})
	r.Register(&mockExtractor{name: "high", types: []string{"text/plain"}, priority: 90})
	r.Register(&mockExtractor{name: "medium", types: []string{"text/plain"}, priority: 50})

	e := r.Get("text/plain").(*mockExtractor)
	if e.name != "high" {
		t.Errorf("expected high priority extractor, got %s", e.name)
	}

	all := r.GetAll("text/plain")
	if len(all) != 3 || all[2].(*mockExtractor).name != "low" {
		t.Errorf("expected priority order, got %d entries", len(all))
	}
}

func TestRegistry_WildcardMatching(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "text", types: []string{"text/*"}, priority: 20})
	r.Register(&mockExtractor{name: "any", types: []string{"*/*"}, priority: 1})

	if e := r.Get("text/csv; charset=utf-8").(*mockExtractor); e.name != "text" {
		t.Errorf("expected text wildcard, got %s", e.name)
	}
	if e := r.Get("image/png").(*mockExtractor); e.name != "any" {
		t.Errorf("expected universal wildcard, got %s", e.name)
	}
}

func TestBaseMIME(t *testing.T) {
	if got := BaseMIME(" Text/HTML; charset=UTF-8 "); got != "text/html" {
		t.Errorf("got %q", got)
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	for _, mime := range []string{"text/plain", "text/markdown", "text/html"} {
		if r.Get(mime) == nil {
			t.Errorf("expected extractor for %s", mime)
		}
	}
	if r.Get("application/pdf") != nil {
		t.Error("expected pdf to be registered by the pdf adapter, not by default")
	}
}

func TestScore(t *testing.T) {
	long := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 10)
	if s := Score(long); s < 0.95 {
		t.Errorf("expected high score for clean prose, got %f", s)
	}
	if s := Score(""); s != 0 {
		t.Errorf("expected 0 for empty text, got %f", s)
	}
	garbled := strings.Repeat("\x01\x02\x03�", 100)
	if s := Score(garbled); s > 0.1 {
		t.Errorf("expected low score for garbled text, got %f", s)
	}
	if s := Score("short"); s > 0.05 {
		t.Errorf("expected short text to be scaled down, got %f", s)
	}
}

func TestHTMLExtractor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	html := "<html><head><style>p{}</style><script>x()</script></head><body><p>Hello &amp; welcome</p></body></html>"
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := (&HTMLExtractor{}).Extract(context.Background(), path, "text/html")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if out.Text != "Hello & welcome" {
		t.Errorf("unexpected text %q", out.Text)
	}
}

func TestPlainTextExtractor_InvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin.txt")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0xfd}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (&PlainTextExtractor{}).Extract(context.Background(), path, "text/plain"); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestMarkdownExtractor_CollapsesBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("# Title\r\n\r\n\r\n\r\nBody\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := (&MarkdownExtractor{}).Extract(context.Background(), path, "text/markdown")
	if err != nil {
		t.Fatal(err)
	}
	if out.Text != "# Title\n\nBody" {
		t.Errorf("unexpected text %q", out.Text)
	}
}
