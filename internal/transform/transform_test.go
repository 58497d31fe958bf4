package transform

import (
	"strings"
	"testing"
)

func TestConvertStripsVolatileMarkup(t *testing.T) {
	// WHAT: Scripts and style never survive conversion; two documents that
	// differ only in them normalize identically.
	// WHY: The content hash is computed over the converted text, so
	// volatile markup would otherwise produce false changes.
	tr := New()
	a, err := tr.Convert(`<html><body><h1>Release notes</h1><p>Fixed a bug.</p></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tr.Convert(`<html><head><script>track("` + "xyz" + `")</script></head><body><h1>Release notes</h1><p>Fixed a bug.</p></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("script-only difference must normalize away:\n%q\nvs\n%q", a, b)
	}
	if !strings.Contains(a, "Release notes") || !strings.Contains(a, "Fixed a bug.") {
		t.Fatalf("content lost: %q", a)
	}
	if strings.Contains(b, "track(") {
		t.Fatalf("script leaked into output: %q", b)
	}
}

func TestConvertHeadings(t *testing.T) {
	tr := New()
	md, err := tr.Convert(`<h2>Changes</h2><ul><li>one</li><li>two</li></ul>`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "Changes") || !strings.Contains(md, "one") {
		t.Fatalf("got %q", md)
	}
}

func TestLooksLikeHTML(t *testing.T) {
	cases := []struct {
		contentType string
		content     string
		want        bool
	}{
		{"text/html; charset=utf-8", "anything", true},
		{"application/xhtml+xml", "anything", true},
		{"application/json", `{"html": "<html>"}`, false},
		{"text/plain", "just text", false},
		{"", "<!DOCTYPE html><html><body>hi</body></html>", true},
		{"", "<div>fragment</div>", true},
		{"", "# markdown heading", false},
		{"text/plain", "<html><body>mislabeled</body></html>", true},
	}
	for _, tc := range cases {
		if got := LooksLikeHTML(tc.contentType, []byte(tc.content)); got != tc.want {
			t.Errorf("LooksLikeHTML(%q, %q) = %v, want %v", tc.contentType, tc.content, got, tc.want)
		}
	}
}

func TestTitle(t *testing.T) {
	if got := Title(`<html><head><title>  My Page </title></head><body></body></html>`); got != "My Page" {
		t.Fatalf("got %q", got)
	}
	if got := Title(`<html><body>no title</body></html>`); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
