package summary

import (
	"fmt"
	"strings"
)

// Slice is one release-version contribution to an aggregated notification.
type Slice struct {
	Version    string
	Structured *StructuredSummary
	// Fallback is a one-line highlight used when the slice has no
	// structured data (summarizer opt-out or failure).
	Fallback string
}

// Aggregate builds one human-readable bundle from multiple notify-worthy
// slices: a combined title plus feature/fix bullets per version. Slices
// without structured data contribute their fallback highlight.
func Aggregate(slices []Slice) (title, body string) {
	if len(slices) == 0 {
		return "", ""
	}
	versions := make([]string, 0, len(slices))
	for _, sl := range slices {
		if sl.Version != "" {
			versions = append(versions, sl.Version)
		}
	}
	switch {
	case len(versions) == 0:
		title = fmt.Sprintf("%d updates", len(slices))
	case len(versions) == 1:
		title = versions[0]
	default:
		title = fmt.Sprintf("%s … %s (%d releases)", versions[0], versions[len(versions)-1], len(versions))
	}

	var b strings.Builder
	for i, sl := range slices {
		if i > 0 {
			b.WriteString("\n")
		}
		header := sl.Version
		if header == "" && sl.Structured != nil {
			header = sl.Structured.Title
		}
		if header != "" {
			b.WriteString("## ")
			b.WriteString(header)
			b.WriteString("\n")
		}
		if sl.Structured == nil {
			if sl.Fallback != "" {
				b.WriteString("- ")
				b.WriteString(firstLine(sl.Fallback))
				b.WriteString("\n")
			}
			continue
		}
		for _, f := range sl.Structured.Features {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
		for _, f := range sl.Structured.Fixes {
			b.WriteString("- Fix: ")
			b.WriteString(f)
			b.WriteString("\n")
		}
		if len(sl.Structured.Features) == 0 && len(sl.Structured.Fixes) == 0 && sl.Structured.Title != "" {
			b.WriteString("- ")
			b.WriteString(sl.Structured.Title)
			b.WriteString("\n")
		}
	}
	return title, strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		s = s[:max] + "…"
	}
	return s
}
