// Package diff computes line-based diffs between two normalized content
// snapshots. A diff with zero atomic changes is the no-op signal: blank-line
// and whitespace-only movement never counts as a change.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Diff types.
const (
	TypeAddition     = "addition"
	TypeModification = "modification"
	TypeDeletion     = "deletion"
)

// AtomicChange is one added or removed line.
type AtomicChange struct {
	Op   string `json:"op"` // "add" | "del"
	Text string `json:"text"`
}

// Diff is the outcome of comparing two snapshots.
type Diff struct {
	DiffType string         // addition | modification | deletion
	Summary  string         // short human-readable summary
	Markdown string         // fenced unified-style diff
	Changes  []AtomicChange // atomic line changes; empty means no-op
}

// Generate computes a line-based diff from before to after.
func Generate(before, after string) *Diff {
	d := diffmatchpatch.New()
	beforeRunes, afterRunes, lines := d.DiffLinesToRunes(before, after)
	diffs := d.DiffCharsToLines(d.DiffMainRunes(beforeRunes, afterRunes, false), lines)

	var raw []AtomicChange
	var md strings.Builder
	md.WriteString("```diff\n")
	for _, part := range diffs {
		for _, line := range splitLines(part.Text) {
			switch part.Type {
			case diffmatchpatch.DiffInsert:
				md.WriteString("+ " + line + "\n")
				if strings.TrimSpace(line) != "" {
					raw = append(raw, AtomicChange{Op: "add", Text: line})
				}
			case diffmatchpatch.DiffDelete:
				md.WriteString("- " + line + "\n")
				if strings.TrimSpace(line) != "" {
					raw = append(raw, AtomicChange{Op: "del", Text: line})
				}
			}
		}
	}
	md.WriteString("```")

	changes := cancelMovedLines(raw)
	var added, removed int
	for _, c := range changes {
		if c.Op == "add" {
			added++
		} else {
			removed++
		}
	}

	out := &Diff{
		DiffType: classify(before, after, added, removed),
		Summary:  summarize(added, removed),
		Changes:  changes,
	}
	if len(changes) > 0 {
		out.Markdown = md.String()
	}
	return out
}

// cancelMovedLines drops delete/insert pairs whose trimmed text is
// identical. Such pairs are line movement (reflow, trailing-newline
// handling, reordering), not content change; the line diff emits them
// whenever the last line of the old content gains a newline.
func cancelMovedLines(raw []AtomicChange) []AtomicChange {
	adds := make(map[string]int)
	dels := make(map[string]int)
	for _, c := range raw {
		key := strings.TrimSpace(c.Text)
		if c.Op == "add" {
			adds[key]++
		} else {
			dels[key]++
		}
	}
	cancel := make(map[string]int)
	for key, n := range dels {
		if m := adds[key]; m > 0 {
			cancel[key] = min(n, m)
		}
	}

	dropped := map[string]map[string]int{"add": {}, "del": {}}
	var out []AtomicChange
	for _, c := range raw {
		key := strings.TrimSpace(c.Text)
		if dropped[c.Op][key] < cancel[key] {
			dropped[c.Op][key]++
			continue
		}
		out = append(out, c)
	}
	return out
}

func classify(before, after string, added, removed int) string {
	switch {
	case strings.TrimSpace(before) == "" && strings.TrimSpace(after) != "":
		return TypeAddition
	case strings.TrimSpace(after) == "" && strings.TrimSpace(before) != "":
		return TypeDeletion
	case added > 0 && removed == 0:
		return TypeAddition
	case removed > 0 && added == 0:
		return TypeDeletion
	default:
		return TypeModification
	}
}

func summarize(added, removed int) string {
	switch {
	case added == 0 && removed == 0:
		return "no changes"
	case removed == 0:
		return fmt.Sprintf("%d line(s) added", added)
	case added == 0:
		return fmt.Sprintf("%d line(s) removed", removed)
	default:
		return fmt.Sprintf("%d line(s) added, %d line(s) removed", added, removed)
	}
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
