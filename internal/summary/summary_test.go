package summary

import (
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	// WHAT: Absent should_notify defaults to true for ok, false otherwise;
	// unknown statuses collapse to no_changes.
	// WHY: The payload comes from an external model and is never trusted
	// to be complete or well-formed.
	s, err := Parse([]byte(`{"status":"ok","title":"t","features":["a"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if !s.ShouldNotify {
		t.Fatal("ok without should_notify must default to true")
	}

	s, err = Parse([]byte(`{"status":"weird"}`))
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusNoChanges {
		t.Fatalf("got status %q, want no_changes", s.Status)
	}
	if s.ShouldNotify {
		t.Fatal("no_changes must default should_notify to false")
	}

	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseTrimsEntries(t *testing.T) {
	s, err := Parse([]byte(`{"status":"ok","features":["  a  ","","b"]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Features) != 2 || s.Features[0] != "a" || s.Features[1] != "b" {
		t.Fatalf("got features %v, want [a b]", s.Features)
	}
}

func TestEnforcePolicy(t *testing.T) {
	// WHAT: The gate re-derives should_notify from feature/fix counts.
	// WHY: The upstream boolean is advisory; these thresholds are the
	// authoritative anti-noise rules.
	cases := []struct {
		name     string
		in       StructuredSummary
		want     bool
	}{
		{"not ok forces false", StructuredSummary{Status: StatusNoChanges, ShouldNotify: true}, false},
		{"nothing actionable", StructuredSummary{Status: StatusOK, ShouldNotify: true}, false},
		{"one fix only", StructuredSummary{Status: StatusOK, ShouldNotify: true, Fixes: []string{"f1"}}, false},
		{"two fixes only", StructuredSummary{Status: StatusOK, ShouldNotify: true, Fixes: []string{"f1", "f2"}}, false},
		{"three fixes", StructuredSummary{Status: StatusOK, ShouldNotify: true, Fixes: []string{"f1", "f2", "f3"}}, true},
		{"one feature", StructuredSummary{Status: StatusOK, ShouldNotify: true, Features: []string{"a"}}, true},
		{"feature plus fix", StructuredSummary{Status: StatusOK, ShouldNotify: true, Features: []string{"a"}, Fixes: []string{"f"}}, true},
		{"upstream false passes through", StructuredSummary{Status: StatusOK, ShouldNotify: false, Features: []string{"a"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EnforcePolicy(tc.in)
			if got.ShouldNotify != tc.want {
				t.Fatalf("got should_notify=%v, want %v", got.ShouldNotify, tc.want)
			}
			if !got.ShouldNotify && got.SkipReason == "" && tc.in.SkipReason == "" && tc.name != "upstream false passes through" {
				t.Fatal("suppression must carry a skip reason")
			}
		})
	}
}

func TestEnforcePolicyDoesNotMutateInput(t *testing.T) {
	in := StructuredSummary{Status: StatusOK, ShouldNotify: true}
	EnforcePolicy(in)
	if !in.ShouldNotify {
		t.Fatal("input must not be mutated")
	}
}

func TestMetaRoundTrip(t *testing.T) {
	s := &StructuredSummary{Status: StatusOK, Title: "t", Features: []string{"a"}, ShouldNotify: true}
	raw := MarshalMeta(s)
	got := UnmarshalMeta(raw)
	if got == nil || got.Title != "t" || len(got.Features) != 1 {
		t.Fatalf("round trip failed: %+v", got)
	}
	if UnmarshalMeta("") != nil || UnmarshalMeta("garbage") != nil {
		t.Fatal("empty or malformed meta must yield nil")
	}
}

func TestAggregateMultipleSlices(t *testing.T) {
	// WHAT: Three slices collapse into one bundle with per-version headers
	// and bullets from every slice.
	slices := []Slice{
		{Version: "v1.1.0", Structured: &StructuredSummary{Status: StatusOK, Features: []string{"feature one"}}},
		{Version: "v1.2.0", Structured: &StructuredSummary{Status: StatusOK, Fixes: []string{"fix two"}}},
		{Version: "v1.3.0", Fallback: "raw highlight\nsecond line"},
	}
	title, body := Aggregate(slices)
	if !strings.Contains(title, "v1.1.0") || !strings.Contains(title, "v1.3.0") || !strings.Contains(title, "3 releases") {
		t.Fatalf("got title %q", title)
	}
	for _, want := range []string{"## v1.1.0", "- feature one", "- Fix: fix two", "- raw highlight"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "second line") {
		t.Fatal("fallback must be truncated to its first line")
	}
}

func TestAggregateSingleSlice(t *testing.T) {
	title, body := Aggregate([]Slice{
		{Version: "v2.0.0", Structured: &StructuredSummary{Status: StatusOK, Title: "big release", Features: []string{"x"}}},
	})
	if title != "v2.0.0" {
		t.Fatalf("got title %q, want v2.0.0", title)
	}
	if !strings.Contains(body, "- x") {
		t.Fatalf("got body %q", body)
	}
}

func TestAggregateEmpty(t *testing.T) {
	title, body := Aggregate(nil)
	if title != "" || body != "" {
		t.Fatalf("got %q/%q, want empty", title, body)
	}
}
