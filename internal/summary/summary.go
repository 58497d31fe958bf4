// Package summary defines the structured summary schema and the
// notification policy applied over it.
//
// The structured payload is produced by an external summarizer and is
// untrusted: EnforcePolicy re-derives the notify decision from feature and
// fix counts, so the upstream should_notify boolean is advisory input only.
package summary

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Summary statuses.
const (
	StatusOK        = "ok"
	StatusNoChanges = "no_changes"
)

// StructuredSummary is the normalized AI output attached to a change as
// serialized JSON. Schema version 1.
type StructuredSummary struct {
	Status       string   `json:"status"` // ok | no_changes
	Title        string   `json:"title,omitempty"`
	Features     []string `json:"features,omitempty"`
	Fixes        []string `json:"fixes,omitempty"`
	ShouldNotify bool     `json:"should_notify"`
	SkipReason   string   `json:"skip_reason,omitempty"`
	Importance   string   `json:"importance,omitempty"` // low | medium | high
}

// wireSummary mirrors StructuredSummary but keeps should_notify optional,
// so an absent field can default to true for ok summaries.
type wireSummary struct {
	Status       string   `json:"status"`
	Title        string   `json:"title"`
	Features     []string `json:"features"`
	Fixes        []string `json:"fixes"`
	ShouldNotify *bool    `json:"should_notify"`
	SkipReason   string   `json:"skip_reason"`
	Importance   string   `json:"importance"`
}

// Parse decodes untrusted summarizer JSON into a StructuredSummary.
// Unknown status values collapse to no_changes; a missing should_notify
// defaults to true when status is ok.
func Parse(raw []byte) (*StructuredSummary, error) {
	var w wireSummary
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("summary: parse: %w", err)
	}
	s := &StructuredSummary{
		Title:      strings.TrimSpace(w.Title),
		Features:   trimAll(w.Features),
		Fixes:      trimAll(w.Fixes),
		SkipReason: strings.TrimSpace(w.SkipReason),
		Importance: strings.TrimSpace(w.Importance),
	}
	switch w.Status {
	case StatusOK:
		s.Status = StatusOK
	default:
		s.Status = StatusNoChanges
	}
	if w.ShouldNotify != nil {
		s.ShouldNotify = *w.ShouldNotify
	} else {
		s.ShouldNotify = s.Status == StatusOK
	}
	return s, nil
}

// EnforcePolicy applies the authoritative notification policy and returns
// the corrected summary. Rules, in order:
//
//  1. status != ok forces should_notify = false.
//  2. ok with zero features and zero fixes forces false (nothing actionable).
//  3. ok with zero features and one or two fixes forces false (anti-noise:
//     a bug-fix-only trickle is not worth an alert).
//  4. otherwise the upstream decision passes through.
func EnforcePolicy(s StructuredSummary) StructuredSummary {
	out := s
	if out.Status != StatusOK {
		out.ShouldNotify = false
		if out.SkipReason == "" {
			out.SkipReason = "no changes reported"
		}
		return out
	}
	nf, nx := len(out.Features), len(out.Fixes)
	switch {
	case nf == 0 && nx == 0:
		out.ShouldNotify = false
		out.SkipReason = "no actionable changes"
	case nf == 0 && nx <= 2:
		out.ShouldNotify = false
		out.SkipReason = "bug-fix-only change below notification threshold"
	}
	return out
}

// MarshalMeta serializes a summary for storage on a change row.
func MarshalMeta(s *StructuredSummary) string {
	if s == nil {
		return ""
	}
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}

// UnmarshalMeta decodes a stored ai_meta_json column. Returns nil for
// empty or malformed payloads.
func UnmarshalMeta(raw string) *StructuredSummary {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	s, err := Parse([]byte(raw))
	if err != nil {
		return nil
	}
	return s
}

func trimAll(in []string) []string {
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
