package entry

import (
	"strings"
	"sync"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// Filter restricts matches by metadata. Constraints are applied in
// declaration order; an entry with no metadata fails any constraint
// that references metadata.
type Filter struct {
	// States restricts to entries whose state is one of the listed values.
	States []State

	// MinState drops entries whose state ranks below the given state.
	// Empty means no minimum.
	MinState State

	// MinQuality drops entries whose quality is absent or below the
	// given value. Zero means no minimum.
	MinQuality int

	// ContextIncludes requires every needle to appear, case-insensitive,
	// in metadata.context.
	ContextIncludes []string

	// RequiredProperties requires every key/value pair to match exactly
	// in metadata.properties.
	RequiredProperties map[string]string

	// Provider must equal metadata.segment.provider when set.
	Provider string

	ctxOnce  sync.Once
	ctxAC    *ahocorasick.AhoCorasick
	ctxCount int
}

// IsZero reports whether the filter constrains nothing.
func (f *Filter) IsZero() bool {
	if f == nil {
		return true
	}
	return len(f.States) == 0 && f.MinState == "" && f.MinQuality == 0 &&
		len(f.ContextIncludes) == 0 && len(f.RequiredProperties) == 0 && f.Provider == ""
}

// Matches evaluates the filter against an entry's metadata.
func (f *Filter) Matches(md *Metadata) bool {
	if f.IsZero() {
		return true
	}

	if len(f.States) > 0 {
		if md == nil || md.State == "" {
			return false
		}
		found := false
		for _, s := range f.States {
			if md.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.MinState != "" {
		if md == nil || md.State.Rank() < f.MinState.Rank() {
			return false
		}
	}

	if f.MinQuality > 0 {
		if md == nil || md.Quality == nil || *md.Quality < f.MinQuality {
			return false
		}
	}

	if len(f.ContextIncludes) > 0 {
		if md == nil || md.Context == "" {
			return false
		}
		if !f.contextMatches(md.Context) {
			return false
		}
	}

	if len(f.RequiredProperties) > 0 {
		if md == nil || len(md.Properties) == 0 {
			return false
		}
		for k, v := range f.RequiredProperties {
			if md.Properties[k] != v {
				return false
			}
		}
	}

	if f.Provider != "" {
		if md == nil || md.Segment == nil || md.Segment.Provider != f.Provider {
			return false
		}
	}

	return true
}

// contextMatches checks that every needle occurs in the context string.
// The needles are compiled once per filter into an Aho-Corasick
// automaton so repeated evaluation over a candidate set stays linear in
// the context length.
func (f *Filter) contextMatches(context string) bool {
	f.ctxOnce.Do(func() {
		uniq := make(map[string]bool, len(f.ContextIncludes))
		patterns := make([]string, 0, len(f.ContextIncludes))
		for _, n := range f.ContextIncludes {
			low := strings.ToLower(n)
			if !uniq[low] {
				uniq[low] = true
				patterns = append(patterns, low)
			}
		}
		builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
			MatchOnlyWholeWords: false,
			MatchKind:           ahocorasick.StandardMatch,
			DFA:                 true,
		})
		ac := builder.Build(patterns)
		f.ctxAC = &ac
		f.ctxCount = len(patterns)
	})

	seen := make(map[int]bool, f.ctxCount)
	for _, m := range f.ctxAC.FindAll(strings.ToLower(context)) {
		seen[m.Pattern()] = true
	}
	return len(seen) == f.ctxCount
}
