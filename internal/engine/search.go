package engine

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/glottech/hybridtm/internal/entry"
	"github.com/glottech/hybridtm/internal/logger"
	"github.com/glottech/hybridtm/internal/store"
	"github.com/glottech/hybridtm/pkg/matchquality"
)

// pairingPool caps the unit-prefix fallback query during target
// pairing.
const pairingPool = 50

// Filters carries the per-side metadata filters of a translation
// search.
type Filters struct {
	Source *entry.Filter
	Target *entry.Filter
}

// TranslationMatch is one result of SemanticTranslationSearch.
type TranslationMatch struct {
	Source *entry.Entry
	Target *entry.Entry

	// Origin names the instance that produced the match.
	Origin string

	// Semantic is the vector-distance score (0-100).
	Semantic int

	// Fuzzy is the lexical MatchQuality score (0-100).
	Fuzzy int

	rank float64
}

// HybridScore is the rounded mean of the semantic and fuzzy scores;
// the minScore threshold applies to it.
func (m *TranslationMatch) HybridScore() int {
	return int(math.Round((float64(m.Semantic) + float64(m.Fuzzy)) / 2))
}

// ConcordanceSearch finds entries of the given language whose pureText
// contains the fragment (case-insensitive) and returns, per matched
// segment descriptor, all language variants of that segment as a
// language→element mapping.
func (en *Engine) ConcordanceSearch(ctx context.Context, fragment, language string, limit int, filter *entry.Filter) ([]map[string]string, error) {
	rows, err := en.store.Query(ctx, store.LanguageEq(language), 0)
	if err != nil {
		return nil, fmt.Errorf("engine: concordance scan failed: %w", err)
	}

	needle := strings.ToLower(fragment)
	seen := make(map[string]bool)
	var results []map[string]string

	for _, row := range rows {
		if limit > 0 && len(results) >= limit {
			break
		}
		if !strings.Contains(strings.ToLower(row.PureText), needle) {
			continue
		}
		if !filter.Matches(row.Metadata) {
			continue
		}

		descriptor := entry.SegmentPrefix(row.FileID, row.UnitID, row.SegmentIndex)
		if seen[descriptor] {
			continue
		}
		seen[descriptor] = true

		variants, err := en.store.Query(ctx, store.IDPrefix(descriptor), 0)
		if err != nil {
			return nil, fmt.Errorf("engine: failed to load variants of %s: %w", descriptor, err)
		}

		mapping := make(map[string]string, len(variants))
		for _, v := range variants {
			if err := buildXMLElement(v.Element); err != nil {
				logger.Warn("engine: dropping unhydratable element %s: %v", v.ID, err)
				continue
			}
			mapping[v.Language] = v.Element
		}
		if len(mapping) > 0 {
			results = append(results, mapping)
		}
	}

	return results, nil
}

// SemanticSearch embeds the query and returns up to limit entries of
// the given language by vector distance, filtered by metadata.
func (en *Engine) SemanticSearch(ctx context.Context, queryText, language string, limit int, filter *entry.Filter) ([]*entry.Entry, error) {
	vec, err := en.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to embed query: %w", err)
	}

	hits, err := en.store.VectorSearch(ctx, vec, store.LanguageEq(language), limit)
	if err != nil {
		return nil, fmt.Errorf("engine: semantic search failed: %w", err)
	}

	var out []*entry.Entry
	for _, h := range hits {
		if !filter.Matches(h.Entry.Metadata) {
			continue
		}
		if err := buildXMLElement(h.Entry.Element); err != nil {
			logger.Warn("engine: dropping unhydratable element %s: %v", h.Entry.ID, err)
			continue
		}
		out = append(out, h.Entry)
	}
	return out, nil
}

// SemanticTranslationSearch embeds the query, collects source-language
// candidates by vector distance, scores them with the hybrid formula,
// pairs each surviving candidate with its best target-language entry
// and returns the top matches by ranking score.
func (en *Engine) SemanticTranslationSearch(ctx context.Context, queryText, srcLang, tgtLang string, minScore, limit int, filters *Filters) ([]*TranslationMatch, error) {
	vec, err := en.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to embed query: %w", err)
	}

	hits, err := en.store.VectorSearch(ctx, vec, store.LanguageEq(srcLang), 0)
	if err != nil {
		return nil, fmt.Errorf("engine: translation search failed: %w", err)
	}

	var srcFilter, tgtFilter *entry.Filter
	if filters != nil {
		srcFilter = filters.Source
		tgtFilter = filters.Target
	}
	// Compatibility quirk: a target-side filter with no source-side
	// filter also constrains the source side of the pair.
	effectiveSrcFilter := srcFilter
	if effectiveSrcFilter == nil {
		effectiveSrcFilter = tgtFilter
	}

	now := time.Now()
	var matches []*TranslationMatch

	for _, h := range hits {
		src := h.Entry
		if !effectiveSrcFilter.Matches(src.Metadata) {
			continue
		}

		semantic := semanticScore(h.Distance)
		fuzzy := matchquality.Similarity(queryText, src.PureText)
		m := &TranslationMatch{
			Source:   src,
			Origin:   en.name,
			Semantic: semantic,
			Fuzzy:    fuzzy,
		}
		if m.HybridScore() < minScore {
			continue
		}

		tgt, err := en.findTargetEntry(ctx, src, tgtLang, tgtFilter)
		if err != nil {
			return nil, err
		}
		if tgt == nil {
			continue
		}

		if err := buildXMLElement(src.Element); err != nil {
			logger.Warn("engine: dropping match with unhydratable source %s: %v", src.ID, err)
			continue
		}
		if err := buildXMLElement(tgt.Element); err != nil {
			logger.Warn("engine: dropping match with unhydratable target %s: %v", tgt.ID, err)
			continue
		}

		m.Target = tgt
		m.rank = rankScore(m, now)
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].rank > matches[j].rank })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// findTargetEntry pairs a source hit with its target-language
// counterpart: the exact segment first, then any entry of the unit
// preferring the same segment index, then segment-level entries, then
// the first surviving row.
func (en *Engine) findTargetEntry(ctx context.Context, src *entry.Entry, tgtLang string, filter *entry.Filter) (*entry.Entry, error) {
	exactID := entry.CanonicalID(src.FileID, src.UnitID, src.SegmentIndex, tgtLang)
	rows, err := en.store.Query(ctx, store.IDEq(exactID), 1)
	if err != nil {
		return nil, fmt.Errorf("engine: target lookup failed for %s: %w", exactID, err)
	}
	if len(rows) == 1 && filter.Matches(rows[0].Metadata) {
		return rows[0], nil
	}

	rows, err = en.store.Query(ctx, store.And(
		store.IDPrefix(entry.UnitPrefix(src.FileID, src.UnitID)),
		store.LanguageEq(tgtLang),
	), pairingPool)
	if err != nil {
		return nil, fmt.Errorf("engine: target fallback failed for %s: %w", src.ID, err)
	}

	var survivors []*entry.Entry
	for _, row := range rows {
		if filter.Matches(row.Metadata) {
			survivors = append(survivors, row)
		}
	}
	if len(survivors) == 0 {
		return nil, nil
	}

	if src.SegmentIndex > 0 {
		for _, row := range survivors {
			if row.SegmentIndex == src.SegmentIndex {
				return row, nil
			}
		}
	}
	for _, row := range survivors {
		if row.SegmentIndex > 0 {
			return row, nil
		}
	}
	return survivors[0], nil
}

// semanticScore converts an L2 distance over unit vectors to 0-100.
func semanticScore(distance float64) int {
	return int(math.Round(math.Max(0, (2-distance)/2) * 100))
}

// rankScore orders matches for presentation. The threshold test uses
// the hybrid score alone; the rank adds pairing, quality, recency and
// state bonuses on top of it.
func rankScore(m *TranslationMatch, now time.Time) float64 {
	r := float64(m.HybridScore())

	if m.Source.SegmentIndex > 0 && m.Target.SegmentIndex > 0 {
		if m.Source.SegmentIndex == m.Target.SegmentIndex {
			r += 10
		} else {
			r += 5
		}
	}

	md := m.Target.Metadata
	if md == nil {
		return r
	}

	if md.Quality != nil {
		q := *md.Quality
		if q < 0 {
			q = 0
		}
		if q > 100 {
			q = 100
		}
		r += float64(q) / 20
	}

	dateStr := md.ChangeDate
	if dateStr == "" {
		dateStr = md.CreationDate
	}
	r += recencyBonus(dateStr, now)

	switch md.State {
	case entry.StateFinal:
		r += 3
	case entry.StateReviewed:
		r += 2
	case entry.StateTranslated:
		r += 1
	}

	return r
}

// recencyBonus is 0..5, linear from 5 at zero days old down to 0 at a
// year or more.
func recencyBonus(dateStr string, now time.Time) float64 {
	t, ok := parseDate(dateStr)
	if !ok {
		return 0
	}
	days := now.Sub(t).Hours() / 24
	if days < 0 {
		days = 0
	}
	bonus := 5 * (1 - days/365)
	if bonus < 0 {
		return 0
	}
	if bonus > 5 {
		return 5
	}
	return bonus
}

// dateLayouts covers XLIFF (ISO 8601) and TMX (basic format) dates.
var dateLayouts = []string{
	time.RFC3339,
	"20060102T150405Z",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// buildXMLElement verifies a stored element string still parses as
// XML. Rows that fail are dropped from result sets with a diagnostic;
// the query itself does not fail.
func buildXMLElement(raw string) error {
	dec := xml.NewDecoder(strings.NewReader(raw))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
