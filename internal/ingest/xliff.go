package ingest

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/glottech/hybridtm/internal/entry"
)

// XLIFF ingests XLIFF 2.x files. Every <unit> yields one entry per
// retained <segment> on each language side, plus a merged entry
// (segmentIndex 0) per side when the unit retained more than one
// segment.
type XLIFF struct {
	staging *Staging
	opts    Options
}

// NewXLIFF creates an XLIFF 2.x ingestor writing into staging.
func NewXLIFF(staging *Staging, opts Options) *XLIFF {
	return &XLIFF{staging: staging, opts: opts}
}

// Ingest streams an XLIFF 2 document into a staged JSONL file. The
// staged file is removed again if ingestion fails partway.
func (x *XLIFF) Ingest(ctx context.Context, r io.Reader) (*Result, error) {
	dec := xml.NewDecoder(r)

	root, err := nextStartElement(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if root.Name.Local != "xliff" {
		return nil, fmt.Errorf("%w: root element is <%s>, want <xliff>", ErrUnsupportedFormat, root.Name.Local)
	}

	version := attrOf(root, "version")
	if !strings.HasPrefix(version, "2.") {
		return nil, fmt.Errorf("%w: xliff version %q, want 2.x", ErrUnsupportedFormat, version)
	}
	srcLang := attrOf(root, "srcLang")
	trgLang := attrOf(root, "trgLang")
	if srcLang == "" || trgLang == "" {
		return nil, fmt.Errorf("%w: xliff needs srcLang and trgLang", ErrMissingAttribute)
	}

	w, err := x.staging.Create()
	if err != nil {
		return nil, err
	}

	res, err := x.walk(ctx, dec, w, srcLang, trgLang)
	if err != nil {
		w.Discard()
		return nil, err
	}
	return res, nil
}

// walk streams the document body, buffering one unit at a time.
func (x *XLIFF) walk(ctx context.Context, dec *xml.Decoder, w *StagedFile, srcLang, trgLang string) (*Result, error) {
	var fileID, original string

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tok, err := dec.Token()
		if err == io.EOF {
			return w.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "file":
				fileID = attrOf(t, "id")
				if fileID == "" {
					return nil, fmt.Errorf("%w: <file> without id", ErrMissingAttribute)
				}
				original = attrOf(t, "original")
			case "unit":
				unitID := attrOf(t, "id")
				if unitID == "" {
					return nil, fmt.Errorf("%w: <unit> without id", ErrMissingAttribute)
				}
				if fileID == "" {
					return nil, fmt.Errorf("%w: <unit> outside <file>", ErrMissingAttribute)
				}
				unit, err := parseElement(dec, t)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
				}
				if err := x.emitUnit(w, fileID, original, unitID, srcLang, trgLang, unit); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			if t.Name.Local == "file" {
				fileID, original = "", ""
			}
		}
	}
}

// retainedSegment is one segment that passed the inclusion rules.
type retainedSegment struct {
	node   *xmlNode
	index  int // 1-based document order within the unit
	source *xmlNode
	target *xmlNode
	state  entry.State
}

// emitUnit applies segmentation, inclusion and merging for one unit.
func (x *XLIFF) emitUnit(w *StagedFile, fileID, original, unitID, srcLang, trgLang string, unit *xmlNode) error {
	segments := unit.childrenNamed("segment")

	var retained []retainedSegment
	if len(segments) > 0 {
		for i, seg := range segments {
			rec, ok := x.admitSegment(seg, i+1)
			if ok {
				retained = append(retained, rec)
			}
		}
	} else {
		// A unit without <segment> children still carries content in
		// its <ignorable> parts; synthesize a single virtual segment
		// from them.
		virtual := x.synthesizeVirtual(unit)
		if rec, ok := x.admitSegment(virtual, 1); ok {
			retained = append(retained, rec)
		}
	}

	if len(retained) == 0 {
		return nil
	}
	count := len(retained)

	for _, rec := range retained {
		var md *entry.Metadata
		if x.opts.ExtractMetadata {
			md = x.segmentMetadata(unit, rec, fileID, unitID, count)
		}
		pair := []struct {
			lang string
			node *xmlNode
		}{
			{srcLang, rec.source},
			{trgLang, rec.target},
		}
		for _, side := range pair {
			if err := w.Write(&Candidate{
				FileID:       fileID,
				Original:     original,
				UnitID:       unitID,
				Language:     side.lang,
				PureText:     side.node.pureText(),
				Element:      side.node.serialize(),
				SegmentIndex: rec.index,
				SegmentCount: count,
				Metadata:     md,
			}); err != nil {
				return err
			}
		}
	}

	if count > 1 {
		return x.emitMerged(w, fileID, original, unitID, srcLang, trgLang, unit, retained)
	}
	return nil
}

// admitSegment extracts source/target and applies the inclusion rules.
// The returned record keeps the segment's document-order index even
// when earlier siblings were skipped.
func (x *XLIFF) admitSegment(seg *xmlNode, index int) (retainedSegment, bool) {
	rec := retainedSegment{node: seg, index: index}

	rec.source = seg.child("source")
	if rec.source == nil {
		rec.source = &xmlNode{name: "source"}
	}
	rec.target = seg.child("target")
	if rec.target == nil {
		rec.target = &xmlNode{name: "target"}
	}

	if strings.TrimSpace(rec.source.pureText()) == "" {
		return rec, false
	}
	if x.opts.SkipEmpty && strings.TrimSpace(rec.target.pureText()) == "" {
		return rec, false
	}

	state, hasState := entry.NormalizeState(seg.attr("state"))
	if hasState {
		rec.state = state
		if x.opts.MinState != "" && state.Rank() < x.opts.MinState.Rank() {
			return rec, false
		}
	} else if x.opts.SkipUnconfirmed {
		return rec, false
	}

	return rec, true
}

// synthesizeVirtual builds a stand-in segment node from the source and
// target contents of all <segment>/<ignorable> children.
func (x *XLIFF) synthesizeVirtual(unit *xmlNode) *xmlNode {
	source := &xmlNode{name: "source"}
	target := &xmlNode{name: "target"}
	for _, part := range unit.childrenNamed("segment", "ignorable") {
		if s := part.child("source"); s != nil {
			source.children = append(source.children, s.children...)
		}
		if t := part.child("target"); t != nil {
			target.children = append(target.children, t.children...)
		}
	}
	return &xmlNode{name: "segment", children: []any{source, target}}
}

// emitMerged writes the segmentIndex-0 pair built by concatenating the
// retained segments' content nodes. Only the emptiness rules apply
// here: a unit that retained several segments must keep its merged
// entries so both granularities stay retrievable.
func (x *XLIFF) emitMerged(w *StagedFile, fileID, original, unitID, srcLang, trgLang string, unit *xmlNode, retained []retainedSegment) error {
	source := &xmlNode{name: "source"}
	target := &xmlNode{name: "target"}
	for _, rec := range retained {
		source.children = append(source.children, rec.source.children...)
		target.children = append(target.children, rec.target.children...)
	}

	if strings.TrimSpace(source.pureText()) == "" {
		return nil
	}
	// The merged pair is judged by its own concatenated target text,
	// even when every component segment was retained.
	if x.opts.SkipEmpty && strings.TrimSpace(target.pureText()) == "" {
		return nil
	}

	count := len(retained)
	var md *entry.Metadata
	if x.opts.ExtractMetadata {
		md = x.unitMetadata(unit, fileID, unitID, 0, count, "")
	}

	pair := []struct {
		lang string
		node *xmlNode
	}{
		{srcLang, source},
		{trgLang, target},
	}
	for _, side := range pair {
		if err := w.Write(&Candidate{
			FileID:       fileID,
			Original:     original,
			UnitID:       unitID,
			Language:     side.lang,
			PureText:     side.node.pureText(),
			Element:      side.node.serialize(),
			SegmentIndex: 0,
			SegmentCount: count,
			Metadata:     md,
		}); err != nil {
			return err
		}
	}
	return nil
}

// segmentMetadata builds the metadata record for one retained segment,
// preferring segment-level values over unit-level ones.
func (x *XLIFF) segmentMetadata(unit *xmlNode, rec retainedSegment, fileID, unitID string, count int) *entry.Metadata {
	md := x.unitMetadata(unit, fileID, unitID, rec.index, count, rec.node.attr("id"))

	if rec.state != "" {
		md.State = rec.state
	}
	if sub := rec.node.attr("subState"); sub != "" {
		md.SubState = sub
	}

	for attr, dst := range lifecycleTargets(md) {
		if v := rec.node.attr(attr); v != "" {
			*dst = v
		}
	}

	if notes := rec.node.child("notes"); notes != nil {
		for _, note := range notes.childrenNamed("note") {
			if text := strings.TrimSpace(note.text()); text != "" {
				md.Notes = append(md.Notes, text)
			}
		}
	}

	x.promoteContext(md)
	return md
}

// unitMetadata builds the unit-level metadata shared by the merged
// entry and, as a baseline, by segment entries.
func (x *XLIFF) unitMetadata(unit *xmlNode, fileID, unitID string, segmentIndex, segmentCount int, segmentID string) *entry.Metadata {
	md := &entry.Metadata{}

	if sub := unit.attr("subState"); sub != "" {
		md.SubState = sub
	}
	for attr, dst := range lifecycleTargets(md) {
		if v := unit.attr(attr); v != "" {
			*dst = v
		}
	}

	if notes := unit.child("notes"); notes != nil {
		for _, note := range notes.childrenNamed("note") {
			if text := strings.TrimSpace(note.text()); text != "" {
				md.Notes = append(md.Notes, text)
			}
		}
	}

	if meta := unit.child("metadata"); meta != nil {
		props := make(map[string]string)
		walkMetaGroups(meta, "", props)
		if len(props) > 0 {
			md.Properties = props
		}
	}

	x.promoteContext(md)

	ref := &entry.SegmentRef{
		Provider:     "xliff",
		FileID:       fileID,
		UnitID:       unitID,
		SegmentIndex: entry.IntPtr(segmentIndex),
		SegmentCount: entry.IntPtr(segmentCount),
	}
	if segmentID != "" {
		ref.SegmentID = segmentID
	}
	md.Segment = ref

	return md
}

// lifecycleTargets maps lifecycle attribute names to their metadata
// fields, so segment values can overwrite unit values in one pass.
func lifecycleTargets(md *entry.Metadata) map[string]*string {
	return map[string]*string{
		"creationDate":        &md.CreationDate,
		"creationId":          &md.CreationID,
		"changeDate":          &md.ChangeDate,
		"changeId":            &md.ChangeID,
		"creationTool":        &md.CreationTool,
		"creationToolVersion": &md.CreationToolVersion,
		"context":             &md.Context,
	}
}

// promoteContext fills metadata.context from the first property whose
// key mentions "context" when no explicit context was found.
func (x *XLIFF) promoteContext(md *entry.Metadata) {
	if md.Context != "" || len(md.Properties) == 0 {
		return
	}
	keys := make([]string, 0, len(md.Properties))
	for k := range md.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(strings.ToLower(k), "context") {
			md.Context = md.Properties[k]
			return
		}
	}
}

// walkMetaGroups flattens the <metadata>/<metaGroup>/<meta> tree into
// "category:type" property keys. Nested groups inherit the nearest
// category.
func walkMetaGroups(node *xmlNode, category string, props map[string]string) {
	for _, group := range node.childrenNamed("metaGroup") {
		cat := group.attr("category")
		if cat == "" {
			cat = category
		}
		for _, meta := range group.childrenNamed("meta") {
			typ := meta.attr("type")
			if typ == "" {
				continue
			}
			key := typ
			if cat != "" {
				key = cat + ":" + typ
			}
			props[key] = meta.text()
		}
		walkMetaGroups(group, cat, props)
	}
}

// nextStartElement skips prolog tokens up to the first start element.
func nextStartElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

// attrOf reads an attribute from a raw start element by local name.
func attrOf(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
