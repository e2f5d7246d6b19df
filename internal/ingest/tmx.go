package ingest

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/glottech/hybridtm/internal/entry"
	"github.com/glottech/hybridtm/internal/logger"
)

// TMXConfig names the imported document, since TMX carries no file
// identity of its own.
type TMXConfig struct {
	// FileID becomes the fileId of every emitted entry. Usually the
	// base name of the imported file.
	FileID string

	// Original is recorded as provenance (typically the full path).
	Original string
}

// TMX ingests TMX 1.4b files. Every <tuv> of every <tu> yields one
// entry with segmentIndex 0 and segmentCount 1.
type TMX struct {
	staging *Staging
	cfg     TMXConfig
	opts    Options
}

// NewTMX creates a TMX 1.4b ingestor writing into staging.
func NewTMX(staging *Staging, cfg TMXConfig, opts Options) *TMX {
	return &TMX{staging: staging, cfg: cfg, opts: opts}
}

var (
	prevPropRe = regexp.MustCompile(`(?i)^prev-`)
	nextPropRe = regexp.MustCompile(`(?i)^next-`)

	// xliffSegmentRe parses back-references of the form
	// "<hash>-FILE-UNIT-SEGMENT" with three trailing numeric groups.
	xliffSegmentRe = regexp.MustCompile(`^(.+)-(\d+)-(\d+)-(\d+)$`)
)

// Ingest streams a TMX document into a staged JSONL file. The staged
// file is removed again if ingestion fails partway.
func (t *TMX) Ingest(ctx context.Context, r io.Reader) (*Result, error) {
	if t.cfg.FileID == "" {
		return nil, fmt.Errorf("%w: tmx import needs a file id", ErrMissingAttribute)
	}

	dec := xml.NewDecoder(r)

	root, err := nextStartElement(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if root.Name.Local != "tmx" {
		return nil, fmt.Errorf("%w: root element is <%s>, want <tmx>", ErrUnsupportedFormat, root.Name.Local)
	}
	if version := attrOf(root, "version"); !strings.HasPrefix(version, "1.4") {
		return nil, fmt.Errorf("%w: tmx version %q, want 1.4", ErrUnsupportedFormat, version)
	}

	w, err := t.staging.Create()
	if err != nil {
		return nil, err
	}

	res, err := t.walk(ctx, dec, w)
	if err != nil {
		w.Discard()
		return nil, err
	}
	return res, nil
}

func (t *TMX) walk(ctx context.Context, dec *xml.Decoder, w *StagedFile) (*Result, error) {
	base := time.Now().UnixMilli()
	seq := 0

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

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "tu" {
			continue
		}

		tu, err := parseElement(dec, start)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}

		unitID := tu.attr("tuid")
		if unitID == "" {
			seq++
			unitID = fmt.Sprintf("tu-%d-%d", base, seq)
		}

		if err := t.emitTU(w, tu, unitID); err != nil {
			return nil, err
		}
	}
}

func (t *TMX) emitTU(w *StagedFile, tu *xmlNode, unitID string) error {
	for _, tuv := range tu.childrenNamed("tuv") {
		lang := tuv.attr("xml:lang")
		if lang == "" {
			lang = tuv.attr("lang")
		}
		if lang == "" {
			logger.Warn("tmx: tu %s has a tuv without a language, skipping", unitID)
			continue
		}

		seg := tuv.child("seg")
		if seg == nil {
			continue
		}
		pure := seg.pureText()
		if t.opts.SkipEmpty && strings.TrimSpace(pure) == "" {
			continue
		}

		var md *entry.Metadata
		if t.opts.ExtractMetadata {
			md = t.tuvMetadata(tu, tuv)
		}

		if err := w.Write(&Candidate{
			FileID:       t.cfg.FileID,
			Original:     t.cfg.Original,
			UnitID:       unitID,
			Language:     lang,
			PureText:     pure,
			Element:      tuv.serialize(),
			SegmentIndex: 0,
			SegmentCount: 1,
			Metadata:     md,
		}); err != nil {
			return err
		}
	}
	return nil
}

// tuvMetadata copies lifecycle attributes (TUV over TU), usage data,
// notes and properties for one variant.
func (t *TMX) tuvMetadata(tu, tuv *xmlNode) *entry.Metadata {
	md := &entry.Metadata{}

	lifecycle := map[string]*string{
		"creationdate":        &md.CreationDate,
		"creationid":          &md.CreationID,
		"changedate":          &md.ChangeDate,
		"changeid":            &md.ChangeID,
		"creationtool":        &md.CreationTool,
		"creationtoolversion": &md.CreationToolVersion,
	}
	for attr, dst := range lifecycle {
		if v := tu.attr(attr); v != "" {
			*dst = v
		}
		if v := tuv.attr(attr); v != "" {
			*dst = v
		}
	}

	if v := tu.attr("usagecount"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			md.UsageCount = entry.IntPtr(n)
		}
	}
	if v := tu.attr("lastusagedate"); v != "" {
		md.LastUsageDate = v
	}

	for _, scope := range []*xmlNode{tu, tuv} {
		for _, note := range scope.childrenNamed("note") {
			if text := strings.TrimSpace(note.text()); text != "" {
				md.Notes = append(md.Notes, text)
			}
		}
	}

	props := make(map[string]string)
	for _, scope := range []*xmlNode{tu, tuv} {
		for _, prop := range scope.childrenNamed("prop") {
			key := prop.attr("type")
			if key == "" {
				continue
			}
			props[key] = prop.text()
		}
	}
	if len(props) > 0 {
		md.Properties = props
	}

	t.applyContext(md, props)
	t.applySegmentRef(md, props)

	if md.IsZero() {
		return nil
	}
	return md
}

// applyContext promotes x-context/context/domain into metadata.context
// and appends a "prev=…; next=…" phrase when neighbour properties
// exist.
func (t *TMX) applyContext(md *entry.Metadata, props map[string]string) {
	for _, key := range []string{"x-context", "context", "domain"} {
		if v, ok := props[key]; ok && v != "" {
			md.Context = v
			break
		}
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var prev, next string
	for _, key := range keys {
		if prevPropRe.MatchString(key) && prev == "" {
			prev = props[key]
		}
		if nextPropRe.MatchString(key) && next == "" {
			next = props[key]
		}
	}
	var parts []string
	if prev != "" {
		parts = append(parts, "prev="+prev)
	}
	if next != "" {
		parts = append(parts, "next="+next)
	}
	if len(parts) == 0 {
		return
	}
	phrase := strings.Join(parts, "; ")
	if md.Context != "" {
		md.Context += "; " + phrase
	} else {
		md.Context = phrase
	}
}

// applySegmentRef parses an xliff-segment back-reference property into
// segment provenance.
func (t *TMX) applySegmentRef(md *entry.Metadata, props map[string]string) {
	value, ok := props["xliff-segment"]
	if !ok {
		return
	}
	m := xliffSegmentRe.FindStringSubmatch(value)
	if m == nil {
		logger.Debug("tmx: unparsable xliff-segment value %q", value)
		return
	}
	md.Segment = &entry.SegmentRef{
		Provider:   "xliff-segment",
		SegmentKey: value,
		FileHash:   m[1],
		FileID:     m[2],
		UnitID:     m[3],
		SegmentID:  m[4],
	}
}
