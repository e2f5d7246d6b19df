package ingest

import (
	"encoding/xml"
	"strings"
)

// xmlNode is a buffered XML element. The ingestors stream the file at
// the unit level and buffer one unit (or one tu) at a time as a node
// tree, which keeps memory bounded while still allowing segment
// merging and element serialization.
type xmlNode struct {
	name  string
	attrs []xml.Attr
	// children holds *xmlNode and string (character data) in document
	// order, so serialization preserves mixed content.
	children []any
}

// parseElement buffers the subtree rooted at start. The decoder is
// positioned just past the start token.
func parseElement(dec *xml.Decoder, start xml.StartElement) (*xmlNode, error) {
	node := &xmlNode{
		name:  start.Name.Local,
		attrs: append([]xml.Attr(nil), start.Attr...),
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseElement(dec, t)
			if err != nil {
				return nil, err
			}
			node.children = append(node.children, child)
		case xml.CharData:
			node.children = append(node.children, string(t))
		case xml.EndElement:
			return node, nil
		}
	}
}

// attr returns the value of the named attribute, matching on the local
// name. The xml: prefix is part of the lookup name ("xml:lang").
func (n *xmlNode) attr(name string) string {
	local := name
	space := ""
	if i := strings.IndexByte(name, ':'); i >= 0 {
		space, local = name[:i], name[i+1:]
	}
	for _, a := range n.attrs {
		if a.Name.Local != local {
			continue
		}
		if space == "" || a.Name.Space == space || strings.HasSuffix(a.Name.Space, "/XML/1998/namespace") {
			return a.Value
		}
	}
	return ""
}

// child returns the first direct child element with the given name.
func (n *xmlNode) child(name string) *xmlNode {
	for _, c := range n.children {
		if el, ok := c.(*xmlNode); ok && el.name == name {
			return el
		}
	}
	return nil
}

// childrenNamed returns all direct child elements with one of the
// given names, in document order.
func (n *xmlNode) childrenNamed(names ...string) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.children {
		el, ok := c.(*xmlNode)
		if !ok {
			continue
		}
		for _, name := range names {
			if el.name == name {
				out = append(out, el)
				break
			}
		}
	}
	return out
}

// text returns the concatenated character data of the node and all
// descendants, without inline-tag filtering. Used for notes and
// properties.
func (n *xmlNode) text() string {
	var b strings.Builder
	n.collectAllText(&b)
	return b.String()
}

func (n *xmlNode) collectAllText(b *strings.Builder) {
	for _, c := range n.children {
		switch v := c.(type) {
		case string:
			b.WriteString(v)
		case *xmlNode:
			v.collectAllText(b)
		}
	}
}

// pureText extracts the plain text of a translation element: character
// data is kept, <pc>, <mrk> and <hi> contribute their content
// recursively, <cp> and all other inline codes are skipped. No
// whitespace is collapsed beyond what the XML itself implies.
func (n *xmlNode) pureText() string {
	var b strings.Builder
	n.collectPureText(&b)
	return b.String()
}

func (n *xmlNode) collectPureText(b *strings.Builder) {
	for _, c := range n.children {
		switch v := c.(type) {
		case string:
			b.WriteString(v)
		case *xmlNode:
			switch v.name {
			case "pc", "mrk", "hi":
				v.collectPureText(b)
			}
		}
	}
}

// serialize renders the node back to an XML fragment string. Namespace
// declarations are dropped and element names keep their local form;
// the result reparses as a standalone fragment.
func (n *xmlNode) serialize() string {
	var b strings.Builder
	n.writeTo(&b)
	return b.String()
}

func (n *xmlNode) writeTo(b *strings.Builder) {
	b.WriteByte('<')
	b.WriteString(n.name)
	for _, a := range n.attrs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		b.WriteByte(' ')
		if a.Name.Space == "xml" || strings.HasSuffix(a.Name.Space, "/XML/1998/namespace") {
			b.WriteString("xml:")
		}
		b.WriteString(a.Name.Local)
		b.WriteString(`="`)
		b.WriteString(escapeXML(a.Value))
		b.WriteByte('"')
	}

	if len(n.children) == 0 {
		b.WriteString("/>")
		return
	}

	b.WriteByte('>')
	for _, c := range n.children {
		switch v := c.(type) {
		case string:
			b.WriteString(escapeXML(v))
		case *xmlNode:
			v.writeTo(b)
		}
	}
	b.WriteString("</")
	b.WriteString(n.name)
	b.WriteByte('>')
}

func escapeXML(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
