package dbgpshare

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// xmlDeclaration is prepended to every reserialized init packet, per
// spec.md §4.3 step 7 and §6.
const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// ParseInitPacket parses the first DBGp frame sent by the engine and
// returns the owning document plus its root element. It is a protocol
// error if the root element's local name is not "init" (spec.md §4.3
// step 2).
func ParseInitPacket(body string) (*etree.Document, *etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(body); err != nil {
		return nil, nil, fmt.Errorf("malformed init packet: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, nil, fmt.Errorf("init packet has no root element")
	}
	if localName(root.Tag) != "init" {
		return nil, nil, fmt.Errorf("expected init packet, got %q", root.Tag)
	}
	return doc, root, nil
}

func localName(tag string) string {
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		return tag[i+1:]
	}
	return tag
}

// SerializeInitPacket renders the (possibly mutated) document with the XML
// declaration spec.md §4.3 step 7 requires, ready for reframing. Any XML
// declaration carried over from the parsed input is dropped first so the
// reserialized packet carries exactly one, ours, rather than stacking two.
func SerializeInitPacket(doc *etree.Document) (string, error) {
	for _, child := range append([]etree.Token(nil), doc.Child...) {
		if pi, ok := child.(*etree.ProcInst); ok && strings.EqualFold(pi.Target, "xml") {
			doc.RemoveChild(child)
		}
	}
	body, err := doc.WriteToString()
	if err != nil {
		return "", err
	}
	return xmlDeclaration + body, nil
}
