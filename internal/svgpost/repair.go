package svgpost

import (
	"encoding/xml"
	"io"
	"maps"
	"strings"
)

const (
	svgNS   = "http://www.w3.org/2000/svg"
	xlinkNS = "http://www.w3.org/1999/xlink"
	xmlNS   = "http://www.w3.org/XML/1998/namespace"
	xmlnsNS = "http://www.w3.org/2000/xmlns/"
)

// Placeholder is returned when the input holds no usable <svg> element.
const Placeholder = `<svg xmlns="http://www.w3.org/2000/svg" width="256" height="256" viewBox="0 0 256 256"></svg>`

// canonicalPlaceholder is how Placeholder serializes after repair.
const canonicalPlaceholder = `<svg xmlns="http://www.w3.org/2000/svg" width="256" height="256" viewBox="0 0 256 256"/>`

type node struct {
	name     xml.Name
	attrs    []xml.Attr
	children []any // *node or string
}

// Repair turns raw model output into a well-formed SVG document. It reports
// false when the placeholder had to be used.
func Repair(raw string) (string, bool) {
	root := parseRoot(raw)
	if root == nil {
		return Placeholder, false
	}
	ensureNamespace(root)
	resolvePrefixes(root)

	var b strings.Builder
	b.Grow(len(raw) + len(svgNS) + 16)
	write(&b, root)
	out := b.String()
	if out == canonicalPlaceholder {
		return Placeholder, true
	}
	return out, true
}

// parseRoot tries every "<svg" offset until one opens an svg element.
func parseRoot(raw string) *node {
	for off := 0; ; {
		i := strings.Index(raw[off:], "<svg")
		if i < 0 {
			return nil
		}
		off += i
		if root := parseFrom(raw[off:]); root != nil {
			return root
		}
		off += len("<svg")
	}
}

func newDecoder(s string) *xml.Decoder {
	d := xml.NewDecoder(strings.NewReader(s))
	d.Strict = false
	d.Entity = xml.HTMLEntity
	// Encoding declarations are ignored; model output is already UTF-8.
	d.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	return d
}

func parseFrom(s string) *node {
	d := newDecoder(s)
	tok, err := d.RawToken()
	if err != nil {
		return nil
	}
	start, ok := tok.(xml.StartElement)
	if !ok || start.Name.Space != "" || start.Name.Local != "svg" {
		return nil
	}
	root := newNode(start)
	stack := []*node{root}

	for len(stack) > 0 {
		tok, err := d.RawToken()
		if err != nil {
			// EOF or the first syntax error: keep what we have.
			break
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			n := newNode(t)
			top.children = append(top.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			name := qualified(t.Name)
			for i := len(stack) - 1; i >= 0; i-- {
				if qualified(stack[i].name) == name {
					stack = stack[:i]
					break
				}
			}
		case xml.CharData:
			if len(t) == 0 {
				continue
			}
			if last := len(top.children) - 1; last >= 0 {
				if s, ok := top.children[last].(string); ok {
					top.children[last] = s + string(t)
					continue
				}
			}
			top.children = append(top.children, string(t))
		}
		// Comments, processing instructions and directives are dropped.
	}
	return root
}

func newNode(se xml.StartElement) *node {
	n := &node{name: se.Name}
	seen := make(map[string]struct{}, len(se.Attr))
	for _, a := range se.Attr {
		key := qualified(a.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		n.attrs = append(n.attrs, a)
	}
	return n
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func ensureNamespace(root *node) {
	for i, a := range root.attrs {
		if a.Name.Space == "" && a.Name.Local == "xmlns" {
			root.attrs[i].Value = svgNS
			return
		}
	}
	root.attrs = append([]xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: svgNS}}, root.attrs...)
}

// resolvePrefixes drops elements and attributes whose prefix is not bound
// where they appear. A bare xlink prefix is bound on the root.
func resolvePrefixes(root *node) {
	root.attrs = validDeclarations(root.attrs)
	if usesPrefix(root, "xlink") && !declares(root, "xlink") {
		root.attrs = append(root.attrs, xml.Attr{Name: xml.Name{Space: "xmlns", Local: "xlink"}, Value: xlinkNS})
	}
	prune(root, map[string]string{"xml": xmlNS})
}

// prune filters n in place and reports whether n itself stays.
func prune(n *node, scope map[string]string) bool {
	n.attrs = validDeclarations(n.attrs)
	cloned := false
	for _, a := range n.attrs {
		if a.Name.Space != "xmlns" {
			continue
		}
		if !cloned {
			scope, cloned = maps.Clone(scope), true
		}
		scope[a.Name.Local] = a.Value
	}
	if !validQName(n.name) || !inScope(scope, n.name.Space) {
		return false
	}

	// Two prefixes bound to one namespace still name the same attribute.
	seen := make(map[string]struct{}, len(n.attrs))
	kept := n.attrs[:0]
	for _, a := range n.attrs {
		if !validQName(a.Name) {
			continue
		}
		key := a.Name.Local
		switch a.Name.Space {
		case "":
		case "xmlns":
			key = "xmlns:" + key
		default:
			uri, ok := scope[a.Name.Space]
			if !ok {
				continue
			}
			key = "{" + uri + "}" + key
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, a)
	}
	n.attrs = kept

	children := n.children[:0]
	for _, c := range n.children {
		if child, ok := c.(*node); ok && !prune(child, scope) {
			continue
		}
		children = append(children, c)
	}
	n.children = mergeText(children)
	return true
}

func inScope(scope map[string]string, prefix string) bool {
	if prefix == "" {
		return true
	}
	_, ok := scope[prefix]
	return ok
}

func validQName(n xml.Name) bool {
	return n.Local != "" && !strings.Contains(n.Local, ":") && !strings.Contains(n.Space, ":")
}

// validDeclarations drops namespace declarations XML forbids: empty prefix
// bindings, rebinding xml or xmlns, and default namespaces pointing at the
// reserved URIs.
func validDeclarations(attrs []xml.Attr) []xml.Attr {
	kept := attrs[:0]
	for _, a := range attrs {
		switch {
		case a.Name.Space == "xmlns":
			switch {
			case a.Name.Local == "xmlns":
				continue
			case a.Name.Local == "xml":
				if a.Value != xmlNS {
					continue
				}
			case a.Value == "" || a.Value == xmlNS || a.Value == xmlnsNS:
				continue
			}
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			if a.Value == xmlNS || a.Value == xmlnsNS {
				continue
			}
		}
		kept = append(kept, a)
	}
	return kept
}

func declares(n *node, prefix string) bool {
	for _, a := range n.attrs {
		if a.Name.Space == "xmlns" && a.Name.Local == prefix {
			return true
		}
	}
	return false
}

func usesPrefix(n *node, prefix string) bool {
	if n.name.Space == prefix {
		return true
	}
	for _, a := range n.attrs {
		if a.Name.Space == prefix {
			return true
		}
	}
	for _, c := range n.children {
		if child, ok := c.(*node); ok && usesPrefix(child, prefix) {
			return true
		}
	}
	return false
}

// mergeText joins text runs made adjacent by a dropped element.
func mergeText(children []any) []any {
	out := children[:0]
	for _, c := range children {
		if s, ok := c.(string); ok && len(out) > 0 {
			if prev, ok := out[len(out)-1].(string); ok {
				out[len(out)-1] = prev + s
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
		"\t", "&#x9;", "\n", "&#xA;", "\r", "&#xD;")
)

func write(b *strings.Builder, n *node) {
	name := qualified(n.name)
	b.WriteByte('<')
	b.WriteString(name)
	for _, a := range n.attrs {
		b.WriteByte(' ')
		b.WriteString(qualified(a.Name))
		b.WriteString(`="`)
		attrEscaper.WriteString(b, a.Value)
		b.WriteByte('"')
	}
	if len(n.children) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	for _, c := range n.children {
		switch c := c.(type) {
		case *node:
			write(b, c)
		case string:
			textEscaper.WriteString(b, c)
		}
	}
	b.WriteString("</")
	b.WriteString(name)
	b.WriteByte('>')
}
