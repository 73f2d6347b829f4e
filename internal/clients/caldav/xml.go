package caldav

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

const (
	nsDAV    = "DAV:"
	nsCalDAV = "urn:ietf:params:xml:ns:caldav"
)

// xmlNode is a minimal element tree. Servers disagree on namespace
// prefixes, so lookups go by local name and only reject an element whose
// namespace is a different well-known one.
type xmlNode struct {
	name     xml.Name
	text     strings.Builder
	children []*xmlNode
}

var knownNamespaces = map[string]bool{
	nsDAV:                          true,
	nsCalDAV:                       true,
	"http://calendarserver.org/ns/": true,
	"http://apple.com/ns/ical/":     true,
}

// parseXML builds a tree from a WebDAV response body. A syntax error
// part-way through still returns what was read before it.
func parseXML(body []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	root := &xmlNode{}
	stack := []*xmlNode{root}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if len(root.children) == 0 {
				return nil, err
			}
			return root, err
		}

		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name}
			top.children = append(top.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			top.text.Write(t)
		}
	}

	return root, nil
}

func (n *xmlNode) is(local, ns string) bool {
	if !strings.EqualFold(n.name.Local, local) {
		return false
	}
	space := n.name.Space
	if space == "" || space == ns || ns == "" {
		return true
	}
	// An undeclared prefix is left as-is by encoding/xml; accept it.
	return !knownNamespaces[space]
}

// find returns the first descendant (depth-first) matching local/ns.
func (n *xmlNode) find(local, ns string) *xmlNode {
	for _, c := range n.children {
		if c.is(local, ns) {
			return c
		}
		if m := c.find(local, ns); m != nil {
			return m
		}
	}
	return nil
}

// findAll returns every matching descendant without descending into
// matches.
func (n *xmlNode) findAll(local, ns string) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.children {
		if c.is(local, ns) {
			out = append(out, c)
			continue
		}
		out = append(out, c.findAll(local, ns)...)
	}
	return out
}

func (n *xmlNode) textContent() string {
	return strings.TrimSpace(n.text.String())
}

// hrefIn returns the first non-empty href inside the named property, or
// "". A 404 propstat may carry the property empty, so every occurrence is
// tried.
func hrefIn(root *xmlNode, prop, ns string) string {
	for _, p := range root.findAll(prop, ns) {
		if h := p.find("href", nsDAV); h != nil && h.textContent() != "" {
			return h.textContent()
		}
	}
	return ""
}

// davResponse is one <response> of a multistatus body.
type davResponse struct {
	Href         string
	DisplayName  string
	HasResType   bool
	IsCollection bool
	IsCalendar   bool
}

func multistatusResponses(root *xmlNode) []davResponse {
	var out []davResponse
	for _, r := range root.findAll("response", nsDAV) {
		h := r.find("href", nsDAV)
		if h == nil || h.textContent() == "" {
			continue
		}

		resp := davResponse{Href: h.textContent()}
		if dn := r.find("displayname", nsDAV); dn != nil {
			resp.DisplayName = dn.textContent()
		}
		if rt := r.find("resourcetype", nsDAV); rt != nil {
			resp.HasResType = true
			resp.IsCollection = rt.find("collection", nsDAV) != nil
			resp.IsCalendar = rt.find("calendar", nsCalDAV) != nil
		}
		out = append(out, resp)
	}
	return out
}

// errorMessage extracts <error><message> from a server error body.
func errorMessage(body []byte) string {
	root, _ := parseXML(body)
	if root == nil {
		return ""
	}
	e := root.find("error", nsDAV)
	if e == nil {
		return ""
	}
	if m := e.find("message", ""); m != nil {
		return m.textContent()
	}
	return ""
}

func propfindBody(props ...string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8" ?>`)
	b.WriteString(`<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav"><D:prop>`)
	for _, p := range props {
		b.WriteString("<" + p + "/>")
	}
	b.WriteString(`</D:prop></D:propfind>`)
	return []byte(b.String())
}

func calendarQueryBody(start, end string) []byte {
	return []byte(`<?xml version="1.0" encoding="utf-8" ?>` +
		`<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">` +
		`<D:prop><D:getetag/><C:calendar-data/></D:prop>` +
		`<C:filter><C:comp-filter name="VCALENDAR"><C:comp-filter name="VEVENT">` +
		`<C:time-range start="` + start + `" end="` + end + `"/>` +
		`</C:comp-filter></C:comp-filter></C:filter>` +
		`</C:calendar-query>`)
}
