package render

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/pavelpascari/covidapi/internal/query"
)

// nilAttr marks an element whose value is null, so that null and the empty
// string stay distinct.
var nilAttr = xml.Attr{Name: xml.Name{Local: "nil"}, Value: "true"}

// XML writes <response> with the counts, one <record> per row under
// <data>, the <requestPayload> echo and <pagination> when the page was
// requested. Record children keep declaration order; null links are
// omitted.
func XML(w io.Writer, env *query.Envelope) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	x := &xmlWriter{enc: xml.NewEncoder(w)}
	x.open("response")
	x.text("length", strconv.Itoa(env.Length))
	x.text("maxPageLimit", strconv.Itoa(env.MaxPageLimit))
	x.text("totalRecords", strconv.Itoa(env.TotalRecords))

	x.open("data")
	for _, row := range env.Data {
		x.open("record")
		x.row(row)
		x.close("record")
	}
	x.close("data")

	x.payload(env.RequestPayload)

	if p := env.Pagination; p != nil {
		x.open("pagination")
		x.link("current", p.Current)
		x.link("next", p.Next)
		x.link("previous", p.Previous)
		x.link("first", p.First)
		x.link("last", p.Last)
		x.close("pagination")
	}

	x.close("response")
	if x.err != nil {
		return fmt.Errorf("encode xml: %w", x.err)
	}
	return x.enc.Flush()
}

// xmlWriter keeps the first encoding error so callers can write a whole
// document before checking. Names passed to it are already valid.
type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func (x *xmlWriter) emit(tok xml.Token) {
	if x.err == nil {
		x.err = x.enc.EncodeToken(tok)
	}
}

func (x *xmlWriter) open(name string, attrs ...xml.Attr) {
	x.emit(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (x *xmlWriter) close(name string) {
	x.emit(xml.EndElement{Name: xml.Name{Local: name}})
}

func (x *xmlWriter) text(name, value string) {
	x.open(name)
	if value != "" {
		x.emit(xml.CharData(value))
	}
	x.close(name)
}

func (x *xmlWriter) null(name string) {
	x.open(name, nilAttr)
	x.close(name)
}

func (x *xmlWriter) link(name string, value *string) {
	if value != nil {
		x.text(name, *value)
	}
}

func (x *xmlWriter) row(row query.Row) {
	keys := make([]string, len(row))
	for i, c := range row {
		keys[i] = c.Key
	}

	for i, name := range ElementNames(keys) {
		c := row[i]
		if c.IsGroup() {
			x.open(name)
			x.row(c.Group)
			x.close(name)
			continue
		}
		x.value(name, c.Value)
	}
}

func (x *xmlWriter) value(name string, v dataset.Value) {
	items, ok := v.List()
	if !ok {
		x.scalar(name, v)
		return
	}

	x.open(name)
	for _, item := range items {
		keys := make([]string, len(item))
		for i, e := range item {
			keys[i] = e.Key
		}

		x.open("item")
		for i, elem := range ElementNames(keys) {
			x.scalar(elem, item[i].Value)
		}
		x.close("item")
	}
	x.close(name)
}

func (x *xmlWriter) scalar(name string, v dataset.Value) {
	if v.IsNull() {
		x.null(name)
		return
	}
	x.text(name, v.String())
}

func (x *xmlWriter) payload(p query.RequestPayload) {
	x.open("requestPayload")

	x.open("structure")
	x.structure(p.Structure.Fields)
	x.close("structure")

	x.open("filters")
	for _, f := range p.Filters {
		x.open("filter")
		x.text("identifier", f.Identifier)
		x.text("operator", f.Operator)
		x.text("value", f.Value)
		x.close("filter")
	}
	x.close("filters")

	if p.Page != nil {
		x.text("page", strconv.Itoa(*p.Page))
	} else {
		x.null("page")
	}
	if p.LatestBy != "" {
		x.text("latestBy", p.LatestBy)
	}

	x.close("requestPayload")
}

func (x *xmlWriter) structure(fields []query.StructureField) {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Name
	}

	for i, name := range ElementNames(keys) {
		f := fields[i]
		if f.IsGroup() {
			x.open(name)
			x.structure(f.Children)
			x.close(name)
			continue
		}
		x.text(name, f.Source)
	}
}

// ElementName maps an output key to a valid XML element name. Characters
// that cannot appear in a name become underscores, and a key that starts
// with a digit, '-' or '.' is prefixed with one.
func ElementName(key string) string {
	var sb strings.Builder
	for i, r := range key {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case r == '-' || r == '.' || unicode.IsDigit(r):
			if i == 0 {
				sb.WriteByte('_')
			}
		default:
			r = '_'
		}
		sb.WriteRune(r)
	}
	if sb.Len() == 0 {
		return "_"
	}
	return sb.String()
}

// ElementNames maps sibling keys to element names, suffixing "_2", "_3"
// and so on when two keys sanitise to the same name. The result is
// positional and distinct.
func ElementNames(keys []string) []string {
	names := make([]string, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for i, key := range keys {
		base := ElementName(key)
		name := base
		for n := 2; ; n++ {
			if _, taken := seen[name]; !taken {
				break
			}
			name = base + "_" + strconv.Itoa(n)
		}
		seen[name] = struct{}{}
		names[i] = name
	}
	return names
}
