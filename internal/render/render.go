// Package render writes query envelopes as JSON, CSV or XML.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/pavelpascari/covidapi/internal/query"
)

// Format is an output format of the data endpoint.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
)

// Content types served per format.
const (
	ContentTypeJSON = "application/vnd.PHE-COVID19.v1+json; charset=utf-8"
	ContentTypeCSV  = "text/csv; charset=utf-8"
	ContentTypeXML  = "application/vnd.PHE-COVID19.v1+xml; charset=utf-8"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatJSON, FormatCSV, FormatXML}
}

// ParseFormat resolves the format parameter. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatXML:
		return f, nil
	default:
		return "", query.NewError(query.KindInvalidFormat,
			"Invalid format '%s': expected one of json, csv, xml.", s)
	}
}

// ContentType is the media type written for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return ContentTypeCSV
	case FormatXML:
		return ContentTypeXML
	default:
		return ContentTypeJSON
	}
}

// Render writes env in the requested format. CSV output uses the
// structure's keys as its header.
func Render(w io.Writer, f Format, env *query.Envelope, s query.Structure) error {
	switch f {
	case FormatCSV:
		return CSV(w, env, s)
	case FormatXML:
		return XML(w, env)
	case FormatJSON, "":
		return JSON(w, env)
	default:
		return query.NewError(query.KindInvalidFormat, "Invalid format '%s'.", f)
	}
}

// JSON writes the envelope with row keys in declaration order.
func JSON(w io.Writer, env *query.Envelope) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// ETag returns a strong entity tag over the canonical JSON form of env,
// so equal envelopes share a tag regardless of encoding details.
func ETag(env *query.Envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize envelope: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return `"` + hex.EncodeToString(sum[:]) + `"`, nil
}

// CSVFilename names the CSV attachment after the release date.
func CSVFilename(released time.Time) string {
	return "data_" + released.UTC().Format("2006-Jan-02") + ".csv"
}
