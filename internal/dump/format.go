package dump

import (
	"path/filepath"
	"strings"
)

// Format is a dump output format.
type Format string

// Supported formats.
const (
	FormatJSON   Format = "json"   // structured, machine-parseable
	FormatYAML   Format = "yaml"   // structured, human-editable
	FormatCSV    Format = "csv"    // tabular key/value/type rows
	FormatTXT    Format = "txt"    // key=value lines
	FormatPretty Format = "pretty" // annotated markdown
)

// Formats lists the canonical format names.
var Formats = []Format{FormatJSON, FormatYAML, FormatCSV, FormatTXT, FormatPretty}

var aliases = map[string]Format{
	"json":       FormatJSON,
	"structured": FormatJSON,
	"yaml":       FormatYAML,
	"yml":        FormatYAML,
	"csv":        FormatCSV,
	"tabular":    FormatCSV,
	"txt":        FormatTXT,
	"text":       FormatTXT,
	"line":       FormatTXT,
	"lines":      FormatTXT,
	"pretty":     FormatPretty,
	"annotated":  FormatPretty,
	"human":      FormatPretty,
	"md":         FormatPretty,
}

// ParseFormat resolves a format name or alias, case-insensitively.
func ParseFormat(s string) (Format, error) {
	if f, ok := aliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return f, nil
	}
	return "", &FormatError{Name: s}
}

// Extension returns the file extension, including the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	case FormatCSV:
		return ".csv"
	case FormatPretty:
		return ".md"
	default:
		return ".txt"
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatPretty:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// ContentTypeFor returns the MIME type to serve a dump file with, based on
// its extension.
func ContentTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".yml" {
		return FormatYAML.ContentType()
	}
	for _, f := range Formats {
		if f.Extension() == ext {
			return f.ContentType()
		}
	}
	return "application/octet-stream"
}
