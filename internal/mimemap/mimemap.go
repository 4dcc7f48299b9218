// Package mimemap derives a default MIME type for an external stream's
// file suffix, and vice versa, so DbStream (§4.9) can fill in metadata
// the caller didn't supply. Grounded in the original source's static
// suffix/mime table; user overrides win over the built-in defaults.
package mimemap

import "strings"

// builtin is a small, representative slice of the original table —
// enough to cover common document, image, and archive types without
// chasing full completeness (never claimed by the spec either).
var builtin = map[string]string{
	"txt":  "text/plain",
	"html": "text/html",
	"htm":  "text/html",
	"xml":  "text/xml",
	"json": "application/json",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"gz":   "application/x-gzip",
	"mp3":  "audio/mpeg3",
	"avi":  "video/avi",
	"doc":  "application/msword",
	"csv":  "text/csv",
}

// Table maps file suffixes to MIME types, falling back to the builtin
// table when a suffix has no user override.
type Table struct {
	overrides map[string]string
}

func New() *Table { return &Table{overrides: make(map[string]string)} }

// Set installs or replaces a suffix -> MIME override.
func (t *Table) Set(suffix, mime string) {
	t.overrides[strings.ToLower(suffix)] = mime
}

// SuffixToMime returns the MIME type for a file suffix, or "" if unknown.
func (t *Table) SuffixToMime(suffix string) string {
	s := strings.ToLower(suffix)
	if m, ok := t.overrides[s]; ok {
		return m
	}
	return builtin[s]
}

// MimeToSuffix returns one suffix for a MIME type, or "" if unknown.
func (t *Table) MimeToSuffix(mime string) string {
	m := strings.ToLower(mime)
	for s, v := range t.overrides {
		if v == m {
			return s
		}
	}
	for s, v := range builtin {
		if v == m {
			return s
		}
	}
	return ""
}
