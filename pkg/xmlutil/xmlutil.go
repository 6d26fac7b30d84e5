// Package xmlutil provides XML escaping utilities for prompt injection prevention.
package xmlutil

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Escape replaces characters with special meaning in XML so that field input
// can be embedded in XML-delimited prompt templates.
func Escape(s string) string {
	var buf strings.Builder
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		// EscapeText only fails on invalid UTF-8; return original on error.
		return s
	}
	return buf.String()
}

// Tag wraps the escaped value in <name>...</name>.
func Tag(name, value string) string {
	return fmt.Sprintf("<%s>%s</%s>", name, Escape(value), name)
}

// List renders each value as an escaped <item> inside <name>, one per line.
func List(name string, values []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<%s>\n", name)
	for _, v := range values {
		fmt.Fprintf(&sb, "  <item>%s</item>\n", Escape(v))
	}
	fmt.Fprintf(&sb, "</%s>", name)
	return sb.String()
}
