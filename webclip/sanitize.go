package main

import (
	"path/filepath"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// labelPolicy strips every HTML element and attribute; upload labels are
// plain text only.
var labelPolicy = bluemonday.StrictPolicy()

// cleanRoomName maps an arbitrary room string onto a storage key: every
// character outside [A-Za-z0-9-] is dropped, and a fully-invalid or empty
// name falls back to the reserved room "default". Applied identically on
// every access path so differently-punctuated requests for the same room
// resolve to the same key.
func cleanRoomName(room string) string {
	var b strings.Builder
	b.Grow(len(room))
	for _, r := range room {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

// cleanLabel makes a client-supplied filename safe to show as a download
// label: directory components are stripped, markup removed, whitespace
// trimmed, and the result capped. The label is display-only; it is never
// used as an on-disk path.
func cleanLabel(name string) string {
	const maxLen = 128
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(labelPolicy.Sanitize(name))
	if name == "." || name == "/" {
		return ""
	}
	if runes := []rune(name); len(runes) > maxLen {
		name = string(runes[:maxLen])
	}
	return name
}

// fileExt returns the lowercase extension of a filename without the dot,
// or "" when there is none.
func fileExt(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
