// Package tags normalises event tags and assigns each a display color.
package tags

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

// Palette is cycled by tag hash when no explicit color is supplied.
var Palette = []string{
	"#2563eb",
	"#16a34a",
	"#ea580c",
	"#7c3aed",
	"#0f766e",
	"#be123c",
	"#ca8a04",
}

var hexColor = regexp.MustCompile(`(?i)^#([0-9a-f]{3}|[0-9a-f]{6})$`)

// IsHexColor accepts #rgb and #rrggbb, any case.
func IsHexColor(s string) bool { return hexColor.MatchString(strings.TrimSpace(s)) }

// Split parses a comma separated list, as typed into a single form field.
func Split(s string) []string { return Normalize(strings.Split(s, ",")) }

// Normalize trims each tag, drops empties and removes case-insensitive
// duplicates, keeping the first spelling and order seen.
func Normalize(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Colors returns a color for every tag.  A valid color in supplied wins,
// then one in existing (both looked up case-insensitively), then the
// palette pick.
func Colors(tagList []string, supplied, existing map[string]string) map[string]string {
	sup := lowerKeys(supplied)
	old := lowerKeys(existing)
	out := make(map[string]string, len(tagList))
	for _, t := range tagList {
		k := strings.ToLower(t)
		switch {
		case IsHexColor(sup[k]):
			out[t] = strings.TrimSpace(sup[k])
		case IsHexColor(old[k]):
			out[t] = strings.TrimSpace(old[k])
		default:
			out[t] = PickColor(t)
		}
	}
	return out
}

// PickColor maps a tag onto the palette deterministically.  The hash is the
// 32-bit "h*31 + c" over UTF-16 code units, so clients computing colors
// locally agree with the server.
func PickColor(tag string) string {
	return Palette[hash(tag)%int64(len(Palette))]
}

func hash(s string) int64 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
