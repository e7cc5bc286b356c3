// Package keys builds cache keys for elevation tiles.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
)

const Prefix = "tile:"

// Source identifies a tile origin; tiles from different templates or
// encodings never share keys.
func Source(template, encoding string) string {
	enc := strings.ToLower(strings.TrimSpace(encoding))
	if enc == "" {
		enc = "terrarium"
	}
	return enc + "@" + strings.TrimSpace(template)
}

// Key is "tile:<label>:<z>:<x>:<y>:s=<hash>". The label is a readable,
// truncated form of source; the hash covers the full source string.
func Key(source string, t model.Tile) string {
	label := sanitize(source)
	const maxLabelLen = 48
	if len(label) > maxLabelLen {
		label = label[:maxLabelLen]
	}
	return fmt.Sprintf("%s%s:%d:%d:%d:s=%016x", Prefix, label, t.Z, t.X, t.Y, xxhash.Sum64String(source))
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	// drop the scheme, it only adds noise to the label
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[:strings.LastIndex(s[:i], "@")+1] + s[i+3:]
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.' || r == '@':
			out = r
		default:
			// includes ':' so the label never adds key segments
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
