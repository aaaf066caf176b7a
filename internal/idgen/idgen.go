// Package idgen generates deterministic entity ids of the form
// {kind}-{YYYYMMDD}-{HHMM}-{slug} and maintains the historical alias
// table used by the link resolver.
package idgen

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/steveyegge/mdvault/internal/types"
)

// MaxSlugLength bounds the title-derived portion of an id.
const MaxSlugLength = 40

// Slug converts a title into the id-safe slug: ASCII-lowered,
// punctuation stripped, hyphen-separated, truncated at a word boundary
// where possible.
func Slug(title string) string {
	if strings.TrimSpace(title) == "" {
		return "untitled"
	}

	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '_', r == '/', r == '.':
			b.WriteByte(' ')
		default:
			// Punctuation and non-ASCII are dropped outright.
		}
	}

	words := strings.Fields(b.String())
	if len(words) == 0 {
		return "untitled"
	}
	slug := strings.Join(words, "-")

	if len(slug) > MaxSlugLength {
		truncated := slug[:MaxSlugLength]
		// Prefer cutting at a word boundary if one exists in the back half.
		if i := strings.LastIndex(truncated, "-"); i > MaxSlugLength/2 {
			truncated = truncated[:i]
		}
		slug = strings.Trim(truncated, "-")
	}
	return slug
}

// Generate builds the id for a new entity. exists is consulted for
// collisions; on a hit the suffix -2, -3, ... is appended until free.
func Generate(kind types.Kind, title string, createdTS time.Time, exists func(id string) bool) string {
	ts := createdTS.UTC()
	base := fmt.Sprintf("%s-%s-%s-%s", kind, ts.Format("20060102"), ts.Format("1504"), Slug(title))

	id := base
	for suffix := 2; exists(id); suffix++ {
		id = fmt.Sprintf("%s-%d", base, suffix)
	}
	return id
}
