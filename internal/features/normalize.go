package features

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/clinic_triage/backend/internal/catalog"
)

// foldKey lowercases s, strips diacritics (ł has no decomposition and is
// mapped by hand) and collapses every run of non-alphanumerics to "_".
func foldKey(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			switch r {
			case 'ł':
				return 'l'
			case 'Ł':
				return 'L'
			}
			return r
		}),
		norm.NFC,
	)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

type templateIndex struct {
	exact  map[string]string
	folded map[string]string
}

func newTemplateIndex(c *catalog.Catalog) templateIndex {
	idx := templateIndex{
		exact:  map[string]string{},
		folded: map[string]string{},
	}
	for _, key := range c.TemplateKeys() {
		idx.exact[key] = key
		idx.folded[foldKey(key)] = key
	}
	for alias, key := range c.Aliases {
		idx.exact[alias] = key
		if _, taken := idx.folded[foldKey(alias)]; !taken {
			idx.folded[foldKey(alias)] = key
		}
	}
	return idx
}

// resolve maps free text onto a canonical template key, or catalog.NoTemplate.
func (idx templateIndex) resolve(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return catalog.NoTemplate
	}
	if key, ok := idx.exact[raw]; ok {
		return key
	}
	if key, ok := idx.folded[foldKey(raw)]; ok {
		return key
	}
	return catalog.NoTemplate
}
