// Package i18n resolves localized feedback strings.
//
// Catalogs are PO files (one per language) parsed with gotext. The language of a
// request is negotiated from its Accept-Language header; English is the fallback.
package i18n

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/leonelquinteros/gotext"
	"golang.org/x/text/language"

	"github.com/robalobadob/poco/assets"
)

// DefaultLanguage is used when negotiation finds no better match.
const DefaultLanguage = "en"

// Catalog holds one parsed PO file per supported language.
type Catalog struct {
	pos     map[string]*gotext.Po
	matcher language.Matcher
	langs   []string
}

// Load reads the embedded catalogs.
func Load() (*Catalog, error) { return Parse(assets.Locales()) }

// Parse reads every <lang>.po file at the top of src.
func Parse(src fs.FS) (*Catalog, error) {
	entries, err := fs.ReadDir(src, ".")
	if err != nil {
		return nil, fmt.Errorf("i18n: list catalogs: %w", err)
	}
	c := &Catalog{pos: map[string]*gotext.Po{}}
	tags := []language.Tag{language.Make(DefaultLanguage)}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".po") {
			continue
		}
		lang := strings.TrimSuffix(name, ".po")
		b, err := fs.ReadFile(src, name)
		if err != nil {
			return nil, fmt.Errorf("i18n: read %s: %w", name, err)
		}
		po := gotext.NewPo()
		po.Parse(b)
		c.pos[lang] = po
		c.langs = append(c.langs, lang)
		if lang != DefaultLanguage {
			tags = append(tags, language.Make(lang))
		}
	}
	if _, ok := c.pos[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("i18n: missing %s catalog", DefaultLanguage)
	}
	c.matcher = language.NewMatcher(tags)
	return c, nil
}

// Negotiate picks the best supported language for an Accept-Language value.
func (c *Catalog) Negotiate(acceptLanguage string) string {
	tag, _ := language.MatchStrings(c.matcher, acceptLanguage)
	base, _ := tag.Base()
	if _, ok := c.pos[base.String()]; ok {
		return base.String()
	}
	return DefaultLanguage
}

// Languages lists the loaded catalogs.
func (c *Catalog) Languages() []string { return append([]string(nil), c.langs...) }

// For returns the message lookup for lang, falling back to the default catalog.
func (c *Catalog) For(lang string) *Messages {
	po, ok := c.pos[lang]
	if !ok {
		po = c.pos[DefaultLanguage]
	}
	return &Messages{po: po, fallback: c.pos[DefaultLanguage]}
}

// Messages is one language's view of the catalog.
type Messages struct {
	po       *gotext.Po
	fallback *gotext.Po
}

// Get translates key. Keys missing in the language fall back to English, then to the key itself.
func (m *Messages) Get(key string) string {
	if s := m.po.Get(key); s != key {
		return s
	}
	return m.fallback.Get(key)
}

// LanguageName is the English name of the language, used inside prompts.
func (m *Messages) LanguageName() string { return m.Get("LANGUAGE_NAME") }
