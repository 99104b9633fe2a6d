// internal/prompts/prompts.go
//
// Prompt templates for the generation provider.
//
// Templates are text/template files named <name>.tmpl. They are read from the
// directory in PROMPTS_DIR when set, otherwise from the copies embedded in the
// assets package. Every template listed in Names must be present.
//
// Template data:
//   genesis     {Language}
//   feed        {Requirement, Language}
//   feed_debug  {Requirement, Language}
//   silhouette  {BaseTraits, Mutations}
//   stats       {BaseTraits, Mutations, Environment, Language}

package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"

	"github.com/robalobadob/poco/assets"
	"github.com/robalobadob/poco/internal/genesis"
)

const (
	Genesis    = "genesis"
	Feed       = "feed"
	FeedDebug  = "feed_debug"
	Silhouette = "silhouette"
	Stats      = "stats"
)

// Names lists every template the provider needs.
var Names = []string{Genesis, Feed, FeedDebug, Silhouette, Stats}

var funcs = template.FuncMap{"join": strings.Join}

// Set is a parsed collection of prompt templates.
type Set struct {
	tmpl *template.Template
}

// Load parses templates from dir, or from the embedded defaults when dir is empty.
func Load(dir string) (*Set, error) {
	var src fs.FS = assets.Prompts()
	if dir != "" {
		src = os.DirFS(dir)
	}
	return Parse(src)
}

// Parse reads <name>.tmpl for each entry of Names from src.
func Parse(src fs.FS) (*Set, error) {
	root := template.New("prompts").Funcs(funcs).Option("missingkey=error")
	for _, name := range Names {
		b, err := fs.ReadFile(src, name+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("prompts: read %s: %w", name, err)
		}
		if _, err := root.New(name).Parse(string(b)); err != nil {
			return nil, fmt.Errorf("prompts: parse %s: %w", name, err)
		}
	}
	return &Set{tmpl: root}, nil
}

// Render executes the named template.
func (s *Set) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("prompts: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (s *Set) GenesisPrompt(language string) (string, error) {
	return s.Render(Genesis, map[string]any{"Language": language})
}

// FeedPrompt picks the debug variant when debug is set; that variant asks only
// for mutation narrative and never for a verdict.
func (s *Set) FeedPrompt(requirement, language string, debug bool) (string, error) {
	name := Feed
	if debug {
		name = FeedDebug
	}
	return s.Render(name, map[string]any{"Requirement": requirement, "Language": language})
}

func (s *Set) SilhouettePrompt(baseTraits, mutations []string) (string, error) {
	return s.Render(Silhouette, map[string]any{"BaseTraits": baseTraits, "Mutations": mutations})
}

func (s *Set) StatsPrompt(req genesis.StatsRequest, language string) (string, error) {
	return s.Render(Stats, map[string]any{
		"BaseTraits":  req.BaseTraits,
		"Mutations":   req.Mutations,
		"Environment": req.Environment,
		"Language":    language,
	})
}
