package framework

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"
)

const maxDerivedQueryLen = 256

// StageSpec is the declarative form of a stage. It is what stage files are
// decoded into; NewStageDefinition compiles it.
type StageSpec struct {
	Name          string   `yaml:"name" json:"name"`
	Title         string   `yaml:"title,omitempty" json:"title,omitempty"`
	System        string   `yaml:"system,omitempty" json:"system,omitempty"`
	Template      string   `yaml:"template" json:"template"`
	Consumes      []string `yaml:"consumes,omitempty" json:"consumes,omitempty"`
	NeedsSearch   bool     `yaml:"needs_search,omitempty" json:"needs_search,omitempty"`
	QueryTemplate string   `yaml:"query,omitempty" json:"query,omitempty"`
}

// PromptData is the value templates are executed against. Prior stage
// outputs are not fields; templates read them with {{stage "name"}} so every
// reference can be checked against Consumes.
type PromptData struct {
	Profile  string
	Text     string
	Document string
	Fields   ProfileFields
	Year     int
}

// StageDefinition is an immutable, compiled stage. Definitions are shared
// read-only between runs; rendering works on a clone of the templates.
type StageDefinition struct {
	name        string
	title       string
	system      string
	consumes    []string
	needsSearch bool
	prompt      *template.Template
	query       *template.Template
}

// Unavailable is the text substituted for a consumed stage that produced no
// output.
func Unavailable(stage string) string {
	return fmt.Sprintf("[unavailable: %s produced no output]", stage)
}

// NewStageDefinition parses the templates and checks that every stage the
// templates reference is listed in Consumes. Ordering against other stages is
// checked when the pipeline is assembled.
func NewStageDefinition(spec StageSpec) (*StageDefinition, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("stage name required")
	}
	if strings.TrimSpace(spec.Template) == "" {
		return nil, fmt.Errorf("stage %s: template required", name)
	}
	consumes := make([]string, 0, len(spec.Consumes))
	seen := make(map[string]bool)
	for _, dep := range spec.Consumes {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			return nil, fmt.Errorf("stage %s: empty consumes entry", name)
		}
		if dep == name {
			return nil, fmt.Errorf("stage %s: cannot consume itself", name)
		}
		if seen[dep] {
			continue
		}
		seen[dep] = true
		consumes = append(consumes, dep)
	}

	prompt, err := parseStageTemplate(name, spec.Template)
	if err != nil {
		return nil, err
	}
	var query *template.Template
	if strings.TrimSpace(spec.QueryTemplate) != "" {
		query, err = parseStageTemplate(name+".query", spec.QueryTemplate)
		if err != nil {
			return nil, err
		}
	}

	def := &StageDefinition{
		name:        name,
		title:       strings.TrimSpace(spec.Title),
		system:      spec.System,
		consumes:    consumes,
		needsSearch: spec.NeedsSearch,
		prompt:      prompt,
		query:       query,
	}
	if def.title == "" {
		def.title = name
	}
	if err := def.checkReferences(); err != nil {
		return nil, err
	}
	return def, nil
}

// MustStageDefinition is NewStageDefinition for built-in stage sets.
func MustStageDefinition(spec StageSpec) *StageDefinition {
	def, err := NewStageDefinition(spec)
	if err != nil {
		panic(err)
	}
	return def
}

func (s *StageDefinition) Name() string  { return s.name }
func (s *StageDefinition) Title() string { return s.title }

// System returns the system instruction sent with the stage's generate call.
func (s *StageDefinition) System() string { return s.system }

// NeedsSearch reports whether a search call precedes generation.
func (s *StageDefinition) NeedsSearch() bool { return s.needsSearch }

// Consumes returns the prior stages whose outputs the stage reads.
func (s *StageDefinition) Consumes() []string {
	return append([]string(nil), s.consumes...)
}

func (s *StageDefinition) consumesStage(name string) bool {
	for _, dep := range s.consumes {
		if dep == name {
			return true
		}
	}
	return false
}

// RenderPrompt executes the prompt template. Consumed stages missing from
// the context are substituted with the Unavailable placeholder.
func (s *StageDefinition) RenderPrompt(data PromptData, pc *PipelineContext) (string, error) {
	out, err := s.execute(s.prompt, data, pc)
	if err != nil {
		return "", fmt.Errorf("stage %s: render prompt: %w", s.name, err)
	}
	return strings.TrimSpace(out), nil
}

// SearchQuery derives the search query. Without a query template the
// profile text is used, whitespace-collapsed and truncated.
func (s *StageDefinition) SearchQuery(data PromptData, pc *PipelineContext) (string, error) {
	if s.query == nil {
		return truncateRunes(strings.Join(strings.Fields(data.Text), " "), maxDerivedQueryLen), nil
	}
	out, err := s.execute(s.query, data, pc)
	if err != nil {
		return "", fmt.Errorf("stage %s: render query: %w", s.name, err)
	}
	return truncateRunes(strings.Join(strings.Fields(out), " "), maxDerivedQueryLen), nil
}

func (s *StageDefinition) execute(tmpl *template.Template, data PromptData, pc *PipelineContext) (string, error) {
	clone, err := tmpl.Clone()
	if err != nil {
		return "", err
	}
	clone.Funcs(template.FuncMap{
		"stage": func(name string) (string, error) {
			if !s.consumesStage(name) {
				return "", fmt.Errorf("stage %q is not declared in consumes", name)
			}
			if pc != nil {
				if out, ok := pc.Get(name); ok {
					return out, nil
				}
			}
			return Unavailable(name), nil
		},
	})
	var buf bytes.Buffer
	if err := clone.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// checkReferences dry-runs the templates with a recording stage func. It
// catches unconditional references to undeclared stages at construction
// time; conditional ones are still rejected at render time.
func (s *StageDefinition) checkReferences() error {
	var missing []string
	record := template.FuncMap{
		"stage": func(name string) string {
			if !s.consumesStage(name) {
				missing = append(missing, name)
			}
			return ""
		},
	}
	for _, tmpl := range []*template.Template{s.prompt, s.query} {
		if tmpl == nil {
			continue
		}
		clone, err := tmpl.Clone()
		if err != nil {
			return fmt.Errorf("stage %s: %w", s.name, err)
		}
		clone.Funcs(record)
		if err := clone.Execute(&bytes.Buffer{}, PromptData{}); err != nil {
			return fmt.Errorf("stage %s: template: %w", s.name, err)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("stage %s: template references %s without consuming it", s.name, strings.Join(missing, ", "))
	}
	return nil
}

func parseStageTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(template.FuncMap{"stage": func(string) (string, error) { return "", nil }}).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("stage %s: parse template: %w", name, err)
	}
	return tmpl, nil
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}
