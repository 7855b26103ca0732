package agents

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/gradscout/framework"
)

// DefaultStageSetName names the built-in admissions pipeline.
const DefaultStageSetName = "admissions"

// StageSet is a named, ordered list of stages plus the stages whose failure
// fails the run. It is the YAML form of a pipeline:
//
//	name: admissions-lite
//	description: profile and matches only
//	required: [normalizer]
//	stages:
//	  - name: normalizer
//	    template: "Summarize {{.Profile}}"
//	  - name: matcher
//	    consumes: [normalizer]
//	    needs_search: true
//	    template: "Match {{stage \"normalizer\"}}"
type StageSet struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description,omitempty"`
	Required    []string              `yaml:"required,omitempty"`
	Stages      []framework.StageSpec `yaml:"stages"`
	SourcePath  string                `yaml:"-"`
}

// StageFileError reports which stage of a stage file failed to compile.
type StageFileError struct {
	Path  string
	Index int
	Name  string
	Err   error
}

func (e *StageFileError) Error() string {
	where := fmt.Sprintf("stage #%d", e.Index+1)
	if e.Name != "" {
		where += " (" + e.Name + ")"
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Path, where, e.Err)
	}
	return fmt.Sprintf("%s: %v", where, e.Err)
}

func (e *StageFileError) Unwrap() error { return e.Err }

// DefaultStageSet returns the built-in admissions pipeline.
func DefaultStageSet() *StageSet {
	return &StageSet{
		Name:        DefaultStageSetName,
		Description: "Profile normalization, program matching, ranking, scholarships and reviews",
		Required:    []string{StageNormalizer},
		Stages:      DefaultStageSpecs(),
	}
}

// LoadStageSet reads and validates a stage file. The set name defaults to
// the file name without extension.
func LoadStageSet(path string) (*StageSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	set, err := ParseStageSet(data)
	if err != nil {
		var fileErr *StageFileError
		if errors.As(err, &fileErr) {
			fileErr.Path = path
			return nil, fileErr
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	set.SourcePath = path
	if set.Name == "" {
		set.Name = stageSetNameFromPath(path)
	}
	return set, nil
}

// ParseStageSet decodes YAML and checks that the set compiles into a valid
// pipeline ordering.
func ParseStageSet(data []byte) (*StageSet, error) {
	var set StageSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode stage set: %w", err)
	}
	if _, err := set.Compile(); err != nil {
		return nil, err
	}
	return &set, nil
}

// Compile builds stage definitions and validates ordering and the required
// list.
func (s *StageSet) Compile() ([]*framework.StageDefinition, error) {
	if s == nil || len(s.Stages) == 0 {
		return nil, errors.New("stage set has no stages")
	}
	stages, err := CompileStages(s.Stages)
	if err != nil {
		return nil, err
	}
	if _, err := framework.BuildStageGraph(stages); err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(stages))
	for _, st := range stages {
		names[st.Name()] = true
	}
	for _, req := range s.Required {
		if !names[req] {
			return nil, fmt.Errorf("required stage %s is not defined", req)
		}
	}
	return stages, nil
}

// Save writes the stage set as YAML.
func (s *StageSet) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func stageSetNameFromPath(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, ".yaml")
	return strings.TrimSuffix(base, ".yml")
}
