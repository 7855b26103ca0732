package framework

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStageDefinitionValidates(t *testing.T) {
	_, err := NewStageDefinition(StageSpec{Template: "x"})
	assert.Error(t, err, "name required")

	_, err = NewStageDefinition(StageSpec{Name: "a"})
	assert.Error(t, err, "template required")

	_, err = NewStageDefinition(StageSpec{Name: "a", Template: "x", Consumes: []string{"a"}})
	assert.Error(t, err, "self dependency")

	_, err = NewStageDefinition(StageSpec{Name: "a", Template: "{{.Nope"})
	assert.Error(t, err, "parse error")

	_, err = NewStageDefinition(StageSpec{Name: "ranker", Template: `{{stage "matcher"}}`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without consuming it")

	def, err := NewStageDefinition(StageSpec{Name: "ranker", Template: `{{stage "matcher"}}`, Consumes: []string{"matcher", "matcher"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"matcher"}, def.Consumes())
	assert.Equal(t, "ranker", def.Title(), "title falls back to name")
}

func TestStageRenderSubstitutesOutputsAndPlaceholders(t *testing.T) {
	def := MustStageDefinition(StageSpec{
		Name:     "reviews",
		Template: "Profile: {{.Text}}\nRanked: {{stage \"ranker\"}}\nFunding: {{stage \"scholarships\"}}\nYear: {{.Year}}",
		Consumes: []string{"ranker", "scholarships"},
	})
	pc := NewPipelineContext()
	require.NoError(t, pc.Append("ranker", "1. Toronto"))

	out, err := def.RenderPrompt(PromptData{Text: "CS grad", Year: 2026}, pc)
	require.NoError(t, err)
	assert.Equal(t, "Profile: CS grad\nRanked: 1. Toronto\nFunding: [unavailable: scholarships produced no output]\nYear: 2026", out)
}

func TestStageRenderRejectsConditionalUndeclaredReference(t *testing.T) {
	def := MustStageDefinition(StageSpec{
		Name:     "ranker",
		Template: `{{if .Document}}{{stage "matcher"}}{{end}}`,
	})
	_, err := def.RenderPrompt(PromptData{Document: "letter"}, NewPipelineContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared in consumes")
}

func TestStageRenderIsSafeForSharedDefinitions(t *testing.T) {
	def := MustStageDefinition(StageSpec{Name: "b", Template: `{{stage "a"}}`, Consumes: []string{"a"}})
	first := NewPipelineContext()
	require.NoError(t, first.Append("a", "one"))
	second := NewPipelineContext()
	require.NoError(t, second.Append("a", "two"))

	done := make(chan string, 2)
	go func() { out, _ := def.RenderPrompt(PromptData{}, first); done <- out }()
	go func() { out, _ := def.RenderPrompt(PromptData{}, second); done <- out }()
	got := []string{<-done, <-done}
	assert.ElementsMatch(t, []string{"one", "two"}, got)
}

func TestStageSearchQuery(t *testing.T) {
	plain := MustStageDefinition(StageSpec{Name: "matcher", Template: "x", NeedsSearch: true})
	long := strings.Repeat("word ", 100)
	q, err := plain.SearchQuery(PromptData{Text: long}, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(q)), maxDerivedQueryLen)
	assert.True(t, strings.HasPrefix(q, "word word"))

	templated := MustStageDefinition(StageSpec{
		Name:          "scholarships",
		Template:      "x",
		Consumes:      []string{"normalizer"},
		NeedsSearch:   true,
		QueryTemplate: "scholarships for {{.Fields.CurrentDegree}} students {{.Year}}",
	})
	q, err = templated.SearchQuery(PromptData{Fields: ProfileFields{CurrentDegree: "BSc"}, Year: 2026}, NewPipelineContext())
	require.NoError(t, err)
	assert.Equal(t, "scholarships for BSc students 2026", q)
}
