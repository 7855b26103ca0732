package framework

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type scriptedReply struct {
	text string
	err  error
}

// scriptedLLM answers prompts containing "STAGE:<name>" from a per-stage
// queue. Once a queue is drained the last reply repeats; stages without a
// script echo their name.
type scriptedLLM struct {
	mu      sync.Mutex
	script  map[string][]scriptedReply
	prompts map[string][]string
	systems []string
	calls   int
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{script: map[string][]scriptedReply{}, prompts: map[string][]string{}}
}

func (s *scriptedLLM) on(stage string, replies ...scriptedReply) *scriptedLLM {
	s.script[stage] = append(s.script[stage], replies...)
	return s
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if options != nil {
		s.systems = append(s.systems, options.System)
	}
	stage := stageMarker(prompt)
	s.prompts[stage] = append(s.prompts[stage], prompt)
	queue := s.script[stage]
	if len(queue) == 0 {
		return &LLMResponse{Text: "output of " + stage}, nil
	}
	reply := queue[0]
	if len(queue) > 1 {
		s.script[stage] = queue[1:]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &LLMResponse{Text: reply.text}, nil
}

func (s *scriptedLLM) promptsFor(stage string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[stage]...)
}

func stageMarker(prompt string) string {
	idx := strings.Index(prompt, "STAGE:")
	if idx < 0 {
		return ""
	}
	rest := prompt[idx+len("STAGE:"):]
	if end := strings.IndexAny(rest, " \n"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

type fakeSearch struct {
	mu      sync.Mutex
	results []SearchResult
	err     error
	queries []string
}

func (f *fakeSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type recordingTelemetry struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingTelemetry) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingTelemetry) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

var fastRetry = RetryPolicy{MaxAttempts: 3, Backoff: NoBackoff}

// testStages builds a linear chain s1..sN where each stage consumes its
// predecessor.
func testStages(t *testing.T, names ...string) []*StageDefinition {
	t.Helper()
	stages := make([]*StageDefinition, 0, len(names))
	for i, name := range names {
		spec := StageSpec{Name: name, Template: fmt.Sprintf("STAGE:%s\n{{.Text}}", name)}
		if i > 0 {
			prev := names[i-1]
			spec.Consumes = []string{prev}
			spec.Template += fmt.Sprintf("\nPREVIOUS:{{stage %q}}", prev)
		}
		def, err := NewStageDefinition(spec)
		if err != nil {
			t.Fatalf("stage %s: %v", name, err)
		}
		stages = append(stages, def)
	}
	return stages
}

func testProfile(t *testing.T, text string) Profile {
	t.Helper()
	p, err := ValidateProfile(text, Credentials{}, CredentialRequirements{})
	if err != nil {
		t.Fatalf("ValidateProfile: %v", err)
	}
	return p
}

func testGateway(t *testing.T, model LanguageModel, searcher SearchProvider) *ToolGateway {
	t.Helper()
	gw, err := NewToolGateway(model, searcher, GatewayConfig{GenerateTimeout: time.Second, SearchTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewToolGateway: %v", err)
	}
	return gw
}

func retryableErr() error {
	return &StatusError{Provider: "test", StatusCode: 429}
}

func fatalErr() error {
	return &StatusError{Provider: "test", StatusCode: 401}
}
