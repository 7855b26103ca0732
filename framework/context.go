// Package framework hosts the pipeline runtime: the accumulating context that
// stages share, immutable stage definitions, the tool gateway and retry policy
// wrapped around external capabilities, the sequential orchestrator, and the
// follow-up responder that answers questions against a finished run.
//
// The runtime is deliberately small. A run walks its stages strictly in
// definition order, so every prompt is built from outputs that already exist
// and the context can be append-only. Independent runs share nothing mutable;
// the only shared values are the stage definitions, which are read-only after
// construction.
package framework

import (
	"fmt"
	"strings"
	"sync"
)

// ContextEntry is one stage output recorded in a PipelineContext.
type ContextEntry struct {
	Stage  string `json:"stage"`
	Output string `json:"output"`
}

// PipelineContext is the ordered, append-only mapping from stage name to the
// stage's output. Entries are kept in insertion order (which is execution
// order) and an entry, once written, is permanent for the life of the run.
//
// During a run the orchestrator is the only writer. Readers (streaming
// consumers, the follow-up responder) may inspect it concurrently, hence the
// RWMutex.
type PipelineContext struct {
	mu      sync.RWMutex
	order   []string
	outputs map[string]string
}

// NewPipelineContext builds an empty context.
func NewPipelineContext() *PipelineContext {
	return &PipelineContext{outputs: make(map[string]string)}
}

// Append records a stage output. Overwriting an existing entry is an error.
func (c *PipelineContext) Append(stage, output string) error {
	if strings.TrimSpace(stage) == "" {
		return fmt.Errorf("context entry requires a stage name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.outputs[stage]; exists {
		return fmt.Errorf("context entry %s already recorded", stage)
	}
	c.order = append(c.order, stage)
	c.outputs[stage] = output
	return nil
}

// Get returns the output recorded for a stage.
func (c *PipelineContext) Get(stage string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[stage]
	return v, ok
}

// Has reports whether a stage output was recorded.
func (c *PipelineContext) Has(stage string) bool {
	_, ok := c.Get(stage)
	return ok
}

// Len returns the number of recorded entries.
func (c *PipelineContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Names returns the recorded stage names in insertion order.
func (c *PipelineContext) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Entries returns a copy of all entries in insertion order.
func (c *PipelineContext) Entries() []ContextEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ContextEntry, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, ContextEntry{Stage: name, Output: c.outputs[name]})
	}
	return out
}

// Render concatenates all entries into a single document, one section per
// stage. titles maps stage names to display headings; missing titles fall
// back to the stage name.
func (c *PipelineContext) Render(titles map[string]string) string {
	var b strings.Builder
	for i, entry := range c.Entries() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		title := titles[entry.Stage]
		if title == "" {
			title = entry.Stage
		}
		fmt.Fprintf(&b, "## %s\n%s", title, strings.TrimSpace(entry.Output))
	}
	return b.String()
}
