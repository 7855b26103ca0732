package framework

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StageStatus is the lifecycle state of one stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// StageError is the detail attached to a failed StageResult.
type StageError struct {
	Stage    string    `json:"stage"`
	Attempts int       `json:"attempts"`
	Kind     ErrorKind `json:"kind,omitempty"`
	Message  string    `json:"message"`
	Err      error     `json:"-"`
}

func (e *StageError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("stage %s failed after %d attempt(s): %s", e.Stage, e.Attempts, e.Message)
	}
	return fmt.Sprintf("stage %s failed after %d attempt(s) (%s): %s", e.Stage, e.Attempts, e.Kind, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

func newStageError(stage string, attempts int, err error) *StageError {
	detail := &StageError{Stage: stage, Attempts: attempts, Message: err.Error(), Err: err}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		detail.Kind = toolErr.Kind
	}
	return detail
}

// StageResult is what a run emits for one stage.
type StageResult struct {
	Stage      string        `json:"stage"`
	Title      string        `json:"title"`
	Status     StageStatus   `json:"status"`
	Output     string        `json:"output,omitempty"`
	Error      *StageError   `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	UsedSearch bool          `json:"used_search"`
	Duration   time.Duration `json:"duration"`
}

// PipelineRun is the terminal artifact of one invocation. It lives only in
// process memory.
type PipelineRun struct {
	ID         string           `json:"id"`
	Status     RunStatus        `json:"status"`
	Profile    Profile          `json:"profile"`
	Results    []StageResult    `json:"results"`
	Context    *PipelineContext `json:"-"`
	Required   []string         `json:"required"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Finished reports whether the run reached a terminal status.
func (r *PipelineRun) Finished() bool {
	return r != nil && r.Status != "" && r.Status != RunRunning
}

// Result returns the result recorded for a stage.
func (r *PipelineRun) Result(stage string) (StageResult, bool) {
	for _, res := range r.Results {
		if res.Stage == stage {
			return res, true
		}
	}
	return StageResult{}, false
}

// Titles maps stage names to display titles.
func (r *PipelineRun) Titles() map[string]string {
	titles := make(map[string]string, len(r.Results))
	for _, res := range r.Results {
		titles[res.Stage] = res.Title
	}
	return titles
}

// StageSummary is one line of the aggregate record.
type StageSummary struct {
	Stage    string      `json:"stage"`
	Title    string      `json:"title"`
	Status   StageStatus `json:"status"`
	Attempts int         `json:"attempts"`
	Error    string      `json:"error,omitempty"`
}

// Recommendation is the aggregate record emitted after the last stage.
type Recommendation struct {
	RunID    string         `json:"run_id"`
	Status   RunStatus      `json:"status"`
	Stages   []StageSummary `json:"stages"`
	Markdown string         `json:"markdown"`
}

// BuildRecommendation assembles every available stage output, in order,
// under its title. Stages without output are noted rather than dropped.
func BuildRecommendation(run *PipelineRun) Recommendation {
	rec := Recommendation{RunID: run.ID, Status: run.Status}
	var b strings.Builder
	for _, res := range run.Results {
		summary := StageSummary{Stage: res.Stage, Title: res.Title, Status: res.Status, Attempts: res.Attempts}
		if res.Error != nil {
			summary.Error = res.Error.Error()
		}
		rec.Stages = append(rec.Stages, summary)

		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n", res.Title)
		switch res.Status {
		case StageSucceeded:
			b.WriteString(strings.TrimSpace(res.Output))
		case StageFailed:
			fmt.Fprintf(&b, "_%s_", Unavailable(res.Stage))
		default:
			b.WriteString("_not run_")
		}
	}
	rec.Markdown = b.String()
	return rec
}
