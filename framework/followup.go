package framework

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const defaultFollowUpSystem = "You are an expert educational advisor answering a student's follow-up question about their program recommendations."

const followUpInstructions = `Answer the student's question using the research in CONTEXT first.
If CONTEXT does not contain the answer, say so plainly and then give general guidance.
Be specific and concise. Cite program or university names from CONTEXT where relevant.

QUESTION:
%s`

// FollowUpResponder answers questions against a finished run. It keeps no
// state between questions.
type FollowUpResponder struct {
	gateway *ToolGateway
	retry   RetryPolicy
	system  string
}

// NewFollowUpResponder builds a responder that calls through gateway under
// the given retry policy.
func NewFollowUpResponder(gateway *ToolGateway, retry RetryPolicy) (*FollowUpResponder, error) {
	if gateway == nil {
		return nil, errors.New("follow-up responder requires a tool gateway")
	}
	return &FollowUpResponder{gateway: gateway, retry: retry, system: defaultFollowUpSystem}, nil
}

// WithSystem returns a copy using a different system instruction.
func (f *FollowUpResponder) WithSystem(system string) *FollowUpResponder {
	clone := *f
	if strings.TrimSpace(system) != "" {
		clone.system = system
	}
	return &clone
}

// Answer makes one generate call (under the retry policy) with the run's full
// rendered context and the question.
func (f *FollowUpResponder) Answer(ctx context.Context, question string, run *PipelineRun) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", &ValidationError{Field: "question", Reason: "question is empty"}
	}
	if err := CheckAnswerable(run); err != nil {
		return "", err
	}
	req := GenerateRequest{
		System:  f.system,
		Prompt:  fmt.Sprintf(followUpInstructions, question),
		Context: run.Context.Render(run.Titles()),
	}
	ctx = WithStageInfo(ctx, StageInfo{RunID: run.ID, Stage: "follow-up"})
	var answer string
	_, err := f.retry.Do(ctx, func(ctx context.Context, _ int) error {
		text, err := f.gateway.Generate(ctx, req)
		if err != nil {
			return err
		}
		answer = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

// CheckAnswerable returns a StateError unless the run has finished and every
// required stage succeeded.
func CheckAnswerable(run *PipelineRun) error {
	if run == nil || run.Context == nil {
		return &StateError{Operation: "follow-up", Reason: "no pipeline run"}
	}
	if !run.Finished() {
		return &StateError{Operation: "follow-up", Reason: "pipeline run has not finished"}
	}
	for _, name := range run.Required {
		res, ok := run.Result(name)
		if !ok || res.Status != StageSucceeded {
			return &StateError{Operation: "follow-up", Reason: fmt.Sprintf("required stage %s has not succeeded", name)}
		}
	}
	if run.Context.Len() == 0 {
		return &StateError{Operation: "follow-up", Reason: "pipeline produced no context"}
	}
	return nil
}
