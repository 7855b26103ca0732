package framework

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finishedRun(t *testing.T, model *scriptedLLM) *PipelineRun {
	t.Helper()
	p, err := NewPipeline(testGateway(t, model, nil), testStages(t, "normalizer", "matcher"), WithRetryPolicy(fastRetry))
	require.NoError(t, err)
	run, err := p.Run(context.Background(), testProfile(t, "profile"), nil)
	require.NoError(t, err)
	return run
}

func TestFollowUpAnswersAgainstContext(t *testing.T) {
	model := newScriptedLLM().on("", scriptedReply{text: "Toronto has the lowest fees."})
	run := finishedRun(t, model)

	responder, err := NewFollowUpResponder(testGateway(t, model, nil), fastRetry)
	require.NoError(t, err)
	answer, err := responder.Answer(context.Background(), "Which is cheapest?", run)
	require.NoError(t, err)
	assert.Equal(t, "Toronto has the lowest fees.", answer)

	prompts := model.promptsFor("")
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "CONTEXT:\n## normalizer\noutput of normalizer")
	assert.Contains(t, prompts[0], "## matcher\noutput of matcher")
	assert.Contains(t, prompts[0], "QUESTION:\nWhich is cheapest?")
}

func TestFollowUpBeforeRequiredStagesFinish(t *testing.T) {
	model := newScriptedLLM()
	responder, err := NewFollowUpResponder(testGateway(t, model, nil), fastRetry)
	require.NoError(t, err)

	var stateErr *StateError
	_, err = responder.Answer(context.Background(), "q", nil)
	require.True(t, errors.As(err, &stateErr))

	inFlight := &PipelineRun{Status: RunRunning, Context: NewPipelineContext(), Required: []string{"normalizer"}}
	_, err = responder.Answer(context.Background(), "q", inFlight)
	require.True(t, errors.As(err, &stateErr))

	failing := newScriptedLLM().on("normalizer", scriptedReply{err: fatalErr()})
	failed := finishedRun(t, failing)
	assert.Equal(t, RunFailed, failed.Status)
	_, err = responder.Answer(context.Background(), "q", failed)
	require.True(t, errors.As(err, &stateErr))
	assert.Contains(t, stateErr.Error(), "normalizer")
	assert.Zero(t, model.calls)
}

func TestFollowUpRejectsBlankQuestion(t *testing.T) {
	model := newScriptedLLM()
	responder, err := NewFollowUpResponder(testGateway(t, model, nil), fastRetry)
	require.NoError(t, err)
	_, err = responder.Answer(context.Background(), "   ", finishedRun(t, model))
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestFollowUpRetriesAndSurfacesToolError(t *testing.T) {
	model := newScriptedLLM()
	run := finishedRun(t, model)
	model.on("", scriptedReply{err: retryableErr()})

	responder, err := NewFollowUpResponder(testGateway(t, model, nil), fastRetry)
	require.NoError(t, err)
	_, err = responder.WithSystem("custom").Answer(context.Background(), "q", run)
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, KindRateLimited, toolErr.Kind)
	assert.Len(t, model.promptsFor(""), 3)
	assert.Equal(t, "custom", model.systems[len(model.systems)-1])
}
