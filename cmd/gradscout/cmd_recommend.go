package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/gradscout/agents"
	"github.com/lexcodex/gradscout/app/gradscout/tui"
	"github.com/lexcodex/gradscout/cmd/internal/cliutils"
	"github.com/lexcodex/gradscout/framework"
)

const renderWidth = 100

type answerRecord struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
	Error    string `json:"error,omitempty"`
}

type recommendOutput struct {
	Run            *framework.PipelineRun    `json:"run"`
	Recommendation *framework.Recommendation `json:"recommendation"`
	Answers        []answerRecord            `json:"answers,omitempty"`
}

func newRecommendCmd() *cobra.Command {
	var (
		profile     string
		profileFile string
		docPath     string
		stageSet    string
		asJSON      bool
		noTUI       bool
		questions   []string
	)
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Run the recommendation pipeline for one profile",
		Example: `  gradscout recommend --profile "BSc physics 2025, want a masters in Germany"
  gradscout recommend --profile-file me.txt --document transcript.pdf --ask "Which is cheapest?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := cliutils.ReadProfile(profile, profileFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			sess, err := openSession(stageSet)
			if err != nil {
				return err
			}
			defer sess.Close()

			req := agents.Request{Profile: text, Credentials: sess.creds}
			if docPath != "" {
				f, err := os.Open(docPath)
				if err != nil {
					return err
				}
				defer f.Close()
				req.Document = f
			}

			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			var run *framework.PipelineRun
			switch {
			case asJSON:
				run, err = sess.advisor.Recommend(ctx, req, nil)
			case !noTUI && isTerminal(out):
				run, err = recommendWithProgress(ctx, sess.advisor, req, out)
			default:
				run, err = sess.advisor.Recommend(ctx, req, func(ev framework.RunEvent) {
					if ev.Stage != nil {
						printStageLine(out, ev.Stage)
					}
				})
			}
			if run == nil {
				return err
			}
			if err != nil {
				logger.Warn("run ended early", zap.String("run_id", run.ID), zap.Error(err))
			}

			rec := framework.BuildRecommendation(run)
			answers := askAll(ctx, sess.advisor, run, questions)
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(recommendOutput{Run: run, Recommendation: &rec, Answers: answers}); err != nil {
					return err
				}
			} else {
				if isTerminal(out) && !noTUI {
					fmt.Fprintln(out, tui.RenderRecommendation(run, renderWidth))
				} else {
					fmt.Fprintf(out, "\n%s\n", rec.Markdown)
				}
				for _, a := range answers {
					printAnswer(out, a, !noTUI && isTerminal(out))
				}
			}
			return runOutcome(run)
		},
	}
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Free-text student profile")
	cmd.Flags().StringVarP(&profileFile, "profile-file", "f", "", "Read the profile from a file, or - for stdin")
	cmd.Flags().StringVarP(&docPath, "document", "d", "", "Supporting PDF (CV or transcript)")
	cmd.Flags().StringVar(&stageSet, "stage-set", "", "Stage set to run (default pipeline.stage_set)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run as JSON")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Print plain progress lines instead of the live view")
	cmd.Flags().StringArrayVarP(&questions, "ask", "q", nil, "Follow-up question to answer after the run (repeatable)")
	return cmd
}

// recommendWithProgress streams the run into the live view. When the user
// interrupts, the run is cancelled and the partial result is still returned.
func recommendWithProgress(ctx context.Context, adv *agents.Advisor, req agents.Request, out io.Writer) (*framework.PipelineRun, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := adv.Stream(runCtx, req)
	if err != nil {
		return nil, err
	}
	_, run, interrupted, err := tui.RunProgress(runCtx, tui.RowsFor(adv.Pipeline().Stages()), events, out)
	if run != nil && !interrupted {
		return run, err
	}
	cancel()
	for ev := range events {
		if ev.Run != nil {
			run = ev.Run
		}
	}
	if run == nil {
		return nil, context.Canceled
	}
	return run, context.Canceled
}

func askAll(ctx context.Context, adv *agents.Advisor, run *framework.PipelineRun, questions []string) []answerRecord {
	if len(questions) == 0 || run.Status == framework.RunCancelled {
		return nil
	}
	answers := make([]answerRecord, 0, len(questions))
	for _, q := range questions {
		rec := answerRecord{Question: q}
		answer, err := adv.Ask(ctx, run.ID, q)
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.Answer = answer
		}
		answers = append(answers, rec)
	}
	return answers
}

func printStageLine(out io.Writer, res *framework.StageResult) {
	switch res.Status {
	case framework.StageSucceeded:
		fmt.Fprintf(out, "[ok]     %s (%d attempt(s), %s)\n", res.Title, res.Attempts, res.Duration.Round(time.Millisecond))
	default:
		msg := "failed"
		if res.Error != nil {
			msg = res.Error.Error()
		}
		fmt.Fprintf(out, "[failed] %s: %s\n", res.Title, msg)
	}
}

func printAnswer(out io.Writer, a answerRecord, styled bool) {
	if a.Error != "" {
		fmt.Fprintf(out, "\nQ: %s\nerror: %s\n", a.Question, a.Error)
		return
	}
	if styled {
		fmt.Fprintln(out, tui.RenderAnswer(a.Question, a.Answer, renderWidth))
		return
	}
	fmt.Fprintf(out, "\nQ: %s\nA: %s\n", a.Question, a.Answer)
}

// runOutcome turns a failed or cancelled run into a non-zero exit.
func runOutcome(run *framework.PipelineRun) error {
	switch run.Status {
	case framework.RunFailed:
		for _, res := range run.Results {
			if res.Status == framework.StageFailed && res.Error != nil && slices.Contains(run.Required, res.Stage) {
				return fmt.Errorf("run %s failed: %w", run.ID, res.Error)
			}
		}
		return fmt.Errorf("run %s failed", run.ID)
	case framework.RunCancelled:
		return fmt.Errorf("run %s cancelled", run.ID)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
