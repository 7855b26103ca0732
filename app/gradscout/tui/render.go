package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/gradscout/framework"
)

// RenderRecommendation draws each stage section in its own box, in run
// order. Failed and skipped stages keep their place with a short note.
func RenderRecommendation(run *framework.PipelineRun, width int) string {
	if run == nil {
		return ""
	}
	boxWidth := max(20, width-4)
	sections := make([]string, 0, len(run.Results)+1)
	sections = append(sections, renderRunHeader(run))
	for _, res := range run.Results {
		sections = append(sections, sectionBoxStyle.Width(boxWidth).Render(renderSection(res)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderRunHeader(run *framework.PipelineRun) string {
	style := completedStyle
	switch run.Status {
	case framework.RunFailed:
		style = failedStyle
	case framework.RunCancelled:
		style = inProgressStyle
	}
	elapsed := run.FinishedAt.Sub(run.StartedAt)
	return headerStyle.Render("Recommendation ") +
		style.Render(string(run.Status)) +
		dimStyle.Render(fmt.Sprintf("  run %s | %s", run.ID, formatDuration(elapsed))) + "\n"
}

func renderSection(res framework.StageResult) string {
	var b strings.Builder
	b.WriteString(sectionHeaderStyle.Render(res.Title))
	if res.UsedSearch {
		b.WriteString(dimStyle.Render("  web search"))
	}
	b.WriteString("\n")
	switch res.Status {
	case framework.StageSucceeded:
		b.WriteString(textStyle.Render(strings.TrimSpace(res.Output)))
	case framework.StageFailed:
		msg := "stage failed"
		if res.Error != nil {
			msg = res.Error.Error()
		}
		b.WriteString(failedStyle.Render(msg))
	default:
		b.WriteString(pendingStyle.Render("not run"))
	}
	return b.String()
}

// RenderAnswer formats a follow-up exchange.
func RenderAnswer(question, answer string, width int) string {
	boxWidth := max(20, width-4)
	body := sectionHeaderStyle.Render("Q: "+strings.TrimSpace(question)) + "\n" + textStyle.Render(strings.TrimSpace(answer))
	return sectionBoxStyle.Width(boxWidth).Render(body)
}
