package workflow

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dukex/paperdigest/pkg/models"
)

// Summary renders the per-step cost, token and duration breakdown of an
// execution with a totals row.
func Summary(execution *models.Execution, steps []*models.StepRecord) string {
	var (
		tokensIn, tokensOut, durationMs int64
		totalCost                       float64
	)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STEP", "STATUS", "RETRIES", "TOKENS IN", "TOKENS OUT", "COST (USD)", "DURATION")

	for _, step := range steps {
		tokensIn += step.TokensInput
		tokensOut += step.TokensOutput
		totalCost += step.Cost
		durationMs += step.DurationMs

		t.Row(
			step.StepName,
			string(step.Status),
			fmt.Sprint(step.RetryCount),
			fmt.Sprint(step.TokensInput),
			fmt.Sprint(step.TokensOutput),
			fmt.Sprintf("%.4f", step.Cost),
			formatMillis(step.DurationMs),
		)
	}

	t.Row("TOTAL", string(execution.Status), "", fmt.Sprint(tokensIn), fmt.Sprint(tokensOut),
		fmt.Sprintf("%.4f", totalCost), formatMillis(durationMs))

	return fmt.Sprintf("execution %s (%s)\n%s", execution.ID, execution.WorkflowType, t.String())
}

func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}
