package clioutput

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	figure "github.com/common-nighthawk/go-figure"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/costexplorer"
	"github.com/primait/lambda-deploy/pkg/deployer"
	"github.com/primait/lambda-deploy/pkg/packager"
)

var boxStyle = lipgloss.NewStyle().
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#F4D060")).
	Padding(0, 1)

var labelStyle = lipgloss.NewStyle().Bold(true).Width(14)

// Banner returns the program name drawn in ASCII art.
func Banner(name string) string {
	return figure.NewFigure(name, "small", true).String()
}

func stepStatus(status string) string {
	switch status {
	case deployer.StatusDone:
		return text.FgGreen.Sprint("✔ " + status)
	case deployer.StatusFailed:
		return text.FgHiRed.Sprint("✘ " + status)
	default:
		return text.FgHiBlack.Sprint("- " + status)
	}
}

// StepsTable renders the steps of a run with their outcome and duration.
func StepsTable(steps []deployer.StepResult) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"#", "Step", "Status", "Duration"})
	for i, s := range steps {
		duration := ""
		if s.Status != deployer.StatusSkipped {
			duration = s.Duration.Round(time.Millisecond).String()
		}
		tw.AppendRow(table.Row{i, s.Name, stepStatus(s.Status), duration})
	}
	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return tw.Render()
}

func line(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

// SummaryBox renders the outcome of a deployment in a bordered box.
func SummaryBox(s *deployer.Summary) string {
	title := "Deployment summary"
	if s.DryRun {
		title += " (dry run)"
	}
	lines := []string{lipgloss.NewStyle().Bold(true).Render(title), ""}
	lines = append(lines, line("Function", s.FunctionName))
	if s.Resources.Caller != "" {
		lines = append(lines, line("Caller", s.Resources.Caller+" ("+s.Resources.AccountID+")"))
	}
	if s.Function != nil {
		lines = append(lines, line("ARN", s.Function.ARN))
		switch {
		case s.Function.Created:
			lines = append(lines, line("Change", "created"))
		case s.Function.Changed():
			lines = append(lines, line("Change", "updated"))
		default:
			lines = append(lines, line("Change", "unchanged"))
		}
	}
	if s.Package != nil {
		lines = append(lines, line("Package", fmt.Sprintf("%s (%s, %d files)", s.Package.Path, packager.HumanSize(s.Package.Size), len(s.Package.Files))))
	}
	if s.Schedule != nil {
		lines = append(lines, line("Schedule", fmt.Sprintf("%s [%s]", s.Schedule.ARN, s.Schedule.State)))
	}
	if s.Budget != nil {
		budget := fmt.Sprintf("%s, %.2f of %.2f USD this month", s.Budget.Name, s.Budget.MonthToDate, s.Budget.Limit)
		if s.Budget.KillSwitch {
			budget += ", kill switch armed"
		}
		lines = append(lines, line("Budget", budget))
	}
	if s.LocalTest != nil {
		lines = append(lines, line("Local test", passed(s.LocalTest.Passed)))
	}
	if s.SmokeTest != nil {
		lines = append(lines, line("Smoke test", fmt.Sprintf("%s (status %d)", passed(s.SmokeTest.Passed), s.SmokeTest.StatusCode)))
	}
	changes := fmt.Sprintf("%d", s.Mutations())
	if s.DryRun {
		changes += " planned"
	}
	lines = append(lines, line("Changes", changes), line("Duration", s.Duration.Round(time.Millisecond).String()))
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func passed(ok bool) string {
	if ok {
		return text.FgGreen.Sprint("passed")
	}
	return text.FgHiRed.Sprint("failed")
}

// StatusTable renders one row per resource of the function.
func StatusTable(st *deployer.Status) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Resource", "Name", "State", "Details"})
	if f := st.Function; f != nil {
		state, details := "missing", ""
		if f.Deployed {
			state = f.State
			details = fmt.Sprintf("%s, %d variables, modified %s", f.Runtime, f.Variables, f.LastModified)
			if f.Throttled {
				state = text.FgHiRed.Sprint("throttled")
			}
		}
		tw.AppendRow(table.Row{"Function", f.Name, state, details})
	}
	if s := st.Schedule; s != nil {
		state := "missing"
		if s.Exists {
			state = s.State
		}
		tw.AppendRow(table.Row{"Schedule", s.Name, state, strings.TrimSpace(s.Expression + " " + s.Timezone)})
	}
	if b := st.Budget; b != nil {
		state, details := "missing", ""
		if b.Exists {
			state = "ok"
			details = fmt.Sprintf("%.2f of %.2f USD", b.Actual, b.Limit)
			if b.Fired() {
				state = text.FgHiRed.Sprint("kill switch fired")
			}
		}
		tw.AppendRow(table.Row{"Budget", b.Name, state, details})
	}
	if l := st.LogGroup; l != nil {
		state, details := "missing", ""
		if l.Exists {
			state = "ok"
			details = fmt.Sprintf("%d days retention, %s stored", l.RetentionDays, packager.HumanSize(l.StoredBytes))
		}
		tw.AppendRow(table.Row{"Log group", l.Name, state, details})
	}
	tw.SetStyle(table.StyleRounded)
	return tw.Render()
}

// CostsTable renders month-to-date costs, most expensive first, with a total row.
func CostsTable(costs []costexplorer.ServiceCost) string {
	sorted := append([]costexplorer.ServiceCost(nil), costs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Service", "Month to date"})
	total := 0.0
	for _, c := range sorted {
		total += c.Amount
		tw.AppendRow(table.Row{c.Service, fmt.Sprintf("%.2f %s", c.Amount, c.Unit)})
	}
	tw.AppendFooter(table.Row{"Total", fmt.Sprintf("%.2f USD", total)})
	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight}})
	return tw.Render()
}

// Fprintln writes blocks separated by blank lines.
func Fprintln(w io.Writer, blocks ...string) {
	for _, b := range blocks {
		if b == "" {
			continue
		}
		fmt.Fprintln(w, b)
		fmt.Fprintln(w)
	}
}
