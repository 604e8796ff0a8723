// Package project orchestrates project creation: template-driven task
// generation with Polish month naming and deadline clamping, plus the default
// data sources each project kind starts with.
package project

import (
	"strconv"
	"strings"
	"time"

	"github.com/exef-io/exef/model"
)

// polishMonths maps time.Month to the Polish month name used in task names.
var polishMonths = map[time.Month]string{
	time.January:   "Styczeń",
	time.February:  "Luty",
	time.March:     "Marzec",
	time.April:     "Kwiecień",
	time.May:       "Maj",
	time.June:      "Czerwiec",
	time.July:      "Lipiec",
	time.August:    "Sierpień",
	time.September: "Wrzesień",
	time.October:   "Październik",
	time.November:  "Listopad",
	time.December:  "Grudzień",
}

// MonthName returns the Polish name of a month.
func MonthName(m time.Month) string { return polishMonths[m] }

// formatTaskName substitutes the template placeholders {month_name},
// {quarter}, {year} and {month}.
func formatTaskName(template string, year int, month time.Month) string {
	quarter := (int(month)-1)/3 + 1
	r := strings.NewReplacer(
		"{month_name}", MonthName(month),
		"{quarter}", "Q"+strconv.Itoa(quarter),
		"{year}", strconv.Itoa(year),
		"{month}", strconv.Itoa(int(month)),
	)
	return r.Replace(template)
}

// clampedDeadline returns the given day of the month, clamped to the month's
// length. February 30th becomes February 28th (or 29th in a leap year).
func clampedDeadline(year int, month time.Month, day int) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDay {
		day = lastDay
	}
	if day < 1 {
		day = 1
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func monthWindow(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
	return start, end
}

// defaultDeadlineDay is used when a template carries no deadline day. The
// 20th matches the Polish advance-tax payment deadline.
const defaultDeadlineDay = 20

// ExpandTasks generates the task rows a template yields for a project over
// the given period. The deadline of a periodic task falls in the month after
// its window ends, on the template's deadline day clamped to month length.
func ExpandTasks(tpl model.ProjectTemplate, projectID string, periodStart, periodEnd time.Time) []model.Task {
	day := tpl.DeadlineDay
	if day == 0 {
		day = defaultDeadlineDay
	}
	newTask := func(name string, start, end, deadline time.Time) model.Task {
		s, e, d := start, end, deadline
		return model.Task{
			ID:             model.NewID(),
			ProjectID:      projectID,
			Name:           name,
			PeriodStart:    &s,
			PeriodEnd:      &e,
			Deadline:       &d,
			Status:         model.TaskPending,
			ImportStatus:   model.PhaseNotStarted,
			DescribeStatus: model.PhaseNotStarted,
			ExportStatus:   model.PhaseNotStarted,
		}
	}

	var tasks []model.Task
	switch tpl.Recurrence {
	case model.RecurMonthly:
		cursor := time.Date(periodStart.Year(), periodStart.Month(), 1, 0, 0, 0, 0, time.UTC)
		last := time.Date(periodEnd.Year(), periodEnd.Month(), 1, 0, 0, 0, 0, time.UTC)
		for !cursor.After(last) {
			year, month := cursor.Year(), cursor.Month()
			start, end := monthWindow(year, month)
			next := cursor.AddDate(0, 1, 0)
			deadline := clampedDeadline(next.Year(), next.Month(), day)
			tasks = append(tasks, newTask(formatTaskName(tpl.TaskNameTemplate, year, month), start, end, deadline))
			cursor = next
		}
	case model.RecurQuarterly:
		year := periodStart.Year()
		for q := 0; q < 4; q++ {
			firstMonth := time.Month(q*3 + 1)
			start, _ := monthWindow(year, firstMonth)
			_, end := monthWindow(year, firstMonth+2)
			after := start.AddDate(0, 3, 0)
			deadline := clampedDeadline(after.Year(), after.Month(), day)
			tasks = append(tasks, newTask(formatTaskName(tpl.TaskNameTemplate, year, firstMonth), start, end, deadline))
		}
	case model.RecurYearly:
		year := periodStart.Year()
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
		deadline := clampedDeadline(year+1, time.January, day)
		tasks = append(tasks, newTask(formatTaskName(tpl.TaskNameTemplate, year, time.January), start, end, deadline))
	case model.RecurOnce:
		after := periodEnd.AddDate(0, 1, 0)
		deadline := clampedDeadline(after.Year(), after.Month(), day)
		tasks = append(tasks, newTask(formatTaskName(tpl.TaskNameTemplate, periodStart.Year(), periodStart.Month()), periodStart, periodEnd, deadline))
	}
	return tasks
}
