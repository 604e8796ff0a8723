package project

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exef-io/exef/model"
)

func yearBounds(year int) (time.Time, time.Time) {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
}

func TestExpandTasksMonthly(t *testing.T) {
	tpl := model.ProjectTemplate{
		Recurrence:       model.RecurMonthly,
		TaskNameTemplate: "{month_name} {year}",
		DeadlineDay:      20,
	}
	start, end := yearBounds(2026)
	tasks := ExpandTasks(tpl, "proj-1", start, end)
	require.Len(t, tasks, 12)

	jan := tasks[0]
	assert.Equal(t, "Styczeń 2026", jan.Name)
	assert.Equal(t, "2026-01-01", jan.PeriodStart.Format("2006-01-02"))
	assert.Equal(t, "2026-01-31", jan.PeriodEnd.Format("2006-01-02"))
	assert.Equal(t, "2026-02-20", jan.Deadline.Format("2006-01-02"))
	assert.Equal(t, model.TaskPending, jan.Status)

	// The December deadline rolls into the next year.
	dec := tasks[11]
	assert.Equal(t, "Grudzień 2026", dec.Name)
	assert.Equal(t, "2027-01-20", dec.Deadline.Format("2006-01-02"))
}

func TestExpandTasksDeadlineClamping(t *testing.T) {
	tpl := model.ProjectTemplate{
		Recurrence:       model.RecurMonthly,
		TaskNameTemplate: "{month_name}",
		DeadlineDay:      31,
	}
	start, end := yearBounds(2026)
	tasks := ExpandTasks(tpl, "proj-1", start, end)
	require.Len(t, tasks, 12)

	// January's deadline falls in February, which has only 28 days in 2026.
	assert.Equal(t, "2026-02-28", tasks[0].Deadline.Format("2006-01-02"))
	// March's deadline lands on April 30th.
	assert.Equal(t, "2026-04-30", tasks[2].Deadline.Format("2006-01-02"))
}

func TestExpandTasksQuarterly(t *testing.T) {
	tpl := model.ProjectTemplate{
		Recurrence:       model.RecurQuarterly,
		TaskNameTemplate: "VAT-UE {quarter} {year}",
		DeadlineDay:      25,
	}
	start, end := yearBounds(2026)
	tasks := ExpandTasks(tpl, "proj-1", start, end)
	require.Len(t, tasks, 4)

	assert.Equal(t, "VAT-UE Q1 2026", tasks[0].Name)
	assert.Equal(t, "2026-01-01", tasks[0].PeriodStart.Format("2006-01-02"))
	assert.Equal(t, "2026-03-31", tasks[0].PeriodEnd.Format("2006-01-02"))
	assert.Equal(t, "2026-04-25", tasks[0].Deadline.Format("2006-01-02"))

	assert.Equal(t, "VAT-UE Q4 2026", tasks[3].Name)
	assert.Equal(t, "2026-12-31", tasks[3].PeriodEnd.Format("2006-01-02"))
	assert.Equal(t, "2027-01-25", tasks[3].Deadline.Format("2006-01-02"))
}

func TestExpandTasksYearly(t *testing.T) {
	tpl := model.ProjectTemplate{
		Recurrence:       model.RecurYearly,
		TaskNameTemplate: "Rozliczenie {year}",
		DeadlineDay:      30,
	}
	start, end := yearBounds(2026)
	tasks := ExpandTasks(tpl, "proj-1", start, end)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Rozliczenie 2026", tasks[0].Name)
	assert.Equal(t, "2027-01-30", tasks[0].Deadline.Format("2006-01-02"))
}

func TestExpandTasksOnce(t *testing.T) {
	tpl := model.ProjectTemplate{
		Recurrence:       model.RecurOnce,
		TaskNameTemplate: "Audyt {month_name} {year}",
		DeadlineDay:      15,
	}
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.May, 31, 0, 0, 0, 0, time.UTC)
	tasks := ExpandTasks(tpl, "proj-1", start, end)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Audyt Marzec 2026", tasks[0].Name)
	assert.Equal(t, start, *tasks[0].PeriodStart)
	assert.Equal(t, end, *tasks[0].PeriodEnd)
	assert.Equal(t, "2026-06-15", tasks[0].Deadline.Format("2006-01-02"))
}

func TestExpandTasksDefaultDeadlineDay(t *testing.T) {
	tpl := model.ProjectTemplate{
		Recurrence:       model.RecurMonthly,
		TaskNameTemplate: "{month} / {year}",
	}
	start, end := yearBounds(2026)
	tasks := ExpandTasks(tpl, "proj-1", start, end)
	require.Len(t, tasks, 12)
	assert.Equal(t, "1 / 2026", tasks[0].Name)
	assert.Equal(t, "2026-02-20", tasks[0].Deadline.Format("2006-01-02"))
}
