package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	valid := []string{
		"* * * * *",
		"0 2 * * *",
		"*/15 * * * *",
		"30 4 1,15 * 5",
		"0 0 * * MON-FRI",
		"0 12 * JAN,JUL *",
		"5 4 * * SUN",
	}
	for _, expr := range valid {
		t.Run(expr, func(t *testing.T) {
			schedule, err := ParseCron(expr)
			require.NoError(t, err)
			require.NotNil(t, schedule)
		})
	}

	invalid := []string{
		"",
		"not a cron",
		"* * * *",
		"* * * * * *",
		"61 * * * *",
		"* 25 * * *",
		"* * * * MONDAY",
		"@daily",
		"@every 5m",
	}
	for _, expr := range invalid {
		t.Run(expr, func(t *testing.T) {
			schedule, err := ParseCron(expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCron)
			assert.Nil(t, schedule)
		})
	}
}

func TestNextRunStrictlyAfter(t *testing.T) {
	schedule, err := ParseCron("0 2 * * *")
	require.NoError(t, err)

	after := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)
	next := NextRun(schedule, after)

	assert.True(t, next.After(after))
	assert.Equal(t, time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC), next)
}

func TestNextRunEveryMinute(t *testing.T) {
	schedule, err := ParseCron("* * * * *")
	require.NoError(t, err)

	after := time.Date(2025, 3, 10, 2, 0, 30, 0, time.UTC)
	next := NextRun(schedule, after)

	assert.Equal(t, time.Date(2025, 3, 10, 2, 1, 0, 0, time.UTC), next)
}
