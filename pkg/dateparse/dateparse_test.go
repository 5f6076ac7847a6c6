package dateparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/necyber/elephie/pkg/retrieval"
)

func fixedClock() time.Time {
	// Wednesday.
	return time.Date(2024, time.June, 12, 15, 30, 0, 0, time.UTC)
}

func TestExtract_Periods(t *testing.T) {
	e := New(WithClock(fixedClock))

	tests := []struct {
		name     string
		text     string
		wantText string
		wantDate string
	}{
		{name: "last month", text: "what did I read last month", wantText: "last month", wantDate: "2024-05-01"},
		{name: "next week", text: "deadline next week", wantText: "next week", wantDate: "2024-06-17"},
		{name: "named month in the past", text: "trip in March", wantText: "in March", wantDate: "2024-03-01"},
		{name: "named month later in the year", text: "party in December", wantText: "in December", wantDate: "2023-12-01"},
		{name: "month with year", text: "notes from August 2021", wantText: "August 2021", wantDate: "2021-08-01"},
		{name: "last expression wins", text: "last year or this week", wantText: "this week", wantDate: "2024-06-10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Extract(tt.text, "English")
			require.NoError(t, err)
			require.NotEmpty(t, got)
			last := got[len(got)-1]
			assert.Equal(t, tt.wantText, last.Text)
			assert.Equal(t, tt.wantDate, last.Date.Format(retrieval.DateLayout))
		})
	}
}

func TestExtract_CasualDate(t *testing.T) {
	e := New(WithClock(fixedClock))

	got, err := e.Extract("dinner yesterday", "English")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "yesterday", got[0].Text)
	assert.Equal(t, "2024-06-11", got[0].Date.Format(retrieval.DateLayout))
}

func TestExtract_NoDate(t *testing.T) {
	e := New(WithClock(fixedClock))

	got, err := e.Extract("favorite food", "English")
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Empty(t, periodMatches("I may go hiking", fixedClock()), "a bare month name is not a period")
}

func TestExtract_TextOrder(t *testing.T) {
	e := New(WithClock(fixedClock))

	tests := []struct {
		text      string
		wantTexts []string
	}{
		{text: "yesterday, and before that the whole of last month", wantTexts: []string{"yesterday", "last month"}},
		{text: "in March, then again yesterday", wantTexts: []string{"in March", "yesterday"}},
		{text: "last year or this week", wantTexts: []string{"last year", "this week"}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := e.Extract(tt.text, "English")
			require.NoError(t, err)
			texts := make([]string, len(got))
			for i, m := range got {
				texts[i] = m.Text
			}
			assert.Equal(t, tt.wantTexts, texts)
		})
	}
}

func TestRange(t *testing.T) {
	e := New(WithClock(fixedClock))

	tests := []struct {
		expr      string
		wantStart string
		wantEnd   string
	}{
		{expr: "last month", wantStart: "2024-05-01", wantEnd: "2024-05-31"},
		{expr: "this week", wantStart: "2024-06-10", wantEnd: "2024-06-16"},
		{expr: "last year", wantStart: "2023-01-01", wantEnd: "2023-12-31"},
		{expr: "in 2020", wantStart: "2020-01-01", wantEnd: "2020-12-31"},
		{expr: "in February", wantStart: "2024-02-01", wantEnd: "2024-02-29"},
		{expr: "yesterday", wantStart: "2024-06-11", wantEnd: "2024-06-11"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			start, end, err := e.Range(tt.expr, "English")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start.Format(retrieval.DateLayout))
			assert.Equal(t, tt.wantEnd, end.Format(retrieval.DateLayout))
		})
	}

	_, _, err := e.Range("nothing here", "English")
	assert.ErrorIs(t, err, ErrNoDate)
}
