package lifecycle_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"caseline/internal/lifecycle"
)

func ptr[T any](v T) *T { return &v }

func day(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := lifecycle.ParseDay(raw)
	require.NoError(t, err)
	return d
}

func TestDecodeEmptyAndCorrupt(t *testing.T) {
	for _, notes := range []string{
		"",
		"   ",
		"Worker reported pain in the lower back.",
		"[1,2,3]",
		`{"lifecycle":"triaged"}`,
		`{"lifecycle":[1]}`,
		`{"whs":{"owner":"u9"}}`,
		`{"lifecycle":{"case_status":`,
	} {
		p, ok := lifecycle.Decode(notes)
		require.False(t, ok, "notes %q", notes)
		require.Equal(t, lifecycle.Payload{}, p)
		require.Equal(t, lifecycle.StatusNew, lifecycle.StatusOf(notes))
	}
}

func TestDecodeUnknownStatusDefaultsToNew(t *testing.T) {
	p, ok := lifecycle.Decode(`{"lifecycle":{"case_status":"escalated","approved_by":"u1","extra":true}}`)
	require.True(t, ok)
	require.Nil(t, p.CaseStatus)
	require.Equal(t, "u1", *p.ApprovedBy)
	require.Equal(t, lifecycle.StatusNew, p.StatusOr(lifecycle.StatusNew))

	p, ok = lifecycle.Decode(`{"lifecycle":{"case_status":5,"approved_at":"yesterday"}}`)
	require.True(t, ok)
	require.Nil(t, p.CaseStatus)
	require.Nil(t, p.ApprovedAt)
}

func TestDecodeLegacyFlatPayload(t *testing.T) {
	p, ok := lifecycle.Decode(`{"case_status":"assessed","clinical_notes":"swelling reduced"}`)
	require.True(t, ok)
	require.Equal(t, lifecycle.StatusAssessed, *p.CaseStatus)
	require.Equal(t, "swelling reduced", *p.ClinicalNotes)

	out, err := lifecycle.Encode(`{"case_status":"assessed","clinical_notes":"swelling reduced"}`,
		lifecycle.Partial{CaseStatus: ptr(lifecycle.StatusInRehab)})
	require.NoError(t, err)
	p, ok = lifecycle.Decode(out)
	require.True(t, ok)
	require.Equal(t, lifecycle.StatusInRehab, *p.CaseStatus)
	require.Equal(t, "swelling reduced", *p.ClinicalNotes)
}

func TestEncodeRoundTrip(t *testing.T) {
	approvedAt := time.Date(2025, 1, 10, 9, 30, 15, 123000000, time.UTC)
	updatedAt := time.Date(2025, 1, 12, 14, 0, 0, 0, time.FixedZone("AEST", 10*3600))
	full := lifecycle.Payload{
		CaseStatus:             ptr(lifecycle.StatusTriaged),
		ApprovedBy:             ptr("leader-1"),
		ApprovedAt:             &approvedAt,
		ClinicalNotes:          ptr("Referred to \"physio\"\nweekly"),
		ClinicalNotesUpdatedAt: &updatedAt,
	}
	cases := []lifecycle.Payload{
		full,
		{CaseStatus: ptr(lifecycle.StatusClosed)},
		{ClinicalNotes: ptr("")},
		{ApprovedBy: ptr("a.b"), ApprovedAt: &approvedAt},
	}
	for _, p := range cases {
		out, err := lifecycle.Encode("", p)
		require.NoError(t, err)
		got, ok := lifecycle.Decode(out)
		require.True(t, ok, out)
		if p.CaseStatus != nil {
			require.Equal(t, *p.CaseStatus, *got.CaseStatus)
		}
		if p.ApprovedBy != nil {
			require.Equal(t, *p.ApprovedBy, *got.ApprovedBy)
		}
		if p.ApprovedAt != nil {
			require.True(t, p.ApprovedAt.Equal(*got.ApprovedAt))
		}
		if p.ClinicalNotes != nil {
			require.Equal(t, *p.ClinicalNotes, *got.ClinicalNotes)
		}
		if p.ClinicalNotesUpdatedAt != nil {
			require.True(t, p.ClinicalNotesUpdatedAt.Equal(*got.ClinicalNotesUpdatedAt))
		}
	}
}

func TestEncodeIsNonDestructive(t *testing.T) {
	first, err := lifecycle.Encode("", lifecycle.Partial{ClinicalNotes: ptr("X")})
	require.NoError(t, err)
	second, err := lifecycle.Encode(first, lifecycle.Partial{CaseStatus: ptr(lifecycle.StatusTriaged)})
	require.NoError(t, err)

	p, ok := lifecycle.Decode(second)
	require.True(t, ok)
	require.Equal(t, "X", *p.ClinicalNotes)
	require.Equal(t, lifecycle.StatusTriaged, *p.CaseStatus)
}

func TestEncodePreservesOtherContent(t *testing.T) {
	existing := `{"whs":{"owner":"u9","flags":[1,2]},"lifecycle":{"case_status":"new","approved_by":"u1"}}`
	out, err := lifecycle.Encode(existing, lifecycle.Partial{CaseStatus: ptr(lifecycle.StatusAssessed)})
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.JSONEq(t, `{"owner":"u9","flags":[1,2]}`, string(doc["whs"]))
	p, _ := lifecycle.Decode(out)
	require.Equal(t, "u1", *p.ApprovedBy)
	require.Equal(t, lifecycle.StatusAssessed, *p.CaseStatus)

	out, err = lifecycle.Encode("Free text from the clinician", lifecycle.Partial{CaseStatus: ptr(lifecycle.StatusTriaged)})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.JSONEq(t, `"Free text from the clinician"`, string(doc["free_text"]))
	require.Equal(t, lifecycle.StatusTriaged, lifecycle.StatusOf(out))

	out, err = lifecycle.Encode(`{"lifecycle":"garbage","whs":1}`, lifecycle.Partial{CaseStatus: ptr(lifecycle.StatusTriaged)})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Equal(t, "1", string(doc["whs"]))
	require.Equal(t, lifecycle.StatusTriaged, lifecycle.StatusOf(out))
}

func TestEncodeRejectsUnknownStatus(t *testing.T) {
	_, err := lifecycle.Encode("", lifecycle.Partial{CaseStatus: ptr(lifecycle.Status("escalated"))})
	require.Error(t, err)
}

func TestIsCurrentlyActive(t *testing.T) {
	today := day(t, "2030-01-01")
	start := day(t, "2024-01-01")
	end := day(t, "2024-02-01")

	// rehab ignores the end date
	require.True(t, lifecycle.IsCurrentlyActive(ptr(lifecycle.StatusInRehab), true, today, start, &end))
	require.False(t, lifecycle.IsCurrentlyActive(ptr(lifecycle.StatusTriaged), true, today, start, &end))
	require.False(t, lifecycle.IsCurrentlyActive(nil, true, today, start, &end))

	// the flag always wins
	for _, s := range lifecycle.Statuses {
		require.False(t, lifecycle.IsCurrentlyActive(ptr(s), false, day(t, "2024-01-15"), start, &end), s)
	}
	require.False(t, lifecycle.IsCurrentlyActive(nil, false, day(t, "2024-01-15"), start, nil))

	require.True(t, lifecycle.IsCurrentlyActive(nil, true, today, start, nil))
	require.False(t, lifecycle.IsCurrentlyActive(nil, true, day(t, "2023-12-31"), start, nil))
}

func TestIsActiveUndated(t *testing.T) {
	require.True(t, lifecycle.IsActiveUndated(ptr(lifecycle.StatusInRehab), true))
	require.False(t, lifecycle.IsActiveUndated(ptr(lifecycle.StatusInRehab), false))
	require.False(t, lifecycle.IsActiveUndated(ptr(lifecycle.StatusTriaged), true))
	require.False(t, lifecycle.IsActiveUndated(nil, true))
}

func TestWithinDateRangeIgnoresTimeOfDay(t *testing.T) {
	start := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 1, 0, time.UTC)
	require.True(t, lifecycle.WithinDateRange(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start, &end))
	require.True(t, lifecycle.WithinDateRange(time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), start, &end))
	require.False(t, lifecycle.WithinDateRange(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), start, &end))
	require.False(t, lifecycle.WithinDateRange(time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), start, &end))
}

func TestZonedTodayUsesItsOwnCalendarDay(t *testing.T) {
	brisbane := time.FixedZone("AEST", 10*60*60)
	start := day(t, "2025-01-10")
	end := day(t, "2025-01-10")

	for _, hour := range []int{1, 9, 20, 23} {
		today := time.Date(2025, 1, 10, hour, 0, 0, 0, brisbane)
		require.True(t, lifecycle.IsCurrentlyActive(ptr(lifecycle.StatusTriaged), true, today, start, nil), hour)
		require.True(t, lifecycle.WithinDateRange(today, start, &end), hour)
	}
	require.False(t, lifecycle.WithinDateRange(time.Date(2025, 1, 11, 5, 0, 0, 0, brisbane), start, &end))
	require.False(t, lifecycle.WithinDateRange(time.Date(2025, 1, 9, 23, 0, 0, 0, brisbane), start, &end))
}

func TestDisplayStatus(t *testing.T) {
	week := lifecycle.DefaultNewCaseWindow
	tests := []struct {
		name string
		in   lifecycle.DisplayInput
		want lifecycle.Label
	}{
		{"fresh without status", lifecycle.DisplayInput{IsActiveFlag: true, WithinDateRange: true, Age: time.Hour}, lifecycle.LabelNewCase},
		{"old without status", lifecycle.DisplayInput{IsActiveFlag: true, WithinDateRange: true, Age: 2 * week}, lifecycle.LabelInProgress},
		{"out of range without status", lifecycle.DisplayInput{IsActiveFlag: true, Age: time.Hour}, lifecycle.LabelClosed},
		{"inactive without status", lifecycle.DisplayInput{WithinDateRange: true, Age: time.Hour}, lifecycle.LabelClosed},
		{"custom window", lifecycle.DisplayInput{IsActiveFlag: true, WithinDateRange: true, Age: 3 * 24 * time.Hour, NewCaseWindow: 48 * time.Hour}, lifecycle.LabelInProgress},
		{"stored status ignores dates", lifecycle.DisplayInput{Status: ptr(lifecycle.StatusAssessed), IsActiveFlag: true}, lifecycle.LabelAssessed},
		{"rehab", lifecycle.DisplayInput{Status: ptr(lifecycle.StatusInRehab), IsActiveFlag: true, WithinDateRange: true}, lifecycle.LabelInRehab},
		{"false flag closes active status", lifecycle.DisplayInput{Status: ptr(lifecycle.StatusInRehab), WithinDateRange: true}, lifecycle.LabelClosed},
		{"closed with stale flag", lifecycle.DisplayInput{Status: ptr(lifecycle.StatusClosed), IsActiveFlag: true, WithinDateRange: true}, lifecycle.LabelClosed},
		{"return to work without flag", lifecycle.DisplayInput{Status: ptr(lifecycle.StatusReturnToWork)}, lifecycle.LabelReturnToWork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, lifecycle.DisplayStatus(tt.in))
		})
	}
}

func TestCanAdvance(t *testing.T) {
	require.NoError(t, lifecycle.CanAdvance(lifecycle.StatusNew, lifecycle.StatusTriaged))
	require.NoError(t, lifecycle.CanAdvance(lifecycle.StatusAssessed, lifecycle.StatusReturnToWork))
	require.NoError(t, lifecycle.CanAdvance(lifecycle.StatusReturnToWork, lifecycle.StatusInRehab))

	err := lifecycle.CanAdvance(lifecycle.StatusClosed, lifecycle.StatusNew)
	var invalid lifecycle.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, lifecycle.StatusClosed, invalid.From)

	require.Error(t, lifecycle.CanAdvance(lifecycle.StatusNew, lifecycle.Status("bogus")))
	_, err = lifecycle.ParseStatus("in_rehab")
	require.NoError(t, err)
}
