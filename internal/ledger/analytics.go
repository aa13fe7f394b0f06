package ledger

import (
	"context"
	"sort"

	"face-attendance-go/internal/core/models"
)

// DailySummary aggregates one day's ledger against the given roster,
// mirroring the per-day attendance reports of the desktop tool this system
// grew out of: present and absent students, counts, and the percentage.
func (l *Ledger) DailySummary(ctx context.Context, day string, roster []string) (models.DailySummary, error) {
	records, err := l.RecordsForDate(ctx, day)
	if err != nil {
		return models.DailySummary{}, err
	}

	present := make(map[string]struct{}, len(records))
	presentKeys := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := present[r.StudentKey]; !ok {
			present[r.StudentKey] = struct{}{}
			presentKeys = append(presentKeys, r.StudentKey)
		}
	}

	var absent []string
	for _, key := range roster {
		if _, ok := present[key]; !ok {
			absent = append(absent, key)
		}
	}
	sort.Strings(absent)

	summary := models.DailySummary{
		Day:             day,
		PresentStudents: presentKeys,
		AbsentStudents:  absent,
		TotalStudents:   len(roster),
		PresentCount:    len(presentKeys),
	}
	if len(roster) > 0 {
		summary.AttendancePercentage = float64(len(presentKeys)) / float64(len(roster)) * 100
	}
	return summary, nil
}

// StudentStats computes a student's attendance percentage as days present
// over days tracked, where tracked days are all days any attendance was
// recorded. Derived on read, never stored redundantly.
func (l *Ledger) StudentStats(ctx context.Context, studentKey string) (models.StudentStats, error) {
	history, err := l.RecordsForStudent(ctx, studentKey)
	if err != nil {
		return models.StudentStats{}, err
	}
	days, err := l.TrackedDays(ctx)
	if err != nil {
		return models.StudentStats{}, err
	}

	stats := models.StudentStats{
		StudentKey:  studentKey,
		TotalDays:   len(days),
		DaysPresent: len(history),
		DaysAbsent:  len(days) - len(history),
		History:     history,
	}
	if stats.TotalDays > 0 {
		stats.AttendancePercentage = float64(stats.DaysPresent) / float64(stats.TotalDays) * 100
	}
	return stats, nil
}
