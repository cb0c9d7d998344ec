// Package calendar folds date-stamped records into a contiguous, ascending
// sequence of UTC calendar days and picks the initially selected day.
package calendar

import (
	"time"

	appLog "airdeck/internal/log"
	"airdeck/internal/model"
)

// Day is the derived per-day summary rendered by the carousel. It is
// recomputed from scratch whenever records or the window change.
type Day struct {
	Date        time.Time `json:"date"`
	Key         string    `json:"key"`
	HasRecords  bool      `json:"has_records"`
	RecordCount int       `json:"record_count"`
}

// Selectable reports whether the day may be chosen: it has records, or it
// is today (the fallback selection).
func (d Day) Selectable(today time.Time) bool {
	return d.HasRecords || d.Key == DayKey(today)
}

// CountByDay folds records into a day key -> count map. Records whose
// timestamp cannot be parsed are skipped.
func CountByDay(records []model.DatedRecord) map[string]int {
	counts := make(map[string]int, len(records))
	for _, r := range records {
		key, err := BucketKey(r.Timestamp)
		if err != nil {
			appLog.Debug("calendar: skipping record with bad timestamp", "id", r.ID, "timestamp", r.Timestamp)
			continue
		}
		counts[key]++
	}
	return counts
}

// Bucket returns exactly w.Length consecutive days in ascending order,
// including days without records. Output depends only on the set of
// records and the window, not on record order.
func Bucket(records []model.DatedRecord, w Window) []Day {
	if w.Length > SoftMaxDays {
		appLog.Warn("calendar: window exceeds soft maximum", "length", w.Length, "soft_max", SoftMaxDays)
	}

	counts := CountByDay(records)
	days := make([]Day, 0, w.Length)
	cur := w.First()
	for i := 0; i < w.Length; i++ {
		key := DayKey(cur)
		n := counts[key]
		days = append(days, Day{
			Date:        cur,
			Key:         key,
			HasRecords:  n > 0,
			RecordCount: n,
		})
		cur = cur.AddDate(0, 0, 1)
	}
	return days
}

// FindFirstSelectable picks the initial selection: today if it has
// records, else the earliest day on or after today with records, else
// today itself with whatever count it has (normally zero).
func FindFirstSelectable(days []Day, today time.Time) Day {
	t := DayOf(today)
	todayKey := DayKey(t)

	fallback := Day{Date: t, Key: todayKey}
	var best *Day
	for i := range days {
		d := days[i]
		if d.Key == todayKey {
			if d.HasRecords {
				return d
			}
			fallback = d
			continue
		}
		if !d.HasRecords || d.Date.Before(t) {
			continue
		}
		if best == nil || d.Date.Before(best.Date) {
			best = &days[i]
		}
	}
	if best != nil {
		return *best
	}
	return fallback
}

// RecordsOn returns the records whose UTC day is key, in input order.
func RecordsOn(records []model.DatedRecord, key string) []model.DatedRecord {
	var out []model.DatedRecord
	for _, r := range records {
		if k, err := BucketKey(r.Timestamp); err == nil && k == key {
			out = append(out, r)
		}
	}
	return out
}
