package calendar

import (
	"bytes"
	"math/rand"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	appLog "airdeck/internal/log"
	"airdeck/internal/model"
)

func day(t *testing.T, key string) time.Time {
	t.Helper()
	d, err := ParseDay(key)
	if err != nil {
		t.Fatalf("ParseDay(%q): %v", key, err)
	}
	return d
}

func rec(id, ts string) model.DatedRecord {
	return model.DatedRecord{ID: id, Timestamp: ts, Kind: model.KindFlights}
}

// Scenario A.
func TestBucketCountsPerDay(t *testing.T) {
	records := []model.DatedRecord{
		rec("a", "2025-01-01T05:00:00Z"),
		rec("b", "2025-01-01T23:00:00Z"),
		rec("c", "2025-01-02T01:00:00Z"),
	}
	days := Bucket(records, NewWindow(day(t, "2025-01-01"), 3, Forward))

	want := []struct {
		key   string
		count int
	}{
		{"2025-01-01", 2},
		{"2025-01-02", 1},
		{"2025-01-03", 0},
	}
	if len(days) != len(want) {
		t.Fatalf("len(days) = %d, want %d", len(days), len(want))
	}
	for i, w := range want {
		if days[i].Key != w.key || days[i].RecordCount != w.count || days[i].HasRecords != (w.count > 0) {
			t.Errorf("day %d = %+v, want key %s count %d", i, days[i], w.key, w.count)
		}
	}
}

func TestBucketContiguousAscending(t *testing.T) {
	tests := []struct {
		name   string
		window Window
		first  string
		last   string
	}{
		{"forward", NewWindow(day(t, "2025-02-20"), 14, Forward), "2025-02-20", "2025-03-05"},
		{"backward", NewWindow(day(t, "2025-03-05"), 14, Backward), "2025-02-20", "2025-03-05"},
		{"leap year", NewWindow(day(t, "2024-02-27"), 4, Forward), "2024-02-27", "2024-03-01"},
		{"year boundary", NewWindow(day(t, "2025-01-02"), 5, Backward), "2024-12-29", "2025-01-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days := Bucket(nil, tt.window)
			if len(days) != tt.window.Length {
				t.Fatalf("len = %d, want %d", len(days), tt.window.Length)
			}
			if days[0].Key != tt.first || days[len(days)-1].Key != tt.last {
				t.Fatalf("span = %s..%s, want %s..%s", days[0].Key, days[len(days)-1].Key, tt.first, tt.last)
			}
			for i := 1; i < len(days); i++ {
				if got := days[i].Date.Sub(days[i-1].Date); got != 24*time.Hour {
					t.Fatalf("days %d and %d differ by %v", i-1, i, got)
				}
			}
		})
	}
}

func TestBucketZeroLengthWindow(t *testing.T) {
	if days := Bucket([]model.DatedRecord{rec("a", "2025-01-01T00:00:00Z")}, NewWindow(day(t, "2025-01-01"), 0, Forward)); len(days) != 0 {
		t.Fatalf("len = %d, want 0", len(days))
	}
}

func TestBucketIsPureAndOrderIndependent(t *testing.T) {
	records := []model.DatedRecord{
		rec("1", "2025-06-01T00:00:00Z"),
		rec("2", "2025-06-01T12:30:00+02:00"),
		rec("3", "2025-06-02T23:59:59.999Z"),
		rec("4", "2025-06-03"),
		rec("5", "not a date"),
		rec("6", "2025-06-05T01:00:00-05:00"),
	}
	w := NewWindow(day(t, "2025-06-01"), 7, Forward)

	first := Bucket(records, w)
	if again := Bucket(records, w); !reflect.DeepEqual(first, again) {
		t.Fatal("repeated Bucket calls differ")
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.DatedRecord(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if got := Bucket(shuffled, w); !reflect.DeepEqual(first, got) {
			t.Fatalf("permutation %d changed output", i)
		}
	}

	counts := map[string]int{}
	for _, d := range first {
		counts[d.Key] = d.RecordCount
	}
	if counts["2025-06-01"] != 2 || counts["2025-06-02"] != 1 || counts["2025-06-03"] != 1 || counts["2025-06-05"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

// Scenario B.
func TestFindFirstSelectableSkipsEmptyDays(t *testing.T) {
	records := []model.DatedRecord{rec("x", "2025-01-05T08:00:00Z")}
	days := Bucket(records, NewWindow(day(t, "2025-01-01"), 7, Forward))

	got := FindFirstSelectable(days, day(t, "2025-01-03"))
	if got.Key != "2025-01-05" {
		t.Fatalf("selected %s, want 2025-01-05", got.Key)
	}
}

func TestFindFirstSelectable(t *testing.T) {
	records := []model.DatedRecord{
		rec("past", "2025-01-01T08:00:00Z"),
		rec("today", "2025-01-03T08:00:00Z"),
		rec("later", "2025-01-06T08:00:00Z"),
	}
	days := Bucket(records, NewWindow(day(t, "2025-01-01"), 7, Forward))

	tests := []struct {
		name  string
		days  []Day
		today string
		want  string
		count int
	}{
		{"today has records", days, "2025-01-03", "2025-01-03", 1},
		{"past records ignored", days, "2025-01-02", "2025-01-03", 1},
		{"nothing ahead falls back to today", days, "2025-01-07", "2025-01-07", 0},
		{"today outside window", days, "2025-02-01", "2025-02-01", 0},
		{"no days", nil, "2025-01-03", "2025-01-03", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindFirstSelectable(tt.days, day(t, tt.today))
			if got.Key != tt.want || got.RecordCount != tt.count {
				t.Fatalf("got %s (%d), want %s (%d)", got.Key, got.RecordCount, tt.want, tt.count)
			}
			if !got.Date.Equal(day(t, tt.want)) {
				t.Fatalf("Date = %v, want UTC midnight of %s", got.Date, tt.want)
			}
		})
	}
}

func TestFindFirstSelectableUnorderedInput(t *testing.T) {
	days := []Day{
		{Date: day(t, "2025-01-09"), Key: "2025-01-09", HasRecords: true, RecordCount: 1},
		{Date: day(t, "2025-01-06"), Key: "2025-01-06", HasRecords: true, RecordCount: 2},
	}
	if got := FindFirstSelectable(days, day(t, "2025-01-05")); got.Key != "2025-01-06" {
		t.Fatalf("selected %s, want 2025-01-06", got.Key)
	}
}

func TestWindowGrowReplaces(t *testing.T) {
	w := NewWindow(day(t, "2025-01-01"), 30, Forward)
	grown := w.Grow(0)

	if w.Length != 30 {
		t.Fatalf("Grow mutated the original window: %+v", w)
	}
	if grown.Length != 60 || !grown.Start.Equal(w.Start) || grown.Direction != Forward {
		t.Fatalf("grown = %+v", grown)
	}
	if got := w.Grow(7).Length; got != 37 {
		t.Fatalf("Grow(7).Length = %d, want 37", got)
	}
}

func TestWindowRangeAndContains(t *testing.T) {
	w := NewWindow(day(t, "2025-01-10"), 3, Backward)
	from, to := w.Range()
	if !from.Equal(day(t, "2025-01-08")) || !to.Equal(day(t, "2025-01-11")) {
		t.Fatalf("Range = [%v, %v)", from, to)
	}
	if !w.Contains(day(t, "2025-01-08")) || !w.Contains(day(t, "2025-01-10").Add(23*time.Hour)) {
		t.Fatal("Contains rejected an in-window day")
	}
	if w.Contains(day(t, "2025-01-11")) || w.Contains(day(t, "2025-01-07")) {
		t.Fatal("Contains accepted an out-of-window day")
	}
}

func TestParseDirection(t *testing.T) {
	if d, err := ParseDirection("Backward"); err != nil || d != Backward {
		t.Fatalf("ParseDirection(Backward) = %v, %v", d, err)
	}
	if d, err := ParseDirection(""); err != nil || d != Forward {
		t.Fatalf("ParseDirection(\"\") = %v, %v", d, err)
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}

func TestBucketLongWindowWarnsOnly(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	appLog.SetLevel(appLog.LevelInfo)
	t.Cleanup(func() { appLog.SetOutput(os.Stderr) })

	records := []model.DatedRecord{rec("far", "2025-12-31T12:00:00Z")}

	days := Bucket(records, NewWindow(day(t, "2025-01-01"), 400, Forward))
	if len(days) != 400 {
		t.Fatalf("len(days) = %d, want 400", len(days))
	}
	if days[364].Key != "2025-12-31" || days[364].RecordCount != 1 {
		t.Fatalf("day 364 = %+v", days[364])
	}
	if !strings.Contains(buf.String(), "[WARN] calendar: window exceeds soft maximum") {
		t.Fatalf("no soft maximum warning:\n%s", buf.String())
	}

	buf.Reset()
	if days := Bucket(records, NewWindow(day(t, "2025-01-01"), SoftMaxDays, Forward)); len(days) != SoftMaxDays {
		t.Fatalf("len(days) = %d, want %d", len(days), SoftMaxDays)
	}
	if strings.Contains(buf.String(), "[WARN]") {
		t.Fatalf("warning at exactly the soft maximum:\n%s", buf.String())
	}
}
