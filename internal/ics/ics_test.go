package ics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"airdeck/internal/model"
	"airdeck/internal/request"
)

func feed(lines ...string) []byte {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//EN"}, lines...)
	all = append(all, "END:VCALENDAR")
	return []byte(strings.Join(all, "\r\n") + "\r\n")
}

var seoulSchedule = feed(
	"BEGIN:VEVENT",
	"UID:ad101",
	"DTSTAMP:20250101T000000Z",
	"SUMMARY:AD101",
	"LOCATION:ICN-NRT",
	"DTSTART;TZID=Asia/Seoul:20250101T083000",
	"DTEND;TZID=Asia/Seoul:20250101T110000",
	"RRULE:FREQ=DAILY;COUNT=5",
	"EXDATE;TZID=Asia/Seoul:20250103T083000",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:ad101",
	"DTSTAMP:20250101T000000Z",
	"RECURRENCE-ID;TZID=Asia/Seoul:20250104T083000",
	"SUMMARY:AD101",
	"LOCATION:ICN-NRT",
	"DTSTART;TZID=Asia/Seoul:20250104T100000",
	"DTEND;TZID=Asia/Seoul:20250104T123000",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:ad101",
	"DTSTAMP:20250101T000000Z",
	"RECURRENCE-ID;TZID=Asia/Seoul:20250105T083000",
	"SUMMARY:AD101",
	"STATUS:CANCELLED",
	"DTSTART;TZID=Asia/Seoul:20250105T083000",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:ad202",
	"DTSTAMP:20250101T000000Z",
	"SUMMARY:AD202",
	"LOCATION:NRT-ICN",
	"DTSTART:20250102T230000Z",
	"DTEND:20250103T013000Z",
	"END:VEVENT",
)

func TestParseSchedule(t *testing.T) {
	events, err := ParseSchedule(Source{ID: "test"}, seoulSchedule)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("len(events) = %d, want 4", len(events))
	}

	base := events[0]
	if base.FlightNumber != "AD101" || base.Origin != "ICN" || base.Destination != "NRT" {
		t.Fatalf("base = %+v", base)
	}
	if base.RawRRule != "FREQ=DAILY;COUNT=5" || len(base.ExDates) != 1 {
		t.Fatalf("rrule %q exdates %v", base.RawRRule, base.ExDates)
	}
	if got := base.Start.UTC().Format(time.RFC3339); got != "2024-12-31T23:30:00Z" {
		t.Fatalf("start = %s", got)
	}
	if !events[1].IsOverride || !events[2].Cancelled {
		t.Fatalf("overrides not recognised: %+v / %+v", events[1], events[2])
	}
}

func TestParseScheduleSkipsBadEvents(t *testing.T) {
	body := feed(
		"BEGIN:VEVENT",
		"UID:nosummary",
		"DTSTART:20250102T230000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:ok",
		"SUMMARY:AD303",
		"DTSTART:20250102T230000Z",
		"END:VEVENT",
	)
	events, err := ParseSchedule(Source{ID: "test"}, body)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].UID != "ok" {
		t.Fatalf("events = %+v", events)
	}

	if _, err := ParseSchedule(Source{ID: "test"}, nil); err == nil {
		t.Fatal("empty body accepted")
	}
}

func TestParseICSTimeFloatingIsUTC(t *testing.T) {
	prev := time.Local
	time.Local = time.FixedZone("X", -10*3600)
	t.Cleanup(func() { time.Local = prev })

	got, err := parseICSTime("20250301T233000", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Location() != time.UTC || got.Hour() != 23 {
		t.Fatalf("floating time = %v", got)
	}
}

func TestExpandSchedules(t *testing.T) {
	events, err := ParseSchedule(Source{ID: "seoul"}, seoulSchedule)
	if err != nil {
		t.Fatal(err)
	}

	res, err := ExpandSchedules(events, ExpandConfig{
		RangeStart: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"AD101 2024-12-31T23:30:00Z",
		"AD101 2025-01-01T23:30:00Z",
		"AD202 2025-01-02T23:00:00Z",
		"AD101 2025-01-04T01:00:00Z",
	}
	if len(res.Flights) != len(want) {
		t.Fatalf("got %d flights, want %d: %+v", len(res.Flights), len(want), res.Flights)
	}
	for i, f := range res.Flights {
		if got := f.FlightNumber + " " + f.DepartureTime; got != want[i] {
			t.Errorf("flight[%d] = %s, want %s", i, got, want[i])
		}
		if f.Source != "seoul" {
			t.Errorf("flight[%d].Source = %s", i, f.Source)
		}
	}
	if res.Flights[3].ID != "ad101@20250103T233000Z" {
		t.Errorf("override keeps the original instance ID, got %s", res.Flights[3].ID)
	}
}

func TestExpandSchedulesRange(t *testing.T) {
	events, err := ParseSchedule(Source{ID: "seoul"}, seoulSchedule)
	if err != nil {
		t.Fatal(err)
	}
	res, err := ExpandSchedules(events, ExpandConfig{
		RangeStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Flights) != 1 || res.Flights[0].DepartureTime != "2025-01-01T23:30:00Z" {
		t.Fatalf("flights = %+v", res.Flights)
	}

	if _, err := ExpandSchedules(events, ExpandConfig{
		RangeStart: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err == nil {
		t.Fatal("inverted range accepted")
	}
}

func TestExpandSchedulesCap(t *testing.T) {
	body := feed(
		"BEGIN:VEVENT",
		"UID:shuttle",
		"SUMMARY:AD900",
		"DTSTART:20250101T000000Z",
		"RRULE:FREQ=HOURLY",
		"END:VEVENT",
	)
	events, err := ParseSchedule(Source{ID: "s"}, body)
	if err != nil {
		t.Fatal(err)
	}
	res, err := ExpandSchedules(events, ExpandConfig{
		RangeStart:              time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:                time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
		MaxOccurrencesPerFlight: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Flights) != 10 || len(res.TruncatedEvents) != 1 || res.TruncatedEvents[0] != "shuttle" {
		t.Fatalf("flights %d, truncated %v", len(res.Flights), res.TruncatedEvents)
	}
}

func TestExport(t *testing.T) {
	flight := model.Flight{
		ID:            "f1",
		FlightNumber:  "AD101",
		Origin:        "ICN",
		Destination:   "NRT",
		DepartureTime: "2025-01-03T23:30:00Z",
		ArrivalTime:   "2025-01-04T01:55:00Z",
	}
	ticket := model.Ticket{ID: "t1", BookingRef: "ABC123", FlightNumber: "AD101", TravelDate: "2025-01-04"}
	records := []model.DatedRecord{flight.Record(), ticket.Record(), {ID: "junk", Kind: model.KindFlights, Timestamp: "nope"}}

	out := Export("Airdeck", records, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	events := cal.Events()
	if len(events) != 2 {
		t.Fatalf("exported %d events, want 2:\n%s", len(events), out)
	}

	if got := events[0].GetProperty(ical.ComponentPropertyDtStart).Value; got != "20250103T233000Z" {
		t.Errorf("flight DTSTART = %s", got)
	}
	if got := events[0].GetProperty(ical.ComponentPropertyDtEnd).Value; got != "20250104T015500Z" {
		t.Errorf("flight DTEND = %s", got)
	}
	if got := events[0].GetProperty(ical.ComponentPropertyLocation).Value; got != "ICN-NRT" {
		t.Errorf("flight LOCATION = %s", got)
	}
	if got := events[1].GetProperty(ical.ComponentPropertyDtStart).Value; got != "20250104" {
		t.Errorf("ticket DTSTART = %s", got)
	}
	if got := events[1].GetProperty(ical.ComponentPropertySummary).Value; got != "ABC123 AD101" {
		t.Errorf("ticket SUMMARY = %s", got)
	}
}

func newFetcher() *Fetcher {
	return NewFetcher(nil, request.New(request.Config{MaxRetries: 2, BaseDelay: time.Millisecond}))
}

func TestFetcherRevalidates(t *testing.T) {
	var hits, conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(seoulSchedule)
	}))
	defer srv.Close()

	f := newFetcher()
	src := Source{ID: "seoul", URL: srv.URL + "/feed.ics"}

	first, err := f.FetchOne(nil, src)
	if err != nil {
		t.Fatal(err)
	}
	if first.FromCache {
		t.Fatal("first fetch came from cache")
	}
	second, err := f.FetchOne(nil, src)
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache || string(second.Body) != string(seoulSchedule) {
		t.Fatalf("second fetch: fromCache=%v, %d bytes", second.FromCache, len(second.Body))
	}
	if hits.Load() != 2 || conditional.Load() != 1 {
		t.Fatalf("hits=%d conditional=%d", hits.Load(), conditional.Load())
	}
}

func TestLoadFlightsKeepsGoodFeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.ics" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(seoulSchedule)
	}))
	defer srv.Close()

	f := newFetcher()
	results, err := f.LoadFlights(nil, []Source{
		{ID: "good", URL: srv.URL + "/good.ics"},
		{ID: "broken", URL: srv.URL + "/broken.ics"},
	}, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	if err == nil {
		t.Fatal("broken feed did not surface an error")
	}
	if len(results) != 1 || len(results[0].Flights) != 4 {
		t.Fatalf("results = %+v", results)
	}
}

func TestExpandSchedulesLatestRevisionWins(t *testing.T) {
	base := []string{
		"BEGIN:VEVENT",
		"UID:u",
		"SUMMARY:AD300",
		"DTSTART:20250106T090000Z",
		"DTEND:20250106T110000Z",
		"RRULE:FREQ=DAILY;COUNT=3",
		"END:VEVENT",
	}
	cancelled := []string{
		"BEGIN:VEVENT",
		"UID:u",
		"SEQUENCE:1",
		"SUMMARY:AD300",
		"RECURRENCE-ID:20250107T090000Z",
		"DTSTART:20250107T090000Z",
		"STATUS:CANCELLED",
		"END:VEVENT",
	}
	moved := []string{
		"BEGIN:VEVENT",
		"UID:u",
		"SEQUENCE:2",
		"SUMMARY:AD300",
		"RECURRENCE-ID:20250107T090000Z",
		"DTSTART:20250107T110000Z",
		"DTEND:20250107T130000Z",
		"END:VEVENT",
	}

	tests := []struct {
		name      string
		overrides [][]string
	}{
		{"older first", [][]string{cancelled, moved}},
		{"newer first", [][]string{moved, cancelled}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := append([]string(nil), base...)
			for _, ov := range tt.overrides {
				lines = append(lines, ov...)
			}
			events, err := ParseSchedule(Source{ID: "s"}, feed(lines...))
			if err != nil {
				t.Fatal(err)
			}
			res, err := ExpandSchedules(events, ExpandConfig{
				RangeStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				RangeEnd:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			})
			if err != nil {
				t.Fatal(err)
			}
			if len(res.Flights) != 3 {
				t.Fatalf("got %d flights: %+v", len(res.Flights), res.Flights)
			}
			mid := res.Flights[1]
			if mid.ID != "u@20250107T090000Z" || mid.DepartureTime != "2025-01-07T11:00:00Z" {
				t.Fatalf("revised instance = %+v", mid)
			}
		})
	}
}

func TestFetcherRetriesOnlyServerErrors(t *testing.T) {
	var missing, unavailable atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.ics":
			missing.Add(1)
			w.WriteHeader(http.StatusNotFound)
		default:
			unavailable.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	f := newFetcher()

	_, err := f.FetchOne(nil, Source{ID: "missing", URL: srv.URL + "/missing.ics"})
	var bf *request.BusinessFailure
	if !errors.As(err, &bf) || !strings.Contains(bf.Message, "404") {
		t.Fatalf("404 error = %v", err)
	}
	if missing.Load() != 1 {
		t.Fatalf("404 requested %d times, want 1", missing.Load())
	}

	_, err = f.FetchOne(nil, Source{ID: "down", URL: srv.URL + "/down.ics"})
	var tf *request.TerminalFailure
	if !errors.As(err, &tf) {
		t.Fatalf("503 error = %v", err)
	}
	if unavailable.Load() != 2 {
		t.Fatalf("503 requested %d times, want 2", unavailable.Load())
	}
}
