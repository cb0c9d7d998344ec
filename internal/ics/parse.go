package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TZID lookups must not depend on the host zoneinfo

	ical "github.com/arran4/golang-ical"

	"airdeck/internal/backend"
	appLog "airdeck/internal/log"
)

// ScheduledFlight is a VEVENT from a schedule feed. One VEVENT describes a
// single departure or, with an RRULE, a recurring one.
//
// Feed conventions:
//   - SUMMARY is the flight number ("AD101").
//   - LOCATION is the route "ORIGIN-DESTINATION" ("ICN-NRT").
//   - DTSTART/DTEND are departure/arrival.
//   - STATUS:CANCELLED removes the departure (or one instance, on an override).
type ScheduledFlight struct {
	Source Source

	UID string
	Seq int

	FlightNumber string
	Origin       string
	Destination  string
	Cancelled    bool

	Start time.Time
	End   time.Time

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if this VEVENT overrides one instance
	IsOverride bool
}

// ParseSchedule parses one feed body. Malformed VEVENTs are logged and
// skipped; the rest of the feed is still returned.
func ParseSchedule(src Source, body []byte) ([]ScheduledFlight, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty schedule body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", backend.RedactURL(src.URL))
		return nil, err
	}

	flights := make([]ScheduledFlight, 0)
	for _, comp := range cal.Events() {
		sf, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", backend.RedactURL(src.URL))
			continue
		}
		flights = append(flights, sf)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", backend.RedactURL(src.URL), "event_count", len(flights))
	return flights, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ScheduledFlight, error) {
	var out ScheduledFlight
	out.Source = src

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.FlightNumber = strings.TrimSpace(p.Value)
	}
	if out.FlightNumber == "" {
		return out, errors.New("missing SUMMARY (flight number)")
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Origin, out.Destination = splitRoute(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	start, err := propTime(ve.GetProperty(ical.ComponentPropertyDtStart))
	if err != nil {
		return out, errors.Join(errors.New("invalid DTSTART"), err)
	}
	out.Start = start
	out.End = start
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if end, err := propTime(dtEnd); err == nil {
			out.End = end
		}
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE may repeat and may hold comma-separated values.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := tzidLocation(p)
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, err := propTime(ridProp); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// splitRoute parses "ICN-NRT" (also "ICN→NRT" or "ICN NRT").
func splitRoute(v string) (origin, dest string) {
	v = strings.NewReplacer("→", "-", " ", "-").Replace(strings.TrimSpace(v))
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == '-' })
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return strings.ToUpper(parts[0]), ""
	default:
		return strings.ToUpper(parts[0]), strings.ToUpper(parts[len(parts)-1])
	}
}

func propTime(p *ical.IANAProperty) (time.Time, error) {
	if p == nil {
		return time.Time{}, errors.New("property missing")
	}
	return parseICSTime(p.Value, tzidLocation(p))
}

// tzidLocation resolves a TZID parameter. Unknown or absent zones mean UTC.
func tzidLocation(p *ical.IANAProperty) *time.Location {
	if p == nil || p.ICalParameters == nil {
		return time.UTC
	}
	tzs, ok := p.ICalParameters["TZID"]
	if !ok || len(tzs) == 0 || tzs[0] == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tzs[0])
	if err != nil {
		appLog.Debug("ics: unknown TZID, assuming UTC", "tzid", tzs[0])
		return time.UTC
	}
	return loc
}

// parseICSTime parses DATE and DATE-TIME values. Floating values (no Z, no
// TZID) are read in loc, which defaults to UTC; the process's local zone is
// never consulted.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.UTC
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
