package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "airdeck/internal/log"
	"airdeck/internal/model"
)

const (
	defaultMaxOccurrencesPerFlight = 5000
)

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd bound departures: RangeStart <= departure < RangeEnd.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerFlight caps a single RRULE. Zero means
	// defaultMaxOccurrencesPerFlight.
	MaxOccurrencesPerFlight int
}

// ExpandResult carries the expanded departures and the UIDs whose
// expansion hit the cap.
type ExpandResult struct {
	Flights         []model.Flight
	TruncatedEvents []string
}

// ExpandSchedules turns scheduled flights into concrete departures within
// the configured range. It applies RRULE, EXDATE, RECURRENCE-ID overrides and
// STATUS:CANCELLED. Departure and arrival times are emitted in UTC so the
// calendar buckets them by UTC day. Output is sorted by departure, then ID.
func ExpandSchedules(events []ScheduledFlight, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerFlight <= 0 {
		cfg.MaxOccurrencesPerFlight = defaultMaxOccurrencesPerFlight
	}

	baseByUID := make(map[string][]ScheduledFlight)
	overridesByUID := make(map[string][]ScheduledFlight)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	flights := make([]model.Flight, 0)
	for uid, bases := range baseByUID {
		ov := overridesByUID[uid]
		truncated := false
		for _, ev := range bases {
			out, hitCap := expandFlight(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			flights = append(flights, out...)
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: truncated departures for UID", "uid", uid, "cap", cfg.MaxOccurrencesPerFlight)
		}
	}

	sort.Slice(flights, func(i, j int) bool {
		if flights[i].DepartureTime != flights[j].DepartureTime {
			return flights[i].DepartureTime < flights[j].DepartureTime
		}
		return flights[i].ID < flights[j].ID
	})
	sort.Strings(result.TruncatedEvents)

	result.Flights = flights
	return result, nil
}

func expandFlight(ev ScheduledFlight, overrides []ScheduledFlight, cfg ExpandConfig) ([]model.Flight, bool) {
	if ev.RawRRule == "" {
		return expandSingle(ev, overrides, cfg), false
	}
	return expandRecurring(ev, overrides, cfg)
}

func expandSingle(ev ScheduledFlight, overrides []ScheduledFlight, cfg ExpandConfig) []model.Flight {
	inst, ok := applyOverride(ev, overrides, ev.Start, ev.End)
	if !ok || !inRange(inst.Start, cfg) {
		return nil
	}
	return []model.Flight{makeFlight(inst, ev.Start)}
}

func expandRecurring(ev ScheduledFlight, overrides []ScheduledFlight, cfg ExpandConfig) ([]model.Flight, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Overrides may move an instance into the range from outside it, so
	// widen the search by the largest shift any override applies.
	slack := overrideSlack(overrides)
	from := cfg.RangeStart.Add(-slack).In(ev.Start.Location())
	to := cfg.RangeEnd.Add(slack).In(ev.Start.Location())

	starts := set.Between(from, to, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerFlight {
		starts = starts[:cfg.MaxOccurrencesPerFlight]
		hitCap = true
	}

	dur := ev.End.Sub(ev.Start)
	out := make([]model.Flight, 0, len(starts))
	for _, s := range starts {
		inst, ok := applyOverride(ev, overrides, s, s.Add(dur))
		if !ok || !inRange(inst.Start, cfg) {
			continue
		}
		out = append(out, makeFlight(inst, s))
	}
	return out, hitCap
}

// applyOverride returns the instance to emit for the occurrence starting at
// start, and false when the instance is cancelled. When several overrides
// target the same occurrence the highest SEQUENCE wins; on a tie, the later
// one in the feed.
func applyOverride(base ScheduledFlight, overrides []ScheduledFlight, start, end time.Time) (ScheduledFlight, bool) {
	inst := base
	inst.Start = start
	inst.End = end
	var best *ScheduledFlight
	for i := range overrides {
		ov := &overrides[i]
		if ov.Recurrence == nil || !ov.Recurrence.Equal(start) {
			continue
		}
		if best == nil || ov.Seq >= best.Seq {
			best = ov
		}
	}
	if best != nil {
		inst = *best
	}
	return inst, !inst.Cancelled
}

func overrideSlack(overrides []ScheduledFlight) time.Duration {
	var slack time.Duration
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		d := ov.Start.Sub(*ov.Recurrence)
		if d < 0 {
			d = -d
		}
		if d > slack {
			slack = d
		}
	}
	return slack
}

func inRange(t time.Time, cfg ExpandConfig) bool {
	return !t.Before(cfg.RangeStart) && t.Before(cfg.RangeEnd)
}

// makeFlight builds the departure record. The ID is stable per instance:
// the UID plus the original (pre-override) start in UTC.
func makeFlight(inst ScheduledFlight, originalStart time.Time) model.Flight {
	f := model.Flight{
		ID:            inst.UID + "@" + originalStart.UTC().Format("20060102T150405Z"),
		FlightNumber:  inst.FlightNumber,
		Origin:        inst.Origin,
		Destination:   inst.Destination,
		DepartureTime: inst.Start.UTC().Format(time.RFC3339),
		Status:        "scheduled",
		Source:        inst.Source.ID,
	}
	if inst.End.After(inst.Start) {
		f.ArrivalTime = inst.End.UTC().Format(time.RFC3339)
	}
	return f
}
