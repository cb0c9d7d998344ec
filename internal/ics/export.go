package ics

import (
	"encoding/json"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"airdeck/internal/calendar"
	appLog "airdeck/internal/log"
	"airdeck/internal/model"
)

const productID = "-//airdeck//carousel export//EN"

// defaultFlightDuration is used when a flight has no usable arrival time.
const defaultFlightDuration = time.Hour

// Export renders records as an iCalendar feed. Flights become timed
// events at their UTC departure; tickets become all-day events on their
// UTC travel day. Records that cannot be decoded or dated are skipped.
func Export(name string, records []model.DatedRecord, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	stamp := now.UTC()
	for _, r := range records {
		var err error
		switch r.Kind {
		case model.KindFlights:
			err = addFlight(cal, r, stamp)
		case model.KindTickets:
			err = addTicket(cal, r, stamp)
		default:
			err = fmt.Errorf("unknown kind %q", r.Kind)
		}
		if err != nil {
			appLog.Debug("ics export: skipping record", "id", r.ID, "reason", err.Error())
		}
	}

	return cal.Serialize()
}

func addFlight(cal *ical.Calendar, r model.DatedRecord, stamp time.Time) error {
	var f model.Flight
	if err := json.Unmarshal(r.Payload, &f); err != nil {
		return err
	}
	dep, err := calendar.ParseTimestamp(r.Timestamp)
	if err != nil {
		return err
	}
	arr := dep.Add(defaultFlightDuration)
	if f.ArrivalTime != "" {
		if t, err := calendar.ParseTimestamp(f.ArrivalTime); err == nil && t.After(dep) {
			arr = t
		}
	}

	ev := cal.AddEvent(r.ID)
	ev.SetDtStampTime(stamp)
	ev.SetStartAt(dep.UTC())
	ev.SetEndAt(arr.UTC())
	ev.SetSummary(f.FlightNumber)
	if f.Origin != "" || f.Destination != "" {
		ev.SetLocation(f.Origin + "-" + f.Destination)
	}
	if f.Status != "" {
		ev.SetDescription("Status: " + f.Status)
	}
	return nil
}

func addTicket(cal *ical.Calendar, r model.DatedRecord, stamp time.Time) error {
	var t model.Ticket
	if err := json.Unmarshal(r.Payload, &t); err != nil {
		return err
	}
	day, err := calendar.BucketKey(r.Timestamp)
	if err != nil {
		return err
	}
	d, err := calendar.ParseDay(day)
	if err != nil {
		return err
	}

	ev := cal.AddEvent(r.ID)
	ev.SetDtStampTime(stamp)
	ev.SetAllDayStartAt(d)
	ev.SetAllDayEndAt(d.AddDate(0, 0, 1))
	summary := t.BookingRef
	if t.FlightNumber != "" {
		summary += " " + t.FlightNumber
	}
	ev.SetSummary(summary)
	if t.PassengerName != "" {
		desc := "Passenger: " + t.PassengerName
		if t.Seat != "" {
			desc += ", seat " + t.Seat
		}
		ev.SetDescription(desc)
	}
	return nil
}
