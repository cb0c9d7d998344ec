package model

import "encoding/json"

// Kind names the record collections shown on a carousel.
type Kind string

const (
	KindFlights Kind = "flights"
	KindTickets Kind = "tickets"
)

// Valid reports whether k is a known collection.
func (k Kind) Valid() bool {
	return k == KindFlights || k == KindTickets
}

// DatedRecord is one flight or ticket as received from a collaborator,
// placed on the calendar by Timestamp. Treat it as immutable.
type DatedRecord struct {
	ID string `json:"id"`
	// Timestamp is ISO-8601. Its UTC calendar day decides the bucket.
	Timestamp string          `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Flight is a scheduled flight as served by the booking backend or expanded
// from a schedule feed.
type Flight struct {
	ID            string `json:"id"`
	FlightNumber  string `json:"flightNumber"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureTime string `json:"departureTime"`
	ArrivalTime   string `json:"arrivalTime,omitempty"`
	Status        string `json:"status,omitempty"`
	// Source is "backend" or a schedule feed ID.
	Source string `json:"source,omitempty"`
}

// Ticket is a passenger booking.
type Ticket struct {
	ID            string `json:"id"`
	BookingRef    string `json:"bookingRef"`
	PassengerName string `json:"passengerName"`
	FlightNumber  string `json:"flightNumber"`
	TravelDate    string `json:"travelDate"`
	Seat          string `json:"seat,omitempty"`
	Status        string `json:"status,omitempty"`
}

// Record wraps f for calendar bucketing by departure time.
func (f Flight) Record() DatedRecord {
	// Marshalling a struct of strings cannot fail.
	payload, _ := json.Marshal(f)
	return DatedRecord{ID: f.ID, Timestamp: f.DepartureTime, Kind: KindFlights, Payload: payload}
}

// Record wraps t for calendar bucketing by travel date.
func (t Ticket) Record() DatedRecord {
	payload, _ := json.Marshal(t)
	return DatedRecord{ID: t.ID, Timestamp: t.TravelDate, Kind: KindTickets, Payload: payload}
}

// FlightRecords converts a slice of flights.
func FlightRecords(flights []Flight) []DatedRecord {
	out := make([]DatedRecord, 0, len(flights))
	for _, f := range flights {
		out = append(out, f.Record())
	}
	return out
}

// TicketRecords converts a slice of tickets.
func TicketRecords(tickets []Ticket) []DatedRecord {
	out := make([]DatedRecord, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, t.Record())
	}
	return out
}
