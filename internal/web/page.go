package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"airdeck/internal/calendar"
	appLog "airdeck/internal/log"
	"airdeck/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var carouselTmpl = template.Must(template.ParseFS(templateFS, "templates/carousel.html"))

// carouselPage is the data behind templates/carousel.html.
type carouselPage struct {
	Title    string
	Kind     model.Kind
	Banner   string
	Days     []calendar.Day
	Selected string
	Rows     []string
}

// handleCarouselPage renders one carousel as HTML. The root element carries
// data-ready="true" so the snapshot capture knows rendering is done.
//
// GET /carousel/{kind}
func (s *Server) handleCarouselPage(w http.ResponseWriter, r *http.Request) {
	kind := pathKind(r)
	v, err := s.svc.View(kind)
	if err != nil {
		writeOutcome(w, err)
		return
	}

	page := carouselPage{
		Title:    carouselTitle(kind),
		Kind:     kind,
		Banner:   s.svc.Banner(kind),
		Days:     v.Days,
		Selected: v.Selected.Key,
	}
	for _, rec := range v.Records {
		page.Rows = append(page.Rows, recordLabel(rec))
	}

	var buf bytes.Buffer
	if err := carouselTmpl.Execute(&buf, page); err != nil {
		appLog.Error("carousel template failed", err, "kind", kind)
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func carouselTitle(kind model.Kind) string {
	switch kind {
	case model.KindFlights:
		return "Flights"
	case model.KindTickets:
		return "Tickets"
	default:
		return string(kind)
	}
}

// recordLabel is the one-line text shown for a record.
func recordLabel(rec model.DatedRecord) string {
	switch rec.Kind {
	case model.KindFlights:
		var f model.Flight
		if err := json.Unmarshal(rec.Payload, &f); err == nil {
			parts := []string{f.FlightNumber}
			if f.Origin != "" || f.Destination != "" {
				parts = append(parts, f.Origin+" → "+f.Destination)
			}
			if t, err := calendar.ParseTimestamp(f.DepartureTime); err == nil {
				parts = append(parts, t.UTC().Format("15:04")+" UTC")
			}
			if f.Status != "" {
				parts = append(parts, f.Status)
			}
			return strings.Join(parts, " · ")
		}
	case model.KindTickets:
		var t model.Ticket
		if err := json.Unmarshal(rec.Payload, &t); err == nil {
			parts := []string{t.BookingRef}
			if t.FlightNumber != "" {
				parts = append(parts, t.FlightNumber)
			}
			if t.PassengerName != "" {
				parts = append(parts, t.PassengerName)
			}
			if t.Seat != "" {
				parts = append(parts, "seat "+t.Seat)
			}
			return strings.Join(parts, " · ")
		}
	}
	return rec.ID
}
