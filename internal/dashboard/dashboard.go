// Package dashboard owns one carousel per record kind and keeps each fed
// from the booking backend and, for flights, the schedule feeds.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"airdeck/internal/backend"
	"airdeck/internal/calendar"
	"airdeck/internal/clock"
	"airdeck/internal/ics"
	appLog "airdeck/internal/log"
	"airdeck/internal/model"
	"airdeck/internal/request"
)

// ErrUnknownKind is returned for a kind with no carousel.
var ErrUnknownKind = errors.New("dashboard: unknown kind")

// RecordSource lists dated records of one kind over a range.
// *backend.Client implements it.
type RecordSource interface {
	Records(tok *request.Token, kind model.Kind, r backend.Range) ([]model.DatedRecord, error)
}

// FlightFeed loads flights from schedule feeds. *ics.Fetcher implements it.
type FlightFeed interface {
	LoadFlights(tok *request.Token, sources []ics.Source, from, to time.Time) ([]ics.ExpandResult, error)
}

// Options configures a Service.
type Options struct {
	Backend RecordSource
	// Feeds and Sources are optional.
	Feeds   FlightFeed
	Sources []ics.Source

	// Requests is only read for Stats.
	Requests *request.Manager

	WindowDays   int
	LoadMoreDays int
	Direction    calendar.Direction

	Clock clock.Clock
}

// Service is safe for concurrent use.
type Service struct {
	opts   Options
	boards map[model.Kind]*board
}

// New creates carousels for every kind, each with a window starting
// today (UTC).
func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = calendar.DefaultIncrement
	}
	if opts.LoadMoreDays <= 0 {
		opts.LoadMoreDays = calendar.DefaultIncrement
	}

	s := &Service{opts: opts, boards: make(map[model.Kind]*board)}
	today := opts.Clock.Now()
	for _, k := range []model.Kind{model.KindFlights, model.KindTickets} {
		s.boards[k] = newBoard(k, calendar.NewWindow(today, opts.WindowDays, opts.Direction))
	}
	return s
}

// Kinds lists the carousels in display order.
func (s *Service) Kinds() []model.Kind {
	return []model.Kind{model.KindFlights, model.KindTickets}
}

func (s *Service) board(kind model.Kind) (*board, error) {
	b, ok := s.boards[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return b, nil
}

// Refresh reloads the records for kind over its current window. Only the
// most recent Refresh or LoadMore for a kind may apply its result; an
// earlier one still running is cancelled and returns request.ErrCancelled.
func (s *Service) Refresh(ctx context.Context, kind model.Kind) error {
	b, err := s.board(kind)
	if err != nil {
		return err
	}
	return s.reload(ctx, b, b.carousel.Window())
}

// RefreshAll refreshes every kind and joins the non-silent errors.
func (s *Service) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, k := range s.Kinds() {
		if err := s.Refresh(ctx, k); err != nil && !request.IsSilent(err) {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) reload(ctx context.Context, b *board, w calendar.Window) error {
	tok := b.renew(ctx)
	from, to := w.Range()
	rng := backend.Range{From: from, To: to}

	records, err := s.opts.Backend.Records(tok, b.kind, rng)
	if err != nil {
		if request.IsSilent(err) {
			appLog.Debug("dashboard refresh dropped", "kind", b.kind, "reason", err.Error())
		}
		b.fail(tok, err)
		return err
	}

	if b.kind == model.KindFlights && s.opts.Feeds != nil && len(s.opts.Sources) > 0 {
		expanded, ferr := s.opts.Feeds.LoadFlights(tok, s.opts.Sources, from, to)
		if ferr != nil {
			// Backend records are still shown.
			appLog.Warn("dashboard: schedule feeds incomplete", "kind", b.kind, "error", ferr)
		}
		for _, res := range expanded {
			records = append(records, model.FlightRecords(res.Flights)...)
		}
	}

	if !b.apply(tok, records, rng) {
		return request.ErrCancelled
	}
	appLog.Info("dashboard refreshed", "kind", b.kind, "records", len(records), "from", calendar.DayKey(from), "to", calendar.DayKey(to))
	return nil
}

// View returns the current carousel view for kind.
func (s *Service) View(kind model.Kind) (calendar.View, error) {
	b, err := s.board(kind)
	if err != nil {
		return calendar.View{}, err
	}
	return b.carousel.View(s.opts.Clock.Now()), nil
}

// LoadMore grows the window for kind by the configured increment and
// fetches again when the grown window reaches past what was loaded.
func (s *Service) LoadMore(ctx context.Context, kind model.Kind) (calendar.View, error) {
	b, err := s.board(kind)
	if err != nil {
		return calendar.View{}, err
	}

	w := b.carousel.LoadMore(s.opts.LoadMoreDays)
	from, to := w.Range()
	if !b.covers(backend.Range{From: from, To: to}) {
		if err := s.reload(ctx, b, w); err != nil {
			return b.carousel.View(s.opts.Clock.Now()), err
		}
	}
	return b.carousel.View(s.opts.Clock.Now()), nil
}

// Select selects day on the carousel for kind.
func (s *Service) Select(kind model.Kind, day time.Time) (calendar.View, error) {
	b, err := s.board(kind)
	if err != nil {
		return calendar.View{}, err
	}
	now := s.opts.Clock.Now()
	if err := b.carousel.Select(day, now); err != nil {
		return calendar.View{}, err
	}
	return b.carousel.View(now), nil
}

// Records returns the records currently loaded for kind.
func (s *Service) Records(kind model.Kind) ([]model.DatedRecord, error) {
	b, err := s.board(kind)
	if err != nil {
		return nil, err
	}
	return b.carousel.Records(), nil
}

// Banner returns the message of the last user-facing load failure for
// kind, or "" when the last load succeeded.
func (s *Service) Banner(kind model.Kind) string {
	b, err := s.board(kind)
	if err != nil {
		return ""
	}
	return b.lastBanner()
}

// Stats reports request manager counters. A Service without a manager
// reports zeros.
func (s *Service) Stats() request.Stats {
	if s.opts.Requests == nil {
		return request.Stats{}
	}
	return s.opts.Requests.Stats()
}

// Close cancels any refresh still running.
func (s *Service) Close() {
	for _, b := range s.boards {
		b.latest.Cancel()
	}
}
