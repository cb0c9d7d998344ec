package dashboard

import (
	"context"
	"sync"

	"airdeck/internal/backend"
	"airdeck/internal/calendar"
	"airdeck/internal/model"
	"airdeck/internal/request"
)

// board is one kind's carousel plus the range its records were loaded for.
type board struct {
	kind     model.Kind
	carousel *calendar.Carousel
	latest   request.Latest

	mu     sync.Mutex
	loaded *backend.Range
	// banner is the message of the last user-facing load failure, cleared
	// by the next successful load.
	banner string
}

func newBoard(kind model.Kind, w calendar.Window) *board {
	return &board{kind: kind, carousel: calendar.NewCarousel(w)}
}

// renew hands out the token for a new load and cancels the previous one.
func (b *board) renew(ctx context.Context) *request.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest.Renew(ctx)
}

// apply stores records loaded with tok unless a newer load has started.
func (b *board) apply(tok *request.Token, records []model.DatedRecord, r backend.Range) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.latest.IsCurrent(tok) {
		return false
	}
	b.carousel.SetRecords(records)
	b.loaded = &r
	b.banner = ""
	return true
}

// fail records a user-facing failure of the load holding tok.
func (b *board) fail(tok *request.Token, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if request.IsSilent(err) || !b.latest.IsCurrent(tok) {
		return
	}
	b.banner = request.UserMessage(err)
}

func (b *board) lastBanner() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.banner
}

func (b *board) covers(r backend.Range) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded != nil && b.loaded.Contains(r)
}
