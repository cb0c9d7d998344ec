package calendar

import (
	"errors"
	"sync"
	"time"

	"airdeck/internal/model"
)

var (
	ErrOutsideWindow = errors.New("calendar: day outside window")
	ErrNotSelectable = errors.New("calendar: day has no records")
)

// View is the carousel view model handed to the UI.
type View struct {
	Window   Window              `json:"-"`
	Days     []Day               `json:"days"`
	Selected Day                 `json:"selected"`
	Records  []model.DatedRecord `json:"records"`
}

// carouselState is never modified after it is published.
type carouselState struct {
	records  []model.DatedRecord
	window   Window
	selected string
}

// Carousel holds the records and window behind one date strip. Every
// change publishes a new state, so a concurrent View never sees a window
// from one update and records from another.
type Carousel struct {
	mu    sync.Mutex
	state *carouselState
}

// NewCarousel starts with no records and the given window.
func NewCarousel(w Window) *Carousel {
	return &Carousel{state: &carouselState{window: w}}
}

func (c *Carousel) load() *carouselState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Carousel) update(fn func(s carouselState) carouselState) *carouselState {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := fn(*c.state)
	c.state = &next
	return c.state
}

// Window returns the current window.
func (c *Carousel) Window() Window { return c.load().window }

// SetRecords replaces the record collection.
func (c *Carousel) SetRecords(records []model.DatedRecord) {
	cp := append([]model.DatedRecord(nil), records...)
	c.update(func(s carouselState) carouselState {
		s.records = cp
		return s
	})
}

// SetWindow replaces the window, for example when the UI jumps to another
// start date.
func (c *Carousel) SetWindow(w Window) {
	c.update(func(s carouselState) carouselState {
		s.window = w
		return s
	})
}

// LoadMore grows the window by n days (DefaultIncrement when n <= 0) and
// returns the new window.
func (c *Carousel) LoadMore(n int) Window {
	return c.update(func(s carouselState) carouselState {
		s.window = s.window.Grow(n)
		return s
	}).window
}

// Select makes day the selected day. The day must be in the window and
// either have records or be today.
func (c *Carousel) Select(day, today time.Time) error {
	key := DayKey(day)

	// Checked against the same state the selection is written into.
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if !s.window.Contains(day) {
		return ErrOutsideWindow
	}
	if key != DayKey(today) && CountByDay(s.records)[key] == 0 {
		return ErrNotSelectable
	}
	next := *s
	next.selected = key
	c.state = &next
	return nil
}

// View recomputes the day strip and selection from the current state. An
// explicit selection survives only while it is still selectable.
func (c *Carousel) View(today time.Time) View {
	s := c.load()
	days := Bucket(s.records, s.window)

	selected := FindFirstSelectable(days, today)
	if s.selected != "" {
		for _, d := range days {
			if d.Key == s.selected && d.Selectable(today) {
				selected = d
				break
			}
		}
	}

	return View{
		Window:   s.window,
		Days:     days,
		Selected: selected,
		Records:  RecordsOn(s.records, selected.Key),
	}
}

// Records returns the current record collection.
func (c *Carousel) Records() []model.DatedRecord {
	return c.load().records
}
