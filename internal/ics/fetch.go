package ics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"airdeck/internal/backend"
	appLog "airdeck/internal/log"
	"airdeck/internal/request"
)

// Source is one schedule feed.
type Source struct {
	// ID identifies the feed in logs and in Flight.Source.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult is the outcome of fetching one feed.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool // true when the server answered 304

	// Failure is the status of a client error that retrying cannot fix.
	Failure string
}

// Succeeded reports whether the feed was served.
func (r FetchResult) Succeeded() bool { return r.Failure == "" }

func (r FetchResult) FailureMessage() string { return r.Failure }

// cacheEntry holds validators and the last body for one URL. It lives in
// memory only.
type cacheEntry struct {
	ETag         string
	LastModified string
	Body         []byte
	UpdatedAt    time.Time
}

// Fetcher downloads schedule feeds through the request manager, using
// ETag / Last-Modified revalidation against an in-memory cache.
type Fetcher struct {
	client *http.Client
	rlm    *request.Manager

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewFetcher creates a Fetcher. A nil client gets a 15s timeout.
func NewFetcher(client *http.Client, rlm *request.Manager) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{
		client: client,
		rlm:    rlm,
		cache:  make(map[string]cacheEntry),
	}
}

// FetchAll fetches every source. Per-source failures are logged and
// returned; silent outcomes (cancelled, duplicate) are dropped from both.
func (f *Fetcher) FetchAll(tok *request.Token, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	errs := make([]error, 0)

	for _, src := range sources {
		res, err := f.FetchOne(tok, src)
		if err != nil {
			if request.IsSilent(err) {
				continue
			}
			errs = append(errs, err)
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", backend.RedactURL(src.URL))
			continue
		}
		results = append(results, res)
	}

	return results, errs
}

// FetchOne fetches a single feed.
func (f *Fetcher) FetchOne(tok *request.Token, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("ics: source URL is empty")
	}

	key := request.NewCallKey(http.MethodGet, src.URL, nil)
	return request.Execute(f.rlm, tok, key, func(ctx context.Context) (FetchResult, error) {
		return f.fetch(ctx, src)
	})
}

func (f *Fetcher) fetch(ctx context.Context, src Source) (FetchResult, error) {
	f.mu.Lock()
	meta, cached := f.cache[src.URL]
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if cached {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", backend.RedactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, err
		}
		f.mu.Lock()
		f.cache[src.URL] = cacheEntry{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
			UpdatedAt:    time.Now().UTC(),
		}
		f.mu.Unlock()
		appLog.Info("ics fetch success", "id", src.ID, "url", backend.RedactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case resp.StatusCode == http.StatusNotModified && cached:
		appLog.Debug("ics fetch not modified; using cache", "id", src.ID)
		return FetchResult{Source: src, Body: meta.Body, FromCache: true}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		// Not retried: a missing or forbidden feed stays that way.
		return FetchResult{Source: src, Failure: resp.Status}, nil

	default:
		// Treated as transport trouble so the manager retries.
		return FetchResult{}, &backend.StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
}

// LoadFlights fetches, parses and expands every source over [from, to).
// A feed that fails to download or parse contributes nothing; the error is
// returned alongside whatever the other feeds produced.
func (f *Fetcher) LoadFlights(tok *request.Token, sources []Source, from, to time.Time) ([]ExpandResult, error) {
	fetched, errs := f.FetchAll(tok, sources)

	var out []ExpandResult
	for _, res := range fetched {
		events, err := ParseSchedule(res.Source, res.Body)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		expanded, err := ExpandSchedules(events, ExpandConfig{RangeStart: from, RangeEnd: to})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, expanded)
	}
	return out, errors.Join(errs...)
}
