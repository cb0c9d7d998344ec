package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "airdeck/internal/log"
	"airdeck/internal/model"
	"airdeck/internal/request"
)

const (
	DefaultTimeout = 15 * time.Second

	// maxBodyBytes bounds how much of a response body is read.
	maxBodyBytes = 8 << 20
)

// Range is a half-open [From, To) interval of UTC days requested from the
// backend.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether r covers all of other.
func (r Range) Contains(other Range) bool {
	return !other.From.Before(r.From) && !other.To.After(r.To)
}

func (r Range) params() url.Values {
	return url.Values{
		"from": {r.From.UTC().Format("2006-01-02")},
		"to":   {r.To.UTC().Format("2006-01-02")},
	}
}

// Client talks to the booking backend's JSON API. Every call goes through
// the request manager, so duplicate calls are suppressed and transport
// failures are retried.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	rlm     *request.Manager
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// BearerToken, when set, is sent as an Authorization header.
	BearerToken string
	Timeout     time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// NewClient creates a backend client bound to a request manager.
func NewClient(opts Options, rlm *request.Manager) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.BearerToken,
		http:    hc,
		rlm:     rlm,
	}
}

// ListFlights returns flights departing within r.
func (c *Client) ListFlights(tok *request.Token, r Range) ([]model.Flight, error) {
	env, err := getJSON[[]model.Flight](c, tok, "/flights", r.params())
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// ListTickets returns tickets whose travel date falls within r.
func (c *Client) ListTickets(tok *request.Token, r Range) ([]model.Ticket, error) {
	env, err := getJSON[[]model.Ticket](c, tok, "/tickets", r.params())
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Records fetches the given kind and converts it to dated records.
func (c *Client) Records(tok *request.Token, kind model.Kind, r Range) ([]model.DatedRecord, error) {
	switch kind {
	case model.KindFlights:
		flights, err := c.ListFlights(tok, r)
		if err != nil {
			return nil, err
		}
		return model.FlightRecords(flights), nil
	case model.KindTickets:
		tickets, err := c.ListTickets(tok, r)
		if err != nil {
			return nil, err
		}
		return model.TicketRecords(tickets), nil
	default:
		return nil, fmt.Errorf("backend: unknown record kind %q", kind)
	}
}

func getJSON[T any](c *Client, tok *request.Token, path string, params url.Values) (Envelope[T], error) {
	endpoint := c.baseURL + path
	key := request.NewCallKey(http.MethodGet, endpoint, params)

	return request.Execute(c.rlm, tok, key, func(ctx context.Context) (Envelope[T], error) {
		u := endpoint
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return Envelope[T]{}, err
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		appLog.Debug("backend request", "path", path, "url", RedactURL(u))

		resp, err := c.http.Do(req)
		if err != nil {
			return Envelope[T]{}, err
		}
		defer resp.Body.Close()

		return decodeEnvelope[T](resp)
	})
}

// decodeEnvelope classifies an HTTP response. Server errors, rate limits and
// unreadable success bodies are transport errors; a decodable envelope is
// returned as-is; any other client error becomes a business failure carrying
// the status text.
func decodeEnvelope[T any](resp *http.Response) (Envelope[T], error) {
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Envelope[T]{}, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Envelope[T]{}, err
	}

	var env Envelope[T]
	decodeErr := json.Unmarshal(body, &env)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			return Envelope[T]{}, errors.Join(&StatusError{Code: resp.StatusCode, Status: resp.Status}, decodeErr)
		}
		return env, nil
	}

	if decodeErr == nil && !env.Succeeded() {
		return env, nil
	}
	return failed[T](http.StatusText(resp.StatusCode)), nil
}

// RedactURL hides paths and query strings (which may carry tokens) before
// a URL is logged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
