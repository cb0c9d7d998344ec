package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"airdeck/internal/calendar"
	"airdeck/internal/config"
	"airdeck/internal/dashboard"
	"airdeck/internal/ics"
	appLog "airdeck/internal/log"
	"airdeck/internal/model"
	"airdeck/internal/request"
)

// Server exposes the carousels over HTTP: a JSON API, an HTML page per
// carousel (the snapshot target) and an ICS export.
type Server struct {
	cfg *config.Config
	svc *dashboard.Service
	mux *http.ServeMux

	// previewPath is the last snapshot PNG; empty disables /preview.png.
	previewPath string
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc *dashboard.Service, previewPath string) *Server {
	s := &Server{
		cfg:         cfg,
		svc:         svc,
		mux:         http.NewServeMux(),
		previewPath: previewPath,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials mean disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Airdeck", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/calendar/{kind}", s.handleView)
	s.mux.HandleFunc("POST /api/calendar/{kind}/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/calendar/{kind}/more", s.handleLoadMore)
	s.mux.HandleFunc("POST /api/calendar/{kind}/select", s.handleSelect)
	s.mux.HandleFunc("GET /api/calendar/{kind}/ics", s.handleExport)
	s.mux.HandleFunc("GET /carousel/{kind}", s.handleCarouselPage)
	if s.previewPath != "" {
		s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

// windowDTO is the JSON form of calendar.Window.
type windowDTO struct {
	Start     string `json:"start"`
	Length    int    `json:"length"`
	Direction string `json:"direction"`
}

// viewResponse is the JSON shape for every carousel endpoint.
type viewResponse struct {
	Kind     model.Kind          `json:"kind"`
	Window   windowDTO           `json:"window"`
	Days     []calendar.Day      `json:"days"`
	Selected calendar.Day        `json:"selected"`
	Records  []model.DatedRecord `json:"records"`
}

func toViewResponse(kind model.Kind, v calendar.View) viewResponse {
	records := v.Records
	if records == nil {
		records = []model.DatedRecord{}
	}
	return viewResponse{
		Kind: kind,
		Window: windowDTO{
			Start:     calendar.DayKey(v.Window.Start),
			Length:    v.Window.Length,
			Direction: v.Window.Direction.String(),
		},
		Days:     v.Days,
		Selected: v.Selected,
		Records:  records,
	}
}

func pathKind(r *http.Request) model.Kind {
	return model.Kind(r.PathValue("kind"))
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	kind := pathKind(r)
	v, err := s.svc.View(kind)
	if err != nil {
		writeOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(kind, v))
}

// handleRefresh reloads one carousel and returns its view.
//
// POST /api/calendar/{kind}/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	kind := pathKind(r)
	if err := s.svc.Refresh(r.Context(), kind); err != nil {
		writeOutcome(w, err)
		return
	}
	s.handleView(w, r)
}

// handleLoadMore grows the window by the configured increment.
//
// POST /api/calendar/{kind}/more
func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	kind := pathKind(r)
	v, err := s.svc.LoadMore(r.Context(), kind)
	if err != nil {
		writeOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(kind, v))
}

// handleSelect selects a day.
//
// POST /api/calendar/{kind}/select?date=YYYY-MM-DD
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	kind := pathKind(r)
	day, err := calendar.ParseDay(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	v, err := s.svc.Select(kind, day)
	if err != nil {
		writeOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(kind, v))
}

// handleExport serves the loaded records of one kind as an ICS feed.
//
// GET /api/calendar/{kind}/ics
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	kind := pathKind(r)
	records, err := s.svc.Records(kind)
	if err != nil {
		writeOutcome(w, err)
		return
	}
	body := ics.Export("Airdeck "+string(kind), records, time.Now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+string(kind)+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// handlePreview serves the last snapshot from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	// http.ServeFile maps missing files to 404.
	http.ServeFile(w, r, s.previewPath)
}

// writeOutcome maps a dashboard error to a response. Cancelled and
// duplicate-suppressed calls are not failures and produce 204.
func writeOutcome(w http.ResponseWriter, err error) {
	var bf *request.BusinessFailure
	var tf *request.TerminalFailure
	switch {
	case request.IsSilent(err):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, dashboard.ErrUnknownKind):
		writeError(w, http.StatusNotFound, "unknown calendar")
	case errors.Is(err, calendar.ErrOutsideWindow), errors.Is(err, calendar.ErrNotSelectable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &bf):
		writeError(w, http.StatusUnprocessableEntity, request.UserMessage(err))
	case errors.As(err, &tf):
		writeError(w, http.StatusBadGateway, request.UserMessage(err))
	default:
		appLog.Error("web: request failed", err)
		writeError(w, http.StatusInternalServerError, request.UserMessage(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
