package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pagesnap/pagesnap/capq"
	"github.com/pagesnap/pagesnap/history"
	"github.com/pagesnap/pagesnap/idgen"
	"github.com/pagesnap/pagesnap/observability"
	"github.com/pagesnap/pagesnap/pdfexport"
)

// server carries the HTTP API's dependencies. The browser is not one
// of them: HTTP handlers only touch the queue and the store, so the
// API stays responsive while a capture is scrolling.
type server struct {
	store  *history.Store
	queue  *capq.Q
	events *observability.EventLogger
	newID  idgen.Generator
	log    *slog.Logger
}

func newServer(store *history.Store, queue *capq.Q, events *observability.EventLogger, log *slog.Logger) *server {
	return &server{
		store:  store,
		queue:  queue,
		events: events,
		newID:  idgen.Prefixed("cap_", idgen.Default),
		log:    log,
	}
}

func (s *server) routes(r chi.Router) {
	r.Route("/v1/captures", func(r chi.Router) {
		r.Post("/", s.handleEnqueue)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Get("/{id}/image", s.handleImage)
		r.Get("/{id}/pdf", s.handlePDF)
	})
	r.Get("/healthz", s.handleHealth)
}

type enqueueRequest struct {
	URL  string    `json:"url"`
	Mode string    `json:"mode"`
	Rect *rectSpec `json:"rect,omitempty"`
	Kind string    `json:"kind,omitempty"`
}

// enqueue validates a capture request, records it as queued and
// publishes the job. Shared by the HTTP handler and the MCP tools.
func (s *server) enqueue(ctx context.Context, req enqueueRequest) (string, error) {
	mode, err := normalizeMode(req.Mode)
	if err != nil {
		return "", err
	}
	if err := validateURL(req.URL); err != nil {
		return "", err
	}
	if mode != "full_page" {
		if req.Rect == nil || req.Rect.W <= 0 || req.Rect.H <= 0 {
			return "", fmt.Errorf("%s capture requires a rect with positive w and h", mode)
		}
	}

	id := s.newID()
	if err := s.store.InsertCapture(ctx, id, req.URL, mode); err != nil {
		return "", fmt.Errorf("store capture: %w", err)
	}

	payload, err := json.Marshal(jobPayload{
		CaptureID: id,
		URL:       req.URL,
		Mode:      mode,
		Rect:      req.Rect,
		Kind:      req.Kind,
	})
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := s.queue.Publish(ctx, id, payload); err != nil {
		return "", fmt.Errorf("publish job: %w", err)
	}

	s.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "capture_enqueued",
		ServiceName: "pagesnap",
		EntityType:  "capture",
		EntityID:    id,
		Action:      mode,
		Success:     true,
	})
	return id, nil
}

func (s *server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.enqueue(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":    id,
		"state": history.StateQueued,
	})
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.store.GetCapture(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("capture %s not found", id))
		return
	}

	resp := captureJSON(c)
	if r.URL.Query().Get("events") == "1" {
		evs, err := s.store.ListEvents(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		trail := make([]map[string]any, 0, len(evs))
		for _, ev := range evs {
			trail = append(trail, map[string]any{
				"state":      ev.State,
				"segment":    ev.Segment,
				"total":      ev.Total,
				"detail":     ev.Detail,
				"created_at": ev.CreatedAt,
			})
		}
		resp["events"] = trail
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	caps, err := s.store.ListCaptures(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	list := make([]map[string]any, 0, len(caps))
	for _, c := range caps {
		list = append(list, captureJSON(c))
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, mime, err := s.loadImage(r.Context(), w, id)
	if err != nil {
		return // response already written
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *server) handlePDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, _, err := s.loadImage(r.Context(), w, id)
	if err != nil {
		return
	}
	var buf bytes.Buffer
	if err := pdfexport.FromImage(&buf, data); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

// loadImage fetches a finished capture's bytes, writing the error
// response itself so image and pdf handlers share the status logic.
func (s *server) loadImage(ctx context.Context, w http.ResponseWriter, id string) ([]byte, string, error) {
	c, err := s.store.GetCapture(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, "", err
	}
	if c == nil {
		err := fmt.Errorf("capture %s not found", id)
		writeError(w, http.StatusNotFound, err)
		return nil, "", err
	}
	if c.State != history.StateDone {
		err := fmt.Errorf("capture %s is %s, not done", id, c.State)
		writeError(w, http.StatusConflict, err)
		return nil, "", err
	}
	data, mime, err := s.store.ReadImage(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return nil, "", err
	}
	return data, mime, nil
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pending, err := s.queue.Len(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"pending": pending,
	})
}

func captureJSON(c *history.Capture) map[string]any {
	m := map[string]any{
		"id":          c.ID,
		"url":         c.URL,
		"mode":        c.Mode,
		"state":       c.State,
		"created_at":  c.CreatedAt,
		"duration_ms": c.DurationMs,
	}
	if c.State == history.StateDone {
		m["mime"] = c.MIME
		m["width"] = c.Width
		m["height"] = c.Height
		m["truncated"] = c.Truncated
		m["segments"] = c.Segments
		m["bytes"] = c.Bytes
	}
	if c.Error != "" {
		m["error"] = c.Error
	}
	if c.FinishedAt != nil {
		m["finished_at"] = *c.FinishedAt
	}
	return m
}

func normalizeMode(mode string) (string, error) {
	switch mode {
	case "", "full", "full_page":
		return "full_page", nil
	case "area", "embed":
		return mode, nil
	default:
		return "", fmt.Errorf("unknown mode %q", mode)
	}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
