package vigil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vigilio/vigil/internal/store"
)

// Router builds the HTTP API.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api/monitors", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			monitors, err := s.ListMonitors(r.Context())
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 200, monitors)
		})
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var m store.Monitor
			if err := decodeJSON(r, &m); err != nil {
				httpError(w, err)
				return
			}
			m.Enabled = true
			if err := s.AddMonitor(r.Context(), &m); err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 201, m)
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			m, err := s.GetMonitor(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 200, m)
		})
		r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
			var m store.Monitor
			if err := decodeJSON(r, &m); err != nil {
				httpError(w, err)
				return
			}
			m.ID = chi.URLParam(r, "id")
			if err := s.UpdateMonitor(r.Context(), &m); err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 200, m)
		})
		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := s.DeleteMonitor(r.Context(), chi.URLParam(r, "id")); err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "deleted"})
		})
		r.Post("/{id}/check", func(w http.ResponseWriter, r *http.Request) {
			jobID, err := s.CheckNow(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 202, map[string]string{"job_id": jobID})
		})
		r.Get("/{id}/changes", func(w http.ResponseWriter, r *http.Request) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			changes, err := s.ListChanges(r.Context(), chi.URLParam(r, "id"), limit)
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 200, changes)
		})
		r.Post("/{id}/channels", func(w http.ResponseWriter, r *http.Request) {
			var link store.MonitorChannel
			if err := decodeJSON(r, &link); err != nil {
				httpError(w, err)
				return
			}
			link.MonitorID = chi.URLParam(r, "id")
			if err := s.LinkChannel(r.Context(), &link); err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 200, link)
		})
		r.Delete("/{id}/channels/{channelID}", func(w http.ResponseWriter, r *http.Request) {
			err := s.UnlinkChannel(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "channelID"))
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "unlinked"})
		})
	})

	r.Route("/api/channels", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			channels, err := s.ListChannels(r.Context())
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 200, channels)
		})
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Name   string          `json:"name"`
				Type   string          `json:"type"`
				Config json.RawMessage `json:"config"`
			}
			if err := decodeJSON(r, &req); err != nil {
				httpError(w, err)
				return
			}
			ch, err := s.AddChannel(r.Context(), req.Name, req.Type, req.Config)
			if err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 201, ch)
		})
		r.Put("/{id}/enabled", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Enabled bool `json:"enabled"`
			}
			if err := decodeJSON(r, &req); err != nil {
				httpError(w, err)
				return
			}
			if err := s.SetChannelEnabled(r.Context(), chi.URLParam(r, "id"), req.Enabled); err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "updated"})
		})
		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := s.DeleteChannel(r.Context(), chi.URLParam(r, "id")); err != nil {
				httpError(w, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "deleted"})
		})
	})

	r.Get("/api/jobs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		events, err := s.JobEvents(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, 200, events)
	})

	return r
}

func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.Join(ErrInvalidInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, err error) {
	status := 500
	switch {
	case errors.Is(err, ErrInvalidInput):
		status = 400
	case errors.Is(err, ErrNotFound):
		status = 404
	case errors.Is(err, ErrDuplicateMonitor):
		status = 409
	case errors.Is(err, ErrQuotaExceeded):
		status = 429
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
