package pagewatch

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pagewatch/shield"
)

// Forced checks per client IP per minute.
const checkRateLimit = 6

// Handler returns the status surface:
//
//	GET  /health
//	GET  /stats
//	GET  /targets
//	GET  /targets/{key}/versions
//	GET  /targets/{key}/versions/{version}/preview
//	GET  /targets/{key}/history?limit=N
//	POST /targets/{key}/check
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.Stack(s.logger) {
		r.Use(mw)
	}
	checkLimiter := shield.NewRateLimiter(checkRateLimit, time.Minute)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Stats())
	})

	r.Get("/targets", func(w http.ResponseWriter, r *http.Request) {
		type targetView struct {
			Target
			Stats *TargetStats `json:"stats,omitempty"`
		}
		out := make([]targetView, 0, len(s.targets))
		for _, t := range s.targets {
			v := targetView{Target: t}
			if s.history != nil {
				st, err := s.history.TargetStats(r.Context(), t.Key)
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				v.Stats = st
			}
			out = append(out, v)
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Route("/targets/{key}", func(r chi.Router) {
		r.Get("/versions", func(w http.ResponseWriter, r *http.Request) {
			t, ok := s.targetByKey(chi.URLParam(r, "key"))
			if !ok {
				writeError(w, http.StatusNotFound, ErrUnknownTarget)
				return
			}
			versions, err := s.versionsByKey(t.Key)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if versions == nil {
				versions = []string{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"target": t, "versions": versions})
		})

		r.Get("/versions/{version}/preview", func(w http.ResponseWriter, r *http.Request) {
			t, ok := s.targetByKey(chi.URLParam(r, "key"))
			if !ok {
				writeError(w, http.StatusNotFound, ErrUnknownTarget)
				return
			}
			md, err := s.previewTarget(t, chi.URLParam(r, "version"))
			if err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			io.WriteString(w, md)
		})

		r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
			t, ok := s.targetByKey(chi.URLParam(r, "key"))
			if !ok {
				writeError(w, http.StatusNotFound, ErrUnknownTarget)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			entries, err := s.historyByKey(r.Context(), t.Key, limit)
			if errors.Is(err, ErrNoHistory) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if entries == nil {
				entries = []*CheckRecord{}
			}
			writeJSON(w, http.StatusOK, entries)
		})

		r.With(checkLimiter.Middleware).Post("/check", func(w http.ResponseWriter, r *http.Request) {
			t, ok := s.targetByKey(chi.URLParam(r, "key"))
			if !ok {
				writeError(w, http.StatusNotFound, ErrUnknownTarget)
				return
			}
			res, err := s.check(r.Context(), t)
			switch {
			case errors.Is(err, ErrNotify):
				writeJSON(w, http.StatusOK, map[string]any{"result": res, "error": err.Error()})
			case err != nil:
				writeError(w, http.StatusBadGateway, err)
			default:
				writeJSON(w, http.StatusOK, res)
			}
		})
	})

	return r
}

// targetByKey finds a configured target. Keys are themselves
// percent-escaped, so a key sent escaped once more is accepted too.
func (s *Service) targetByKey(key string) (Target, bool) {
	unescaped, err := url.PathUnescape(key)
	if err != nil {
		unescaped = key
	}
	for _, t := range s.targets {
		if t.Key == key || t.Key == unescaped {
			return t, true
		}
	}
	return Target{}, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
