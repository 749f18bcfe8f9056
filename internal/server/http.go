package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ChuLiYu/topo-nav/internal/executor"
	"github.com/ChuLiYu/topo-nav/internal/graph"
	"github.com/ChuLiYu/topo-nav/internal/localize"
)

const bodyLimit = 1 << 20

// NewHTTPHandler returns the chi router for the HTTP surface. metrics may be
// nil to omit /metrics.
//
// Routes:
//
//	GET  /healthz
//	GET  /metrics
//	POST /v1/plan
//	POST /v1/plan/multi
//	POST /v1/locate
//	POST /v1/missions
//	GET  /v1/missions/current
func NewHTTPHandler(svc *Service, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "nodes": svc.store.Len()})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/plan", func(w http.ResponseWriter, r *http.Request) {
			req, ok := readJSON[PlanRequest](w, r)
			if !ok {
				return
			}
			resp, err := svc.Plan(r.Context(), req)
			respond(w, resp, err)
		})
		r.Post("/plan/multi", func(w http.ResponseWriter, r *http.Request) {
			req, ok := readJSON[MultiPlanRequest](w, r)
			if !ok {
				return
			}
			resp, err := svc.PlanMulti(r.Context(), req)
			respond(w, resp, err)
		})
		r.Post("/locate", func(w http.ResponseWriter, r *http.Request) {
			req, ok := readJSON[LocateRequest](w, r)
			if !ok {
				return
			}
			resp, err := svc.NearestNode(req)
			respond(w, resp, err)
		})
		r.Post("/missions", func(w http.ResponseWriter, r *http.Request) {
			req, ok := readJSON[MissionRequest](w, r)
			if !ok {
				return
			}
			resp, err := svc.RunMission(r.Context(), req)
			respond(w, resp, err)
		})
		r.Get("/missions/current", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, svc.Status())
		})
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

func respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, graph.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, localize.ErrEmptyGraph):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, executor.ErrMissionInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrMissionsDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		slog.Default().Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)
		slog.Default().Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(began),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}
