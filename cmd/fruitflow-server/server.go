package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fruitflow/fruitflow/internal/app/bootstrap"
	"github.com/fruitflow/fruitflow/internal/app/dto"
	"github.com/fruitflow/fruitflow/internal/app/services"
	"github.com/fruitflow/fruitflow/internal/core/graph"
	"github.com/fruitflow/fruitflow/internal/poem"
	"github.com/fruitflow/fruitflow/pkg/flowgraph"
	"github.com/fruitflow/fruitflow/pkg/validation"
)

type server struct {
	app    *bootstrap.App
	flow   *flowgraph.Flow[poem.State]
	logger *zap.Logger
}

// runRequest is the body of POST /v1/runs. It may be empty.
type runRequest struct {
	RunID string `json:"run_id,omitempty" validate:"omitempty,max=100"`
}

// runResult is returned by POST /v1/runs.
type runResult struct {
	*dto.ExecutionResponse
	State poem.State `json:"state"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.app.Metrics.Registry(), promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/flows", s.listFlows)
		r.Get("/flows/{flowID}/dot", s.plotFlow)
		r.With(validation.Query(map[string]string{
			"flow":  "omitempty,flow_id",
			"limit": "omitempty,number",
		})).Get("/runs", s.listRuns)
		r.Post("/runs", s.startRun)
		r.Get("/runs/{runID}", s.getRun)
		r.Post("/runs/{runID}/resume", s.resumeRun)
	})
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *server) listFlows(w http.ResponseWriter, r *http.Request) {
	graphs, err := s.app.Runtime.Graphs(r.Context())
	if err != nil {
		validation.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, graphs)
}

func (s *server) plotFlow(w http.ResponseWriter, r *http.Request) {
	g, err := s.app.Runtime.Graph(r.Context(), chi.URLParam(r, "flowID"))
	if errors.Is(err, graph.ErrGraphNotFound) {
		validation.WriteError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		validation.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	if err := flowgraph.Plot(w, g); err != nil {
		s.logger.Error("failed to plot flow", zap.Error(err))
	}
}

func (s *server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := validation.DecodeJSON(r, &req); err != nil {
			validation.WriteError(w, http.StatusBadRequest, err)
			return
		}
	}

	final, resp, err := s.app.Kickoff(r.Context(), s.flow, req.RunID, nil)
	s.writeRun(w, final, resp, err)
}

func (s *server) resumeRun(w http.ResponseWriter, r *http.Request) {
	final, resp, err := s.app.Resume(r.Context(), s.flow, chi.URLParam(r, "runID"), nil)
	if errors.Is(err, services.ErrNoSnapshots) {
		validation.WriteError(w, http.StatusNotFound, err)
		return
	}
	s.writeRun(w, final, resp, err)
}

// writeRun reports a finished run. A run that never started is the
// caller's fault; a run that failed is the server's.
func (s *server) writeRun(w http.ResponseWriter, final poem.State, resp *dto.ExecutionResponse, err error) {
	if resp == nil {
		validation.WriteError(w, http.StatusBadRequest, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, runResult{ExecutionResponse: resp, State: final})
}

func (s *server) listRuns(w http.ResponseWriter, r *http.Request) {
	flowID := r.URL.Query().Get("flow")
	if flowID == "" {
		flowID = poem.FlowID
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			validation.WriteError(w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
			return
		}
		limit = n
	}
	cps, err := s.app.Snapshots.Recent(r.Context(), flowID, limit)
	if err != nil {
		validation.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cps)
}

func (s *server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	cps, err := s.app.Snapshots.History(r.Context(), runID)
	if err != nil {
		validation.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if len(cps) == 0 {
		validation.WriteError(w, http.StatusNotFound, dto.ErrRunNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cps)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
