package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/config"
	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/metrics"
	"github.com/JakeFAU/polite-crawler/internal/storage"
)

// Client-facing messages.
const (
	msgInvalidRequest  = "Invalid request format."
	msgEnqueueFailed   = "Failed to enqueue crawl request."
	msgResultsNotFound = "Results not found or job is still in progress."
	msgResultsFailed   = "Failed to retrieve crawl results."
)

const maxRequestBytes = 1 << 20

// Enqueuer accepts new queue items.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Server wires HTTP handlers to the queue and stores.
type Server struct {
	router   chi.Router
	enqueuer Enqueuer
	store    storage.Store
	idGen    crawler.IDGenerator
	clock    crawler.Clock
	checks   map[string]crawler.Pinger
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. checks are
// pinged by /readyz.
func NewServer(
	enqueuer Enqueuer,
	store storage.Store,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	checks map[string]crawler.Pinger,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		enqueuer: enqueuer,
		store:    store,
		idGen:    idGen,
		clock:    clock,
		checks:   checks,
		cfg:      cfg,
		logger:   logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/crawl", s.submitCrawl)
		r.Get("/getQueueResult/{queueId}", s.getQueueResult)
		r.Get("/v1/jobs/{job_id}/status", s.getJobStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":     "unavailable",
				"dependency": name,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// crawlRequest keeps raw JSON values so field types can be checked.
type crawlRequest struct {
	URL       any `json:"url"`
	Recursive any `json:"recursive"`
	Depth     any `json:"depth"`
	RateLimit any `json:"rate_limit"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	job, ok := toJob(req)
	if !ok {
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("generate job id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgEnqueueFailed)
		return
	}
	job.ID = jobID
	now := s.clock.Now()
	item := crawler.QueueItem{Job: job, Attempt: 1, Submitted: now.Unix()}

	// Queued must be recorded before Enqueue so it never replaces a
	// worker's running status.
	record := crawler.JobRecord{
		ID:        jobID,
		Status:    crawler.JobStatusQueued,
		Attempts:  0,
		Submitted: now,
		Updated:   now,
	}
	if err := s.store.SetStatus(r.Context(), record); err != nil {
		s.logger.Warn("record queued status failed", zap.String("job_id", jobID), zap.Error(err))
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.enqueuer.Enqueue(queueCtx, item); err != nil {
		s.logger.Error("enqueue crawl job failed", zap.String("job_id", jobID), zap.Error(err))
		record.Status = crawler.JobStatusFailed
		record.Error = err.Error()
		if serr := s.store.SetStatus(r.Context(), record); serr != nil {
			s.logger.Warn("record failed status failed", zap.String("job_id", jobID), zap.Error(serr))
		}
		writeError(w, http.StatusInternalServerError, msgEnqueueFailed)
		return
	}
	metrics.ObserveJob(string(crawler.JobStatusQueued))
	s.logger.Info("crawl job accepted",
		zap.String("job_id", jobID),
		zap.String("url", job.SeedURL),
		zap.Bool("recursive", job.Recursive),
		zap.Int("depth", job.MaxDepth),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"queueId": jobID})
}

// toJob applies the submission rules: url is a non-empty absolute http(s)
// URL, recursive a boolean, depth a non-negative integer, and rate_limit
// absent or a positive integer.
func toJob(req crawlRequest) (crawler.Job, bool) {
	rawURL, ok := req.URL.(string)
	if !ok || rawURL == "" || !crawler.IsAbsoluteHTTP(rawURL) {
		return crawler.Job{}, false
	}
	recursive, ok := req.Recursive.(bool)
	if !ok {
		return crawler.Job{}, false
	}
	depth, ok := wholeNumber(req.Depth)
	if !ok || depth < 0 {
		return crawler.Job{}, false
	}
	job := crawler.Job{SeedURL: rawURL, Recursive: recursive, MaxDepth: depth}
	if req.RateLimit != nil {
		limit, ok := wholeNumber(req.RateLimit)
		if !ok || limit <= 0 {
			return crawler.Job{}, false
		}
		job.RateLimit = limit
	}
	return job, true
}

func wholeNumber(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func (s *Server) getQueueResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "queueId")
	results, found, err := s.store.GetResults(r.Context(), jobID)
	if err != nil {
		s.logger.Error("retrieve crawl results failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgResultsFailed)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, msgResultsNotFound)
		return
	}
	if results == nil {
		results = []crawler.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	record, found, err := s.store.GetStatus(r.Context(), jobID)
	if err != nil {
		s.logger.Error("retrieve job status failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch job status")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
