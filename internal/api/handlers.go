package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagesift/pagesift/internal/scrape"
)

type scrapeRequest struct {
	URL       string                          `json:"url"`
	Selectors map[string]scrape.FieldStrategy `json:"selectors,omitempty"`
	TimeoutMS int64                           `json:"timeout_ms,omitempty"`
}

type articleRequest struct {
	URL            string                          `json:"url"`
	ForceRefresh   bool                            `json:"force_refresh,omitempty"`
	ArchiveService string                          `json:"archive_service,omitempty"`
	Selectors      map[string]scrape.FieldStrategy `json:"selectors,omitempty"`
	TimeoutMS      int64                           `json:"timeout_ms,omitempty"`
}

// responseMeta describes how the request went. ErrorType carries the wire
// code from the outcome; FieldSources tells callers which strategy tier
// produced each value.
type responseMeta struct {
	Status       int               `json:"status"`
	DurationMS   int64             `json:"duration_ms"`
	ErrorType    string            `json:"error_type,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	FieldSources map[string]string `json:"field_sources,omitempty"`
}

// scrapeResponse is the envelope for both endpoints, success and failure
// alike. Data is always present, empty on failure.
type scrapeResponse struct {
	URL        string            `json:"url"`
	ArchiveURL string            `json:"archive_url,omitempty"`
	Data       map[string]string `json:"data"`
	Meta       responseMeta      `json:"meta"`
}

// handleScrape serves POST /v1/scrape: render the page live and extract the
// requested fields (or the auto heuristics when no selectors are given).
func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, "", http.StatusBadRequest, scrape.CodeInvalidRequest, "invalid JSON payload", 0)
		return
	}
	s.submitJob(w, r, jobParams{
		url:       req.URL,
		mode:      scrape.ModeRender,
		selectors: req.Selectors,
		timeoutMS: req.TimeoutMS,
	})
}

// handleArticle serves POST /v1/article: resolve an archive snapshot of the
// page and extract readable text, plus any requested fields.
func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	var req articleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, "", http.StatusBadRequest, scrape.CodeInvalidRequest, "invalid JSON payload", 0)
		return
	}
	service, err := resolveArchiveService(req.ArchiveService)
	if err != nil {
		writeFailure(w, req.URL, http.StatusBadRequest, scrape.CodeInvalidRequest, err.Error(), 0)
		return
	}
	s.logger.Debug("archive service resolved",
		zap.String("requested", req.ArchiveService),
		zap.String("service", service),
	)
	s.submitJob(w, r, jobParams{
		url:       req.URL,
		mode:      scrape.ModeArchive,
		selectors: req.Selectors,
		timeoutMS: req.TimeoutMS,
		force:     req.ForceRefresh,
	})
}

type jobParams struct {
	url       string
	mode      scrape.JobMode
	selectors map[string]scrape.FieldStrategy
	timeoutMS int64
	force     bool
}

// submitJob validates the parameters, submits the job, waits for its outcome,
// and renders the envelope. Every path writes exactly one response.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request, params jobParams) {
	if err := scrape.ValidateURL(params.url); err != nil {
		writeFailure(w, params.url, http.StatusBadRequest, scrape.CodeInvalidURL, fmt.Sprintf("invalid url: %v", err), 0)
		return
	}
	wait, err := s.resolveWait(params.timeoutMS)
	if err != nil {
		writeFailure(w, params.url, http.StatusBadRequest, scrape.CodeInvalidRequest, err.Error(), 0)
		return
	}
	jobID, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("generate job id", zap.Error(err))
		writeFailure(w, params.url, http.StatusInternalServerError, scrape.CodeInternal, "internal server error", 0)
		return
	}

	job := scrape.Job{
		ID:           jobID,
		Mode:         params.mode,
		TargetURL:    params.url,
		Strategies:   params.selectors,
		ForceRefresh: params.force,
		Status:       scrape.JobStatusQueued,
		Submitted:    s.clock.Now(),
	}
	outcome, err := s.submitter.SubmitAndWait(r.Context(), job, wait)
	if err != nil {
		// Submission only fails when the queue is closed or backpressure
		// outlives the caller, so report the service as unavailable.
		writeFailure(w, params.url, http.StatusServiceUnavailable, scrape.CodeInternal, err.Error(), 0)
		return
	}
	writeOutcome(w, outcome)
}

// resolveWait converts the caller's timeout_ms into the await budget,
// clamped to the configured maximum.
func (s *Server) resolveWait(timeoutMS int64) (time.Duration, error) {
	if timeoutMS < 0 {
		return 0, errors.New("timeout_ms must not be negative")
	}
	if timeoutMS == 0 {
		return s.cfg.Scraper.DefaultTimeout(), nil
	}
	wait := time.Duration(timeoutMS) * time.Millisecond
	if maxWait := s.cfg.Scraper.MaxTimeout(); wait > maxWait {
		wait = maxWait
	}
	return wait, nil
}

// resolveArchiveService maps the caller's service name onto the one provider
// that is wired. "auto" and "archive_today" are aliases of archive.today's
// archive_is endpoint.
func resolveArchiveService(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto", "archive_is", "archive_today":
		return "archive_is", nil
	default:
		return "", fmt.Errorf("unknown archive service %q", name)
	}
}

func writeOutcome(w http.ResponseWriter, out scrape.Outcome) {
	if !out.Succeeded() {
		status := statusForKind(out.Err.Kind)
		writeJSON(w, status, scrapeResponse{
			URL:  out.URL,
			Data: map[string]string{},
			Meta: responseMeta{
				Status:       status,
				DurationMS:   out.Duration.Milliseconds(),
				ErrorType:    out.Err.Code,
				ErrorMessage: out.Err.Message,
			},
		})
		return
	}

	data := make(map[string]string, len(out.Fields))
	sources := make(map[string]string, len(out.Fields))
	for name, field := range out.Fields {
		data[name] = field.Value
		sources[name] = string(field.Source)
	}
	writeJSON(w, http.StatusOK, scrapeResponse{
		URL:        out.URL,
		ArchiveURL: out.ArchiveURL,
		Data:       data,
		Meta: responseMeta{
			Status:       http.StatusOK,
			DurationMS:   out.Duration.Milliseconds(),
			FieldSources: sources,
		},
	})
}

func statusForKind(kind scrape.ErrorKind) int {
	switch kind {
	case scrape.KindTimeout:
		return http.StatusRequestTimeout
	case scrape.KindAnomalyDetected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, url string, status int, errorType, message string, duration time.Duration) {
	writeJSON(w, status, scrapeResponse{
		URL:  url,
		Data: map[string]string{},
		Meta: responseMeta{
			Status:       status,
			DurationMS:   duration.Milliseconds(),
			ErrorType:    errorType,
			ErrorMessage: message,
		},
	})
}
