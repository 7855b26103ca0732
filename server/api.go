package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lexcodex/gradscout/agents"
	"github.com/lexcodex/gradscout/framework"
	"github.com/lexcodex/gradscout/persistence"
)

// APIServer exposes the advisor over HTTP.
type APIServer struct {
	Advisor *agents.Advisor
	// Credentials are used when a request carries none of its own.
	Credentials     framework.Credentials
	Logger          *zap.Logger
	ShutdownTimeout time.Duration
	// RunTimeout bounds a whole streamed run.
	RunTimeout time.Duration
	// MaxDocumentBytes caps the decoded document of a run request; the body
	// limit is its base64 size plus room for the profile. Defaults to 20 MiB.
	MaxDocumentBytes int64
}

const (
	defaultMaxDocumentBytes = 20 << 20
	maxProfileBytes         = 1 << 20
)

// RunRequest is the body of POST /api/runs. Document is a base64 encoded
// PDF.
type RunRequest struct {
	Profile       string `json:"profile"`
	Document      []byte `json:"document,omitempty"`
	GenerationKey string `json:"generation_key,omitempty"`
	SearchKey     string `json:"search_key,omitempty"`
}

// StreamRecord is one NDJSON line of a streamed run.
type StreamRecord struct {
	Type           string                    `json:"type"`
	Stage          *framework.StageResult    `json:"stage,omitempty"`
	Recommendation *framework.Recommendation `json:"recommendation,omitempty"`
}

// QuestionRequest is the body of POST /api/runs/{id}/questions.
type QuestionRequest struct {
	Question      string `json:"question"`
	GenerationKey string `json:"generation_key,omitempty"`
}

// QuestionResponse carries a follow-up answer.
type QuestionResponse struct {
	RunID  string `json:"run_id"`
	Answer string `json:"answer"`
}

// RunResponse is the body of GET /api/runs/{id}.
type RunResponse struct {
	Run            *framework.PipelineRun   `json:"run"`
	Recommendation framework.Recommendation `json:"recommendation"`
	History        []persistence.Exchange   `json:"history"`
}

// ErrorResponse is returned for every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	logger := s.logger()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Handler returns the API routes.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("POST /api/runs/{id}/questions", s.handleQuestion)
	mux.HandleFunc("GET /api/stages", s.handleStages)
	return mux
}

func (s *APIServer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *APIServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.runBodyLimit())).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				Kind:  "validation",
			})
			return
		}
		writeError(w, &framework.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	req := agents.Request{
		Profile: body.Profile,
		Credentials: framework.Credentials{
			GenerationKey: firstNonEmpty(body.GenerationKey, s.Credentials.GenerationKey),
			SearchKey:     firstNonEmpty(body.SearchKey, s.Credentials.SearchKey),
		},
	}
	if len(body.Document) > 0 {
		req.Document = bytes.NewReader(body.Document)
	}

	ctx := r.Context()
	if s.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.RunTimeout)
		defer cancel()
	}
	events, err := s.Advisor.Stream(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	for ev := range events {
		record := StreamRecord{Type: "stage", Stage: ev.Stage}
		if ev.Final != nil {
			record = StreamRecord{Type: "final", Recommendation: ev.Final}
		}
		if err := enc.Encode(record); err != nil {
			s.logger().Debug("stream client went away", zap.Error(err))
			continue
		}
		_ = rc.Flush()
	}
}

func (s *APIServer) runBodyLimit() int64 {
	doc := s.MaxDocumentBytes
	if doc <= 0 {
		doc = defaultMaxDocumentBytes
	}
	return int64(base64.StdEncoding.EncodedLen(int(doc))) + maxProfileBytes
}

func (s *APIServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	list, err := s.Advisor.Store().List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []persistence.RunSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *APIServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, ok, err := s.Advisor.Run(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "run not found"})
		return
	}
	history, err := s.Advisor.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []persistence.Exchange{}
	}
	writeJSON(w, http.StatusOK, RunResponse{
		Run:            run,
		Recommendation: framework.BuildRecommendation(run),
		History:        history,
	})
}

func (s *APIServer) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.Advisor.Store().Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleQuestion(w http.ResponseWriter, r *http.Request) {
	var body QuestionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, &framework.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	id := r.PathValue("id")
	creds := framework.Credentials{
		GenerationKey: firstNonEmpty(body.GenerationKey, s.Credentials.GenerationKey),
		SearchKey:     s.Credentials.SearchKey,
	}
	answer, err := s.Advisor.AskWithCredentials(r.Context(), creds, id, body.Question)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuestionResponse{RunID: id, Answer: answer})
}

func (s *APIServer) handleStages(w http.ResponseWriter, r *http.Request) {
	graph := s.Advisor.Pipeline().Graph()
	if r.URL.Query().Get("format") == "dot" {
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		if err := graph.WriteDOT(w); err != nil {
			s.logger().Warn("dot export failed", zap.Error(err))
		}
		return
	}
	set := s.Advisor.StageSet()
	stages := make([]map[string]interface{}, 0, len(set.Stages))
	for _, st := range s.Advisor.Pipeline().Stages() {
		stages = append(stages, map[string]interface{}{
			"name":         st.Name(),
			"title":        st.Title(),
			"consumes":     st.Consumes(),
			"needs_search": st.NeedsSearch(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":     set.Name,
		"required": s.Advisor.Pipeline().Required(),
		"order":    graph.Order(),
		"stages":   stages,
	})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	var (
		validation *framework.ValidationError
		extraction *framework.ExtractionError
		state      *framework.StateError
		tool       *framework.ToolError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &extraction):
		return http.StatusUnprocessableEntity, "extraction"
	case errors.As(err, &state):
		return http.StatusConflict, "state"
	case errors.As(err, &tool):
		if tool.Kind == framework.KindTimeout {
			return http.StatusGatewayTimeout, string(tool.Kind)
		}
		return http.StatusBadGateway, string(tool.Kind)
	case errors.Is(err, persistence.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
