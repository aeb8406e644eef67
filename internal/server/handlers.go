package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/pyexec/internal/executor"
	"github.com/michaelbrown/pyexec/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// isJSON accepts application/json and any application/*+json type.
func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || (strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"))
}

// --- Response bodies ---

type successResponse struct {
	Result json.RawMessage `json:"result"`
	Stdout string          `json:"stdout"`
	RunID  string          `json:"run_id"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Type   string `json:"type"`
	Stdout string `json:"stdout"`
	RunID  string `json:"run_id,omitempty"`
}

// statusFor maps an outcome kind onto the HTTP status the API reports.
func statusFor(kind executor.Kind) int {
	switch kind {
	case executor.KindSuccess:
		return http.StatusOK
	case executor.KindApplicationError, executor.KindTimeout, executor.KindValidationError:
		return http.StatusBadRequest
	case executor.KindSandboxUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeOutcome(w http.ResponseWriter, out *executor.Outcome) {
	if out.OK() {
		writeJSON(w, http.StatusOK, successResponse{Result: out.Value, Stdout: out.Stdout, RunID: out.RunID})
		return
	}
	writeJSON(w, statusFor(out.Kind), errorResponse{
		Error:  out.Message,
		Type:   string(out.Kind),
		Stdout: out.Stdout,
		RunID:  out.RunID,
	})
}

// writeRefusal reports a script refused before launch.
func writeRefusal(w http.ResponseWriter, err error) {
	var ve *executor.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Message, Type: string(executor.KindValidationError)})
	case errors.Is(err, executor.ErrAtCapacity):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error: "Too many concurrent executions, retry later",
			Type:  "at_capacity",
		})
	default:
		writeError(w, http.StatusInternalServerError, executor.MsgInternal)
	}
}

// --- Execution ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r.Header.Get("Content-Type")) {
		writeError(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	defer r.Body.Close()

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}

	raw, ok := body["script"]
	if !ok {
		writeError(w, http.StatusBadRequest, `Request must contain "script" field`)
		return
	}
	var script string
	if err := json.Unmarshal(raw, &script); err != nil {
		verr := executor.NotStringError()
		s.runner.Reject(verr)
		writeRefusal(w, verr)
		return
	}

	out, err := s.runner.Execute(r.Context(), script)
	if err != nil {
		writeRefusal(w, err)
		return
	}
	writeOutcome(w, out)
}

// --- Service info ---

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Python Code Executor",
		"version": s.version,
		"endpoints": map[string]string{
			"/execute":       "POST - Execute Python script",
			"/health":        "GET - Health check",
			"/metrics":       "GET - Prometheus metrics",
			"/ws":            "GET - WebSocket execution",
			"/api/runs":      "GET - Execution history",
			"/api/runs/{id}": "GET - One recorded run",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sandboxState := "available"
	if err := s.runner.Check(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("sandbox check failed")
		sandboxState = "unavailable"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
		"version": s.version,
		"sandbox": sandboxState,
	})
}

// --- Run history ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "Run history is disabled")
		return
	}

	opts := storage.RunListOptions{Outcome: r.URL.Query().Get("outcome")}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			opts.Offset = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		s.log.Error().Err(err).Msg("listing runs")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if runs == nil {
		runs = []storage.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "Run history is disabled")
		return
	}

	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, storage.ErrAmbiguous):
		writeError(w, http.StatusBadRequest, "ambiguous run ID prefix")
	case err != nil:
		s.log.Error().Err(err).Msg("loading run")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, run)
	}
}
