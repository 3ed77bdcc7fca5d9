package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/dispatch"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/store"
)

// CorrelationHeader echoes request_id on every response that has one
// (§4.9: "all responses include a correlation header echoing the
// request_id when present").
const CorrelationHeader = "X-Request-Id"

type errorPayload struct {
	RequestID string    `json:"request_id,omitempty"`
	Error     errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders a dispatch.Error into the user-visible payload
// shape named in §7. Anything not already a *dispatch.Error is folded
// into INTERNAL.
func writeError(w http.ResponseWriter, requestID string, err error) {
	var dispatchErr *dispatch.Error
	if !errors.As(err, &dispatchErr) {
		dispatchErr = &dispatch.Error{Code: dispatch.CodeInternal, Message: "internal error"}
	}
	if requestID != "" {
		w.Header().Set(CorrelationHeader, requestID)
	}
	writeJSON(w, dispatchErr.HTTPStatus(), errorPayload{
		RequestID: requestID,
		Error: errorBody{
			Code:    string(dispatchErr.Code),
			Message: dispatchErr.Message,
			Details: dispatchErr.Details,
		},
	})
}

// initializeBody is the POST /initialize request body (§6).
type initializeBody struct {
	Context        map[string]any `json:"context"`
	ScriptContent  string         `json:"script_content,omitempty"`
	CompileOptions map[string]any `json:"compile_options,omitempty"`
}

// Initialize handles POST /api/v1/initialize.
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	languageTitle := r.Header.Get("Language-Title")
	if languageTitle == "" {
		writeError(w, "", &dispatch.Error{Code: dispatch.CodeInvalidRequest, Message: "Language-Title header is required"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	var body initializeBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, "", &dispatch.Error{Code: dispatch.CodeInvalidRequest, Message: "invalid JSON body", Details: err.Error()})
			return
		}
	}

	result, err := h.Engine.Initialize(r.Context(), dispatch.InitializeRequest{
		LanguageTitle:  languageTitle,
		Context:        body.Context,
		ScriptContent:  body.ScriptContent,
		CompileOptions: body.CompileOptions,
	})
	if err != nil {
		writeError(w, "", err)
		return
	}

	w.Header().Set(CorrelationHeader, result.RequestID)
	writeJSON(w, http.StatusOK, result)
}

// executeBody is the POST /execute/{request_id} request body (§6).
type executeBody struct {
	Params json.RawMessage `json:"params"`
}

// Execute handles POST /api/v1/execute/{request_id}.
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	var body executeBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, requestID, &dispatch.Error{Code: dispatch.CodeInvalidRequest, Message: "invalid JSON body", Details: err.Error()})
			return
		}
	}

	result, err := h.Engine.Execute(r.Context(), dispatch.ExecuteRequest{
		RequestID: requestID,
		Params:    body.Params,
	})
	if err != nil {
		writeError(w, requestID, err)
		return
	}

	w.Header().Set(CorrelationHeader, requestID)
	writeJSON(w, http.StatusOK, result)
}

// GetSession handles GET /api/v1/sessions/{request_id} (the
// state-query operation of §4.7).
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")

	view, err := h.Engine.StateQuery(r.Context(), requestID)
	if err != nil {
		writeError(w, requestID, err)
		return
	}

	w.Header().Set(CorrelationHeader, requestID)
	writeJSON(w, http.StatusOK, view)
}

// ListFunctions handles GET /api/v1/functions.
func (h *Handler) ListFunctions(w http.ResponseWriter, r *http.Request) {
	page := intQuery(r, "page", 1)
	perPage := intQuery(r, "per_page", 20)

	total, fns, err := h.Catalog.List(r.Context(), page, perPage)
	if err != nil {
		writeError(w, "", &dispatch.Error{Code: dispatch.CodeUpstreamUnavailable, Message: "failed to list functions", Details: err.Error()})
		return
	}
	if fns == nil {
		fns = []*domain.Function{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     total,
		"page":      page,
		"per_page":  perPage,
		"functions": fns,
	})
}

// GetFunction handles GET /api/v1/functions/{language_title}.
func (h *Handler) GetFunction(w http.ResponseWriter, r *http.Request) {
	languageTitle := r.PathValue("language_title")

	fn, err := h.Catalog.Get(r.Context(), languageTitle)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "", &dispatch.Error{Code: dispatch.CodeUnknownRuntime, Message: "unknown function", Details: languageTitle})
			return
		}
		writeError(w, "", &dispatch.Error{Code: dispatch.CodeUpstreamUnavailable, Message: "failed to get function", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

// Health handles GET /api/v1/health (liveness only, §4.9/§6).
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
