package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"livecode-sandbox/internal/app"
	"livecode-sandbox/internal/executor"
	"livecode-sandbox/internal/hooks"
	"livecode-sandbox/internal/runtime"
	"livecode-sandbox/internal/storage"
)

type Handlers struct {
	app *app.App
}

func NewHandlers(a *app.App) *Handlers {
	return &Handlers{app: a}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return false
	}
	return true
}

func (req ExecuteRequest) toExecutor(r *http.Request) executor.Request {
	return executor.Request{
		Code:      req.Code,
		Language:  runtime.Language(req.Language),
		Input:     req.Input,
		Timeout:   req.Timeout,
		SessionID: req.SessionID,
		RequestIP: r.RemoteAddr,
	}
}

// HandleExecute runs code synchronously. With a session_id the run is also
// reported to that session's connections and feeds the hooks.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Language == "" {
		writeError(w, "language is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	var result *executor.Result
	if req.SessionID != "" {
		result = h.app.Live.Run(r.Context(), req.toExecutor(r))
	} else {
		result = h.app.Orchestrator.Execute(r.Context(), req.toExecutor(r))
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) HandleExecuteStream(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Language == "" {
		writeError(w, "language is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	events, ok := newEventStream(w)
	if !ok {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	result := h.app.Orchestrator.ExecuteStreaming(r.Context(), req.toExecutor(r), events.output("stdout"), events.output("stderr"))
	if err := events.done(result); err != nil {
		log.Warn().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("stream result not delivered")
	}
}

// HandleValidate reports every issue without running the code.
func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	lang, err := runtime.ParseLanguage(req.Language)
	if err != nil {
		writeError(w, err.Error(), "UNSUPPORTED_LANGUAGE", http.StatusBadRequest, r)
		return
	}

	ok, issues := h.app.Languages.Validate(req.Code, lang)
	resp := ValidateResponse{
		Valid:    ok,
		Language: string(lang),
		Errors:   []runtime.Issue{},
		Warnings: []runtime.Issue{},
	}
	for _, is := range issues {
		if is.Severity == runtime.SeverityError {
			resp.Errors = append(resp.Errors, is)
		} else {
			resp.Warnings = append(resp.Warnings, is)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func summarize(cfg *runtime.Config) LanguageSummary {
	return LanguageSummary{
		Name:        string(cfg.Language),
		DisplayName: cfg.DisplayName,
		Extension:   cfg.Extension,
		Timeout:     int(cfg.Timeout / time.Second),
		MemoryLimit: cfg.MemoryLimit(),
		FilePattern: cfg.FilePatterns,
	}
}

func (h *Handlers) HandleLanguages(w http.ResponseWriter, r *http.Request) {
	langs := h.app.Languages.Languages()
	resp := LanguagesResponse{Languages: make([]LanguageSummary, 0, len(langs))}
	for _, l := range langs {
		cfg, err := h.app.Languages.Get(l)
		if err != nil {
			continue
		}
		resp.Languages = append(resp.Languages, summarize(cfg))
	}
	resp.Count = len(resp.Languages)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleLanguage(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.Languages.Lookup(r.PathValue("language"))
	if err != nil {
		writeError(w, err.Error(), "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	writeJSON(w, http.StatusOK, LanguageDetail{
		LanguageSummary: summarize(cfg),
		Template:        cfg.Template,
		Examples:        cfg.Examples,
	})
}

func (h *Handlers) HandleDetect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Filename == "" && req.Content == "" {
		writeError(w, "filename or content is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	resp := DetectResponse{}
	if req.Filename != "" {
		if l, ok := h.app.Languages.DetectFromFilename(req.Filename); ok {
			resp = DetectResponse{Language: string(l), Detected: true, Method: "filename"}
		}
	}
	if !resp.Detected && req.Content != "" {
		if l, ok := h.app.Languages.DetectFromContent(req.Content); ok {
			resp = DetectResponse{Language: string(l), Detected: true, Method: "content"}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandleHookStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Hooks.Statistics())
}

func (h *Handlers) HandleHookHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := hooks.Filter{SessionID: q.Get("session_id")}
	if t := q.Get("event_type"); t != "" {
		et, err := hooks.ParseEventType(t)
		if err != nil {
			writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		f.EventType = et
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, "limit must be a positive integer", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		f.Limit = n
	}

	execs := h.app.Hooks.History(f)
	writeJSON(w, http.StatusOK, HookHistoryResponse{Executions: execs, Count: len(execs)})
}

func (h *Handlers) HandleClearHookHistory(w http.ResponseWriter, r *http.Request) {
	n := h.app.Hooks.Clear()
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *Handlers) HandleHookToggle(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := hooks.ParseEventType(r.PathValue("type"))
		if err != nil {
			writeError(w, err.Error(), "NOT_FOUND", http.StatusNotFound, r)
			return
		}
		if enable {
			err = h.app.Hooks.Enable(t)
		} else {
			err = h.app.Hooks.Disable(t)
		}
		if err != nil {
			writeError(w, err.Error(), "INTERNAL", http.StatusInternalServerError, r)
			return
		}
		log.Info().Str("event_type", string(t)).Bool("enabled", enable).Msg("hook toggled")
		writeJSON(w, http.StatusOK, HookResponse{EventType: string(t), Enabled: &enable})
	}
}

// HandleOnSave triggers the on_save hook and waits for the reaction.
func (h *Handlers) HandleOnSave(w http.ResponseWriter, r *http.Request) {
	var req OnSaveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, "session_id is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	resp, err := h.app.Hooks.OnSave(r.Context(), req.SessionID, req.Code, req.Language, req.Filename)
	switch {
	case errors.Is(err, hooks.ErrHookDisabled):
		writeError(w, err.Error(), "HOOK_DISABLED", http.StatusConflict, r)
		return
	case err != nil:
		writeError(w, err.Error(), "HOOK_FAILED", http.StatusBadGateway, r)
		return
	}
	writeJSON(w, http.StatusOK, HookResponse{EventType: string(hooks.OnSave), Response: resp})
}

func (h *Handlers) HandleWSStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Router.Stats())
}

func (h *Handlers) HandleSessionConnections(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	n := h.app.Connections.SessionConnectionCount(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":       id,
		"connection_count": n,
		"is_active":        n > 0,
	})
}

func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	if h.app.DB == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	exec, err := h.app.DB.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.app.DB == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	q := r.URL.Query()
	filter := storage.ExecutionFilter{
		SessionID: q.Get("session_id"),
		Language:  q.Get("language"),
		Status:    q.Get("status"),
		Limit:     100,
	}
	execs, err := h.app.DB.ListExecutions(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("listing executions")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	writeJSON(w, status, ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
