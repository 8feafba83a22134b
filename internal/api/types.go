package api

import (
	"livecode-sandbox/internal/hooks"
	"livecode-sandbox/internal/runtime"
)

// ExecuteRequest is the body of POST /execute and POST /execute/stream.
type ExecuteRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input,omitempty"`
	// Timeout is in seconds, 1-300; 0 selects the configured default.
	Timeout   int    `json:"timeout,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ValidateRequest is the body of POST /validate.
type ValidateRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type ValidateResponse struct {
	Valid    bool            `json:"valid"`
	Language string          `json:"language"`
	Errors   []runtime.Issue `json:"errors"`
	Warnings []runtime.Issue `json:"warnings"`
}

// LanguageSummary is one entry of GET /languages.
type LanguageSummary struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Extension   string   `json:"extension"`
	Timeout     int      `json:"timeout"`
	MemoryLimit string   `json:"memory_limit"`
	FilePattern []string `json:"file_patterns"`
}

type LanguagesResponse struct {
	Languages []LanguageSummary `json:"languages"`
	Count     int               `json:"count"`
}

// LanguageDetail is GET /languages/{language}.
type LanguageDetail struct {
	LanguageSummary
	Template string            `json:"template"`
	Examples []runtime.Example `json:"examples"`
}

// DetectRequest is the body of POST /languages/detect. Filename wins over
// content when both are given and the filename matches.
type DetectRequest struct {
	Filename string `json:"filename,omitempty"`
	Content  string `json:"content,omitempty"`
}

type DetectResponse struct {
	Language string `json:"language,omitempty"`
	Detected bool   `json:"detected"`
	Method   string `json:"method,omitempty"`
}

// OnSaveRequest is the body of POST /hooks/on_save.
type OnSaveRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
	Language  string `json:"language"`
	Filename  string `json:"filename"`
}

type HookResponse struct {
	EventType string `json:"event_type"`
	Response  string `json:"response,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

type HookHistoryResponse struct {
	Executions []hooks.Execution `json:"executions"`
	Count      int               `json:"count"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	Backend     string `json:"backend"`
	Database    bool   `json:"database"`
	Redis       bool   `json:"redis"`
	Assistant   bool   `json:"assistant"`
	Connections int    `json:"connections"`
	Uptime      string `json:"uptime"`
}
