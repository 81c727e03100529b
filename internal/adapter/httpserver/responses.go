// Package httpserver contains HTTP handlers and middleware.
//
// It provides the admin/ops HTTP endpoints (health, readiness, metrics,
// audit introspection); script evaluation does not go through it.
// The package follows clean architecture principles and provides
// a clear separation between HTTP concerns and business logic.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/graphscript/evalserver/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrMalformedRequest):
		code = http.StatusBadRequest
		codeStr = "MALFORMED_REQUEST"
	case errors.Is(err, domain.ErrInvalidArguments):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENTS"
	case errors.Is(err, domain.ErrEvaluationTimeout), errors.Is(err, domain.ErrStreamingTimeout):
		code = http.StatusGatewayTimeout
		codeStr = "TIMEOUT"
	case errors.Is(err, domain.ErrScriptEvaluation):
		code = http.StatusUnprocessableEntity
		codeStr = "SCRIPT_EVALUATION"
	case errors.Is(err, domain.ErrSerialization):
		code = http.StatusInternalServerError
		codeStr = "SERIALIZATION"
	case errors.Is(err, domain.ErrInterrupted):
		code = http.StatusServiceUnavailable
		codeStr = "INTERRUPTED"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}
