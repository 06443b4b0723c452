package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/authgate"
)

const (
	msgEmailExists        = "Email already exists"
	msgInvalidRequest     = "Invalid request"
	msgInvalidCredentials = "Invalid credentials"
	msgInvalidRefresh     = "Invalid refresh token"
	msgInternal           = "Internal server error"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps an engine error onto the response. Only the fixed messages
// above are ever sent; the underlying error is logged for 5xx.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, authgate.ErrEmailExists):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgEmailExists})
	case errors.Is(err, authgate.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidRequest})
	case errors.Is(err, authgate.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgInvalidCredentials})
	case authgate.IsAuthError(err):
		logger.DebugContext(r.Context(), "token rejected", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msgInvalidRefresh})
	default:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternal})
	}
}
