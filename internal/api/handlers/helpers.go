package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// RefreshTokenHeader tells clients their cached credentials may no longer
// reflect the grant state and should be refreshed.
const RefreshTokenHeader = "X-Refresh-Token"

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// markTokenRefresh sets the refresh header on grant-changing responses.
func markTokenRefresh(w http.ResponseWriter) {
	w.Header().Set(RefreshTokenHeader, "true")
}

// contextWithTimeout derives a bounded context from the request.
func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
