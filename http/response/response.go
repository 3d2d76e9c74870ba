// Package response provides the JSON response helpers shared by every HTTP
// handler.
package response

import (
	"encoding/json"
	"net/http"
)

// RespondJSON writes v as a JSON body with status.
func RespondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RespondMessage writes {"message": msg} with status.
func RespondMessage(w http.ResponseWriter, status int, msg string) {
	RespondJSON(w, status, map[string]string{"message": msg})
}

// RespondError writes {"error": err.Error()} with status.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondJSON(w, status, map[string]string{"error": err.Error()})
}
