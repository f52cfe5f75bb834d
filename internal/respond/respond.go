// Package respond writes the JSON envelope shared by every API handler.
package respond

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the failure envelope: {success:false, message, error?}.
type ErrorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func Error(w http.ResponseWriter, status int, message, detail string) error {
	return JSON(w, status, ErrorBody{Success: false, Message: message, Error: detail})
}

func Decode(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
