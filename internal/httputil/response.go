// Package httputil holds the JSON response helpers shared by the API handlers
// and the small client used to post frames to a running locator.
package httputil

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorBody is the shape of every error response. DoJSON decodes it back
// into a StatusError.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON sets the status and encodes data. Encoding failures can only be
// logged since the header is already out.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("encode %d response: %v", status, err)
	}
}

func WriteJSONOK(w http.ResponseWriter, data interface{}) { WriteJSON(w, http.StatusOK, data) }

func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}

func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}

// Unauthorized adds a bearer challenge for realm.
func Unauthorized(w http.ResponseWriter, realm, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+realm+`"`)
	WriteJSONError(w, http.StatusUnauthorized, msg)
}
