package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// RequestError is the JSON error shape shared with middleware responses.
type RequestError struct {
	Status  int    `json:"status"`
	Message string `json:"error"`
}

func (e RequestError) Error() string {
	return e.Message
}

// ValidationError builds a 400 RequestError.
func ValidationError(message string) RequestError {
	return RequestError{Status: http.StatusBadRequest, Message: message}
}

// NotFoundError builds a 404 RequestError.
func NotFoundError(message string) RequestError {
	return RequestError{Status: http.StatusNotFound, Message: message}
}

// ConflictError builds a 409 RequestError.
func ConflictError(message string) RequestError {
	return RequestError{Status: http.StatusConflict, Message: message}
}

// ServiceUnavailableError builds a 503 RequestError.
func ServiceUnavailableError(message string) RequestError {
	return RequestError{Status: http.StatusServiceUnavailable, Message: message}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteJSON is an exported helper for emitting JSON responses.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	writeJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// WriteError is an exported helper for returning JSON API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err.Error())
}

// WriteRequestError emits a RequestError with its embedded status code.
func WriteRequestError(w http.ResponseWriter, err RequestError) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeError(w, status, err.Message)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}
