// Copyright 2025 Certen Protocol
//
// Package httpapi is the coordinator's and synchronizer's HTTP read/write
// surface: a plain http.ServeMux per binary, handler methods using manual
// path parsing rather than a router library.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
)

// maxBodyBytes caps a request body so a malicious or buggy client can't
// exhaust memory decoding it.
const maxBodyBytes = 16 * 1024

func writeJSON(w http.ResponseWriter, logger *log.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Printf("error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, logger *log.Logger, status int, code, message string) {
	writeJSON(w, logger, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// decodeJSON decodes r's body into v, capping it at maxBodyBytes and
// rejecting unknown fields so malformed bodies fail fast and synchronously,
// before any queue entry is created.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
