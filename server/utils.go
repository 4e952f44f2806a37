// Generic HTTP utilities.

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aigentx/gateway/server/logs"
)

// Error response of the HTTP endpoints.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(wrt http.ResponseWriter, status int, v any) {
	wrt.Header().Set("Content-Type", "application/json; charset=utf-8")
	wrt.WriteHeader(status)
	if err := json.NewEncoder(wrt).Encode(v); err != nil {
		logs.Warn.Println("http: failed to write response", err)
	}
}

func writeError(wrt http.ResponseWriter, status int, text string) {
	writeJSON(wrt, status, &errorResponse{Error: text})
}

// readBody reads the request body up to the configured message size limit.
func readBody(req *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, globals.maxMessageSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > globals.maxMessageSize {
		return nil, errors.New("request body too large")
	}
	return body, nil
}

// decodeBody parses the JSON request body into v.
func decodeBody(req *http.Request, v any) error {
	body, err := readBody(req)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
