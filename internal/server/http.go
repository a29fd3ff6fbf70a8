// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"sqlgate/cli/internal/adapter"
	apperrors "sqlgate/cli/internal/errors"
	"sqlgate/cli/internal/logging"

	"github.com/goccy/go-json"
)

// maxBody bounds request bodies and WebSocket frames.
const maxBody = 1 << 20

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// QueryName maps a request path below the API prefix to a query name:
// segments are joined with '_', so /api/users/by_email runs users_by_email.
func QueryName(path string) string {
	var parts []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "_")
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := QueryName(r.PathValue("name"))
	if name == "" {
		s.writeError(w, apperrors.New(apperrors.QueryNotFound, "no query name in path"))
		return
	}

	params, err := requestParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rows, err := s.exec.ExecuteNamedQuery(r.Context(), name, params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

// requestParams merges URL query values with a JSON object body; body keys
// win. Repeated query keys become a list.
func requestParams(r *http.Request) (adapter.Params, error) {
	params := queryParams(r.URL.Query())

	if r.Method != http.MethodPost || r.Body == nil {
		return params, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.InvalidParameters, "cannot read request body", err)
	}
	if len(body) > maxBody {
		return nil, apperrors.New(apperrors.InvalidParameters, "request body too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return params, nil
	}
	fromBody, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	for k, v := range fromBody {
		params[k] = v
	}
	return params, nil
}

func queryParams(values url.Values) adapter.Params {
	params := make(adapter.Params, len(values))
	for k, vs := range values {
		switch len(vs) {
		case 0:
		case 1:
			params[k] = vs[0]
		default:
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			params[k] = list
		}
	}
	return params
}

// decodeObject decodes a JSON object keeping numbers as json.Number.
func decodeObject(raw []byte) (adapter.Params, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, apperrors.Wrap(apperrors.InvalidParameters, "parameters must be a JSON object", err)
	}
	if obj == nil {
		return adapter.Params{}, nil
	}
	return adapter.Params(obj), nil
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.QueryNotFound:
		return http.StatusNotFound
	case apperrors.InvalidParameters:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	kind := string(apperrors.KindOf(err))
	if kind == "" {
		kind = string(apperrors.ExecutionFailed)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", s.logger.Args("error", logging.Err(err)))
	}
	writeJSON(w, status, map[string]any{"error": errorBody{Kind: kind, Message: publicMessage(err)}})
}

// publicMessage is the masked message of err without its kind prefix.
func publicMessage(err error) string {
	var e *apperrors.E
	if errors.As(err, &e) {
		msg := e.Message
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return logging.Mask(msg)
	}
	return logging.Mask(err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":{"kind":"execution_failed","message":"cannot encode response"}}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}
