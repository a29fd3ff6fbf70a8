// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package server

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"sqlgate/cli/internal/adapter"
	apperrors "sqlgate/cli/internal/errors"
	"sqlgate/cli/internal/logging"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeExecution      = -32000
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  []adapter.Row   `json:"result"`
}

type rpcFailure struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   rpcError        `json:"error"`
}

var nullID = json.RawMessage("null")

func failure(id json.RawMessage, code int, msg string) rpcFailure {
	if len(id) == 0 {
		id = nullID
	}
	return rpcFailure{JSONRPC: "2.0", ID: id, Error: rpcError{Code: code, Message: msg}}
}

// CodeFor maps an error kind to a JSON-RPC error code.
func CodeFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.QueryNotFound:
		return CodeMethodNotFound
	case apperrors.InvalidParameters:
		return CodeInvalidParams
	}
	return CodeExecution
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", s.logger.Args("error", err.Error()))
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	s.logger.Debug("websocket session opened", s.logger.Args("remote", r.RemoteAddr))

	// One writer at a time: replies and pings go through out.
	out := make(chan []byte, 16)
	done := make(chan struct{})
	go s.writeLoop(conn, out, done, cancel)

	conn.SetReadLimit(maxBody)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", s.logger.Args("error", err.Error()))
			}
			break
		}
		reply := s.dispatch(ctx, frame)
		if reply == nil {
			continue
		}
		select {
		case out <- reply:
		case <-done:
		}
	}
	close(out)
	<-done
	s.logger.Debug("websocket session closed", s.logger.Args("remote", r.RemoteAddr))
}

func (s *Server) writeLoop(conn *websocket.Conn, out <-chan []byte, done chan<- struct{}, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		_ = conn.Close()
		close(done)
	}()
	for {
		select {
		case msg, ok := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closing:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

// dispatch handles one frame, which may be a single request or a batch.
// It returns nil when nothing should be sent back.
func (s *Server) dispatch(ctx context.Context, frame []byte) []byte {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return mustMarshal(failure(nil, CodeParseError, "parse error"))
		}
		if len(batch) == 0 {
			return mustMarshal(failure(nil, CodeInvalidRequest, "empty batch"))
		}
		var replies []any
		for _, raw := range batch {
			if reply := s.call(ctx, raw); reply != nil {
				replies = append(replies, reply)
			}
		}
		if len(replies) == 0 {
			return nil
		}
		return mustMarshal(replies)
	}
	reply := s.call(ctx, trimmed)
	if reply == nil {
		return nil
	}
	return mustMarshal(reply)
}

// call runs one request. Notifications (no id) run but produce no reply.
func (s *Server) call(ctx context.Context, raw []byte) any {
	var req rpcRequest
	if !json.Valid(raw) {
		return failure(nil, CodeParseError, "parse error")
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return failure(nil, CodeInvalidRequest, "invalid request")
	}
	notification := len(req.ID) == 0
	if req.JSONRPC != "2.0" || req.Method == "" {
		if notification {
			return nil
		}
		return failure(req.ID, CodeInvalidRequest, "invalid request")
	}

	params, err := rpcParams(req.Params)
	if err != nil {
		if notification {
			return nil
		}
		return failure(req.ID, CodeInvalidParams, publicMessage(err))
	}

	rows, err := s.exec.ExecuteNamedQuery(ctx, req.Method, params)
	if notification {
		if err != nil {
			s.logger.Debug("notification failed", s.logger.Args("method", req.Method, "error", logging.Err(err)))
		}
		return nil
	}
	if err != nil {
		if CodeFor(err) == CodeExecution {
			s.logger.Error("rpc call failed", s.logger.Args("method", req.Method, "error", logging.Err(err)))
		}
		return failure(req.ID, CodeFor(err), publicMessage(err))
	}
	if rows == nil {
		rows = []adapter.Row{}
	}
	return rpcResult{JSONRPC: "2.0", ID: req.ID, Result: rows}
}

func rpcParams(raw json.RawMessage) (adapter.Params, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, nullID) {
		return nil, nil
	}
	if trimmed[0] != '{' {
		return nil, apperrors.New(apperrors.InvalidParameters, "params must be an object of named parameters")
	}
	return decodeObject(trimmed)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(failure(nil, CodeExecution, "cannot encode response"))
	}
	return b
}
