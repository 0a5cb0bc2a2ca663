package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/a2a"
	"github.com/haricheung/thor-planner/internal/messenger"
)

// handleRPC dispatches one JSON-RPC 2.0 request.
//
// Expectations:
//   - Malformed JSON → -32700
//   - Bad envelope (jsonrpc != "2.0", missing method) → -32600
//   - Unknown method → -32601
//   - Params that do not decode as the method's params → -32602
//   - tasks/get and tasks/cancel → -32001 (tasks are not kept)
//   - Protocol errors are returned with HTTP 200
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusOK, a2a.ErrorResponse(nil, a2a.NewError(a2a.CodeInvalidRequest, "Invalid Request", "request body too large")))
			return
		}
		writeJSON(w, http.StatusOK, a2a.ErrorResponse(nil, a2a.NewError(a2a.CodeParseError, "Parse error", err.Error())))
		return
	}

	var req a2a.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusOK, a2a.ErrorResponse(nil, a2a.NewError(a2a.CodeParseError, "Parse error", err.Error())))
		return
	}
	if rpcErr := req.Validate(); rpcErr != nil {
		writeJSON(w, http.StatusOK, a2a.ErrorResponse(req.ID, rpcErr))
		return
	}

	switch req.Method {
	case a2a.MethodMessageSend:
		s.handleSend(w, r, req)
	case a2a.MethodMessageStream:
		s.handleStream(w, r, req)
	case a2a.MethodTasksGet, a2a.MethodTasksCancel:
		var p a2a.TaskQueryParams
		if err := json.Unmarshal(req.Params, &p); err != nil || p.ID == "" {
			writeJSON(w, http.StatusOK, a2a.ErrorResponse(req.ID, a2a.NewError(a2a.CodeInvalidParams, "Invalid params", "params.id is required")))
			return
		}
		writeJSON(w, http.StatusOK, a2a.ErrorResponse(req.ID, a2a.NewError(a2a.CodeTaskNotFound, "Task not found", map[string]string{"id": p.ID})))
	default:
		writeJSON(w, http.StatusOK, a2a.ErrorResponse(req.ID, a2a.NewError(a2a.CodeMethodNotFound, "Method not found", req.Method)))
	}
}

func decodeSendParams(req a2a.Request) (a2a.MessageSendParams, *a2a.Error) {
	var p a2a.MessageSendParams
	if len(req.Params) == 0 {
		return p, a2a.NewError(a2a.CodeInvalidParams, "Invalid params", "params.message is required")
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return p, a2a.NewError(a2a.CodeInvalidParams, "Invalid params", err.Error())
	}
	if p.Message.MessageID == "" && len(p.Message.Parts) == 0 {
		return p, a2a.NewError(a2a.CodeInvalidParams, "Invalid params", "params.message is required")
	}
	return p, nil
}

// ids returns the task id for this request and the context id, reusing the
// caller's context when given.
func ids(msg a2a.Message) (string, string) {
	contextID := msg.ContextID
	if contextID == "" {
		contextID = uuid.New().String()
	}
	return uuid.New().String(), contextID
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, req a2a.Request) {
	params, rpcErr := decodeSendParams(req)
	if rpcErr != nil {
		writeJSON(w, http.StatusOK, a2a.ErrorResponse(req.ID, rpcErr))
		return
	}
	taskID, contextID := ids(params.Message)
	in := messenger.Decode(params.Message)
	s.logger.Info("message received",
		zap.String("task", taskID),
		zap.Bool("batch", in.Batch),
		zap.Int("trials", len(in.Trials)))

	reply := s.plan(r.Context(), in, taskID, contextID, nil)
	if r.Context().Err() != nil {
		s.logger.Info("caller went away, dropping reply", zap.String("task", taskID))
		return
	}
	writeJSON(w, http.StatusOK, a2a.Result(req.ID, reply.Task(taskID, contextID, params.Message)))
}
