package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/a2a"
	"github.com/haricheung/thor-planner/internal/bus"
	"github.com/haricheung/thor-planner/internal/messenger"
)

// sseWriter writes JSON-RPC responses as server-sent events.
type sseWriter struct {
	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
	id json.RawMessage
}

func (s *sseWriter) send(result any) error {
	data, err := json.Marshal(a2a.Result(s.id, result))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.rc.Flush()
}

// handleStream answers message/stream with, in order: the submitted Task,
// a working status, one working status per stage (and per failed planner
// attempt), the Actions artifact when there is one, and a final status.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, req a2a.Request) {
	params, rpcErr := decodeSendParams(req)
	if rpcErr != nil {
		writeJSON(w, http.StatusOK, a2a.ErrorResponse(req.ID, rpcErr))
		return
	}
	taskID, contextID := ids(params.Message)
	in := messenger.Decode(params.Message)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	out := &sseWriter{w: w, rc: http.NewResponseController(w), id: req.ID}

	logger := s.logger.With(zap.String("task", taskID))
	logger.Info("stream opened", zap.Bool("batch", in.Batch), zap.Int("trials", len(in.Trials)))

	if err := out.send(messenger.SubmittedTask(taskID, contextID, params.Message)); err != nil {
		logger.Info("stream write failed", zap.Error(err))
		return
	}
	_ = out.send(messenger.WorkingEvent(taskID, contextID))

	var forward sync.WaitGroup
	subscribe := func(b *bus.Bus) {
		msgs := b.SubscribeAll()
		forward.Add(1)
		go func() {
			defer forward.Done()
			for msg := range msgs {
				if r.Context().Err() != nil {
					continue
				}
				if ev, ok := messenger.StageEvent(taskID, contextID, msg); ok {
					_ = out.send(ev)
				}
			}
		}()
	}

	reply := s.plan(r.Context(), in, taskID, contextID, subscribe)
	forward.Wait()

	if r.Context().Err() != nil {
		logger.Info("caller went away, dropping reply")
		return
	}
	if ev, ok := reply.ArtifactEvent(taskID, contextID); ok {
		_ = out.send(ev)
	}
	_ = out.send(reply.FinalEvent(taskID, contextID))
	logger.Info("stream closed", zap.String("state", string(reply.State)))
}
