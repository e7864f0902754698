// Package control exposes the supervisor over NATS: request/reply subjects
// for the operator surface and a JetStream stream of task lifecycle events.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/macomeau/Artifacts-sub001/internal/model"
	"github.com/macomeau/Artifacts-sub001/internal/supervisor"
)

const (
	eventStreamName    = "TASK_EVENTS"
	eventSubjectPrefix = "task.event."

	SubjectStart   = "tasks.start"
	SubjectStop    = "tasks.stop"
	SubjectRestart = "tasks.restart"
	SubjectList    = "tasks.list"
	SubjectClear   = "tasks.clear"
	SubjectLogs    = "tasks.logs"

	eventStreamMaxAge = 24 * time.Hour
	requestTimeout    = 30 * time.Second
)

// Service wires control subjects to the supervisor.
type Service struct {
	logger *zap.Logger
	nc     *nats.Conn
	js     nats.JetStreamContext
	sup    *supervisor.Supervisor
	subs   []*nats.Subscription
}

// NewService creates the control service.
func NewService(nc *nats.Conn, js nats.JetStreamContext, sup *supervisor.Supervisor, logger *zap.Logger) *Service {
	return &Service{
		logger: logger.Named("control"),
		nc:     nc,
		js:     js,
		sup:    sup,
	}
}

// Start creates the event stream, registers the event sink, and subscribes
// the request handlers.
func (s *Service) Start(ctx context.Context) error {
	_, err := s.js.StreamInfo(eventStreamName)
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to get stream info: %w", err)
		}
		_, err = s.js.AddStream(&nats.StreamConfig{
			Name:     eventStreamName,
			Subjects: []string{eventSubjectPrefix + "*"},
			Storage:  nats.FileStorage,
			MaxAge:   eventStreamMaxAge,
		})
		if err != nil {
			return fmt.Errorf("failed to create event stream: %w", err)
		}
		s.logger.Info("Created event stream", zap.String("stream", eventStreamName))
	}

	s.sup.SetEventSink(s.publishEvent)

	handlers := map[string]nats.MsgHandler{
		SubjectStart:   s.handleStart,
		SubjectStop:    s.handleStop,
		SubjectRestart: s.handleRestart,
		SubjectList:    s.handleList,
		SubjectClear:   s.handleClear,
		SubjectLogs:    s.handleLogs,
	}
	for subject, handler := range handlers {
		sub, err := s.nc.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Stop unsubscribes the request handlers.
func (s *Service) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

// StartRequest asks the supervisor to run a worker.
type StartRequest struct {
	Worker string   `json:"worker"`
	Args   []string `json:"args"`
}

// StartResponse carries the task identity, or an error.
type StartResponse struct {
	TaskID int64  `json:"task_id,omitempty"`
	Handle string `json:"handle,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HandleRequest addresses a worker by its stable handle.
type HandleRequest struct {
	Handle string `json:"handle"`
}

// AckResponse acknowledges a stop or clear.
type AckResponse struct {
	OK      bool   `json:"ok"`
	Cleared int    `json:"cleared,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ListResponse is the merged worker view.
type ListResponse struct {
	Workers []model.WorkerInfo `json:"workers"`
	Error   string             `json:"error,omitempty"`
}

// LogsResponse returns a worker's recent output lines.
type LogsResponse struct {
	Lines []string `json:"lines"`
	Error string   `json:"error,omitempty"`
}

func (s *Service) handleStart(msg *nats.Msg) {
	var req StartRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, StartResponse{Error: "malformed start request"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	result, err := s.sup.Start(ctx, req.Worker, req.Args)
	if err != nil {
		s.respond(msg, StartResponse{Error: err.Error()})
		return
	}
	s.respond(msg, StartResponse{TaskID: result.TaskID, Handle: result.Handle})
}

func (s *Service) handleStop(msg *nats.Msg) {
	var req HandleRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, AckResponse{Error: "malformed stop request"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := s.sup.Stop(ctx, req.Handle); err != nil {
		s.respond(msg, AckResponse{Error: err.Error()})
		return
	}
	s.respond(msg, AckResponse{OK: true})
}

func (s *Service) handleRestart(msg *nats.Msg) {
	var req HandleRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, StartResponse{Error: "malformed restart request"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	result, err := s.sup.Restart(ctx, req.Handle)
	if err != nil {
		s.respond(msg, StartResponse{Error: err.Error()})
		return
	}
	s.respond(msg, StartResponse{TaskID: result.TaskID, Handle: result.Handle})
}

func (s *Service) handleList(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	workers, err := s.sup.List(ctx)
	if err != nil {
		s.respond(msg, ListResponse{Error: err.Error()})
		return
	}
	s.respond(msg, ListResponse{Workers: workers})
}

func (s *Service) handleClear(msg *nats.Msg) {
	s.respond(msg, AckResponse{OK: true, Cleared: s.sup.ClearStopped()})
}

func (s *Service) handleLogs(msg *nats.Msg) {
	var req HandleRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respond(msg, LogsResponse{Error: "malformed logs request"})
		return
	}

	lines, err := s.sup.Logs(req.Handle)
	if err != nil {
		s.respond(msg, LogsResponse{Error: err.Error()})
		return
	}
	s.respond(msg, LogsResponse{Lines: lines})
}

func (s *Service) respond(msg *nats.Msg, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal response", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error("Failed to respond", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// publishEvent writes a lifecycle event to the event stream.
func (s *Service) publishEvent(event model.TaskEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}
	if _, err := s.js.Publish(eventSubjectPrefix+string(event.State), data); err != nil {
		s.logger.Error("Failed to publish event",
			zap.Int64("task_id", event.TaskID),
			zap.Error(err))
	}
}
