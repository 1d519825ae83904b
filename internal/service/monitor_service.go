package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/exam-portal-api/internal/observability"
)

const monitorBufferSize = 32

// Lifecycle event types streamed to live monitors.
const (
	EventSubmissionStarted      = "submission.started"
	EventSubmissionSubmitted    = "submission.submitted"
	EventSubmissionDisqualified = "submission.disqualified"
	EventSubmissionGraded       = "submission.graded"
	EventViolationRecorded      = "violation.recorded"
)

// ExamEvent is a submission lifecycle change on one exam.
type ExamEvent struct {
	Type         string                 `json:"type"`
	ExamID       uint                   `json:"exam_id"`
	SubmissionID uint                   `json:"submission_id"`
	StudentID    uint                   `json:"student_id"`
	Status       string                 `json:"status,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

// EventPublisher emits lifecycle events. Publishing never fails the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event ExamEvent)
}

// MonitorService fans lifecycle events out to local subscribers and to other API nodes.
type MonitorService interface {
	EventPublisher
	Subscribe(examID uint) (<-chan ExamEvent, func())
	Start(ctx context.Context)
}

type monitorService struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	hub          *monitorHub
	nodeID       string
}

type monitorEnvelope struct {
	Source string    `json:"source"`
	Event  ExamEvent `json:"event"`
}

type monitorHub struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan ExamEvent]struct{}
}

// NewMonitorService constructs the live monitor. Redis and NATS are optional relays between nodes.
func NewMonitorService(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) MonitorService {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase
		subject = strings.ReplaceAll(channelBase, ":", ".")
	}

	return &monitorService{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "monitor_service").Logger(),
		hub:          &monitorHub{subscribers: make(map[uint]map[chan ExamEvent]struct{})},
		nodeID:       uuid.NewString(),
	}
}

func (s *monitorService) Start(ctx context.Context) {
	if s.redis != nil && s.redisChannel != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		s.consumeNATS(ctx)
	}
}

func (s *monitorService) Publish(ctx context.Context, event ExamEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	s.hub.broadcast(event)
	observability.ExamEvents().WithLabelValues(event.Type, "local").Inc()

	if err := s.relay(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("type", event.Type).Uint("exam_id", event.ExamID).Msg("failed to relay exam event")
	}
}

func (s *monitorService) Subscribe(examID uint) (<-chan ExamEvent, func()) {
	channel := make(chan ExamEvent, monitorBufferSize)
	s.hub.subscribe(examID, channel)
	observability.MonitorClientsActive().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.hub.unsubscribe(examID, channel)
			observability.MonitorClientsActive().Dec()
		})
	}
	return channel, cleanup
}

func (s *monitorService) relay(ctx context.Context, event ExamEvent) error {
	if (s.redis == nil || s.redisChannel == "") && (s.nats == nil || s.natsSubject == "") {
		return nil
	}

	payload, err := json.Marshal(monitorEnvelope{Source: s.nodeID, Event: event})
	if err != nil {
		return err
	}

	var errs []error
	if s.redis != nil && s.redisChannel != "" {
		if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *monitorService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("exam event redis subscription closed")
			return
		}
		s.handleRemote([]byte(msg.Payload))
	}
}

// consumeNATS uses a plain subscription: every node serves its own monitor clients.
func (s *monitorService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleRemote(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to exam event subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain exam event subscription")
		}
	}()
}

func (s *monitorService) handleRemote(payload []byte) {
	var envelope monitorEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid exam event payload")
		return
	}
	if envelope.Source == s.nodeID {
		return
	}

	observability.ExamEvents().WithLabelValues(envelope.Event.Type, "remote").Inc()
	s.hub.broadcast(envelope.Event)
}

func (h *monitorHub) subscribe(examID uint, ch chan ExamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subscribers[examID]; !exists {
		h.subscribers[examID] = make(map[chan ExamEvent]struct{})
	}
	h.subscribers[examID][ch] = struct{}{}
}

func (h *monitorHub) unsubscribe(examID uint, ch chan ExamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subscribers, ok := h.subscribers[examID]; ok {
		if _, present := subscribers[ch]; !present {
			return
		}
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(h.subscribers, examID)
		}
	}
}

// broadcast drops the event for subscribers whose buffer is full.
func (h *monitorHub) broadcast(event ExamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[event.ExamID] {
		select {
		case ch <- event:
		default:
		}
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, ExamEvent) {}
