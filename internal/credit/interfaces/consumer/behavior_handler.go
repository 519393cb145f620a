// Package consumer ingests behavior events from Kafka and feeds them to the
// credit engine.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/wyfcoding/pkg/messagequeue/kafka"

	"github.com/novastate/novacore/internal/credit/application"
	"github.com/novastate/novacore/internal/credit/domain"
)

// TopicBehaviorEvents is where source apps publish citizen behavior events.
const TopicBehaviorEvents = "nova.behavior.events"

type behaviorEventPayload struct {
	UserID    uint64         `json:"user_id"`
	EventType string         `json:"event_type"`
	SourceApp string         `json:"source_app"`
	EventID   *string        `json:"event_id"`
	Context   map[string]any `json:"context"`
}

type BehaviorHandler struct {
	engine *application.Engine
	logger *slog.Logger
}

func NewBehaviorHandler(engine *application.Engine, logger *slog.Logger) *BehaviorHandler {
	return &BehaviorHandler{engine: engine, logger: logger}
}

// Handle processes a single behavior event message. Malformed payloads are
// logged and dropped; duplicates are treated as success so the consumer does
// not spin on already-processed events.
func (h *BehaviorHandler) Handle(ctx context.Context, msg kafkago.Message) error {
	var payload behaviorEventPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.Error("failed to unmarshal behavior event, dropping",
			"topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	if payload.UserID == 0 || payload.EventType == "" {
		h.logger.Warn("behavior event missing user_id or event_type, dropping",
			"topic", msg.Topic, "offset", msg.Offset)
		return nil
	}

	result, err := h.engine.NormalizeAndProcess(ctx, payload.UserID, payload.EventType,
		payload.SourceApp, payload.EventID, payload.Context)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil
		}
		h.logger.Error("failed to process behavior event",
			"user_id", payload.UserID, "event_type", payload.EventType, "error", err)
		return err
	}

	h.logger.Debug("behavior event processed",
		"user_id", result.UserID, "delta", result.Delta, "new_score", result.NewScore)
	return nil
}

// Subscribe starts consuming behavior events until ctx is cancelled.
func (h *BehaviorHandler) Subscribe(ctx context.Context, consumer *kafka.Consumer) {
	consumer.Start(ctx, 1, h.Handle)
}
