package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sales-analytics/internal/models"
	"sales-analytics/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing report events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewBaseEvent stamps a fresh event id and time.
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// PublishReportGenerated publishes ReportGenerated event
func (ep *EventPublisher) PublishReportGenerated(ctx context.Context, event *models.ReportGeneratedEvent) error {
	key := fmt.Sprintf("report-%s-%s", event.Kind, event.FilterKey)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishReportRequested publishes ReportRequested event
func (ep *EventPublisher) PublishReportRequested(ctx context.Context, event *models.ReportRequestedEvent) error {
	key := fmt.Sprintf("report-%s", event.Kind)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onReportRequested func(context.Context, *models.ReportRequestedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnReportRequested registers a handler for ReportRequested events
func (eh *EventHandler) OnReportRequested(handler func(context.Context, *models.ReportRequestedEvent) error) {
	eh.onReportRequested = handler
}

// HandleMessage routes messages to appropriate handlers. Events of other
// types are acknowledged without action.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeReportRequested:
		if eh.onReportRequested != nil {
			var event models.ReportRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReportRequested event: %w", err)
			}
			return eh.onReportRequested(ctx, &event)
		}

	case models.EventTypeReportGenerated:
		// published by this service, nothing to do

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
