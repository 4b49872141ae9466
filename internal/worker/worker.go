package worker

import (
	"context"

	"sales-analytics/internal/broker"
	"sales-analytics/internal/models"
	"sales-analytics/internal/util"

	"go.uber.org/zap"
)

// Refresher recomputes reports named by ReportRequested events.
type Refresher interface {
	HandleReportRequested(ctx context.Context, event *models.ReportRequestedEvent) error
}

// ReportWorker warms the report cache from REPORT_REQUESTED events
type ReportWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewReportWorker creates a new report worker
func NewReportWorker(consumer *broker.Consumer, refresher Refresher) *ReportWorker {
	w := &ReportWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnReportRequested(w.handle(refresher))
	return w
}

func (w *ReportWorker) handle(refresher Refresher) func(context.Context, *models.ReportRequestedEvent) error {
	return func(ctx context.Context, event *models.ReportRequestedEvent) error {
		w.logger.Info("Refreshing report",
			zap.String("event_id", event.EventID),
			zap.String("kind", event.Kind))

		if err := refresher.HandleReportRequested(ctx, event); err != nil {
			w.logger.Error("Report refresh failed",
				zap.String("event_id", event.EventID),
				zap.String("kind", event.Kind),
				zap.Error(err))
			return err
		}
		return nil
	}
}

// Start starts the worker
func (w *ReportWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting report worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ReportWorker) Stop() error {
	w.logger.Info("Stopping report worker")
	return w.consumer.Close()
}
