package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"sales-analytics/internal/broker"
	"sales-analytics/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	events []*models.ReportRequestedEvent
	err    error
}

func (f *fakeRefresher) HandleReportRequested(_ context.Context, e *models.ReportRequestedEvent) error {
	f.events = append(f.events, e)
	return f.err
}

func requested(t *testing.T, kind string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(&models.ReportRequestedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeReportRequested),
		Kind:      kind,
	})
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestReportWorker_RoutesRequests(t *testing.T) {
	r := &fakeRefresher{}
	w := NewReportWorker(nil, r)

	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), requested(t, models.ReportKindRFM)))
	require.Len(t, r.events, 1)
	assert.Equal(t, models.ReportKindRFM, r.events[0].Kind)
}

func TestReportWorker_PropagatesFailure(t *testing.T) {
	r := &fakeRefresher{err: errors.New("warehouse unavailable")}
	w := NewReportWorker(nil, r)

	err := w.eventHandler.HandleMessage(context.Background(), requested(t, models.ReportKindStock))
	assert.ErrorIs(t, err, r.err)
}
