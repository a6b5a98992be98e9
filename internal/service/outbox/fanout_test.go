package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func TestFanoutPublisher_RetriesOnlyFailedTargets(t *testing.T) {
	alerts := &stubPublisher{}
	kafka := &stubPublisher{sequenceErrors: []error{errors.New("broker down"), nil}}
	fanout := NewFanoutPublisher(
		Target{Name: "alerts", Publisher: alerts},
		Target{Name: "kafka", Publisher: kafka},
		Target{Name: "disabled"},
	)
	require.Equal(t, []string{"alerts", "kafka"}, fanout.Targets())

	event := domain.OutboxMessage{ID: "msg-1", EventType: domain.EventTypeStockChanged}
	ctx := context.Background()

	err := fanout.Publish(ctx, event)
	require.Error(t, err)
	require.Contains(t, err.Error(), "kafka: broker down")

	require.NoError(t, fanout.Publish(ctx, event))
	require.Equal(t, 1, alerts.calls())
	require.Equal(t, 2, kafka.calls())

	// после полной доставки сообщение забыто, повтор снова уходит всем
	require.NoError(t, fanout.Publish(ctx, event))
	require.Equal(t, 2, alerts.calls())
}

func TestFanoutPublisher_WorkerForgetsFailedMessages(t *testing.T) {
	kafka := &stubPublisher{err: errors.New("broker down")}
	alerts := &stubPublisher{}
	fanout := NewFanoutPublisher(
		Target{Name: "alerts", Publisher: alerts},
		Target{Name: "kafka", Publisher: kafka},
	)
	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{{ID: "msg-9", EventType: domain.EventTypeOrderPaid}}}

	worker, _ := newTestWorker(repo, fanout, WithMaxAttempts(2))
	worker.ProcessOnce(context.Background())

	require.Equal(t, []string{"msg-9"}, repo.failedIDs)
	require.Equal(t, 1, alerts.calls())
	require.Equal(t, 2, kafka.calls())

	fanout.mu.Lock()
	defer fanout.mu.Unlock()
	require.Empty(t, fanout.delivered)
}
