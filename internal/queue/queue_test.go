package queue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.AlertID
	}
	return out
}

func TestQueueOrdering(t *testing.T) {
	q := New(10)
	q.Push(Item{AlertID: "low-1", Severity: models.SeverityLow})
	q.Push(Item{AlertID: "crit-1", Severity: models.SeverityCritical})
	q.Push(Item{AlertID: "low-2", Severity: models.SeverityLow})
	q.Push(Item{AlertID: "crit-2", Severity: models.SeverityCritical})
	q.Push(Item{AlertID: "emerg", Severity: models.SeverityEmergency})

	got := q.PopBatch(10)
	assert.Equal(t, []string{"emerg", "crit-1", "crit-2", "low-1", "low-2"}, ids(got))
	assert.Zero(t, q.Len())
}

func TestQueueEvictsLowestNewest(t *testing.T) {
	q := New(3)
	q.Push(Item{AlertID: "info-old", Severity: models.SeverityInfo})
	q.Push(Item{AlertID: "info-new", Severity: models.SeverityInfo})
	q.Push(Item{AlertID: "high", Severity: models.SeverityHigh})

	res := q.Push(Item{AlertID: "critical", Severity: models.SeverityCritical})
	require.True(t, res.Accepted)
	require.NotNil(t, res.Evicted)
	assert.Equal(t, "info-new", res.Evicted.AlertID)
	assert.Equal(t, 3, q.Len())

	assert.Equal(t, []string{"critical", "high", "info-old"}, ids(q.PopBatch(3)))
}

func TestQueueDropsIncomingWhenNothingLower(t *testing.T) {
	q := New(2)
	q.Push(Item{AlertID: "a", Severity: models.SeverityHigh})
	q.Push(Item{AlertID: "b", Severity: models.SeverityHigh})

	res := q.Push(Item{AlertID: "c", Severity: models.SeverityHigh})
	assert.False(t, res.Accepted)
	assert.Nil(t, res.Evicted)

	res = q.Push(Item{AlertID: "d", Severity: models.SeverityLow})
	assert.False(t, res.Accepted)

	assert.Equal(t, []string{"a", "b"}, ids(q.PopBatch(5)))
}

func TestQueuePopBatchPartial(t *testing.T) {
	q := New(10)
	for i := 0; i < 5; i++ {
		q.Push(Item{AlertID: fmt.Sprintf("a%d", i), Severity: models.SeverityMedium})
	}
	assert.Len(t, q.PopBatch(2), 2)
	assert.Equal(t, 3, q.Len())

	select {
	case <-q.Ready():
	default:
		t.Fatal("ready should stay signalled while items remain")
	}
	assert.Empty(t, New(1).PopBatch(3))
}

func TestQueueReadySignal(t *testing.T) {
	q := New(5)
	done := make(chan []Item)
	go func() {
		<-q.Ready()
		done <- q.PopBatch(5)
	}()

	q.Push(Item{AlertID: "x", Severity: models.SeverityInfo})
	select {
	case got := <-done:
		assert.Equal(t, []string{"x"}, ids(got))
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken")
	}
}

func TestQueueConcurrentPush(t *testing.T) {
	q := New(100)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sev := models.Severities[i%len(models.Severities)]
			q.Push(Item{AlertID: fmt.Sprintf("a%d", i), Severity: sev})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, q.Len())

	items := q.PopBatch(100)
	for i := 1; i < len(items); i++ {
		assert.GreaterOrEqual(t, items[i-1].Severity.Rank(), items[i].Severity.Rank())
	}
}
