package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gocloud.dev/pubsub/mempubsub"

	"github.com/pamdocs/docpipe/internal/common"
)

func TestEncodeDecode(t *testing.T) {
	in := Message{Type: MessageParseDocument, Job: JobPayload{JobID: "job-1"}}
	data, err := Encode(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"PARSE_DOCUMENT","job":{"jobId":"job-1"}}`, string(data))

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"DELETE_EVERYTHING","job":{"jobId":"x"}}`))
	assert.Error(t, err)
}

func TestMemoryQueueDelivers(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop().Sugar(), WithWorkers(2))
	defer q.Shutdown(context.Background())

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	q.Start(func(_ context.Context, m Message) error {
		mu.Lock()
		got = append(got, m.Job.JobID)
		if len(got) == 2 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	require.NoError(t, q.Send(context.Background(), Message{Type: MessageProcessDocument, Job: JobPayload{JobID: "a"}}, 0))
	require.NoError(t, q.Send(context.Background(), Message{Type: MessageParseDocument, Job: JobPayload{JobID: "b"}}, 0))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not delivered")
	}
	mu.Lock()
	assert.ElementsMatch(t, []string{"a", "b"}, got)
	mu.Unlock()
}

func TestMemoryQueueDelay(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop().Sugar(), WithWorkers(1))
	defer q.Shutdown(context.Background())

	delivered := make(chan time.Time, 1)
	q.Start(func(_ context.Context, _ Message) error {
		delivered <- time.Now()
		return nil
	})

	start := time.Now()
	require.NoError(t, q.Send(context.Background(), Message{Type: MessageProcessDocument, Job: JobPayload{JobID: "a"}}, 100*time.Millisecond))

	select {
	case at := <-delivered:
		assert.GreaterOrEqual(t, at.Sub(start), 100*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed message never delivered")
	}
}

func TestMemoryQueueRetriesTransientFailure(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop().Sugar(),
		WithWorkers(1), WithMaxAttempts(3), WithRetryDelay(10*time.Millisecond))
	defer q.Shutdown(context.Background())

	var attempts atomic.Int32
	done := make(chan struct{})
	q.Start(func(_ context.Context, _ Message) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	require.NoError(t, q.Send(context.Background(), Message{Type: MessageParseDocument, Job: JobPayload{JobID: "a"}}, 0))

	select {
	case <-done:
		assert.EqualValues(t, 3, attempts.Load())
	case <-time.After(2 * time.Second):
		t.Fatalf("retries did not complete, attempts=%d", attempts.Load())
	}
}

func TestMemoryQueueDropsUnknownJob(t *testing.T) {
	q := NewMemoryQueue(zap.NewNop().Sugar(),
		WithWorkers(1), WithMaxAttempts(5), WithRetryDelay(time.Millisecond))

	var attempts atomic.Int32
	q.Start(func(_ context.Context, _ Message) error {
		attempts.Add(1)
		return common.WrapError(common.ErrNotFound, "job job-x")
	})

	require.NoError(t, q.Send(context.Background(), Message{Type: MessageRefineDocument, Job: JobPayload{JobID: "job-x"}}, 0))

	time.Sleep(100 * time.Millisecond)
	q.Shutdown(context.Background())
	assert.EqualValues(t, 1, attempts.Load(), "not-found must not be redelivered")
}

func TestShutdownUnblocksSendOnFullQueue(t *testing.T) {
	// One worker, buffer of one. The handler for the first message emits two
	// follow-ups: the first fills the buffer, the second blocks because the
	// only worker is still inside the handler. Shutdown must still complete
	// within its context instead of deadlocking against the blocked Send.
	q := NewMemoryQueue(zap.NewNop().Sugar(), WithWorkers(1), WithQueueSize(1))

	inHandler := make(chan struct{})
	q.Start(func(ctx context.Context, m Message) error {
		if m.Job.JobID == "first" {
			close(inHandler)
			_ = q.Send(ctx, Message{Type: MessageParseDocument, Job: JobPayload{JobID: "fills-buffer"}}, 0)
			_ = q.Send(ctx, Message{Type: MessageParseDocument, Job: JobPayload{JobID: "blocks"}}, 0)
		}
		return nil
	})

	require.NoError(t, q.Send(context.Background(), Message{Type: MessageProcessDocument, Job: JobPayload{JobID: "first"}}, 0))

	select {
	case <-inHandler:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	// Give the second Send time to block on the full buffer.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		q.Shutdown(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked past its context deadline")
	}
}

func TestTopicDispatcherAndConsumer(t *testing.T) {
	topic := mempubsub.NewTopic()
	sub := mempubsub.NewSubscription(topic, time.Second)
	log := zap.NewNop().Sugar()

	d := NewTopicDispatcher(topic, log)
	c := NewConsumer(sub, 2, time.Second, log)

	got := make(chan Message, 1)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Run(ctx, func(_ context.Context, m Message) error {
			got <- m
			return nil
		})
	}()

	require.NoError(t, d.Send(ctx, Message{Type: MessageRefineDocument, Job: JobPayload{JobID: "job-9"}}, 0))

	select {
	case m := <-got:
		assert.Equal(t, MessageRefineDocument, m.Type)
		assert.Equal(t, "job-9", m.Job.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("message not consumed")
	}

	cancel()
	wg.Wait()
	_ = d.Shutdown(context.Background())
	_ = c.Shutdown(context.Background())
}
