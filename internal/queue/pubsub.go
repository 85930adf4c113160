package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/awssnssqs"
	_ "gocloud.dev/pubsub/mempubsub"

	"github.com/pamdocs/docpipe/internal/common"
)

// TopicDispatcher publishes messages on a gocloud.dev topic. On SQS the delay
// rides the message itself via DelaySeconds; other drivers deliver
// immediately.
type TopicDispatcher struct {
	topic *pubsub.Topic
	log   *zap.SugaredLogger
}

// OpenTopicDispatcher opens the topic behind a gocloud.dev URL
// (awssqs://..., mem://...).
func OpenTopicDispatcher(ctx context.Context, urlstr string, log *zap.SugaredLogger) (*TopicDispatcher, error) {
	topic, err := pubsub.OpenTopic(ctx, urlstr)
	if err != nil {
		return nil, fmt.Errorf("open topic %s: %w", urlstr, err)
	}
	log.Infow("queue.topic.open", "url", urlstr)
	return &TopicDispatcher{topic: topic, log: log}, nil
}

// NewTopicDispatcher wraps an already-open topic. Tests use this with
// mempubsub.
func NewTopicDispatcher(topic *pubsub.Topic, log *zap.SugaredLogger) *TopicDispatcher {
	return &TopicDispatcher{topic: topic, log: log}
}

func (d *TopicDispatcher) Send(ctx context.Context, m Message, delay time.Duration) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Body:     body,
		Metadata: map[string]string{"type": string(m.Type)},
	}
	if delay > 0 {
		secs := int32(delay / time.Second)
		msg.BeforeSend = func(as func(any) bool) error {
			var entry *sqstypes.SendMessageBatchRequestEntry
			if as(&entry) {
				entry.DelaySeconds = secs
				return nil
			}
			var req *sqs.SendMessageInput
			if as(&req) {
				req.DelaySeconds = secs
				return nil
			}
			// Driver without native delay; deliver immediately.
			return nil
		}
	}
	if err := d.topic.Send(ctx, msg); err != nil {
		d.log.Errorw("queue.send.failed", "type", m.Type, "job_id", m.Job.JobID, "err", err)
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	d.log.Infow("queue.send.ok", "type", m.Type, "job_id", m.Job.JobID, "delay", delay)
	return nil
}

// Shutdown releases the topic.
func (d *TopicDispatcher) Shutdown(ctx context.Context) error {
	return d.topic.Shutdown(ctx)
}

// Consumer pulls from a gocloud.dev subscription and fans messages out to a
// bounded set of handler goroutines.
type Consumer struct {
	sub     *pubsub.Subscription
	log     *zap.SugaredLogger
	workers int
	timeout time.Duration
}

// OpenConsumer opens the subscription behind a gocloud.dev URL.
func OpenConsumer(ctx context.Context, urlstr string, workers int, timeout time.Duration, log *zap.SugaredLogger) (*Consumer, error) {
	sub, err := pubsub.OpenSubscription(ctx, urlstr)
	if err != nil {
		return nil, fmt.Errorf("open subscription %s: %w", urlstr, err)
	}
	log.Infow("queue.subscription.open", "url", urlstr)
	return NewConsumer(sub, workers, timeout, log), nil
}

// NewConsumer wraps an already-open subscription.
func NewConsumer(sub *pubsub.Subscription, workers int, timeout time.Duration, log *zap.SugaredLogger) *Consumer {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Consumer{sub: sub, log: log, workers: workers, timeout: timeout}
}

// Run receives until ctx is cancelled, then drains in-flight handlers.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	sem := make(chan struct{}, c.workers)
	var wg sync.WaitGroup
	for {
		msg, err := c.sub.Receive(ctx)
		if err != nil {
			wg.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(msg *pubsub.Message) {
			defer wg.Done()
			defer func() { <-sem }()
			c.handle(ctx, h, msg)
		}(msg)
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, msg *pubsub.Message) {
	m, err := Decode(msg.Body)
	if err != nil {
		c.log.Errorw("queue.decode.failed", "err", err)
		msg.Ack()
		return
	}

	hctx, cancel := context.WithTimeout(ctx, c.timeout)
	err = h(hctx, m)
	cancel()

	if err == nil {
		msg.Ack()
		c.log.Infow("queue.handle.ok", "type", m.Type, "job_id", m.Job.JobID)
		return
	}

	// Unresolvable identity: acknowledge so the broker stops redelivering.
	if errors.Is(err, common.ErrNotFound) {
		c.log.Warnw("queue.handle.dropped", "type", m.Type, "job_id", m.Job.JobID, "err", err)
		msg.Ack()
		return
	}

	c.log.Warnw("queue.handle.nack", "type", m.Type, "job_id", m.Job.JobID, "err", err)
	if msg.Nackable() {
		msg.Nack()
	} else {
		msg.Ack()
	}
}

// Shutdown releases the subscription.
func (c *Consumer) Shutdown(ctx context.Context) error {
	return c.sub.Shutdown(ctx)
}
