// Package events consumes platform events from JetStream and feeds
// them to the decision engine.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/lukeocodes/mod-gpt/internal/model"
	"github.com/lukeocodes/mod-gpt/pkg/logger"
	"github.com/lukeocodes/mod-gpt/pkg/metrics"
)

// handleTimeout bounds the processing of one event, including the
// reasoning provider round trip.
const handleTimeout = 2 * time.Minute

// Handler processes one decoded platform event. *engine.Engine
// satisfies it.
type Handler interface {
	HandleEvent(ctx context.Context, evt *model.Event) error
}

// Consumer pulls events off the durable JetStream consumer. Each event
// is handled in its own goroutine so one slow decision does not stall
// the stream; the dedupe and conversation layers own the ordering
// concerns.
type Consumer struct {
	consumer jetstream.Consumer
	handler  Handler
	logger   *logger.Logger

	mu   sync.Mutex
	cctx jetstream.ConsumeContext
	wg   sync.WaitGroup
}

// NewConsumer creates an event consumer.
func NewConsumer(consumer jetstream.Consumer, handler Handler, log *logger.Logger) *Consumer {
	return &Consumer{
		consumer: consumer,
		handler:  handler,
		logger:   log,
	}
}

// Start begins consuming. It returns immediately; processing happens on
// consumer goroutines until Stop is called.
func (c *Consumer) Start() error {
	cctx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.process(msg)
		}()
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cctx = cctx
	c.mu.Unlock()

	if info, err := c.consumer.Info(context.Background()); err == nil {
		metrics.NATSConsumerPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumPending))
	}
	return nil
}

// Stop halts intake first, then waits for in-flight events to drain.
// Unacked events redeliver to the durable consumer on restart.
func (c *Consumer) Stop() {
	c.mu.Lock()
	cctx := c.cctx
	c.cctx = nil
	c.mu.Unlock()

	if cctx != nil {
		cctx.Stop()
	}
	c.wg.Wait()
}

func (c *Consumer) process(msg jetstream.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	var evt model.Event
	if err := json.Unmarshal(msg.Data(), &evt); err != nil {
		// A payload that cannot decode will never decode; do not let
		// it redeliver forever.
		c.logger.Error("dropping undecodable event",
			zap.String("subject", msg.Subject()), zap.Error(err))
		if termErr := msg.Term(); termErr != nil {
			c.logger.Warn("failed to terminate message", zap.Error(termErr))
		}
		return
	}

	if err := c.handler.HandleEvent(ctx, &evt); err != nil {
		c.logger.Error("event handling failed, requesting redelivery",
			zap.String("type", string(evt.Type)),
			zap.String("guild_id", evt.GuildID),
			zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("failed to nak message", zap.Error(nakErr))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("failed to ack message", zap.Error(err))
	}
}
