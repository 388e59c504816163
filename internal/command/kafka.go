package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/segmentio/kafka-go"

	"firestige.xyz/strouter/internal/config"
	"firestige.xyz/strouter/internal/log"
)

// KafkaCommand is the wire format for commands received via Kafka.
//
// Example JSON:
//
//	{
//	  "version":    "v1",
//	  "target":     "edge-01",
//	  "command":    "route_add",
//	  "timestamp":  "2024-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    { "destination": "10.1.0.0", "netmask": "255.255.0.0", ... }
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`    // Protocol version ("v1")
	Target    string          `json:"target"`     // Node hostname or "*" for broadcast
	Command   string          `json:"command"`    // Method name, same as the socket API
	Timestamp time.Time       `json:"timestamp"`  // When the command was issued
	RequestID string          `json:"request_id"` // Unique request ID, used for dedup
	Payload   json.RawMessage `json:"payload"`    // Command-specific parameters
}

// messageReader is the part of kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandConsumer consumes commands from Kafka and dispatches to handler.
type KafkaCommandConsumer struct {
	ccConfig config.CommandChannelConfig
	hostname string // local node hostname for target matching
	reader   messageReader
	handler  *CommandHandler
	ttl      time.Duration // command TTL for stale-command rejection
	seen     *gocache.Cache
	now      func() time.Time
	logger   log.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{} // closed when Start returns
	stopped   bool
	closeOnce sync.Once
	closeErr  error
}

// ErrConsumerStopped is returned by Start after Stop.
var ErrConsumerStopped = errors.New("kafka command consumer stopped")

// NewKafkaCommandConsumer creates a new Kafka command consumer.
func NewKafkaCommandConsumer(ccConfig config.CommandChannelConfig, hostname string, handler *CommandHandler) (*KafkaCommandConsumer, error) {
	kc := ccConfig.Kafka
	if len(kc.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if kc.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if kc.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	ttl := 5 * time.Minute
	if ccConfig.CommandTTL != "" {
		var err error
		ttl, err = time.ParseDuration(ccConfig.CommandTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid command_ttl %q: %w", ccConfig.CommandTTL, err)
		}
	}

	var startOffset int64
	switch kc.AutoOffsetReset {
	case "earliest":
		startOffset = kafka.FirstOffset
	default:
		startOffset = kafka.LastOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kc.Brokers,
		Topic:          kc.Topic,
		GroupID:        kc.GroupID,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        1 * time.Second,
	})

	return newConsumer(ccConfig, hostname, reader, handler, ttl), nil
}

func newConsumer(cc config.CommandChannelConfig, hostname string, r messageReader, h *CommandHandler, ttl time.Duration) *KafkaCommandConsumer {
	return &KafkaCommandConsumer{
		ccConfig: cc,
		hostname: hostname,
		reader:   r,
		handler:  h,
		ttl:      ttl,
		// a request id older than the TTL is rejected as stale anyway
		seen:   gocache.New(ttl, 2*ttl),
		now:    time.Now,
		logger: log.ForComponent("kafka-command"),
	}
}

// Start consumes commands until ctx is cancelled or Stop is called.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrConsumerStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.mu.Unlock()
	defer close(done)
	defer cancel()

	c.logger.WithFields(map[string]interface{}{
		"brokers":  c.ccConfig.Kafka.Brokers,
		"topic":    c.ccConfig.Kafka.Topic,
		"group_id": c.ccConfig.Kafka.GroupID,
		"hostname": c.hostname,
		"ttl":      c.ttl,
	}).Info("kafka command consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.WithError(ctx.Err()).Info("kafka command consumer stopped")
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.WithError(err).Error("failed to fetch kafka message")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.WithError(err).WithFields(map[string]interface{}{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("failed to process command")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.WithError(err).Error("failed to commit message")
		}
	}
}

// processMessage filters by target, age and request id before dispatching.
func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kCmd KafkaCommand
	if err := json.Unmarshal(msg.Value, &kCmd); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}

	fields := map[string]interface{}{
		"command":    kCmd.Command,
		"request_id": kCmd.RequestID,
		"target":     kCmd.Target,
	}

	if kCmd.Target != "*" && kCmd.Target != "" && kCmd.Target != c.hostname {
		c.logger.WithFields(fields).Debug("skipping command not targeting this node")
		return nil
	}

	if !kCmd.Timestamp.IsZero() {
		if age := c.now().Sub(kCmd.Timestamp); age > c.ttl {
			c.logger.WithFields(fields).WithField("age", age).Warn("skipping stale command")
			return nil
		}
	}

	if kCmd.RequestID != "" {
		if err := c.seen.Add(kCmd.RequestID, struct{}{}, gocache.DefaultExpiration); err != nil {
			c.logger.WithFields(fields).Warn("skipping duplicate command")
			return nil
		}
	}

	c.logger.WithFields(fields).WithField("version", kCmd.Version).Info("received kafka command")

	cmd := Command{
		Method: kCmd.Command,
		Params: kCmd.Payload,
		ID:     kCmd.RequestID,
	}
	response := c.handler.Handle(ctx, cmd)
	if response.Error != nil {
		c.logger.WithFields(fields).WithField("error_code", response.Error.Code).Error(response.Error.Message)
		return fmt.Errorf("command failed: %s", response.Error.Message)
	}

	c.logger.WithFields(fields).Info("command executed successfully")
	return nil
}

// Stop cancels a running Start, waits for it to return and then closes the
// reader. Safe to call more than once.
func (c *KafkaCommandConsumer) Stop() error {
	c.mu.Lock()
	c.stopped = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	c.closeOnce.Do(func() {
		c.logger.Info("closing kafka command consumer")
		if err := c.reader.Close(); err != nil {
			c.closeErr = fmt.Errorf("failed to close kafka reader: %w", err)
		}
	})
	return c.closeErr
}
