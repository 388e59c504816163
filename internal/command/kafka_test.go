package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strouter/internal/config"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	committed []kafka.Message
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

func (f *fakeReader) Close() error {
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

var fixedNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func newTestConsumer(t *testing.T) (*KafkaCommandConsumer, *fakeReader) {
	t.Helper()
	fr := &fakeReader{msgs: make(chan kafka.Message, 8)}
	h := NewCommandHandler(newTestRouter(t), nil)
	c := newConsumer(config.CommandChannelConfig{}, "edge-01", fr, h, 5*time.Minute)
	c.now = func() time.Time { return fixedNow }
	return c, fr
}

func message(t *testing.T, cmd KafkaCommand) kafka.Message {
	t.Helper()
	b, err := json.Marshal(cmd)
	require.NoError(t, err)
	return kafka.Message{Topic: "strouter-commands", Value: b}
}

func routeAdd(t *testing.T, target, requestID, dest string, ts time.Time) KafkaCommand {
	t.Helper()
	payload, err := json.Marshal(RouteParams{Destination: dest, Netmask: "255.255.0.0", Flags: "U", Interface: "eth1"})
	require.NoError(t, err)
	return KafkaCommand{Version: "v1", Target: target, Command: "route_add", Timestamp: ts, RequestID: requestID, Payload: payload}
}

func TestNewKafkaCommandConsumer(t *testing.T) {
	handler := NewCommandHandler(newTestRouter(t), nil)

	tests := []struct {
		name    string
		config  config.CommandChannelConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: config.CommandChannelConfig{Kafka: config.CommandKafkaConfig{
				Brokers: []string{"localhost:9092"}, Topic: "commands", GroupID: "strouter",
			}},
		},
		{
			name: "missing brokers",
			config: config.CommandChannelConfig{Kafka: config.CommandKafkaConfig{
				Topic: "commands", GroupID: "strouter",
			}},
			wantErr: true,
		},
		{
			name: "missing topic",
			config: config.CommandChannelConfig{Kafka: config.CommandKafkaConfig{
				Brokers: []string{"localhost:9092"}, GroupID: "strouter",
			}},
			wantErr: true,
		},
		{
			name: "missing group_id",
			config: config.CommandChannelConfig{Kafka: config.CommandKafkaConfig{
				Brokers: []string{"localhost:9092"}, Topic: "commands",
			}},
			wantErr: true,
		},
		{
			name: "invalid ttl",
			config: config.CommandChannelConfig{CommandTTL: "soon", Kafka: config.CommandKafkaConfig{
				Brokers: []string{"localhost:9092"}, Topic: "commands", GroupID: "strouter",
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer, err := NewKafkaCommandConsumer(tt.config, "edge-01", handler)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 5*time.Minute, consumer.ttl)
			assert.NoError(t, consumer.Stop())
			assert.NoError(t, consumer.Stop())
		})
	}
}

func TestProcessMessage_Dispatches(t *testing.T) {
	c, _ := newTestConsumer(t)
	require.NoError(t, c.processMessage(context.Background(), message(t, routeAdd(t, "edge-01", "r1", "10.1.0.0", fixedNow))))
	require.NoError(t, c.processMessage(context.Background(), message(t, routeAdd(t, "*", "r2", "10.2.0.0", fixedNow))))
	require.NoError(t, c.processMessage(context.Background(), message(t, routeAdd(t, "", "r3", "10.3.0.0", time.Time{}))))
	assert.Len(t, c.handler.router.Routes(), 4)
}

func TestProcessMessage_Filters(t *testing.T) {
	tests := []struct {
		name string
		cmd  func(t *testing.T) KafkaCommand
	}{
		{"other target", func(t *testing.T) KafkaCommand { return routeAdd(t, "edge-02", "r1", "10.1.0.0", fixedNow) }},
		{"stale", func(t *testing.T) KafkaCommand {
			return routeAdd(t, "edge-01", "r1", "10.1.0.0", fixedNow.Add(-6*time.Minute))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestConsumer(t)
			require.NoError(t, c.processMessage(context.Background(), message(t, tt.cmd(t))))
			assert.Len(t, c.handler.router.Routes(), 1)
		})
	}
}

func TestProcessMessage_DeduplicatesRequestID(t *testing.T) {
	c, _ := newTestConsumer(t)
	ctx := context.Background()
	require.NoError(t, c.processMessage(ctx, message(t, routeAdd(t, "*", "dup", "10.1.0.0", fixedNow))))
	require.NoError(t, c.processMessage(ctx, message(t, routeAdd(t, "*", "dup", "10.9.0.0", fixedNow))))

	routes := c.handler.router.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "10.1.0.0", routes[1].Destination.String())
}

func TestProcessMessage_Errors(t *testing.T) {
	c, _ := newTestConsumer(t)
	err := c.processMessage(context.Background(), kafka.Message{Value: []byte("{")})
	assert.ErrorContains(t, err, "parse")

	bad := routeAdd(t, "*", "r9", "10.1.0.0", fixedNow)
	bad.Command = "route_flush"
	assert.ErrorContains(t, c.processMessage(context.Background(), message(t, bad)), "not found")
}

func TestKafkaCommandConsumer_StartCommits(t *testing.T) {
	c, fr := newTestConsumer(t)
	fr.msgs <- message(t, routeAdd(t, "*", "s1", "10.1.0.0", fixedNow))
	fr.msgs <- message(t, routeAdd(t, "edge-02", "s2", "10.2.0.0", fixedNow))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return fr.commits() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, c.handler.router.Routes(), 2)
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
	require.NoError(t, c.Stop())
	assert.True(t, fr.closed)
}

// gatedReader holds FetchMessage until the gate opens, ignoring ctx the way a
// fetch already past its cancellation check does.
type gatedReader struct {
	*fakeReader
	entered chan struct{}
	gate    chan struct{}
	msg     kafka.Message
	once    sync.Once
}

func (g *gatedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	first := false
	g.once.Do(func() { first = true })
	if !first {
		return g.fakeReader.FetchMessage(ctx)
	}
	close(g.entered)
	<-g.gate
	return g.msg, nil
}

func TestKafkaCommandConsumer_StopDuringFetch(t *testing.T) {
	c, fr := newTestConsumer(t)
	gr := &gatedReader{
		fakeReader: fr,
		entered:    make(chan struct{}),
		gate:       make(chan struct{}),
		msg:        message(t, routeAdd(t, "*", "g1", "10.1.0.0", fixedNow)),
	}
	c.reader = gr

	startErr := make(chan interface{}, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				startErr <- r
			}
		}()
		startErr <- c.Start(context.Background())
	}()
	<-gr.entered

	stopErr := make(chan error, 1)
	go func() { stopErr <- c.Stop() }()

	select {
	case <-stopErr:
		t.Fatal("Stop returned while a fetch was in flight")
	case <-time.After(20 * time.Millisecond):
	}
	close(gr.gate)

	select {
	case err := <-stopErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the fetch completed")
	}
	select {
	case r := <-startErr:
		err, ok := r.(error)
		require.True(t, ok, "Start panicked: %v", r)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return")
	}
	assert.Equal(t, 1, fr.commits())
	assert.True(t, fr.closed)

	assert.ErrorIs(t, c.Start(context.Background()), ErrConsumerStopped)
	assert.NoError(t, c.Stop())
}
