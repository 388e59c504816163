// Package eventbus is a partitioned in-memory bus that fans change events out
// to subscribers.
package eventbus

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/serialx/hashring"

	"firestige.xyz/strouter/internal/log"
	"firestige.xyz/strouter/internal/metrics"
)

type EventBus interface {
	Publisher
	Subscribe(topic string, handler Handler) error
	Close() error
	GetStats() *Stats
}

type Stats struct {
	PublishedCount int64 `json:"published"`
	ProcessedCount int64 `json:"processed"`
	DroppedCount   int64 `json:"dropped"`
	PartitionCount int   `json:"partitions"`
	QueuedCount    []int `json:"queued"`
}

// InMemoryEventBus routes each event to a partition picked by consistent
// hashing of its key, so ordering holds per key but not across keys.
type InMemoryEventBus struct {
	partitions     []*partition
	partitionNodes []string
	hashRing       *hashring.HashRing

	mu          sync.RWMutex
	subscribers map[string][]Handler
	closed      int32
	wg          sync.WaitGroup

	publishedCount int64
	processedCount int64
	droppedCount   int64
}

func NewInMemoryEventBus(partitionCount, queueSize int) *InMemoryEventBus {
	if partitionCount <= 0 {
		partitionCount = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	bus := &InMemoryEventBus{
		subscribers:    make(map[string][]Handler),
		partitions:     make([]*partition, partitionCount),
		partitionNodes: make([]string, partitionCount),
	}
	for i := 0; i < partitionCount; i++ {
		bus.partitionNodes[i] = "partition-" + strconv.Itoa(i)
	}
	bus.hashRing = hashring.New(bus.partitionNodes)

	for i := 0; i < partitionCount; i++ {
		bus.partitions[i] = &partition{
			id:    i,
			queue: make(chan *Event, queueSize),
		}
		bus.wg.Add(1)
		go bus.runPartition(bus.partitions[i])
	}
	return bus
}

// Publish never blocks. A full partition drops the event.
func (b *InMemoryEventBus) Publish(event *Event) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("event bus is closed")
	}
	p := b.partitions[b.getPartitionID(event.Key)]

	b.mu.RLock()
	defer b.mu.RUnlock()
	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("event bus is closed")
	}
	select {
	case p.queue <- event:
		atomic.AddInt64(&b.publishedCount, 1)
		return nil
	default:
		atomic.AddInt64(&b.droppedCount, 1)
		metrics.EventsDroppedTotal.WithLabelValues(event.Topic).Inc()
		return fmt.Errorf("partition %d queue is full", p.id)
	}
}

// Subscribe adds handler to topic. Several handlers may share a topic; they
// run in subscription order.
func (b *InMemoryEventBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("event bus is closed")
	}
	b.subscribers[topic] = append(b.subscribers[topic], handler)
	log.GetLogger().Debugf("subscribed to topic: %s", topic)
	return nil
}

// Close drains queued events and stops the partitions.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		b.mu.Unlock()
		return nil
	}
	for _, p := range b.partitions {
		close(p.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	log.GetLogger().Debug("event bus closed")
	return nil
}

func (b *InMemoryEventBus) GetStats() *Stats {
	stats := &Stats{
		PublishedCount: atomic.LoadInt64(&b.publishedCount),
		ProcessedCount: atomic.LoadInt64(&b.processedCount),
		DroppedCount:   atomic.LoadInt64(&b.droppedCount),
		PartitionCount: len(b.partitions),
		QueuedCount:    make([]int, len(b.partitions)),
	}
	for i, p := range b.partitions {
		stats.QueuedCount[i] = len(p.queue)
	}
	return stats
}

func (b *InMemoryEventBus) getPartitionID(key string) int {
	node, ok := b.hashRing.GetNode(key)
	if !ok {
		return 0
	}
	for i, n := range b.partitionNodes {
		if n == node {
			return i
		}
	}
	return 0
}

func (b *InMemoryEventBus) dispatch(event *Event) error {
	b.mu.RLock()
	handlers := b.subscribers[event.Topic]
	b.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *InMemoryEventBus) runPartition(p *partition) {
	defer b.wg.Done()
	logger := log.GetLogger()
	for event := range p.queue {
		if err := b.dispatch(event); err != nil {
			logger.WithError(err).Warnf("event handler failed in partition %d, topic %s", p.id, event.Topic)
			continue
		}
		atomic.AddInt64(&b.processedCount, 1)
	}
}
