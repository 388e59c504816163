package eventbus

// Topics published by the router.
const (
	TopicRouteTable = "route.table"
	TopicARPCache   = "arp.cache"
	TopicARPProxy   = "arp.proxy"
)

// Event is one change notification. Events sharing a Key are delivered in
// publish order.
type Event struct {
	Topic   string      `json:"topic"`
	Key     string      `json:"key"`
	Payload interface{} `json:"payload"`
}

// Handler consumes events of one topic.
type Handler func(event *Event) error

// Publisher is the write side of the bus handed to engines that emit events.
type Publisher interface {
	Publish(event *Event) error
}

type partition struct {
	id    int
	queue chan *Event
}
