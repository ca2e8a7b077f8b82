package interfaces

// Event is one message published on the bus. Payload is a models type
// matching the event Type.
type Event struct {
	Topic   string
	Type    string
	Payload interface{}
}

// Subscription is a bounded, ordered stream of events for one topic.
// Events() closes after Close is called and buffered events are drained.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// Topic constructors shared by publishers and subscribers.
const (
	TopicSystem = "system"
)

// WorkflowTopic returns the per-workflow event topic.
func WorkflowTopic(workflowID string) string {
	return "workflow." + workflowID
}

// JobTopic returns the per-job event topic.
func JobTopic(jobID string) string {
	return "job." + jobID
}

// EventService is the in-process pub/sub bus. Publish never blocks: when a
// subscriber's queue is full the oldest event is dropped and a single
// overflow marker is enqueued in its place.
type EventService interface {
	Publish(event Event)
	Subscribe(topic string) Subscription
	SubscriberCount(topic string) int
	Shutdown()
}
