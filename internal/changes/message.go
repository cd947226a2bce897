// Package changes defines the change-notification model shared by the bus
// and the fan-out sessions: the wire message triplet, role sets, and the
// per-descriptor privacy filter.
package changes

// BroadcastTopic addresses every discussion at once.
const BroadcastTopic = "*"

// Message is one bus message: a discussion topic (or BroadcastTopic), a
// publisher-scoped sequence number kept as ASCII text, and an opaque JSON
// array of change descriptors. The sequence number is diagnostic only; it
// plays no part in gap detection or replay.
type Message struct {
	Topic   string
	Seq     string
	Payload []byte
}
