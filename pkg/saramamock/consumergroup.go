// Package saramamock fakes sarama consumer group sessions for unit tests.
package saramamock

import (
	"context"

	"github.com/Shopify/sarama"
)

// ConsumerGroupSession is a fake sarama.ConsumerGroupSession that records
// which offsets get marked and how often the consumer commits.
type ConsumerGroupSession struct {
	MClaims       map[string][]int32
	MMemberID     string
	MGenerationID int32
	MContext      context.Context

	Marked  []int64 // offsets passed to MarkMessage, in order
	Commits int
}

// Claims returns what's saved.
func (m *ConsumerGroupSession) Claims() map[string][]int32 {
	return m.MClaims
}

// MemberID returns what's saved.
func (m *ConsumerGroupSession) MemberID() string {
	return m.MMemberID
}

// GenerationID returns what's saved.
func (m *ConsumerGroupSession) GenerationID() int32 {
	return m.MGenerationID
}

// MarkOffset does nothing.
func (m *ConsumerGroupSession) MarkOffset(_ string, _ int32, _ int64, _ string) {}

// Commit counts the call.
func (m *ConsumerGroupSession) Commit() {
	m.Commits++
}

// ResetOffset does nothing.
func (m *ConsumerGroupSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}

// MarkMessage records the marked offset.
func (m *ConsumerGroupSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.Marked = append(m.Marked, msg.Offset)
}

// Context returns what's saved, or a background context.
func (m *ConsumerGroupSession) Context() context.Context {
	if m.MContext == nil {
		return context.Background()
	}
	return m.MContext
}

var _ sarama.ConsumerGroupSession = (*ConsumerGroupSession)(nil)

// ConsumerGroupClaim is a fake sarama.ConsumerGroupClaim serving a fixed
// batch of messages. The messages channel closes after the last one, like a
// real claim does when the session ends.
type ConsumerGroupClaim struct {
	MTopic     string
	MPartition int32
	MMessages  []*sarama.ConsumerMessage

	msgChan chan *sarama.ConsumerMessage
}

// Init fills the messages channel. Must be called before use.
func (c *ConsumerGroupClaim) Init() {
	c.msgChan = make(chan *sarama.ConsumerMessage, len(c.MMessages))
	for i, msg := range c.MMessages {
		msg.Topic = c.MTopic
		msg.Partition = c.MPartition
		msg.Offset = int64(i)
		c.msgChan <- msg
	}
	close(c.msgChan)
}

// Topic returns the saved value.
func (c *ConsumerGroupClaim) Topic() string {
	return c.MTopic
}

// Partition returns the saved value.
func (c *ConsumerGroupClaim) Partition() int32 {
	return c.MPartition
}

// InitialOffset returns zero.
func (c *ConsumerGroupClaim) InitialOffset() int64 {
	return 0
}

// HighWaterMarkOffset returns the number of saved messages.
func (c *ConsumerGroupClaim) HighWaterMarkOffset() int64 {
	return int64(len(c.MMessages))
}

// Messages returns the messages channel.
func (c *ConsumerGroupClaim) Messages() <-chan *sarama.ConsumerMessage {
	return c.msgChan
}

var _ sarama.ConsumerGroupClaim = (*ConsumerGroupClaim)(nil)
