package bridgeclient

import (
	"context"

	"github.com/armorclaw/mobilerelay/pkg/logger"
)

// Loopback is an AgentBridge that echoes every inbound message straight
// back out as a response, tagged to the same chat. Useful for smoke
// testing a relay + bridge client deployment without a real LLM agent
// process attached.
type Loopback struct {
	prefix    string
	responses chan OutboundMessage
}

// NewLoopback builds a Loopback agent. prefix, if non-empty, is
// prepended to each echoed response.
func NewLoopback(prefix string) *Loopback {
	return &Loopback{
		prefix:    prefix,
		responses: make(chan OutboundMessage, 16),
	}
}

// Deliver echoes the inbound message's content back as a response on
// the same chat.
func (l *Loopback) Deliver(ctx context.Context, msg InboundMessage) error {
	content := msg.Content
	if l.prefix != "" {
		content = l.prefix + content
	}

	select {
	case l.responses <- OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: content}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Responses returns the channel of echoed responses.
func (l *Loopback) Responses() <-chan OutboundMessage {
	return l.responses
}

// LogOnly is an AgentBridge that simply journals inbound traffic and
// never produces a response. Useful for diagnosing relay connectivity
// without running any agent logic at all.
type LogOnly struct {
	responses chan OutboundMessage
}

// NewLogOnly builds a LogOnly agent.
func NewLogOnly() *LogOnly {
	return &LogOnly{responses: make(chan OutboundMessage)}
}

// Deliver logs the inbound message and returns immediately.
func (l *LogOnly) Deliver(ctx context.Context, msg InboundMessage) error {
	logger.Global().Info("inbound mobile message", "sender", msg.SenderID, "chat_id", msg.ChatID, "content", msg.Content)
	return nil
}

// Responses returns a channel that never yields a value.
func (l *LogOnly) Responses() <-chan OutboundMessage {
	return l.responses
}
