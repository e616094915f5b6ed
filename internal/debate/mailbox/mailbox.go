// Package mailbox implements the bounded per-receiver message queues used
// for explicit inter-agent communication. All operations are pure functions
// over a receiver to ordered-list map; callers own the map and merge the
// returned copies, which keeps the transition service's immutability
// guarantee intact.
package mailbox

import (
	"fmt"

	"github.com/moolen/inquest/internal/debate/types"
)

// Enqueue appends msg to the receiver's queue and returns a new mailbox.
// The backlog per receiver is truncated to the newest MailboxCap entries,
// evicting the oldest first.
func Enqueue(mb map[string][]types.AgentMessage, receiver string, msg types.AgentMessage) map[string][]types.AgentMessage {
	out := clone(mb)
	queue := append(out[receiver], msg)
	if len(queue) > types.MailboxCap {
		queue = queue[len(queue)-types.MailboxCap:]
	}
	out[receiver] = queue
	return out
}

// Dequeue fully consumes the receiver's queue. It returns the messages in
// FIFO order and a new mailbox with the receiver's queue emptied. Dequeue
// never peeks; an agent either sees its whole backlog or nothing.
func Dequeue(mb map[string][]types.AgentMessage, receiver string) ([]types.AgentMessage, map[string][]types.AgentMessage) {
	queue := mb[receiver]
	if len(queue) == 0 {
		return nil, mb
	}
	msgs := make([]types.AgentMessage, len(queue))
	copy(msgs, queue)

	out := clone(mb)
	delete(out, receiver)
	return msgs, out
}

// Compact drops empty queues and re-truncates any queue above the cap.
// Used after checkpoint reload, where hand-edited or stale state may carry
// oversized queues.
func Compact(mb map[string][]types.AgentMessage) map[string][]types.AgentMessage {
	out := make(map[string][]types.AgentMessage, len(mb))
	for receiver, queue := range mb {
		if len(queue) == 0 {
			continue
		}
		if len(queue) > types.MailboxCap {
			queue = queue[len(queue)-types.MailboxCap:]
		}
		copied := make([]types.AgentMessage, len(queue))
		copy(copied, queue)
		out[receiver] = copied
	}
	return out
}

// Command builds a commander to specialist instruction message.
func Command(sender, receiver, instruction string) types.AgentMessage {
	return types.AgentMessage{
		Sender:   sender,
		Receiver: receiver,
		Type:     types.MessageCommand,
		Content:  map[string]interface{}{"instruction": instruction},
	}
}

// Feedback builds a specialist to commander completion report.
func Feedback(sender, receiver string, conclusion string, confidence float64) types.AgentMessage {
	return types.AgentMessage{
		Sender:   sender,
		Receiver: receiver,
		Type:     types.MessageFeedback,
		Content: map[string]interface{}{
			"conclusion": conclusion,
			"confidence": types.ClampConfidence(confidence),
		},
	}
}

// Evidence builds the post-turn broadcast message: the sender's conclusion,
// up to EvidenceBroadcastMax evidence items, and its confidence. Receivers
// see peers' conclusions without carrying the full turn log.
func Evidence(sender, receiver string, card types.EvidenceCard) types.AgentMessage {
	chain := card.EvidenceChain
	if len(chain) > types.EvidenceBroadcastMax {
		chain = chain[:types.EvidenceBroadcastMax]
	}
	evidence := make([]string, len(chain))
	copy(evidence, chain)

	return types.AgentMessage{
		Sender:   sender,
		Receiver: receiver,
		Type:     types.MessageEvidence,
		Content: map[string]interface{}{
			"phase":      string(card.Phase),
			"conclusion": card.Conclusion,
			"evidence":   evidence,
			"confidence": types.ClampConfidence(card.Confidence),
		},
	}
}

// Render formats dequeued messages for inclusion in an agent prompt.
func Render(msgs []types.AgentMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	out := "Messages addressed to you:\n"
	for _, msg := range msgs {
		switch msg.Type {
		case types.MessageCommand:
			out += fmt.Sprintf("- [command from %s] %v\n", msg.Sender, msg.Content["instruction"])
		case types.MessageEvidence:
			out += fmt.Sprintf("- [evidence from %s] %v (confidence %v)\n",
				msg.Sender, msg.Content["conclusion"], msg.Content["confidence"])
		case types.MessageFeedback:
			out += fmt.Sprintf("- [feedback from %s] %v\n", msg.Sender, msg.Content["conclusion"])
		default:
			out += fmt.Sprintf("- [%s from %s]\n", msg.Type, msg.Sender)
		}
	}
	return out
}

func clone(mb map[string][]types.AgentMessage) map[string][]types.AgentMessage {
	out := make(map[string][]types.AgentMessage, len(mb)+1)
	for receiver, queue := range mb {
		copied := make([]types.AgentMessage, len(queue))
		copy(copied, queue)
		out[receiver] = copied
	}
	return out
}
