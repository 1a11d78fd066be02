package engage

import (
	"github.com/launchfleet/launchbot/internal/transport"
)

// HistoryWindow bounds how far back reply resolution walks.
const HistoryWindow = 100

// Resolved describes the message a reply points at.
type Resolved struct {
	Message      *transport.Message
	FromAgent    bool
	IsAttachment bool
}

// ResolveReply finds the referenced message in recent history and classifies
// it. Returns nil when the reference is not present in the window: the caller
// must fail closed and treat the message as not-a-reply-to-agent.
func ResolveReply(reply *transport.Reply, history []transport.Message, agentID string) *Resolved {
	if reply == nil || reply.Reference == "" {
		return nil
	}
	// Newest last; walk backwards so the common case (replying to something
	// recent) terminates early.
	start := len(history) - 1
	stop := 0
	if len(history) > HistoryWindow {
		stop = len(history) - HistoryWindow
	}
	for i := start; i >= stop; i-- {
		if history[i].ID != reply.Reference {
			continue
		}
		m := history[i]
		return &Resolved{
			Message:      &m,
			FromAgent:    m.SenderID == agentID,
			IsAttachment: m.ContentType == transport.ContentAttachment,
		}
	}
	return nil
}
