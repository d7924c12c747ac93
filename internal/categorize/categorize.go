// Package categorize classifies a raw conversation record into the list it
// belongs to. Classification is a pure function of its inputs so it can be
// invoked from exactly one place in the sync path without intermediate state.
package categorize

import (
	"github.com/sociora/sociora-go/internal/decision"
	"github.com/sociora/sociora-go/internal/model"
)

type Category int

const (
	// Active conversations show in the main direct or group list.
	Active Category = iota
	// IncomingRequest conversations await an accept/decline from the viewer.
	IncomingRequest
	// Suppressed conversations are hidden: the viewer's own outgoing request,
	// or one the viewer already declined.
	Suppressed
)

func (c Category) String() string {
	switch c {
	case Active:
		return "active"
	case IncomingRequest:
		return "incoming_request"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// DecisionLookup is the read side of the durable decision cache.
type DecisionLookup interface {
	Get(conversationID string) (decision.Decision, bool)
}

// Classify applies the rules in order. A persisted human decision always wins
// over server-derived state; groups are always active; a two-party thread
// started by someone the viewer does not follow is an incoming request;
// everything else already has mutual history and stays active.
func Classify(conv *model.Conversation, viewerID string, following map[string]struct{}, decisions DecisionLookup) Category {
	if decisions != nil {
		if d, ok := decisions.Get(conv.ID); ok {
			if d == decision.Accepted {
				return Active
			}
			return Suppressed
		}
	}

	if conv.Kind == model.KindGroup {
		return Active
	}

	if conv.CreatorID != "" && conv.CreatorID == viewerID {
		return Suppressed
	}

	participants := conv.ValidParticipants()
	if len(participants) == 2 && conv.HasParticipant(viewerID) {
		other, ok := conv.Counterpart(viewerID)
		if ok && conv.CreatorID == other {
			if _, follows := following[other]; !follows {
				return IncomingRequest
			}
		}
	}

	return Active
}
