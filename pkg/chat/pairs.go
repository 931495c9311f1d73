package chat

// Pair identifiers are derived from message identifiers so that recomputing
// them over an unchanged sequence is idempotent. Three shapes exist:
//
//   - pair-<userMessageID>: a user message, shared by the assistant message
//     that directly follows it (no intervening turns)
//   - single-<assistantMessageID>: an assistant message with no user message
//     directly before it
//   - other-<messageID>: any other role
//
// A later assistant reply never retroactively attaches to an earlier
// unanswered user message: when two user messages arrive back to back, the
// first one keeps a dangling pair-<id> and the reply pairs with the second.

const (
	pairPrefix   = "pair-"
	singlePrefix = "single-"
	otherPrefix  = "other-"
)

// AssignPairs attaches a PairID to every message in the slice, which must be
// ordered by creation time ascending (ties broken by insertion order). The
// input slice is returned with PairID set in place.
func AssignPairs(messages []*Message) []*Message {
	currentPairID := ""
	lastUserMessageID := ""

	for i, msg := range messages {
		switch msg.Role {
		case RoleUser:
			lastUserMessageID = msg.ID
			currentPairID = pairPrefix + msg.ID
		case RoleAssistant:
			directReply := lastUserMessageID != "" && i > 0 && messages[i-1].Role == RoleUser
			if !directReply {
				currentPairID = singlePrefix + msg.ID
			}
			lastUserMessageID = ""
		default:
			currentPairID = otherPrefix + msg.ID
		}
		msg.PairID = currentPairID
	}

	return messages
}

// NextPairID computes the pair id for a message about to be appended to an
// existing list, using the same rules as AssignPairs: an assistant message
// extends the pending user pair only when the last persisted message is a
// user turn.
func NextPairID(existing []*Message, msg *Message) string {
	switch msg.Role {
	case RoleUser:
		return pairPrefix + msg.ID
	case RoleAssistant:
		if n := len(existing); n > 0 && existing[n-1].Role == RoleUser {
			return existing[n-1].PairID
		}
		return singlePrefix + msg.ID
	default:
		return otherPrefix + msg.ID
	}
}
