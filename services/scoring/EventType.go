package scoring

// EventType is an observation about a peer. Punishable events start or extend a punishment,
// the remaining events only feed the reputation counters.
type EventType int

const (
	EventInvalidBlock EventType = iota
	EventInvalidHeader
	EventInvalidMessage
	EventUnexpectedMessage
	EventTimeoutMessage
	EventValidBlock
	EventValidHeader
	EventValidSkeleton

	numEventTypes
)

func (e EventType) String() string {
	switch e {
	case EventInvalidBlock:
		return "InvalidBlock"
	case EventInvalidHeader:
		return "InvalidHeader"
	case EventInvalidMessage:
		return "InvalidMessage"
	case EventUnexpectedMessage:
		return "UnexpectedMessage"
	case EventTimeoutMessage:
		return "TimeoutMessage"
	case EventValidBlock:
		return "ValidBlock"
	case EventValidHeader:
		return "ValidHeader"
	case EventValidSkeleton:
		return "ValidSkeleton"
	default:
		return "Unknown"
	}
}

// IsPunishable reports whether the event starts or extends a punishment.
func (e EventType) IsPunishable() bool {
	switch e {
	case EventInvalidBlock, EventInvalidHeader, EventInvalidMessage, EventUnexpectedMessage, EventTimeoutMessage:
		return true
	default:
		return false
	}
}

func (e EventType) valid() bool {
	return e >= 0 && e < numEventTypes
}
