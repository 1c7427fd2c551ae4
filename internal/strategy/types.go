package strategy

// Phase is the lifecycle phase of the single tradable position.
type Phase string

type Event string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseEntering Phase = "ENTERING"
	PhaseOpen     Phase = "OPEN"
	PhaseExiting  Phase = "EXITING"
)

const (
	EventSubmit      Event = "SUBMIT"
	EventEntryFailed Event = "ENTRY_FAILED"
	EventOpened      Event = "OPENED"
	EventExit        Event = "EXIT"
	EventClosed      Event = "CLOSED"
	EventReset       Event = "RESET"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// OrderSide is the exchange order side that opens a position on s.
func (s Side) OrderSide() string {
	if s == SideShort {
		return "ask"
	}
	return "bid"
}

// ExitSide is the exchange order side that reduces a position on s.
func (s Side) ExitSide() string {
	if s == SideShort {
		return "bid"
	}
	return "ask"
}

// SideFromOrderSide maps "bid"/"ask" (or "long"/"short") to a Side.
func SideFromOrderSide(side string) (Side, bool) {
	switch side {
	case "bid", "long", "buy":
		return SideLong, true
	case "ask", "short", "sell":
		return SideShort, true
	default:
		return "", false
	}
}

type Signal int

const (
	SignalNone Signal = iota
	SignalLong
	SignalShort
)

func (s Signal) String() string {
	switch s {
	case SignalLong:
		return "open-long"
	case SignalShort:
		return "open-short"
	default:
		return "none"
	}
}

// Side returns the position side the signal opens.
func (s Signal) Side() (Side, bool) {
	switch s {
	case SignalLong:
		return SideLong, true
	case SignalShort:
		return SideShort, true
	default:
		return "", false
	}
}
