package strategy

import "sync"

type StateMachine struct {
	mu    sync.Mutex
	Phase Phase
}

func NewStateMachine() *StateMachine {
	return &StateMachine{Phase: PhaseIdle}
}

// Apply moves the machine along the transition table. Events that do not
// apply to the current phase leave it unchanged.
func (s *StateMachine) Apply(event Event) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Phase = nextPhase(s.Phase, event)
	return s.Phase
}

func (s *StateMachine) Current() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Phase
}

func nextPhase(current Phase, event Event) Phase {
	if event == EventReset {
		return PhaseIdle
	}
	switch current {
	case PhaseIdle:
		if event == EventSubmit {
			return PhaseEntering
		}
		// a fill nobody was waiting for still opens a position
		if event == EventOpened {
			return PhaseOpen
		}
	case PhaseEntering:
		if event == EventOpened {
			return PhaseOpen
		}
		if event == EventEntryFailed {
			return PhaseIdle
		}
	case PhaseOpen:
		if event == EventExit {
			return PhaseExiting
		}
		if event == EventClosed {
			return PhaseIdle
		}
	case PhaseExiting:
		if event == EventClosed {
			return PhaseIdle
		}
	}
	return current
}
