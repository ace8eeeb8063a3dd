package dialogue

import (
	"errors"
	"fmt"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// EventType enumerates inputs to Step.
type EventType string

const (
	EventMessage      EventType = "message"
	EventDone         EventType = "done"
	EventFailed       EventType = "failed"
	EventPageLoaded   EventType = "pageLoaded"
	EventProducts     EventType = EventType(TransitionProducts)
	EventExitProducts EventType = EventType(TransitionExitProducts)
	EventNoChange     EventType = EventType(TransitionNoChange)
)

// Event is one input to the machine.
type Event struct {
	Type    EventType              `json:"type"`
	Message *domain.InboundMessage `json:"message,omitempty"`
	Outcome *Outcome               `json:"outcome,omitempty"`
	Total   int                    `json:"total,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// TransitionEvent converts a handler transition into the matching event.
func TransitionEvent(t Transition) Event {
	return Event{Type: EventType(t)}
}

// EffectType enumerates side effects requested by Step.
type EffectType string

const (
	// EffectExecute runs the leaf handler on the pending message.
	EffectExecute EffectType = "execute"
	// EffectEnter runs the entry hook of a state.
	EffectEnter EffectType = "enter"
)

// Effect is a side effect for the Actor to perform.
type Effect struct {
	Type  EffectType
	State StateID
	Via   EventType
}

var (
	// ErrBusy is returned for inputs that arrive while a leaf is executing.
	ErrBusy = errors.New("dialogue: leaf is executing")
	// ErrNotExecuting is returned for completion events with nothing in flight.
	ErrNotExecuting = errors.New("dialogue: no leaf is executing")
	// ErrInvalidTransition is returned for transitions not defined from the current state.
	ErrInvalidTransition = errors.New("dialogue: invalid transition")
)

// Step is the pure transition function of the machine. It never mutates s.
func Step(s Snapshot, ev Event) (Snapshot, []Effect, error) {
	next := s
	leaf := s.State.Leaf()
	executing := s.State.Phase() == PhaseExecuting

	switch ev.Type {
	case EventMessage:
		if executing {
			return s, nil, ErrBusy
		}
		if ev.Message == nil {
			return s, nil, errors.New("dialogue: message event without message")
		}
		msg := *ev.Message
		next.State = leaf.state(PhaseExecuting)
		next.Context.Pending = &msg
		next.Context.Output = nil
		return next, []Effect{{Type: EffectExecute, State: next.State, Via: ev.Type}}, nil

	case EventDone:
		if !executing {
			return s, nil, ErrNotExecuting
		}
		if ev.Outcome == nil {
			return s, nil, errors.New("dialogue: done event without outcome")
		}
		out := *ev.Outcome
		next.State = leaf.state(PhaseExecuted)
		next.Context.Pending = nil
		next.Context.Output = &out
		if out.Skip != nil {
			skip := *out.Skip
			if skip < 0 {
				skip = 0
			}
			next.Context.Pagination.Skip = skip
		}
		return next, nil, nil

	case EventFailed:
		if !executing {
			return s, nil, ErrNotExecuting
		}
		next.State = leaf.state(PhaseReady)
		next.Context.Pending = nil
		next.Context.Output = nil
		return next, nil, nil

	case EventPageLoaded:
		next.Context.Pagination = paginate(s.Context.Pagination, ev.Total)
		return next, nil, nil

	case EventProducts:
		if executing {
			return s, nil, ErrBusy
		}
		if s.State.TopLevel() != "home" {
			return s, nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev.Type, s.State)
		}
		next.State = ProductsMenuReady
		next.Context.Pagination.Skip = 0
		return next, []Effect{{Type: EffectEnter, State: ProductsMenuReady, Via: ev.Type}}, nil

	case EventExitProducts:
		if executing {
			return s, nil, ErrBusy
		}
		if s.State.TopLevel() != "products" {
			return s, nil, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev.Type, s.State)
		}
		next.State = HomeReady
		next.Context.Pagination = Pagination{Take: s.Context.Pagination.Take}
		return next, []Effect{{Type: EffectEnter, State: HomeReady, Via: ev.Type}}, nil

	case EventNoChange:
		if executing {
			return s, nil, ErrBusy
		}
		next.State = leaf.state(PhaseReady)
		return next, []Effect{{Type: EffectEnter, State: next.State, Via: ev.Type}}, nil
	}

	return s, nil, fmt.Errorf("dialogue: unknown event %q", ev.Type)
}

// Replay folds events over s, ignoring effects.
func Replay(s Snapshot, events []Event) (Snapshot, error) {
	for _, ev := range events {
		var err error
		if s, _, err = Step(s, ev); err != nil {
			return s, err
		}
	}
	return s, nil
}

func paginate(p Pagination, total int) Pagination {
	if p.Take <= 0 {
		p.Take = DefaultPageSize
	}
	if total < 0 {
		total = 0
	}
	p.Total = total
	p.TotalPages = (total + p.Take - 1) / p.Take
	p.CurrentPage = p.Skip/p.Take + 1
	if p.TotalPages == 0 {
		p.CurrentPage = 0
	}
	return p
}
