package dialogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// DefaultSettleTimeout bounds a leaf handler when none is configured.
const DefaultSettleTimeout = 15 * time.Second

// Sender delivers a descriptor to a user.
type Sender interface {
	Send(ctx context.Context, channelNumberID, userID string, d domain.Descriptor) error
}

// Catalog lists a tenant's products for a channel number.
type Catalog interface {
	ListProducts(ctx context.Context, channelNumberID string, skip, take int) (*domain.ProductPage, error)
}

// FreeText is a user message that did not match any menu.
type FreeText struct {
	ChannelNumberID string    `json:"channel_number_id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name,omitempty"`
	MessageID       string    `json:"message_id"`
	Body            string    `json:"body"`
	ReceivedAt      time.Time `json:"received_at"`
}

// FreeTextForwarder hands free text to whatever answers it. It is called
// off the dialogue's critical path.
type FreeTextForwarder interface {
	Forward(ctx context.Context, ft FreeText) error
}

// Request is the input of a leaf handler.
type Request struct {
	Context Context
	Message domain.InboundMessage
}

// Handler computes the outcome of one inbound message in a leaf.
type Handler func(ctx context.Context, req Request) (Outcome, error)

// Dependencies wires an Actor to the outside world.
type Dependencies struct {
	Sender        Sender
	Catalog       Catalog
	FreeText      FreeTextForwarder
	Logger        *zap.Logger
	SettleTimeout time.Duration
}

// Option customizes an Actor.
type Option func(*Actor)

// WithHandler replaces the handler of a leaf.
func WithHandler(leaf Leaf, h Handler) Option {
	return func(a *Actor) { a.handlers[leaf] = h }
}

// WithJournal observes every event the actor applies.
func WithJournal(fn func(Event)) Option {
	return func(a *Actor) { a.journal = fn }
}

// Actor runs one user's dialogue. It is not safe for concurrent use; callers
// serialize access per user.
type Actor struct {
	deps     Dependencies
	logger   *zap.Logger
	snap     Snapshot
	handlers map[Leaf]Handler
	journal  func(Event)
}

// NewActor rehydrates an actor from snap.
func NewActor(deps Dependencies, snap Snapshot, opts ...Option) *Actor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.SettleTimeout <= 0 {
		deps.SettleTimeout = DefaultSettleTimeout
	}
	logger := deps.Logger.With(
		zap.String("channel_number_id", snap.Context.Channel.ChannelNumberID),
		zap.String("user_id", snap.Context.Contact.WaID),
	)
	a := &Actor{
		deps:     deps,
		logger:   logger,
		snap:     snap,
		handlers: make(map[Leaf]Handler),
	}
	a.handlers[LeafHome] = a.handleHome
	a.handlers[LeafProductsMenu] = a.handleProductsMenu
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Snapshot returns the current state.
func (a *Actor) Snapshot() Snapshot {
	return a.snap
}

// Deliver feeds one inbound message into the active leaf and blocks until it
// settles. It returns the handler outcome when the leaf reached executed, or
// nil when it reverted to ready.
func (a *Actor) Deliver(ctx context.Context, msg domain.InboundMessage) (*Outcome, error) {
	if err := a.Send(ctx, Event{Type: EventMessage, Message: &msg}); err != nil {
		return nil, err
	}
	if a.snap.State.Phase() != PhaseExecuted {
		return nil, nil
	}
	return a.snap.Context.Output, nil
}

// Send applies ev and interprets the resulting effects.
func (a *Actor) Send(ctx context.Context, ev Event) error {
	next, effects, err := Step(a.snap, ev)
	if err != nil {
		return err
	}
	a.snap = next
	if a.journal != nil {
		a.journal(ev)
	}
	for _, eff := range effects {
		switch eff.Type {
		case EffectExecute:
			if err := a.Send(ctx, a.execute(ctx)); err != nil {
				return err
			}
		case EffectEnter:
			a.enter(ctx, eff)
		}
	}
	return nil
}

type handlerResult struct {
	outcome Outcome
	err     error
}

// execute runs the pending message through the leaf handler under the settle
// deadline and returns the completion event.
func (a *Actor) execute(ctx context.Context) Event {
	leaf := a.snap.State.Leaf()
	handler, ok := a.handlers[leaf]
	pending := a.snap.Context.Pending
	if !ok || pending == nil {
		a.logger.Error("no handler for leaf", zap.String("leaf", string(leaf)))
		return Event{Type: EventFailed, Error: "no handler"}
	}

	settleCtx, cancel := context.WithTimeout(ctx, a.deps.SettleTimeout)
	defer cancel()

	req := Request{Context: a.snap.Context, Message: *pending}
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		out, err := handler(settleCtx, req)
		done <- handlerResult{outcome: out, err: err}
	}()

	var res handlerResult
	select {
	case res = <-done:
	case <-settleCtx.Done():
		res = handlerResult{err: fmt.Errorf("leaf did not settle: %w", settleCtx.Err())}
	}

	if res.err == nil && res.outcome.Transition == "" {
		res.err = errors.New("handler returned no transition")
	}
	if res.err != nil {
		a.logger.Error("dialogue handler failed",
			zap.String("leaf", string(leaf)),
			zap.String("message_id", pending.ID),
			zap.String("message_type", string(pending.Type)),
			zap.Error(res.err),
		)
		return Event{Type: EventFailed, Error: res.err.Error()}
	}
	return Event{Type: EventDone, Outcome: &res.outcome}
}

func (a *Actor) enter(ctx context.Context, eff Effect) {
	switch eff.State {
	case HomeReady:
		if eff.Via == EventExitProducts {
			a.prompt(ctx, domain.MenuDescriptor(homeMenuName))
		}
	case ProductsMenuReady:
		a.enterProductsMenu(ctx)
	}
}

// prompt sends an entry message. Entry prompts are safe to repeat, so a
// failure is logged and the dialogue carries on.
func (a *Actor) prompt(ctx context.Context, d domain.Descriptor) {
	if a.deps.Sender == nil {
		return
	}
	c := a.snap.Context
	if err := a.deps.Sender.Send(ctx, c.Channel.ChannelNumberID, c.Contact.WaID, d); err != nil {
		a.logger.Warn("entry prompt not sent", zap.String("state", string(a.snap.State)), zap.Error(err))
	}
}

func (a *Actor) enterProductsMenu(ctx context.Context) {
	if a.deps.Catalog == nil {
		a.prompt(ctx, domain.TextDescriptor(catalogUnavailableText))
		return
	}
	p := a.snap.Context.Pagination
	page, err := a.deps.Catalog.ListProducts(ctx, a.snap.Context.Channel.ChannelNumberID, p.Skip, p.Take)
	if err != nil {
		a.logger.Error("product page fetch failed", zap.Int("skip", p.Skip), zap.Int("take", p.Take), zap.Error(err))
		a.prompt(ctx, domain.TextDescriptor(catalogUnavailableText))
		return
	}
	if err := a.Send(ctx, Event{Type: EventPageLoaded, Total: page.Total}); err != nil {
		a.logger.Error("page event rejected", zap.Error(err))
		return
	}
	a.prompt(ctx, domain.RawBodyDescriptor(productListMessage(a.snap.Context, page.Items)))
}

// forward hands free text to the forwarder without blocking the dialogue.
func (a *Actor) forward(ctx context.Context, ft FreeText) {
	if a.deps.FreeText == nil {
		return
	}
	fwdCtx := context.WithoutCancel(ctx)
	go func() {
		if err := a.deps.FreeText.Forward(fwdCtx, ft); err != nil {
			a.logger.Error("free text forward failed", zap.String("message_id", ft.MessageID), zap.Error(err))
		}
	}()
}
