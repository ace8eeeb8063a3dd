// Package dialogue implements the per-user conversational state machine.
//
// The machine is a pure reducer, Step, over a serializable Snapshot. Side
// effects are returned as Effect values and interpreted by an Actor, which
// owns the I/O: running leaf handlers, fetching catalogue pages and sending
// entry prompts.
package dialogue

import (
	"strings"

	"github.com/pondem87/thuso-monorepo-sub000/internal/domain"
)

// StateID is a fully qualified state path.
type StateID string

const (
	HomeReady             StateID = "home.ready"
	HomeExecuting         StateID = "home.executing"
	HomeExecuted          StateID = "home.executed"
	ProductsMenuReady     StateID = "products.menu.ready"
	ProductsMenuExecuting StateID = "products.menu.executing"
	ProductsMenuExecuted  StateID = "products.menu.executed"
	// ProductsView is reserved for a product detail leaf.
	ProductsView StateID = "products.view"
)

// Leaf names a state that runs a handler.
type Leaf string

const (
	LeafHome         Leaf = "home"
	LeafProductsMenu Leaf = "products.menu"
	LeafProductsView Leaf = "products.view"
)

// Phase is the execution phase of a leaf.
type Phase string

const (
	PhaseReady     Phase = "ready"
	PhaseExecuting Phase = "executing"
	PhaseExecuted  Phase = "executed"
)

var knownStates = map[StateID]struct{}{
	HomeReady:             {},
	HomeExecuting:         {},
	HomeExecuted:          {},
	ProductsMenuReady:     {},
	ProductsMenuExecuting: {},
	ProductsMenuExecuted:  {},
	ProductsView:          {},
}

// Valid reports whether s is a known state.
func (s StateID) Valid() bool {
	_, ok := knownStates[s]
	return ok
}

// Leaf returns the leaf that s belongs to.
func (s StateID) Leaf() Leaf {
	if s == ProductsView {
		return LeafProductsView
	}
	idx := strings.LastIndex(string(s), ".")
	if idx < 0 {
		return Leaf(s)
	}
	return Leaf(s[:idx])
}

// Phase returns the execution phase of s.
func (s StateID) Phase() Phase {
	if s == ProductsView {
		return PhaseReady
	}
	idx := strings.LastIndex(string(s), ".")
	return Phase(s[idx+1:])
}

// Terminal reports whether the machine is settled in s.
func (s StateID) Terminal() bool {
	return s.Phase() != PhaseExecuting
}

// TopLevel returns the top-level branch of s ("home" or "products").
func (s StateID) TopLevel() string {
	top, _, _ := strings.Cut(string(s), ".")
	return top
}

func (l Leaf) state(p Phase) StateID {
	if l == LeafProductsView {
		return ProductsView
	}
	return StateID(string(l) + "." + string(p))
}

// Transition is a top-level transition requested by a leaf handler.
type Transition string

const (
	TransitionProducts     Transition = "products"
	TransitionExitProducts Transition = "exitProducts"
	TransitionNoChange     Transition = "nochange"
)

// Outcome is what a leaf handler computed for one inbound message.
// Messages are delivered by the orchestrator after the snapshot is stored.
type Outcome struct {
	Transition Transition          `json:"transition"`
	Messages   []domain.Descriptor `json:"messages,omitempty"`
	Skip       *int                `json:"skip,omitempty"`
}

// Contact identifies the user.
type Contact struct {
	WaID string `json:"waId"`
	Name string `json:"name,omitempty"`
}

// Channel identifies the channel number the user talks to.
type Channel struct {
	ChannelNumberID    string `json:"channelNumberId"`
	DisplayPhoneNumber string `json:"displayPhoneNumber,omitempty"`
}

// Pagination is the product list cursor.
type Pagination struct {
	Skip        int `json:"skip"`
	Take        int `json:"take"`
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	Total       int `json:"total"`
}

// Context is the extended state carried alongside the state id.
type Context struct {
	Contact    Contact                `json:"contact"`
	Channel    Channel                `json:"channel"`
	Pagination Pagination             `json:"pagination"`
	Pending    *domain.InboundMessage `json:"pending,omitempty"`
	Output     *Outcome               `json:"output,omitempty"`
}
