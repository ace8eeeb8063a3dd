package dialogue

import (
	"encoding/json"
	"fmt"
)

// SnapshotVersion is the version of the persisted document layout.
const SnapshotVersion = 1

// DefaultPageSize is the product page size when none is configured.
const DefaultPageSize = 7

// Snapshot is the complete, serializable state of one user's dialogue.
type Snapshot struct {
	Version int     `json:"version"`
	State   StateID `json:"state"`
	Context Context `json:"context"`
}

// New returns the initial snapshot for a user seen for the first time.
func New(contact Contact, channel Channel, take int) Snapshot {
	if take <= 0 {
		take = DefaultPageSize
	}
	return Snapshot{
		Version: SnapshotVersion,
		State:   HomeReady,
		Context: Context{
			Contact:    contact,
			Channel:    channel,
			Pagination: Pagination{Take: take},
		},
	}
}

// Encode serializes the snapshot as a self-describing JSON document.
func (s Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode rehydrates a snapshot. A document stored mid-execution (the process
// died before settling) resumes in the leaf's ready state. The reserved
// product view has no handler and resumes in the products menu.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode dialogue snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("unsupported dialogue snapshot version %d", s.Version)
	}
	if !s.State.Valid() {
		return Snapshot{}, fmt.Errorf("unknown dialogue state %q", s.State)
	}
	if s.State == ProductsView {
		s.State = ProductsMenuReady
		s.Context.Pending = nil
	}
	if s.State.Phase() == PhaseExecuting {
		s.State = s.State.Leaf().state(PhaseReady)
		s.Context.Pending = nil
	}
	if s.Context.Pagination.Take <= 0 {
		s.Context.Pagination.Take = DefaultPageSize
	}
	return s, nil
}
