package domain

import (
	"encoding/json"
	"time"
)

// DialogueSnapshot is the persisted dialogue state of one user on one channel number.
type DialogueSnapshot struct {
	ChannelNumberID string
	UserID          string
	Document        json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SnapshotKey builds the composite key of a snapshot.
func SnapshotKey(channelNumberID, userID string) string {
	return channelNumberID + ":" + userID
}

// Product is a catalogue entry offered by a tenant.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       string
	Currency    string
}

// ProductPage is one page of a tenant's catalogue.
type ProductPage struct {
	Items []Product
	Total int
	Skip  int
	Take  int
}
