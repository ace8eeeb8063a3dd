package domain

import "time"

// TenantMetadata is the cached view of the business owning a channel number.
type TenantMetadata struct {
	ChannelNumberID     string
	TenantID            string
	AccessToken         string
	DisplayPhoneNumber  string
	BusinessName        string
	Tagline             string
	SubscriptionEndDate time.Time
	Disabled            bool
	LastRefreshedAt     time.Time
	CreatedAt           time.Time
}

// TenantAccountMetadata is the cached view of a tenant account.
type TenantAccountMetadata struct {
	TenantID                     string
	MaxAllowedDailyConversations int
	Disabled                     bool
	SubscriptionEndDate          time.Time
	LastRefreshedAt              time.Time
	CreatedAt                    time.Time
}

// Eligible reports whether messages may be sent on behalf of the channel's tenant.
func (m *TenantMetadata) Eligible(now time.Time) bool {
	return m != nil && !m.Disabled && m.SubscriptionEndDate.After(now)
}

// Stale reports whether the row is older than ttl.
func (m *TenantMetadata) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(m.LastRefreshedAt) > ttl
}

// MissingRequired reports whether fields needed for dispatch or branding are empty.
func (m *TenantMetadata) MissingRequired() bool {
	return m.TenantID == "" || m.AccessToken == "" || m.BusinessName == ""
}

// Eligible reports whether the account may open conversations.
func (a *TenantAccountMetadata) Eligible(now time.Time) bool {
	return a != nil && !a.Disabled && a.SubscriptionEndDate.After(now)
}

// Stale reports whether the row is older than ttl.
func (a *TenantAccountMetadata) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(a.LastRefreshedAt) > ttl
}
