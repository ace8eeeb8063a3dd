// Package management is a client for the tenant management API, the source
// of truth for businesses, accounts and product catalogues.
package management

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the management API has no such resource.
var ErrNotFound = errors.New("management: resource not found")

// TokenSource supplies the bearer token for service-to-service calls.
type TokenSource interface {
	ServiceToken() (string, error)
}

// Business is the tenant business that owns a channel number.
type Business struct {
	AccountID          string    `json:"accountId"`
	ChannelNumberID    string    `json:"channelNumberId"`
	DisplayPhoneNumber string    `json:"displayPhoneNumber"`
	BusinessName       string    `json:"businessName"`
	Tagline            string    `json:"tagline"`
	AccessToken        string    `json:"accessToken"`
	Disabled           bool      `json:"disabled"`
	SubscriptionEnd    time.Time `json:"subscriptionEndDate"`
}

// Account is a tenant account with its messaging allowance.
type Account struct {
	ID                           string    `json:"id"`
	MaxAllowedDailyConversations int       `json:"maxAllowedDailyConversations"`
	Disabled                     bool      `json:"disabled"`
	SubscriptionEndDate          time.Time `json:"subscriptionEndDate"`
}

// Product is a catalogue entry.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"shortDescription"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
}

// ProductPage is a page of a catalogue.
type ProductPage struct {
	Items []Product `json:"items"`
	Total int       `json:"total"`
}

// HTTPStatusError captures non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("management: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client calls the management API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient creates a Client for baseURL.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("management: base url is required")
	}
	if tokens == nil {
		return nil, errors.New("management: token source is required")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BusinessByChannelNumber fetches the business owning a channel number.
func (c *Client) BusinessByChannelNumber(ctx context.Context, channelNumberID string) (*Business, error) {
	var out Business
	path := "/api/v1/businesses/by-channel-number/" + url.PathEscape(channelNumberID)
	if err := c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	if out.ChannelNumberID == "" {
		out.ChannelNumberID = channelNumberID
	}
	return &out, nil
}

// AccountByID fetches a tenant account.
func (c *Client) AccountByID(ctx context.Context, accountID string) (*Account, error) {
	var out Account
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(accountID), nil, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = accountID
	}
	return &out, nil
}

// ListProducts fetches a page of an account's catalogue.
func (c *Client) ListProducts(ctx context.Context, accountID string, skip, take int) (*ProductPage, error) {
	query := url.Values{}
	query.Set("skip", strconv.Itoa(skip))
	query.Set("take", strconv.Itoa(take))

	var out ProductPage
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(accountID)+"/products", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	token, err := c.tokens.ServiceToken()
	if err != nil {
		return fmt.Errorf("management: service token: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("management: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("management: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("management: read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPStatusError{StatusCode: resp.StatusCode, URL: endpoint, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("management: decode response: %w", err)
	}
	return nil
}
