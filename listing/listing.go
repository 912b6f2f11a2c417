// Package listing is the client boundary to the marketplace listing
// service. The ledger only pushes one-way notifications here; listing
// approval and pricing workflows live on the other side.
package listing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Client handles communication with the marketplace listing service
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// CreateListingRequest is sent once per crop line-item when a batch is
// approved.
type CreateListingRequest struct {
	BatchID  string          `json:"batch_id"`
	FarmerID string          `json:"farmer_id"`
	CropID   uint            `json:"crop_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Status   string          `json:"status"`
}

// ListingRef identifies the listing materialized by the collaborator.
type ListingRef struct {
	ListingID int64  `json:"listing_id"`
	Status    string `json:"status"`
}

// NewClient creates a new listing service client
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateListing asks the marketplace to materialize one listing for a crop
// line-item. Called after the approval transaction has committed; a failure
// here never rolls back the approval.
func (c *Client) CreateListing(req CreateListingRequest) (*ListingRef, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal listing request: %w", err)
	}

	resp, err := c.httpClient.Post(
		c.endpoint+"/api/listings",
		"application/json",
		bytes.NewBuffer(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reach listing service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read listing response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("listing service returned status %d: %s", resp.StatusCode, string(body))
	}

	var ref ListingRef
	if err := json.Unmarshal(body, &ref); err != nil {
		return nil, fmt.Errorf("failed to parse listing response: %w", err)
	}
	return &ref, nil
}

// HealthCheck verifies the listing service is reachable
func (c *Client) HealthCheck() error {
	resp, err := c.httpClient.Get(c.endpoint + "/health")
	if err != nil {
		return fmt.Errorf("listing service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing service health check returned status %d", resp.StatusCode)
	}
	return nil
}
