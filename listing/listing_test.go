package listing_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmchainx/provenance/listing"
)

func TestCreateListingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/listings", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req listing.CreateListingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "FCX-TOM-250101-AAAAAA", req.BatchID)
		assert.Equal(t, "FRM-1", req.FarmerID)
		assert.Equal(t, uint(7), req.CropID)
		assert.Equal(t, "42.50", req.Quantity.StringFixed(2))
		assert.True(t, req.Price.IsZero())
		assert.Equal(t, "ACTIVE", req.Status)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(listing.ListingRef{ListingID: 42, Status: "ACTIVE"})
	}))
	defer srv.Close()

	client := listing.NewClient(srv.URL)
	ref, err := client.CreateListing(listing.CreateListingRequest{
		BatchID:  "FCX-TOM-250101-AAAAAA",
		FarmerID: "FRM-1",
		CropID:   7,
		Quantity: decimal.RequireFromString("42.5"),
		Price:    decimal.Zero,
		Status:   "ACTIVE",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), ref.ListingID)
	assert.Equal(t, "ACTIVE", ref.Status)
}

func TestCreateListingAcceptsOK(t *testing.T) {
	// some deployments answer 200 instead of 201
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(listing.ListingRef{ListingID: 7, Status: "ACTIVE"})
	}))
	defer srv.Close()

	client := listing.NewClient(srv.URL)
	ref, err := client.CreateListing(listing.CreateListingRequest{BatchID: "FCX-TOM-250101-BBBBBB"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), ref.ListingID)
}

func TestCreateListingErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"capacity exceeded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := listing.NewClient(srv.URL)
	_, err := client.CreateListing(listing.CreateListingRequest{BatchID: "FCX-TOM-250101-CCCCCC"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "capacity exceeded")
}

func TestCreateListingUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := listing.NewClient(srv.URL)
	_, err := client.CreateListing(listing.CreateListingRequest{BatchID: "FCX-TOM-250101-DDDDDD"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach listing service")
}

func TestCreateListingMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := listing.NewClient(srv.URL)
	_, err := client.CreateListing(listing.CreateListingRequest{BatchID: "FCX-TOM-250101-EEEEEE"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse listing response")
}

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := listing.NewClient(srv.URL)
	assert.NoError(t, client.HealthCheck())
}

func TestHealthCheckFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := listing.NewClient(srv.URL)
	err := client.HealthCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	srv.Close()
	down := listing.NewClient(srv.URL)
	err = down.HealthCheck()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}
