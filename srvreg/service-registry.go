package srvreg

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/farmchainx/provenance/listing"
	"github.com/farmchainx/provenance/logger"
	"github.com/farmchainx/provenance/repository"
)

// Request represents an incoming HTTP request
type Request struct {
	Method string
	Path   string
	Body   string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// HandlerFunc is a function that handles a request
type HandlerFunc func(*Request) (*Response, error)

// ListingNotifier is the outbound boundary to the marketplace listing
// service, invoked once per crop line-item after batch approval commits.
type ListingNotifier interface {
	CreateListing(req listing.CreateListingRequest) (*listing.ListingRef, error)
}

// ServiceRegistry manages all service handlers
type ServiceRegistry struct {
	handlers   map[string]map[string]HandlerFunc
	repository *repository.Repository
	notifier   ListingNotifier
}

var defaultHeaders = map[string]string{
	"Content-Type": "application/json",
}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(repo *repository.Repository, notifier ListingNotifier) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:   make(map[string]map[string]HandlerFunc),
		repository: repo,
		notifier:   notifier,
	}
}

// RegisterHandler registers a handler for a specific method and path
func (sr *ServiceRegistry) RegisterHandler(method, path string, handler HandlerFunc) {
	if sr.handlers[method] == nil {
		sr.handlers[method] = make(map[string]HandlerFunc)
	}
	sr.handlers[method][path] = handler
	logger.S().Debugf("registered handler: %s %s", method, path)
}

// GetHandlerForPath finds the handler for a given method and path
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (HandlerFunc, bool) {
	methodHandlers, exists := sr.handlers[method]
	if !exists {
		return nil, false
	}

	// Try exact match first
	if handler, exists := methodHandlers[path]; exists {
		return handler, true
	}

	// Try pattern matching for paths with parameters. Map iteration order
	// is random, so pick the winner by specificity instead of first hit.
	var bestPattern string
	var best HandlerFunc
	found := false
	for pattern, handler := range methodHandlers {
		if !matchPath(pattern, path) {
			continue
		}
		if !found || moreSpecific(pattern, bestPattern) {
			bestPattern = pattern
			best = handler
			found = true
		}
	}
	return best, found
}

// moreSpecific reports whether pattern a beats pattern b for the same
// path: at the first segment where only one of them is a parameter, the
// literal side wins. Fully tied patterns fall back to string order so
// routing stays deterministic.
func moreSpecific(a, b string) bool {
	aParts := strings.Split(a, "/")
	bParts := strings.Split(b, "/")
	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		aParam := strings.HasPrefix(aParts[i], ":")
		bParam := strings.HasPrefix(bParts[i], ":")
		if aParam != bParam {
			return bParam
		}
	}
	return a < b
}

// matchPath checks if a path matches a pattern with parameters.
// It supports patterns like "/api/batches/:id" matching "/api/batches/FCX-1".
func matchPath(pattern, path string) bool {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return false
	}

	for i := 0; i < len(patternParts); i++ {
		if strings.HasPrefix(patternParts[i], ":") {
			// This is a parameter, it matches anything
			continue
		}
		if patternParts[i] != pathParts[i] {
			return false
		}
	}

	return true
}

// RegisterDefaultServices sets up all batch ledger endpoints
func (sr *ServiceRegistry) RegisterDefaultServices() {
	sr.RegisterHandler("POST", "/api/batches", sr.CreateBatchHandler)
	sr.RegisterHandler("POST", "/api/crops", sr.LogCropHandler)
	sr.RegisterHandler("GET", "/api/batches/:id", sr.GetBatchHandler)
	sr.RegisterHandler("GET", "/api/batches/farmer/:farmerId", sr.BatchesByFarmerHandler)
	sr.RegisterHandler("GET", "/api/batches/:id/crops", sr.CropsForBatchHandler)
	sr.RegisterHandler("GET", "/api/batches/pending", sr.PendingBatchesHandler)
	sr.RegisterHandler("GET", "/api/batches/approved/:distributorId", sr.ApprovedBatchesHandler)
	sr.RegisterHandler("PUT", "/api/batches/distributor/approve/:id/:distributorId", sr.ApproveBatchHandler)
	sr.RegisterHandler("PUT", "/api/batches/distributor/reject/:id/:distributorId", sr.RejectBatchHandler)
	sr.RegisterHandler("PUT", "/api/batches/:id/status", sr.UpdateStatusHandler)
	sr.RegisterHandler("PUT", "/api/batches/:id/quality", sr.UpdateQualityHandler)
	sr.RegisterHandler("POST", "/api/batches/:id/split", sr.SplitBatchHandler)
	sr.RegisterHandler("POST", "/api/batches/merge/:targetId", sr.MergeBatchesHandler)
	sr.RegisterHandler("GET", "/api/batches/:id/trace", sr.GetTraceHandler)
	sr.RegisterHandler("GET", "/info", sr.InfoHandler)

	logger.Info("all ledger services registered")
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, found := services.GetHandlerForPath(req.Method, req.Path)

	if !found {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Service not found for %s %s"}`, req.Method, req.Path),
		}, nil
	}

	return handler(req)
}

// jsonResponse marshals payload into a Response with the given status
func jsonResponse(statusCode int, payload interface{}) *Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"Failed to encode response"}`,
		}
	}
	return &Response{
		StatusCode: statusCode,
		Headers:    defaultHeaders,
		Body:       string(body),
	}
}

// errorResponse maps a repository error to its HTTP status
func errorResponse(repoErr *repository.RepositoryError) *Response {
	statusCode := http.StatusInternalServerError
	switch repoErr.Code {
	case repository.CodeValidation:
		statusCode = http.StatusBadRequest
	case repository.CodeNotFound:
		statusCode = http.StatusNotFound
	case repository.CodeInvalidState:
		statusCode = http.StatusConflict
	}
	return jsonResponse(statusCode, map[string]string{
		"error":  repoErr.Message,
		"detail": repoErr.Detail,
	})
}

func badRequest(msg string) *Response {
	return jsonResponse(http.StatusBadRequest, map[string]string{"error": msg})
}
