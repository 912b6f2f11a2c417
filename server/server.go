package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/farmchainx/provenance/logger"
	"github.com/farmchainx/provenance/srvreg"
)

// WebServer handles HTTP requests for the provenance ledger
type WebServer struct {
	httpAddr        string
	server          *http.Server
	serviceRegistry *srvreg.ServiceRegistry
	startTime       time.Time
}

// NewWebServer creates a new ledger web server
func NewWebServer(httpPort string, serviceRegistry *srvreg.ServiceRegistry) *WebServer {
	mux := http.NewServeMux()

	ws := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:    ":" + httpPort,
			Handler: mux,
		},
		serviceRegistry: serviceRegistry,
		startTime:       time.Now(),
	}

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/info", ws.handleRegistry)
	mux.HandleFunc("/api/", ws.handleRegistry)

	return ws
}

// Start starts the web server
func (ws *WebServer) Start() error {
	logger.Info("starting ledger web server", zap.String("addr", ws.httpAddr))

	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("web server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	logger.Info("shutting down web server")
	return ws.server.Shutdown(ctx)
}

// handleHealth reports liveness and uptime
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"uptime": time.Since(ws.startTime).Round(time.Second).String(),
	})
}

// handleRegistry routes all ledger endpoints through the service registry
func (ws *WebServer) handleRegistry(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		jsonError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	req := &srvreg.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Body:   string(bodyBytes),
	}

	response, err := req.GenerateResponse(ws.serviceRegistry)
	if err != nil {
		logger.Error("error generating response", zap.Error(err))
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeResponse(w, response)
}

// writeResponse writes a Response to http.ResponseWriter
func writeResponse(w http.ResponseWriter, resp *srvreg.Response) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write([]byte(resp.Body))
}

// jsonError writes a JSON error response
func jsonError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
