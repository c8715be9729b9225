package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hession/toolgate/internal/config"
	"github.com/hession/toolgate/internal/dispatch"
	"github.com/hession/toolgate/internal/logger"
	"github.com/hession/toolgate/internal/tools"
)

// Version is the service version reported by the metadata endpoints.
var Version = "0.1.0"

const (
	serviceName     = "toolgate"
	protocolVersion = "2024-08-01"
	maxBodyBytes    = 1 << 20
	requestIDHeader = "X-Request-ID"
)

// Service is what the HTTP layer needs from the dispatcher.
type Service interface {
	Handle(ctx context.Context, message string) dispatch.Envelope
	Invoke(ctx context.Context, name string, params map[string]any) (any, error)
	Batch(ctx context.Context, ops []dispatch.Operation) []dispatch.BatchResult
	Tools() []tools.Listing
	Model() string
	Now() time.Time
}

// Server is the toolgate REST API server.
type Server struct {
	svc    Service
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a new API server.
func NewServer(svc Service, cfg config.ServerConfig, log *slog.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logger.OrDefault(log),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /mcp/server", s.handleMetadata)
	mux.HandleFunc("GET /mcp/tools", s.handleListTools)
	mux.HandleFunc("POST /mcp/tools/batch", s.handleBatch)
	mux.HandleFunc("POST /mcp/tools/{toolName}/invoke", s.handleInvoke)
	mux.HandleFunc("POST /mcp/chat", s.handleChat)

	var handler http.Handler = mux
	handler = s.logMiddleware(handler)
	handler = s.requestIDMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = otelhttp.NewHandler(handler, serviceName)

	s.srv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr, "model", s.svc.Model())
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(dispatch.WithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", dispatch.RequestIDFromContext(r.Context()),
		)
	})
}

// --- Handlers ---

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     serviceName,
		"version":     Version,
		"description": "LLM tool-dispatch service: smart chat with tool calling, direct tool invocation and batch execution",
		"endpoints": map[string]string{
			"health_check":     "/health",
			"server_metadata":  "/mcp/server",
			"tools_list":       "/mcp/tools",
			"tool_execution":   "POST /mcp/tools/{toolName}/invoke",
			"smart_chat":       "POST /mcp/chat",
			"batch_operations": "POST /mcp/tools/batch",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"timestamp":       dispatch.Timestamp(s.svc.Now()),
		"tools_available": len(s.svc.Tools()),
		"model":           s.svc.Model(),
		"endpoints": map[string]string{
			"metadata":    "/mcp/server",
			"tools_list":  "/mcp/tools",
			"tool_invoke": "/mcp/tools/:name/invoke",
			"smart_chat":  "/mcp/chat",
			"batch_tools": "/mcp/tools/batch",
		},
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": protocolVersion,
		"capabilities": map[string]bool{
			"tools":         true,
			"reasoning":     true,
			"smart_calling": true,
		},
		"vendor": map[string]string{
			"name":    serviceName,
			"version": Version,
		},
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	listings := s.svc.Tools()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": listings,
		"count": len(listings),
	})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("toolName")

	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	params := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body must be a JSON object"})
			return
		}
	}

	result, err := s.svc.Invoke(r.Context(), name, params)
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": tools.ErrToolNotFound.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
			"tool":    name,
		})
	default:
		writeJSON(w, http.StatusOK, dispatch.BuildInvokeResponse(name, result, s.svc.Now()))
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	message := gjson.GetBytes(body, "message")
	if !gjson.ValidBytes(body) || message.Type != gjson.String || message.String() == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message must be a non-empty string"})
		return
	}

	env := s.svc.Handle(r.Context(), message.String())
	writeJSON(w, http.StatusOK, dispatch.BuildChatResponse(env, s.svc.Now()))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	operations := gjson.GetBytes(body, "operations")
	if !gjson.ValidBytes(body) || !operations.IsArray() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "operations must be an array"})
		return
	}

	// Malformed items fail in place; the rest run as one batch.
	results := []dispatch.BatchResult{}
	var (
		ops   []dispatch.Operation
		slots []int
	)
	operations.ForEach(func(_, item gjson.Result) bool {
		op, err := decodeOperation(item)
		if err != nil {
			results = append(results, dispatch.BatchResult{ToolName: op.ToolName, Error: err.Error()})
			return true
		}
		slots = append(slots, len(results))
		results = append(results, dispatch.BatchResult{ToolName: op.ToolName})
		ops = append(ops, op)
		return true
	})

	if len(ops) > 0 {
		ran := s.svc.Batch(r.Context(), ops)
		for i, slot := range slots {
			if i < len(ran) {
				results[slot] = ran[i]
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// decodeOperation reads one batch item. A toolName that is not a string is
// reported as an unknown tool under its raw JSON text.
func decodeOperation(item gjson.Result) (dispatch.Operation, error) {
	if !item.IsObject() {
		return dispatch.Operation{ToolName: item.Raw}, errors.New("operation must be an object")
	}

	name := item.Get("toolName")
	if name.Type != gjson.String {
		return dispatch.Operation{ToolName: name.Raw}, tools.ErrToolNotFound
	}
	op := dispatch.Operation{ToolName: name.String()}

	params := item.Get("parameters")
	if !params.Exists() || params.Type == gjson.Null {
		return op, nil
	}
	if !params.IsObject() {
		return op, errors.New("parameters must be an object")
	}
	if err := json.Unmarshal([]byte(params.Raw), &op.Parameters); err != nil {
		return op, fmt.Errorf("invalid parameters: %w", err)
	}
	return op, nil
}

// --- Helpers ---

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
