// WhatsApp service - HTTP API server
// Serves the session status and send endpoints plus a WebSocket live stream.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/bus"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/config"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
	sessiondomain "github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/session"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

// SessionStatusProvider exposes the session snapshot.
type SessionStatusProvider interface {
	Status() sessiondomain.Status
}

// MessageSender is the outbound gateway.
type MessageSender interface {
	Send(ctx context.Context, recipient string, msg channel.OutboundMessage) (channel.SendResult, error)
}

// Server is the HTTP API server.
type Server struct {
	config      *config.Config
	sessions    SessionStatusProvider
	messages    MessageSender
	wsHub       *WSHub
	eventBridge *EventBridge
	startTime   time.Time
	server      *http.Server
	mu          sync.Mutex
}

// NewServer creates a new API server instance.
func NewServer(
	cfg *config.Config,
	sessions SessionStatusProvider,
	messages MessageSender,
	eventBus domain.EventBus,
	msgBus *bus.MessageBus,
) *Server {
	// --- Secure-by-default: auto-generate API key if none is configured ---
	// Random key per process, printed once at startup.
	// Set gateway.api_key in the config file or API_KEY to make it permanent.
	if cfg.Gateway.APIKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			cfg.Gateway.APIKey = hex.EncodeToString(raw)
			fmt.Println()
			fmt.Println("╔══════════════════════════════════════════════════════╗")
			fmt.Println("║        WHATSAPP SERVICE API KEY (session token)      ║")
			fmt.Printf("║  %-52s  ║\n", cfg.Gateway.APIKey)
			fmt.Println("║  Set API_KEY or gateway.api_key to make this         ║")
			fmt.Println("║  permanent. Rotate it any time.                      ║")
			fmt.Println("╚══════════════════════════════════════════════════════╝")
			fmt.Println()
		}
	}
	s := &Server{
		config:    cfg,
		sessions:  sessions,
		messages:  messages,
		startTime: time.Now(),
	}
	s.wsHub = NewWSHub(s)
	s.eventBridge = NewEventBridge(eventBus, msgBus, s.wsHub)
	return s
}

// Handler builds the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/messages/send", s.handleSend)

	// WebSocket for live events
	mux.HandleFunc("GET /api/v1/ws", s.wsHub.HandleWebSocket)

	return corsMiddleware(authMiddleware(s.config.Gateway.APIKey, mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Addr()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	logger.InfoCF("api", "API server starting", map[string]interface{}{
		"addr": addr,
	})

	go s.wsHub.Run(ctx)
	s.eventBridge.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.InfoC("api", "API server stopping")
	return srv.Shutdown(ctx)
}

// --- Middleware ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, apikey")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is a trusted localhost address.
func isAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
