package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smsrelay/api/internal/filter"
	"smsrelay/api/internal/session"
	"smsrelay/api/internal/util"
)

type liveServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, f filter.Filter)
}

type HTTPServer struct {
	service        *Service
	live           liveServer
	corsOrigin     string
	trustedProxies []netip.Prefix
	logger         *slog.Logger
}

func NewHTTPServer(service *Service, live liveServer, corsOrigin string) *HTTPServer {
	trusted, err := service.cfg.TrustedProxyPrefixes()
	if err != nil {
		service.logger.Warn("ignoring trusted proxies", "error", err)
		trusted = nil
	}
	return &HTTPServer{
		service:        service,
		live:           live,
		corsOrigin:     corsOrigin,
		trustedProxies: trusted,
		logger:         service.logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.trustedRealIP)
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/ws", s.handleLive)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/check", s.handleCheck)
			r.Post("/change-password", s.handleChangeViewerPassword)
		})
	})

	r.Route("/api/sms", func(r chi.Router) {
		// Device endpoints carry no token.
		r.Post("/receive", s.handleReceive)
		r.Get("/pending", s.handlePending)
		r.Post("/sent", s.handleSent)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Post("/send", s.handleSend)
			r.Get("/conversations", s.handleConversations)
			r.Get("/messages/{phone}", s.handleThread)
			r.Get("/list", s.handleList)
			r.Get("/outbox", s.handleOutbox)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/status", s.handleAdminStatus)
		r.Post("/init", s.handleAdminInit)
		r.Post("/login", s.handleAdminLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/change-password", s.handleAdminChangePassword)
			r.Get("/info", s.handleAdminInfo)
			r.Get("/sub-accounts", s.handleListSubAccounts)
			r.Post("/sub-accounts", s.handleCreateSubAccount)
			r.Put("/sub-accounts/{id}", s.handleUpdateSubAccount)
			r.Delete("/sub-accounts/{id}", s.handleDeleteSubAccount)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

type requestIDKey struct{}

type sessionKey struct{}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func sessionFromContext(ctx context.Context) session.Session {
	sess, _ := ctx.Value(sessionKey{}).(session.Session)
	return sess
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		status := writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

// trustedRealIP lets a configured proxy name the client through chi's RealIP.
// Forwarding headers from any other peer are ignored, so the login throttle
// keys on the socket address.
func (s *HTTPServer) trustedRealIP(next http.Handler) http.Handler {
	realIP := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.fromTrustedProxy(r) {
			realIP.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) fromTrustedProxy(r *http.Request) bool {
	if len(s.trustedProxies) == 0 {
		return false
	}
	peer, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	addr := peer.Addr().Unmap()
	for _, prefix := range s.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.service.Authenticate(bearerToken(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func (s *HTTPServer) requireAdmin(next http.Handler) http.Handler {
	return s.requireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sessionFromContext(r.Context()).IsAdmin {
			s.fail(w, r, forbidden())
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, fields map[string]any) {
	response := map[string]any{"success": true}
	for k, v := range fields {
		response[k] = v
	}
	writeJSON(w, http.StatusOK, response)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// fail writes err as a JSON error. Unrecognized errors are logged and
// reported generically.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidArgument(key + " must be an integer")
	}
	return value, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidArgument("id must be a positive integer")
	}
	return id, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(translate(err), &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	activeSessionsGauge.Set(float64(s.service.sessions.Len()))
	promhttp.Handler().ServeHTTP(w, r)
}

// handleLive upgrades to the live channel. Browsers cannot set headers on a
// WebSocket handshake, so the token may also come from the query string.
func (s *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	sess, err := s.service.Authenticate(token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.live.ServeWS(w, r, sess.Filter)
}
