package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/auth"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/generation"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/ratelimit"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/workflow"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	limiter    ratelimit.Limiter
	logger     *zap.Logger
}

// NewHTTPServer wires the API. A nil limiter disables rate limiting.
func NewHTTPServer(service *Service, corsOrigin string, limiter ratelimit.Limiter, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, limiter: limiter, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, r, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
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

		writeJSON(w, r, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/metrics" {
		writeJSON(w, r, http.StatusOK, s.service.Metrics())
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 2 && parts[0] == "share" {
		s.handleConsumeShareLink(w, r, parts[1])
		return
	}

	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	caller, ok := s.requireCaller(w, r, parts)
	if !ok {
		return
	}
	if !s.allow(w, r, caller) {
		return
	}

	if r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "me" {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"userId":      caller.UserID,
			"email":       caller.Email,
			"displayName": caller.DisplayName,
		})
		return
	}

	switch parts[1] {
	case "projects":
		s.handleProjects(w, r, caller, parts)
		return
	case "share-links":
		s.handleShareLinks(w, r, caller, parts)
		return
	case "sessions":
		if len(parts) == 3 && r.Method == http.MethodDelete {
			if err := s.service.EndSessionByID(r.Context(), caller, parts[2]); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, r, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// requireCaller authenticates the bearer token. Project routes also accept
// an anonymous caller presenting a share token.
func (s *HTTPServer) requireCaller(w http.ResponseWriter, r *http.Request, parts []string) (Caller, bool) {
	shareToken := strings.TrimSpace(r.Header.Get("X-Share-Token"))
	token := bearerToken(r)
	if token == "" {
		if shareToken != "" && len(parts) >= 3 && parts[1] == "projects" {
			return Caller{ShareToken: shareToken, Origin: r.Header.Get("Origin"), Referer: r.Header.Get("Referer")}, true
		}
		writeError(w, r, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required", nil)
		return Caller{}, false
	}
	caller, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)
		return Caller{}, false
	}
	caller.ShareToken = shareToken
	caller.Origin = r.Header.Get("Origin")
	caller.Referer = r.Header.Get("Referer")
	return caller, true
}

// optionalCaller authenticates when a bearer token is present and falls
// back to an anonymous caller otherwise.
func (s *HTTPServer) optionalCaller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	token := bearerToken(r)
	if token == "" {
		return Caller{}, true
	}
	caller, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)
		return Caller{}, false
	}
	return caller, true
}

// allow applies the per-caller budget. Limiter errors fail open.
func (s *HTTPServer) allow(w http.ResponseWriter, r *http.Request, caller Caller) bool {
	if s.limiter == nil {
		return true
	}
	key := "user:" + caller.UserID
	if caller.Anonymous() {
		key = "ip:" + clientIP(r)
	}
	decision, err := s.limiter.Allow(r.Context(), key)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
		return true
	}
	if meta := metaFrom(r); meta != nil {
		remaining := decision.Remaining
		meta.rateLimitRemaining = &remaining
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	if !decision.Allowed {
		s.service.metrics.RateLimited()
		seconds := int(decision.RetryAfter.Round(time.Second).Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		s.fail(w, r, errRateLimited(decision.RetryAfter))
		return false
	}
	return true
}

// fail writes err as an envelope. Unexpected errors are logged with their
// cause and reported to the client as DATABASE_ERROR.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r)),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
		if details == nil {
			details = map[string]any{"requestId": requestID(r)}
		}
	}
	writeError(w, r, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		meta := &requestMeta{id: id, started: time.Now()}
		ctx := context.WithValue(r.Context(), requestMetaKey{}, meta)
		r = r.WithContext(ctx)

		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)
		if r.Body != nil {
			r.Body = http.MaxBytesReader(writer, r.Body, maxBodyBytes)
		}

		next.ServeHTTP(writer, r)

		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(meta.started).Milliseconds()),
			zap.String("client_ip", clientIP(r)),
		}
		switch {
		case writer.status >= http.StatusInternalServerError:
			s.logger.Error("request", fields...)
		case writer.status >= http.StatusBadRequest:
			s.logger.Warn("request", fields...)
		default:
			s.logger.Info("request", fields...)
		}
	})
}

type requestMetaKey struct{}

type requestMeta struct {
	id                 string
	started            time.Time
	rateLimitRemaining *int
}

func metaFrom(r *http.Request) *requestMeta {
	meta, _ := r.Context().Value(requestMetaKey{}).(*requestMeta)
	return meta
}

func requestID(r *http.Request) string {
	if meta := metaFrom(r); meta != nil {
		return meta.id
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Share-Token, X-Share-Password")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Remaining, Retry-After")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func envelopeMetadata(r *http.Request) map[string]any {
	metadata := map[string]any{}
	if meta := metaFrom(r); meta != nil {
		metadata["requestId"] = meta.id
		metadata["processingTime"] = time.Since(meta.started).Milliseconds()
		if meta.rateLimitRemaining != nil {
			metadata["rateLimitRemaining"] = *meta.rateLimitRemaining
		}
	}
	return metadata
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"data":     payload,
		"metadata": envelopeMetadata(r),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	body := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":  false,
		"error":    body,
		"metadata": envelopeMetadata(r),
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %v", err)
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
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var violationErr *workflow.ViolationError
	if errors.As(err, &violationErr) {
		mapped := errWorkflow(violationErr)
		return mapped.Status, mapped.Code, mapped.Message, mapped.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required", nil
	}
	if errors.Is(err, generation.ErrTimeout) {
		return http.StatusGatewayTimeout, "GENERATION_TIMEOUT", "Generation timed out", nil
	}
	if errors.Is(err, generation.ErrFailed) {
		return http.StatusBadGateway, "GENERATION_FAILED", "Generation failed", nil
	}
	return http.StatusInternalServerError, "DATABASE_ERROR", "A storage error occurred", nil
}
