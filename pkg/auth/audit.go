package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/platinummonkey/fursona/pkg/observability"
)

// Audit actions
const (
	ActionRegister      = "auth.register"
	ActionLogin         = "auth.login"
	ActionTokenRejected = "auth.token_rejected"
)

// Audit outcomes
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)

// AuditEvent is one security relevant event
type AuditEvent struct {
	Action    string
	Status    string
	UserID    int64
	Email     string
	IPAddress string
	UserAgent string
	Err       error
}

// EventFromRequest fills in the client address and user agent of r
func EventFromRequest(r *http.Request, action, status string) AuditEvent {
	return AuditEvent{
		Action:    action,
		Status:    status,
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// AuditLogger writes audit events to the structured log
type AuditLogger struct {
	logger *observability.Logger
}

// NewAuditLogger creates an AuditLogger. A nil logger uses the one on the
// event's context.
func NewAuditLogger(logger *observability.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Log records ev. Failures are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, ev AuditEvent) {
	logger := al.logger
	if logger == nil {
		logger = observability.FromContext(ctx)
	}

	fields := map[string]interface{}{
		"audit":      true,
		"action":     ev.Action,
		"status":     ev.Status,
		"ip_address": ev.IPAddress,
	}
	if ev.UserID > 0 {
		fields["user_id"] = ev.UserID
	}
	if ev.Email != "" {
		fields["email"] = ev.Email
	}
	if ev.UserAgent != "" {
		fields["user_agent"] = ev.UserAgent
	}

	entry := logger.WithFields(fields)
	if ev.Err != nil {
		entry = entry.WithError(ev.Err)
	}
	if ev.Status == StatusSuccess {
		entry.Info("audit event")
		return
	}
	entry.Warn("audit event")
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// host without its port.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
