// Package security provides security event logging for the token lifecycle
// with PII protection.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when a session's token pair is issued
func (a *Auditor) LogTokenIssued(userID, clientID, sessionID, scope string) {
	a.LogEvent(Event{
		Type:     "token_issued",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"session_id": sessionID,
			"scope":      scope,
		},
	})
}

// LogTokenRefreshed logs when a session is rotated into its successor
func (a *Auditor) LogTokenRefreshed(userID, clientID, sessionID, successorID string) {
	a.LogEvent(Event{
		Type:     "token_refreshed",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"session_id":   sessionID,
			"successor_id": successorID,
		},
	})
}

// LogTokenRevoked logs when a session is revoked
func (a *Auditor) LogTokenRevoked(userID, clientID, sessionID, reason string) {
	a.LogEvent(Event{
		Type:     "token_revoked",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"session_id": sessionID,
			"reason":     reason,
		},
	})
}

// LogReplayDetected logs a refresh-token replay. Both the replayed session
// and the active session burned by the cascade are recorded.
func (a *Auditor) LogReplayDetected(userID, clientID, replayedSessionID, activeSessionID string) {
	a.LogEvent(Event{
		Type:     "replay_detected",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"replayed_session_id": replayedSessionID,
			"active_session_id":   activeSessionID,
		},
	})
}

// LogClaimFailure logs a token that failed claim validation
func (a *Auditor) LogClaimFailure(userID, clientID, claim, reason string) {
	a.LogEvent(Event{
		Type:     "claim_validation_failed",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"claim":  claim,
			"reason": reason,
		},
	})
}

// LogAuthFailure logs a client authentication failure
func (a *Auditor) LogAuthFailure(clientID, reason string) {
	a.LogEvent(Event{
		Type:     "auth_failure",
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging.
// Only the first 8 characters are used to allow correlation without exposure.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(value))
	return hex.EncodeToString(hash[:])[:8]
}
