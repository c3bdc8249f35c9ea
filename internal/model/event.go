package model

import (
	"time"
)

// Severity levels for security events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SecurityEvent is one entry in the security audit trail: an authentication
// failure, a rate-limit breach, a high-tier trading decision, or a captured
// HTTP exchange.
type SecurityEvent struct {
	ID        string                 `json:"id"`
	Actor     string                 `json:"actor"`
	Name      string                 `json:"name"`
	Severity  string                 `json:"severity"`
	IP        string                 `json:"ip,omitempty"`
	Details   map[string]interface{} `json:"details"`
	CreatedAt time.Time              `json:"created_at"`
}
