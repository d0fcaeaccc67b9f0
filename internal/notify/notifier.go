// Package notify delivers operator alerts. Delivery is fire-and-forget:
// a failed send never blocks or fails the operation that triggered it.
package notify

import (
	"fmt"
	"log"
)

type Severity string

const (
	SevInfo     Severity = "INFO"
	SevWarn     Severity = "WARN"
	SevCritical Severity = "CRIT"
)

type Notifier interface {
	Notify(sev Severity, msg string)
	Notifyf(sev Severity, format string, args ...any)
}

// Stdout — fallback notifier when telegram is not configured.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Notify(sev Severity, msg string) { log.Printf("[%s] %s", sev, msg) }

func (s *Stdout) Notifyf(sev Severity, format string, args ...any) {
	s.Notify(sev, fmt.Sprintf(format, args...))
}
