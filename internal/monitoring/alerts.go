package monitoring

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"quota-gateway/internal/config"
	"quota-gateway/internal/metrics"
	"quota-gateway/internal/models"
	"quota-gateway/internal/repository"
)

type Level string

const (
	LevelInfo      Level = "info"
	LevelWarning   Level = "warning"
	LevelCritical  Level = "critical"
	LevelEmergency Level = "emergency"
)

type Alert struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	UserID    string    `json:"user_id,omitempty"`
	APIType   string    `json:"api_type,omitempty"`
	Current   float64   `json:"current_value,omitempty"`
	Threshold float64   `json:"threshold_value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Receives dispatched alerts. Handlers must not block the monitoring loop;
// failures are logged and swallowed.
type Handler interface {
	Name() string
	Handle(alert Alert) error
}

// Owns the rolling 24h alert history and the cooldown-based deduplication.
type AlertManager struct {
	mu       sync.RWMutex
	history  []Alert
	cooldown time.Duration
	handlers []Handler
}

func NewAlertManager(cooldown time.Duration) *AlertManager {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &AlertManager{cooldown: cooldown}
}

func (m *AlertManager) AddHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Raise records and dispatches an alert unless a matching one
// (same type, user, api) fired within the cooldown window.
func (m *AlertManager) Raise(alert Alert) bool {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	alert.ID = uuid.New()

	m.mu.Lock()
	if m.suppressed(alert) {
		m.mu.Unlock()
		return false
	}
	m.history = append(m.history, alert)
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	metrics.RecordAlert(string(alert.Level))

	for _, h := range handlers {
		m.dispatch(h, alert)
	}
	return true
}

func (m *AlertManager) suppressed(alert Alert) bool {
	cutoff := alert.Timestamp.Add(-m.cooldown)
	for i := len(m.history) - 1; i >= 0; i-- {
		prev := m.history[i]
		if prev.Timestamp.Before(cutoff) {
			break
		}
		if prev.Type == alert.Type && prev.UserID == alert.UserID && prev.APIType == alert.APIType {
			return true
		}
	}
	return false
}

func (m *AlertManager) dispatch(h Handler, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("alert handler %s panicked: %v", h.Name(), r)
		}
	}()

	if err := h.Handle(alert); err != nil {
		log.Printf("alert handler %s failed: %v", h.Name(), err)
	}
}

// Prune drops history older than 24 hours.
func (m *AlertManager) Prune() {
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.history[:0]
	for _, alert := range m.history {
		if alert.Timestamp.After(cutoff) {
			kept = append(kept, alert)
		}
	}
	m.history = kept
}

func (m *AlertManager) History() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := make([]Alert, len(m.history))
	copy(history, m.history)
	return history
}

// Always-present handler writing alerts to the application log.
type LogHandler struct{}

func (LogHandler) Name() string { return "log" }

func (LogHandler) Handle(alert Alert) error {
	log.Printf("ALERT [%s] %s: %s (user=%s api=%s current=%.2f threshold=%.2f)",
		strings.ToUpper(string(alert.Level)), alert.Type, alert.Message,
		alert.UserID, alert.APIType, alert.Current, alert.Threshold)
	return nil
}

// Config-gated email dispatch over plain SMTP.
type EmailHandler struct {
	cfg config.EmailConfig
}

func NewEmailHandler(cfg config.EmailConfig) *EmailHandler {
	return &EmailHandler{cfg: cfg}
}

func (h *EmailHandler) Name() string { return "email" }

func (h *EmailHandler) Handle(alert Alert) error {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Level)), alert.Type)
	body := fmt.Sprintf("Subject: %s\r\n\r\n%s\r\n\r\nuser: %s\napi: %s\ncurrent: %.2f\nthreshold: %.2f\nat: %s\r\n",
		subject, alert.Message, alert.UserID, alert.APIType,
		alert.Current, alert.Threshold, alert.Timestamp.Format(time.RFC3339))

	timeout := h.cfg.Timeout()
	conn, err := net.DialTimeout("tcp", h.cfg.SMTPAddr, timeout)
	if err != nil {
		return errors.Wrap(err, "dial smtp server")
	}
	defer conn.Close()

	// Deadline covers the full exchange so a silent or stalled server
	// cannot block the dispatching goroutine
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	host := h.cfg.SMTPAddr
	if split, _, err := net.SplitHostPort(h.cfg.SMTPAddr); err == nil {
		host = split
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return errors.Wrap(err, "smtp handshake")
	}
	defer client.Close()

	if err := client.Mail(h.cfg.From); err != nil {
		return err
	}
	for _, rcpt := range h.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// Persists dispatched alerts for audit beyond the in-memory window.
type ArchiveHandler struct {
	repo *repository.AlertRepository
}

func NewArchiveHandler(repo *repository.AlertRepository) *ArchiveHandler {
	return &ArchiveHandler{repo: repo}
}

func (h *ArchiveHandler) Name() string { return "archive" }

func (h *ArchiveHandler) Handle(alert Alert) error {
	return h.repo.Create(context.Background(), &models.AlertRecord{
		Type:      alert.Type,
		Level:     string(alert.Level),
		Message:   alert.Message,
		UserID:    alert.UserID,
		APIType:   alert.APIType,
		Current:   alert.Current,
		Threshold: alert.Threshold,
		CreatedAt: alert.Timestamp,
	})
}
