// Package notification stores in-app notifications, renders the templated
// ones and pushes each new row to the recipient's realtime topic.
package notification

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification for the client.
type Type string

const (
	TypeReminder     Type = "reminder"
	TypeAppointment  Type = "appointment"
	TypeTreatment    Type = "treatment"
	TypePrescription Type = "prescription"
	TypeMessage      Type = "message"
)

type Notification struct {
	ID        uuid.UUID `db:"id" json:"id"`
	AccountID uuid.UUID `db:"account_id" json:"account_id"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	Type      Type      `db:"type" json:"type"`
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Template is a reusable title/message pair with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    Type   `json:"type"`
}

const (
	TemplateAppointmentConfirmed = "appointment-confirmed"
	TemplateAppointmentCancelled = "appointment-cancelled"
	TemplateTreatmentReviewed    = "treatment-reviewed"
	TemplatePrescriptionIssued   = "prescription-issued"
	TemplateMessageReceived      = "message-received"
)

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateAppointmentConfirmed,
			Title:   "Appointment Confirmed",
			Message: "Your dental appointment on {{date}} at {{time}} has been confirmed.",
			Type:    TypeAppointment,
		},
		{
			ID:      TemplateAppointmentCancelled,
			Title:   "Appointment Cancelled",
			Message: "Your dental appointment on {{date}} at {{time}} has been cancelled.",
			Type:    TypeAppointment,
		},
		{
			ID:      TemplateTreatmentReviewed,
			Title:   "Treatment Plan Reviewed",
			Message: "Your dentist has reviewed your treatment plan. Status: {{status}}.",
			Type:    TypeTreatment,
		},
		{
			ID:      TemplatePrescriptionIssued,
			Title:   "New Prescription",
			Message: "You have been prescribed {{medication}} ({{dosage}}, {{frequency}}).",
			Type:    TypePrescription,
		},
		{
			ID:      TemplateMessageReceived,
			Title:   "New Message",
			Message: "{{sender}} sent you a message.",
			Type:    TypeMessage,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (title, message string, typ Type, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", "", fmt.Errorf("template %q not found", templateID)
	}

	title = t.Title
	message = t.Message
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		message = strings.ReplaceAll(message, placeholder, v)
	}
	return title, message, t.Type, nil
}
