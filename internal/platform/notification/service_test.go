package notification

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/websocket"
)

// -- Mock Repository --

type mockRepo struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*Notification
	createErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Notification)}
}

func (m *mockRepo) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now().Add(time.Duration(len(m.items)) * time.Millisecond)
	cp := *n
	m.items[n.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *mockRepo) ListByAccount(_ context.Context, accountID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.items {
		if n.AccountID != accountID || (unreadOnly && n.Read) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) MarkRead(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return apperr.ErrNotFound
	}
	n.Read = true
	return nil
}

func (m *mockRepo) MarkAllRead(_ context.Context, accountID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.items {
		if n.AccountID == accountID && !n.Read {
			n.Read = true
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) CountUnread(_ context.Context, accountID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.items {
		if n.AccountID == accountID && !n.Read {
			count++
		}
	}
	return count, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev websocket.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func newTestService() (*Service, *mockRepo, *recordingPublisher) {
	repo := newMockRepo()
	pub := &recordingPublisher{}
	return NewService(repo, nil, pub, zerolog.Nop()), repo, pub
}

func patientAuthz(id uuid.UUID) auth.AuthorizationContext {
	return auth.NewAuthorizationContext(id, []auth.Role{auth.RolePatient})
}

// -- Template Engine --

func TestTemplateEngine_RenderBuiltIn(t *testing.T) {
	e := NewTemplateEngine()
	title, message, typ, err := e.Render(TemplateAppointmentConfirmed, map[string]string{
		"date": "2025-03-01",
		"time": "10:00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Appointment Confirmed" {
		t.Errorf("unexpected title %q", title)
	}
	if message != "Your dental appointment on 2025-03-01 at 10:00 has been confirmed." {
		t.Errorf("unexpected message %q", message)
	}
	if typ != TypeAppointment {
		t.Errorf("expected type appointment, got %s", typ)
	}
}

func TestTemplateEngine_MissingKeysLeftAsIs(t *testing.T) {
	e := NewTemplateEngine()
	_, message, _, err := e.Render(TemplatePrescriptionIssued, map[string]string{"medication": "Amoxicillin"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(message, "Amoxicillin") || !strings.Contains(message, "{{dosage}}") {
		t.Errorf("unexpected message %q", message)
	}
}

func TestTemplateEngine_UnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	if _, _, _, err := e.Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestTemplateEngine_RegisterTemplate(t *testing.T) {
	e := NewTemplateEngine()
	e.RegisterTemplate(Template{ID: "custom", Title: "Hi {{name}}", Message: "Body", Type: TypeMessage})
	title, _, _, err := e.Render("custom", map[string]string{"name": "Ana"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Hi Ana" {
		t.Errorf("unexpected title %q", title)
	}
}

// -- Service --

func TestService_NotifyStoresAndPublishes(t *testing.T) {
	svc, repo, pub := newTestService()
	account := uuid.New()

	n := &Notification{AccountID: account, Title: "Appointment Reminder - 1 hour", Message: "soon", Type: TypeReminder}
	if err := svc.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.ID == uuid.Nil {
		t.Fatal("expected ID to be assigned")
	}
	if len(repo.items) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(repo.items))
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.events))
	}
	if pub.events[0].Topic != websocket.NotificationsTopic(account) {
		t.Errorf("unexpected topic %q", pub.events[0].Topic)
	}
	if pub.events[0].Type != EventCreated {
		t.Errorf("unexpected event type %q", pub.events[0].Type)
	}
}

func TestService_NotifyPublishFailureIsNotAnError(t *testing.T) {
	svc, repo, pub := newTestService()
	pub.err = errors.New("hub down")

	err := svc.Notify(context.Background(), &Notification{AccountID: uuid.New(), Title: "t", Message: "m", Type: TypeReminder})
	if err != nil {
		t.Fatalf("expected publish failure to be swallowed, got %v", err)
	}
	if len(repo.items) != 1 {
		t.Error("expected notification to be stored")
	}
}

func TestService_NotifyStoreFailureSkipsPublish(t *testing.T) {
	svc, repo, pub := newTestService()
	repo.createErr = errors.New("connection reset")

	err := svc.Notify(context.Background(), &Notification{AccountID: uuid.New(), Title: "t", Message: "m", Type: TypeReminder})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(pub.events) != 0 {
		t.Error("nothing should be published when the insert fails")
	}
}

func TestService_NotifyValidation(t *testing.T) {
	svc, _, _ := newTestService()
	tests := []struct {
		name  string
		n     *Notification
		field string
	}{
		{"missing account", &Notification{Title: "t", Message: "m"}, "account_id"},
		{"missing title", &Notification{AccountID: uuid.New(), Message: "m"}, "title"},
		{"missing message", &Notification{AccountID: uuid.New(), Title: "t"}, "message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Notify(context.Background(), tt.n)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, ve.Field)
			}
		})
	}
}

func TestService_NotifyFromTemplate(t *testing.T) {
	svc, _, _ := newTestService()
	n, err := svc.NotifyFromTemplate(context.Background(), uuid.New(), TemplateTreatmentReviewed, map[string]string{"status": "approved"})
	if err != nil {
		t.Fatalf("NotifyFromTemplate: %v", err)
	}
	if n.Type != TypeTreatment {
		t.Errorf("expected treatment type, got %s", n.Type)
	}
	if !strings.Contains(n.Message, "approved") {
		t.Errorf("unexpected message %q", n.Message)
	}
}

func TestService_ListAndUnread(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	me := uuid.New()
	other := uuid.New()

	for i := 0; i < 3; i++ {
		_ = svc.Notify(ctx, &Notification{AccountID: me, Title: "t", Message: "m", Type: TypeReminder})
	}
	_ = svc.Notify(ctx, &Notification{AccountID: other, Title: "t", Message: "m", Type: TypeReminder})

	items, total, err := svc.List(ctx, patientAuthz(me), false, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Errorf("expected 2 of 3, got %d of %d", len(items), total)
	}

	if err := svc.MarkRead(ctx, patientAuthz(me), items[0].ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	unread, _ := svc.UnreadCount(ctx, patientAuthz(me))
	if unread != 2 {
		t.Errorf("expected 2 unread, got %d", unread)
	}

	_, total, _ = svc.List(ctx, patientAuthz(me), true, 10, 0)
	if total != 2 {
		t.Errorf("expected 2 unread in filtered list, got %d", total)
	}

	updated, err := svc.MarkAllRead(ctx, patientAuthz(me))
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if updated != 2 {
		t.Errorf("expected 2 updated, got %d", updated)
	}
	if unread, _ := svc.UnreadCount(ctx, patientAuthz(other)); unread != 1 {
		t.Errorf("other account should be untouched, got %d unread", unread)
	}
}

func TestService_MarkReadForeignNotification(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	owner := uuid.New()
	n := &Notification{AccountID: owner, Title: "t", Message: "m", Type: TypeReminder}
	_ = svc.Notify(ctx, n)

	err := svc.MarkRead(ctx, patientAuthz(uuid.New()), n.ID)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	err = svc.MarkRead(ctx, patientAuthz(owner), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
