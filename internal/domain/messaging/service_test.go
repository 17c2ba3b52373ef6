package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
	"github.com/dentalcare/dentalcare/internal/platform/notification"
	"github.com/dentalcare/dentalcare/internal/platform/websocket"
)

// -- Mocks --

type mockMessageRepo struct {
	items []*Message
	clock time.Time
}

func (m *mockMessageRepo) Create(_ context.Context, msg *Message) error {
	msg.ID = uuid.New()
	m.clock = m.clock.Add(time.Second)
	msg.CreatedAt = m.clock
	m.items = append(m.items, msg)
	return nil
}

func (m *mockMessageRepo) Conversation(_ context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var out []*Message
	for _, msg := range m.items {
		if (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a) {
			out = append(out, msg)
		}
	}
	return out, len(out), nil
}

func (m *mockMessageRepo) MarkRead(_ context.Context, receiverID, senderID uuid.UUID) (int64, error) {
	var n int64
	for _, msg := range m.items {
		if msg.ReceiverID == receiverID && msg.SenderID == senderID && !msg.Read {
			msg.Read = true
			n++
		}
	}
	return n, nil
}

func (m *mockMessageRepo) UnreadCount(_ context.Context, receiverID uuid.UUID) (int, error) {
	n := 0
	for _, msg := range m.items {
		if msg.ReceiverID == receiverID && !msg.Read {
			n++
		}
	}
	return n, nil
}

type appointmentParties struct {
	patient uuid.UUID
	dentist *uuid.UUID
}

type mockDirectory struct {
	names        map[uuid.UUID]string
	appointments map[uuid.UUID]appointmentParties
}

func (d *mockDirectory) AccountName(_ context.Context, id uuid.UUID) (string, error) {
	name, ok := d.names[id]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return name, nil
}

func (d *mockDirectory) AppointmentParties(_ context.Context, id uuid.UUID) (uuid.UUID, *uuid.UUID, error) {
	a, ok := d.appointments[id]
	if !ok {
		return uuid.Nil, nil, apperr.ErrNotFound
	}
	return a.patient, a.dentist, nil
}

type sentTemplate struct {
	accountID  uuid.UUID
	templateID string
	data       map[string]string
}

type mockNotifier struct {
	sent []sentTemplate
	err  error
}

func (m *mockNotifier) NotifyFromTemplate(_ context.Context, accountID uuid.UUID, templateID string, data map[string]string) (*notification.Notification, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.sent = append(m.sent, sentTemplate{accountID, templateID, data})
	return &notification.Notification{ID: uuid.New(), AccountID: accountID}, nil
}

type testEnv struct {
	svc       *Service
	messages  *mockMessageRepo
	directory *mockDirectory
	hub       *websocket.Hub
	notifier  *mockNotifier

	patient auth.AuthorizationContext
	dentist auth.AuthorizationContext
}

func newTestEnv() *testEnv {
	env := &testEnv{
		messages:  &mockMessageRepo{clock: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)},
		directory: &mockDirectory{names: map[uuid.UUID]string{}, appointments: map[uuid.UUID]appointmentParties{}},
		hub:       websocket.NewHub(zerolog.Nop()),
		notifier:  &mockNotifier{},
		patient:   auth.NewAuthorizationContext(uuid.New(), []auth.Role{auth.RolePatient}),
		dentist:   auth.NewAuthorizationContext(uuid.New(), []auth.Role{auth.RoleDentist}),
	}
	env.directory.names[env.patient.AccountID] = "Pat Patient"
	env.directory.names[env.dentist.AccountID] = "Dr. Molar"
	env.svc = NewService(env.messages, env.directory, env.hub, env.notifier, zerolog.Nop())
	return env
}

func (env *testEnv) listen(t *testing.T, accountID uuid.UUID) *websocket.Client {
	t.Helper()
	client := websocket.NewClient(accountID)
	env.hub.Register(client)
	if rejected := env.hub.Subscribe(client, []string{websocket.MessagesTopic(accountID)}); len(rejected) != 0 {
		t.Fatalf("subscription rejected: %v", rejected)
	}
	return client
}

// -- Tests --

func TestSend_PublishesToReceiver(t *testing.T) {
	env := newTestEnv()
	receiver := env.listen(t, env.dentist.AccountID)
	bystander := env.listen(t, env.patient.AccountID)

	m, err := env.svc.Send(context.Background(), env.patient, &SendRequest{
		ReceiverID: env.dentist.AccountID, Body: "  Is ibuprofen ok before my visit?  ",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.Body != "Is ibuprofen ok before my visit?" || m.Read {
		t.Errorf("unexpected message %+v", m)
	}

	select {
	case frame := <-receiver.Send:
		var ev websocket.Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type != EventCreated || ev.Topic != "messages:"+env.dentist.AccountID.String() {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("receiver got no event")
	}
	select {
	case <-bystander.Send:
		t.Error("sender's own topic must not receive the message")
	default:
	}

	if len(env.notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(env.notifier.sent))
	}
	n := env.notifier.sent[0]
	if n.templateID != notification.TemplateMessageReceived || n.accountID != env.dentist.AccountID || n.data["sender"] != "Pat Patient" {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestSend_Validation(t *testing.T) {
	env := newTestEnv()
	tests := []struct {
		name  string
		req   SendRequest
		field string
	}{
		{"missing receiver", SendRequest{Body: "hi"}, "receiver_id"},
		{"self", SendRequest{ReceiverID: env.patient.AccountID, Body: "hi"}, "receiver_id"},
		{"blank body", SendRequest{ReceiverID: env.dentist.AccountID, Body: "   "}, "message"},
		{"long body", SendRequest{ReceiverID: env.dentist.AccountID, Body: strings.Repeat("x", 2001)}, "message"},
		{"unknown receiver", SendRequest{ReceiverID: uuid.New(), Body: "hi"}, "receiver_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := env.svc.Send(context.Background(), env.patient, &req)
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("expected validation error on %s, got %v", tt.field, err)
			}
		})
	}
	if len(env.messages.items) != 0 {
		t.Errorf("nothing should be stored")
	}
}

func TestSend_BodyAtLimit(t *testing.T) {
	env := newTestEnv()
	if _, err := env.svc.Send(context.Background(), env.patient, &SendRequest{
		ReceiverID: env.dentist.AccountID, Body: strings.Repeat("é", 2000),
	}); err != nil {
		t.Fatalf("2000 characters should be accepted: %v", err)
	}
}

func TestSend_AppointmentLink(t *testing.T) {
	env := newTestEnv()
	dentistID := env.dentist.AccountID
	mine, foreign := uuid.New(), uuid.New()
	env.directory.appointments[mine] = appointmentParties{patient: env.patient.AccountID, dentist: &dentistID}
	env.directory.appointments[foreign] = appointmentParties{patient: uuid.New()}

	if _, err := env.svc.Send(context.Background(), env.patient, &SendRequest{
		ReceiverID: dentistID, AppointmentID: &mine, Body: "About tomorrow",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := env.svc.Send(context.Background(), env.patient, &SendRequest{
		ReceiverID: dentistID, AppointmentID: &foreign, Body: "About tomorrow",
	}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected ErrForbidden for an unrelated appointment, got %v", err)
	}
	missing := uuid.New()
	var ve *apperr.ValidationError
	if _, err := env.svc.Send(context.Background(), env.patient, &SendRequest{
		ReceiverID: dentistID, AppointmentID: &missing, Body: "?",
	}); !errors.As(err, &ve) || ve.Field != "appointment_id" {
		t.Errorf("expected appointment_id validation error, got %v", err)
	}

	receptionist := auth.NewAuthorizationContext(uuid.New(), []auth.Role{auth.RoleReceptionist})
	if _, err := env.svc.Send(context.Background(), receptionist, &SendRequest{
		ReceiverID: env.patient.AccountID, AppointmentID: &foreign, Body: "Please call us",
	}); err != nil {
		t.Errorf("front desk may reference any appointment: %v", err)
	}
}

func TestSend_NotificationFailureNotFatal(t *testing.T) {
	env := newTestEnv()
	env.notifier.err = errors.New("down")
	if _, err := env.svc.Send(context.Background(), env.patient, &SendRequest{
		ReceiverID: env.dentist.AccountID, Body: "hello",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(env.messages.items) != 1 {
		t.Errorf("message should be stored")
	}
}

func TestConversation_OrderAndRead(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	send := func(from auth.AuthorizationContext, to uuid.UUID, body string) {
		t.Helper()
		if _, err := env.svc.Send(ctx, from, &SendRequest{ReceiverID: to, Body: body}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	send(env.patient, env.dentist.AccountID, "first")
	send(env.dentist, env.patient.AccountID, "second")
	send(env.patient, env.dentist.AccountID, "third")

	items, total, err := env.svc.Conversation(ctx, env.dentist, env.patient.AccountID, 50, 0)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if total != 3 || items[0].Body != "first" || items[2].Body != "third" {
		t.Fatalf("unexpected conversation order")
	}
	for i := 1; i < len(items); i++ {
		if items[i].CreatedAt.Before(items[i-1].CreatedAt) {
			t.Errorf("conversation must be ascending")
		}
	}

	unread, _ := env.svc.UnreadCount(ctx, env.dentist)
	if unread != 2 {
		t.Errorf("expected 2 unread, got %d", unread)
	}
	n, err := env.svc.MarkConversationRead(ctx, env.dentist, env.patient.AccountID)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 marked, got %d %v", n, err)
	}
	unread, _ = env.svc.UnreadCount(ctx, env.dentist)
	if unread != 0 {
		t.Errorf("expected 0 unread, got %d", unread)
	}
	if patientUnread, _ := env.svc.UnreadCount(ctx, env.patient); patientUnread != 1 {
		t.Errorf("patient's own unread must be untouched, got %d", patientUnread)
	}
}
