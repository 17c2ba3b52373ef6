package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dentalcare/dentalcare/internal/platform/apperr"
	"github.com/dentalcare/dentalcare/internal/platform/auth"
)

// -- Mock Repositories --

type mockPaymentRepo struct {
	items []*Payment
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.items = append(m.items, p)
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	for _, p := range m.items {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (m *mockPaymentRepo) List(_ context.Context, patientID *uuid.UUID, limit, offset int) ([]*Payment, int, error) {
	var out []*Payment
	for _, p := range m.items {
		if patientID == nil || p.PatientID == *patientID {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (m *mockPaymentRepo) Totals(_ context.Context, patientID *uuid.UUID) ([]Summary, error) {
	byCurrency := map[string]*Summary{}
	var order []string
	for _, p := range m.items {
		if p.Status != StatusCompleted || (patientID != nil && p.PatientID != *patientID) {
			continue
		}
		s, ok := byCurrency[p.Currency]
		if !ok {
			s = &Summary{Currency: p.Currency}
			byCurrency[p.Currency] = s
			order = append(order, p.Currency)
		}
		s.Total += p.Amount
		s.Count++
	}
	out := []Summary{}
	for _, c := range order {
		out = append(out, *byCurrency[c])
	}
	return out, nil
}

type mockOwners struct {
	appointments map[uuid.UUID]uuid.UUID
	treatments   map[uuid.UUID]uuid.UUID
}

func (m *mockOwners) AppointmentPatient(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	p, ok := m.appointments[id]
	if !ok {
		return uuid.Nil, apperr.ErrNotFound
	}
	return p, nil
}

func (m *mockOwners) TreatmentPatient(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	p, ok := m.treatments[id]
	if !ok {
		return uuid.Nil, apperr.ErrNotFound
	}
	return p, nil
}

func newTestService() (*Service, *mockPaymentRepo, *mockOwners) {
	payments := &mockPaymentRepo{}
	owners := &mockOwners{appointments: map[uuid.UUID]uuid.UUID{}, treatments: map[uuid.UUID]uuid.UUID{}}
	return NewService(payments, owners, zerolog.Nop()), payments, owners
}

func as(roles ...auth.Role) auth.AuthorizationContext {
	return auth.NewAuthorizationContext(uuid.New(), roles)
}

// -- Tests --

func TestRecordPayment_OwnAppointment(t *testing.T) {
	svc, _, owners := newTestService()
	patient := as(auth.RolePatient)
	appt := uuid.New()
	owners.appointments[appt] = patient.AccountID

	p, err := svc.RecordPayment(context.Background(), patient, &RecordPaymentRequest{AppointmentID: &appt, Amount: 75})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if p.PatientID != patient.AccountID || p.Status != StatusCompleted || p.Currency != "USD" || p.PaymentMethod != "card" {
		t.Errorf("unexpected payment %+v", p)
	}
}

func TestRecordPayment_ForeignReference(t *testing.T) {
	svc, payments, owners := newTestService()
	patient := as(auth.RolePatient)
	appt, tr := uuid.New(), uuid.New()
	owners.appointments[appt] = uuid.New()
	owners.treatments[tr] = uuid.New()

	if _, err := svc.RecordPayment(context.Background(), patient, &RecordPaymentRequest{AppointmentID: &appt, Amount: 10}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected ErrForbidden for someone else's appointment, got %v", err)
	}
	if _, err := svc.RecordPayment(context.Background(), patient, &RecordPaymentRequest{TreatmentID: &tr, Amount: 10}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected ErrForbidden for someone else's treatment, got %v", err)
	}
	missing := uuid.New()
	var ve *apperr.ValidationError
	if _, err := svc.RecordPayment(context.Background(), patient, &RecordPaymentRequest{TreatmentID: &missing, Amount: 10}); !errors.As(err, &ve) || ve.Field != "treatment_id" {
		t.Errorf("expected treatment_id validation error, got %v", err)
	}
	if len(payments.items) != 0 {
		t.Errorf("no payment should be stored")
	}
}

func TestRecordPayment_OnBehalf(t *testing.T) {
	svc, _, owners := newTestService()
	patientID := uuid.New()
	tr := uuid.New()
	owners.treatments[tr] = patientID

	p, err := svc.RecordPayment(context.Background(), as(auth.RoleReceptionist), &RecordPaymentRequest{
		PatientID: &patientID, TreatmentID: &tr, Amount: 300, PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if p.PatientID != patientID || p.PaymentMethod != "cash" {
		t.Errorf("unexpected payment %+v", p)
	}

	if _, err := svc.RecordPayment(context.Background(), as(auth.RolePatient), &RecordPaymentRequest{
		PatientID: &patientID, TreatmentID: &tr, Amount: 1,
	}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("patients cannot pay on behalf of others, got %v", err)
	}
	if _, err := svc.RecordPayment(context.Background(), as(auth.RoleDentist), &RecordPaymentRequest{
		PatientID: &patientID, TreatmentID: &tr, Amount: 1,
	}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("dentists do not record payments, got %v", err)
	}
}

func TestListPayments_Scope(t *testing.T) {
	svc, payments, _ := newTestService()
	patient := as(auth.RolePatient)
	payments.items = []*Payment{
		{ID: uuid.New(), PatientID: patient.AccountID, Amount: 10, Currency: "USD", Status: StatusCompleted},
		{ID: uuid.New(), PatientID: uuid.New(), Amount: 20, Currency: "USD", Status: StatusCompleted},
	}

	other := payments.items[1].PatientID
	_, total, err := svc.ListPayments(context.Background(), patient, &other, 20, 0)
	if err != nil {
		t.Fatalf("ListPayments: %v", err)
	}
	if total != 1 {
		t.Errorf("patient should only see own payments, got %d", total)
	}

	for _, role := range []auth.Role{auth.RoleAdmin, auth.RoleManager, auth.RoleReceptionist} {
		_, total, _ := svc.ListPayments(context.Background(), as(role), nil, 20, 0)
		if total != 2 {
			t.Errorf("%s should see all payments, got %d", role, total)
		}
	}
}

func TestGetPayment_Access(t *testing.T) {
	svc, payments, _ := newTestService()
	patient := as(auth.RolePatient)
	p := &Payment{ID: uuid.New(), PatientID: patient.AccountID, Amount: 10, Currency: "USD", Status: StatusCompleted}
	payments.items = append(payments.items, p)

	if _, err := svc.GetPayment(context.Background(), patient, p.ID); err != nil {
		t.Errorf("owner should read payment: %v", err)
	}
	if _, err := svc.GetPayment(context.Background(), as(auth.RoleNurse), p.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected ErrForbidden for nurse, got %v", err)
	}
}

func TestTotals(t *testing.T) {
	svc, payments, _ := newTestService()
	patient := as(auth.RolePatient)
	payments.items = []*Payment{
		{ID: uuid.New(), PatientID: patient.AccountID, Amount: 10, Currency: "USD", Status: StatusCompleted},
		{ID: uuid.New(), PatientID: patient.AccountID, Amount: 15.5, Currency: "USD", Status: StatusCompleted},
		{ID: uuid.New(), PatientID: uuid.New(), Amount: 40, Currency: "EUR", Status: StatusCompleted},
	}

	mine, err := svc.Totals(context.Background(), patient, nil)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if len(mine) != 1 || mine[0].Total != 25.5 || mine[0].Count != 2 {
		t.Errorf("unexpected patient totals %+v", mine)
	}

	all, _ := svc.Totals(context.Background(), as(auth.RoleManager), nil)
	if len(all) != 2 {
		t.Errorf("expected totals for two currencies, got %+v", all)
	}
}
