package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

const defaultCurrency = "usd"

type invoiceStore interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, orgID, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, orgID, patientID string, limit int) ([]Invoice, error)
	MarkInvoicePaid(ctx context.Context, orgID, id string) (*Invoice, error)
}

// InvoiceService lets staff bill patients for visits.
type InvoiceService struct {
	store  invoiceStore
	logger *logging.Logger
}

func NewInvoiceService(store invoiceStore, logger *logging.Logger) *InvoiceService {
	if logger == nil {
		logger = logging.Default()
	}
	return &InvoiceService{store: store, logger: logger.Named("invoices")}
}

type InvoiceRequest struct {
	PatientID     string `json:"patient_id"`
	AppointmentID string `json:"appointment_id,omitempty"`
	Description   string `json:"description,omitempty"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency,omitempty"`
}

func (s *InvoiceService) Create(ctx context.Context, p tenancy.Principal, req InvoiceRequest) (*Invoice, error) {
	if !p.IsStaff() {
		return nil, ErrForbidden
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.PatientID == "" {
		return nil, fmt.Errorf("%w: patient_id required", ErrInvalidRequest)
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: amount_cents must be positive", ErrInvalidRequest)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidRequest)
	}

	inv := &Invoice{
		OrgID:         p.OrgID,
		PatientID:     req.PatientID,
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		Description:   strings.TrimSpace(req.Description),
		AmountCents:   req.AmountCents,
		Currency:      currency,
	}
	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	s.logger.Info("invoice created", "org_id", p.OrgID, "invoice_id", inv.ID, "amount_cents", inv.AmountCents)
	return inv, nil
}

// List returns a patient's own invoices, or any patient's for staff.
func (s *InvoiceService) List(ctx context.Context, p tenancy.Principal, patientID string, limit int) ([]Invoice, error) {
	switch {
	case p.Role == tenancy.RolePatient:
		patientID = p.UserID
	case !p.IsStaff():
		return nil, ErrForbidden
	}
	return s.store.ListInvoices(ctx, p.OrgID, patientID, limit)
}

func (s *InvoiceService) Get(ctx context.Context, p tenancy.Principal, id string) (*Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, p.OrgID, id)
	if err != nil {
		return nil, err
	}
	if p.Role == tenancy.RolePatient && inv.PatientID != p.UserID {
		return nil, ErrForbidden
	}
	return inv, nil
}

func (s *InvoiceService) MarkPaid(ctx context.Context, p tenancy.Principal, id string) (*Invoice, error) {
	if !p.IsStaff() {
		return nil, ErrForbidden
	}
	inv, err := s.store.MarkInvoicePaid(ctx, p.OrgID, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("invoice paid", "org_id", p.OrgID, "invoice_id", id)
	return inv, nil
}
