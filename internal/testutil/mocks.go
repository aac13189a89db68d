package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/docpay/internal/domain/errors"
	"github.com/cassiomorais/docpay/internal/domain/invoice"
	"github.com/cassiomorais/docpay/internal/domain/payment"
	"github.com/cassiomorais/docpay/internal/gateway"
	"github.com/google/uuid"
)

// --- Payment Repository Mock ---

// MockPaymentRepository is an in-memory payment.Repository. The default
// behavior mirrors the real repository's guards (active-duplicate insert,
// conditional status writes); individual methods can be overridden with the
// Func fields.
type MockPaymentRepository struct {
	mu            sync.Mutex
	byID          map[uuid.UUID]*payment.Payment
	byTransaction map[string]*payment.Payment
	Notifications []*payment.Notification

	CreateFunc                    func(ctx context.Context, p *payment.Payment) error
	GetByIDFunc                   func(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
	GetByTransactionIDFunc        func(ctx context.Context, transactionID string) (*payment.Payment, error)
	GetActiveByDocumentFunc       func(ctx context.Context, documentID int64) (*payment.Payment, error)
	UpdateStatusFromFunc          func(ctx context.Context, transactionID string, from, to payment.Status) (bool, error)
	UpdateStatusWithReferenceFunc func(ctx context.Context, transactionID string, from, to payment.Status, ref payment.Reference) (bool, error)
	ApproveFunc                   func(ctx context.Context, id uuid.UUID, validator string, at time.Time) (bool, error)
	ListPendingValidationFunc     func(ctx context.Context) ([]*payment.PendingValidationEntry, error)
	ListFunc                      func(ctx context.Context, f payment.HistoryFilter) ([]*payment.Payment, int64, error)
	ListStaleFunc                 func(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Payment, error)
	RecordNotificationFunc        func(ctx context.Context, n *payment.Notification) error
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		byID:          make(map[uuid.UUID]*payment.Payment),
		byTransaction: make(map[string]*payment.Payment),
	}
}

// Add pre-populates the mock with a payment.
func (m *MockPaymentRepository) Add(p *payment.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.ID] = p
	m.byTransaction[p.TransactionID] = p
}

// Get returns the stored payment (test helper, no context needed).
func (m *MockPaymentRepository) Get(transactionID string) *payment.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byTransaction[transactionID]
}

func (m *MockPaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.DocumentID == p.DocumentID && existing.IsActive() {
			return domainErrors.ErrDuplicateActivePayment
		}
	}
	m.byID[p.ID] = p
	m.byTransaction[p.TransactionID] = p
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*payment.Payment, error) {
	if m.GetByTransactionIDFunc != nil {
		return m.GetByTransactionIDFunc(ctx, transactionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byTransaction[transactionID]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPaymentRepository) GetActiveByDocument(ctx context.Context, documentID int64) (*payment.Payment, error) {
	if m.GetActiveByDocumentFunc != nil {
		return m.GetActiveByDocumentFunc(ctx, documentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.byID {
		if p.DocumentID == documentID && p.IsActive() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrPaymentNotFound
}

func (m *MockPaymentRepository) UpdateStatusFrom(ctx context.Context, transactionID string, from, to payment.Status) (bool, error) {
	if m.UpdateStatusFromFunc != nil {
		return m.UpdateStatusFromFunc(ctx, transactionID, from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byTransaction[transactionID]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockPaymentRepository) UpdateStatusWithReference(ctx context.Context, transactionID string, from, to payment.Status, ref payment.Reference) (bool, error) {
	if m.UpdateStatusWithReferenceFunc != nil {
		return m.UpdateStatusWithReferenceFunc(ctx, transactionID, from, to, ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byTransaction[transactionID]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.Reference = ref
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockPaymentRepository) Approve(ctx context.Context, id uuid.UUID, validator string, at time.Time) (bool, error) {
	if m.ApproveFunc != nil {
		return m.ApproveFunc(ctx, id, validator, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok || p.Status != payment.StatusPendingValidation {
		return false, nil
	}
	p.Status = payment.StatusSuccess
	p.ValidatedBy = &validator
	p.ValidatedAt = &at
	p.UpdatedAt = at
	return true, nil
}

func (m *MockPaymentRepository) ListPendingValidation(ctx context.Context) ([]*payment.PendingValidationEntry, error) {
	if m.ListPendingValidationFunc != nil {
		return m.ListPendingValidationFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []*payment.PendingValidationEntry
	for _, p := range m.byID {
		if p.Status == payment.StatusPendingValidation {
			cp := *p
			entries = append(entries, &payment.PendingValidationEntry{
				Payment:       &cp,
				InvoiceAmount: p.Amount,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Payment.CreatedAt.Before(entries[j].Payment.CreatedAt)
	})
	return entries, nil
}

func (m *MockPaymentRepository) List(ctx context.Context, f payment.HistoryFilter) ([]*payment.Payment, int64, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, f)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*payment.Payment
	for _, p := range m.byID {
		if f.Method != nil && p.Method != *f.Method {
			continue
		}
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := int64(len(all))
	start := (f.Page - 1) * f.PageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + f.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *MockPaymentRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Payment, error) {
	if m.ListStaleFunc != nil {
		return m.ListStaleFunc(ctx, cutoff, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []*payment.Payment
	for _, p := range m.byID {
		if (p.Status == payment.StatusCreated || p.Status == payment.StatusPending) && p.CreatedAt.Before(cutoff) {
			cp := *p
			stale = append(stale, &cp)
			if len(stale) == limit {
				break
			}
		}
	}
	return stale, nil
}

func (m *MockPaymentRepository) RecordNotification(ctx context.Context, n *payment.Notification) error {
	if m.RecordNotificationFunc != nil {
		return m.RecordNotificationFunc(ctx, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notifications = append(m.Notifications, n)
	return nil
}

// --- Invoice Repository Mock ---

// MockInvoiceRepository is an in-memory invoice.Repository. Settle honors
// the payed=false guard so double settles are observable via SettleCount.
type MockInvoiceRepository struct {
	mu          sync.Mutex
	invoices    map[int64]*invoice.Invoice
	SettleCount int

	GetByDocumentIDFunc func(ctx context.Context, documentID int64) (*invoice.Invoice, error)
	AttachPaymentFunc   func(ctx context.Context, documentID int64, paymentID uuid.UUID) error
	SettleFunc          func(ctx context.Context, documentID int64, paymentID uuid.UUID) error
}

func NewMockInvoiceRepository() *MockInvoiceRepository {
	return &MockInvoiceRepository{invoices: make(map[int64]*invoice.Invoice)}
}

// AddInvoice pre-populates the mock with an invoice.
func (m *MockInvoiceRepository) AddInvoice(inv *invoice.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.DocumentID] = inv
}

// GetInvoice returns the stored invoice (test helper, no context needed).
func (m *MockInvoiceRepository) GetInvoice(documentID int64) *invoice.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[documentID]
}

func (m *MockInvoiceRepository) GetByDocumentID(ctx context.Context, documentID int64) (*invoice.Invoice, error) {
	if m.GetByDocumentIDFunc != nil {
		return m.GetByDocumentIDFunc(ctx, documentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[documentID]
	if !ok {
		return nil, domainErrors.ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MockInvoiceRepository) AttachPayment(ctx context.Context, documentID int64, paymentID uuid.UUID) error {
	if m.AttachPaymentFunc != nil {
		return m.AttachPaymentFunc(ctx, documentID, paymentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[documentID]
	if !ok {
		return domainErrors.ErrInvoiceNotFound
	}
	inv.PaymentID = &paymentID
	return nil
}

func (m *MockInvoiceRepository) Settle(ctx context.Context, documentID int64, paymentID uuid.UUID) error {
	if m.SettleFunc != nil {
		return m.SettleFunc(ctx, documentID, paymentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[documentID]
	if !ok || inv.Payed {
		return nil
	}
	inv.Payed = true
	inv.PaymentID = &paymentID
	m.SettleCount++
	return nil
}

// --- Transaction Manager Mock ---

// MockTransactionManager runs the function inline.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Gateway Mock ---

// MockGateway is a mock of the outbound gateway port.
type MockGateway struct {
	CreateIntentFunc                func(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error)
	ExecuteMBWayFunc                func(ctx context.Context, transactionID, signature, phone string) (string, error)
	GenerateMultibancoReferenceFunc func(ctx context.Context, transactionID, signature string) (*gateway.MultibancoReference, error)
	QueryStatusFunc                 func(ctx context.Context, transactionID string) (*gateway.StatusPayload, error)
}

func (m *MockGateway) CreateIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error) {
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, req)
	}
	return &gateway.Intent{
		TransactionID:        "tx-" + uuid.New().String(),
		TransactionSignature: "sig-" + uuid.New().String(),
	}, nil
}

func (m *MockGateway) ExecuteMBWay(ctx context.Context, transactionID, signature, phone string) (string, error) {
	if m.ExecuteMBWayFunc != nil {
		return m.ExecuteMBWayFunc(ctx, transactionID, signature, phone)
	}
	return "Pending", nil
}

func (m *MockGateway) GenerateMultibancoReference(ctx context.Context, transactionID, signature string) (*gateway.MultibancoReference, error) {
	if m.GenerateMultibancoReferenceFunc != nil {
		return m.GenerateMultibancoReferenceFunc(ctx, transactionID, signature)
	}
	return &gateway.MultibancoReference{
		Entity:    "12345",
		Reference: "987654321",
		ExpiresAt: time.Now().Add(72 * time.Hour),
	}, nil
}

func (m *MockGateway) QueryStatus(ctx context.Context, transactionID string) (*gateway.StatusPayload, error) {
	if m.QueryStatusFunc != nil {
		return m.QueryStatusFunc(ctx, transactionID)
	}
	return &gateway.StatusPayload{TransactionID: transactionID, Status: "Pending"}, nil
}

// --- Publisher Mock ---

// PublishedStatus records one PublishStatusChange call.
type PublishedStatus struct {
	TransactionID string
	DocumentID    int64
	Status        payment.Status
}

// MockPublisher records published events.
type MockPublisher struct {
	mu       sync.Mutex
	Statuses []PublishedStatus
	Audits   []*payment.Notification

	PublishStatusChangeFunc func(ctx context.Context, transactionID string, documentID int64, status payment.Status) error
	PublishAuditFunc        func(ctx context.Context, n *payment.Notification) error
}

func (m *MockPublisher) PublishStatusChange(ctx context.Context, transactionID string, documentID int64, status payment.Status) error {
	if m.PublishStatusChangeFunc != nil {
		return m.PublishStatusChangeFunc(ctx, transactionID, documentID, status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses = append(m.Statuses, PublishedStatus{transactionID, documentID, status})
	return nil
}

func (m *MockPublisher) PublishAudit(ctx context.Context, n *payment.Notification) error {
	if m.PublishAuditFunc != nil {
		return m.PublishAuditFunc(ctx, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Audits = append(m.Audits, n)
	return nil
}

// --- Lock Mock ---

// MockLock acquires by default.
type MockLock struct {
	AcquireFunc func(ctx context.Context) (bool, error)
	ReleaseFunc func(ctx context.Context) error
	Released    bool
}

func (l *MockLock) Acquire(ctx context.Context) (bool, error) {
	if l.AcquireFunc != nil {
		return l.AcquireFunc(ctx)
	}
	return true, nil
}

func (l *MockLock) Release(ctx context.Context) error {
	l.Released = true
	if l.ReleaseFunc != nil {
		return l.ReleaseFunc(ctx)
	}
	return nil
}
