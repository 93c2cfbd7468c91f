package bills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/directory"
	"github.com/odyssey-erp/odyssey-billing/internal/finderfees"
	"github.com/odyssey-erp/odyssey-billing/internal/numbering"
	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
	"github.com/odyssey-erp/odyssey-billing/internal/proposals"
	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type memoryRepo struct {
	mu      sync.Mutex
	seq     int64
	bills   map[int64]Bill
	numbers map[string]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{bills: map[int64]Bill{}, numbers: map[string]bool{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{repo: m, staged: map[int64]Bill{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for id, b := range tx.staged {
		m.bills[id] = b
		m.numbers[b.Number] = true
	}
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok {
		return Bill{}, ErrNotFound
	}
	b.Items = append([]Item(nil), b.Items...)
	return b, nil
}

type memTx struct {
	repo   *memoryRepo
	staged map[int64]Bill
}

func (t *memTx) InsertBill(_ context.Context, b Bill) (int64, error) {
	if t.repo.numbers[b.Number] {
		return 0, fmt.Errorf("%w: %s", numbering.ErrDuplicateNumber, b.Number)
	}
	t.repo.seq++
	b.ID = t.repo.seq
	b.Items = nil
	t.staged[b.ID] = b
	return b.ID, nil
}

func (t *memTx) InsertItem(_ context.Context, billID int64, _ int, item Item) (int64, error) {
	b := t.staged[billID]
	t.repo.seq++
	item.ID = t.repo.seq
	b.Items = append(b.Items, item)
	t.staged[billID] = b
	return item.ID, nil
}

func (t *memTx) MarkPaid(_ context.Context, id int64, paidAt time.Time) (bool, error) {
	b, ok := t.repo.bills[id]
	if !ok || b.IsPaid() {
		return false, nil
	}
	b.Status = StatusPaid
	b.PaidAt = &paidAt
	t.staged[id] = b
	return true, nil
}

type stubProposals map[int64]proposals.Proposal

func (s stubProposals) Get(_ context.Context, id int64) (proposals.Proposal, error) {
	p, ok := s[id]
	if !ok {
		return proposals.Proposal{}, proposals.ErrNotFound
	}
	return p, nil
}

type stubNumbers struct {
	fixed   []string
	calls   int
	counter int
}

func (s *stubNumbers) NextInvoiceNumber(context.Context) (string, error) {
	s.calls++
	if len(s.fixed) > 0 {
		n := s.fixed[0]
		if len(s.fixed) > 1 {
			s.fixed = s.fixed[1:]
		}
		return n, nil
	}
	s.counter++
	return numbering.Format("INV-", 2026, s.counter), nil
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	bills []int64
	err   error
}

func (r *recordingEnqueuer) EnqueueFinderFees(_ context.Context, billID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.bills = append(r.bills, billID)
	return nil
}

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryKeys) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = true
	return nil
}

func (m *memoryKeys) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

type fixture struct {
	repo      *memoryRepo
	proposals stubProposals
	numbers   *stubNumbers
	fees      *recordingEnqueuer
	keys      *memoryKeys
	service   *Service
}

func finalizedProposal() proposals.Proposal {
	return proposals.Proposal{
		ID:       7,
		Number:   "2026-004",
		Party:    directory.Party{ClientID: 1},
		Currency: "EUR",
		Config: pricing.Config{
			Type:           pricing.MethodHourly,
			TaxRate:        dec("23"),
			ClientDiscount: pricing.PercentOff(dec("10")),
		},
		Status: proposals.StatusFinalized,
		Items: []proposals.Item{
			{LineItem: pricing.LineItem{Description: "Advisory", Amount: dec("900")}, Effective: dec("900")},
		},
		Totals: pricing.Totals{
			Subtotal:      dec("900"),
			AfterDiscount: dec("810"),
			Tax:           dec("186.30"),
			GrandTotal:    dec("996.30"),
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	draft := finalizedProposal()
	draft.ID, draft.Status = 8, proposals.StatusDraft
	f := &fixture{
		repo:      newMemoryRepo(),
		proposals: stubProposals{7: finalizedProposal(), 8: draft},
		numbers:   &stubNumbers{},
		fees:      &recordingEnqueuer{},
		keys:      &memoryKeys{keys: map[string]bool{}},
	}
	f.service = NewService(f.repo, f.proposals, f.numbers, f.fees, f.keys, ServiceConfig{NumberAttempts: 3}, nil)
	f.service.now = func() time.Time { return fixedNow }
	return f
}

func createInput() CreateInput {
	return CreateInput{
		ProposalID: 7,
		Credits:    []CreditInput{{Description: "Travel", Amount: dec("50"), ExpenseID: 3}},
	}
}

func TestCreateFromProposalCopiesPricing(t *testing.T) {
	f := newFixture(t)
	b, err := f.service.CreateFromProposal(context.Background(), createInput())
	require.NoError(t, err)

	assert.Equal(t, "INV-2026-001", b.Number)
	assert.Equal(t, int64(7), b.ProposalID)
	assert.Equal(t, int64(1), b.ClientID)
	assert.Equal(t, StatusIssued, b.Status)
	assert.Equal(t, "2026-03-10", b.IssueDate.String())
	require.NotNil(t, b.Subtotal)
	assertDec(t, "900", *b.Subtotal)
	assert.Equal(t, pricing.DiscountPercent, b.Discount.Kind)
	assertDec(t, "186.30", b.TaxAmount)
	assertDec(t, "946.30", b.Total)
	require.Len(t, b.Items, 2)
	assert.True(t, b.Items[1].IsCredit)
	assertDec(t, "-50", b.Items[1].Amount)
	assert.NotZero(t, b.Items[0].ID)

	inv := finderfees.Invoice{Subtotal: b.Subtotal, Discount: b.Discount}
	for _, item := range b.Items {
		inv.Items = append(inv.Items, finderfees.InvoiceItem{Amount: item.Amount, IsCredit: item.IsCredit})
	}
	assertDec(t, "760", finderfees.CalculateInvoiceNetAmount(inv))
}

func TestCreateFromProposalRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateFromProposal(ctx, CreateInput{ProposalID: 8})
	require.ErrorIs(t, err, ErrProposalNotFinal)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.service.CreateFromProposal(ctx, CreateInput{ProposalID: 99})
	require.ErrorIs(t, err, shared.ErrNotFound)

	in := createInput()
	in.Credits[0].Amount = decimal.Zero
	in.IssueDate = shared.DatePtr(shared.NewDate(2026, 3, 10))
	in.DueDate = shared.DatePtr(shared.NewDate(2026, 3, 1))
	_, err = f.service.CreateFromProposal(ctx, in)
	errs, ok := shared.AsFieldErrors(err)
	require.True(t, ok, err)
	assert.Equal(t, msgCreditAmount, errs["credits[0].amount"])
	assert.Equal(t, msgDueDate, errs["dueDate"])
	assert.Zero(t, f.numbers.calls)
}

func TestCreateFromProposalRetriesDuplicateNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.numbers.fixed = []string{"INV-2026-001", "INV-2026-001", "INV-2026-002"}

	_, err := f.service.CreateFromProposal(ctx, createInput())
	require.NoError(t, err)
	b, err := f.service.CreateFromProposal(ctx, createInput())
	require.NoError(t, err)
	assert.Equal(t, "INV-2026-002", b.Number)
	assert.Len(t, b.Items, 2)
	assert.Equal(t, 3, f.numbers.calls)
}

func TestMarkPaidOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.service.CreateFromProposal(ctx, createInput())
	require.NoError(t, err)

	paidAt := time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)
	out, err := f.service.MarkPaid(ctx, b.ID, paidAt, "")
	require.NoError(t, err)
	assert.False(t, out.AlreadyPaid)
	assert.Equal(t, StatusPaid, out.Bill.Status)
	require.NotNil(t, out.Bill.PaidAt)
	assert.True(t, paidAt.Equal(*out.Bill.PaidAt))
	assert.Equal(t, []int64{b.ID}, f.fees.bills)

	again, err := f.service.MarkPaid(ctx, b.ID, paidAt.Add(24*time.Hour), "")
	require.NoError(t, err)
	assert.True(t, again.AlreadyPaid)
	assert.True(t, paidAt.Equal(*again.Bill.PaidAt))
	assert.Len(t, f.fees.bills, 1)
}

func TestMarkPaidDefaultsToNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.service.CreateFromProposal(ctx, createInput())
	require.NoError(t, err)

	out, err := f.service.MarkPaid(ctx, b.ID, time.Time{}, "")
	require.NoError(t, err)
	assert.True(t, fixedNow.Equal(*out.Bill.PaidAt))
}

func TestMarkPaidIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, err := f.service.CreateFromProposal(ctx, createInput())
	require.NoError(t, err)

	out, err := f.service.MarkPaid(ctx, b.ID, fixedNow, "hook-1")
	require.NoError(t, err)
	assert.False(t, out.AlreadyPaid)
	assert.True(t, f.keys.keys[paidModule(b.ID)+"/hook-1"])

	replay, err := f.service.MarkPaid(ctx, b.ID, fixedNow, "hook-1")
	require.NoError(t, err)
	assert.True(t, replay.AlreadyPaid)
	assert.Len(t, f.fees.bills, 1)

	_, err = f.service.MarkPaid(ctx, 999, fixedNow, "hook-2")
	require.ErrorIs(t, err, ErrNotFound)
	assert.NotContains(t, f.keys.keys, paidModule(999)+"/hook-2")
}

func TestMarkPaidKeyIsScopedToBill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.service.CreateFromProposal(ctx, createInput())
	require.NoError(t, err)
	second, err := f.service.CreateFromProposal(ctx, createInput())
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	_, err = f.service.MarkPaid(ctx, first.ID, fixedNow, "hook-1")
	require.NoError(t, err)

	out, err := f.service.MarkPaid(ctx, second.ID, fixedNow, "hook-1")
	require.NoError(t, err)
	assert.False(t, out.AlreadyPaid)
	assert.Equal(t, StatusPaid, out.Bill.Status)
	assert.Equal(t, []int64{first.ID, second.ID}, f.fees.bills)
	assert.Equal(t, "bills.paid:"+strconv.FormatInt(second.ID, 10), paidModule(second.ID))
}

func TestMarkPaidSurvivesEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fees.err = errors.New("redis down")
	b, err := f.service.CreateFromProposal(ctx, createInput())
	require.NoError(t, err)

	out, err := f.service.MarkPaid(ctx, b.ID, fixedNow, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, out.Bill.Status)
}

func doRequest(t *testing.T, r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerBillFlow(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(nil, f.service).MountRoutes(r)

	rec := doRequest(t, r, http.MethodPost, "/bills",
		`{"proposalId": 7, "dueDate": "2026-04-10", "credits": [{"description": "Travel", "amount": "50"}]}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Bill
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "INV-2026-001", created.Number)
	assert.Equal(t, "2026-04-10", created.DueDate.String())

	path := fmt.Sprintf("/bills/%d", created.ID)
	rec = doRequest(t, r, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	hook := map[string]string{IdempotencyHeader: "evt-42"}
	rec = doRequest(t, r, http.MethodPost, path+"/paid", `{"paidAt": "2026-03-12T15:00:00Z"}`, hook)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paid PaidResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paid))
	assert.False(t, paid.AlreadyPaid)
	assert.Equal(t, StatusPaid, paid.Bill.Status)

	rec = doRequest(t, r, http.MethodPost, path+"/paid", "", hook)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paid))
	assert.True(t, paid.AlreadyPaid)
}

func TestHandlerBillErrors(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(nil, f.service).MountRoutes(r)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "missing proposal id", method: http.MethodPost, path: "/bills", body: `{}`, status: http.StatusBadRequest},
		{name: "draft proposal", method: http.MethodPost, path: "/bills", body: `{"proposalId": 8}`, status: http.StatusConflict},
		{name: "unknown proposal", method: http.MethodPost, path: "/bills", body: `{"proposalId": 99}`, status: http.StatusNotFound},
		{name: "unknown bill", method: http.MethodGet, path: "/bills/999", status: http.StatusNotFound},
		{name: "pay unknown bill", method: http.MethodPost, path: "/bills/999/paid", status: http.StatusNotFound},
		{name: "bad paid body", method: http.MethodPost, path: "/bills/1/paid", body: `{"when": 1}`, status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, r, tc.method, tc.path, tc.body, nil)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}
