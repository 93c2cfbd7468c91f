package finderfees

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/directory"
	"github.com/odyssey-erp/odyssey-billing/internal/money"
	"github.com/odyssey-erp/odyssey-billing/internal/pricing"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memoryRepo struct {
	mu          sync.Mutex
	invoices    map[int64]Invoice
	processed   map[int64]bool
	fees        []FinderFee
	payments    []Payment
	listCalls   int
	createCalls int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{invoices: map[int64]Invoice{}, processed: map[int64]bool{}}
}

func (m *memoryRepo) GetInvoice(_ context.Context, billID int64) (Invoice, error) {
	inv, ok := m.invoices[billID]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return inv, nil
}

func (m *memoryRepo) FeesExistForBill(_ context.Context, billID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fees {
		if f.BillID == billID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) CreateFees(_ context.Context, fees []FinderFee) ([]FinderFee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	for _, fee := range fees {
		for _, existing := range m.fees {
			if existing.BillID == fee.BillID && existing.ClientFinderID == fee.ClientFinderID {
				return nil, ErrAlreadyCreated
			}
		}
	}
	out := make([]FinderFee, 0, len(fees))
	for _, fee := range fees {
		fee.ID = int64(len(m.fees) + 1)
		fee.CreatedAt = time.Now()
		m.fees = append(m.fees, fee)
		out = append(out, fee)
	}
	return out, nil
}

func (m *memoryRepo) GetFee(_ context.Context, id int64) (FinderFee, error) {
	for _, f := range m.fees {
		if f.ID == id {
			return f, nil
		}
	}
	return FinderFee{}, ErrNotFound
}

func (m *memoryRepo) ListFeesByFinder(_ context.Context, finderID int64) ([]FinderFee, error) {
	m.listCalls++
	var out []FinderFee
	for _, f := range m.fees {
		if f.FinderID == finderID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListFeesByBill(_ context.Context, billID int64) ([]FinderFee, error) {
	var out []FinderFee
	for _, f := range m.fees {
		if f.BillID == billID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memoryRepo) ApplyPayment(_ context.Context, feeID int64, amount decimal.Decimal, paidAt time.Time, apply func(FinderFee) (FinderFee, error)) (FinderFee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.fees {
		if f.ID != feeID {
			continue
		}
		updated, err := apply(f)
		if err != nil {
			return FinderFee{}, err
		}
		m.fees[i] = updated
		m.payments = append(m.payments, Payment{ID: int64(len(m.payments) + 1), FinderFeeID: feeID, Amount: amount, PaidAt: paidAt})
		return updated, nil
	}
	return FinderFee{}, ErrNotFound
}

func (m *memoryRepo) MarkProcessed(_ context.Context, billID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[billID] = true
	return nil
}

func (m *memoryRepo) UnprocessedPaidBills(_ context.Context, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, inv := range m.invoices {
		if inv.Status == InvoicePaid && !m.processed[id] {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type stubFinders map[int64][]directory.ClientFinder

func (s stubFinders) Finders(_ context.Context, clientID int64) ([]directory.ClientFinder, error) {
	return s[clientID], nil
}

type recorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *recorder) RecordFinderFeeOutcome(reason string, created int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[reason] += 1 + created
}

var billPaidAt = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// paidBill is the reference scenario: subtotal 1000, 10% discount and a 50
// expense credit.
func paidBill(id, clientID int64) Invoice {
	return Invoice{
		ID:       id,
		ClientID: clientID,
		Status:   InvoicePaid,
		PaidAt:   &billPaidAt,
		Subtotal: money.Ptr(dec("1000")),
		Discount: pricing.PercentOff(dec("10")),
		Items: []InvoiceItem{
			{Amount: dec("1000")},
			{Amount: dec("-50"), IsCredit: true},
		},
	}
}

func newTestService(t *testing.T, repo *memoryRepo, finders stubFinders) (*Service, *recorder) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rec := &recorder{}
	return NewService(repo, finders, NewCache(client, time.Minute), rec, nil), rec
}

func TestCalculateInvoiceNetAmountScenario(t *testing.T) {
	net := CalculateInvoiceNetAmount(paidBill(1, 1))
	assert.Equal(t, "850.00", net.StringFixed(2))
	assert.Equal(t, "85.00", FeeAmount(net, dec("10")).StringFixed(2))
}

func TestCalculateInvoiceNetAmountEdges(t *testing.T) {
	tests := []struct {
		name string
		inv  Invoice
		want string
	}{
		{"subtotal derived from non credit items", Invoice{Items: []InvoiceItem{
			{Amount: dec("400")}, {Amount: dec("600")}, {Amount: dec("-100"), IsCredit: true},
		}}, "900.00"},
		{"fixed discount", Invoice{Subtotal: money.Ptr(dec("500")), Discount: pricing.AmountOff(dec("125.50"))}, "374.50"},
		{"positive credit amounts count by magnitude", Invoice{Subtotal: money.Ptr(dec("100")), Items: []InvoiceItem{{Amount: dec("30"), IsCredit: true}}}, "70.00"},
		{"never negative", Invoice{Subtotal: money.Ptr(dec("100")), Discount: pricing.PercentOff(dec("50")), Items: []InvoiceItem{{Amount: dec("-80"), IsCredit: true}}}, "0.00"},
		{"empty bill", Invoice{}, "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateInvoiceNetAmount(tt.inv).StringFixed(2))
		})
	}
}

func TestNetAmountIsMonotonic(t *testing.T) {
	base := func(subtotal, discountPct, credit string) decimal.Decimal {
		return CalculateInvoiceNetAmount(Invoice{
			Subtotal: money.Ptr(dec(subtotal)),
			Discount: pricing.PercentOff(dec(discountPct)),
			Items:    []InvoiceItem{{Amount: dec(credit), IsCredit: true}},
		})
	}
	prev := base("0", "10", "-20")
	for _, subtotal := range []string{"10", "50", "100", "1000"} {
		next := base(subtotal, "10", "-20")
		assert.True(t, next.GreaterThanOrEqual(prev))
		prev = next
	}
	prev = base("1000", "0", "-20")
	for _, pct := range []string{"5", "20", "60", "100"} {
		next := base("1000", pct, "-20")
		assert.True(t, next.LessThanOrEqual(prev))
		assert.False(t, next.IsNegative())
		prev = next
	}
}

func TestCalculateAndCreateScenario(t *testing.T) {
	repo := newMemoryRepo()
	repo.invoices[1] = paidBill(1, 5)
	svc, rec := newTestService(t, repo, stubFinders{5: {
		{ID: 11, ClientID: 5, UserID: 100, FinderFeePercent: dec("10")},
		{ID: 12, ClientID: 5, UserID: 101, FinderFeePercent: dec("0")},
	}})

	out, err := svc.CalculateAndCreate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, SkipNone, out.Skipped)
	require.Len(t, out.Created, 1)
	fee := out.Created[0]
	assert.Equal(t, int64(100), fee.FinderID)
	assert.Equal(t, "850.00", fee.InvoiceNetAmount.StringFixed(2))
	assert.Equal(t, "85.00", fee.FinderFeeAmount.StringFixed(2))
	assert.True(t, fee.RemainingAmount.Equal(fee.FinderFeeAmount))
	assert.Equal(t, StatusPending, fee.Status)
	assert.Equal(t, billPaidAt, fee.EarnedAt)
	assert.Equal(t, 2, rec.outcomes[""])
}

func TestCalculateAndCreateIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	repo.invoices[1] = paidBill(1, 5)
	svc, _ := newTestService(t, repo, stubFinders{5: {{ID: 11, ClientID: 5, UserID: 100, FinderFeePercent: dec("10")}}})

	_, err := svc.CalculateAndCreate(context.Background(), 1)
	require.NoError(t, err)
	out, err := svc.CalculateAndCreate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, SkipAlreadyCreated, out.Skipped)
	assert.Len(t, repo.fees, 1)
	assert.Equal(t, 1, repo.createCalls)
}

func TestCalculateAndCreateConcurrentCallsCreateOneSet(t *testing.T) {
	repo := newMemoryRepo()
	repo.invoices[1] = paidBill(1, 5)
	svc, _ := newTestService(t, repo, stubFinders{5: {{ID: 11, ClientID: 5, UserID: 100, FinderFeePercent: dec("10")}}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CalculateAndCreate(context.Background(), 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, repo.fees, 1)
}

func TestCalculateAndCreateSkips(t *testing.T) {
	unpaid := paidBill(2, 5)
	unpaid.Status = "ISSUED"
	unpaid.PaidAt = nil
	lead := paidBill(3, 0)
	zeroNet := paidBill(4, 5)
	zeroNet.Discount = pricing.PercentOff(dec("100"))
	noFinders := paidBill(5, 6)
	zeroPct := paidBill(6, 7)

	repo := newMemoryRepo()
	for _, inv := range []Invoice{unpaid, lead, zeroNet, noFinders, zeroPct} {
		repo.invoices[inv.ID] = inv
	}
	svc, _ := newTestService(t, repo, stubFinders{
		5: {{ID: 11, ClientID: 5, UserID: 100, FinderFeePercent: dec("10")}},
		7: {{ID: 12, ClientID: 7, UserID: 100, FinderFeePercent: dec("0")}},
	})

	tests := []struct {
		billID int64
		want   SkipReason
	}{
		{2, SkipNotPaid},
		{3, SkipNoClient},
		{4, SkipNonPositiveNet},
		{5, SkipNoFinders},
		{6, SkipNoEligibleFinder},
	}
	for _, tt := range tests {
		out, err := svc.CalculateAndCreate(context.Background(), tt.billID)
		require.NoError(t, err)
		assert.Equal(t, tt.want, out.Skipped, "bill %d", tt.billID)
		assert.Empty(t, out.Created)
	}
	assert.Empty(t, repo.fees)

	_, err := svc.CalculateAndCreate(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSkippedBillsLeaveThePendingList(t *testing.T) {
	repo := newMemoryRepo()
	for id := int64(1); id <= 4; id++ {
		overCredited := paidBill(id, 5)
		overCredited.Items = append(overCredited.Items, InvoiceItem{Amount: dec("-2000"), IsCredit: true})
		repo.invoices[id] = overCredited
	}
	repo.invoices[5] = paidBill(5, 5)
	unpaid := paidBill(6, 5)
	unpaid.Status = "ISSUED"
	unpaid.PaidAt = nil
	repo.invoices[6] = unpaid
	svc, _ := newTestService(t, repo, stubFinders{5: {{ID: 11, ClientID: 5, UserID: 100, FinderFeePercent: dec("10")}}})
	ctx := context.Background()

	pending, err := svc.PendingBills(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 4}, pending)
	for _, id := range pending {
		out, err := svc.CalculateAndCreate(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, SkipNonPositiveNet, out.Skipped)
	}

	pending, err = svc.PendingBills(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, []int64{5}, pending)
	out, err := svc.CalculateAndCreate(ctx, 5)
	require.NoError(t, err)
	require.Len(t, out.Created, 1)

	pending, err = svc.PendingBills(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, pending)

	out, err = svc.CalculateAndCreate(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, SkipNotPaid, out.Skipped)
	assert.False(t, repo.processed[6])
}

func TestRecordPaymentLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	repo.invoices[1] = paidBill(1, 5)
	svc, _ := newTestService(t, repo, stubFinders{5: {{ID: 11, ClientID: 5, UserID: 100, FinderFeePercent: dec("10")}}})
	ctx := context.Background()
	out, err := svc.CalculateAndCreate(ctx, 1)
	require.NoError(t, err)
	feeID := out.Created[0].ID

	fee, err := svc.RecordPayment(ctx, feeID, dec("35"), billPaidAt)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyPaid, fee.Status)
	assert.Equal(t, "50.00", fee.RemainingAmount.StringFixed(2))

	_, err = svc.RecordPayment(ctx, feeID, dec("60"), billPaidAt)
	require.ErrorIs(t, err, ErrOverpayment)

	fee, err = svc.RecordPayment(ctx, feeID, dec("50"), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, fee.Status)
	assert.True(t, fee.RemainingAmount.IsZero())
	assert.Len(t, repo.payments, 2)

	_, err = svc.RecordPayment(ctx, feeID, dec("0"), billPaidAt)
	require.Error(t, err)
	_, err = svc.RecordPayment(ctx, 999, dec("1"), billPaidAt)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSummaryIsCachedAndInvalidated(t *testing.T) {
	repo := newMemoryRepo()
	repo.invoices[1] = paidBill(1, 5)
	svc, _ := newTestService(t, repo, stubFinders{5: {{ID: 11, ClientID: 5, UserID: 100, FinderFeePercent: dec("10")}}})
	ctx := context.Background()
	out, err := svc.CalculateAndCreate(ctx, 1)
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FeeCount)
	assert.Equal(t, "85.00", summary.Outstanding.StringFixed(2))

	_, err = svc.Summary(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)

	_, err = svc.RecordPayment(ctx, out.Created[0].ID, dec("85"), billPaidAt)
	require.NoError(t, err)
	summary, err = svc.Summary(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
	assert.Equal(t, "85.00", summary.Paid.StringFixed(2))
	assert.True(t, summary.Outstanding.IsZero())
	assert.Equal(t, 1, summary.Settled)
}

func TestListenerDropsOrphanedSummary(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	key, err := cache.SummaryKey(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "finderfees:summary:100:1", key)
	require.NoError(t, client.Set(ctx, key, `{"feeCount":1}`, time.Minute).Err())
	other := summaryKey(200, 1)
	require.NoError(t, client.Set(ctx, other, `{}`, time.Minute).Err())

	require.NoError(t, cache.ListenForInvalidation(ctx))
	require.NoError(t, cache.Bump(ctx, 100))

	assert.Eventually(t, func() bool { return !mr.Exists(key) }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, mr.Exists(other))
	next, err := cache.SummaryKey(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "finderfees:summary:100:2", next)

	_, _, err = parseBumpMessage("100")
	require.Error(t, err)
	require.NoError(t, NewCache(nil, time.Minute).ListenForInvalidation(ctx))
}

func TestSummaryWithoutCache(t *testing.T) {
	repo := newMemoryRepo()
	repo.fees = []FinderFee{
		{ID: 1, FinderID: 9, FinderFeeAmount: dec("40"), RemainingAmount: dec("40"), Status: StatusPending},
		{ID: 2, FinderID: 9, FinderFeeAmount: dec("60"), RemainingAmount: dec("10"), Status: StatusPartiallyPaid},
	}
	svc := NewService(repo, stubFinders{}, nil, nil, nil)
	summary, err := svc.Summary(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "100.00", summary.Earned.StringFixed(2))
	assert.Equal(t, "50.00", summary.Paid.StringFixed(2))
	assert.Equal(t, 1, summary.Pending)
	assert.Equal(t, 1, summary.Partial)
}

func TestHandlerRoutes(t *testing.T) {
	repo := newMemoryRepo()
	repo.invoices[1] = paidBill(1, 5)
	svc, _ := newTestService(t, repo, stubFinders{5: {{ID: 11, ClientID: 5, UserID: 100, FinderFeePercent: dec("10")}}})
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bills/1/net-amount", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var net netAmountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &net))
	assert.Equal(t, "850.00", net.NetAmount.StringFixed(2))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bills/1/finder-fees", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bills/1/finder-fees", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var again Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, SkipAlreadyCreated, again.Skipped)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/finder-fees/1/payments", strings.NewReader(`{"amount":"100"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/finder-fees/1/payments", strings.NewReader(`{"amount":"-1"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/finders/100/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var summary Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.FeeCount)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bills/404/net-amount", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
