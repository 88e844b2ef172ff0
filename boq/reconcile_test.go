package boq_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/warp/certificate-engine/boq"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const itemA = boq.LineItemID("item-a")

func cert(id string, number int, status boq.CertificateStatus) boq.PaymentCertificate {
	return boq.PaymentCertificate{
		ID:                boq.CertificateID(id),
		ProjectID:         "proj-1",
		CertificateNumber: number,
		Status:            status,
	}
}

func claim(certID string, itemID boq.LineItemID, qty, price float64) boq.ActualTransaction {
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)
	return boq.ActualTransaction{
		ID:            boq.TransactionID(boq.NewID()),
		CertificateID: boq.CertificateID(certID),
		LineItemID:    itemID,
		Quantity:      q,
		UnitPrice:     p,
		TotalPrice:    q.Mul(p),
	}
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func assertEqualDecimal(t *testing.T, want decimal.Decimal, got decimal.Decimal, label string) {
	t.Helper()
	if !want.Equal(got) {
		t.Errorf("%s: expected %s, got %s", label, want, got)
	}
}

// =============================================================================
// PREVIOUS / CURRENT / TOTAL
// =============================================================================

func TestReconcile_PreviousCurrentTotal(t *testing.T) {
	// GIVEN: 800 units claimed on approved certificate #1, 200 more on #2
	// WHEN: Reconciling the item against certificate #2
	// THEN: previous=800, current=200, total=1000

	c1 := cert("c1", 1, boq.StatusApproved)
	c2 := cert("c2", 2, boq.StatusDraft)
	idx := boq.IndexCertificates([]boq.PaymentCertificate{c1, c2})
	txs := []boq.ActualTransaction{
		claim("c1", itemA, 800, 10),
		claim("c2", itemA, 200, 10),
	}

	agg := boq.ReconcileQuantity(itemA, c2, txs, idx)

	assertEqualDecimal(t, dec(800), agg.PreviousOrZero(), "previous")
	assertEqualDecimal(t, dec(200), agg.CurrentOrZero(), "current")
	assertEqualDecimal(t, dec(1000), agg.TotalOrZero(), "total")

	value := boq.ReconcileValue(itemA, c2, txs, idx)
	assertEqualDecimal(t, dec(8000), value.PreviousOrZero(), "previous value")
	assertEqualDecimal(t, dec(2000), value.CurrentOrZero(), "current value")
	assertEqualDecimal(t, dec(10000), value.TotalOrZero(), "total value")
}

func TestReconcile_FutureCertificatesExcluded(t *testing.T) {
	// GIVEN: Claims on certificates #1..#3
	// WHEN: Reconciling against certificate #2
	// THEN: #3's claim appears in no aggregate

	c1 := cert("c1", 1, boq.StatusApproved)
	c2 := cert("c2", 2, boq.StatusApproved)
	c3 := cert("c3", 3, boq.StatusApproved)
	idx := boq.IndexCertificates([]boq.PaymentCertificate{c1, c2, c3})
	txs := []boq.ActualTransaction{
		claim("c1", itemA, 100, 1),
		claim("c2", itemA, 50, 1),
		claim("c3", itemA, 999, 1),
	}

	agg := boq.ReconcileQuantity(itemA, c2, txs, idx)

	assertEqualDecimal(t, dec(100), agg.PreviousOrZero(), "previous")
	assertEqualDecimal(t, dec(50), agg.CurrentOrZero(), "current")
	assertEqualDecimal(t, dec(150), agg.TotalOrZero(), "total")
}

func TestReconcile_TotalVsPreviousAsymmetry(t *testing.T) {
	// GIVEN: Certificate #1 still SUBMITTED (not yet approved), #2 the target
	// WHEN: Reconciling against #2
	// THEN: #1's claim is excluded from previous but included in total.
	//       Previous answers "what has the client signed off"; total
	//       answers "what has been recorded so far".

	c1 := cert("c1", 1, boq.StatusSubmitted)
	c2 := cert("c2", 2, boq.StatusDraft)
	idx := boq.IndexCertificates([]boq.PaymentCertificate{c1, c2})
	txs := []boq.ActualTransaction{
		claim("c1", itemA, 300, 1),
		claim("c2", itemA, 100, 1),
	}

	agg := boq.ReconcileQuantity(itemA, c2, txs, idx)

	if agg.Previous != nil {
		t.Errorf("expected nil previous (no earlier APPROVED claims), got %s", agg.Previous)
	}
	assertEqualDecimal(t, dec(100), agg.CurrentOrZero(), "current")
	assertEqualDecimal(t, dec(400), agg.TotalOrZero(), "total")

	if agg.PreviousOrZero().Add(agg.CurrentOrZero()).Equal(agg.TotalOrZero()) {
		t.Error("previous+current should differ from total while earlier certificates are unapproved")
	}
}

func TestReconcile_RejectedClaimsCountInCurrentAndTotal(t *testing.T) {
	// Status filtering applies to previous only: the current and total
	// figures include the target's own rows regardless of status.

	c1 := cert("c1", 1, boq.StatusRejected)
	idx := boq.IndexCertificates([]boq.PaymentCertificate{c1})
	txs := []boq.ActualTransaction{claim("c1", itemA, 75, 2)}

	agg := boq.ReconcileQuantity(itemA, c1, txs, idx)

	if agg.Previous != nil {
		t.Errorf("expected nil previous, got %s", agg.Previous)
	}
	assertEqualDecimal(t, dec(75), agg.CurrentOrZero(), "current")
	assertEqualDecimal(t, dec(75), agg.TotalOrZero(), "total")
}

func TestReconcile_NeverClaimedYieldsNilAggregates(t *testing.T) {
	// GIVEN: No transactions for the item at all
	// THEN: All three aggregates are nil, not zero

	c1 := cert("c1", 1, boq.StatusDraft)
	idx := boq.IndexCertificates([]boq.PaymentCertificate{c1})

	agg := boq.ReconcileQuantity(itemA, c1, nil, idx)

	if agg.Previous != nil || agg.Current != nil || agg.Total != nil {
		t.Errorf("expected nil aggregates for a never-claimed item, got %+v", agg)
	}
}

func TestReconcile_ZeroClaimIsZeroNotNil(t *testing.T) {
	// A recorded zero-quantity claim is "claimed nothing", which is
	// different from "never claimed".

	c1 := cert("c1", 1, boq.StatusDraft)
	idx := boq.IndexCertificates([]boq.PaymentCertificate{c1})
	txs := []boq.ActualTransaction{claim("c1", itemA, 0, 10)}

	agg := boq.ReconcileQuantity(itemA, c1, txs, idx)

	if agg.Current == nil {
		t.Fatal("expected non-nil current for a zero claim")
	}
	assertEqualDecimal(t, decimal.Zero, *agg.Current, "current")
}

func TestReconcile_OtherLineItemsIgnored(t *testing.T) {
	c1 := cert("c1", 1, boq.StatusApproved)
	c2 := cert("c2", 2, boq.StatusDraft)
	idx := boq.IndexCertificates([]boq.PaymentCertificate{c1, c2})
	txs := []boq.ActualTransaction{
		claim("c1", itemA, 10, 1),
		claim("c1", "item-b", 500, 1),
		claim("c2", "item-b", 500, 1),
	}

	agg := boq.ReconcileQuantity(itemA, c2, txs, idx)

	assertEqualDecimal(t, dec(10), agg.PreviousOrZero(), "previous")
	if agg.Current != nil {
		t.Errorf("expected nil current, got %s", agg.Current)
	}
	assertEqualDecimal(t, dec(10), agg.TotalOrZero(), "total")
}

func TestReconcile_MultipleTransactionsSameCertificateSum(t *testing.T) {
	c1 := cert("c1", 1, boq.StatusDraft)
	idx := boq.IndexCertificates([]boq.PaymentCertificate{c1})
	txs := []boq.ActualTransaction{
		claim("c1", itemA, 40, 5),
		claim("c1", itemA, 60, 5),
	}

	agg := boq.ReconcileQuantity(itemA, c1, txs, idx)

	assertEqualDecimal(t, dec(100), agg.CurrentOrZero(), "current")
	assertEqualDecimal(t, dec(100), agg.TotalOrZero(), "total")
}

// =============================================================================
// CLAIMED TO DATE
// =============================================================================

func TestClaimedToDate_ExcludesActiveCertificate(t *testing.T) {
	// GIVEN: 500 claimed on a closed certificate, 200 captured on the
	//        active one
	// WHEN: Computing claimed-to-date with the active certificate excluded
	// THEN: Only the 500 counts; in-progress entries never double count

	closedTx := claim("c1", itemA, 500, 1)
	closedTx.Claimed = true
	activeTx := claim("c2", itemA, 200, 1)
	activeTx.Claimed = true

	activeID := boq.CertificateID("c2")
	got := boq.ClaimedToDate(itemA, &activeID, []boq.ActualTransaction{closedTx, activeTx})

	assertEqualDecimal(t, dec(500), got, "claimed to date")
}

func TestClaimedToDate_IgnoresUnclaimedTransactions(t *testing.T) {
	// Rejected or draft claims never carry the claimed flag and must not
	// count toward the cumulative baseline.

	unclaimed := claim("c1", itemA, 300, 1)
	got := boq.ClaimedToDate(itemA, nil, []boq.ActualTransaction{unclaimed})
	assertEqualDecimal(t, decimal.Zero, got, "claimed to date")
}

func TestClaimedToDateValue_SumsTotalPrice(t *testing.T) {
	tx := boq.ActualTransaction{
		ID:            "t1",
		CertificateID: "c1",
		LineItemID:    itemA,
		TotalPrice:    dec(2500),
		Claimed:       true,
	}
	got := boq.ClaimedToDateValue(itemA, nil, []boq.ActualTransaction{tx})
	assertEqualDecimal(t, dec(2500), got, "claimed to date value")
}
