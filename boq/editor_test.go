package boq_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/certificate-engine/boq"
	"github.com/warp/certificate-engine/boq/store"
)

// =============================================================================
// FIXTURES
// =============================================================================

type editorFixture struct {
	store  *store.Memory
	editor *boq.Editor
	cert   *boq.PaymentCertificate
	item   boq.LineItem
}

func newEditorFixture(t *testing.T) *editorFixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	project := &boq.Project{
		ID:        boq.ProjectID(boq.NewID()),
		Name:      "Test Project",
		Status:    boq.ProjectActive,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, mem.SaveProject(ctx, project))

	item := boq.LineItem{
		ID:               boq.LineItemID(boq.NewID()),
		ProjectID:        project.ID,
		RowIndex:         1,
		ItemNumber:       "1.1",
		Description:      "Bulk excavation",
		UnitMeasurement:  "m3",
		IsWork:           true,
		BudgetedQuantity: decimal.NewFromInt(1000),
		UnitPrice:        decimal.NewFromInt(10),
		TotalPrice:       decimal.NewFromInt(10000),
	}
	require.NoError(t, mem.SaveLineItem(ctx, &item))

	cert, err := mem.CreateCertificate(ctx, project.ID)
	require.NoError(t, err)

	return &editorFixture{
		store:  mem,
		editor: &boq.Editor{Store: mem},
		cert:   cert,
		item:   item,
	}
}

func (f *editorFixture) addItem(t *testing.T, item boq.LineItem) boq.LineItem {
	t.Helper()
	item.ID = boq.LineItemID(boq.NewID())
	item.ProjectID = f.cert.ProjectID
	require.NoError(t, f.store.SaveLineItem(context.Background(), &item))
	return item
}

func (f *editorFixture) transactions(t *testing.T) []boq.ActualTransaction {
	t.Helper()
	txs, err := f.store.ListTransactionsByCertificate(context.Background(), f.cert.ID)
	require.NoError(t, err)
	return txs
}

// =============================================================================
// DELTA SEMANTICS
// =============================================================================

func TestEditor_CumulativeEntryCreatesDelta(t *testing.T) {
	// GIVEN: 300 already claimed and approved on an earlier certificate
	// WHEN: The user enters a cumulative total of 500 on the active draft
	// THEN: The new transaction carries the delta of 200

	f := newEditorFixture(t)
	ctx := context.Background()

	prior := boq.ActualTransaction{
		ID:            boq.TransactionID(boq.NewID()),
		CertificateID: "closed-cert",
		LineItemID:    f.item.ID,
		Quantity:      decimal.NewFromInt(300),
		UnitPrice:     f.item.UnitPrice,
		TotalPrice:    decimal.NewFromInt(3000),
		Approved:      true,
		Claimed:       true,
	}
	require.NoError(t, f.store.ApplyTransactionChanges(ctx, prior.CertificateID, []boq.ActualTransaction{prior}, nil))

	summary, err := f.editor.Apply(ctx, f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "500"},
	}, "qs.tester")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Quantity.Equal(decimal.NewFromInt(200)),
		"expected delta 200, got %s", txs[0].Quantity)
	assert.True(t, txs[0].TotalPrice.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, "qs.tester", txs[0].CapturedBy)
}

func TestEditor_ReapplySameValueIsIdempotent(t *testing.T) {
	// Re-entering the same cumulative total overwrites the existing
	// transaction rather than stacking a second one.

	f := newEditorFixture(t)
	ctx := context.Background()

	_, err := f.editor.Apply(ctx, f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "400"},
	}, "qs.tester")
	require.NoError(t, err)

	first := f.transactions(t)
	require.Len(t, first, 1)

	summary, err := f.editor.Apply(ctx, f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "400"},
	}, "qs.tester")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 0, summary.Created)

	second := f.transactions(t)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "transaction must be overwritten, not replaced")
	assert.True(t, second[0].Quantity.Equal(decimal.NewFromInt(400)))
}

func TestEditor_LoweringCumulativeProducesNegativeDelta(t *testing.T) {
	// A lower cumulative than claimed-to-date un-claims quantity: the
	// entered value is non-negative but the stored delta goes below zero.

	f := newEditorFixture(t)
	ctx := context.Background()

	prior := boq.ActualTransaction{
		ID:            boq.TransactionID(boq.NewID()),
		CertificateID: "closed-cert",
		LineItemID:    f.item.ID,
		Quantity:      decimal.NewFromInt(600),
		UnitPrice:     f.item.UnitPrice,
		TotalPrice:    decimal.NewFromInt(6000),
		Approved:      true,
		Claimed:       true,
	}
	require.NoError(t, f.store.ApplyTransactionChanges(ctx, prior.CertificateID, []boq.ActualTransaction{prior}, nil))

	_, err := f.editor.Apply(ctx, f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "450"},
	}, "qs.tester")
	require.NoError(t, err)

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Quantity.Equal(decimal.NewFromInt(-150)),
		"expected delta -150, got %s", txs[0].Quantity)
}

func TestEditor_DuplicateRowsCollapseLastWins(t *testing.T) {
	// Two rows for the same line item in one batch must not stack two
	// deltas: the cumulative semantics demand a single transaction, and
	// the later row wins the way repeated form fields do.

	f := newEditorFixture(t)
	ctx := context.Background()

	summary, err := f.editor.Apply(ctx, f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "100"},
		{LineItemID: f.item.ID, Raw: "250"},
	}, "qs.tester")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 0, summary.Updated)

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Quantity.Equal(decimal.NewFromInt(250)),
		"expected the later entry's cumulative 250, got %s", txs[0].Quantity)
}

func TestEditor_DuplicateIdenticalRowsCreateOneTransaction(t *testing.T) {
	f := newEditorFixture(t)
	ctx := context.Background()

	summary, err := f.editor.Apply(ctx, f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "100"},
		{LineItemID: f.item.ID, Raw: "100"},
	}, "qs.tester")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Quantity.Equal(decimal.NewFromInt(100)),
		"expected a single transaction of 100, got %s", txs[0].Quantity)
}

func TestEditor_BlankAfterValueCancelsStagedRow(t *testing.T) {
	// A later blank row for the same fresh line item withdraws the value
	// staged earlier in the batch; nothing is persisted.

	f := newEditorFixture(t)

	summary, err := f.editor.Apply(context.Background(), f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "100"},
		{LineItemID: f.item.ID, Raw: ""},
	}, "qs.tester")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)
	assert.Empty(t, f.transactions(t))
}

func TestEditor_ValueBlankValueAppliesOnce(t *testing.T) {
	// Staging, withdrawing and re-entering a fresh row within one batch
	// still persists exactly one transaction.

	f := newEditorFixture(t)

	summary, err := f.editor.Apply(context.Background(), f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "100"},
		{LineItemID: f.item.ID, Raw: ""},
		{LineItemID: f.item.ID, Raw: "250"},
	}, "qs.tester")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Quantity.Equal(decimal.NewFromInt(250)))
}

func TestEditor_ValueAfterBlankOverwritesExistingTransaction(t *testing.T) {
	// Blank then a value for the same persisted transaction ends as an
	// overwrite, not a delete plus a second transaction.

	f := newEditorFixture(t)
	ctx := context.Background()

	_, err := f.editor.Apply(ctx, f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "300"},
	}, "qs.tester")
	require.NoError(t, err)
	first := f.transactions(t)
	require.Len(t, first, 1)

	summary, err := f.editor.Apply(ctx, f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: ""},
		{LineItemID: f.item.ID, Raw: "450"},
	}, "qs.tester")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Deleted)
	assert.Equal(t, 1, summary.Updated)

	second := f.transactions(t)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.True(t, second[0].Quantity.Equal(decimal.NewFromInt(450)))
}

// =============================================================================
// ROW POLICY
// =============================================================================

func TestEditor_BlankDeletesExistingTransaction(t *testing.T) {
	f := newEditorFixture(t)
	ctx := context.Background()

	_, err := f.editor.Apply(ctx, f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "100"},
	}, "qs.tester")
	require.NoError(t, err)
	txs := f.transactions(t)
	require.Len(t, txs, 1)

	summary, err := f.editor.Apply(ctx, f.cert.ID, []boq.QuantityEntry{
		{TransactionID: txs[0].ID, Raw: "  "},
	}, "qs.tester")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
	assert.Empty(t, f.transactions(t))
}

func TestEditor_BlankOnFreshRowIsSkipped(t *testing.T) {
	f := newEditorFixture(t)

	summary, err := f.editor.Apply(context.Background(), f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: ""},
	}, "qs.tester")
	require.NoError(t, err)

	require.Len(t, summary.Skipped, 1)
	assert.Equal(t, "blank input", summary.Skipped[0].Reason)
	assert.Empty(t, f.transactions(t))
}

func TestEditor_BadRowsSkippedGoodRowsApplied(t *testing.T) {
	// One bulk submission mixes a valid row, a non-numeric row and a
	// negative row. The batch never fails; only the valid row lands.

	f := newEditorFixture(t)
	other := f.addItem(t, boq.LineItem{
		RowIndex: 2, ItemNumber: "1.2", IsWork: true,
		BudgetedQuantity: decimal.NewFromInt(100), UnitPrice: decimal.NewFromInt(5),
	})
	third := f.addItem(t, boq.LineItem{
		RowIndex: 3, ItemNumber: "1.3", IsWork: true,
		BudgetedQuantity: decimal.NewFromInt(100), UnitPrice: decimal.NewFromInt(5),
	})

	summary, err := f.editor.Apply(context.Background(), f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "50"},
		{LineItemID: other.ID, Raw: "lots"},
		{LineItemID: third.ID, Raw: "-10"},
	}, "qs.tester")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	require.Len(t, summary.Skipped, 2)
	assert.Equal(t, `not numeric: "lots"`, summary.Skipped[0].Reason)
	assert.Equal(t, "entered value is negative", summary.Skipped[1].Reason)
	assert.Len(t, f.transactions(t), 1)
}

func TestEditor_HeadingRowRejected(t *testing.T) {
	f := newEditorFixture(t)
	heading := f.addItem(t, boq.LineItem{
		RowIndex: 2, Description: "EARTHWORKS GENERALLY", IsWork: false,
	})

	summary, err := f.editor.Apply(context.Background(), f.cert.ID, []boq.QuantityEntry{
		{LineItemID: heading.ID, Raw: "10"},
	}, "qs.tester")
	require.NoError(t, err)

	require.Len(t, summary.Skipped, 1)
	assert.Contains(t, summary.Skipped[0].Reason, "heading row")
}

func TestEditor_UnknownTransactionSkipped(t *testing.T) {
	f := newEditorFixture(t)

	summary, err := f.editor.Apply(context.Background(), f.cert.ID, []boq.QuantityEntry{
		{TransactionID: "no-such-tx", Raw: "10"},
	}, "qs.tester")
	require.NoError(t, err)

	require.Len(t, summary.Skipped, 1)
	assert.Contains(t, summary.Skipped[0].Reason, "not on this certificate")
}

// =============================================================================
// SPECIAL ITEMS AND STATUS GUARD
// =============================================================================

func TestEditor_SpecialItemStoresValueDelta(t *testing.T) {
	// Special items are valued directly: the entry is money, the stored
	// transaction carries total_price with zero quantity and unit price.

	f := newEditorFixture(t)
	special := f.addItem(t, boq.LineItem{
		RowIndex: 2, ItemNumber: "SP-1", Description: "Contractual claim",
		IsWork: true, SpecialItem: true, TotalPrice: decimal.NewFromInt(50000),
	})

	_, err := f.editor.Apply(context.Background(), f.cert.ID, []boq.QuantityEntry{
		{LineItemID: special.ID, Raw: "12500"},
	}, "qs.tester")
	require.NoError(t, err)

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].TotalPrice.Equal(decimal.NewFromInt(12500)))
	assert.True(t, txs[0].Quantity.IsZero())
	assert.True(t, txs[0].UnitPrice.IsZero())
}

func TestEditor_NonDraftCertificateNotEditable(t *testing.T) {
	f := newEditorFixture(t)
	ctx := context.Background()

	f.cert.Status = boq.StatusSubmitted
	require.NoError(t, f.store.UpdateCertificate(ctx, f.cert))

	_, err := f.editor.Apply(ctx, f.cert.ID, []boq.QuantityEntry{
		{LineItemID: f.item.ID, Raw: "10"},
	}, "qs.tester")

	var notEditable *boq.NotEditableError
	require.ErrorAs(t, err, &notEditable)
	assert.Equal(t, boq.StatusSubmitted, notEditable.Status)
}
