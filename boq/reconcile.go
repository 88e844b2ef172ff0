/*
reconcile.go - Temporal aggregation of claims across certificates

PURPOSE:
  The semantic core. For any line item and a target certificate, computes
  three aggregates over the line item's transactions:

    Previous: claimed in certificates numbered BEFORE the target, counting
              only APPROVED certificates
    Current:  claimed within the target certificate, any status
    Total:    claimed up to and including the target's number, any status

  Previous + Current is NOT Total when earlier certificates in the
  sequence are still unapproved. That asymmetry is deliberate: Previous
  answers "what has the client signed off", Total answers "what has been
  recorded against the contract so far". Callers must not assume
  equivalence.

ORDERING:
  Everything keys off certificate_number. Creation timestamps and
  approval timestamps play no part.

ABSENT vs ZERO:
  A line item with no qualifying transactions yields nil aggregates, not
  zero, so callers can distinguish "never claimed" from "claimed
  nothing".

PURITY:
  The package-level functions take the transaction slice and a
  certificate index as inputs and touch no storage, so they unit-test
  without a database. Reconciler binds them to a Store for callers that
  want the loaded variant.

SEE ALSO:
  - editor.go: ClaimedToDate drives cumulative-entry deltas
  - grouping.go: groups reconciled rows for document rendering
*/
package boq

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGGREGATES
// =============================================================================

// Aggregate holds the three reconciliation figures for one line item
// against one target certificate. Nil means no qualifying transaction
// exists for that figure.
type Aggregate struct {
	Previous *decimal.Decimal
	Current  *decimal.Decimal
	Total    *decimal.Decimal
}

// PreviousOrZero returns Previous, or zero when absent.
func (a Aggregate) PreviousOrZero() decimal.Decimal { return orZero(a.Previous) }

// CurrentOrZero returns Current, or zero when absent.
func (a Aggregate) CurrentOrZero() decimal.Decimal { return orZero(a.Current) }

// TotalOrZero returns Total, or zero when absent.
func (a Aggregate) TotalOrZero() decimal.Decimal { return orZero(a.Total) }

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func accumulate(slot **decimal.Decimal, v decimal.Decimal) {
	if *slot == nil {
		zero := decimal.Zero
		*slot = &zero
	}
	sum := (*slot).Add(v)
	*slot = &sum
}

// =============================================================================
// PURE RECONCILIATION
// =============================================================================

// CertificateIndex maps certificate IDs to the number/status pair the
// aggregates depend on. Build one with IndexCertificates.
type CertificateIndex map[CertificateID]PaymentCertificate

// IndexCertificates builds a CertificateIndex from a project's
// certificates.
func IndexCertificates(certs []PaymentCertificate) CertificateIndex {
	idx := make(CertificateIndex, len(certs))
	for _, c := range certs {
		idx[c.ID] = c
	}
	return idx
}

// ReconcileValue computes the value (total_price) aggregates for one
// line item against the target certificate.
func ReconcileValue(lineItemID LineItemID, target PaymentCertificate, txs []ActualTransaction, certs CertificateIndex) Aggregate {
	return reconcile(lineItemID, target, txs, certs, func(tx ActualTransaction) decimal.Decimal {
		return tx.TotalPrice
	})
}

// ReconcileQuantity computes the quantity aggregates for one line item
// against the target certificate. Meaningless for special items, which
// carry no unit quantity; use ReconcileValue for those.
func ReconcileQuantity(lineItemID LineItemID, target PaymentCertificate, txs []ActualTransaction, certs CertificateIndex) Aggregate {
	return reconcile(lineItemID, target, txs, certs, func(tx ActualTransaction) decimal.Decimal {
		return tx.Quantity
	})
}

func reconcile(lineItemID LineItemID, target PaymentCertificate, txs []ActualTransaction, certs CertificateIndex, pick func(ActualTransaction) decimal.Decimal) Aggregate {
	var agg Aggregate
	for _, tx := range txs {
		if tx.LineItemID != lineItemID {
			continue
		}
		cert, ok := certs[tx.CertificateID]
		if !ok {
			continue
		}
		v := pick(tx)

		if cert.CertificateNumber < target.CertificateNumber && cert.Status == StatusApproved {
			accumulate(&agg.Previous, v)
		}
		if cert.ID == target.ID {
			accumulate(&agg.Current, v)
		}
		if cert.CertificateNumber <= target.CertificateNumber {
			accumulate(&agg.Total, v)
		}
	}
	return agg
}

// ClaimedToDate sums claimed quantities for a line item across all
// certificates except the project's active one. While editing a draft,
// this is "quantity claimed by everyone else": the user's in-progress
// entries never double count.
//
// activeID may be nil when the project has no open certificate.
func ClaimedToDate(lineItemID LineItemID, activeID *CertificateID, txs []ActualTransaction) decimal.Decimal {
	return claimedToDate(lineItemID, activeID, txs, func(tx ActualTransaction) decimal.Decimal {
		return tx.Quantity
	})
}

// ClaimedToDateValue is the lump-sum analogue for special items, summing
// total_price instead of quantity.
func ClaimedToDateValue(lineItemID LineItemID, activeID *CertificateID, txs []ActualTransaction) decimal.Decimal {
	return claimedToDate(lineItemID, activeID, txs, func(tx ActualTransaction) decimal.Decimal {
		return tx.TotalPrice
	})
}

func claimedToDate(lineItemID LineItemID, activeID *CertificateID, txs []ActualTransaction, pick func(ActualTransaction) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.LineItemID != lineItemID || !tx.Claimed {
			continue
		}
		if activeID != nil && tx.CertificateID == *activeID {
			continue
		}
		total = total.Add(pick(tx))
	}
	return total
}

// =============================================================================
// RECONCILER - Store-backed convenience layer
// =============================================================================

// CertifiedLineItem is one reconciled row of a certificate: the line
// item plus its value and quantity aggregates against the target.
type CertifiedLineItem struct {
	Item     LineItem
	Value    Aggregate
	Quantity Aggregate
}

// Reconciler loads transactions and certificates from a Store and runs
// the pure aggregation over them.
type Reconciler struct {
	Store Store
}

// LineItem reconciles a single line item against the target certificate.
func (r *Reconciler) LineItem(ctx context.Context, item LineItem, target PaymentCertificate) (CertifiedLineItem, error) {
	txs, err := r.Store.ListTransactionsByLineItem(ctx, item.ID)
	if err != nil {
		return CertifiedLineItem{}, fmt.Errorf("failed to load transactions: %w", err)
	}
	certs, err := r.Store.ListCertificates(ctx, item.ProjectID)
	if err != nil {
		return CertifiedLineItem{}, fmt.Errorf("failed to load certificates: %w", err)
	}
	idx := IndexCertificates(certs)

	row := CertifiedLineItem{Item: item, Value: ReconcileValue(item.ID, target, txs, idx)}
	if !item.SpecialItem {
		row.Quantity = ReconcileQuantity(item.ID, target, txs, idx)
	}
	return row, nil
}

// CertificateRows reconciles every billable, non-retired line item of
// the certificate's project against it, in row_index order. Heading
// rows (IsWork false) are passed through with empty aggregates so
// renderers keep the document shape.
func (r *Reconciler) CertificateRows(ctx context.Context, target PaymentCertificate) ([]CertifiedLineItem, error) {
	items, err := r.Store.ListLineItems(ctx, target.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load line items: %w", err)
	}
	certs, err := r.Store.ListCertificates(ctx, target.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificates: %w", err)
	}
	idx := IndexCertificates(certs)
	txs, err := r.Store.ListTransactionsByProject(ctx, target.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	rows := make([]CertifiedLineItem, 0, len(items))
	for _, item := range items {
		row := CertifiedLineItem{Item: item}
		if item.IsWork {
			row.Value = ReconcileValue(item.ID, target, txs, idx)
			if !item.SpecialItem {
				row.Quantity = ReconcileQuantity(item.ID, target, txs, idx)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ClaimedToDate resolves the project's active certificate and returns
// the cumulative claimed quantity (or value for special items) for the
// line item, excluding that active certificate.
func (r *Reconciler) ClaimedToDate(ctx context.Context, item LineItem) (decimal.Decimal, error) {
	active, err := r.Store.ActiveCertificate(ctx, item.ProjectID)
	if err != nil {
		return decimal.Zero, err
	}
	var activeID *CertificateID
	if active != nil {
		activeID = &active.ID
	}
	txs, err := r.Store.ListTransactionsByLineItem(ctx, item.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if item.SpecialItem {
		return ClaimedToDateValue(item.ID, activeID, txs), nil
	}
	return ClaimedToDate(item.ID, activeID, txs), nil
}
