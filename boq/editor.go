/*
editor.go - Cumulative-quantity delta editing on draft certificates

PURPOSE:
  Users enter the NEW CUMULATIVE total claimed for a line item, not an
  increment. The editor converts that into a per-certificate delta:

    delta = entered - claimedToDate(line item, excluding active cert)

  and creates or overwrites the single transaction for (certificate,
  line item) with that delta. Re-entering the same cumulative value is
  idempotent: the transaction is overwritten, never added to.

ROW POLICY:
  The editor processes a batch of rows the way the bulk form posts them,
  and never fails the batch for a bad row:
  - blank input on an existing transaction deletes it
  - blank input on a new row is skipped
  - non-numeric input is skipped, with a diagnostic in the summary
  - a negative ENTERED value is skipped (negative deltas are fine: they
    un-claim previously claimed quantity)
  - repeated rows for one line item collapse onto a single transaction,
    last entry wins, matching repeated form-field submission
  All surviving changes are applied atomically; the skips are reported
  so callers can opt into stricter validation without changing the
  row-by-row processing shape.

SPECIAL ITEMS:
  Lump-sum items use the value analogue: delta against claimed-to-date
  VALUE, stored as total_price with zero quantity and unit price.

SEE ALSO:
  - reconcile.go: ClaimedToDate / ClaimedToDateValue
  - lifecycle.go: only DRAFT certificates are editable
*/
package boq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTRIES AND RESULTS
// =============================================================================

// QuantityEntry is one row of a bulk quantity submission. Exactly one of
// LineItemID (new claim) or TransactionID (edit of an existing one)
// identifies the target.
type QuantityEntry struct {
	LineItemID    LineItemID
	TransactionID TransactionID

	// Raw user input: a cumulative quantity (value for special items),
	// possibly blank or garbage.
	Raw string
}

// SkippedRow explains why an entry produced no change.
type SkippedRow struct {
	Entry  QuantityEntry
	Reason string
}

// EditSummary reports what one bulk submission did.
type EditSummary struct {
	Created int
	Updated int
	Deleted int
	Skipped []SkippedRow
}

// =============================================================================
// EDITOR
// =============================================================================

// Editor applies bulk quantity submissions to a draft certificate.
type Editor struct {
	Store Store
}

// Apply processes the entries against the certificate. Returns
// NotEditableError unless the certificate is DRAFT. The resulting
// upserts and deletes are persisted as one atomic unit, which also
// invalidates any previously rendered documents.
func (e *Editor) Apply(ctx context.Context, certID CertificateID, entries []QuantityEntry, capturedBy string) (*EditSummary, error) {
	cert, err := e.Store.GetCertificate(ctx, certID)
	if err != nil {
		return nil, err
	}
	if cert.Status != StatusDraft {
		return nil, &NotEditableError{CertificateID: certID, Status: cert.Status}
	}

	existing, err := e.Store.ListTransactionsByCertificate(ctx, certID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	byLineItem := make(map[LineItemID]ActualTransaction, len(existing))
	byID := make(map[TransactionID]ActualTransaction, len(existing))
	for _, tx := range existing {
		byLineItem[tx.LineItemID] = tx
		byID[tx.ID] = tx
	}

	reconciler := &Reconciler{Store: e.Store}
	summary := &EditSummary{}

	// Per-line-item staging. Repeated rows for the same line item in one
	// batch collapse onto a single transaction, last entry wins, the way
	// repeated form fields do.
	pending := make(map[LineItemID]ActualTransaction)
	removed := make(map[LineItemID]TransactionID)
	var order []LineItemID

	for _, entry := range entries {
		target, existingTx, err := e.resolve(ctx, entry, byLineItem, byID)
		if err != nil {
			summary.skip(entry, err.Error())
			continue
		}

		raw := strings.TrimSpace(entry.Raw)
		if raw == "" {
			// Blank deletes an existing transaction and cancels any value
			// staged earlier in the batch; on a fresh row there is
			// nothing to do.
			delete(pending, target.ID)
			if existingTx != nil {
				removed[target.ID] = existingTx.ID
			} else {
				summary.skip(entry, "blank input")
			}
			continue
		}

		entered, err := decimal.NewFromString(raw)
		if err != nil {
			summary.skip(entry, fmt.Sprintf("not numeric: %q", raw))
			continue
		}
		if entered.IsNegative() {
			summary.skip(entry, "entered value is negative")
			continue
		}

		claimedToDate, err := reconciler.ClaimedToDate(ctx, *target)
		if err != nil {
			return nil, err
		}
		delta := entered.Sub(claimedToDate)

		tx := buildTransaction(cert.ID, *target, delta, capturedBy)
		if existingTx != nil {
			// Overwrite, don't add: edits are idempotent against the
			// latest entered cumulative value.
			tx.ID = existingTx.ID
			tx.CreatedAt = existingTx.CreatedAt
		} else if prev, ok := pending[target.ID]; ok {
			tx.ID = prev.ID
			tx.CreatedAt = prev.CreatedAt
		}
		if _, ok := pending[target.ID]; !ok {
			order = append(order, target.ID)
		}
		pending[target.ID] = tx
		delete(removed, target.ID)
	}

	var upserts []ActualTransaction
	var deletes []TransactionID
	for _, itemID := range order {
		// A cancelled row leaves a gap; a cancel-then-reenter leaves a
		// second order entry, so each staged change is consumed once.
		tx, ok := pending[itemID]
		if !ok {
			continue
		}
		delete(pending, itemID)
		upserts = append(upserts, tx)
		if _, existed := byLineItem[itemID]; existed {
			summary.Updated++
		} else {
			summary.Created++
		}
	}
	for _, txID := range removed {
		deletes = append(deletes, txID)
	}
	summary.Deleted = len(deletes)

	if len(upserts) == 0 && len(deletes) == 0 {
		return summary, nil
	}
	if err := e.Store.ApplyTransactionChanges(ctx, certID, upserts, deletes); err != nil {
		return nil, fmt.Errorf("failed to apply quantity changes: %w", err)
	}
	return summary, nil
}

// resolve finds the line item and, when present, the transaction an
// entry targets.
func (e *Editor) resolve(ctx context.Context, entry QuantityEntry, byLineItem map[LineItemID]ActualTransaction, byID map[TransactionID]ActualTransaction) (*LineItem, *ActualTransaction, error) {
	var lineItemID LineItemID
	var existingTx *ActualTransaction

	switch {
	case entry.TransactionID != "":
		tx, ok := byID[entry.TransactionID]
		if !ok {
			return nil, nil, fmt.Errorf("transaction %s not on this certificate", entry.TransactionID)
		}
		existingTx = &tx
		lineItemID = tx.LineItemID
	case entry.LineItemID != "":
		lineItemID = entry.LineItemID
		if tx, ok := byLineItem[lineItemID]; ok {
			existingTx = &tx
		}
	default:
		return nil, nil, fmt.Errorf("entry names neither line item nor transaction")
	}

	item, err := e.Store.GetLineItem(ctx, lineItemID)
	if err != nil {
		return nil, nil, err
	}
	if !item.IsWork {
		return nil, nil, fmt.Errorf("line item %s is a heading row", item.ID)
	}
	return item, existingTx, nil
}

func buildTransaction(certID CertificateID, item LineItem, delta decimal.Decimal, capturedBy string) ActualTransaction {
	tx := ActualTransaction{
		ID:            TransactionID(NewID()),
		CertificateID: certID,
		LineItemID:    item.ID,
		CapturedBy:    capturedBy,
		CreatedAt:     time.Now().UTC(),
	}
	if item.SpecialItem {
		// Value-based: quantity and unit price stay zero.
		tx.TotalPrice = delta
	} else {
		tx.Quantity = delta
		tx.UnitPrice = item.UnitPrice
		tx.TotalPrice = delta.Mul(item.UnitPrice)
	}
	return tx
}

func (s *EditSummary) skip(entry QuantityEntry, reason string) {
	s.Skipped = append(s.Skipped, SkippedRow{Entry: entry, Reason: reason})
}
