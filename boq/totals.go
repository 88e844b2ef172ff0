/*
totals.go - Certificate-level money summaries

PURPOSE:
  Dashboard and report figures for one certificate and for the project
  as a whole. These are sums over transactions; the per-line-item
  breakdown lives in reconcile.go.

NOTE ON progressive_to_date:
  ProgressiveToDate = ProgressivePrevious (approved history only) plus
  CurrentClaimTotal (this certificate, any status). It intentionally
  includes the current certificate's unapproved figures so reports show
  what the claim WOULD bring the contract to.
*/
package boq

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// CertificateTotals are the headline figures for one certificate.
type CertificateTotals struct {
	// TotalAmount sums every transaction under the certificate.
	TotalAmount decimal.Decimal

	// ItemsSubmitted sums transactions with approved=true.
	ItemsSubmitted decimal.Decimal

	// ItemsClaimed sums transactions with claimed=true.
	ItemsClaimed decimal.Decimal

	// ProgressivePrevious sums all transactions of earlier APPROVED
	// certificates.
	ProgressivePrevious decimal.Decimal

	// CurrentClaimTotal equals TotalAmount; kept as its own field
	// because reports name the two differently.
	CurrentClaimTotal decimal.Decimal

	// ProgressiveToDate = ProgressivePrevious + CurrentClaimTotal.
	ProgressiveToDate decimal.Decimal
}

// ProjectSummary is the project dashboard view.
type ProjectSummary struct {
	ContractValue   decimal.Decimal
	TotalClaimed    decimal.Decimal // closed (approved) certificates
	ActiveClaim     decimal.Decimal // the open certificate, if any
	RemainingAmount decimal.Decimal
}

// Totals computes the headline figures for a certificate.
func Totals(ctx context.Context, store Store, certID CertificateID) (*CertificateTotals, error) {
	cert, err := store.GetCertificate(ctx, certID)
	if err != nil {
		return nil, err
	}
	own, err := store.ListTransactionsByCertificate(ctx, certID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	t := &CertificateTotals{}
	for _, tx := range own {
		t.TotalAmount = t.TotalAmount.Add(tx.TotalPrice)
		if tx.Approved {
			t.ItemsSubmitted = t.ItemsSubmitted.Add(tx.TotalPrice)
		}
		if tx.Claimed {
			t.ItemsClaimed = t.ItemsClaimed.Add(tx.TotalPrice)
		}
	}
	t.CurrentClaimTotal = t.TotalAmount

	certs, err := store.ListCertificates(ctx, cert.ProjectID)
	if err != nil {
		return nil, err
	}
	all, err := store.ListTransactionsByProject(ctx, cert.ProjectID)
	if err != nil {
		return nil, err
	}
	idx := IndexCertificates(certs)
	for _, tx := range all {
		c, ok := idx[tx.CertificateID]
		if !ok {
			continue
		}
		if c.CertificateNumber < cert.CertificateNumber && c.Status == StatusApproved {
			t.ProgressivePrevious = t.ProgressivePrevious.Add(tx.TotalPrice)
		}
	}
	t.ProgressiveToDate = t.ProgressivePrevious.Add(t.CurrentClaimTotal)
	return t, nil
}

// Summarize computes the project dashboard figures: claimed value of
// approved certificates, the open certificate's running claim, and what
// remains of the contract value.
func Summarize(ctx context.Context, store Store, projectID ProjectID) (*ProjectSummary, error) {
	project, err := store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	certs, err := store.ListCertificates(ctx, projectID)
	if err != nil {
		return nil, err
	}
	txs, err := store.ListTransactionsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	idx := IndexCertificates(certs)
	s := &ProjectSummary{ContractValue: project.ContractValue}
	for _, tx := range txs {
		cert, ok := idx[tx.CertificateID]
		if !ok {
			continue
		}
		switch {
		case cert.Status == StatusApproved && tx.Claimed:
			s.TotalClaimed = s.TotalClaimed.Add(tx.TotalPrice)
		case cert.Status.Active():
			s.ActiveClaim = s.ActiveClaim.Add(tx.TotalPrice)
		}
	}
	s.RemainingAmount = s.ContractValue.Sub(s.TotalClaimed).Sub(s.ActiveClaim)
	return s, nil
}
