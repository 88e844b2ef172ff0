/*
lifecycle.go - Certificate state machine

PURPOSE:
  Governs the only legitimate way a certificate's status changes, and
  what each transition does to the transactions underneath it.

STATE FLOW:

  ┌───────┐ submit  ┌───────────┐ approve ┌──────────┐
  │ DRAFT │────────▶│ SUBMITTED │────────▶│ APPROVED │ (terminal)
  └───────┘         └───────────┘         └──────────┘
      ▲                   │ reject
      │ reopen       ┌──────────┐
      └──────────────│ REJECTED │
                     └──────────┘

  A rejected certificate reopens to DRAFT for correction and is
  resubmitted under the same certificate number. APPROVED is terminal.

FLAG SEMANTICS (the progressive-total machinery):
  submit:  approved=true,  claimed=false   "ready for client decision"
  approve: approved=true,  claimed=true    committed into history
  reject:  approved=false, claimed=false   full rollback, rows retained

  Submission does NOT set approved_on/approved_by; submission is not
  approval in this model.

SEE ALSO:
  - reconcile.go: consumes the claimed flag for claimed-to-date
  - totals.go: certificate-level money summaries
*/
package boq

import (
	"context"
	"fmt"
	"log"
	"time"
)

// DocumentRequester dispatches background document generation. The
// lifecycle fires it after every transition; failures to dispatch are
// logged, never propagated, because the transition itself already
// committed.
type DocumentRequester interface {
	Request(ctx context.Context, certID CertificateID, kind DocumentKind) error
}

// Lifecycle owns certificate creation and status transitions.
type Lifecycle struct {
	Store Store
	Docs  DocumentRequester

	// Now is injectable for window validation tests. Defaults to
	// time.Now.
	Now func() time.Time
}

func (l *Lifecycle) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// NewCertificate opens a new claim cycle. At most one certificate per
// project may be active; the store assigns the next certificate number
// atomically.
func (l *Lifecycle) NewCertificate(ctx context.Context, projectID ProjectID) (*PaymentCertificate, error) {
	if _, err := l.Store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	active, err := l.Store.ActiveCertificate(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("certificate #%d is %s: %w", active.CertificateNumber, active.Status, ErrActiveCertificateExists)
	}
	return l.Store.CreateCertificate(ctx, projectID)
}

// Submit moves a draft to SUBMITTED: every transaction under the
// certificate becomes approved (claimed stays false), pending the
// client-side final decision. The submission date must fall within the
// project window.
func (l *Lifecycle) Submit(ctx context.Context, certID CertificateID) (*PaymentCertificate, error) {
	cert, err := l.Store.GetCertificate(ctx, certID)
	if err != nil {
		return nil, err
	}
	if cert.Status != StatusDraft {
		return nil, &TransitionError{CertificateID: certID, From: cert.Status, To: StatusSubmitted}
	}

	project, err := l.Store.GetProject(ctx, cert.ProjectID)
	if err != nil {
		return nil, err
	}
	today := l.now()
	if project.StartDate != nil && today.Before(*project.StartDate) {
		return nil, &WindowError{On: today, Start: project.StartDate, End: project.EndDate}
	}
	if project.EndDate != nil && today.After(*project.EndDate) {
		return nil, &WindowError{On: today, Start: project.StartDate, End: project.EndDate}
	}

	if err := l.Store.SetTransactionFlags(ctx, certID, true, false); err != nil {
		return nil, fmt.Errorf("failed to mark transactions submitted: %w", err)
	}
	cert.Status = StatusSubmitted
	if err := l.Store.UpdateCertificate(ctx, cert); err != nil {
		return nil, err
	}

	l.dispatchDocuments(ctx, certID)
	return cert, nil
}

// Approve commits a submitted certificate: transactions become approved
// and claimed, entering every future certificate's claimed-to-date.
// When isFinal is set, the project's final certificate pointer is
// recorded and the project advances to FINAL_ACCOUNT_ISSUED; this is
// the only transition that reaches outside the certificate.
func (l *Lifecycle) Approve(ctx context.Context, certID CertificateID, approver string, isFinal bool) (*PaymentCertificate, error) {
	cert, err := l.Store.GetCertificate(ctx, certID)
	if err != nil {
		return nil, err
	}
	if cert.Status != StatusSubmitted {
		return nil, &TransitionError{CertificateID: certID, From: cert.Status, To: StatusApproved}
	}

	if err := l.Store.SetTransactionFlags(ctx, certID, true, true); err != nil {
		return nil, fmt.Errorf("failed to mark transactions claimed: %w", err)
	}

	// The project is saved before the certificate commits: if either
	// write fails the certificate is still SUBMITTED and Approve can be
	// retried, redoing both writes.
	if isFinal {
		project, err := l.Store.GetProject(ctx, cert.ProjectID)
		if err != nil {
			return nil, err
		}
		project.FinalCertificateID = &cert.ID
		project.Status = ProjectFinalAccountIssued
		if err := l.Store.SaveProject(ctx, project); err != nil {
			return nil, fmt.Errorf("failed to record final certificate: %w", err)
		}
	}

	now := l.now()
	cert.Status = StatusApproved
	cert.ApprovedOn = &now
	cert.ApprovedBy = approver
	cert.IsFinal = isFinal
	if err := l.Store.UpdateCertificate(ctx, cert); err != nil {
		return nil, err
	}

	l.dispatchDocuments(ctx, certID)
	return cert, nil
}

// Reject rolls a submission back: every transaction loses approved and
// claimed, but the rows and their quantities survive. The certificate
// stays active and can be reopened for editing.
func (l *Lifecycle) Reject(ctx context.Context, certID CertificateID, note string) (*PaymentCertificate, error) {
	cert, err := l.Store.GetCertificate(ctx, certID)
	if err != nil {
		return nil, err
	}
	if cert.Status != StatusSubmitted {
		return nil, &TransitionError{CertificateID: certID, From: cert.Status, To: StatusRejected}
	}

	if err := l.Store.SetTransactionFlags(ctx, certID, false, false); err != nil {
		return nil, fmt.Errorf("failed to roll back transactions: %w", err)
	}
	cert.Status = StatusRejected
	if note != "" {
		if cert.Notes != "" {
			cert.Notes += "\n"
		}
		cert.Notes += note
	}
	if err := l.Store.UpdateCertificate(ctx, cert); err != nil {
		return nil, err
	}

	l.dispatchDocuments(ctx, certID)
	return cert, nil
}

// Reopen returns a rejected certificate to DRAFT so quantities can be
// corrected before resubmission. The transactions were already rolled
// back at rejection; nothing else moves.
func (l *Lifecycle) Reopen(ctx context.Context, certID CertificateID) (*PaymentCertificate, error) {
	cert, err := l.Store.GetCertificate(ctx, certID)
	if err != nil {
		return nil, err
	}
	if cert.Status != StatusRejected {
		return nil, &TransitionError{CertificateID: certID, From: cert.Status, To: StatusDraft}
	}
	cert.Status = StatusDraft
	if err := l.Store.UpdateCertificate(ctx, cert); err != nil {
		return nil, err
	}
	return cert, nil
}

func (l *Lifecycle) dispatchDocuments(ctx context.Context, certID CertificateID) {
	if l.Docs == nil {
		return
	}
	if err := l.Docs.Request(ctx, certID, DocumentBoth); err != nil {
		log.Printf("[Lifecycle] document generation dispatch failed for %s: %v", certID, err)
	}
}
