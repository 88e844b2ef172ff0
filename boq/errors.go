/*
errors.go - Error taxonomy for the certificate engine

PURPOSE:
  All error types in one place. The API layer maps these onto HTTP
  status codes; everything else wraps them with context via fmt.Errorf
  and %w.

ERROR CATEGORIES:
  1. Validation errors - malformed or out-of-range input
  2. Lifecycle errors  - operation not valid for the certificate's state
  3. Not-found errors  - referenced rows missing
  4. Render errors     - background document generation faults

USAGE:
  if errors.Is(err, boq.ErrCertificateNotEditable) { ... }

SEE ALSO:
  - lifecycle.go, editor.go: produce most of these
  - api/handlers.go: maps them to status codes
*/
package boq

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCertificateNotEditable is returned when a quantity edit targets a
	// certificate that is no longer DRAFT.
	ErrCertificateNotEditable = errors.New("certificate not editable")

	// ErrInvalidTransition is returned for a status change the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid certificate transition")

	// ErrActiveCertificateExists is returned when creating a certificate
	// while the project already has an open one.
	ErrActiveCertificateExists = errors.New("project already has an active certificate")

	// ErrOutsideProjectWindow is returned when a submission date falls
	// outside [project.start_date, project.end_date].
	ErrOutsideProjectWindow = errors.New("date outside project window")

	// ErrNegativeValue is returned when a raw entered cumulative quantity
	// or value is negative. Negative deltas are fine; negative entries
	// are not.
	ErrNegativeValue = errors.New("entered value is negative")

	// ErrSpecialItemHierarchy is returned when a special item is
	// registered with a structure, bill or package.
	ErrSpecialItemHierarchy = errors.New("special item cannot carry structure/bill/package")

	// ErrOpenCertificate is returned when a contract re-upload is
	// attempted while a certificate is still open.
	ErrOpenCertificate = errors.New("cannot replace contract with an open certificate")

	// ErrDocumentNotReady is returned when downloading a document that is
	// still being generated.
	ErrDocumentNotReady = errors.New("document generation in progress")

	// ErrDocumentMissing is returned when downloading a document that has
	// not been generated yet.
	ErrDocumentMissing = errors.New("document not generated")

	ErrProjectNotFound     = errors.New("project not found")
	ErrLineItemNotFound    = errors.New("line item not found")
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NotEditableError reports which certificate blocked an edit and why.
type NotEditableError struct {
	CertificateID CertificateID
	Status        CertificateStatus
}

func (e *NotEditableError) Error() string {
	return fmt.Sprintf("certificate %s is %s: quantity edits require DRAFT", e.CertificateID, e.Status)
}

func (e *NotEditableError) Unwrap() error { return ErrCertificateNotEditable }

// TransitionError reports a disallowed state machine move.
type TransitionError struct {
	CertificateID CertificateID
	From          CertificateStatus
	To            CertificateStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("certificate %s: cannot move %s -> %s", e.CertificateID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// WindowError reports a submission attempted outside the project dates.
type WindowError struct {
	On    time.Time
	Start *time.Time
	End   *time.Time
}

func (e *WindowError) Error() string {
	if e.Start != nil && e.On.Before(*e.Start) {
		return fmt.Sprintf("cannot submit before project start date %s", e.Start.Format("2006-01-02"))
	}
	if e.End != nil && e.On.After(*e.End) {
		return fmt.Sprintf("cannot submit after project end date %s", e.End.Format("2006-01-02"))
	}
	return "submission date outside project window"
}

func (e *WindowError) Unwrap() error { return ErrOutsideProjectWindow }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrLineItemNotFound) ||
		errors.Is(err, ErrCertificateNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsClientError returns true if the error is due to invalid client input
// or an operation the current state disallows.
func IsClientError(err error) bool {
	return errors.Is(err, ErrCertificateNotEditable) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrActiveCertificateExists) ||
		errors.Is(err, ErrOutsideProjectWindow) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrSpecialItemHierarchy) ||
		errors.Is(err, ErrOpenCertificate)
}
