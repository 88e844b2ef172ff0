/*
Package boq is the core payment-certificate engine for construction
project billing.

PURPOSE:
  Contractors submit periodic payment certificates claiming quantities of
  contracted work. This package tracks the contracted scope (line items),
  the claims recorded against it (actual transactions), the aggregates
  that make a certificate readable (previous / current / progressive
  totals), and the approval lifecycle that commits or rolls those claims
  back.

KEY CONCEPTS IN THIS FILE (types.go):
  - LineItem: one contracted row of work (quantity x unit price), or a
    lump-sum "special" item valued directly
  - PaymentCertificate: a numbered claim cycle with a DRAFT -> SUBMITTED
    -> APPROVED/REJECTED lifecycle
  - ActualTransaction: a quantity/value claimed against a line item
    within one certificate
  - Project: the contract context (dates, totals, final certificate)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere money or quantity appears
  2. Ordering: certificate_number, not wall-clock time, orders claims
  3. Soft deletion: line items are retired, never removed, because past
     certificates reference them
  4. Snapshots: a transaction copies the line item's unit price at
     capture time; later repricing never rewrites history

SEE ALSO:
  - reconcile.go: previous/current/total aggregation over transactions
  - lifecycle.go: certificate state machine and its side effects
  - editor.go: cumulative-quantity delta editing on draft certificates
*/
package boq

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProjectID string
type StructureID string
type BillID string
type PackageID string
type LineItemID string
type CertificateID string
type TransactionID string

// NewID returns a fresh uuid-backed identifier.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// PROJECT - Contract context
// =============================================================================

type ProjectStatus string

const (
	ProjectActive            ProjectStatus = "ACTIVE"
	ProjectFinalAccountIssued ProjectStatus = "FINAL_ACCOUNT_ISSUED"
)

// Project carries the contract-level context the engine needs: the
// claiming window, the contract value for percentage-complete reporting,
// and the pointer set when a final certificate is approved.
type Project struct {
	ID     ProjectID
	Name   string
	Status ProjectStatus

	// Claiming window. Nil means that side of the window is open.
	StartDate *time.Time
	EndDate   *time.Time

	ContractValue decimal.Decimal

	// Set when a certificate with IsFinal is approved.
	FinalCertificateID *CertificateID

	CreatedAt time.Time
}

// =============================================================================
// HIERARCHY - Structure -> Bill -> Package
// =============================================================================

type Structure struct {
	ID          StructureID
	ProjectID   ProjectID
	Name        string
	Description string
	Retired     bool
}

type Bill struct {
	ID          BillID
	StructureID StructureID
	Name        string
	Retired     bool
}

type Package struct {
	ID      PackageID
	BillID  BillID
	Name    string
	Retired bool
}

// =============================================================================
// LINE ITEM - One contracted row
// =============================================================================

// LineItem is one row of the bill of quantities. Heading rows carry only
// display fields (IsWork false); work rows carry quantity and pricing.
// Special items are valued as a lump sum and never belong to the
// structure/bill/package hierarchy.
type LineItem struct {
	ID        LineItemID
	ProjectID ProjectID

	// Nil for special items.
	StructureID *StructureID
	BillID      *BillID
	PackageID   *PackageID

	// Display/processing order, unique per project.
	RowIndex int

	ItemNumber       string
	PaymentReference string
	Description      string
	UnitMeasurement  string

	IsWork           bool
	UnitPrice        decimal.Decimal
	BudgetedQuantity decimal.Decimal
	TotalPrice       decimal.Decimal

	// Scope added after contract signature.
	Addendum bool

	// Lump-sum item valued directly, not by quantity.
	SpecialItem bool

	// Soft delete: retired on contract re-upload. Historical certificates
	// still reference retired rows.
	Retired bool

	CreatedAt time.Time
}

// =============================================================================
// PAYMENT CERTIFICATE
// =============================================================================

type CertificateStatus string

const (
	StatusDraft     CertificateStatus = "DRAFT"
	StatusSubmitted CertificateStatus = "SUBMITTED"
	StatusApproved  CertificateStatus = "APPROVED"
	StatusRejected  CertificateStatus = "REJECTED"
)

// Active reports whether the status keeps the certificate open for
// editing or resubmission. A project may hold at most one active
// certificate at a time; rejected certificates stay active so they can
// be corrected and resubmitted under the same number.
func (s CertificateStatus) Active() bool {
	return s == StatusDraft || s == StatusSubmitted || s == StatusRejected
}

// DocumentKind selects which rendered document a request refers to.
type DocumentKind string

const (
	DocumentFull     DocumentKind = "full"
	DocumentAbridged DocumentKind = "abridged"
	DocumentBoth     DocumentKind = "both"
)

// DocumentSlot holds one rendered document and its generation state.
// Generating acts as the claim for the background render; GeneratingSince
// lets the janitor free slots whose worker died.
type DocumentSlot struct {
	Path            string
	Generating      bool
	GeneratingSince *time.Time
}

// PaymentCertificate is one claim cycle. CertificateNumber is unique and
// sequential per project and is the ONLY ordering the reconciliation
// aggregates respect.
type PaymentCertificate struct {
	ID        CertificateID
	ProjectID ProjectID

	CertificateNumber int
	Status            CertificateStatus
	Notes             string

	// Marks the certificate closing out the contract. Only meaningful
	// once approved.
	IsFinal bool

	ApprovedOn *time.Time
	ApprovedBy string

	Full     DocumentSlot
	Abridged DocumentSlot

	CreatedAt time.Time
}

// Slot returns the document slot for a concrete kind. DocumentBoth is a
// dispatch value, not a slot.
func (c *PaymentCertificate) Slot(kind DocumentKind) *DocumentSlot {
	if kind == DocumentAbridged {
		return &c.Abridged
	}
	return &c.Full
}

// =============================================================================
// ACTUAL TRANSACTION - One claim against a line item
// =============================================================================

// ActualTransaction records work claimed against a line item within one
// certificate. UnitPrice is a snapshot taken at capture time. Multiple
// transactions may exist for the same (certificate, line item) pair and
// are always summed.
//
// Approved/Claimed are lifecycle flags owned by the state machine:
// submission sets approved, approval sets both, rejection clears both.
type ActualTransaction struct {
	ID            TransactionID
	CertificateID CertificateID
	LineItemID    LineItemID

	Quantity   decimal.Decimal
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal

	Approved bool
	Claimed  bool

	CapturedBy string
	CreatedAt  time.Time
}
