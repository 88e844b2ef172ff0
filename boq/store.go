/*
store.go - Persistence interfaces for the certificate engine

PURPOSE:
  Defines the boundary between domain logic and the database. Two
  implementations exist: store/sqlite (production) and boq/store
  (in-memory, for tests and dev).

ATOMICITY CONTRACT:
  Multi-row operations are atomic inside the store, not stitched
  together by callers:
  - CreateCertificate assigns the per-project certificate number under a
    uniqueness guarantee; two concurrent creations never share a number
  - RetireContractSet cascades in one transaction (transactions of the
    retired items deleted first, then items, then hierarchy)
  - ApplyTransactionChanges applies one edit submission's upserts and
    deletes as a unit, and clears stored documents because any mutation
    invalidates previously rendered output

DOCUMENT CLAIMS:
  ClaimDocument is an atomic check-and-set on the per-certificate
  generating flag. The flag is the render pipeline's only mutual
  exclusion, so the store is where the race has to die: of two
  concurrent claims exactly one returns true.

SEE ALSO:
  - store/sqlite/sqlite.go: production implementation
  - boq/store/memory.go: in-memory implementation
*/
package boq

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Relational state
// =============================================================================

type Store interface {
	// Projects
	SaveProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id ProjectID) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)

	// Structure -> Bill -> Package hierarchy
	SaveStructure(ctx context.Context, s *Structure) error
	SaveBill(ctx context.Context, b *Bill) error
	SavePackage(ctx context.Context, p *Package) error
	ListStructures(ctx context.Context, projectID ProjectID) ([]Structure, error)
	ListBills(ctx context.Context, projectID ProjectID) ([]Bill, error)
	ListPackages(ctx context.Context, projectID ProjectID) ([]Package, error)

	// Line items. ListLineItems returns non-retired items in row_index
	// order. Line items are never hard-deleted; RetireContractSet soft
	// deletes every non-addendum, non-special item plus its hierarchy,
	// removing orphaned transactions first.
	SaveLineItem(ctx context.Context, li *LineItem) error
	GetLineItem(ctx context.Context, id LineItemID) (*LineItem, error)
	ListLineItems(ctx context.Context, projectID ProjectID) ([]LineItem, error)
	MaxRowIndex(ctx context.Context, projectID ProjectID) (int, error)
	RetireContractSet(ctx context.Context, projectID ProjectID) error

	// Certificates. CreateCertificate assigns the next certificate
	// number atomically. ActiveCertificate returns the project's open
	// (DRAFT/SUBMITTED/REJECTED) certificate, or nil when none exists.
	CreateCertificate(ctx context.Context, projectID ProjectID) (*PaymentCertificate, error)
	GetCertificate(ctx context.Context, id CertificateID) (*PaymentCertificate, error)
	UpdateCertificate(ctx context.Context, c *PaymentCertificate) error
	ListCertificates(ctx context.Context, projectID ProjectID) ([]PaymentCertificate, error)
	ActiveCertificate(ctx context.Context, projectID ProjectID) (*PaymentCertificate, error)

	// Actual transactions
	GetTransaction(ctx context.Context, id TransactionID) (*ActualTransaction, error)
	ListTransactionsByCertificate(ctx context.Context, certID CertificateID) ([]ActualTransaction, error)
	ListTransactionsByLineItem(ctx context.Context, lineItemID LineItemID) ([]ActualTransaction, error)
	ListTransactionsByProject(ctx context.Context, projectID ProjectID) ([]ActualTransaction, error)

	// ApplyTransactionChanges persists one edit submission atomically
	// and clears the certificate's stored documents (a mutation
	// invalidates rendered output; the generating flags are untouched).
	ApplyTransactionChanges(ctx context.Context, certID CertificateID, upserts []ActualTransaction, deletes []TransactionID) error

	// SetTransactionFlags flips approved/claimed on every transaction
	// under the certificate. Used only by the lifecycle state machine.
	SetTransactionFlags(ctx context.Context, certID CertificateID, approved, claimed bool) error
}

// =============================================================================
// DOCUMENT STORE - Generation flags and rendered output paths
// =============================================================================

// StuckDocument identifies a generating flag that has been held longer
// than its worker could plausibly run.
type StuckDocument struct {
	CertificateID CertificateID
	Kind          DocumentKind
	Since         time.Time
}

type DocumentStore interface {
	// ClaimDocument atomically sets the generating flag if it is clear.
	// Returns true when this caller won the claim.
	ClaimDocument(ctx context.Context, certID CertificateID, kind DocumentKind, at time.Time) (bool, error)

	// ReleaseDocument clears the generating flag without touching the
	// stored document. Called on render failure and by the janitor.
	ReleaseDocument(ctx context.Context, certID CertificateID, kind DocumentKind) error

	// StoreDocument records the rendered document's path and clears the
	// generating flag in one step (the success path).
	StoreDocument(ctx context.Context, certID CertificateID, kind DocumentKind, path string) error

	// ClearDocuments drops both stored document paths, forcing
	// regeneration on the next request. Flags are untouched.
	ClearDocuments(ctx context.Context, certID CertificateID) error

	// ListStuckDocuments returns claims held since before the cutoff.
	ListStuckDocuments(ctx context.Context, olderThan time.Time) ([]StuckDocument, error)
}
