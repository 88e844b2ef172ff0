/*
Package sqlite provides a SQLite-backed implementation of the boq
storage interfaces.

PURPOSE:
  Implements boq.Store and boq.DocumentStore using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  projects:             contract context and claim windows
  structures/bills/packages: bill-of-quantities hierarchy (soft retired)
  line_items:           contracted scope (soft retired, never deleted)
  payment_certificates: claim cycles, document slots and flags
  actual_transactions:  claims captured against line items

CERTIFICATE NUMBERING:
  certificate_number is assigned inside CreateCertificate as
  MAX(existing)+1 within a transaction, guarded by
  UNIQUE(project_id, certificate_number) with a bounded retry on
  constraint violation. Two concurrent creations never commit the
  same number.

DOCUMENT CLAIMS:
  ClaimDocument is a single UPDATE guarded by "generating = 0"; the
  affected-row count decides the winner. This keeps two concurrent
  generation requests from both dispatching a render.

CONCURRENCY:
  Uses sync.RWMutex for in-process serialization and WAL mode for
  crash recovery and concurrent readers.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - boq/store.go: Interface contracts, including atomicity requirements
  - boq/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/certificate-engine/boq"
)

// Store implements boq.Store and boq.DocumentStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		start_date TEXT,
		end_date TEXT,
		contract_value TEXT NOT NULL DEFAULT '0',
		final_certificate_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS structures (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		retired INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_structures_project ON structures(project_id);

	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		structure_id TEXT NOT NULL,
		name TEXT NOT NULL,
		retired INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_bills_structure ON bills(structure_id);

	CREATE TABLE IF NOT EXISTS packages (
		id TEXT PRIMARY KEY,
		bill_id TEXT NOT NULL,
		name TEXT NOT NULL,
		retired INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_packages_bill ON packages(bill_id);

	CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		structure_id TEXT,
		bill_id TEXT,
		package_id TEXT,
		row_index INTEGER NOT NULL,
		item_number TEXT NOT NULL DEFAULT '',
		payment_reference TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		unit_measurement TEXT NOT NULL DEFAULT '',
		is_work INTEGER NOT NULL DEFAULT 0,
		unit_price TEXT NOT NULL DEFAULT '0',
		budgeted_quantity TEXT NOT NULL DEFAULT '0',
		total_price TEXT NOT NULL DEFAULT '0',
		addendum INTEGER NOT NULL DEFAULT 0,
		special_item INTEGER NOT NULL DEFAULT 0,
		retired INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_line_items_project ON line_items(project_id, row_index);

	CREATE TABLE IF NOT EXISTS payment_certificates (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		certificate_number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		notes TEXT NOT NULL DEFAULT '',
		is_final INTEGER NOT NULL DEFAULT 0,
		approved_on TEXT,
		approved_by TEXT NOT NULL DEFAULT '',
		full_path TEXT NOT NULL DEFAULT '',
		full_generating INTEGER NOT NULL DEFAULT 0,
		full_generating_since TEXT,
		abridged_path TEXT NOT NULL DEFAULT '',
		abridged_generating INTEGER NOT NULL DEFAULT 0,
		abridged_generating_since TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(project_id, certificate_number)
	);
	CREATE INDEX IF NOT EXISTS idx_certificates_project
		ON payment_certificates(project_id, certificate_number);
	CREATE INDEX IF NOT EXISTS idx_certificates_status
		ON payment_certificates(status);

	CREATE TABLE IF NOT EXISTS actual_transactions (
		id TEXT PRIMARY KEY,
		certificate_id TEXT NOT NULL,
		line_item_id TEXT NOT NULL,
		quantity TEXT NOT NULL DEFAULT '0',
		unit_price TEXT NOT NULL DEFAULT '0',
		total_price TEXT NOT NULL DEFAULT '0',
		approved INTEGER NOT NULL DEFAULT 0,
		claimed INTEGER NOT NULL DEFAULT 0,
		captured_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_certificate
		ON actual_transactions(certificate_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_line_item
		ON actual_transactions(line_item_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PROJECTS
// =============================================================================

func (s *Store) SaveProject(ctx context.Context, p *boq.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finalID any
	if p.FinalCertificateID != nil {
		finalID = string(*p.FinalCertificateID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, status, start_date, end_date, contract_value, final_certificate_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			contract_value = excluded.contract_value,
			final_certificate_id = excluded.final_certificate_id`,
		p.ID, p.Name, p.Status,
		nullTime(p.StartDate), nullTime(p.EndDate),
		p.ContractValue.String(), finalID,
		p.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id boq.ProjectID) (*boq.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, start_date, end_date, contract_value, final_certificate_id, created_at
		FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, boq.ErrProjectNotFound
	}
	return p, err
}

func (s *Store) ListProjects(ctx context.Context) ([]boq.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, start_date, end_date, contract_value, final_certificate_id, created_at
		FROM projects ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var out []boq.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (*boq.Project, error) {
	var p boq.Project
	var start, end, finalID sql.NullString
	var contractValue, createdAt string
	if err := r.Scan(&p.ID, &p.Name, &p.Status, &start, &end, &contractValue, &finalID, &createdAt); err != nil {
		return nil, err
	}
	p.StartDate = parseNullTime(start)
	p.EndDate = parseNullTime(end)
	p.ContractValue = mustDecimal(contractValue)
	if finalID.Valid {
		id := boq.CertificateID(finalID.String)
		p.FinalCertificateID = &id
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// =============================================================================
// HIERARCHY
// =============================================================================

func (s *Store) SaveStructure(ctx context.Context, st *boq.Structure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO structures (id, project_id, name, description, retired) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description, retired = excluded.retired`,
		st.ID, st.ProjectID, st.Name, st.Description, boolInt(st.Retired))
	if err != nil {
		return fmt.Errorf("failed to save structure: %w", err)
	}
	return nil
}

func (s *Store) SaveBill(ctx context.Context, b *boq.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bills (id, structure_id, name, retired) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, retired = excluded.retired`,
		b.ID, b.StructureID, b.Name, boolInt(b.Retired))
	if err != nil {
		return fmt.Errorf("failed to save bill: %w", err)
	}
	return nil
}

func (s *Store) SavePackage(ctx context.Context, p *boq.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO packages (id, bill_id, name, retired) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, retired = excluded.retired`,
		p.ID, p.BillID, p.Name, boolInt(p.Retired))
	if err != nil {
		return fmt.Errorf("failed to save package: %w", err)
	}
	return nil
}

func (s *Store) ListStructures(ctx context.Context, projectID boq.ProjectID) ([]boq.Structure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, description, retired FROM structures
		WHERE project_id = ? AND retired = 0 ORDER BY rowid ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query structures: %w", err)
	}
	defer rows.Close()

	var out []boq.Structure
	for rows.Next() {
		var st boq.Structure
		var retired int
		if err := rows.Scan(&st.ID, &st.ProjectID, &st.Name, &st.Description, &retired); err != nil {
			return nil, err
		}
		st.Retired = retired != 0
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) ListBills(ctx context.Context, projectID boq.ProjectID) ([]boq.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.structure_id, b.name, b.retired
		FROM bills b JOIN structures st ON st.id = b.structure_id
		WHERE st.project_id = ? AND b.retired = 0 ORDER BY b.rowid ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var out []boq.Bill
	for rows.Next() {
		var b boq.Bill
		var retired int
		if err := rows.Scan(&b.ID, &b.StructureID, &b.Name, &retired); err != nil {
			return nil, err
		}
		b.Retired = retired != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ListPackages(ctx context.Context, projectID boq.ProjectID) ([]boq.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.bill_id, p.name, p.retired
		FROM packages p
		JOIN bills b ON b.id = p.bill_id
		JOIN structures st ON st.id = b.structure_id
		WHERE st.project_id = ? AND p.retired = 0 ORDER BY p.rowid ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var out []boq.Package
	for rows.Next() {
		var p boq.Package
		var retired int
		if err := rows.Scan(&p.ID, &p.BillID, &p.Name, &retired); err != nil {
			return nil, err
		}
		p.Retired = retired != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// LINE ITEMS
// =============================================================================

const lineItemColumns = `id, project_id, structure_id, bill_id, package_id, row_index,
	item_number, payment_reference, description, unit_measurement, is_work,
	unit_price, budgeted_quantity, total_price, addendum, special_item, retired, created_at`

func (s *Store) SaveLineItem(ctx context.Context, li *boq.LineItem) error {
	if li.SpecialItem && (li.StructureID != nil || li.BillID != nil || li.PackageID != nil) {
		return boq.ErrSpecialItemHierarchy
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if li.CreatedAt.IsZero() {
		li.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO line_items (`+lineItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			row_index = excluded.row_index,
			item_number = excluded.item_number,
			payment_reference = excluded.payment_reference,
			description = excluded.description,
			unit_measurement = excluded.unit_measurement,
			is_work = excluded.is_work,
			unit_price = excluded.unit_price,
			budgeted_quantity = excluded.budgeted_quantity,
			total_price = excluded.total_price,
			addendum = excluded.addendum,
			special_item = excluded.special_item,
			retired = excluded.retired`,
		li.ID, li.ProjectID,
		nullID(li.StructureID), nullID(li.BillID), nullID(li.PackageID),
		li.RowIndex, li.ItemNumber, li.PaymentReference, li.Description, li.UnitMeasurement,
		boolInt(li.IsWork), li.UnitPrice.String(), li.BudgetedQuantity.String(), li.TotalPrice.String(),
		boolInt(li.Addendum), boolInt(li.SpecialItem), boolInt(li.Retired),
		li.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save line item: %w", err)
	}
	return nil
}

func (s *Store) GetLineItem(ctx context.Context, id boq.LineItemID) (*boq.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items WHERE id = ?`, id)
	li, err := scanLineItem(row)
	if err == sql.ErrNoRows {
		return nil, boq.ErrLineItemNotFound
	}
	return li, err
}

func (s *Store) ListLineItems(ctx context.Context, projectID boq.ProjectID) ([]boq.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items
		 WHERE project_id = ? AND retired = 0 ORDER BY row_index ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var out []boq.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *li)
	}
	return out, rows.Err()
}

func (s *Store) MaxRowIndex(ctx context.Context, projectID boq.ProjectID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Retired rows keep their index; new rows must not collide with them.
	var max int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(row_index), 0) FROM line_items WHERE project_id = ?`, projectID,
	).Scan(&max)
	return max, err
}

func (s *Store) RetireContractSet(ctx context.Context, projectID boq.ProjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Transactions against the outgoing rows first, then the rows, then
	// the hierarchy.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM actual_transactions WHERE line_item_id IN (
			SELECT id FROM line_items
			WHERE project_id = ? AND addendum = 0 AND special_item = 0 AND retired = 0
		)`, projectID); err != nil {
		return fmt.Errorf("failed to delete orphaned transactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE line_items SET retired = 1
		WHERE project_id = ? AND addendum = 0 AND special_item = 0 AND retired = 0`, projectID); err != nil {
		return fmt.Errorf("failed to retire line items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE packages SET retired = 1 WHERE bill_id IN (
			SELECT b.id FROM bills b JOIN structures st ON st.id = b.structure_id WHERE st.project_id = ?
		)`, projectID); err != nil {
		return fmt.Errorf("failed to retire packages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE bills SET retired = 1 WHERE structure_id IN (
			SELECT id FROM structures WHERE project_id = ?
		)`, projectID); err != nil {
		return fmt.Errorf("failed to retire bills: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE structures SET retired = 1 WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to retire structures: %w", err)
	}

	return tx.Commit()
}

func scanLineItem(r rowScanner) (*boq.LineItem, error) {
	var li boq.LineItem
	var structureID, billID, packageID sql.NullString
	var isWork, addendum, special, retired int
	var unitPrice, budgetedQty, totalPrice, createdAt string
	err := r.Scan(&li.ID, &li.ProjectID, &structureID, &billID, &packageID, &li.RowIndex,
		&li.ItemNumber, &li.PaymentReference, &li.Description, &li.UnitMeasurement, &isWork,
		&unitPrice, &budgetedQty, &totalPrice, &addendum, &special, &retired, &createdAt)
	if err != nil {
		return nil, err
	}
	if structureID.Valid {
		id := boq.StructureID(structureID.String)
		li.StructureID = &id
	}
	if billID.Valid {
		id := boq.BillID(billID.String)
		li.BillID = &id
	}
	if packageID.Valid {
		id := boq.PackageID(packageID.String)
		li.PackageID = &id
	}
	li.IsWork = isWork != 0
	li.UnitPrice = mustDecimal(unitPrice)
	li.BudgetedQuantity = mustDecimal(budgetedQty)
	li.TotalPrice = mustDecimal(totalPrice)
	li.Addendum = addendum != 0
	li.SpecialItem = special != 0
	li.Retired = retired != 0
	li.CreatedAt = parseTime(createdAt)
	return &li, nil
}

// =============================================================================
// CERTIFICATES
// =============================================================================

const certificateColumns = `id, project_id, certificate_number, status, notes, is_final,
	approved_on, approved_by, full_path, full_generating, full_generating_since,
	abridged_path, abridged_generating, abridged_generating_since, created_at`

// CreateCertificate assigns the next certificate number as MAX+1 inside
// a transaction, guarded by the unique constraint, with a bounded retry
// for the cross-process race.
func (s *Store) CreateCertificate(ctx context.Context, projectID boq.ProjectID) (*boq.PaymentCertificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		cert, err := s.tryCreateCertificate(ctx, projectID)
		if err == nil {
			return cert, nil
		}
		if !isUniqueConstraintError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to assign certificate number after %d attempts: %w", attempts, lastErr)
}

func (s *Store) tryCreateCertificate(ctx context.Context, projectID boq.ProjectID) (*boq.PaymentCertificate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(certificate_number), 0) + 1
		FROM payment_certificates WHERE project_id = ?`, projectID).Scan(&next); err != nil {
		return nil, err
	}

	cert := &boq.PaymentCertificate{
		ID:                boq.CertificateID(boq.NewID()),
		ProjectID:         projectID,
		CertificateNumber: next,
		Status:            boq.StatusDraft,
		CreatedAt:         time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payment_certificates (id, project_id, certificate_number, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		cert.ID, cert.ProjectID, cert.CertificateNumber, cert.Status,
		cert.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cert, nil
}

func (s *Store) GetCertificate(ctx context.Context, id boq.CertificateID) (*boq.PaymentCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM payment_certificates WHERE id = ?`, id)
	c, err := scanCertificate(row)
	if err == sql.ErrNoRows {
		return nil, boq.ErrCertificateNotFound
	}
	return c, err
}

func (s *Store) UpdateCertificate(ctx context.Context, c *boq.PaymentCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_certificates SET
			status = ?, notes = ?, is_final = ?, approved_on = ?, approved_by = ?
		WHERE id = ?`,
		c.Status, c.Notes, boolInt(c.IsFinal), nullTime(c.ApprovedOn), c.ApprovedBy, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update certificate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return boq.ErrCertificateNotFound
	}
	return nil
}

func (s *Store) ListCertificates(ctx context.Context, projectID boq.ProjectID) ([]boq.PaymentCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+certificateColumns+` FROM payment_certificates
		 WHERE project_id = ? ORDER BY certificate_number ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query certificates: %w", err)
	}
	defer rows.Close()

	var out []boq.PaymentCertificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) ActiveCertificate(ctx context.Context, projectID boq.ProjectID) (*boq.PaymentCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+certificateColumns+` FROM payment_certificates
		 WHERE project_id = ? AND status IN ('DRAFT', 'SUBMITTED', 'REJECTED')
		 ORDER BY certificate_number DESC LIMIT 1`, projectID)
	c, err := scanCertificate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func scanCertificate(r rowScanner) (*boq.PaymentCertificate, error) {
	var c boq.PaymentCertificate
	var isFinal, fullGen, abrGen int
	var approvedOn, fullSince, abrSince sql.NullString
	var createdAt string
	err := r.Scan(&c.ID, &c.ProjectID, &c.CertificateNumber, &c.Status, &c.Notes, &isFinal,
		&approvedOn, &c.ApprovedBy, &c.Full.Path, &fullGen, &fullSince,
		&c.Abridged.Path, &abrGen, &abrSince, &createdAt)
	if err != nil {
		return nil, err
	}
	c.IsFinal = isFinal != 0
	c.ApprovedOn = parseNullTime(approvedOn)
	c.Full.Generating = fullGen != 0
	c.Full.GeneratingSince = parseNullTime(fullSince)
	c.Abridged.Generating = abrGen != 0
	c.Abridged.GeneratingSince = parseNullTime(abrSince)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, certificate_id, line_item_id, quantity, unit_price, total_price,
	approved, claimed, captured_by, created_at`

func (s *Store) GetTransaction(ctx context.Context, id boq.TransactionID) (*boq.ActualTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM actual_transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, boq.ErrTransactionNotFound
	}
	return t, err
}

func (s *Store) ListTransactionsByCertificate(ctx context.Context, certID boq.CertificateID) ([]boq.ActualTransaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM actual_transactions
		 WHERE certificate_id = ? ORDER BY created_at ASC`, certID)
}

func (s *Store) ListTransactionsByLineItem(ctx context.Context, lineItemID boq.LineItemID) ([]boq.ActualTransaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM actual_transactions
		 WHERE line_item_id = ? ORDER BY created_at ASC`, lineItemID)
}

func (s *Store) ListTransactionsByProject(ctx context.Context, projectID boq.ProjectID) ([]boq.ActualTransaction, error) {
	return s.queryTransactions(ctx,
		`SELECT t.id, t.certificate_id, t.line_item_id, t.quantity, t.unit_price, t.total_price,
		        t.approved, t.claimed, t.captured_by, t.created_at
		 FROM actual_transactions t
		 JOIN line_items li ON li.id = t.line_item_id
		 WHERE li.project_id = ? ORDER BY t.created_at ASC`, projectID)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]boq.ActualTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []boq.ActualTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) ApplyTransactionChanges(ctx context.Context, certID boq.CertificateID, upserts []boq.ActualTransaction, deletes []boq.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM actual_transactions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete transaction: %w", err)
		}
	}
	for _, t := range upserts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO actual_transactions (`+transactionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				quantity = excluded.quantity,
				unit_price = excluded.unit_price,
				total_price = excluded.total_price,
				approved = excluded.approved,
				claimed = excluded.claimed,
				captured_by = excluded.captured_by`,
			t.ID, t.CertificateID, t.LineItemID,
			t.Quantity.String(), t.UnitPrice.String(), t.TotalPrice.String(),
			boolInt(t.Approved), boolInt(t.Claimed), t.CapturedBy,
			t.CreatedAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to upsert transaction: %w", err)
		}
	}

	// Any mutation invalidates previously rendered documents.
	if _, err := tx.ExecContext(ctx, `
		UPDATE payment_certificates SET full_path = '', abridged_path = ''
		WHERE id = ?`, certID); err != nil {
		return fmt.Errorf("failed to invalidate documents: %w", err)
	}

	return tx.Commit()
}

func (s *Store) SetTransactionFlags(ctx context.Context, certID boq.CertificateID, approved, claimed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE actual_transactions SET approved = ?, claimed = ?
		WHERE certificate_id = ?`, boolInt(approved), boolInt(claimed), certID)
	if err != nil {
		return fmt.Errorf("failed to set transaction flags: %w", err)
	}
	return nil
}

func scanTransaction(r rowScanner) (*boq.ActualTransaction, error) {
	var t boq.ActualTransaction
	var qty, unitPrice, totalPrice, createdAt string
	var approved, claimed int
	err := r.Scan(&t.ID, &t.CertificateID, &t.LineItemID, &qty, &unitPrice, &totalPrice,
		&approved, &claimed, &t.CapturedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	t.Quantity = mustDecimal(qty)
	t.UnitPrice = mustDecimal(unitPrice)
	t.TotalPrice = mustDecimal(totalPrice)
	t.Approved = approved != 0
	t.Claimed = claimed != 0
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

func docColumns(kind boq.DocumentKind) (pathCol, genCol, sinceCol string) {
	if kind == boq.DocumentAbridged {
		return "abridged_path", "abridged_generating", "abridged_generating_since"
	}
	return "full_path", "full_generating", "full_generating_since"
}

// ClaimDocument is the atomic check-and-set: the UPDATE only fires when
// the flag is clear, and the affected-row count decides the winner.
func (s *Store) ClaimDocument(ctx context.Context, certID boq.CertificateID, kind boq.DocumentKind, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, genCol, sinceCol := docColumns(kind)
	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_certificates SET `+genCol+` = 1, `+sinceCol+` = ?
		 WHERE id = ? AND `+genCol+` = 0`,
		at.UTC().Format(time.RFC3339Nano), certID)
	if err != nil {
		return false, fmt.Errorf("failed to claim document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// Lost the claim, or the certificate does not exist.
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_certificates WHERE id = ?`, certID).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, boq.ErrCertificateNotFound
	}
	return false, nil
}

func (s *Store) ReleaseDocument(ctx context.Context, certID boq.CertificateID, kind boq.DocumentKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, genCol, sinceCol := docColumns(kind)
	_, err := s.db.ExecContext(ctx,
		`UPDATE payment_certificates SET `+genCol+` = 0, `+sinceCol+` = NULL WHERE id = ?`, certID)
	if err != nil {
		return fmt.Errorf("failed to release document claim: %w", err)
	}
	return nil
}

func (s *Store) StoreDocument(ctx context.Context, certID boq.CertificateID, kind boq.DocumentKind, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pathCol, genCol, sinceCol := docColumns(kind)
	_, err := s.db.ExecContext(ctx,
		`UPDATE payment_certificates SET `+pathCol+` = ?, `+genCol+` = 0, `+sinceCol+` = NULL
		 WHERE id = ?`, path, certID)
	if err != nil {
		return fmt.Errorf("failed to store document path: %w", err)
	}
	return nil
}

func (s *Store) ClearDocuments(ctx context.Context, certID boq.CertificateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE payment_certificates SET full_path = '', abridged_path = '' WHERE id = ?`, certID)
	if err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	return nil
}

func (s *Store) ListStuckDocuments(ctx context.Context, olderThan time.Time) ([]boq.StuckDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// RFC3339Nano trims trailing fractional zeros, so the stored strings
	// do not order lexicographically at sub-second granularity. Filter on
	// the flags in SQL and compare parsed times here.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, full_generating, full_generating_since, abridged_generating, abridged_generating_since
		FROM payment_certificates
		WHERE full_generating = 1 OR abridged_generating = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck documents: %w", err)
	}
	defer rows.Close()

	var out []boq.StuckDocument
	for rows.Next() {
		var id boq.CertificateID
		var fullGen, abrGen int
		var fullSince, abrSince sql.NullString
		if err := rows.Scan(&id, &fullGen, &fullSince, &abrGen, &abrSince); err != nil {
			return nil, err
		}
		if fullGen != 0 && fullSince.Valid {
			if since := parseTime(fullSince.String); since.Before(olderThan) {
				out = append(out, boq.StuckDocument{CertificateID: id, Kind: boq.DocumentFull, Since: since})
			}
		}
		if abrGen != 0 && abrSince.Valid {
			if since := parseTime(abrSince.String); since.Before(olderThan) {
				out = append(out, boq.StuckDocument{CertificateID: id, Kind: boq.DocumentAbridged, Since: since})
			}
		}
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullID[T ~string](id *T) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
