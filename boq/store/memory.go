// Package store provides an in-memory implementation of the boq storage
// interfaces, for tests and dev servers.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/certificate-engine/boq"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	projects   map[boq.ProjectID]boq.Project
	structures []boq.Structure
	bills      []boq.Bill
	packages   []boq.Package
	items      map[boq.LineItemID]boq.LineItem
	certs      map[boq.CertificateID]boq.PaymentCertificate
	txs        map[boq.TransactionID]boq.ActualTransaction
}

func NewMemory() *Memory {
	return &Memory{
		projects: make(map[boq.ProjectID]boq.Project),
		items:    make(map[boq.LineItemID]boq.LineItem),
		certs:    make(map[boq.CertificateID]boq.PaymentCertificate),
		txs:      make(map[boq.TransactionID]boq.ActualTransaction),
	}
}

// =============================================================================
// PROJECTS
// =============================================================================

func (m *Memory) SaveProject(_ context.Context, p *boq.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = *p
	return nil
}

func (m *Memory) GetProject(_ context.Context, id boq.ProjectID) (*boq.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, boq.ErrProjectNotFound
	}
	return &p, nil
}

func (m *Memory) ListProjects(_ context.Context) ([]boq.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]boq.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// HIERARCHY
// =============================================================================

func (m *Memory) SaveStructure(_ context.Context, s *boq.Structure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.structures {
		if m.structures[i].ID == s.ID {
			m.structures[i] = *s
			return nil
		}
	}
	m.structures = append(m.structures, *s)
	return nil
}

func (m *Memory) SaveBill(_ context.Context, b *boq.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bills {
		if m.bills[i].ID == b.ID {
			m.bills[i] = *b
			return nil
		}
	}
	m.bills = append(m.bills, *b)
	return nil
}

func (m *Memory) SavePackage(_ context.Context, p *boq.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.packages {
		if m.packages[i].ID == p.ID {
			m.packages[i] = *p
			return nil
		}
	}
	m.packages = append(m.packages, *p)
	return nil
}

func (m *Memory) ListStructures(_ context.Context, projectID boq.ProjectID) ([]boq.Structure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []boq.Structure
	for _, s := range m.structures {
		if s.ProjectID == projectID && !s.Retired {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListBills(_ context.Context, projectID boq.ProjectID) ([]boq.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owned := m.structureSetLocked(projectID)
	var out []boq.Bill
	for _, b := range m.bills {
		if owned[b.StructureID] && !b.Retired {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) ListPackages(_ context.Context, projectID boq.ProjectID) ([]boq.Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owned := m.structureSetLocked(projectID)
	billSet := make(map[boq.BillID]bool)
	for _, b := range m.bills {
		if owned[b.StructureID] {
			billSet[b.ID] = true
		}
	}
	var out []boq.Package
	for _, p := range m.packages {
		if billSet[p.BillID] && !p.Retired {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) structureSetLocked(projectID boq.ProjectID) map[boq.StructureID]bool {
	set := make(map[boq.StructureID]bool)
	for _, s := range m.structures {
		if s.ProjectID == projectID {
			set[s.ID] = true
		}
	}
	return set
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (m *Memory) SaveLineItem(_ context.Context, li *boq.LineItem) error {
	if li.SpecialItem && (li.StructureID != nil || li.BillID != nil || li.PackageID != nil) {
		return boq.ErrSpecialItemHierarchy
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[li.ID] = *li
	return nil
}

func (m *Memory) GetLineItem(_ context.Context, id boq.LineItemID) (*boq.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	li, ok := m.items[id]
	if !ok {
		return nil, boq.ErrLineItemNotFound
	}
	return &li, nil
}

func (m *Memory) ListLineItems(_ context.Context, projectID boq.ProjectID) ([]boq.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []boq.LineItem
	for _, li := range m.items {
		if li.ProjectID == projectID && !li.Retired {
			out = append(out, li)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	return out, nil
}

func (m *Memory) MaxRowIndex(_ context.Context, projectID boq.ProjectID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := 0
	// Retired items keep their row index; new rows must not collide.
	for _, li := range m.items {
		if li.ProjectID == projectID && li.RowIndex > max {
			max = li.RowIndex
		}
	}
	return max, nil
}

func (m *Memory) RetireContractSet(_ context.Context, projectID boq.ProjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Orphaned transactions go first, then the items, then the hierarchy.
	retired := make(map[boq.LineItemID]bool)
	for id, li := range m.items {
		if li.ProjectID == projectID && !li.Addendum && !li.SpecialItem && !li.Retired {
			li.Retired = true
			m.items[id] = li
			retired[id] = true
		}
	}
	for id, tx := range m.txs {
		if retired[tx.LineItemID] {
			delete(m.txs, id)
		}
	}
	owned := m.structureSetLocked(projectID)
	billSet := make(map[boq.BillID]bool)
	for i := range m.structures {
		if owned[m.structures[i].ID] {
			m.structures[i].Retired = true
		}
	}
	for i := range m.bills {
		if owned[m.bills[i].StructureID] {
			m.bills[i].Retired = true
			billSet[m.bills[i].ID] = true
		}
	}
	for i := range m.packages {
		if billSet[m.packages[i].BillID] {
			m.packages[i].Retired = true
		}
	}
	return nil
}

// =============================================================================
// CERTIFICATES
// =============================================================================

func (m *Memory) CreateCertificate(_ context.Context, projectID boq.ProjectID) (*boq.PaymentCertificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := 1
	for _, c := range m.certs {
		if c.ProjectID == projectID && c.CertificateNumber >= next {
			next = c.CertificateNumber + 1
		}
	}
	cert := boq.PaymentCertificate{
		ID:                boq.CertificateID(boq.NewID()),
		ProjectID:         projectID,
		CertificateNumber: next,
		Status:            boq.StatusDraft,
		CreatedAt:         time.Now().UTC(),
	}
	m.certs[cert.ID] = cert
	return &cert, nil
}

func (m *Memory) GetCertificate(_ context.Context, id boq.CertificateID) (*boq.PaymentCertificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.certs[id]
	if !ok {
		return nil, boq.ErrCertificateNotFound
	}
	return &c, nil
}

func (m *Memory) UpdateCertificate(_ context.Context, c *boq.PaymentCertificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.certs[c.ID]
	if !ok {
		return boq.ErrCertificateNotFound
	}
	// Only lifecycle fields are written. The document slots belong to the
	// claim/store/release calls; writing a caller's stale snapshot over
	// them would erase an in-flight render's claim.
	stored.Status = c.Status
	stored.Notes = c.Notes
	stored.IsFinal = c.IsFinal
	stored.ApprovedOn = c.ApprovedOn
	stored.ApprovedBy = c.ApprovedBy
	m.certs[c.ID] = stored
	return nil
}

func (m *Memory) ListCertificates(_ context.Context, projectID boq.ProjectID) ([]boq.PaymentCertificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []boq.PaymentCertificate
	for _, c := range m.certs {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CertificateNumber < out[j].CertificateNumber })
	return out, nil
}

func (m *Memory) ActiveCertificate(_ context.Context, projectID boq.ProjectID) (*boq.PaymentCertificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active *boq.PaymentCertificate
	for _, c := range m.certs {
		if c.ProjectID == projectID && c.Status.Active() {
			if active == nil || c.CertificateNumber > active.CertificateNumber {
				cc := c
				active = &cc
			}
		}
	}
	return active, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) GetTransaction(_ context.Context, id boq.TransactionID) (*boq.ActualTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, boq.ErrTransactionNotFound
	}
	return &tx, nil
}

func (m *Memory) ListTransactionsByCertificate(_ context.Context, certID boq.CertificateID) ([]boq.ActualTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterTxLocked(func(tx boq.ActualTransaction) bool { return tx.CertificateID == certID }), nil
}

func (m *Memory) ListTransactionsByLineItem(_ context.Context, lineItemID boq.LineItemID) ([]boq.ActualTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterTxLocked(func(tx boq.ActualTransaction) bool { return tx.LineItemID == lineItemID }), nil
}

func (m *Memory) ListTransactionsByProject(_ context.Context, projectID boq.ProjectID) ([]boq.ActualTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterTxLocked(func(tx boq.ActualTransaction) bool {
		li, ok := m.items[tx.LineItemID]
		return ok && li.ProjectID == projectID
	}), nil
}

func (m *Memory) filterTxLocked(keep func(boq.ActualTransaction) bool) []boq.ActualTransaction {
	var out []boq.ActualTransaction
	for _, tx := range m.txs {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) ApplyTransactionChanges(_ context.Context, certID boq.CertificateID, upserts []boq.ActualTransaction, deletes []boq.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range deletes {
		delete(m.txs, id)
	}
	for _, tx := range upserts {
		m.txs[tx.ID] = tx
	}
	// A mutation invalidates rendered output.
	if c, ok := m.certs[certID]; ok {
		c.Full.Path = ""
		c.Abridged.Path = ""
		m.certs[certID] = c
	}
	return nil
}

func (m *Memory) SetTransactionFlags(_ context.Context, certID boq.CertificateID, approved, claimed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tx := range m.txs {
		if tx.CertificateID == certID {
			tx.Approved = approved
			tx.Claimed = claimed
			m.txs[id] = tx
		}
	}
	return nil
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

func (m *Memory) ClaimDocument(_ context.Context, certID boq.CertificateID, kind boq.DocumentKind, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[certID]
	if !ok {
		return false, boq.ErrCertificateNotFound
	}
	slot := c.Slot(kind)
	if slot.Generating {
		return false, nil
	}
	slot.Generating = true
	slot.GeneratingSince = &at
	m.certs[certID] = c
	return true, nil
}

func (m *Memory) ReleaseDocument(_ context.Context, certID boq.CertificateID, kind boq.DocumentKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[certID]
	if !ok {
		return boq.ErrCertificateNotFound
	}
	slot := c.Slot(kind)
	slot.Generating = false
	slot.GeneratingSince = nil
	m.certs[certID] = c
	return nil
}

func (m *Memory) StoreDocument(_ context.Context, certID boq.CertificateID, kind boq.DocumentKind, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[certID]
	if !ok {
		return boq.ErrCertificateNotFound
	}
	slot := c.Slot(kind)
	slot.Path = path
	slot.Generating = false
	slot.GeneratingSince = nil
	m.certs[certID] = c
	return nil
}

func (m *Memory) ClearDocuments(_ context.Context, certID boq.CertificateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[certID]
	if !ok {
		return boq.ErrCertificateNotFound
	}
	c.Full.Path = ""
	c.Abridged.Path = ""
	m.certs[certID] = c
	return nil
}

func (m *Memory) ListStuckDocuments(_ context.Context, olderThan time.Time) ([]boq.StuckDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []boq.StuckDocument
	for _, c := range m.certs {
		for _, kind := range []boq.DocumentKind{boq.DocumentFull, boq.DocumentAbridged} {
			slot := c.Slot(kind)
			if slot.Generating && slot.GeneratingSince != nil && slot.GeneratingSince.Before(olderThan) {
				out = append(out, boq.StuckDocument{CertificateID: c.ID, Kind: kind, Since: *slot.GeneratingSince})
			}
		}
	}
	return out, nil
}
