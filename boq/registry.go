/*
registry.go - The contracted scope: line item registration and retirement

PURPOSE:
  Maintains the bill of quantities a project can claim against. Three
  entry paths exist:
  - ImportContract: wholesale load of the original contract (replaces
    any previous non-addendum set)
  - RegisterAddendum: scope added after contract signature, appended
    after the current maximum row index, never interleaved
  - RegisterSpecial: lump-sum items valued directly, outside the
    structure/bill/package hierarchy

ROW ORDERING:
  row_index is the document order and is unique per project. Contract
  import numbers its rows sequentially after whatever already exists
  (surviving addendum/special rows keep their positions); addendum and
  special items always take max+1.

SEE ALSO:
  - factory/contract.go: parses JSON contract definitions into
    ContractInput
  - store.go: RetireContractSet cascade contract
*/
package boq

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUTS
// =============================================================================

// ItemInput is one row of an incoming contract or addendum.
type ItemInput struct {
	ItemNumber       string
	PaymentReference string
	Description      string
	UnitMeasurement  string

	// Heading rows carry only display fields.
	IsWork bool

	BudgetedQuantity decimal.Decimal
	UnitPrice        decimal.Decimal
}

// PackageInput groups items under a named package.
type PackageInput struct {
	Name  string
	Items []ItemInput
}

// BillInput groups items and packages under a named bill. Items listed
// directly under the bill have no package.
type BillInput struct {
	Name     string
	Items    []ItemInput
	Packages []PackageInput
}

// StructureInput is one building/structure of the contract.
type StructureInput struct {
	Name        string
	Description string
	Bills       []BillInput
}

// ContractInput is a full bill of quantities for import.
type ContractInput struct {
	Structures []StructureInput
}

// SpecialInput registers a lump-sum item.
type SpecialInput struct {
	ItemNumber  string
	Description string
	TotalPrice  decimal.Decimal
}

// AddendumInput registers post-signature scope under an existing
// structure/bill (package optional).
type AddendumInput struct {
	StructureID StructureID
	BillID      BillID
	PackageID   *PackageID
	Item        ItemInput
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry manages the contracted line item set.
type Registry struct {
	Store Store
}

// ImportContract replaces the project's non-addendum scope. The previous
// contract set and its hierarchy are retired (transactions captured
// against retired items are deleted by the cascade), then the new set is
// registered in document order. Refused while a certificate is open:
// retiring claimed-against scope under an in-flight claim cycle would
// silently change its totals.
func (r *Registry) ImportContract(ctx context.Context, projectID ProjectID, input ContractInput) (int, error) {
	if _, err := r.Store.GetProject(ctx, projectID); err != nil {
		return 0, err
	}
	active, err := r.Store.ActiveCertificate(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if active != nil {
		return 0, fmt.Errorf("certificate #%d is %s: %w", active.CertificateNumber, active.Status, ErrOpenCertificate)
	}

	if err := r.Store.RetireContractSet(ctx, projectID); err != nil {
		return 0, fmt.Errorf("failed to retire previous contract set: %w", err)
	}

	rowIndex, err := r.Store.MaxRowIndex(ctx, projectID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, si := range input.Structures {
		structure := &Structure{
			ID:          StructureID(NewID()),
			ProjectID:   projectID,
			Name:        si.Name,
			Description: si.Description,
		}
		if err := r.Store.SaveStructure(ctx, structure); err != nil {
			return created, err
		}
		for _, bi := range si.Bills {
			bill := &Bill{ID: BillID(NewID()), StructureID: structure.ID, Name: bi.Name}
			if err := r.Store.SaveBill(ctx, bill); err != nil {
				return created, err
			}
			for _, item := range bi.Items {
				rowIndex++
				if err := r.saveItem(ctx, projectID, structure.ID, bill.ID, nil, rowIndex, item, false); err != nil {
					return created, err
				}
				created++
			}
			for _, pi := range bi.Packages {
				pkg := &Package{ID: PackageID(NewID()), BillID: bill.ID, Name: pi.Name}
				if err := r.Store.SavePackage(ctx, pkg); err != nil {
					return created, err
				}
				for _, item := range pi.Items {
					rowIndex++
					if err := r.saveItem(ctx, projectID, structure.ID, bill.ID, &pkg.ID, rowIndex, item, false); err != nil {
						return created, err
					}
					created++
				}
			}
		}
	}
	return created, nil
}

// RegisterAddendum appends a post-signature item after the current
// maximum row index.
func (r *Registry) RegisterAddendum(ctx context.Context, projectID ProjectID, input AddendumInput) (*LineItem, error) {
	if _, err := r.Store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	rowIndex, err := r.Store.MaxRowIndex(ctx, projectID)
	if err != nil {
		return nil, err
	}

	item := newLineItem(projectID, rowIndex+1, input.Item)
	item.StructureID = &input.StructureID
	item.BillID = &input.BillID
	item.PackageID = input.PackageID
	item.Addendum = true
	if err := r.Store.SaveLineItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// RegisterSpecial appends a lump-sum item. Special items never carry
// hierarchy and their total price is set directly.
func (r *Registry) RegisterSpecial(ctx context.Context, projectID ProjectID, input SpecialInput) (*LineItem, error) {
	if _, err := r.Store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	rowIndex, err := r.Store.MaxRowIndex(ctx, projectID)
	if err != nil {
		return nil, err
	}

	item := &LineItem{
		ID:          LineItemID(NewID()),
		ProjectID:   projectID,
		RowIndex:    rowIndex + 1,
		ItemNumber:  input.ItemNumber,
		Description: input.Description,
		IsWork:      true,
		SpecialItem: true,
		TotalPrice:  input.TotalPrice,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.Store.SaveLineItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *Registry) saveItem(ctx context.Context, projectID ProjectID, structureID StructureID, billID BillID, packageID *PackageID, rowIndex int, input ItemInput, addendum bool) error {
	item := newLineItem(projectID, rowIndex, input)
	item.StructureID = &structureID
	item.BillID = &billID
	item.PackageID = packageID
	item.Addendum = addendum
	return r.Store.SaveLineItem(ctx, item)
}

func newLineItem(projectID ProjectID, rowIndex int, input ItemInput) *LineItem {
	item := &LineItem{
		ID:               LineItemID(NewID()),
		ProjectID:        projectID,
		RowIndex:         rowIndex,
		ItemNumber:       input.ItemNumber,
		PaymentReference: input.PaymentReference,
		Description:      input.Description,
		UnitMeasurement:  input.UnitMeasurement,
		IsWork:           input.IsWork,
		CreatedAt:        time.Now().UTC(),
	}
	if input.IsWork {
		item.BudgetedQuantity = input.BudgetedQuantity
		item.UnitPrice = input.UnitPrice
		item.TotalPrice = input.BudgetedQuantity.Mul(input.UnitPrice)
	}
	return item
}
