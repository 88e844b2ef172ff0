/*
Package factory provides JSON to Go contract conversion.

PURPOSE:
  Converts JSON bill-of-quantities definitions into boq.ContractInput
  objects. This enables contract loading without code changes - a
  quantity surveyor's export can be posted as JSON, and the factory
  creates the proper Go structs.

JSON SCHEMA:
  {
    "structures": [
      {
        "name": "Building A",
        "description": "Main residential block",
        "bills": [
          {
            "name": "Earthworks",
            "items": [
              {
                "item_number": "1.1",
                "payment_reference": "EW-01",
                "description": "Bulk excavation",
                "unit": "m3",
                "is_work": true,
                "budgeted_quantity": "1200",
                "unit_price": "85.50"
              }
            ],
            "packages": [
              {"name": "Lateral support", "items": [...]}
            ]
          }
        ]
      }
    ]
  }

KEY FEATURES:
  - Validates JSON structure and decimal fields
  - Heading rows (is_work false) carry display fields only
  - Rejects negative quantities and prices up front

USAGE:
  factory := NewContractFactory()
  input, err := factory.ParseContract(jsonStr)
  registry.ImportContract(ctx, projectID, *input)

SEE ALSO:
  - boq/registry.go: ContractInput definition and import semantics
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/certificate-engine/boq"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ContractJSON is the JSON representation of a full bill of quantities.
type ContractJSON struct {
	Structures []StructureJSON `json:"structures"`
}

// StructureJSON represents one building/structure.
type StructureJSON struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Bills       []BillJSON `json:"bills"`
}

// BillJSON groups items and packages under a named bill.
type BillJSON struct {
	Name     string        `json:"name"`
	Items    []ItemJSON    `json:"items,omitempty"`
	Packages []PackageJSON `json:"packages,omitempty"`
}

// PackageJSON groups items under a named package.
type PackageJSON struct {
	Name  string     `json:"name"`
	Items []ItemJSON `json:"items"`
}

// ItemJSON is one contract row. Quantities and prices are decimal
// strings to avoid float drift in money fields.
type ItemJSON struct {
	ItemNumber       string `json:"item_number"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Description      string `json:"description"`
	Unit             string `json:"unit,omitempty"`
	IsWork           bool   `json:"is_work"`
	BudgetedQuantity string `json:"budgeted_quantity,omitempty"`
	UnitPrice        string `json:"unit_price,omitempty"`
}

// =============================================================================
// CONTRACT FACTORY
// =============================================================================

// ContractFactory converts JSON contracts to Go structs.
type ContractFactory struct{}

// NewContractFactory creates a new contract factory.
func NewContractFactory() *ContractFactory {
	return &ContractFactory{}
}

// ParseContract parses a JSON string into a ContractInput.
func (f *ContractFactory) ParseContract(jsonStr string) (*boq.ContractInput, error) {
	var cj ContractJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse contract JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts ContractJSON to boq.ContractInput.
func (f *ContractFactory) FromJSON(cj ContractJSON) (*boq.ContractInput, error) {
	if len(cj.Structures) == 0 {
		return nil, fmt.Errorf("contract has no structures")
	}

	var input boq.ContractInput
	for si, sj := range cj.Structures {
		if sj.Name == "" {
			return nil, fmt.Errorf("structure %d: name is required", si)
		}
		structure := boq.StructureInput{Name: sj.Name, Description: sj.Description}
		for bi, bj := range sj.Bills {
			if bj.Name == "" {
				return nil, fmt.Errorf("structure %q bill %d: name is required", sj.Name, bi)
			}
			bill := boq.BillInput{Name: bj.Name}
			for _, ij := range bj.Items {
				item, err := parseItem(ij)
				if err != nil {
					return nil, fmt.Errorf("bill %q: %w", bj.Name, err)
				}
				bill.Items = append(bill.Items, item)
			}
			for _, pj := range bj.Packages {
				if pj.Name == "" {
					return nil, fmt.Errorf("bill %q: package name is required", bj.Name)
				}
				pkg := boq.PackageInput{Name: pj.Name}
				for _, ij := range pj.Items {
					item, err := parseItem(ij)
					if err != nil {
						return nil, fmt.Errorf("package %q: %w", pj.Name, err)
					}
					pkg.Items = append(pkg.Items, item)
				}
				bill.Packages = append(bill.Packages, pkg)
			}
			structure.Bills = append(structure.Bills, bill)
		}
		input.Structures = append(input.Structures, structure)
	}
	return &input, nil
}

// ParseAddendumItem parses a single item definition, for addendum
// registration.
func (f *ContractFactory) ParseAddendumItem(jsonStr string) (*boq.ItemInput, error) {
	var ij ItemJSON
	if err := json.Unmarshal([]byte(jsonStr), &ij); err != nil {
		return nil, fmt.Errorf("failed to parse item JSON: %w", err)
	}
	item, err := parseItem(ij)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseItem(ij ItemJSON) (boq.ItemInput, error) {
	item := boq.ItemInput{
		ItemNumber:       ij.ItemNumber,
		PaymentReference: ij.PaymentReference,
		Description:      ij.Description,
		UnitMeasurement:  ij.Unit,
		IsWork:           ij.IsWork,
	}
	if !ij.IsWork {
		// Heading rows carry display fields only.
		return item, nil
	}

	qty, err := parseDecimal("budgeted_quantity", ij.BudgetedQuantity)
	if err != nil {
		return item, err
	}
	price, err := parseDecimal("unit_price", ij.UnitPrice)
	if err != nil {
		return item, err
	}
	item.BudgetedQuantity = qty
	item.UnitPrice = price
	return item, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("item %s: invalid decimal %q", field, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("item %s: negative value %q: %w", field, s, boq.ErrNegativeValue)
	}
	return d, nil
}
