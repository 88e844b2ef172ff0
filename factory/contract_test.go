package factory_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/warp/certificate-engine/boq"
	"github.com/warp/certificate-engine/factory"
)

const sampleContractJSON = `{
	"structures": [
		{
			"name": "Main Building",
			"description": "Residential block",
			"bills": [
				{
					"name": "Earthworks",
					"items": [
						{"description": "EARTHWORKS GENERALLY", "is_work": false},
						{"item_number": "1.1", "payment_reference": "EW-01", "description": "Bulk excavation",
						 "unit": "m3", "is_work": true, "budgeted_quantity": "1200", "unit_price": "85.50"}
					],
					"packages": [
						{
							"name": "Lateral support",
							"items": [
								{"item_number": "1.9", "description": "Soil nails", "unit": "no",
								 "is_work": true, "budgeted_quantity": "300", "unit_price": "640"}
							]
						}
					]
				}
			]
		}
	]
}`

func TestParseContract_FullDocument(t *testing.T) {
	f := factory.NewContractFactory()

	input, err := f.ParseContract(sampleContractJSON)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(input.Structures) != 1 {
		t.Fatalf("expected 1 structure, got %d", len(input.Structures))
	}
	structure := input.Structures[0]
	if structure.Name != "Main Building" || structure.Description != "Residential block" {
		t.Errorf("structure fields wrong: %+v", structure)
	}
	if len(structure.Bills) != 1 {
		t.Fatalf("expected 1 bill, got %d", len(structure.Bills))
	}
	bill := structure.Bills[0]
	if len(bill.Items) != 2 || len(bill.Packages) != 1 {
		t.Fatalf("expected 2 items and 1 package, got %d/%d", len(bill.Items), len(bill.Packages))
	}

	heading := bill.Items[0]
	if heading.IsWork {
		t.Error("heading row must not be billable")
	}
	if !heading.BudgetedQuantity.IsZero() || !heading.UnitPrice.IsZero() {
		t.Error("heading row must carry no decimals")
	}

	work := bill.Items[1]
	if work.PaymentReference != "EW-01" || work.UnitMeasurement != "m3" {
		t.Errorf("work item fields wrong: %+v", work)
	}
	if !work.BudgetedQuantity.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("expected quantity 1200, got %s", work.BudgetedQuantity)
	}
	if !work.UnitPrice.Equal(decimal.RequireFromString("85.50")) {
		t.Errorf("expected price 85.50, got %s", work.UnitPrice)
	}

	nails := bill.Packages[0].Items[0]
	if nails.ItemNumber != "1.9" {
		t.Errorf("package item wrong: %+v", nails)
	}
}

func TestParseContract_Validation(t *testing.T) {
	f := factory.NewContractFactory()

	cases := []struct {
		name    string
		json    string
		wantErr string
	}{
		{"malformed JSON", `{"structures": [`, "failed to parse contract JSON"},
		{"no structures", `{"structures": []}`, "contract has no structures"},
		{"unnamed structure", `{"structures": [{"bills": []}]}`, "name is required"},
		{"unnamed bill", `{"structures": [{"name": "A", "bills": [{"items": []}]}]}`, "name is required"},
		{"unnamed package", `{"structures": [{"name": "A", "bills": [{"name": "B", "packages": [{"items": []}]}]}]}`, "package name is required"},
		{"bad decimal", `{"structures": [{"name": "A", "bills": [{"name": "B", "items": [
			{"item_number": "1.1", "description": "x", "is_work": true, "budgeted_quantity": "lots"}]}]}]}`, "invalid decimal"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ParseContract(tc.json)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestParseContract_NegativeDecimalRefused(t *testing.T) {
	f := factory.NewContractFactory()

	_, err := f.ParseContract(`{"structures": [{"name": "A", "bills": [{"name": "B", "items": [
		{"item_number": "1.1", "description": "x", "is_work": true, "budgeted_quantity": "10", "unit_price": "-5"}]}]}]}`)
	if !errors.Is(err, boq.ErrNegativeValue) {
		t.Errorf("expected ErrNegativeValue, got %v", err)
	}
}

func TestParseAddendumItem(t *testing.T) {
	f := factory.NewContractFactory()

	item, err := f.ParseAddendumItem(`{"item_number": "A1", "description": "Extra excavation",
		"unit": "m3", "is_work": true, "budgeted_quantity": "100", "unit_price": "90"}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if item.ItemNumber != "A1" || !item.UnitPrice.Equal(decimal.NewFromInt(90)) {
		t.Errorf("item fields wrong: %+v", item)
	}

	if _, err := f.ParseAddendumItem(`{"is_work": true, "unit_price": "-1"}`); !errors.Is(err, boq.ErrNegativeValue) {
		t.Errorf("expected ErrNegativeValue, got %v", err)
	}
}

func TestParseContract_BlankDecimalsDefaultToZero(t *testing.T) {
	// Provisional items are sometimes listed without quantities; they
	// parse to zero budgets rather than failing the whole upload.

	f := factory.NewContractFactory()
	input, err := f.ParseContract(`{"structures": [{"name": "A", "bills": [{"name": "B", "items": [
		{"item_number": "1.1", "description": "Provisional sum", "is_work": true}]}]}]}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	item := input.Structures[0].Bills[0].Items[0]
	if !item.BudgetedQuantity.IsZero() || !item.UnitPrice.IsZero() {
		t.Errorf("expected zero budgets, got %+v", item)
	}
}
