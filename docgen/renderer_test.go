package docgen_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/certificate-engine/boq"
	"github.com/warp/certificate-engine/docgen"
)

func renderContext(abridged bool) docgen.RenderContext {
	claimed := decimal.NewFromInt(500)
	structure := boq.Structure{ID: "s1", Name: "Main Building"}
	bill := boq.Bill{ID: "b1", StructureID: "s1", Name: "Earthworks"}

	heading := boq.CertifiedLineItem{Item: boq.LineItem{
		Description: "EARTHWORKS GENERALLY",
	}}
	moved := boq.CertifiedLineItem{
		Item: boq.LineItem{
			ItemNumber: "1.1", Description: "Bulk excavation", IsWork: true,
			BudgetedQuantity: decimal.NewFromInt(2000), UnitPrice: decimal.RequireFromString("85.50"),
		},
		Value: boq.Aggregate{Current: &claimed, Total: &claimed},
	}
	idle := boq.CertifiedLineItem{
		Item: boq.LineItem{
			ItemNumber: "1.2", Description: "Backfill", IsWork: true,
			BudgetedQuantity: decimal.NewFromInt(1500), UnitPrice: decimal.NewFromInt(42),
		},
	}

	return docgen.RenderContext{
		Project:     boq.Project{Name: "Riverside Apartments"},
		Certificate: boq.PaymentCertificate{CertificateNumber: 3, Status: boq.StatusSubmitted},
		View: boq.CertificateView{
			Contract: []boq.GroupedStructure{{
				Structure: structure,
				Bills: []boq.GroupedBill{{
					Bill:     bill,
					Packages: []boq.GroupedPackage{{Items: []boq.CertifiedLineItem{heading, moved, idle}}},
				}},
			}},
		},
		Totals: boq.CertificateTotals{
			ProgressivePrevious: decimal.NewFromInt(10000),
			CurrentClaimTotal:   decimal.RequireFromString("42750"),
			ProgressiveToDate:   decimal.RequireFromString("52750"),
		},
		Abridged: abridged,
	}
}

func TestTabularRenderer_FullStatement(t *testing.T) {
	data, err := docgen.TabularRenderer{}.Render(context.Background(), renderContext(false))
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "PAYMENT CERTIFICATE #3")
	assert.Contains(t, out, "Riverside Apartments")
	assert.Contains(t, out, "EARTHWORKS GENERALLY")
	assert.Contains(t, out, "Bulk excavation")
	assert.Contains(t, out, "Backfill")
	assert.Contains(t, out, "Progressive to date:  52750.00")

	// A never-claimed row prints dashes, not zeros.
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Backfill") {
			assert.Contains(t, line, "-")
			assert.NotContains(t, line, "0.00")
		}
	}
}

func TestTabularRenderer_AbridgedDropsIdleRows(t *testing.T) {
	// The abridged statement keeps only rows moving on this certificate;
	// headings and untouched items disappear, the totals stay.

	data, err := docgen.TabularRenderer{}.Render(context.Background(), renderContext(true))
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "(abridged)")
	assert.Contains(t, out, "Bulk excavation")
	assert.NotContains(t, out, "EARTHWORKS GENERALLY")
	assert.NotContains(t, out, "Backfill")
	assert.Contains(t, out, "Progressive to date:  52750.00")
}
