/*
renderer.go - Certificate document rendering

PURPOSE:
  Renderer is the seam to whatever actually produces the client-facing
  document (the production system renders PDF). TabularRenderer is the
  in-repo default: a plain-text statement laid out with tabwriter,
  enough for tests, dev servers, and archival.

ABRIDGED DOCUMENTS:
  The abridged variant drops heading rows and rows with no movement on
  this certificate, keeping the totals; the full variant prints the
  whole bill of quantities.
*/
package docgen

import (
	"bytes"
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/warp/certificate-engine/boq"
)

// RenderContext is everything a renderer needs: the certificate, its
// reconciled and grouped line items, and the headline totals.
type RenderContext struct {
	Project     boq.Project
	Certificate boq.PaymentCertificate
	View        boq.CertificateView
	Totals      boq.CertificateTotals
	Abridged    bool
}

// Renderer turns a certificate view into document bytes. Implementations
// must be safe for concurrent use; the coordinator calls from worker
// goroutines.
type Renderer interface {
	Render(ctx context.Context, rc RenderContext) ([]byte, error)
}

// DocumentPath is where a certificate's rendered document lives in blob
// storage.
func DocumentPath(project boq.Project, cert boq.PaymentCertificate, kind boq.DocumentKind) string {
	return fmt.Sprintf("payment_certificates/%s/certificate_%d_%s.txt", project.ID, cert.CertificateNumber, kind)
}

// =============================================================================
// TABULAR RENDERER
// =============================================================================

// TabularRenderer renders a plain-text payment certificate statement.
type TabularRenderer struct{}

func (TabularRenderer) Render(_ context.Context, rc RenderContext) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "PAYMENT CERTIFICATE #%d\n", rc.Certificate.CertificateNumber)
	fmt.Fprintf(&buf, "Project: %s\n", rc.Project.Name)
	fmt.Fprintf(&buf, "Status: %s\n", rc.Certificate.Status)
	if rc.Certificate.ApprovedOn != nil {
		fmt.Fprintf(&buf, "Approved: %s by %s\n", rc.Certificate.ApprovedOn.Format("2006-01-02"), rc.Certificate.ApprovedBy)
	}
	if rc.Abridged {
		fmt.Fprintf(&buf, "(abridged)\n")
	}
	fmt.Fprintln(&buf)

	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Item\tDescription\tQty\tRate\tPrevious\tCurrent\tTo Date")

	for _, gs := range rc.View.Contract {
		fmt.Fprintf(w, "%s\t\t\t\t\t\t\n", gs.Structure.Name)
		for _, gb := range gs.Bills {
			fmt.Fprintf(w, "  %s\t\t\t\t\t\t\n", gb.Bill.Name)
			for _, gp := range gb.Packages {
				if gp.Package != nil {
					fmt.Fprintf(w, "    %s\t\t\t\t\t\t\n", gp.Package.Name)
				}
				for _, row := range gp.Items {
					writeRow(w, row, rc.Abridged)
				}
			}
		}
	}
	if len(rc.View.Addendum) > 0 {
		fmt.Fprintln(w, "ADDENDUM ITEMS\t\t\t\t\t\t")
		for _, row := range rc.View.Addendum {
			writeRow(w, row, rc.Abridged)
		}
	}
	if len(rc.View.Special) > 0 {
		fmt.Fprintln(w, "SPECIAL ITEMS\t\t\t\t\t\t")
		for _, row := range rc.View.Special {
			writeRow(w, row, rc.Abridged)
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	fmt.Fprintln(&buf)
	fmt.Fprintf(&buf, "Previously certified: %s\n", rc.Totals.ProgressivePrevious.StringFixed(2))
	fmt.Fprintf(&buf, "This certificate:     %s\n", rc.Totals.CurrentClaimTotal.StringFixed(2))
	fmt.Fprintf(&buf, "Progressive to date:  %s\n", rc.Totals.ProgressiveToDate.StringFixed(2))
	return buf.Bytes(), nil
}

func writeRow(w *tabwriter.Writer, row boq.CertifiedLineItem, abridged bool) {
	item := row.Item
	if !item.IsWork {
		if !abridged {
			fmt.Fprintf(w, "%s\t%s\t\t\t\t\t\n", item.ItemNumber, item.Description)
		}
		return
	}
	if abridged && row.Value.Current == nil {
		// Abridged statements show only rows moving on this certificate.
		return
	}
	qty := ""
	rate := ""
	if !item.SpecialItem {
		qty = item.BudgetedQuantity.String()
		rate = item.UnitPrice.StringFixed(2)
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		item.ItemNumber,
		item.Description,
		qty,
		rate,
		money(row.Value.Previous),
		money(row.Value.Current),
		money(row.Value.Total),
	)
}

// money prints an aggregate figure, distinguishing "never claimed"
// (dash) from "claimed nothing" (0.00).
func money(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}
