// grouping.go - Structure -> Bill -> Package grouping for documents.
//
// Renderers and detail views want line items in their document shape:
// contract items grouped under the hierarchy, special and addendum items
// reported separately. Grouping preserves row_index order within each
// level.
package boq

import "context"

// GroupedPackage holds one package's reconciled rows. The zero-ID group
// collects items sitting directly under the bill.
type GroupedPackage struct {
	Package *Package
	Items   []CertifiedLineItem
}

// GroupedBill holds one bill's packages.
type GroupedBill struct {
	Bill     Bill
	Packages []GroupedPackage
}

// GroupedStructure holds one structure's bills.
type GroupedStructure struct {
	Structure Structure
	Bills     []GroupedBill
}

// CertificateView is the full document context for one certificate:
// contract rows under the hierarchy, and special/addendum rows listed
// apart.
type CertificateView struct {
	Contract []GroupedStructure
	Addendum []CertifiedLineItem
	Special  []CertifiedLineItem
}

// GroupRows splits reconciled rows into the document layout.
func GroupRows(ctx context.Context, store Store, projectID ProjectID, rows []CertifiedLineItem) (*CertificateView, error) {
	structures, err := store.ListStructures(ctx, projectID)
	if err != nil {
		return nil, err
	}
	bills, err := store.ListBills(ctx, projectID)
	if err != nil {
		return nil, err
	}
	packages, err := store.ListPackages(ctx, projectID)
	if err != nil {
		return nil, err
	}

	packageByID := make(map[PackageID]Package, len(packages))
	for _, p := range packages {
		packageByID[p.ID] = p
	}

	view := &CertificateView{}

	// Bucket contract rows by structure/bill/package, preserving input
	// (row_index) order within each bucket.
	type billKey struct {
		structure StructureID
		bill      BillID
	}
	type pkgKey struct {
		bk  billKey
		pkg PackageID // empty for items directly under the bill
	}
	buckets := make(map[pkgKey][]CertifiedLineItem)

	for _, row := range rows {
		item := row.Item
		switch {
		case item.SpecialItem:
			view.Special = append(view.Special, row)
		case item.Addendum:
			view.Addendum = append(view.Addendum, row)
		default:
			if item.StructureID == nil || item.BillID == nil {
				continue
			}
			k := pkgKey{bk: billKey{structure: *item.StructureID, bill: *item.BillID}}
			if item.PackageID != nil {
				k.pkg = *item.PackageID
			}
			buckets[k] = append(buckets[k], row)
		}
	}

	// Walk the hierarchy in its stored order so the document layout is
	// stable regardless of map iteration.
	billsByStructure := make(map[StructureID][]Bill)
	for _, b := range bills {
		billsByStructure[b.StructureID] = append(billsByStructure[b.StructureID], b)
	}
	packagesByBill := make(map[BillID][]Package)
	for _, p := range packages {
		packagesByBill[p.BillID] = append(packagesByBill[p.BillID], p)
	}

	for _, s := range structures {
		gs := GroupedStructure{Structure: s}
		for _, b := range billsByStructure[s.ID] {
			gb := GroupedBill{Bill: b}
			if items := buckets[pkgKey{bk: billKey{structure: s.ID, bill: b.ID}}]; len(items) > 0 {
				gb.Packages = append(gb.Packages, GroupedPackage{Items: items})
			}
			for _, p := range packagesByBill[b.ID] {
				k := pkgKey{bk: billKey{structure: s.ID, bill: b.ID}, pkg: p.ID}
				if items := buckets[k]; len(items) > 0 {
					pkg := p
					gb.Packages = append(gb.Packages, GroupedPackage{Package: &pkg, Items: items})
				}
			}
			if len(gb.Packages) > 0 {
				gs.Bills = append(gs.Bills, gb)
			}
		}
		if len(gs.Bills) > 0 {
			view.Contract = append(view.Contract, gs)
		}
	}
	return view, nil
}
