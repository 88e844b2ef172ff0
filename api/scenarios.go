/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates a project, a bill of
	quantities, and certificates demonstrating specific engine features.

AVAILABLE SCENARIOS:

	fresh-contract:  Imported contract, no claims yet
	mid-claim:       First certificate approved, second draft in progress
	rejected-cycle:  A submitted claim bounced back for correction
	final-account:   Contract closed out with a final certificate

HOW SCENARIOS WORK:
 1. Create a project
 2. Import a small bill of quantities via the registry
 3. Open certificates and capture quantities via the editor
 4. Drive the lifecycle to the scenario's end state

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "mid-claim"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios create fresh projects alongside existing data. Only use in
	development/demo environments.

SEE ALSO:
  - handlers.go: shared handler context and error helpers
  - factory/contract.go: contract JSON parsing used by the loaders
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/certificate-engine/boq"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-contract",
		Name:        "Fresh Contract",
		Description: "Imported bill of quantities, no claims captured yet",
	},
	{
		ID:          "mid-claim",
		Name:        "Mid Claim",
		Description: "Certificate #1 approved, certificate #2 draft with partial claims",
	},
	{
		ID:          "rejected-cycle",
		Name:        "Rejected Cycle",
		Description: "A submitted certificate rejected for correction",
	},
	{
		ID:          "final-account",
		Name:        "Final Account",
		Description: "Contract closed out with an approved final certificate",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
}

// LoadScenario loads a predefined scenario and returns the project it
// created.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	var project *boq.Project
	var err error

	switch req.ScenarioID {
	case "fresh-contract":
		project, err = h.loadFreshContract(ctx)
	case "mid-claim":
		project, err = h.loadMidClaim(ctx)
	case "rejected-cycle":
		project, err = h.loadRejectedCycle(ctx)
	case "final-account":
		project, err = h.loadFinalAccount(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, toProjectDTO(*project))
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadFreshContract creates a project with a small imported bill of
// quantities and nothing claimed.
func (h *Handler) loadFreshContract(ctx context.Context) (*boq.Project, error) {
	project := &boq.Project{
		ID:            boq.ProjectID(boq.NewID()),
		Name:          "Riverside Apartments",
		Status:        boq.ProjectActive,
		ContractValue: decimal.NewFromInt(500000),
	}
	if err := h.Store.SaveProject(ctx, project); err != nil {
		return nil, err
	}
	if _, err := h.Registry.ImportContract(ctx, project.ID, demoContract()); err != nil {
		return nil, err
	}
	return project, nil
}

// loadMidClaim runs one full claim cycle and leaves a second draft with
// partial quantities captured.
func (h *Handler) loadMidClaim(ctx context.Context) (*boq.Project, error) {
	project, err := h.loadFreshContract(ctx)
	if err != nil {
		return nil, err
	}
	project.Name = "Harbour View Offices"
	if err := h.Store.SaveProject(ctx, project); err != nil {
		return nil, err
	}

	items, err := h.Store.ListLineItems(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	// Cycle one: claim, submit, approve.
	cert1, err := h.Lifecycle.NewCertificate(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if err := h.captureQuantities(ctx, cert1.ID, items, "400"); err != nil {
		return nil, err
	}
	if _, err := h.Lifecycle.Submit(ctx, cert1.ID); err != nil {
		return nil, err
	}
	if _, err := h.Lifecycle.Approve(ctx, cert1.ID, "demo.engineer", false); err != nil {
		return nil, err
	}

	// Cycle two: draft with a cumulative entry above the first claim.
	cert2, err := h.Lifecycle.NewCertificate(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if err := h.captureQuantities(ctx, cert2.ID, items, "650"); err != nil {
		return nil, err
	}
	return project, nil
}

// loadRejectedCycle leaves a certificate in REJECTED with a note.
func (h *Handler) loadRejectedCycle(ctx context.Context) (*boq.Project, error) {
	project, err := h.loadFreshContract(ctx)
	if err != nil {
		return nil, err
	}
	project.Name = "Northgate Warehouse"
	if err := h.Store.SaveProject(ctx, project); err != nil {
		return nil, err
	}

	items, err := h.Store.ListLineItems(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	cert, err := h.Lifecycle.NewCertificate(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if err := h.captureQuantities(ctx, cert.ID, items, "900"); err != nil {
		return nil, err
	}
	if _, err := h.Lifecycle.Submit(ctx, cert.ID); err != nil {
		return nil, err
	}
	if _, err := h.Lifecycle.Reject(ctx, cert.ID, "Claimed quantities exceed measured work on site"); err != nil {
		return nil, err
	}
	return project, nil
}

// loadFinalAccount approves an ordinary certificate and then a final
// one, closing the project out.
func (h *Handler) loadFinalAccount(ctx context.Context) (*boq.Project, error) {
	project, err := h.loadFreshContract(ctx)
	if err != nil {
		return nil, err
	}
	project.Name = "Southfield Clinic"
	if err := h.Store.SaveProject(ctx, project); err != nil {
		return nil, err
	}

	items, err := h.Store.ListLineItems(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	cert1, err := h.Lifecycle.NewCertificate(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if err := h.captureQuantities(ctx, cert1.ID, items, "700"); err != nil {
		return nil, err
	}
	if _, err := h.Lifecycle.Submit(ctx, cert1.ID); err != nil {
		return nil, err
	}
	if _, err := h.Lifecycle.Approve(ctx, cert1.ID, "demo.engineer", false); err != nil {
		return nil, err
	}

	final, err := h.Lifecycle.NewCertificate(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if err := h.captureQuantities(ctx, final.ID, items, "1000"); err != nil {
		return nil, err
	}
	if _, err := h.Lifecycle.Submit(ctx, final.ID); err != nil {
		return nil, err
	}
	if _, err := h.Lifecycle.Approve(ctx, final.ID, "demo.engineer", true); err != nil {
		return nil, err
	}

	return h.Store.GetProject(ctx, project.ID)
}

// captureQuantities enters the given cumulative quantity against every
// work row of the contract.
func (h *Handler) captureQuantities(ctx context.Context, certID boq.CertificateID, items []boq.LineItem, cumulative string) error {
	var entries []boq.QuantityEntry
	for _, li := range items {
		if !li.IsWork {
			continue
		}
		entries = append(entries, boq.QuantityEntry{LineItemID: li.ID, Raw: cumulative})
	}
	_, err := h.Editor.Apply(ctx, certID, entries, "demo.qs")
	return err
}

// demoContract is the small bill of quantities every scenario starts
// from: one structure, two bills, a package, and a heading row.
func demoContract() boq.ContractInput {
	work := func(number, desc, unit, qty, price string) boq.ItemInput {
		return boq.ItemInput{
			ItemNumber:       number,
			Description:      desc,
			UnitMeasurement:  unit,
			IsWork:           true,
			BudgetedQuantity: decimal.RequireFromString(qty),
			UnitPrice:        decimal.RequireFromString(price),
		}
	}
	return boq.ContractInput{
		Structures: []boq.StructureInput{
			{
				Name:        "Main Building",
				Description: "Primary works",
				Bills: []boq.BillInput{
					{
						Name: "Earthworks",
						Items: []boq.ItemInput{
							{ItemNumber: "1", Description: "EARTHWORKS GENERALLY", IsWork: false},
							work("1.1", "Bulk excavation", "m3", "2000", "85.50"),
							work("1.2", "Backfill and compact", "m3", "1500", "42.00"),
						},
					},
					{
						Name: "Concrete",
						Items: []boq.ItemInput{
							work("2.1", "Surface beds, 25MPa", "m3", "1200", "1450.00"),
						},
						Packages: []boq.PackageInput{
							{
								Name: "Reinforcement",
								Items: []boq.ItemInput{
									work("2.2", "High tensile rebar", "t", "1000", "18500.00"),
								},
							},
						},
					},
				},
			},
		},
	}
}
