/*
handlers.go - HTTP API handlers for the certificate engine

PURPOSE:
  Exposes the payment certificate engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Projects:
    GET    /api/projects                    List all projects
    POST   /api/projects                    Create project
    GET    /api/projects/{id}               Get project details
    GET    /api/projects/{id}/summary       Claimed vs. remaining totals
    GET    /api/projects/{id}/items         List bill-of-quantities rows
    POST   /api/projects/{id}/contract      Import contract (JSON BOQ)
    POST   /api/projects/{id}/addendum      Register addendum item
    POST   /api/projects/{id}/special       Register lump-sum item
    GET    /api/projects/{id}/certificates  List certificates
    POST   /api/projects/{id}/certificates  Open a new draft certificate

  Certificates:
    GET    /api/certificates/{id}            Certificate details
    GET    /api/certificates/{id}/rows       Reconciled rows (prev/current/total)
    GET    /api/certificates/{id}/totals     Headline money figures
    POST   /api/certificates/{id}/quantities Bulk quantity submission
    POST   /api/certificates/{id}/submit     DRAFT -> SUBMITTED
    POST   /api/certificates/{id}/approve    SUBMITTED -> APPROVED
    POST   /api/certificates/{id}/reject     SUBMITTED -> REJECTED
    POST   /api/certificates/{id}/reopen     REJECTED -> DRAFT

  Documents:
    GET    /api/certificates/{id}/documents          Generation status
    GET    /api/certificates/{id}/documents/{kind}   Download (or dispatch)
    POST   /api/certificates/{id}/documents/email    Mail to signatories

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, outside project window
  - 404: Resource not found
  - 409: Lifecycle conflicts (not editable, invalid transition, open
         certificate blocking an operation)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/certificate-engine/boq"
	"github.com/warp/certificate-engine/docgen"
	"github.com/warp/certificate-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       docgen.Store
	Registry    *boq.Registry
	Lifecycle   *boq.Lifecycle
	Editor      *boq.Editor
	Reconciler  *boq.Reconciler
	Coordinator *docgen.Coordinator
	Contracts   *factory.ContractFactory
	Notifier    docgen.Notifier

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the domain services around one store and document
// coordinator.
func NewHandler(store docgen.Store, coordinator *docgen.Coordinator) *Handler {
	return &Handler{
		Store:       store,
		Registry:    &boq.Registry{Store: store},
		Lifecycle:   &boq.Lifecycle{Store: store, Docs: coordinator},
		Editor:      &boq.Editor{Store: store},
		Reconciler:  &boq.Reconciler{Store: store},
		Coordinator: coordinator,
		Contracts:   factory.NewContractFactory(),
		Notifier:    docgen.LogNotifier{},
	}
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// ListProjects returns all projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}

	dtos := make([]ProjectDTO, len(projects))
	for i, p := range projects {
		dtos[i] = toProjectDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProject creates a new project.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	project := &boq.Project{
		ID:     boq.ProjectID(boq.NewID()),
		Name:   req.Name,
		Status: boq.ProjectActive,
	}
	if req.StartDate != nil {
		t, err := time.Parse("2006-01-02", *req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
			return
		}
		project.StartDate = &t
	}
	if req.EndDate != nil {
		t, err := time.Parse("2006-01-02", *req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
			return
		}
		project.EndDate = &t
	}
	if req.ContractValue != "" {
		v, err := parseAmount(req.ContractValue)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid contract_value", err)
			return
		}
		project.ContractValue = v
	}

	if err := h.Store.SaveProject(r.Context(), project); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectDTO(*project))
}

// GetProject returns a single project.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.Store.GetProject(r.Context(), boq.ProjectID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get project", err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectDTO(*project))
}

// GetProjectSummary returns claimed vs. remaining contract totals.
func (h *Handler) GetProjectSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := boq.Summarize(r.Context(), h.Store, boq.ProjectID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to summarize project", err)
		return
	}
	writeJSON(w, http.StatusOK, ProjectSummaryDTO{
		ContractValue:   summary.ContractValue.String(),
		TotalClaimed:    summary.TotalClaimed.String(),
		ActiveClaim:     summary.ActiveClaim.String(),
		RemainingAmount: summary.RemainingAmount.String(),
	})
}

// =============================================================================
// LINE ITEM HANDLERS
// =============================================================================

// ListLineItems returns the project's non-retired rows in document order.
func (h *Handler) ListLineItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListLineItems(r.Context(), boq.ProjectID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to list line items", err)
		return
	}

	dtos := make([]LineItemDTO, len(items))
	for i, li := range items {
		dtos[i] = toLineItemDTO(li)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ImportContract replaces the project's contract set from a JSON BOQ.
func (h *Handler) ImportContract(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}
	input, err := h.Contracts.ParseContract(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid contract definition", err)
		return
	}

	created, err := h.Registry.ImportContract(r.Context(), boq.ProjectID(chi.URLParam(r, "id")), *input)
	if err != nil {
		writeDomainError(w, "Failed to import contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, ImportResultDTO{ItemsCreated: created})
}

// RegisterAddendum appends post-signature scope.
func (h *Handler) RegisterAddendum(w http.ResponseWriter, r *http.Request) {
	var req RegisterAddendumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.StructureID == "" || req.BillID == "" {
		writeError(w, http.StatusBadRequest, "structure_id and bill_id are required", nil)
		return
	}

	qty, err := parseAmount(req.BudgetedQuantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid budgeted_quantity", err)
		return
	}
	price, err := parseAmount(req.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid unit_price", err)
		return
	}

	input := boq.AddendumInput{
		StructureID: boq.StructureID(req.StructureID),
		BillID:      boq.BillID(req.BillID),
		Item: boq.ItemInput{
			ItemNumber:       req.ItemNumber,
			PaymentReference: req.PaymentReference,
			Description:      req.Description,
			UnitMeasurement:  req.Unit,
			IsWork:           true,
			BudgetedQuantity: qty,
			UnitPrice:        price,
		},
	}
	if req.PackageID != nil {
		id := boq.PackageID(*req.PackageID)
		input.PackageID = &id
	}

	item, err := h.Registry.RegisterAddendum(r.Context(), boq.ProjectID(chi.URLParam(r, "id")), input)
	if err != nil {
		writeDomainError(w, "Failed to register addendum", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineItemDTO(*item))
}

// RegisterSpecial appends a lump-sum item.
func (h *Handler) RegisterSpecial(w http.ResponseWriter, r *http.Request) {
	var req RegisterSpecialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := parseAmount(req.TotalPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total_price", err)
		return
	}

	item, err := h.Registry.RegisterSpecial(r.Context(), boq.ProjectID(chi.URLParam(r, "id")), boq.SpecialInput{
		ItemNumber:  req.ItemNumber,
		Description: req.Description,
		TotalPrice:  price,
	})
	if err != nil {
		writeDomainError(w, "Failed to register special item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineItemDTO(*item))
}

// =============================================================================
// CERTIFICATE HANDLERS
// =============================================================================

// ListCertificates returns the project's certificates ordered by number.
func (h *Handler) ListCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := h.Store.ListCertificates(r.Context(), boq.ProjectID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to list certificates", err)
		return
	}

	dtos := make([]CertificateDTO, len(certs))
	for i, c := range certs {
		dtos[i] = toCertificateDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCertificate opens a new draft claim cycle.
func (h *Handler) CreateCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := h.Lifecycle.NewCertificate(r.Context(), boq.ProjectID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to create certificate", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCertificateDTO(*cert))
}

// GetCertificate returns certificate details.
func (h *Handler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := h.Store.GetCertificate(r.Context(), boq.CertificateID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get certificate", err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateDTO(*cert))
}

// GetCertificateRows returns the reconciled previous/current/total rows.
func (h *Handler) GetCertificateRows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cert, err := h.Store.GetCertificate(ctx, boq.CertificateID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get certificate", err)
		return
	}

	rows, err := h.Reconciler.CertificateRows(ctx, *cert)
	if err != nil {
		writeDomainError(w, "Failed to reconcile rows", err)
		return
	}

	dtos := make([]CertifiedRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toCertifiedRowDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCertificateTotals returns the headline money figures.
func (h *Handler) GetCertificateTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := boq.Totals(r.Context(), h.Store, boq.CertificateID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to compute totals", err)
		return
	}
	writeJSON(w, http.StatusOK, toTotalsDTO(*totals))
}

// ApplyQuantities applies a bulk quantity submission to a draft.
func (h *Handler) ApplyQuantities(w http.ResponseWriter, r *http.Request) {
	var req ApplyQuantitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entries := make([]boq.QuantityEntry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = boq.QuantityEntry{
			LineItemID:    boq.LineItemID(e.LineItemID),
			TransactionID: boq.TransactionID(e.TransactionID),
			Raw:           e.Value,
		}
	}

	summary, err := h.Editor.Apply(r.Context(), boq.CertificateID(chi.URLParam(r, "id")), entries, req.CapturedBy)
	if err != nil {
		writeDomainError(w, "Failed to apply quantities", err)
		return
	}
	writeJSON(w, http.StatusOK, toEditSummaryDTO(*summary))
}

// SubmitCertificate moves DRAFT -> SUBMITTED.
func (h *Handler) SubmitCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := h.Lifecycle.Submit(r.Context(), boq.CertificateID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to submit certificate", err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateDTO(*cert))
}

// ApproveCertificate moves SUBMITTED -> APPROVED.
func (h *Handler) ApproveCertificate(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if r.Body != nil {
		// Body is optional; a bare approve is fine.
		json.NewDecoder(r.Body).Decode(&req)
	}

	cert, err := h.Lifecycle.Approve(r.Context(), boq.CertificateID(chi.URLParam(r, "id")), req.ApprovedBy, req.IsFinal)
	if err != nil {
		writeDomainError(w, "Failed to approve certificate", err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateDTO(*cert))
}

// RejectCertificate moves SUBMITTED -> REJECTED.
func (h *Handler) RejectCertificate(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	cert, err := h.Lifecycle.Reject(r.Context(), boq.CertificateID(chi.URLParam(r, "id")), req.Note)
	if err != nil {
		writeDomainError(w, "Failed to reject certificate", err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateDTO(*cert))
}

// ReopenCertificate moves REJECTED -> DRAFT for correction.
func (h *Handler) ReopenCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := h.Lifecycle.Reopen(r.Context(), boq.CertificateID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to reopen certificate", err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateDTO(*cert))
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// GetDocumentStatus reports generation state for polling clients.
func (h *Handler) GetDocumentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Coordinator.Status(r.Context(), boq.CertificateID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get document status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// DownloadDocument serves a rendered document, or dispatches generation.
// GET /api/certificates/{id}/documents/{kind}?force=true
func (h *Handler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be 'full' or 'abridged'", nil)
		return
	}
	force := r.URL.Query().Get("force") == "true"

	result, err := h.Coordinator.Download(r.Context(), boq.CertificateID(chi.URLParam(r, "id")), kind, force)
	if err != nil {
		writeDomainError(w, "Failed to download document", err)
		return
	}

	switch result.State {
	case docgen.DownloadReady:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		w.Write(result.Data)
	default:
		// Generation is in flight (or was just dispatched); the client
		// polls the status endpoint and retries.
		writeJSON(w, http.StatusAccepted, map[string]string{"state": string(result.State)})
	}
}

// EmailDocuments mails the approved certificate's documents out.
func (h *Handler) EmailDocuments(w http.ResponseWriter, r *http.Request) {
	var req EmailDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Recipients) == 0 {
		writeError(w, http.StatusBadRequest, "recipients is required", nil)
		return
	}

	err := h.Coordinator.EmailSignatories(r.Context(), h.Notifier, boq.CertificateID(chi.URLParam(r, "id")), req.Recipients)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
	case errors.Is(err, boq.ErrDocumentNotReady), errors.Is(err, boq.ErrDocumentMissing):
		// Generation has been arranged; retry once documents exist.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "generating"})
	default:
		writeDomainError(w, "Failed to email documents", err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, boq.ErrNegativeValue
	}
	return d, nil
}

func parseKind(s string) (boq.DocumentKind, bool) {
	switch s {
	case "full":
		return boq.DocumentFull, true
	case "abridged":
		return boq.DocumentAbridged, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case boq.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, boq.ErrOutsideProjectWindow),
		errors.Is(err, boq.ErrNegativeValue),
		errors.Is(err, boq.ErrSpecialItemHierarchy):
		writeError(w, http.StatusBadRequest, message, err)
	case boq.IsClientError(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
