/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY FIELDS:
  Quantities and amounts are serialized as decimal strings, never
  floats. Clients that want numbers can parse; clients that re-submit
  get round-trip safety.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/contract.go: ContractJSON for contract import bodies
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/certificate-engine/boq"
)

// =============================================================================
// PROJECT TYPES
// =============================================================================

// ProjectDTO represents a project in API responses.
type ProjectDTO struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Status             string  `json:"status"`
	StartDate          *string `json:"start_date,omitempty"`
	EndDate            *string `json:"end_date,omitempty"`
	ContractValue      string  `json:"contract_value"`
	FinalCertificateID *string `json:"final_certificate_id,omitempty"`
	CreatedAt          string  `json:"created_at,omitempty"`
}

// CreateProjectRequest is the request to create a project.
type CreateProjectRequest struct {
	Name          string  `json:"name"`
	StartDate     *string `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate       *string `json:"end_date,omitempty"`   // YYYY-MM-DD
	ContractValue string  `json:"contract_value,omitempty"`
}

// ProjectSummaryDTO is the project dashboard view.
type ProjectSummaryDTO struct {
	ContractValue   string `json:"contract_value"`
	TotalClaimed    string `json:"total_claimed"`
	ActiveClaim     string `json:"active_claim"`
	RemainingAmount string `json:"remaining_amount"`
}

// =============================================================================
// LINE ITEM TYPES
// =============================================================================

// LineItemDTO represents one bill-of-quantities row.
type LineItemDTO struct {
	ID               string `json:"id"`
	RowIndex         int    `json:"row_index"`
	ItemNumber       string `json:"item_number"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Description      string `json:"description"`
	UnitMeasurement  string `json:"unit,omitempty"`
	IsWork           bool   `json:"is_work"`
	UnitPrice        string `json:"unit_price"`
	BudgetedQuantity string `json:"budgeted_quantity"`
	TotalPrice       string `json:"total_price"`
	Addendum         bool   `json:"addendum,omitempty"`
	SpecialItem      bool   `json:"special_item,omitempty"`
}

// RegisterAddendumRequest adds post-signature scope.
type RegisterAddendumRequest struct {
	StructureID      string  `json:"structure_id"`
	BillID           string  `json:"bill_id"`
	PackageID        *string `json:"package_id,omitempty"`
	ItemNumber       string  `json:"item_number"`
	PaymentReference string  `json:"payment_reference,omitempty"`
	Description      string  `json:"description"`
	Unit             string  `json:"unit,omitempty"`
	BudgetedQuantity string  `json:"budgeted_quantity"`
	UnitPrice        string  `json:"unit_price"`
}

// RegisterSpecialRequest adds a lump-sum item.
type RegisterSpecialRequest struct {
	ItemNumber  string `json:"item_number"`
	Description string `json:"description"`
	TotalPrice  string `json:"total_price"`
}

// ImportResultDTO reports a contract import.
type ImportResultDTO struct {
	ItemsCreated int `json:"items_created"`
}

// =============================================================================
// CERTIFICATE TYPES
// =============================================================================

// CertificateDTO represents a payment certificate.
type CertificateDTO struct {
	ID                string  `json:"id"`
	ProjectID         string  `json:"project_id"`
	CertificateNumber int     `json:"certificate_number"`
	Status            string  `json:"status"`
	Notes             string  `json:"notes,omitempty"`
	IsFinal           bool    `json:"is_final,omitempty"`
	ApprovedOn        *string `json:"approved_on,omitempty"`
	ApprovedBy        string  `json:"approved_by,omitempty"`
	CreatedAt         string  `json:"created_at,omitempty"`
}

// CertificateTotalsDTO carries the headline money figures.
type CertificateTotalsDTO struct {
	TotalAmount         string `json:"total_amount"`
	ItemsSubmitted      string `json:"items_submitted"`
	ItemsClaimed        string `json:"items_claimed"`
	ProgressivePrevious string `json:"progressive_previous"`
	CurrentClaimTotal   string `json:"current_claim_total"`
	ProgressiveToDate   string `json:"progressive_to_date"`
}

// AggregateDTO is one previous/current/total triple. Absent sides are
// null, not zero: "never claimed" and "claimed zero" are different
// answers.
type AggregateDTO struct {
	Previous *string `json:"previous"`
	Current  *string `json:"current"`
	Total    *string `json:"total"`
}

// CertifiedRowDTO is one reconciled certificate row.
type CertifiedRowDTO struct {
	Item     LineItemDTO  `json:"item"`
	Value    AggregateDTO `json:"value"`
	Quantity AggregateDTO `json:"quantity"`
}

// ApproveRequest carries approval metadata.
type ApproveRequest struct {
	ApprovedBy string `json:"approved_by"`
	IsFinal    bool   `json:"is_final,omitempty"`
}

// RejectRequest carries the rejection note.
type RejectRequest struct {
	Note string `json:"note,omitempty"`
}

// =============================================================================
// QUANTITY EDITING TYPES
// =============================================================================

// QuantityEntryDTO is one row of a bulk quantity submission. Value is
// the raw cumulative entry; blank deletes, garbage is skipped.
type QuantityEntryDTO struct {
	LineItemID    string `json:"line_item_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Value         string `json:"value"`
}

// ApplyQuantitiesRequest is a bulk quantity submission.
type ApplyQuantitiesRequest struct {
	CapturedBy string             `json:"captured_by,omitempty"`
	Entries    []QuantityEntryDTO `json:"entries"`
}

// SkippedRowDTO explains one entry that produced no change.
type SkippedRowDTO struct {
	LineItemID    string `json:"line_item_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Value         string `json:"value"`
	Reason        string `json:"reason"`
}

// EditSummaryDTO reports what one bulk submission did.
type EditSummaryDTO struct {
	Created int             `json:"created"`
	Updated int             `json:"updated"`
	Deleted int             `json:"deleted"`
	Skipped []SkippedRowDTO `json:"skipped,omitempty"`
}

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// EmailDocumentsRequest asks for the approved certificate's documents
// to be mailed out.
type EmailDocumentsRequest struct {
	Recipients []string `json:"recipients"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toProjectDTO(p boq.Project) ProjectDTO {
	dto := ProjectDTO{
		ID:            string(p.ID),
		Name:          p.Name,
		Status:        string(p.Status),
		ContractValue: p.ContractValue.String(),
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
	if p.StartDate != nil {
		s := p.StartDate.Format("2006-01-02")
		dto.StartDate = &s
	}
	if p.EndDate != nil {
		s := p.EndDate.Format("2006-01-02")
		dto.EndDate = &s
	}
	if p.FinalCertificateID != nil {
		s := string(*p.FinalCertificateID)
		dto.FinalCertificateID = &s
	}
	return dto
}

func toLineItemDTO(li boq.LineItem) LineItemDTO {
	return LineItemDTO{
		ID:               string(li.ID),
		RowIndex:         li.RowIndex,
		ItemNumber:       li.ItemNumber,
		PaymentReference: li.PaymentReference,
		Description:      li.Description,
		UnitMeasurement:  li.UnitMeasurement,
		IsWork:           li.IsWork,
		UnitPrice:        li.UnitPrice.String(),
		BudgetedQuantity: li.BudgetedQuantity.String(),
		TotalPrice:       li.TotalPrice.String(),
		Addendum:         li.Addendum,
		SpecialItem:      li.SpecialItem,
	}
}

func toCertificateDTO(c boq.PaymentCertificate) CertificateDTO {
	dto := CertificateDTO{
		ID:                string(c.ID),
		ProjectID:         string(c.ProjectID),
		CertificateNumber: c.CertificateNumber,
		Status:            string(c.Status),
		Notes:             c.Notes,
		IsFinal:           c.IsFinal,
		ApprovedBy:        c.ApprovedBy,
		CreatedAt:         c.CreatedAt.Format(time.RFC3339),
	}
	if c.ApprovedOn != nil {
		s := c.ApprovedOn.Format(time.RFC3339)
		dto.ApprovedOn = &s
	}
	return dto
}

func toAggregateDTO(a boq.Aggregate) AggregateDTO {
	return AggregateDTO{
		Previous: decimalPtr(a.Previous),
		Current:  decimalPtr(a.Current),
		Total:    decimalPtr(a.Total),
	}
}

func toCertifiedRowDTO(row boq.CertifiedLineItem) CertifiedRowDTO {
	return CertifiedRowDTO{
		Item:     toLineItemDTO(row.Item),
		Value:    toAggregateDTO(row.Value),
		Quantity: toAggregateDTO(row.Quantity),
	}
}

func toTotalsDTO(t boq.CertificateTotals) CertificateTotalsDTO {
	return CertificateTotalsDTO{
		TotalAmount:         t.TotalAmount.String(),
		ItemsSubmitted:      t.ItemsSubmitted.String(),
		ItemsClaimed:        t.ItemsClaimed.String(),
		ProgressivePrevious: t.ProgressivePrevious.String(),
		CurrentClaimTotal:   t.CurrentClaimTotal.String(),
		ProgressiveToDate:   t.ProgressiveToDate.String(),
	}
}

func toEditSummaryDTO(s boq.EditSummary) EditSummaryDTO {
	dto := EditSummaryDTO{Created: s.Created, Updated: s.Updated, Deleted: s.Deleted}
	for _, sk := range s.Skipped {
		dto.Skipped = append(dto.Skipped, SkippedRowDTO{
			LineItemID:    string(sk.Entry.LineItemID),
			TransactionID: string(sk.Entry.TransactionID),
			Value:         sk.Entry.Raw,
			Reason:        sk.Reason,
		})
	}
	return dto
}

func decimalPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
