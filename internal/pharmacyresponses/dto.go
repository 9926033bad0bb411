package pharmacyresponses

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

// SubmitInput is a pharmacy's answer to an open request.
type SubmitInput struct {
	HasStock bool
	Price    *decimal.Decimal
	Notes    *string
}

type ResponseDTO struct {
	ID             uuid.UUID        `json:"id"`
	PrescriptionID uuid.UUID        `json:"prescription_id"`
	PharmacyID     uuid.UUID        `json:"pharmacy_id"`
	HasStock       bool             `json:"has_stock"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	ResponseDate   time.Time        `json:"response_date"`
	Notes          *string          `json:"notes,omitempty"`
}

// SubmitResult reports the stored response and where the prescription ended up.
type SubmitResult struct {
	Response           ResponseDTO              `json:"response"`
	PrescriptionStatus enums.PrescriptionStatus `json:"prescription_status"`
	Outcome            string                   `json:"outcome"`
}

func fromModel(row models.PharmacyResponse) ResponseDTO {
	dto := ResponseDTO{
		ID:             row.ID,
		PrescriptionID: row.PrescriptionID,
		PharmacyID:     row.PharmacyID,
		HasStock:       row.HasStock,
		ResponseDate:   row.ResponseDate,
		Notes:          row.Notes,
	}
	if row.Price.Valid {
		price := row.Price.Decimal
		dto.Price = &price
	}
	return dto
}

func fromModels(rows []models.PharmacyResponse) []ResponseDTO {
	out := make([]ResponseDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromModel(row))
	}
	return out
}
