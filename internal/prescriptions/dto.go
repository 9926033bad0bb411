package prescriptions

import (
	"time"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	"github.com/rxdispatch/rxdispatch-backend/pkg/pagination"
)

// PrescriptionDTO is the API shape of a prescription.
type PrescriptionDTO struct {
	ID         uuid.UUID                `json:"id"`
	UserID     uuid.UUID                `json:"user_id"`
	ImageURL   *string                  `json:"image_url,omitempty"`
	Status     enums.PrescriptionStatus `json:"status"`
	UploadDate time.Time                `json:"upload_date"`
	Notes      *string                  `json:"notes,omitempty"`
	RiderID    *uuid.UUID               `json:"rider_id,omitempty"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

func FromModel(rx models.Prescription) PrescriptionDTO {
	return PrescriptionDTO{
		ID:         rx.ID,
		UserID:     rx.UserID,
		ImageURL:   rx.ImageURL,
		Status:     rx.Status,
		UploadDate: rx.UploadDate,
		Notes:      rx.Notes,
		RiderID:    rx.RiderID,
		UpdatedAt:  rx.UpdatedAt,
	}
}

// PageOf trims the look-ahead row and maps the rest.
func PageOf(rows []models.Prescription, limit int) pagination.Page[PrescriptionDTO] {
	page := pagination.BuildPage(rows, limit, CursorOf)
	out := pagination.Page[PrescriptionDTO]{
		Items:      make([]PrescriptionDTO, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, row := range page.Items {
		out.Items = append(out.Items, FromModel(row))
	}
	return out
}
