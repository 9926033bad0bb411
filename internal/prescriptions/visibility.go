package prescriptions

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/internal/realtime"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
)

// readsAsOwner lists the roles that only ever see their own prescriptions.
func readsAsOwner(role enums.UserRole) bool {
	switch role {
	case enums.UserRolePatient, enums.UserRoleDoctor, enums.UserRoleCaregiver:
		return true
	}
	return false
}

// Visible is the in-memory form of VisibilityScope; the two must agree.
func Visible(p identity.Principal, rx *models.Prescription) bool {
	if rx == nil || p.IsZero() || p.IsBlocked {
		return false
	}
	switch {
	case p.Is(enums.UserRoleAdmin):
		return true
	case readsAsOwner(p.Role):
		return rx.UserID == p.ID
	case p.Is(enums.UserRoleRider):
		if rx.RiderID != nil {
			return *rx.RiderID == p.ID
		}
		return rx.Status == enums.PrescriptionStatusPending
	case p.Is(enums.UserRolePharmacy):
		// Every open request system-wide; a geo scope would narrow it here and in VisibilityScope.
		return rx.Status == enums.PrescriptionStatusAwaitingPharmacyResponse
	}
	return false
}

// VisibilityScope restricts a prescriptions query to rows p may read.
func VisibilityScope(p identity.Principal) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if p.IsZero() || p.IsBlocked {
			return db.Where("1 = 0")
		}
		switch {
		case p.Is(enums.UserRoleAdmin):
			return db
		case readsAsOwner(p.Role):
			return db.Where("user_id = ?", p.ID)
		case p.Is(enums.UserRoleRider):
			return db.Where("((status = ? AND rider_id IS NULL) OR rider_id = ?)", enums.PrescriptionStatusPending, p.ID)
		case p.Is(enums.UserRolePharmacy):
			return db.Where("status = ?", enums.PrescriptionStatusAwaitingPharmacyResponse)
		}
		return db.Where("1 = 0")
	}
}

// EventVisible applies the read rules to a change event so the websocket feed
// never leaks rows the principal could not fetch.
func EventVisible(p identity.Principal, evt realtime.Event) bool {
	switch evt.Table {
	case realtime.TablePrescriptions:
		return Visible(p, &models.Prescription{
			ID:      evt.RecordID,
			UserID:  evt.OwnerID,
			Status:  evt.Status,
			RiderID: evt.RiderID,
		})
	case realtime.TablePharmacyResponses:
		if p.IsZero() || p.IsBlocked {
			return false
		}
		return p.Is(enums.UserRoleAdmin) || (evt.OwnerID != uuid.Nil && evt.OwnerID == p.ID)
	}
	return false
}
