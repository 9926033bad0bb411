// Package prescriptions owns the prescription state machine, its read
// visibility rules, and the patient, pharmacy, rider and admin operations that
// move a prescription through it.
package prescriptions

import (
	"fmt"

	"github.com/rxdispatch/rxdispatch-backend/internal/identity"
	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	"github.com/rxdispatch/rxdispatch-backend/pkg/db/models"
	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
)

// Transition is one allowed edge of the lifecycle.
type Transition struct {
	From  enums.PrescriptionStatus
	To    enums.PrescriptionStatus
	Actor enums.UserRole
	// RequiresOwnRider limits the edge to the rider recorded in rider_id.
	RequiresOwnRider bool
	// RequiresUnassigned limits the edge to rows with no rider yet.
	RequiresUnassigned bool
}

var nonTerminal = []enums.PrescriptionStatus{
	enums.PrescriptionStatusPending,
	enums.PrescriptionStatusAssigned,
	enums.PrescriptionStatusPickedUp,
	enums.PrescriptionStatusAwaitingPharmacyResponse,
	enums.PrescriptionStatusPharmacyConfirmed,
}

// Transitions is the complete lifecycle table; anything absent is refused.
var Transitions = buildTransitions()

func buildTransitions() []Transition {
	table := []Transition{
		{From: enums.PrescriptionStatusAwaitingPharmacyResponse, To: enums.PrescriptionStatusPharmacyConfirmed, Actor: enums.UserRolePharmacy},
		{From: enums.PrescriptionStatusAwaitingPharmacyResponse, To: enums.PrescriptionStatusAwaitingPharmacyResponse, Actor: enums.UserRolePharmacy},
		{From: enums.PrescriptionStatusPending, To: enums.PrescriptionStatusAssigned, Actor: enums.UserRoleRider, RequiresUnassigned: true},
		{From: enums.PrescriptionStatusAssigned, To: enums.PrescriptionStatusPickedUp, Actor: enums.UserRoleRider, RequiresOwnRider: true},
		{From: enums.PrescriptionStatusPickedUp, To: enums.PrescriptionStatusDelivered, Actor: enums.UserRoleRider, RequiresOwnRider: true},
	}
	for _, from := range nonTerminal {
		table = append(table, Transition{From: from, To: enums.PrescriptionStatusRejected, Actor: enums.UserRoleAdmin})
	}
	return table
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status enums.PrescriptionStatus) bool {
	return status == enums.PrescriptionStatusDelivered || status == enums.PrescriptionStatusRejected
}

// InitialStatus maps the configured fulfillment flow to the status new uploads start in.
func InitialStatus(flow string) enums.PrescriptionStatus {
	if flow == config.FlowDirect {
		return enums.PrescriptionStatusPending
	}
	return enums.PrescriptionStatusAwaitingPharmacyResponse
}

// CheckTransition decides whether p may move rx to the target status. A pair
// missing from the table is a state conflict; a pair present for another actor
// is a permission error.
func CheckTransition(p identity.Principal, rx *models.Prescription, to enums.PrescriptionStatus) error {
	if p.IsZero() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	if p.IsBlocked {
		return pkgerrors.New(pkgerrors.CodeForbidden, "account blocked")
	}

	var candidates []Transition
	for _, t := range Transitions {
		if t.From == rx.Status && t.To == to {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move prescription from %s to %s", rx.Status, to))
	}

	for _, t := range candidates {
		if t.Actor != p.Role {
			continue
		}
		if t.RequiresOwnRider && (rx.RiderID == nil || *rx.RiderID != p.ID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "prescription is assigned to another rider")
		}
		if t.RequiresUnassigned && rx.RiderID != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "prescription is no longer available")
		}
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("role %s may not move prescription from %s to %s", p.Role, rx.Status, to))
}
