package identity

import (
	"fmt"

	"github.com/rxdispatch/rxdispatch-backend/pkg/enums"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
)

// Operation names a guarded action.
type Operation string

const (
	OpViewSession          Operation = "session.view"
	OpUploadPrescription   Operation = "prescription.upload"
	OpSearchRequest        Operation = "prescription.search_request"
	OpListOwnPrescriptions Operation = "prescription.list_own"
	OpViewPrescription     Operation = "prescription.view"
	OpViewOffers           Operation = "prescription.view_offers"
	OpListPharmacyRequests Operation = "pharmacy.list_requests"
	OpSubmitResponse       Operation = "pharmacy.submit_response"
	OpRegisterPharmacy     Operation = "pharmacy.register"
	OpListClaimable        Operation = "rider.list_claimable"
	OpListOwnTasks         Operation = "rider.list_tasks"
	OpClaimTask            Operation = "rider.claim"
	OpProgressTask         Operation = "rider.progress"
	OpViewDashboard        Operation = "admin.dashboard"
	OpListUsers            Operation = "admin.list_users"
	OpBlockUser            Operation = "admin.block_user"
	OpChangeUserRole       Operation = "admin.change_role"
	OpListPharmacies       Operation = "admin.list_pharmacies"
	OpVerifyPharmacy       Operation = "admin.verify_pharmacy"
	OpListAllPrescriptions Operation = "admin.list_prescriptions"
	OpRejectPrescription   Operation = "admin.reject_prescription"
	OpListResponses        Operation = "admin.list_responses"
	OpViewAuditLog         Operation = "admin.audit_log"
	OpSuggestMedicines     Operation = "medicines.suggest"
	OpSubscribeRealtime    Operation = "realtime.subscribe"
	OpReadNotifications    Operation = "notifications.read"
)

var (
	allRoles    = []enums.UserRole{enums.UserRolePatient, enums.UserRoleRider, enums.UserRoleAdmin, enums.UserRolePharmacy, enums.UserRoleDoctor, enums.UserRoleCaregiver}
	requesters  = []enums.UserRole{enums.UserRolePatient, enums.UserRoleDoctor, enums.UserRoleCaregiver}
	adminOnly   = []enums.UserRole{enums.UserRoleAdmin}
	pharmacyOps = []enums.UserRole{enums.UserRolePharmacy}
	riderOps    = []enums.UserRole{enums.UserRoleRider}
)

// capabilities is the only place roles are mapped to operations.
var capabilities = map[Operation][]enums.UserRole{
	OpViewSession:          allRoles,
	OpUploadPrescription:   requesters,
	OpSearchRequest:        requesters,
	OpListOwnPrescriptions: requesters,
	OpViewPrescription:     allRoles,
	OpViewOffers:           append(append([]enums.UserRole{}, requesters...), enums.UserRoleAdmin),
	OpListPharmacyRequests: pharmacyOps,
	OpSubmitResponse:       pharmacyOps,
	OpRegisterPharmacy:     {enums.UserRolePharmacy, enums.UserRoleAdmin},
	OpListClaimable:        riderOps,
	OpListOwnTasks:         riderOps,
	OpClaimTask:            riderOps,
	OpProgressTask:         riderOps,
	OpViewDashboard:        adminOnly,
	OpListUsers:            adminOnly,
	OpBlockUser:            adminOnly,
	OpChangeUserRole:       adminOnly,
	OpListPharmacies:       adminOnly,
	OpVerifyPharmacy:       adminOnly,
	OpListAllPrescriptions: adminOnly,
	OpRejectPrescription:   adminOnly,
	OpListResponses:        adminOnly,
	OpViewAuditLog:         adminOnly,
	OpSuggestMedicines:     allRoles,
	OpSubscribeRealtime:    allRoles,
	OpReadNotifications:    allRoles,
}

// Can reports whether the principal may perform op. Blocked principals can do
// nothing.
func Can(p Principal, op Operation) bool {
	if p.IsZero() || p.IsBlocked {
		return false
	}
	for _, role := range capabilities[op] {
		if role == p.Role {
			return true
		}
	}
	return false
}

// Require returns the error a caller should surface when Can is false.
func Require(p Principal, op Operation) error {
	switch {
	case p.IsZero():
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	case p.IsBlocked:
		return pkgerrors.New(pkgerrors.CodeForbidden, "account blocked")
	case !Can(p, op):
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("role %s may not perform %s", p.Role, op))
	}
	return nil
}
