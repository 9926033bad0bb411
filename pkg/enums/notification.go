package enums

// NotificationType lets clients filter the inbox; it mirrors the
// notifications.type CHECK constraint.
type NotificationType string

const (
	// NotificationPrescriptionUpdate goes to the requester when their
	// prescription changes status.
	NotificationPrescriptionUpdate NotificationType = "prescription_update"
	// NotificationStockRequest goes to every verified pharmacy owner when a
	// new prescription needs quotes.
	NotificationStockRequest NotificationType = "stock_request"
)

func (n NotificationType) IsValid() bool {
	switch n {
	case NotificationPrescriptionUpdate, NotificationStockRequest:
		return true
	}
	return false
}
