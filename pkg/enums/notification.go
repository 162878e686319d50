package enums

import "fmt"

// NotificationType identifies which kind of entity change produced a notification.
// The value is also the prefix of the notification unique key.
type NotificationType string

const (
	NotificationTypeStuckReclamation     NotificationType = "stuck_reclamation"
	NotificationTypePendingReport        NotificationType = "pending_report"
	NotificationTypeMaterialShortage     NotificationType = "material_shortage"
	NotificationTypeNewReclamation       NotificationType = "new_reclamation"
	NotificationTypeCompletedReclamation NotificationType = "completed_reclamation"
	NotificationTypeProblemReclamation   NotificationType = "problem_reclamation"
	NotificationTypeNewComplaint         NotificationType = "new_complaint"
	NotificationTypeReportRejected       NotificationType = "report_rejected"
	NotificationTypeReportAccepted       NotificationType = "report_accepted"
	NotificationTypeComplaintVerified    NotificationType = "complaint_verified"
	NotificationTypeDefault              NotificationType = "default"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeStuckReclamation,
	NotificationTypePendingReport,
	NotificationTypeMaterialShortage,
	NotificationTypeNewReclamation,
	NotificationTypeCompletedReclamation,
	NotificationTypeProblemReclamation,
	NotificationTypeNewComplaint,
	NotificationTypeReportRejected,
	NotificationTypeReportAccepted,
	NotificationTypeComplaintVerified,
	NotificationTypeDefault,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
