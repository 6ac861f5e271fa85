package services

import (
	"log"

	"github.com/jmoiron/sqlx"

	"tadgo-backend/internal/models"
)

// PushNotifier resolves FCM device tokens from Postgres and pushes through
// the messaging client. Safe to construct with a nil FCMService: every method
// degrades to a log line, matching how the rest of the app treats push as
// optional.
type PushNotifier struct {
	db  *sqlx.DB
	fcm *FCMService
}

func NewPushNotifier(db *sqlx.DB, fcm *FCMService) *PushNotifier {
	return &PushNotifier{db: db, fcm: fcm}
}

// TokensForUser returns every registered device token for one user.
func (n *PushNotifier) TokensForUser(userID string) ([]string, error) {
	var tokens []string
	err := n.db.Select(&tokens, "SELECT token FROM fcm_tokens WHERE user_id = $1", userID)
	return tokens, err
}

// TokensForRole returns device tokens for every active user holding role.
func (n *PushNotifier) TokensForRole(role string) ([]string, error) {
	var tokens []string
	query := `SELECT t.token FROM fcm_tokens t
			  JOIN users u ON u.id = t.user_id
			  WHERE u.role = $1 AND u.active = TRUE`
	err := n.db.Select(&tokens, query, role)
	return tokens, err
}

// NotifyLeadAssigned pushes a lead-assignment notice to the agent's devices.
// Fire-and-forget: the assignment already happened.
func (n *PushNotifier) NotifyLeadAssigned(assignee models.Assignee, leadID string) {
	if n.fcm == nil {
		log.Printf("📵 FCM disabled, skipping lead notification for %s", assignee.Email)
		return
	}
	tokens, err := n.TokensForUser(assignee.ID)
	if err != nil {
		log.Printf("❌ Error loading FCM tokens for %s: %v", assignee.ID, err)
		return
	}
	for _, token := range tokens {
		if err := n.fcm.SendLeadAssignedNotification(token, leadID, assignee.Name); err != nil {
			log.Printf("❌ Error sending lead notification: %v", err)
		}
	}
}

// NotifyDriversTaskAvailable broadcasts a new-task notice to every active
// driver's devices.
func (n *PushNotifier) NotifyDriversTaskAvailable(taskID string, taskNumber int) {
	if n.fcm == nil {
		return
	}
	tokens, err := n.TokensForRole(models.RoleDriver)
	if err != nil {
		log.Printf("❌ Error loading driver FCM tokens: %v", err)
		return
	}
	if len(tokens) == 0 {
		return
	}
	err = n.fcm.SendMulticast(tokens,
		"New Task Available",
		"A new dispatch task is open. First to accept gets it.",
		map[string]string{"type": "task_available", "task_id": taskID})
	if err != nil {
		log.Printf("❌ Error broadcasting task notification: %v", err)
	}
}

// NotifyTaskStatus pushes a driver-status change to the task creator.
func (n *PushNotifier) NotifyTaskStatus(creatorID, taskID, status string) {
	if n.fcm == nil {
		return
	}
	tokens, err := n.TokensForUser(creatorID)
	if err != nil {
		log.Printf("❌ Error loading FCM tokens for %s: %v", creatorID, err)
		return
	}
	for _, token := range tokens {
		if err := n.fcm.SendTaskStatusNotification(token, taskID, status); err != nil {
			log.Printf("❌ Error sending status notification: %v", err)
		}
	}
}
