package policy

import (
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// ApplyStateEvents applies a tool's declarative state transitions to the
// session, in order. Unknown event types are skipped; tools from older
// deployments may emit events this build does not know.
func ApplyStateEvents(session *models.Session, events []models.StateEvent, now time.Time) {
	for _, ev := range events {
		switch ev.Type {
		case models.EventSetFlow:
			session.ActiveFlow = ev.Flow
			if session.FlowStatus == models.FlowIdle {
				session.FlowStatus = models.FlowInProgress
			}
		case models.EventSetFlowStatus:
			switch models.FlowStatus(ev.Value) {
			case models.FlowIdle, models.FlowInProgress, models.FlowPostResult, models.FlowTerminated:
				session.FlowStatus = models.FlowStatus(ev.Value)
				if session.FlowStatus == models.FlowPostResult {
					session.PostResultTurns = 0
				}
			}
		case models.EventSetSlot:
			if ev.Field != "" {
				session.SetSlot(ev.Field, ev.Value)
			}
		case models.EventRequireVerification:
			session.Verification.Status = models.VerificationPending
			session.Verification.PendingField = ev.Field
		case models.EventClearVerification:
			session.Verification = models.Verification{Status: models.VerificationVerified}
		case models.EventTerminate:
			reason := ev.Value
			if reason == "" {
				reason = "tool_requested"
			}
			session.Terminate(reason, now)
		}
	}
}
