package policy

import (
	"testing"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

func TestApplyStateEvents(t *testing.T) {
	now := time.Now()
	s := &models.Session{FlowStatus: models.FlowIdle}

	ApplyStateEvents(s, []models.StateEvent{
		{Type: models.EventSetFlow, Flow: models.FlowOrderStatus},
		{Type: models.EventSetSlot, Field: "order_number", Value: "ORD-42"},
		{Type: models.EventRequireVerification, Field: "phone_last4"},
	}, now)

	if s.ActiveFlow != models.FlowOrderStatus || s.FlowStatus != models.FlowInProgress {
		t.Errorf("set_flow should activate the flow, got %s/%s", s.ActiveFlow, s.FlowStatus)
	}
	if s.Slots["order_number"] != "ORD-42" {
		t.Error("set_slot should write the slot")
	}
	if s.Verification.Status != models.VerificationPending || s.Verification.PendingField != "phone_last4" {
		t.Errorf("require_verification should mark pending, got %+v", s.Verification)
	}

	ApplyStateEvents(s, []models.StateEvent{{Type: models.EventClearVerification}}, now)
	if s.Verification.Status != models.VerificationVerified {
		t.Errorf("clear_verification should mark verified, got %s", s.Verification.Status)
	}

	ApplyStateEvents(s, []models.StateEvent{{Type: models.EventSetFlowStatus, Value: "post_result"}}, now)
	if s.FlowStatus != models.FlowPostResult || s.PostResultTurns != 0 {
		t.Errorf("set_flow_status should enter post_result with a fresh counter, got %s/%d", s.FlowStatus, s.PostResultTurns)
	}

	ApplyStateEvents(s, []models.StateEvent{{Type: models.EventSetFlowStatus, Value: "bogus"}}, now)
	if s.FlowStatus != models.FlowPostResult {
		t.Error("unknown flow status must be ignored")
	}

	ApplyStateEvents(s, []models.StateEvent{{Type: models.EventTerminate, Value: "fraud_signal"}}, now)
	if s.FlowStatus != models.FlowTerminated || s.TerminationReason != "fraud_signal" {
		t.Errorf("terminate event should end the session, got %s/%s", s.FlowStatus, s.TerminationReason)
	}
}
