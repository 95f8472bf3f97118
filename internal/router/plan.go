package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/agentrelay/internal/types"
)

// planMarker is emitted by backends that stream a proposed plan inline
// instead of signalling through a dedicated tool call.
const planMarker = "<proposed_plan>"

// PlanAction is a user decision on a proposed plan.
type PlanAction string

const (
	// PlanApprove accepts the plan and lets the backend edit files without
	// prompting for each change.
	PlanApprove PlanAction = "approve"
	// PlanApproveBypass accepts the plan and permanently escalates the
	// session to its backend's unsandboxed mode.
	PlanApproveBypass PlanAction = "approve_bypass"
	// PlanRequestChanges keeps the session awaiting input; the user's next
	// message is sent to the backend as plan feedback.
	PlanRequestChanges PlanAction = "request_changes"
	// PlanAbort rejects the plan.
	PlanAbort PlanAction = "abort"
)

const (
	planApproveInstruction = "The plan is approved. Proceed with the implementation."
	planRejectInstruction  = "The plan is rejected. Do not proceed; wait for further instructions."
)

func containsPlanMarker(text string) bool {
	return strings.Contains(text, planMarker)
}

// approvedMode is the mode a session escalates to when a plan is approved.
func approvedMode(backend types.BackendKind, bypass bool) string {
	if backend == types.BackendCodex {
		if bypass {
			return "danger"
		}
		return "workspace-write"
	}
	if bypass {
		return "dontAsk"
	}
	return "acceptEdits"
}

// ResolvePlan applies a user's plan decision to the session and returns the
// synthetic instruction to resume the backend with. An empty instruction
// means no turn is dispatched (request-changes leaves the session awaiting
// the user's free-text feedback).
func (r *Router) ResolvePlan(ctx context.Context, session *types.Session, action PlanAction) (string, error) {
	if session.Status != types.StatusAwaitingInput {
		return "", fmt.Errorf("session %s is not awaiting plan approval", session.ID)
	}

	switch action {
	case PlanApprove, PlanApproveBypass:
		mode := approvedMode(session.Backend, action == PlanApproveBypass)
		session.Mode = mode
		session.Status = types.StatusIdle
		if err := r.sessions.Update(ctx, session); err != nil {
			return "", fmt.Errorf("update session: %w", err)
		}
		slog.Info("plan approved", "session_id", session.ID, "mode", mode, "bypass", action == PlanApproveBypass)
		return planApproveInstruction, nil

	case PlanRequestChanges:
		// Status stays awaiting_input: the next free-text message is
		// treated as feedback and sent via resume.
		slog.Info("plan changes requested", "session_id", session.ID)
		return "", nil

	case PlanAbort:
		session.Status = types.StatusIdle
		if err := r.sessions.Update(ctx, session); err != nil {
			return "", fmt.Errorf("update session: %w", err)
		}
		slog.Info("plan rejected", "session_id", session.ID)
		return planRejectInstruction, nil

	default:
		return "", fmt.Errorf("unknown plan action %q", action)
	}
}
