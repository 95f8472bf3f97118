package router

import (
	"context"
	"testing"

	"github.com/user/agentrelay/internal/types"
)

func awaitingFixture(t *testing.T, kind types.BackendKind) (*fixture, *types.Session) {
	t.Helper()
	f := newFixture(t)
	session, err := f.sessions.Create(context.Background(), 7, types.NewSessionID(), "planner", "/tmp", kind, "plan")
	if err != nil {
		t.Fatal(err)
	}
	session.Status = types.StatusAwaitingInput
	if err := f.sessions.Update(context.Background(), session); err != nil {
		t.Fatal(err)
	}
	return f, session
}

func TestResolvePlanRequiresAwaitingInput(t *testing.T) {
	f := newFixture(t)
	// The fixture session is idle.
	if _, err := f.router.ResolvePlan(context.Background(), f.session, PlanApprove); err == nil {
		t.Error("expected error for idle session")
	}
}

func TestResolvePlanApprove(t *testing.T) {
	f, session := awaitingFixture(t, types.BackendClaude)

	instruction, err := f.router.ResolvePlan(context.Background(), session, PlanApprove)
	if err != nil {
		t.Fatal(err)
	}
	if instruction == "" {
		t.Error("approve should return a resume instruction")
	}

	updated, err := f.sessions.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Mode != "acceptEdits" {
		t.Errorf("mode = %q, want acceptEdits", updated.Mode)
	}
	if updated.Status != types.StatusIdle {
		t.Errorf("status = %s, want idle", updated.Status)
	}
}

func TestResolvePlanApproveBypassEscalates(t *testing.T) {
	tests := []struct {
		kind types.BackendKind
		want string
	}{
		{types.BackendClaude, "dontAsk"},
		{types.BackendCodex, "danger"},
	}
	for _, tt := range tests {
		f, session := awaitingFixture(t, tt.kind)
		if _, err := f.router.ResolvePlan(context.Background(), session, PlanApproveBypass); err != nil {
			t.Fatal(err)
		}
		updated, err := f.sessions.Get(context.Background(), session.ID)
		if err != nil {
			t.Fatal(err)
		}
		if updated.Mode != tt.want {
			t.Errorf("%s bypass mode = %q, want %q", tt.kind, updated.Mode, tt.want)
		}
	}
}

func TestResolvePlanRequestChanges(t *testing.T) {
	f, session := awaitingFixture(t, types.BackendClaude)

	instruction, err := f.router.ResolvePlan(context.Background(), session, PlanRequestChanges)
	if err != nil {
		t.Fatal(err)
	}
	if instruction != "" {
		t.Errorf("request-changes returned instruction %q, want none", instruction)
	}

	updated, err := f.sessions.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatal(err)
	}
	// The session keeps waiting for the user's free-text feedback.
	if updated.Status != types.StatusAwaitingInput {
		t.Errorf("status = %s, want awaiting_input", updated.Status)
	}
}

func TestResolvePlanAbort(t *testing.T) {
	f, session := awaitingFixture(t, types.BackendClaude)

	instruction, err := f.router.ResolvePlan(context.Background(), session, PlanAbort)
	if err != nil {
		t.Fatal(err)
	}
	if instruction == "" {
		t.Error("abort should tell the backend the plan was rejected")
	}

	updated, err := f.sessions.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != types.StatusIdle {
		t.Errorf("status = %s, want idle", updated.Status)
	}
	if updated.Mode != "plan" {
		t.Errorf("mode changed on abort: %q", updated.Mode)
	}
}

func TestContainsPlanMarker(t *testing.T) {
	if !containsPlanMarker("here is my <proposed_plan> for you") {
		t.Error("marker not detected")
	}
	if containsPlanMarker("no plan here") {
		t.Error("false positive")
	}
}
