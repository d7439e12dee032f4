package stories

import (
	"testing"

	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
)

func TestGenerationStatus_Transitions(t *testing.T) {
	all := []GenerationStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	allowed := map[[2]GenerationStatus]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusPending, StatusFailed}:       true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
		{StatusFailed, StatusPending}:       true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]GenerationStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Fatalf("%s -> %s: want=%v got=%v", from, to, want, got)
			}
			err := from.ValidateTransition(to)
			if want && err != nil {
				t.Fatalf("%s -> %s: unexpected err %v", from, to, err)
			}
			if !want && !domainagg.IsCode(err, domainagg.CodeInvalidState) {
				t.Fatalf("%s -> %s: want invalid_state got=%v", from, to, err)
			}
		}
	}
}

func TestGenerationStatus_Predicates(t *testing.T) {
	if !StatusPending.IsActive() || !StatusProcessing.IsActive() {
		t.Fatalf("pending and processing must be active")
	}
	if StatusCompleted.IsActive() || StatusFailed.IsActive() {
		t.Fatalf("completed and failed must not be active")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() || StatusPending.IsTerminal() {
		t.Fatalf("terminal predicate wrong")
	}
	if GenerationStatus("queued").Valid() {
		t.Fatalf("unknown status must be invalid")
	}
}

func TestParseGenerationStatus(t *testing.T) {
	s, err := ParseGenerationStatus(" Processing ")
	if err != nil || s != StatusProcessing {
		t.Fatalf("ParseGenerationStatus: want=processing got=%q err=%v", s, err)
	}
	if _, err := ParseGenerationStatus("done"); err == nil {
		t.Fatalf("ParseGenerationStatus(done): expected error")
	}
}
