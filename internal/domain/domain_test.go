package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParsePersona(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Persona
		wantErr bool
	}{
		{input: "Skyler", want: Skyler},
		{input: "raven", want: Raven},
		{input: "  PHOENIX ", want: Phoenix},
		{input: "Nova", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParsePersona(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownPersona) {
				t.Errorf("ParsePersona(%q) error = %v, want ErrUnknownPersona", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParsePersona(%q) unexpected error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParsePersona(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestPersonaJSONRoundTrip(t *testing.T) {
	t.Parallel()

	rec := PlanRecord{ID: "p1", Persona: Raven}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got PlanRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Persona != Raven {
		t.Errorf("expected Raven, got %q", got.Persona.Name)
	}

	if err := json.Unmarshal([]byte(`{"avatar":"Gandalf"}`), &got); !errors.Is(err, ErrUnknownPersona) {
		t.Errorf("expected ErrUnknownPersona, got %v", err)
	}

	var empty ConversationRecord
	if err := json.Unmarshal([]byte(`{"avatar":""}`), &empty); err != nil {
		t.Fatalf("empty persona should decode: %v", err)
	}
	if !empty.Persona.IsZero() {
		t.Errorf("expected zero persona, got %q", empty.Persona.Name)
	}
}

func TestEveryPersonaIsComplete(t *testing.T) {
	t.Parallel()

	for _, p := range Personas() {
		if p.SystemPrompt == "" || p.Welcome == "" || p.Transition == "" {
			t.Errorf("%s is missing prompt texts", p.Name)
		}
		for i, q := range p.Questions {
			if q == "" {
				t.Errorf("%s question %d is empty", p.Name, i)
			}
		}
		if p.Style.Accent == "" {
			t.Errorf("%s has no accent colour", p.Name)
		}
	}
}

func TestCountUserTurnsIgnoresOtherRoles(t *testing.T) {
	t.Parallel()

	history := []Message{
		{Role: RoleSystem, Content: "prime"},
		{Role: RoleAssistant, Content: "welcome"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "q"},
		{Role: RoleUser, Content: "b"},
	}
	if got := CountUserTurns(history); got != 2 {
		t.Errorf("CountUserTurns = %d, want 2", got)
	}
	answers := UserAnswers(history)
	if len(answers) != 2 || answers[0] != "a" || answers[1] != "b" {
		t.Errorf("UserAnswers = %v", answers)
	}
}

func TestMessageTimestampRoundTrip(t *testing.T) {
	t.Parallel()

	msg := NewMessage(RoleUser, "hello")
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("timestamp %v != %v", got.Timestamp, msg.Timestamp)
	}
	if got.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp")
	}
}

func TestPlanValidate(t *testing.T) {
	t.Parallel()

	valid := Plan{
		ID:               "p",
		Title:            "Plan",
		TotalDuration:    3,
		FeasibilityScore: 50,
		Steps: []PlanStep{
			{ID: "1", Title: "One", EstimatedDays: 1, Difficulty: DifficultyEasy},
			{ID: "2", Title: "Two", EstimatedDays: 2, Difficulty: DifficultyHard},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid plan, got %v", err)
	}

	broken := valid.Clone()
	broken.Steps[1].Difficulty = "extreme"
	if err := broken.Validate(); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("expected ErrInvalidPlan for bad difficulty, got %v", err)
	}
	if valid.Steps[1].Difficulty != DifficultyHard {
		t.Errorf("Clone must not share steps")
	}

	dup := valid.Clone()
	dup.Steps[1].ID = "1"
	if err := dup.Validate(); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("expected ErrInvalidPlan for duplicate id, got %v", err)
	}

	long := valid.Clone()
	long.Steps[0].EstimatedDays = MaxStepDays + 1
	if err := long.Validate(); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("expected ErrInvalidPlan for overlong step, got %v", err)
	}
}

func TestPlanProgress(t *testing.T) {
	t.Parallel()

	p := Plan{Steps: []PlanStep{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	if !p.SetStepCompleted("b", true) {
		t.Fatal("expected step b to be found")
	}
	if p.SetStepCompleted("z", true) {
		t.Fatal("expected unknown step to be rejected")
	}
	done, total := p.Progress()
	if done != 1 || total != 3 {
		t.Errorf("Progress = %d/%d, want 1/3", done, total)
	}
}
