package plan

import (
	"encoding/json"
	"testing"

	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan() domain.Plan {
	return domain.Plan{
		ID:               "p-1",
		Title:            "Speak up in meetings",
		Description:      "Build the habit of contributing once per meeting",
		TotalDuration:    21,
		FeasibilityScore: 78,
		Steps: []domain.PlanStep{
			{ID: "a", Title: "Prepare one point", Description: "Write it down", EstimatedDays: 7, Difficulty: domain.DifficultyEasy},
			{ID: "b", Title: "Say it early", Description: "First ten minutes", EstimatedDays: 14, Difficulty: domain.DifficultyHard, Completed: true},
		},
	}
}

func TestNormalizeValidPlanIsUnchanged(t *testing.T) {
	t.Parallel()

	in := samplePlan()
	got, src := NormalizeWithSource(in)
	assert.Equal(t, SourceStructured, src)
	assert.Equal(t, in, got)

	got.Steps[0].Title = "mutated"
	assert.Equal(t, "Prepare one point", in.Steps[0].Title, "result must not alias the input")

	ptr := samplePlan()
	assert.Equal(t, samplePlan(), Normalize(&ptr))
}

func TestNormalizeFallsBackToDefault(t *testing.T) {
	t.Parallel()

	var nilPlan *domain.Plan
	tests := []struct {
		name string
		raw  any
	}{
		{name: "nil", raw: nil},
		{name: "nil pointer", raw: nilPlan},
		{name: "empty string", raw: "   "},
		{name: "empty object", raw: map[string]any{}},
		{name: "prose", raw: "I could not come up with a plan, sorry."},
		{name: "broken json", raw: `{"title": "x", "steps": [`},
		{name: "no steps", raw: `{"title": "Plan", "steps": []}`},
		{name: "step without title", raw: `{"title": "Plan", "steps": [{"id": "1"}]}`},
		{name: "unmarshalable", raw: make(chan int)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, src := NormalizeWithSource(tt.raw)
			assert.Equal(t, SourceFallback, src)
			assert.Equal(t, Default(), got)
		})
	}
}

func TestDefaultPlan(t *testing.T) {
	t.Parallel()

	d := Default()
	require.NoError(t, d.Validate())
	require.Len(t, d.Steps, 3)
	assert.Equal(t, 30, d.TotalDuration)
	assert.Equal(t, d.StepDays(), d.TotalDuration)
	assert.Equal(t, 85, d.FeasibilityScore)
	assert.Equal(t, []int{7, 10, 13}, []int{d.Steps[0].EstimatedDays, d.Steps[1].EstimatedDays, d.Steps[2].EstimatedDays})

	d.Steps[0].Completed = true
	assert.False(t, Default().Steps[0].Completed, "Default must return a fresh value")
}

func TestNormalizeStructuredText(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(samplePlan())
	require.NoError(t, err)

	for name, raw := range map[string]any{
		"string":      string(data),
		"bytes":       data,
		"raw message": json.RawMessage(data),
	} {
		got, src := NormalizeWithSource(raw)
		assert.Equal(t, SourceStructured, src, name)
		assert.Equal(t, samplePlan(), got, name)
	}
}

func TestNormalizeExtractsEmbeddedBlock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{
			name: "fenced",
			text: "Here is your plan!\n```json\n{\"id\": \"p-1\", \"title\": \"Speak up\", \"totalDuration\": 5, \"feasibilityScore\": 70, \"steps\": [{\"id\": \"1\", \"title\": \"Start\", \"estimatedDays\": 5, \"difficulty\": \"easy\"}]}\n```\nGood luck.",
		},
		{
			name: "inline with trailing prose braces",
			text: `Plan: {"id": "p-1", "title": "Speak up", "totalDuration": 5, "feasibilityScore": 70, "steps": [{"id": "1", "title": "Start", "estimatedDays": 5, "difficulty": "easy"}]} and remember {you got this}`,
		},
		{
			name: "comments and trailing commas",
			text: "```\n{\n  \"id\": \"p-1\", // generated\n  \"title\": \"Speak up\",\n  \"totalDuration\": 5,\n  \"feasibilityScore\": 70,\n  \"steps\": [{\"id\": \"1\", \"title\": \"Start\", \"estimatedDays\": 5, \"difficulty\": \"easy\",},],\n}\n```",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, src := NormalizeWithSource(tt.text)
			require.Equal(t, SourceExtracted, src)
			assert.Equal(t, "p-1", got.ID)
			assert.Equal(t, "Speak up", got.Title)
			require.Len(t, got.Steps, 1)
			assert.Equal(t, "Start", got.Steps[0].Title)
			assert.NoError(t, got.Validate())
		})
	}
}

func TestNormalizeUnwrapsPlanEnvelope(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"plan": map[string]any{
			"id":    "wrapped",
			"title": "Wrapped plan",
			"steps": []any{map[string]any{"title": "Only step", "estimatedDays": 3}},
		},
	}
	got := Normalize(raw)
	assert.Equal(t, "wrapped", got.ID)
	assert.Equal(t, 3, got.Steps[0].EstimatedDays)
	assert.Zero(t, got.TotalDuration, "total is not derived from steps")
}

func TestNormalizeCoercesFields(t *testing.T) {
	t.Parallel()

	raw := `{
		"title": "  Network with confidence ",
		"totalDuration": "0",
		"feasibilityScore": "140%",
		"steps": [
			{"title": "Map your network", "estimatedDays": "10 days", "difficulty": "EASY"},
			{"id": "x", "title": "Reach out", "estimatedDays": -2, "difficulty": "brutal", "completed": "true"},
			{"id": "x", "title": "Follow up", "estimatedDays": 4.6}
		]
	}`
	got, src := NormalizeWithSource(raw)
	require.Equal(t, SourceStructured, src)
	require.NoError(t, got.Validate())

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "Network with confidence", got.Title)
	assert.Equal(t, 100, got.FeasibilityScore)
	require.Len(t, got.Steps, 3)

	assert.Equal(t, "1", got.Steps[0].ID)
	assert.Equal(t, 10, got.Steps[0].EstimatedDays)
	assert.Equal(t, domain.DifficultyEasy, got.Steps[0].Difficulty)

	assert.Equal(t, "x", got.Steps[1].ID)
	assert.Equal(t, 1, got.Steps[1].EstimatedDays)
	assert.Equal(t, domain.DifficultyMedium, got.Steps[1].Difficulty)
	assert.True(t, got.Steps[1].Completed)

	assert.Equal(t, "3", got.Steps[2].ID, "duplicate id replaced by position")
	assert.Equal(t, 5, got.Steps[2].EstimatedDays)

	assert.Zero(t, got.TotalDuration, "total is not derived from steps")
}

func TestNormalizeValidPlanSameOnEveryPath(t *testing.T) {
	t.Parallel()

	in := domain.Plan{
		ID:               "p-2",
		Title:            "My plan ",
		TotalDuration:    0,
		FeasibilityScore: 60,
		Steps: []domain.PlanStep{
			{ID: "1", Title: "Only step", EstimatedDays: 3, Difficulty: domain.DifficultyEasy},
		},
	}
	require.NoError(t, in.Validate())

	data, err := json.Marshal(in)
	require.NoError(t, err)
	var asMap map[string]any
	require.NoError(t, json.Unmarshal(data, &asMap))

	for name, raw := range map[string]any{
		"typed":   in,
		"pointer": &in,
		"map":     asMap,
		"text":    string(data),
		"bytes":   data,
	} {
		got, src := NormalizeWithSource(raw)
		assert.Equal(t, SourceStructured, src, name)
		assert.Equal(t, in, got, name)
	}
}

func TestNormalizeClampsHugeNumbers(t *testing.T) {
	t.Parallel()

	raw := `{
		"id": "big",
		"title": "Big numbers",
		"totalDuration": 1e300,
		"feasibilityScore": 1e300,
		"steps": [
			{"id": "1", "title": "Forever", "estimatedDays": 9.2e18, "difficulty": "easy"},
			{"id": "2", "title": "Forever again", "estimatedDays": 9200000000000000000, "difficulty": "easy"},
			{"id": "3", "title": "Backwards", "estimatedDays": -1e300, "difficulty": "easy"}
		]
	}`
	got, src := NormalizeWithSource(raw)
	require.Equal(t, SourceStructured, src)
	require.NoError(t, got.Validate())

	assert.Equal(t, 100, got.FeasibilityScore)
	assert.Equal(t, maxFlexInt, got.TotalDuration)
	assert.Equal(t, domain.MaxStepDays, got.Steps[0].EstimatedDays)
	assert.Equal(t, domain.MaxStepDays, got.Steps[1].EstimatedDays)
	assert.Equal(t, 1, got.Steps[2].EstimatedDays)
	assert.Positive(t, got.StepDays())
}

func TestNormalizeKeepsDisagreeingTotal(t *testing.T) {
	t.Parallel()

	p := samplePlan()
	p.TotalDuration = 99
	assert.Equal(t, 99, Normalize(p).TotalDuration)
}

func TestNormalizeRepairsInvalidTypedPlan(t *testing.T) {
	t.Parallel()

	p := samplePlan()
	p.ID = ""
	p.FeasibilityScore = -5
	p.Steps[1].Difficulty = ""

	got, src := NormalizeWithSource(p)
	assert.Equal(t, SourceStructured, src)
	require.NoError(t, got.Validate())
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, 0, got.FeasibilityScore)
	assert.Equal(t, domain.DifficultyMedium, got.Steps[1].Difficulty)
	assert.Equal(t, p.Steps[0], got.Steps[0])
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []any{
		nil,
		"garbage",
		`{"title": "T", "steps": [{"title": "s", "estimatedDays": "3"}]}`,
		samplePlan(),
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once))
	}
}
