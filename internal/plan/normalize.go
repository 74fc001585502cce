// Package plan turns loosely-typed plan payloads from generation delegates
// into the canonical domain.Plan.
package plan

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/google/uuid"
)

// Source records how a plan was obtained.
type Source int

const (
	// SourceStructured means the payload already had the plan shape.
	SourceStructured Source = iota
	// SourceExtracted means the plan was decoded from a block inside free text.
	SourceExtracted
	// SourceFallback means the payload was unusable and Default was returned.
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceStructured:
		return "structured"
	case SourceExtracted:
		return "extracted"
	case SourceFallback:
		return "fallback"
	}
	return "unknown"
}

// Normalize coerces raw into a valid plan. It never fails: unusable input
// yields Default().
func Normalize(raw any) domain.Plan {
	p, _ := NormalizeWithSource(raw)
	return p
}

// NormalizeWithSource is Normalize that also reports which path produced the plan.
//
// Accepted inputs are domain.Plan, *domain.Plan, map[string]any, string,
// []byte, json.RawMessage and any other JSON-marshalable value.
func NormalizeWithSource(raw any) (domain.Plan, Source) {
	switch v := raw.(type) {
	case nil:
		return Default(), SourceFallback
	case domain.Plan:
		return fromPlan(v)
	case *domain.Plan:
		if v == nil {
			return Default(), SourceFallback
		}
		return fromPlan(*v)
	case string:
		return fromText(v)
	case []byte:
		return fromText(string(v))
	case json.RawMessage:
		return fromText(string(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Default(), SourceFallback
		}
		if p, ok := decode(data); ok {
			return p, SourceStructured
		}
		return Default(), SourceFallback
	}
}

func fromPlan(p domain.Plan) (domain.Plan, Source) {
	if p.Validate() == nil {
		return p.Clone(), SourceStructured
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Default(), SourceFallback
	}
	if coerced, ok := decode(data); ok {
		return coerced, SourceStructured
	}
	return Default(), SourceFallback
}

func fromText(text string) (domain.Plan, Source) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Default(), SourceFallback
	}
	if strings.HasPrefix(trimmed, "{") {
		if p, ok := decode([]byte(trimmed)); ok {
			return p, SourceStructured
		}
	}
	for _, block := range candidateBlocks(trimmed) {
		if p, ok := decode([]byte(block)); ok {
			return p, SourceExtracted
		}
	}
	return Default(), SourceFallback
}

// rawPlan mirrors domain.Plan with lenient field types.
type rawPlan struct {
	ID               flexString      `json:"id"`
	Title            flexString      `json:"title"`
	Description      flexString      `json:"description"`
	TotalDuration    flexInt         `json:"totalDuration"`
	FeasibilityScore flexInt         `json:"feasibilityScore"`
	Steps            []rawStep       `json:"steps"`
	Plan             json.RawMessage `json:"plan"`
}

type rawStep struct {
	ID            flexString `json:"id"`
	Title         flexString `json:"title"`
	Description   flexString `json:"description"`
	EstimatedDays flexInt    `json:"estimatedDays"`
	Difficulty    flexString `json:"difficulty"`
	Completed     flexBool   `json:"completed"`
}

// decode parses data as a plan-shaped object and coerces it. A payload of
// the form {"plan": {...}} without its own steps is unwrapped once. A
// payload that already decodes to a valid plan is returned as decoded, so
// every input form of the same plan yields the same result.
func decode(data []byte) (domain.Plan, bool) {
	var exact domain.Plan
	if err := json.Unmarshal(data, &exact); err == nil && exact.Validate() == nil {
		return exact, true
	}

	var rp rawPlan
	if err := json.Unmarshal(data, &rp); err != nil {
		return domain.Plan{}, false
	}
	if len(rp.Steps) == 0 && len(bytes.TrimSpace(rp.Plan)) > 0 && rp.Plan[0] == '{' {
		if err := json.Unmarshal(rp.Plan, &rp); err != nil {
			return domain.Plan{}, false
		}
	}
	if strings.TrimSpace(string(rp.Title)) == "" || len(rp.Steps) == 0 {
		return domain.Plan{}, false
	}
	for _, s := range rp.Steps {
		if strings.TrimSpace(string(s.Title)) == "" {
			return domain.Plan{}, false
		}
	}
	return coerce(rp), true
}

// coerce fills or repairs the fields that would make a plan invalid and
// leaves every valid field untouched.
func coerce(rp rawPlan) domain.Plan {
	p := domain.Plan{
		ID:               strings.TrimSpace(string(rp.ID)),
		Title:            strings.TrimSpace(string(rp.Title)),
		Description:      string(rp.Description),
		TotalDuration:    max(int(rp.TotalDuration), 0),
		FeasibilityScore: clamp(int(rp.FeasibilityScore), 0, 100),
		Steps:            make([]domain.PlanStep, 0, len(rp.Steps)),
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	seen := make(map[string]struct{}, len(rp.Steps))
	for i, rs := range rp.Steps {
		step := domain.PlanStep{
			ID:            strings.TrimSpace(string(rs.ID)),
			Title:         strings.TrimSpace(string(rs.Title)),
			Description:   string(rs.Description),
			EstimatedDays: int(rs.EstimatedDays),
			Difficulty:    domain.Difficulty(strings.ToLower(strings.TrimSpace(string(rs.Difficulty)))),
			Completed:     bool(rs.Completed),
		}
		if _, dup := seen[step.ID]; step.ID == "" || dup {
			step.ID = strconv.Itoa(i + 1)
			if _, dup := seen[step.ID]; dup {
				step.ID = uuid.NewString()
			}
		}
		seen[step.ID] = struct{}{}
		step.EstimatedDays = clamp(step.EstimatedDays, 1, domain.MaxStepDays)
		if !step.Difficulty.Valid() {
			step.Difficulty = domain.DifficultyMedium
		}
		p.Steps = append(p.Steps, step)
	}
	return p
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var leadingNumber = regexp.MustCompile(`-?\d+(\.\d+)?`)

// maxFlexInt bounds decoded numbers so conversion to int cannot overflow.
const maxFlexInt = 36500

func toFlexInt(n float64) flexInt {
	if math.IsNaN(n) {
		return 0
	}
	return flexInt(math.Round(math.Max(-maxFlexInt, math.Min(n, maxFlexInt))))
}

// flexInt accepts JSON numbers and strings such as "30" or "30 days".
// Anything else decodes to zero. Values are clamped to ±maxFlexInt.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*f = toFlexInt(t)
	case string:
		m := leadingNumber.FindString(t)
		if m == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseFloat(m, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = toFlexInt(n)
	default:
		*f = 0
	}
	return nil
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*f = flexString(t)
	case float64:
		*f = flexString(strconv.FormatFloat(t, 'f', -1, 64))
	default:
		*f = ""
	}
	return nil
}

// flexBool accepts JSON booleans and the strings "true"/"false".
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*f = flexBool(t)
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		*f = flexBool(b)
	default:
		*f = false
	}
	return nil
}
