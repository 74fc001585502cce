//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/goalcoach/internal/coach"
	"github.com/ashureev/goalcoach/internal/docstore"
	"github.com/ashureev/goalcoach/internal/domain"
	"github.com/ashureev/goalcoach/internal/events"
	"github.com/ashureev/goalcoach/internal/metrics"
	"github.com/ashureev/goalcoach/internal/plan"
	"github.com/ashureev/goalcoach/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]events.Event)
	}
	p.events[subject] = append(p.events[subject], ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[subject])
}

type failingPlanner struct{}

func (failingPlanner) GeneratePlan(context.Context, coach.PlanRequest) (any, error) {
	return nil, errors.New("upstream timeout")
}

// brokenRepo fails every storage call.
type brokenRepo struct{ store.Repository }

var errStorageDown = errors.New("storage down")

func (brokenRepo) AppendTurn(context.Context, string, domain.Message) error { return errStorageDown }
func (brokenRepo) LoadHistory(context.Context, string) ([]domain.Message, error) {
	return nil, errStorageDown
}
func (brokenRepo) LoadConversation(context.Context, string) (*domain.ConversationRecord, error) {
	return nil, errStorageDown
}
func (brokenRepo) SetGoal(context.Context, string, string, domain.Persona) error {
	return errStorageDown
}
func (brokenRepo) LoadLatestPlan(context.Context, string) (*domain.PlanRecord, error) {
	return nil, errStorageDown
}
func (brokenRepo) ListPlans(context.Context, string) ([]domain.PlanRecord, error) {
	return nil, errStorageDown
}
func (brokenRepo) Ping(context.Context) error { return errStorageDown }

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	docs, err := docstore.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	repo := store.New(docs)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestServer(t *testing.T, d Deps) (*Handler, http.Handler) {
	t.Helper()
	if d.Repo == nil {
		d.Repo = newTestRepo(t)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	h := NewHandler(d)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return h, r
}

type envelope struct {
	Success      bool            `json:"success"`
	Error        string          `json:"error"`
	Reply        string          `json:"reply"`
	GeneratePlan bool            `json:"generatePlan"`
	Plan         domain.Plan     `json:"plan"`
	Data         json.RawMessage `json:"data"`
	Questions    string          `json:"questions"`
	Summary      string          `json:"summary"`
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestChatReachesPlanAtFourthUserTurn(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	answers := []string{
		"I want to network better",
		"I freeze when I meet new people",
		"Walking into a meetup and starting three conversations",
		"I always leave early",
	}
	want := []string{
		domain.Raven.Question(0),
		domain.Raven.Question(1),
		domain.Raven.Question(2),
		domain.Raven.Transition,
	}
	for i, msg := range answers {
		code, env := do(t, srv, http.MethodPost, "/chat", map[string]string{
			"user_id":   "u1",
			"message":   msg,
			"goal_name": "Network better",
			"avatar":    "Raven",
		})
		require.Equal(t, http.StatusOK, code)
		require.True(t, env.Success)
		assert.Equal(t, want[i], env.Reply, "turn %d", i+1)
		assert.Equal(t, i == 3, env.GeneratePlan, "turn %d", i+1)
	}

	code, env := do(t, srv, http.MethodGet, "/api/conversation/u1", nil)
	require.Equal(t, http.StatusOK, code)
	var rec domain.ConversationRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Len(t, rec.Messages, 8)
	assert.Equal(t, "Network better", rec.Goal)
	assert.Equal(t, domain.Raven, rec.Persona)

	code, env = do(t, srv, http.MethodPost, "/final-plan", map[string]string{"user_id": "u1"})
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)
	assert.NotEmpty(t, env.Plan.Steps)
	assert.GreaterOrEqual(t, env.Plan.FeasibilityScore, 0)
	assert.LessOrEqual(t, env.Plan.FeasibilityScore, 100)
	assert.NoError(t, env.Plan.Validate())
}

func TestChatRejectsBadInput(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	for name, body := range map[string]interface{}{
		"malformed json":  "{not json",
		"empty message":   map[string]string{"user_id": "u1", "message": "  "},
		"unknown persona": map[string]string{"user_id": "u1", "message": "hi", "avatar": "Gandalf"},
		"bad user id":     map[string]string{"user_id": "../etc", "message": "hi"},
	} {
		t.Run(name, func(t *testing.T) {
			code, env := do(t, srv, http.MethodPost, "/chat", body)
			assert.Equal(t, http.StatusInternalServerError, code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestConversationIsStateless(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	history := []domain.Message{
		{Role: domain.RoleAssistant, Content: domain.Phoenix.Welcome},
		{Role: domain.RoleUser, Content: "I want to speak up in meetings"},
	}
	code, env := do(t, srv, http.MethodPost, "/api/conversation", map[string]interface{}{
		"messages": history,
		"avatar":   "Phoenix",
	})
	require.Equal(t, http.StatusOK, code)
	var data struct {
		Message      string `json:"message"`
		GeneratePlan bool   `json:"generatePlan"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, domain.Phoenix.Question(0), data.Message)
	assert.False(t, data.GeneratePlan)

	for i := 0; i < 3; i++ {
		history = append(history, domain.Message{Role: domain.RoleUser, Content: "more"})
	}
	_, env = do(t, srv, http.MethodPost, "/api/conversation", map[string]interface{}{
		"messages": history,
		"avatar":   "Phoenix",
	})
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.True(t, data.GeneratePlan)
	assert.Equal(t, domain.Phoenix.Transition, data.Message)

	code, env = do(t, srv, http.MethodPost, "/api/conversation", map[string]interface{}{
		"messages": []map[string]string{{"role": "robot", "content": "x"}},
	})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, env.Success)
}

func TestGeneratePlanFallsBackOnDelegateFailure(t *testing.T) {
	_, srv := newTestServer(t, Deps{Planner: failingPlanner{}})

	code, env := do(t, srv, http.MethodPost, "/api/generate-plan", map[string]interface{}{
		"goal_name":    "Make friends",
		"user_answers": []string{"I am shy"},
		"avatar":       "Skyler",
	})
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)
	assert.Equal(t, plan.Default().Title, env.Plan.Title)
	assert.Len(t, env.Plan.Steps, 3)
	assert.Equal(t, 30, env.Plan.TotalDuration)
	assert.Equal(t, 85, env.Plan.FeasibilityScore)
}

func TestGeneratePlanRequiresInput(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	code, env := do(t, srv, http.MethodPost, "/final-plan", map[string]interface{}{"avatar": "Skyler"})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, env.Success)
}

func TestSaveAndLoadPlan(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	code, env := do(t, srv, http.MethodGet, "/api/plan/u2", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, env.Success)
	assert.Equal(t, errPlanNotFound, env.Error)

	first := plan.Default()
	first.Title = "First plan"
	second := plan.Default()
	second.Title = "Second plan"
	for _, p := range []domain.Plan{first, second} {
		code, env = do(t, srv, http.MethodPost, "/api/save-plan", map[string]interface{}{
			"userId":    "u2",
			"plan":      p,
			"avatar":    "Skyler",
			"timestamp": time.Now().UTC(),
		})
		require.Equal(t, http.StatusOK, code)
		require.True(t, env.Success)
	}

	code, env = do(t, srv, http.MethodGet, "/api/plan/u2", nil)
	require.Equal(t, http.StatusOK, code)
	var rec domain.PlanRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, "Second plan", rec.Plan.Title)
	assert.Equal(t, domain.Skyler, rec.Persona)

	req := httptest.NewRequest(http.MethodGet, "/api/plan/u2/html", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Second plan")
}

func TestListPlans(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	code, env := do(t, srv, http.MethodGet, "/api/plans/u7", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `[]`, string(env.Data))

	for _, title := range []string{"Older", "Newer"} {
		p := plan.Default()
		p.Title = title
		code, _ = do(t, srv, http.MethodPost, "/api/save-plan", map[string]interface{}{"userId": "u7", "plan": p, "avatar": "Raven"})
		require.Equal(t, http.StatusOK, code)
	}

	code, env = do(t, srv, http.MethodGet, "/api/plans/u7", nil)
	require.Equal(t, http.StatusOK, code)
	var plans []domain.PlanRecord
	require.NoError(t, json.Unmarshal(env.Data, &plans))
	require.Len(t, plans, 2)
	assert.Equal(t, "Newer", plans[0].Plan.Title)
	assert.Equal(t, "Older", plans[1].Plan.Title)
}

func TestSavePlanNormalizesTextPayload(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	code, env := do(t, srv, http.MethodPost, "/api/save-plan", map[string]interface{}{
		"userId": "u3",
		"plan":   "no plan here",
	})
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	_, env = do(t, srv, http.MethodGet, "/api/plan/u3", nil)
	var rec domain.PlanRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, plan.DefaultPlanID, rec.Plan.ID)
}

func TestStepCompletionAndAccept(t *testing.T) {
	pub := &recordingPublisher{}
	_, srv := newTestServer(t, Deps{Events: pub})

	code, _ := do(t, srv, http.MethodPost, "/api/save-plan", map[string]interface{}{
		"userId": "u4",
		"plan":   plan.Default(),
	})
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, srv, http.MethodPatch, "/api/plan/u4/steps/2", map[string]bool{"completed": true})
	require.Equal(t, http.StatusOK, code)
	var rec domain.PlanRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	done, total := rec.Plan.Progress()
	assert.Equal(t, 1, done)
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, pub.count(events.SubjectStepCompleted))

	code, env = do(t, srv, http.MethodPatch, "/api/plan/u4/steps/99", map[string]bool{"completed": true})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, env.Success)

	code, env = do(t, srv, http.MethodPost, "/api/plan/u4/accept", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.True(t, rec.Accepted)
	assert.True(t, rec.Plan.Steps[1].Completed)
	assert.Equal(t, 1, pub.count(events.SubjectPlanAccepted))

	code, _ = do(t, srv, http.MethodPost, "/api/plan/nobody/accept", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestResetConversation(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	code, _ := do(t, srv, http.MethodPost, "/chat", map[string]string{"user_id": "u5", "message": "hello"})
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, srv, http.MethodDelete, "/api/conversation/u5", nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	_, env = do(t, srv, http.MethodGet, "/api/conversation/u5", nil)
	var rec domain.ConversationRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Empty(t, rec.Messages)
}

func TestRateLimitReturnsEnvelope(t *testing.T) {
	limiter := coach.NewRateLimiter(1, time.Minute)
	t.Cleanup(limiter.Stop)
	_, srv := newTestServer(t, Deps{Limiter: limiter})

	body := map[string]string{"user_id": "u6", "message": "hi"}
	code, _ := do(t, srv, http.MethodPost, "/chat", body)
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, srv, http.MethodPost, "/chat", body)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, errRateLimited, env.Error)
}

func TestStorageFailuresDegrade(t *testing.T) {
	_, srv := newTestServer(t, Deps{Repo: brokenRepo{}})

	code, env := do(t, srv, http.MethodGet, "/api/conversation/u7", nil)
	require.Equal(t, http.StatusOK, code)
	var rec domain.ConversationRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Empty(t, rec.Messages)

	code, env = do(t, srv, http.MethodGet, "/api/plan/u7", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotContains(t, env.Error, "storage down")

	code, env = do(t, srv, http.MethodGet, "/api/plans/u7", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotContains(t, env.Error, "storage down")

	code, env = do(t, srv, http.MethodPost, "/chat", map[string]string{"user_id": "u7", "message": "hi"})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotContains(t, env.Error, "storage down")

	code, _ = do(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestRequestBodyLimit(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	huge := `{"user_id":"u8","message":"` + strings.Repeat("a", maxRequestBodySize) + `"}`
	code, env := do(t, srv, http.MethodPost, "/chat", huge)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, env.Success)
}

func TestAdvisorEndpoints(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	code, env := do(t, srv, http.MethodPost, "/ask-questions", map[string]string{"goal_name": "Be a better listener"})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, strings.Split(env.Questions, "\n"), 3)

	code, env = do(t, srv, http.MethodPost, "/achievement-summary", map[string]string{"user_id": "u9", "plan": "Step 1: smile"})
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, env.Summary)

	code, _ = do(t, srv, http.MethodPost, "/ask-questions", map[string]string{})
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestPersonasAndHealth(t *testing.T) {
	_, srv := newTestServer(t, Deps{})

	code, env := do(t, srv, http.MethodGet, "/api/personas", nil)
	require.Equal(t, http.StatusOK, code)
	var personas []personaView
	require.NoError(t, json.Unmarshal(env.Data, &personas))
	require.Len(t, personas, 3)
	assert.Equal(t, "Skyler", personas[0].Name)
	assert.Equal(t, domain.Raven.Welcome, personas[1].Welcome)

	code, env = do(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}
