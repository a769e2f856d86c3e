package animation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eduviz/backend/internal/adapters"
	"github.com/eduviz/backend/internal/domain"
)

// scriptedLLM returns canned responses in order, then repeats the last one.
type scriptedLLM struct {
	responses []adapters.GenerateResponse
	errs      []error
	calls     int
	requests  []*adapters.GenerateRequest
}

func (s *scriptedLLM) Generate(ctx context.Context, req *adapters.GenerateRequest) (*adapters.GenerateResponse, error) {
	s.requests = append(s.requests, req)
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	resp := s.responses[i]
	return &resp, nil
}

const validPlanJSON = `{
  "version": "2.0",
  "scene": {"mode": "standard", "camera": "fixed", "safe_bounds": {"x": 5.5, "y": 3.0}},
  "objects": [{"id": "title", "type": "Text", "zone": "top", "content": "Limits"}],
  "timeline": [{"id": "e1", "at": 0, "action": "FadeIn", "targets": ["title"]}]
}`

func planInput() PlanInput {
	return PlanInput{
		Section: &domain.Section{
			Title:     "Limits",
			Narration: "The limit of a function.",
		},
		AudioDuration: 12,
		Style:         "dark",
	}
}

func TestChoreographerAcceptsValidPlan(t *testing.T) {
	llm := &scriptedLLM{responses: []adapters.GenerateResponse{
		{Success: true, ResponseText: validPlanJSON},
	}}
	c, err := NewChoreographer(llm, "test-model", zap.NewNop())
	require.NoError(t, err)

	plan, raw, err := c.Plan(context.Background(), planInput(), 0.4, 3)
	require.NoError(t, err)
	assert.Equal(t, "2.0", plan.Version)
	require.Len(t, plan.Objects, 1)
	assert.Equal(t, "title", plan.Objects[0].ID)
	require.Len(t, plan.Timeline, 1)
	assert.Equal(t, "FadeIn", plan.Timeline[0].Action)
	assert.NotNil(t, raw["scene"])
	assert.Equal(t, 1, llm.calls)
}

func TestChoreographerRetriesInvalidPlan(t *testing.T) {
	llm := &scriptedLLM{responses: []adapters.GenerateResponse{
		{Success: true, ResponseText: `{"version": "2.0"}`}, // missing required keys
		{Success: true, ResponseText: validPlanJSON},
	}}
	c, err := NewChoreographer(llm, "test-model", zap.NewNop())
	require.NoError(t, err)

	plan, _, err := c.Plan(context.Background(), planInput(), 0.4, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls)
	assert.NotEmpty(t, plan.Timeline)
}

func TestChoreographerLastAttemptDropsSchema(t *testing.T) {
	llm := &scriptedLLM{responses: []adapters.GenerateResponse{
		{Success: true, ResponseText: `not json`},
		{Success: true, ResponseText: `not json`},
		{Success: true, ResponseText: validPlanJSON},
	}}
	c, err := NewChoreographer(llm, "test-model", zap.NewNop())
	require.NoError(t, err)

	_, _, err = c.Plan(context.Background(), planInput(), 0.4, 3)
	require.NoError(t, err)
	require.Len(t, llm.requests, 3)
	assert.NotNil(t, llm.requests[0].ResponseSchema)
	assert.NotNil(t, llm.requests[1].ResponseSchema)
	// Final attempt falls back to unconstrained JSON mode.
	assert.Nil(t, llm.requests[2].ResponseSchema)
	assert.True(t, llm.requests[2].ResponseJSON)
}

func TestChoreographerExhaustionIsChoreographyError(t *testing.T) {
	llm := &scriptedLLM{responses: []adapters.GenerateResponse{
		{Success: true, ResponseText: `{"nope": true}`},
	}}
	c, err := NewChoreographer(llm, "test-model", zap.NewNop())
	require.NoError(t, err)

	_, _, err = c.Plan(context.Background(), planInput(), 0.4, 2)
	require.Error(t, err)
	var chErr *ChoreographyError
	assert.True(t, errors.As(err, &chErr))
	assert.Equal(t, 2, chErr.Attempts)
}

func TestChoreographerTemperatureLadder(t *testing.T) {
	llm := &scriptedLLM{responses: []adapters.GenerateResponse{
		{Success: true, ResponseText: `bad`},
		{Success: true, ResponseText: `bad`},
		{Success: true, ResponseText: validPlanJSON},
	}}
	c, err := NewChoreographer(llm, "test-model", zap.NewNop())
	require.NoError(t, err)

	_, _, err = c.Plan(context.Background(), planInput(), 0.5, 3)
	require.NoError(t, err)
	require.Len(t, llm.requests, 3)
	assert.InDelta(t, 0.5, llm.requests[0].Temperature, 0.001)
	assert.InDelta(t, 0.7, llm.requests[1].Temperature, 0.001)
	assert.InDelta(t, 0.9, llm.requests[2].Temperature, 0.001)
}
