package prompter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haricheung/thor-planner/internal/types"
	"github.com/haricheung/thor-planner/internal/vocab"
)

var testParams = Params{Model: "deepseek/deepseek-chat", Temperature: 0.5, MaxTokens: 1024}

func samplePayload() types.TrialPayload {
	return types.TrialPayload{
		TaskID: "t1",
		Goal:   "pick up the mug and put it on the table",
		Metadata: map[string]any{
			"scene":   "FloorPlan1",
			"objects": []any{"Mug_1", "Table_1"},
			"agent":   map[string]any{"x": 1.5, "z": -0.25},
		},
		History: []types.ActionStep{{Action: "MoveAhead", Args: []string{}}},
	}
}

func TestBuild_Deterministic(t *testing.T) {
	// Two calls with an identical payload produce byte-identical prompts
	b := New(vocab.Default(), testParams)
	first := b.Build(samplePayload())
	for i := 0; i < 20; i++ {
		again := New(vocab.Default(), testParams).Build(samplePayload())
		assert.Equal(t, first.Prompt(), again.Prompt())
		assert.Equal(t, first, again)
	}
}

func TestBuild_DescribesVocabulary(t *testing.T) {
	req := New(vocab.Default(), testParams).Build(samplePayload())
	for _, name := range vocab.Default().Names() {
		assert.Contains(t, req.System, name+"(")
	}
	assert.Contains(t, req.System, vocab.Default().Version)
	assert.Equal(t, vocab.Default().Version, req.VocabularyVersion)
}

func TestBuild_EmbedsTaskContext(t *testing.T) {
	req := New(vocab.Default(), testParams).Build(samplePayload())
	assert.Contains(t, req.User, "Task ID: t1")
	assert.Contains(t, req.User, "Goal: pick up the mug and put it on the table")
	assert.Contains(t, req.User, `"scene": "FloorPlan1"`)
	// keys sorted: agent < objects < scene
	assert.Less(t, strings.Index(req.User, `"agent"`), strings.Index(req.User, `"objects"`))
	assert.Less(t, strings.Index(req.User, `"objects"`), strings.Index(req.User, `"scene"`))
}

func TestBuild_EmbedsHistoryInOrder(t *testing.T) {
	p := samplePayload()
	p.History = []types.ActionStep{
		{Action: "MoveAhead", Args: []string{}},
		{Action: "PickupObject", Args: []string{"Mug_1"}},
	}
	req := New(vocab.Default(), testParams).Build(p)
	assert.Contains(t, req.User, "1. MoveAhead()\n2. PickupObject(Mug_1)\n")
	assert.Contains(t, req.User, "continue after the last one")
}

func TestBuild_NoHistory(t *testing.T) {
	p := samplePayload()
	p.History = nil
	p.Metadata = nil
	req := New(vocab.Default(), testParams).Build(p)
	assert.Contains(t, req.User, "No actions have been executed yet")
	assert.NotContains(t, req.User, "Scene metadata")
}

func TestBuild_CopiesGenerationParams(t *testing.T) {
	req := New(vocab.Default(), testParams).Build(samplePayload())
	assert.Equal(t, "t1", req.TaskID)
	assert.Equal(t, "deepseek/deepseek-chat", req.Model)
	assert.Equal(t, float32(0.5), req.Temperature)
	assert.Equal(t, 1024, req.MaxTokens)
}
