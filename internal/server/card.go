package server

import (
	"fmt"

	"github.com/haricheung/thor-planner/internal/a2a"
	"github.com/haricheung/thor-planner/internal/vocab"
)

// Card describes this agent for A2A discovery.
func Card(url, version string, voc *vocab.Vocabulary) a2a.AgentCard {
	return a2a.AgentCard{
		ProtocolVersion:    a2a.ProtocolVersion,
		Name:               "AI2-THOR Household Planner",
		Description:        "Plans AI2-THOR simulator action sequences for household-robot trials.",
		URL:                url,
		PreferredTransport: "JSONRPC",
		Version:            version,
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
		DefaultInputModes:  []string{"text", "application/json"},
		DefaultOutputModes: []string{"text", "application/json"},
		Skills: []a2a.AgentSkill{{
			ID:   "plan-household-task",
			Name: "Plan household task",
			Description: fmt.Sprintf(
				"Turns a trial (task_id, goal, optional metadata and history) or a batch {\"trials\": [...]} into an ordered list of AI2-THOR actions from vocabulary %s.",
				voc.Version),
			Tags: []string{"ai2thor", "planning", "embodied-ai"},
			Examples: []string{
				`{"task_id":"trial-1","goal":"put the mug on the dining table"}`,
				`{"trials":[{"trial_id":"t1","goal_instruction":"slice the apple"}]}`,
			},
		}},
	}
}
