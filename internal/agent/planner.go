package agent

import "machineid-swarm/internal/llm"

// PlannerName 是生成计划的智能体名称。
const PlannerName = "Swarm Worker"

const plannerInstructions = "You create short, practical 3-step plans for developers using OpenAI Swarm together with MachineID. " +
	"MachineID is a lightweight device-level gate: each worker has a deviceId, registers once, and validates " +
	"before running tasks so teams can enforce simple device limits and prevent runaway scaling.\n\n" +
	"Focus ONLY on:\n" +
	"- assigning a deviceId per worker,\n" +
	"- registering the worker,\n" +
	"- validating before work, and\n" +
	"- stopping workers when validation fails or limits are reached.\n\n" +
	"Do NOT describe MachineID as monitoring, analytics, observability, or spend tracking."

const planPrompt = "Give me a simple, accurate 3-step plan showing how to use OpenAI Swarm workers with MachineID " +
	"to keep scaling under control. Focus ONLY on deviceId, register, validate, and stopping workers " +
	"when validation fails or limits are reached."

// NewPlanner 构造生成 3 步计划的智能体。
func NewPlanner(model string) *Agent {
	return &Agent{
		Name:         PlannerName,
		Instructions: plannerInstructions,
		Model:        model,
	}
}

// PlanMessages 返回请求计划的初始对话。
func PlanMessages() []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: planPrompt}}
}
