package protocol

// Structured-shape notification methods. Each notification uses a distinct
// method name; parameters reference threads, turns, and items directly.
const (
	MethodThreadStarted    = "thread/started"
	MethodThreadResumed    = "thread/resumed"
	MethodTurnStarted      = "turn/started"
	MethodTurnCompleted    = "turn/completed"
	MethodTurnDiffUpdated  = "turn/diff/updated"
	MethodTokenUsage       = "thread/tokenUsage/updated"
	MethodItemStarted      = "item/started"
	MethodItemCompleted    = "item/completed"
	MethodAgentMsgDelta    = "item/agentMessage/delta"
	MethodReasoningDelta   = "item/reasoning/textDelta"
	MethodReasoningSection = "item/reasoning/summaryPartAdded"
	MethodCommandOutput    = "item/commandExecution/outputDelta"
	MethodRequestApproval  = "item/commandExecution/requestApproval"
	MethodError            = "error"
)

// Legacy-shape notifications share a single method prefix; the inner payload
// is wrapped under a "msg" field carrying its own type discriminator.
const LegacyEventPrefix = "codex/event"

// Legacy msg type discriminators.
const (
	LegacyTaskStarted           = "task_started"
	LegacyTaskComplete          = "task_complete"
	LegacyTurnAborted           = "turn_aborted"
	LegacyAgentMessage          = "agent_message"
	LegacyAgentMessageDelta     = "agent_message_delta"
	LegacyAgentReasoning        = "agent_reasoning"
	LegacyAgentReasoningDelta   = "agent_reasoning_delta"
	LegacyReasoningSectionBreak = "agent_reasoning_section_break"
	LegacyExecCommandBegin      = "exec_command_begin"
	LegacyExecCommandOutput     = "exec_command_output_delta"
	LegacyExecCommandEnd        = "exec_command_end"
	LegacyPatchApplyBegin       = "patch_apply_begin"
	LegacyPatchApplyEnd         = "patch_apply_end"
	LegacyTurnDiff              = "turn_diff"
	LegacyTokenCount            = "token_count"
	LegacyExecApprovalRequest   = "exec_approval_request"
	LegacyError                 = "error"
	LegacyStreamError           = "stream_error"
	LegacySessionConfigured     = "session_configured"
)

// Item types used by the structured shape.
const (
	ItemAgentMessage     = "agentMessage"
	ItemReasoning        = "reasoning"
	ItemCommandExecution = "commandExecution"
	ItemFileChange       = "fileChange"
)
