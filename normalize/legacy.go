package normalize

import (
	"strings"

	"github.com/polyagent/polyagent/notify"
	"github.com/polyagent/polyagent/protocol"
)

// legacyBufferKey scopes legacy delta buffers. The legacy shape carries no
// item ids, so accumulation is keyed per conversation.
func legacyBufferKey(p notify.Payload) string {
	id, _ := p.Str("conversation_id", "conversationId", "thread_id", "threadId")
	if id == "" {
		return "_global"
	}
	return id
}

// legacyMsgType returns the inner msg type discriminator, falling back to
// the method-name suffix for backends that encode the type in the method.
func legacyMsgType(method string, p notify.Payload) string {
	if t, ok := p.Str("type"); ok && t != "" {
		return t
	}
	suffix := strings.TrimPrefix(method, protocol.LegacyEventPrefix)
	return strings.TrimPrefix(suffix, "/")
}

// handleLegacy dispatches the legacy wire shape, where the payload is
// wrapped under a "msg" field with its own type discriminator.
func (n *Normalizer) handleLegacy(method string, p notify.Payload) []protocol.Event {
	msgType := legacyMsgType(method, p)
	key := legacyBufferKey(p)

	switch msgType {
	case protocol.LegacySessionConfigured:
		threadID, _ := p.Str("session_id", "sessionId", "conversation_id", "conversationId")
		return []protocol.Event{{Type: protocol.EventThreadStarted, ThreadID: threadID}}

	case protocol.LegacyTaskStarted:
		return []protocol.Event{n.turnStarted(p)}

	case protocol.LegacyTaskComplete:
		// Any dangling message buffer for this conversation terminates with
		// the turn.
		delete(n.agentMessages, key)
		delete(n.reasoning, key)
		turnID, _ := p.Str("turn_id", "turnId")
		return []protocol.Event{{Type: protocol.EventTaskComplete, TurnID: turnID}}

	case protocol.LegacyTurnAborted:
		delete(n.agentMessages, key)
		delete(n.reasoning, key)
		turnID, _ := p.Str("turn_id", "turnId")
		return []protocol.Event{{Type: protocol.EventTurnAborted, TurnID: turnID}}

	case protocol.LegacyAgentMessage:
		text, ok := p.Str("message", "text")
		buffered := takeBuffer(n.agentMessages, key)
		if !ok || text == "" {
			text = buffered
		}
		return []protocol.Event{{Type: protocol.EventAgentMessage, Text: text}}

	case protocol.LegacyAgentMessageDelta:
		delta, _ := p.Str("delta")
		appendBuffer(n.agentMessages, key, delta)
		return nil

	case protocol.LegacyAgentReasoning:
		text, ok := p.Str("text")
		buffered := takeBuffer(n.reasoning, key)
		if !ok || text == "" {
			text = buffered
		}
		return []protocol.Event{{Type: protocol.EventAgentReasoning, Text: text}}

	case protocol.LegacyAgentReasoningDelta:
		delta, _ := p.Str("delta")
		appendBuffer(n.reasoning, key, delta)
		return []protocol.Event{{Type: protocol.EventAgentReasoningDelta, Delta: delta}}

	case protocol.LegacyReasoningSectionBreak:
		return []protocol.Event{{Type: protocol.EventAgentReasoningSectionBreak}}

	case protocol.LegacyExecCommandBegin:
		callID, _ := p.Str("call_id", "callId")
		meta := commandMeta{}
		meta.command, _ = p.JoinedCommand("command", "cmd")
		meta.cwd, _ = p.Str("cwd")
		if auto, ok := p.Bool("auto_approved", "autoApproved"); ok {
			meta.autoApproved = protocol.Bool(auto)
		}
		n.commandMeta[callID] = meta
		return []protocol.Event{{
			Type:         protocol.EventExecCommandBegin,
			CallID:       callID,
			Command:      meta.command,
			CWD:          meta.cwd,
			AutoApproved: meta.autoApproved,
		}}

	case protocol.LegacyExecCommandOutput:
		callID, _ := p.Str("call_id", "callId")
		delta, _ := p.Str("chunk", "delta", "output")
		appendBuffer(n.commandOutput, callID, delta)
		return nil

	case protocol.LegacyExecCommandEnd:
		callID, _ := p.Str("call_id", "callId")
		return []protocol.Event{n.commandEnd(p, callID)}

	case protocol.LegacyPatchApplyBegin:
		callID, _ := p.Str("call_id", "callId")
		meta := fileChangeMeta{changes: foldChanges(p, "changes")}
		if auto, ok := p.Bool("auto_approved", "autoApproved"); ok {
			meta.autoApproved = protocol.Bool(auto)
		}
		n.fileChangeMeta[callID] = meta
		return []protocol.Event{{
			Type:         protocol.EventPatchApplyBegin,
			CallID:       callID,
			Changes:      meta.changes,
			AutoApproved: meta.autoApproved,
		}}

	case protocol.LegacyPatchApplyEnd:
		callID, _ := p.Str("call_id", "callId")
		return []protocol.Event{n.patchEnd(p, callID)}

	case protocol.LegacyTurnDiff:
		diff, _ := p.Str("unified_diff", "unifiedDiff")
		return []protocol.Event{{Type: protocol.EventTurnDiff, UnifiedDiff: diff}}

	case protocol.LegacyTokenCount:
		info, ok := p.Obj("info")
		if !ok {
			info = p.Value()
		}
		return []protocol.Event{{Type: protocol.EventTokenCount, Info: info}}

	case protocol.LegacyExecApprovalRequest:
		callID, _ := p.Str("call_id", "callId")
		raw, ok := p.Obj("msg")
		if !ok {
			raw = p.Value()
		}
		return []protocol.Event{{
			Type:   protocol.EventExecApprovalRequest,
			CallID: callID,
			Raw:    raw,
		}}

	case protocol.LegacyStreamError:
		// The backend retries the stream itself; suppress.
		return nil

	case protocol.LegacyError:
		turnID, _ := p.Str("turn_id", "turnId")
		msg, _ := p.Str("message")
		return []protocol.Event{{
			Type:   protocol.EventTaskFailed,
			TurnID: turnID,
			Error:  errorText(msg),
		}}
	}

	return n.drop(method, "unrecognized legacy msg type "+msgType)
}
