package normalize

import (
	"github.com/polyagent/polyagent/notify"
	"github.com/polyagent/polyagent/protocol"
)

// handleStructured dispatches the structured wire shape, where every
// notification carries its own method name and fields live on thread, turn,
// and item objects.
func (n *Normalizer) handleStructured(method string, p notify.Payload) []protocol.Event {
	switch method {
	case protocol.MethodThreadStarted, protocol.MethodThreadResumed:
		threadID, _ := p.Str("thread_id", "threadId", "id")
		return []protocol.Event{{Type: protocol.EventThreadStarted, ThreadID: threadID}}

	case protocol.MethodTurnStarted:
		return []protocol.Event{n.turnStarted(p)}

	case protocol.MethodTurnCompleted:
		return []protocol.Event{n.turnCompleted(p)}

	case protocol.MethodTurnDiffUpdated:
		diff, _ := p.Str("unified_diff", "unifiedDiff", "diff")
		return []protocol.Event{{Type: protocol.EventTurnDiff, UnifiedDiff: diff}}

	case protocol.MethodTokenUsage:
		info, ok := p.Obj("info", "usage", "tokenUsage")
		if !ok {
			info = p.Value()
		}
		return []protocol.Event{{Type: protocol.EventTokenCount, Info: info}}

	case protocol.MethodItemStarted:
		return n.itemStarted(p)

	case protocol.MethodItemCompleted:
		return n.itemCompleted(p)

	case protocol.MethodAgentMsgDelta:
		id, _ := p.Str("item_id", "itemId", "id")
		delta, _ := p.Str("delta")
		appendBuffer(n.agentMessages, id, delta)
		return nil

	case protocol.MethodReasoningDelta:
		id, _ := p.Str("item_id", "itemId", "id")
		delta, _ := p.Str("delta")
		appendBuffer(n.reasoning, id, delta)
		return []protocol.Event{{Type: protocol.EventAgentReasoningDelta, Delta: delta}}

	case protocol.MethodReasoningSection:
		return []protocol.Event{{Type: protocol.EventAgentReasoningSectionBreak}}

	case protocol.MethodCommandOutput:
		id, _ := p.Str("item_id", "itemId", "call_id", "callId", "id")
		delta, _ := p.Str("delta", "chunk", "output")
		appendBuffer(n.commandOutput, id, delta)
		return nil

	case protocol.MethodRequestApproval:
		callID, _ := p.Str("item_id", "itemId", "call_id", "callId", "id")
		return []protocol.Event{{
			Type:   protocol.EventExecApprovalRequest,
			CallID: callID,
			Raw:    p.Value(),
		}}

	case protocol.MethodError:
		if retry, ok := p.Bool("will_retry", "willRetry"); ok && retry {
			// A retry is already in flight; suppress.
			return nil
		}
		msg, _ := p.Str("message", "error")
		info, _ := p.Obj("error_info", "errorInfo")
		return []protocol.Event{{
			Type:      protocol.EventTaskFailed,
			Error:     errorText(msg),
			ErrorInfo: info,
		}}
	}

	return n.drop(method, "unrecognized method")
}

func (n *Normalizer) turnStarted(p notify.Payload) protocol.Event {
	ev := protocol.Event{Type: protocol.EventTaskStarted}
	ev.TurnID, _ = p.Str("turn_id", "turnId", "id")
	if cw, ok := p.Int("context_window", "contextWindow", "model_context_window"); ok {
		ev.ContextWindow = protocol.Int64(cw)
	}
	ev.CollabMode, _ = p.Str("collab_mode", "collabMode")
	return ev
}

func (n *Normalizer) turnCompleted(p notify.Payload) protocol.Event {
	turnID, _ := p.Str("turn_id", "turnId", "id")
	status, _ := p.Str("status")

	switch status {
	case "interrupted", "cancelled", "canceled":
		return protocol.Event{Type: protocol.EventTurnAborted, TurnID: turnID}
	case "failed", "error":
		msg, ok := p.Str("error", "message")
		if !ok {
			if errObj := notifySub(p, "error"); errObj != nil {
				msg, _ = errObj.Str("message", "detail")
			}
		}
		info, _ := p.Obj("error_info", "errorInfo")
		return protocol.Event{
			Type:      protocol.EventTaskFailed,
			TurnID:    turnID,
			Error:     errorText(msg),
			ErrorInfo: info,
		}
	default:
		return protocol.Event{Type: protocol.EventTaskComplete, TurnID: turnID}
	}
}

// notifySub descends into an object-valued field, returning nil when the
// field is absent or not an object.
func notifySub(p notify.Payload, names ...string) *notify.Payload {
	v, ok := p.Field(names...)
	if !ok || !v.IsObject() {
		return nil
	}
	sub := notify.FromResult(v)
	return &sub
}

func (n *Normalizer) itemStarted(p notify.Payload) []protocol.Event {
	itemType, _ := p.Str("type", "item_type", "itemType")
	callID, _ := p.Str("call_id", "callId", "id", "item_id", "itemId")

	switch itemType {
	case protocol.ItemCommandExecution:
		meta := commandMeta{}
		meta.command, _ = p.JoinedCommand("command", "cmd")
		meta.cwd, _ = p.Str("cwd", "workdir")
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

	case protocol.ItemFileChange:
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
	}

	// Message and reasoning items stream through their delta notifications;
	// nothing happens until content arrives.
	return nil
}

func (n *Normalizer) itemCompleted(p notify.Payload) []protocol.Event {
	itemType, _ := p.Str("type", "item_type", "itemType")
	itemID, _ := p.Str("call_id", "callId", "id", "item_id", "itemId")

	switch itemType {
	case protocol.ItemAgentMessage:
		text, ok := p.Str("text", "message")
		buffered := takeBuffer(n.agentMessages, itemID)
		if !ok || text == "" {
			text = buffered
		}
		return []protocol.Event{{Type: protocol.EventAgentMessage, Text: text}}

	case protocol.ItemReasoning:
		text, ok := p.Str("text", "summary")
		buffered := takeBuffer(n.reasoning, itemID)
		if !ok || text == "" {
			text = buffered
		}
		return []protocol.Event{{Type: protocol.EventAgentReasoning, Text: text}}

	case protocol.ItemCommandExecution:
		return []protocol.Event{n.commandEnd(p, itemID)}

	case protocol.ItemFileChange:
		return []protocol.Event{n.patchEnd(p, itemID)}
	}

	return n.drop(protocol.MethodItemCompleted, "unrecognized item type "+itemType)
}

// commandEnd merges the stored begin-time metadata with the completion
// payload, flushing the output buffer when no inline output was provided.
func (n *Normalizer) commandEnd(p notify.Payload, callID string) protocol.Event {
	ev := protocol.Event{Type: protocol.EventExecCommandEnd, CallID: callID}

	meta, ok := n.commandMeta[callID]
	if ok {
		ev.Command = meta.command
		ev.CWD = meta.cwd
		ev.AutoApproved = meta.autoApproved
		delete(n.commandMeta, callID)
	}

	buffered := takeBuffer(n.commandOutput, callID)
	output, haveInline := p.Str("aggregated_output", "aggregatedOutput", "output", "stdout")
	if !haveInline || output == "" {
		output = buffered
	}
	ev.Output = output
	ev.Stderr, _ = p.Str("stderr")
	ev.Error, _ = p.Str("error")
	if code, ok := p.Int("exit_code", "exitCode"); ok {
		ev.ExitCode = protocol.Int64(code)
	}
	ev.Status, _ = p.Str("status")
	return ev
}

// patchEnd merges the stored begin-time metadata with the completion
// payload. Success defaults to false when the backend reports no outcome.
func (n *Normalizer) patchEnd(p notify.Payload, callID string) protocol.Event {
	ev := protocol.Event{Type: protocol.EventPatchApplyEnd, CallID: callID}

	meta, ok := n.fileChangeMeta[callID]
	if ok {
		ev.Changes = meta.changes
		ev.AutoApproved = meta.autoApproved
		delete(n.fileChangeMeta, callID)
	}

	ev.Stdout, _ = p.Str("stdout")
	ev.Stderr, _ = p.Str("stderr")

	success, ok := p.Bool("success")
	if !ok {
		if status, haveStatus := p.Str("status"); haveStatus {
			success = status == "completed" || status == "success"
		}
	}
	ev.Success = protocol.Bool(success)
	return ev
}
