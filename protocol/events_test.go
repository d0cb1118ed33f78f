package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_MarshalOmitsZeroFields(t *testing.T) {
	data, err := json.Marshal(Event{Type: EventTaskComplete, TurnID: "t1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"task_complete","turn_id":"t1"}`, string(data))
}

func TestEvent_MarshalKeepsExplicitFalseAndZero(t *testing.T) {
	ev := Event{
		Type:     EventPatchApplyEnd,
		CallID:   "c1",
		Success:  Bool(false),
		ExitCode: Int64(0),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	// Pointer fields distinguish "absent" from explicit false/zero.
	assert.Contains(t, string(data), `"success":false`)
	assert.Contains(t, string(data), `"exit_code":0`)
}

func TestEvent_RoundTrip(t *testing.T) {
	ev := Event{
		Type:         EventExecCommandEnd,
		CallID:       "c1",
		Command:      "ls -la",
		CWD:          "/tmp",
		Output:       "total 0",
		ExitCode:     Int64(1),
		AutoApproved: Bool(true),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ev, got)
}

func TestEventSchema(t *testing.T) {
	schema := EventSchema()
	require.NotNil(t, schema)

	_, ok := schema.Properties.Get("type")
	assert.True(t, ok)
	_, ok = schema.Properties.Get("call_id")
	assert.True(t, ok)
	assert.Contains(t, schema.Required, "type")
}
