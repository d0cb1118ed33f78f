package protocol

import "github.com/invopop/jsonschema"

// EventSchema returns the JSON schema of the canonical Event envelope.
// Downstream UI layers use it to validate the event stream they consume.
func EventSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return r.Reflect(&Event{})
}
