package relay

import "encoding/json"

// IsControlMessage reports whether a text frame's top-level JSON `type`
// field matches one of the provider's control_message_types (spec.md
// §4.4). Binary frames and non-JSON text frames are never control
// messages.
func IsControlMessage(data []byte, isText bool, controlTypes map[string]bool) bool {
	if !isText || len(controlTypes) == 0 {
		return false
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return controlTypes[probe.Type]
}
