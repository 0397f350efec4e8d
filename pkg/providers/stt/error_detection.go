package stt

import (
	"encoding/json"
	"strconv"
)

// errorEnvelope is a per-provider description of how in-band errors are
// shaped on the wire: which JSON fields carry the code/message, and which
// field (if any) must be present with a particular value for the frame to
// count as an error at all. Grounded on
// original_source/crates/transcribe-proxy/src/relay/handler.rs's per-
// provider `detect_error` dispatch (SPEC_FULL.md §3.2): status/code/
// message field names differ per provider, so this is a small table
// instead of one generic "look for an `error` key" sniff.
type errorEnvelope struct {
	typeField    string // JSON field whose presence+value flags an error frame
	typeValue    string // required value of typeField, "" means "any non-empty"
	codeField    string
	messageField string
}

var providerErrorEnvelopes = map[string]errorEnvelope{
	"deepgram": {
		typeField:    "type",
		typeValue:    "Error",
		codeField:    "err_code",
		messageField: "err_msg",
	},
	"soniox": {
		typeField:    "error_code",
		codeField:    "error_code",
		messageField: "error_message",
	},
	"assemblyai": {
		typeField:    "error",
		codeField:    "error",
		messageField: "error",
	},
	"elevenlabs": {
		typeField:    "type",
		typeValue:    "error",
		codeField:    "code",
		messageField: "message",
	},
}

// DetectProviderError inspects a decoded JSON object for provider, per the
// provider's error envelope shape, returning ok=false when the frame is
// not an error frame.
func DetectProviderError(provider string, raw []byte) (Error, bool) {
	env, known := providerErrorEnvelopes[provider]
	if !known {
		return Error{}, false
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Error{}, false
	}

	typeVal, present := obj[env.typeField]
	if !present {
		return Error{}, false
	}
	typeStr, _ := typeVal.(string)
	if env.typeValue != "" && typeStr != env.typeValue {
		return Error{}, false
	}
	if env.typeValue == "" && typeStr == "" {
		return Error{}, false
	}

	code, _ := stringOrNumberField(obj, env.codeField)
	message, _ := stringOrNumberField(obj, env.messageField)
	if code == "" && message == "" {
		return Error{}, false
	}

	return Error{Code: code, Message: message, Provider: provider}, true
}

func stringOrNumberField(obj map[string]any, field string) (string, bool) {
	v, ok := obj[field]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'g', -1, 64), true
	default:
		return "", false
	}
}
