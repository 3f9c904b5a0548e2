package client

import (
	"bytes"
	"encoding/json"
)

// listEnvelopeKeys are the object fields servers have been seen wrapping
// list results in.
var listEnvelopeKeys = []string{"sessions", "items", "data", "agents", "skills", "jobs", "entries", "files", "runs", "messages", "results"}

// decodeList reads a list result that may be a bare array or an object
// wrapping the array under one of listEnvelopeKeys. preferred is tried first.
// Anything else yields an empty, non-nil slice.
func decodeList[T any](raw json.RawMessage, preferred string) ([]T, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []T{}, true
	}
	if raw[0] == '[' {
		var out []T
		if err := json.Unmarshal(raw, &out); err != nil {
			return []T{}, false
		}
		return out, true
	}
	if raw[0] != '{' {
		return []T{}, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return []T{}, false
	}
	keys := listEnvelopeKeys
	if preferred != "" {
		keys = append([]string{preferred}, keys...)
	}
	for _, k := range keys {
		inner, ok := obj[k]
		if !ok {
			continue
		}
		inner = bytes.TrimSpace(inner)
		if len(inner) == 0 || inner[0] != '[' {
			continue
		}
		var out []T
		if err := json.Unmarshal(inner, &out); err != nil {
			return []T{}, false
		}
		return out, true
	}
	return []T{}, false
}

// decodeObject reads an object result that may be nested under key.
func decodeObject[T any](raw json.RawMessage, key string) (T, bool) {
	var out T
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return out, false
	}
	if key != "" {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err == nil {
			if inner, ok := obj[key]; ok && len(bytes.TrimSpace(inner)) > 0 && bytes.TrimSpace(inner)[0] == '{' {
				raw = inner
			}
		}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// callList is the shared path of list convenience methods: failures degrade
// to an empty slice alongside the error, odd shapes to an empty slice.
func callList[T any](c *Client, raw json.RawMessage, err error, method, preferred string) ([]T, error) {
	if err != nil {
		return []T{}, err
	}
	out, ok := decodeList[T](raw, preferred)
	if !ok {
		c.logger.Debug("unexpected response shape", "method", method, "bytes", len(raw))
	}
	return out, nil
}
