package rcon

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EmptyResponse stands in for acknowledgements that carry no text. Many
// servers answer valid commands with an empty packet.
const EmptyResponse = "command executed successfully"

// responseFields are looked up, in order, when a transport hands back a
// structured value.
var responseFields = []string{"body", "message", "data"}

func normalizeResponse(raw interface{}) string {
	if text := responseText(raw); text != "" {
		return text
	}
	return EmptyResponse
}

func responseText(raw interface{}) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case map[string]interface{}:
		return fieldText(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case error:
		return strings.TrimSpace(v.Error())
	}

	// Structs and other values: look at them through their JSON shape so
	// json tags decide the field names.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return strings.TrimSpace(fmt.Sprint(raw))
	}
	var fields map[string]interface{}
	if json.Unmarshal(encoded, &fields) == nil {
		return fieldText(fields)
	}
	return jsonText(encoded)
}

func fieldText(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	for _, name := range responseFields {
		value, ok := fields[name]
		if !ok || value == nil {
			continue
		}
		if s, ok := value.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		if encoded, err := json.Marshal(value); err == nil {
			if text := jsonText(encoded); text != "" {
				return text
			}
		}
	}

	encoded, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return jsonText(encoded)
}

func jsonText(encoded []byte) string {
	text := strings.TrimSpace(string(encoded))
	switch text {
	case "", "null", "{}", "[]", `""`:
		return ""
	}
	return text
}
