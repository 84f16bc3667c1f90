package eventqueue

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

const (
	fieldDeviceID    = "device_id"
	fieldDeviceToken = "device_token"
)

// identity is what the dispatcher resolved for one cycle.
type identity struct {
	DeviceID    string
	HasDeviceID bool
	PushToken   string
}

// enrichBody sets device fields on the JSON object body and, for bulk bodies,
// on every object inside the batchKey array. Non-object bodies are returned unchanged.
func enrichBody(body string, id identity, batchKey string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return body, nil
	}
	payload, err := decodeObject(body)
	if err != nil {
		return body, err
	}

	applyIdentity(payload, id)
	if events, ok := payload[batchKey].([]any); ok {
		for _, event := range events {
			if obj, ok := event.(map[string]any); ok {
				applyIdentity(obj, id)
			}
		}
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return body, fmt.Errorf("failed to marshal enriched body: %w", err)
	}
	return string(out), nil
}

func applyIdentity(obj map[string]any, id identity) {
	if id.HasDeviceID {
		obj[fieldDeviceID] = id.DeviceID
	}
	if id.PushToken != "" {
		obj[fieldDeviceToken] = id.PushToken
	}
}

// decodeObject parses a JSON object keeping numbers verbatim.
func decodeObject(body string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode body: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("failed to decode body: not a JSON object")
	}
	return payload, nil
}

// encodeEnvelope builds a bulk body from event parameter maps.
func encodeEnvelope(batchKey string, events []map[string]any) (string, error) {
	items := make([]any, len(events))
	for i, e := range events {
		items[i] = e
	}
	out, err := json.Marshal(map[string]any{batchKey: items})
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(out), nil
}
