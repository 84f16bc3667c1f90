package storage

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// EncodeParams serializes event parameters as a JSON object.
// json.Number values are written as their original literal.
func EncodeParams(params map[string]any) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event params: %w", err)
	}
	return data, nil
}

// DecodeParams is the inverse of EncodeParams. Numbers come back as json.Number
// so 64-bit integers survive the round trip.
func DecodeParams(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event params: %w", err)
	}
	if params == nil {
		return nil, fmt.Errorf("failed to unmarshal event params: not an object")
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to unmarshal event params: trailing data")
	}
	return params, nil
}
