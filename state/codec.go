package state

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes job state into and out of job payloads.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSON is the default codec. Payloads stay human-readable, which makes
// inspecting a stuck job from the CLI or a database shell trivial.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("state: json marshal: %w", err)
	}

	return data, nil
}

func (JSON) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("state: json unmarshal: %w", err)
	}

	return nil
}

func (JSON) Name() string { return "json" }

// Msgpack is a compact binary codec for deployments where payload size
// dominates. Step sources and results stay JSON inside the envelope.
type Msgpack struct{}

func (Msgpack) Marshal(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("state: msgpack marshal: %w", err)
	}

	return data, nil
}

func (Msgpack) Unmarshal(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("state: msgpack unmarshal: %w", err)
	}

	return nil
}

func (Msgpack) Name() string { return "msgpack" }
