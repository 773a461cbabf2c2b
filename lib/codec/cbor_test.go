// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sampleFrame struct {
	Kind    string     `cbor:"kind"`
	Request uint64     `cbor:"request,omitempty"`
	Body    RawMessage `cbor:"body,omitempty"`
}

type sampleBody struct {
	Object string  `cbor:"object"`
	X      float64 `cbor:"x"`
}

func TestMarshalDeterministic(t *testing.T) {
	properties := map[string]any{"s": "arena", "b": "1.0.0", "e": false, "j": "10.0.0.2:7777"}
	first, err := Marshal(properties)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(properties)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding %d differs: %x != %x", i, again, first)
		}
	}
}

func TestUnmarshalAnyMapsUseStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": 1}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Fatalf("nested type = %T, want map[string]any", outer["outer"])
	}
}

func TestDeferredBody(t *testing.T) {
	body, err := Marshal(sampleBody{Object: "cube-7", X: 1.5})
	if err != nil {
		t.Fatalf("Marshal body: %v", err)
	}
	data, err := Marshal(sampleFrame{Kind: "move", Request: 9, Body: body})
	if err != nil {
		t.Fatalf("Marshal frame: %v", err)
	}

	var frame sampleFrame
	if err := Unmarshal(data, &frame); err != nil {
		t.Fatalf("Unmarshal frame: %v", err)
	}
	if frame.Kind != "move" || frame.Request != 9 {
		t.Fatalf("frame = %+v", frame)
	}
	var decoded sampleBody
	if err := Unmarshal(frame.Body, &decoded); err != nil {
		t.Fatalf("Unmarshal body: %v", err)
	}
	if decoded != (sampleBody{Object: "cube-7", X: 1.5}) {
		t.Errorf("body = %+v", decoded)
	}
}

func TestStreamCarriesSequence(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	frames := []sampleFrame{{Kind: "spawn", Request: 1}, {Kind: "ack", Request: 1}, {Kind: "despawn", Request: 2}}
	for _, frame := range frames {
		if err := encoder.Encode(frame); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range frames {
		var got sampleFrame
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if got.Kind != want.Kind || got.Request != want.Request {
			t.Errorf("frame %d = %+v, want %+v", i, got, want)
		}
	}
}
