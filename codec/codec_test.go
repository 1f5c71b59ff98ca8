package codec

import (
	"bytes"
	"testing"

	"hostagent/message"
)

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	original := &message.Request{
		Command: "CommandExec",
		Payload: []byte(`{"cmd":["/bin/true"]}`),
	}

	data, err := jsonCodec.Encode(original)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}

	var decoded message.Request
	if err := jsonCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}

	if original.Command != decoded.Command {
		t.Errorf("Command mismatch: got %s, want %s", decoded.Command, original.Command)
	}
	if !bytes.Equal(original.Payload, decoded.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", decoded.Payload, original.Payload)
	}
}

func TestCBORCodec(t *testing.T) {
	cborCodec := &CBORCodec{}

	original := &message.Response{
		Payload: []byte(`{"exit_code":0,"success":true}`),
	}

	data, err := cborCodec.Encode(original)
	if err != nil {
		t.Fatalf("CBORCodec Encode failed: %v", err)
	}

	var decoded message.Response
	if err := cborCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("CBORCodec Decode failed: %v", err)
	}

	if !bytes.Equal(original.Payload, decoded.Payload) {
		t.Errorf("Payload mismatch: got %s, want %s", decoded.Payload, original.Payload)
	}
	if !decoded.OK() {
		t.Errorf("expected OK response, got kind %q", decoded.Kind)
	}
}

func TestCodecRoundTripError(t *testing.T) {
	for _, c := range []Codec{&JSONCodec{}, &CBORCodec{}} {
		original := &message.Response{
			Kind:  message.KindUnknownCommand,
			Error: "list_processes",
		}

		data, err := c.Encode(original)
		if err != nil {
			t.Fatalf("codec %d Encode failed: %v", c.Type(), err)
		}

		var decoded message.Response
		if err := c.Decode(data, &decoded); err != nil {
			t.Fatalf("codec %d Decode failed: %v", c.Type(), err)
		}
		if decoded.Kind != message.KindUnknownCommand || decoded.Error != "list_processes" {
			t.Errorf("codec %d: error round trip mismatch: %+v", c.Type(), decoded)
		}
	}
}

func TestGetCodec(t *testing.T) {
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Error("GetCodec(JSON) returned wrong codec")
	}
	if GetCodec(CodecTypeCBOR).Type() != CodecTypeCBOR {
		t.Error("GetCodec(CBOR) returned wrong codec")
	}
}
