package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"hostagent/capability"
	"hostagent/codec"
	"hostagent/message"
	"hostagent/protocol"
)

type echoArgs struct {
	Text    string `json:"text"`
	DelayMs int    `json:"delay_ms"`
}

type echoResult struct {
	Text string `json:"text"`
}

// startTestServer serves a registry with one "Echo" command on a loopback
// listener and returns its address.
func startTestServer(t *testing.T) string {
	t.Helper()

	reg := capability.NewRegistry()
	err := reg.Register("Echo", capability.Func(
		func(ctx context.Context, args echoArgs) (echoResult, error) {
			if args.DelayMs > 0 {
				time.Sleep(time.Duration(args.DelayMs) * time.Millisecond)
			}
			return echoResult{Text: args.Text}, nil
		}))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	svr := New(reg, nil)
	go svr.ServeListener(ln, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	return ln.Addr().String()
}

// sendRequest writes one request frame in the given codec.
func sendRequest(t *testing.T, conn net.Conn, codecType codec.CodecType, seq uint32, command string, args any) {
	t.Helper()

	var payload []byte
	if args != nil {
		var err error
		payload, err = json.Marshal(args)
		if err != nil {
			t.Fatalf("marshal args: %v", err)
		}
	}
	c := codec.GetCodec(codecType)
	body, err := c.Encode(&message.Request{Command: command, Payload: payload})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	header := protocol.Header{
		CodecType: byte(codecType),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(conn, &header, body); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

// readResponse reads one response frame and decodes the envelope.
func readResponse(t *testing.T, conn net.Conn, codecType codec.CodecType) (*protocol.Header, *message.Response) {
	t.Helper()

	header, body, err := protocol.Decode(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp message.Response
	if err := codec.GetCodec(codecType).Decode(body, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return header, &resp
}

func TestServerDispatch(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sendRequest(t, conn, codec.CodecTypeJSON, 1, "Echo", echoArgs{Text: "hello"})
	header, resp := readResponse(t, conn, codec.CodecTypeJSON)

	if header.Seq != 1 {
		t.Errorf("expected seq 1, got %d", header.Seq)
	}
	if header.MsgType != protocol.MsgTypeResponse {
		t.Errorf("expected response frame, got msgtype %d", header.MsgType)
	}
	if !resp.OK() {
		t.Fatalf("expected success, got %s: %s", resp.Kind, resp.Error)
	}
	var result echoResult
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		t.Fatal(err)
	}
	if result.Text != "hello" {
		t.Errorf("expected 'hello', got %q", result.Text)
	}
}

func TestServerUnknownCommandKeepsConnection(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sendRequest(t, conn, codec.CodecTypeJSON, 1, "list_processes", nil)
	_, resp := readResponse(t, conn, codec.CodecTypeJSON)
	if resp.Kind != message.KindUnknownCommand {
		t.Fatalf("expected unknown_command, got %q", resp.Kind)
	}

	// One failed request must not poison the connection.
	sendRequest(t, conn, codec.CodecTypeJSON, 2, "Echo", echoArgs{Text: "still alive"})
	_, resp = readResponse(t, conn, codec.CodecTypeJSON)
	if !resp.OK() {
		t.Fatalf("connection unusable after failure: %s", resp.Error)
	}
}

func TestServerOrdering(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// A is slow, B is instant. Responses must still arrive A then B:
	// one in-flight request per connection, strictly in order.
	sendRequest(t, conn, codec.CodecTypeJSON, 1, "Echo", echoArgs{Text: "A", DelayMs: 150})
	sendRequest(t, conn, codec.CodecTypeJSON, 2, "Echo", echoArgs{Text: "B"})

	first, _ := readResponse(t, conn, codec.CodecTypeJSON)
	second, _ := readResponse(t, conn, codec.CodecTypeJSON)

	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("responses out of order: got seqs %d, %d", first.Seq, second.Seq)
	}
}

func TestServerMalformedFramingAborts(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Garbage that can never be a valid header: connection must be closed
	// with no response.
	if _, err := conn.Write([]byte("GET / HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after malformed framing, got %v", err)
	}
}

func TestServerUndecodableBody(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// A well-framed body that is not a valid envelope gets a protocol error
	// response; the connection continues.
	body := []byte("this is not an envelope")
	header := protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeRequest,
		Seq:       9,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(conn, &header, body); err != nil {
		t.Fatal(err)
	}

	_, resp := readResponse(t, conn, codec.CodecTypeJSON)
	if resp.Kind != message.KindProtocol {
		t.Fatalf("expected protocol_error, got %q", resp.Kind)
	}

	sendRequest(t, conn, codec.CodecTypeJSON, 10, "Echo", echoArgs{Text: "ok"})
	_, resp = readResponse(t, conn, codec.CodecTypeJSON)
	if !resp.OK() {
		t.Fatalf("connection unusable after protocol error: %s", resp.Error)
	}
}

func TestServerCloseMidDispatch(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}

	// Start a slow dispatch, then hang up before the response is written.
	// The in-flight operation runs to completion, its result is discarded,
	// and the server must stay healthy.
	sendRequest(t, conn, codec.CodecTypeJSON, 1, "Echo", echoArgs{Text: "doomed", DelayMs: 200})
	conn.Close()

	time.Sleep(400 * time.Millisecond)

	conn2, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn2.Close()

	sendRequest(t, conn2, codec.CodecTypeJSON, 1, "Echo", echoArgs{Text: "alive"})
	_, resp := readResponse(t, conn2, codec.CodecTypeJSON)
	if !resp.OK() {
		t.Fatalf("server unhealthy after mid-dispatch disconnect: %s", resp.Error)
	}
}

func TestServerHeartbeat(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Heartbeats are never answered; the next response belongs to the
	// request that follows.
	hb := protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeHeartbeat,
		Seq:       99,
	}
	if err := protocol.Encode(conn, &hb, nil); err != nil {
		t.Fatal(err)
	}

	sendRequest(t, conn, codec.CodecTypeJSON, 100, "Echo", echoArgs{Text: "hi"})
	header, resp := readResponse(t, conn, codec.CodecTypeJSON)
	if header.Seq != 100 {
		t.Errorf("expected response for seq 100, got %d", header.Seq)
	}
	if !resp.OK() {
		t.Fatalf("unexpected failure: %s", resp.Error)
	}
}

func TestServerByteByByteDelivery(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Build the frame off-wire, then trickle it one byte at a time.
	c := codec.GetCodec(codec.CodecTypeJSON)
	payload, _ := json.Marshal(echoArgs{Text: "trickle"})
	body, err := c.Encode(&message.Request{Command: "Echo", Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	header := protocol.Header{
		CodecType: byte(codec.CodecTypeJSON),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       5,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(&buf, &header, body); err != nil {
		t.Fatal(err)
	}

	for _, b := range buf.Bytes() {
		if _, err := conn.Write([]byte{b}); err != nil {
			t.Fatal(err)
		}
	}

	respHeader, resp := readResponse(t, conn, codec.CodecTypeJSON)
	if respHeader.Seq != 5 {
		t.Errorf("expected seq 5, got %d", respHeader.Seq)
	}
	if !resp.OK() {
		t.Fatalf("unexpected failure: %s", resp.Error)
	}
	var result echoResult
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		t.Fatal(err)
	}
	if result.Text != "trickle" {
		t.Errorf("expected 'trickle', got %q", result.Text)
	}
}

func TestServerResponseFrameAborts(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Only the server emits response frames; one arriving from the peer is
	// a protocol fault and must never reach the dispatcher.
	body, err := codec.GetCodec(codec.CodecTypeJSON).Encode(message.Ok(nil))
	if err != nil {
		t.Fatal(err)
	}
	header := protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       1,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(conn, &header, body); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after response-typed frame, got %v", err)
	}
}

func TestServerShutdownStopsNewDispatches(t *testing.T) {
	reg := capability.NewRegistry()
	err := reg.Register("Echo", capability.Func(
		func(ctx context.Context, args echoArgs) (echoResult, error) {
			return echoResult{Text: args.Text}, nil
		}))
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	svr := New(reg, nil)
	go svr.ServeListener(ln, "", nil)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sendRequest(t, conn, codec.CodecTypeJSON, 1, "Echo", echoArgs{Text: "before"})
	_, resp := readResponse(t, conn, codec.CodecTypeJSON)
	if !resp.OK() {
		t.Fatalf("unexpected failure: %s", resp.Error)
	}

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}

	// The connection outlives the listener, but once shutdown is waiting
	// for in-flight work no new dispatch may start.
	sendRequest(t, conn, codec.CodecTypeJSON, 2, "Echo", echoArgs{Text: "after"})
	_, resp = readResponse(t, conn, codec.CodecTypeJSON)
	if resp.Kind != message.KindOperationFailed {
		t.Fatalf("expected operation_failed after shutdown, got %q", resp.Kind)
	}
}

func TestServerCBORRequest(t *testing.T) {
	addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	sendRequest(t, conn, codec.CodecTypeCBOR, 1, "Echo", echoArgs{Text: "binary"})
	_, resp := readResponse(t, conn, codec.CodecTypeCBOR)
	if !resp.OK() {
		t.Fatalf("expected success, got %s: %s", resp.Kind, resp.Error)
	}
	var result echoResult
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		t.Fatal(err)
	}
	if result.Text != "binary" {
		t.Errorf("expected 'binary', got %q", result.Text)
	}
}
