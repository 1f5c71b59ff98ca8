package capability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Text string `json:"text"`
}

type echoResult struct {
	Text string `json:"text"`
}

func echoHandler() Handler {
	return Func(func(ctx context.Context, args echoArgs) (echoResult, error) {
		return echoResult{Text: args.Text}, nil
	})
}

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("Echo", echoHandler()))

	h, ok := reg.Lookup("Echo")
	assert.True(t, ok)
	assert.NotNil(t, h)
	assert.Equal(t, 1, reg.Commands())

	_, ok = reg.Lookup("Missing")
	assert.False(t, ok)
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("Echo", echoHandler()))

	err := reg.Register("Echo", echoHandler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestRegisterEmptyIdentifier(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register("", echoHandler()))
}

func TestFuncAccepts(t *testing.T) {
	h := echoHandler()

	args, err := h.Accepts([]byte(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, echoArgs{Text: "hi"}, args)
}

func TestFuncAcceptsEmptyPayload(t *testing.T) {
	h := echoHandler()

	args, err := h.Accepts(nil)
	require.NoError(t, err)
	assert.Equal(t, echoArgs{}, args)
}

func TestFuncAcceptsMalformedPayload(t *testing.T) {
	h := echoHandler()

	_, err := h.Accepts([]byte(`{"text":`))
	assert.Error(t, err)
}

func TestFuncExecute(t *testing.T) {
	h := echoHandler()

	out, err := h.Execute(context.Background(), echoArgs{Text: "hi"})
	require.NoError(t, err)

	var result echoResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "hi", result.Text)
}

func TestFuncExecuteWrongArgType(t *testing.T) {
	h := echoHandler()

	_, err := h.Execute(context.Background(), "not echoArgs")
	assert.Error(t, err)
}

func TestFuncExecuteOperationError(t *testing.T) {
	opErr := errors.New("resource unavailable")
	h := Func(func(ctx context.Context, args echoArgs) (echoResult, error) {
		return echoResult{}, opErr
	})

	args, err := h.Accepts([]byte(`{"text":"x"}`))
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), args)
	assert.ErrorIs(t, err, opErr)
}
