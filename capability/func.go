package capability

import (
	"context"
	"encoding/json"
	"fmt"
)

// funcHandler adapts a typed operation to the Handler interface. The
// argument and result types are erased at the interface boundary: Accepts
// deserializes into A, Execute serializes the R it gets back.
//
// Payloads are always JSON regardless of the frame codec — the envelope
// codec is negotiable per connection, the payload format is part of each
// command's contract.
type funcHandler[A, R any] struct {
	op func(ctx context.Context, args A) (R, error)
}

// Func binds a typed operation to a type-erased Handler.
func Func[A, R any](op func(ctx context.Context, args A) (R, error)) Handler {
	return &funcHandler[A, R]{op: op}
}

func (h *funcHandler[A, R]) Accepts(payload []byte) (any, error) {
	var args A
	// An absent payload is acceptable for commands whose argument struct
	// has no required fields (e.g. TelemetryLoad).
	if len(payload) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(payload, &args); err != nil {
		return nil, fmt.Errorf("decoding arguments: %w", err)
	}
	return args, nil
}

func (h *funcHandler[A, R]) Execute(ctx context.Context, args any) ([]byte, error) {
	typed, ok := args.(A)
	if !ok {
		return nil, fmt.Errorf("arguments have type %T, not the accepted type", args)
	}
	result, err := h.op(ctx, typed)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return out, nil
}
