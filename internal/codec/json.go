package codec

import (
	"bytes"
	"encoding/json"
	"io"
)

// JSON is a TypeDescriptor backed by encoding/json. It's the default
// descriptor for messages where human-readable wire format and easy
// interop with external tooling (dashboards, replay inspection) matter
// more than encoding speed or size — the same tradeoff the teacher makes
// for its WebSocket message envelopes.
type JSON[T any] struct {
	TypeName string
	Max      int
}

func NewJSON[T any](name string, maxSize int) JSON[T] {
	return JSON[T]{TypeName: name, Max: maxSize}
}

func (j JSON[T]) Name() string { return j.TypeName }
func (j JSON[T]) MaxSize() int { return j.Max }

func (j JSON[T]) Serialize(w io.Writer, v T) (int, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return 0, err
	}
	return w.Write(buf.Bytes())
}

func (j JSON[T]) Deserialize(r io.Reader) (T, error) {
	var v T
	err := json.NewDecoder(r).Decode(&v)
	return v, err
}
