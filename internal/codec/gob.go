package codec

import (
	"bytes"
	"encoding/gob"
	"io"
)

// Gob is a TypeDescriptor backed by encoding/gob, for messages where
// encoding density and speed matter more than human readability — high
// rate sensor or control-loop channels are the expected users.
type Gob[T any] struct {
	TypeName string
	Max      int
}

func NewGob[T any](name string, maxSize int) Gob[T] {
	return Gob[T]{TypeName: name, Max: maxSize}
}

func (g Gob[T]) Name() string { return g.TypeName }
func (g Gob[T]) MaxSize() int { return g.Max }

func (g Gob[T]) Serialize(w io.Writer, v T) (int, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return 0, err
	}
	return w.Write(buf.Bytes())
}

func (g Gob[T]) Deserialize(r io.Reader) (T, error) {
	var v T
	err := gob.NewDecoder(r).Decode(&v)
	return v, err
}
