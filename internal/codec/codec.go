// Package codec defines the serialization boundary between a typed message
// and the bytes that cross the shared-memory ring: a TypeDescriptor names
// the type, bounds its encoded size, and knows how to serialize/deserialize
// it. The transport never sees T directly, only these bytes plus the
// descriptor's Name, which lets a discovery layer reject a peer publishing
// an incompatible type under the same channel name.
package codec

import "io"

// TypeDescriptor is supplied by callers of internal/transport to describe
// the message type flowing over a channel.
type TypeDescriptor[T any] interface {
	// Name identifies the type for discovery-time compatibility checks.
	// Version negotiation beyond a name match is left to the discovery
	// layer (internal/bridge), same as spec.md's serialization boundary.
	Name() string

	// MaxSize bounds the encoded size; the channel's ceiling message size
	// must be at least this large.
	MaxSize() int

	// Serialize writes v's encoding to w, returning the number of bytes
	// written.
	Serialize(w io.Writer, v T) (int, error)

	// Deserialize reads and decodes a value of T from r.
	Deserialize(r io.Reader) (T, error)
}
