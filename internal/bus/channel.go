// Package bus identifies channels and routes posted messages to the local
// receivers subscribed to them.
package bus

import "github.com/cespare/xxhash/v2"

// ID is a channel's stable, process- and host-independent identity. All
// peers that agree on a channel name derive the same ID, which is what lets
// them agree on the shared-memory segment key in internal/shm.
type ID uint64

// ChannelID hashes a channel name into its stable ID. xxhash operates on the
// name's byte sequence rather than machine words, so the result is the same
// regardless of host endianness.
func ChannelID(name string) ID {
	return ID(xxhash.Sum64String(name))
}

// Channel is the (name, id) pair peers exchange during discovery.
type Channel struct {
	Name string
	ID   ID
}

// NewChannel builds a Channel from its name, computing the ID.
func NewChannel(name string) Channel {
	return Channel{Name: name, ID: ChannelID(name)}
}
