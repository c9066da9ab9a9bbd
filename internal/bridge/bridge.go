// Package bridge translates a remote discovery/RPC transport (NATS,
// Kafka/Redpanda) into the narrow observer contract the local transport
// assumes: for each channel, the identities of other processes' endpoints,
// and a callback fired when one appears or disappears. Neither adapter
// carries channel payloads itself — messages only ever move through
// internal/shm on this host; the bridge exists purely so a Node can learn
// who else, on which host, is publishing or receiving on a channel it
// cares about.
package bridge

import (
	"sync"
	"time"
)

// PeerID identifies a remote endpoint announced over a discovery bridge.
type PeerID struct {
	ProcessID string // host:pid, or whatever identity the transport's announce payload carries
	RoleID    uint64
}

// EndpointObserver is notified when a remote peer's presence on a channel
// changes. Implementations must not block; a bridge's internal goroutine
// calls these directly off its read loop.
type EndpointObserver interface {
	EndpointJoined(channel string, peer PeerID)
	EndpointLeft(channel string, peer PeerID)
}

// membership tracks which remote peers are currently live on a channel from
// a stream of heartbeats, firing EndpointObserver callbacks on first-seen
// and on expiry. It has no transport dependency so it can be driven and
// tested independent of NATS or Kafka.
type membership struct {
	mu       sync.Mutex
	ttl      time.Duration
	observer EndpointObserver
	lastSeen map[string]map[PeerID]time.Time // channel -> peer -> last heartbeat
}

func newMembership(ttl time.Duration, observer EndpointObserver) *membership {
	return &membership{
		ttl:      ttl,
		observer: observer,
		lastSeen: make(map[string]map[PeerID]time.Time),
	}
}

// heartbeat records a liveness signal from peer on channel at time now,
// firing EndpointJoined the first time this peer is seen on this channel.
func (m *membership) heartbeat(channel string, peer PeerID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	peers, ok := m.lastSeen[channel]
	if !ok {
		peers = make(map[PeerID]time.Time)
		m.lastSeen[channel] = peers
	}
	_, known := peers[peer]
	peers[peer] = now
	if !known && m.observer != nil {
		m.observer.EndpointJoined(channel, peer)
	}
}

// sweep expires every peer whose last heartbeat is older than ttl relative
// to now, firing EndpointLeft for each. Returns the count of live peers
// remaining across all channels, for gauge reporting.
func (m *membership) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := 0
	for channel, peers := range m.lastSeen {
		for peer, seen := range peers {
			if now.Sub(seen) > m.ttl {
				delete(peers, peer)
				if m.observer != nil {
					m.observer.EndpointLeft(channel, peer)
				}
				continue
			}
			live++
		}
		if len(peers) == 0 {
			delete(m.lastSeen, channel)
		}
	}
	return live
}

// count reports the current number of live peers known on channel.
func (m *membership) count(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lastSeen[channel])
}
