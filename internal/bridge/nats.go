package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/relaybus/rtbus/internal/metrics"
)

// NATSConfig configures NATSBridge, mirroring the reconnect/ping tuning the
// teacher's NATS client exposes.
type NATSConfig struct {
	URL             string
	SelfID          string // this process's announced identity, e.g. host:pid
	AnnounceEvery   time.Duration
	PeerTTL         time.Duration
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
}

type heartbeatPayload struct {
	ProcessID string `json:"process_id"`
	RoleID    uint64 `json:"role_id"`
}

// NATSBridge announces and discovers channel endpoints over a shared NATS
// subject space (one subject per channel, under a common prefix), the way
// the teacher's Client builds subjects per token under an "odin." prefix.
type NATSBridge struct {
	conn       *nats.Conn
	cfg        NATSConfig
	logger     zerolog.Logger
	observer   EndpointObserver
	membership *membership

	mu        sync.Mutex
	subs      map[string]*nats.Subscription
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewNATSBridge connects to a NATS server and prepares (without yet
// announcing on) a discovery bridge. observer is notified as peers are
// discovered or expire.
func NewNATSBridge(cfg NATSConfig, observer EndpointObserver, logger zerolog.Logger) (*NATSBridge, error) {
	if cfg.AnnounceEvery <= 0 {
		cfg.AnnounceEvery = 5 * time.Second
	}
	if cfg.PeerTTL <= 0 {
		cfg.PeerTTL = 3 * cfg.AnnounceEvery
	}

	b := &NATSBridge{
		cfg:        cfg,
		logger:     logger,
		observer:   observer,
		membership: newMembership(cfg.PeerTTL, observer),
		subs:       make(map[string]*nats.Subscription),
		stopped:    make(chan struct{}),
	}

	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				metrics.BridgeErrors.WithLabelValues("nats", "disconnect").Inc()
				b.logger.Warn().Err(err).Msg("nats bridge disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.logger.Info().Str("url", c.ConnectedUrl()).Msg("nats bridge reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			metrics.BridgeErrors.WithLabelValues("nats", "async_error").Inc()
			b.logger.Error().Err(err).Msg("nats bridge async error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bridge: connect to nats: %w", err)
	}
	b.conn = conn
	return b, nil
}

func (b *NATSBridge) subject(channel string) string {
	return "rtbus.discovery." + channel
}

// Announce starts publishing this process's presence on channel for roleID
// (a writer or receiver's registry role) and subscribes to the same
// subject to learn about peers. Safe to call once per (channel, roleID).
func (b *NATSBridge) Announce(channel string, roleID uint64) error {
	subj := b.subject(channel)

	b.mu.Lock()
	_, already := b.subs[subj]
	b.mu.Unlock()
	if !already {
		sub, err := b.conn.Subscribe(subj, func(msg *nats.Msg) {
			var hb heartbeatPayload
			if err := json.Unmarshal(msg.Data, &hb); err != nil {
				metrics.BridgeErrors.WithLabelValues("nats", "decode").Inc()
				return
			}
			if hb.ProcessID == b.cfg.SelfID {
				return // ignore our own announcements echoed back
			}
			b.membership.heartbeat(channel, PeerID{ProcessID: hb.ProcessID, RoleID: hb.RoleID}, time.Now())
			metrics.BridgePeersActive.WithLabelValues(channel, "nats").Set(float64(b.membership.count(channel)))
		})
		if err != nil {
			return fmt.Errorf("bridge: subscribe to %s: %w", subj, err)
		}
		b.mu.Lock()
		b.subs[subj] = sub
		b.mu.Unlock()
	}

	go b.announceLoop(subj, roleID)
	return nil
}

func (b *NATSBridge) announceLoop(subj string, roleID uint64) {
	ticker := time.NewTicker(b.cfg.AnnounceEvery)
	defer ticker.Stop()

	payload, _ := json.Marshal(heartbeatPayload{ProcessID: b.cfg.SelfID, RoleID: roleID})
	b.conn.Publish(subj, payload)

	for {
		select {
		case <-ticker.C:
			if err := b.conn.Publish(subj, payload); err != nil {
				metrics.BridgeErrors.WithLabelValues("nats", "publish").Inc()
			}
		case <-b.stopped:
			return
		}
	}
}

// Sweep expires peers that have missed PeerTTL worth of heartbeats,
// firing EndpointLeft on the observer. Intended to run alongside
// announceLoop on the same cadence as internal/health's sampler.
func (b *NATSBridge) Sweep() {
	b.membership.sweep(time.Now())
}

// Close stops announcing and tears down the NATS connection. Safe to call
// more than once.
func (b *NATSBridge) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopped)
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, sub := range b.subs {
			sub.Unsubscribe()
		}
		if b.conn != nil {
			b.conn.Close()
		}
	})
	return nil
}
