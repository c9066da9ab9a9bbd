package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/relaybus/rtbus/internal/metrics"
)

// KafkaConfig configures KafkaBridge, following the same broker/group/topic
// shape as the teacher's ConsumerConfig.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topic         string // single discovery topic; channel travels in the record key
	SelfID        string
	AnnounceEvery time.Duration
	PeerTTL       time.Duration
}

// KafkaBridge announces and discovers channel endpoints over a single
// Kafka/Redpanda topic, keying records by channel name the way the
// teacher's consumer keys records by token id.
type KafkaBridge struct {
	client     *kgo.Client
	cfg        KafkaConfig
	logger     zerolog.Logger
	membership *membership

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaBridge builds a client and starts its consume loop, folding
// every record's heartbeat into the membership tracker. observer is
// notified as peers are discovered or expire.
func NewKafkaBridge(cfg KafkaConfig, observer EndpointObserver, logger zerolog.Logger) (*KafkaBridge, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("bridge: at least one kafka broker is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("bridge: consumer group is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("bridge: discovery topic is required")
	}
	if cfg.AnnounceEvery <= 0 {
		cfg.AnnounceEvery = 5 * time.Second
	}
	if cfg.PeerTTL <= 0 {
		cfg.PeerTTL = 3 * cfg.AnnounceEvery
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &KafkaBridge{
		cfg:        cfg,
		logger:     logger,
		membership: newMembership(cfg.PeerTTL, observer),
		ctx:        ctx,
		cancel:     cancel,
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			b.logger.Info().Interface("partitions", assigned).Msg("bridge: kafka partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			b.logger.Info().Interface("partitions", revoked).Msg("bridge: kafka partitions revoked")
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("bridge: create kafka client: %w", err)
	}
	b.client = client

	b.wg.Add(1)
	go b.consumeLoop()
	return b, nil
}

type kafkaHeartbeat struct {
	Channel   string `json:"channel"`
	ProcessID string `json:"process_id"`
	RoleID    uint64 `json:"role_id"`
}

func (b *KafkaBridge) consumeLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		fetches := b.client.PollFetches(b.ctx)
		if b.ctx.Err() != nil {
			return
		}
		for _, err := range fetches.Errors() {
			metrics.BridgeErrors.WithLabelValues("kafka", "fetch").Inc()
			b.logger.Error().Err(err.Err).Str("topic", err.Topic).Int32("partition", err.Partition).Msg("bridge: kafka fetch error")
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			var hb kafkaHeartbeat
			if err := json.Unmarshal(rec.Value, &hb); err != nil {
				metrics.BridgeErrors.WithLabelValues("kafka", "decode").Inc()
				return
			}
			if hb.ProcessID == b.cfg.SelfID {
				return
			}
			b.membership.heartbeat(hb.Channel, PeerID{ProcessID: hb.ProcessID, RoleID: hb.RoleID}, time.Now())
			metrics.BridgePeersActive.WithLabelValues(hb.Channel, "kafka").Set(float64(b.membership.count(hb.Channel)))
		})
	}
}

// Announce starts periodically publishing this process's presence on
// channel for roleID. Each call owns its own ticker goroutine, stopped
// when the bridge is closed.
func (b *KafkaBridge) Announce(channel string, roleID uint64) error {
	payload, err := json.Marshal(kafkaHeartbeat{Channel: channel, ProcessID: b.cfg.SelfID, RoleID: roleID})
	if err != nil {
		return fmt.Errorf("bridge: encode heartbeat: %w", err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.AnnounceEvery)
		defer ticker.Stop()

		produce := func() {
			rec := &kgo.Record{Topic: b.cfg.Topic, Key: []byte(channel), Value: payload}
			b.client.Produce(b.ctx, rec, func(_ *kgo.Record, err error) {
				if err != nil {
					metrics.BridgeErrors.WithLabelValues("kafka", "produce").Inc()
				}
			})
		}
		produce()
		for {
			select {
			case <-ticker.C:
				produce()
			case <-b.ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Sweep expires peers that have missed PeerTTL worth of heartbeats,
// firing EndpointLeft on the observer.
func (b *KafkaBridge) Sweep() {
	b.membership.sweep(time.Now())
}

// Close stops the consume loop, all announce loops, and closes the client.
func (b *KafkaBridge) Close() error {
	b.cancel()
	b.wg.Wait()
	b.client.Close()
	return nil
}
