// Package services provides business logic for the space-weather pipeline
package services

import (
	"go-spacewx/internal/clients"
	"go-spacewx/internal/config"
	"go-spacewx/internal/domain"
	"go-spacewx/internal/repo"

	"go.uber.org/zap"
)

// Backends are the storage tiers available at startup. Postgres and Redis
// are optional; Memory is always present.
type Backends struct {
	Postgres *repo.PostgresStore
	Redis    *repo.RedisStore
	Memory   *repo.MemoryStore
}

// Services holds every wired service
type Services struct {
	Space        *SpaceService
	Registry     *Registry
	Orchestrator *Orchestrator
	Snapshots    *SnapshotStore
}

// NewFeeds builds the upstream feed clients from config
func NewFeeds(cfg *config.AppConfig) Feeds {
	timeout := cfg.Pipeline.FetchTimeout()
	return Feeds{
		Plasma: clients.PlasmaClient{FeedClient: clients.NewFeedClient(cfg.Feeds.Plasma, timeout)},
		Mag:    clients.MagClient{FeedClient: clients.NewFeedClient(cfg.Feeds.Mag, timeout)},
		Kp:     clients.KpClient{FeedClient: clients.NewFeedClient(cfg.Feeds.Kp, timeout)},
		Xray:   clients.XrayClient{FeedClient: clients.NewFeedClient(cfg.Feeds.Xray, timeout)},
	}
}

// New wires the services over the given backends. Snapshot reads go
// Redis, Postgres, memory; device and log writes go Postgres, memory.
func New(cfg *config.AppConfig, b Backends, feeds Feeds, pusher PushSender, clock domain.Clock, ids domain.IDGenerator, log *zap.Logger) *Services {
	var tiers []SnapshotTier
	var devices []DeviceRepo
	var logs []NotificationLog
	var cooldownStore CooldownStore = b.Memory

	if b.Redis != nil {
		tiers = append(tiers, b.Redis)
		cooldownStore = b.Redis
	}
	if b.Postgres != nil {
		tiers = append(tiers, b.Postgres)
		devices = append(devices, b.Postgres)
		logs = append(logs, b.Postgres)
	}
	devices = append(devices, b.Memory)
	logs = append(logs, b.Memory)

	p := cfg.Pipeline
	store := NewSnapshotStore(tiers, b.Memory, clock, p.StaleAfter(), log)
	aggregator := NewAggregator(feeds, clock, p.StaleAfter(), log)
	registry := NewRegistry(devices, clock, log)
	notifier := NewNotifier(
		pusher,
		NewCooldown(cooldownStore, p.Cooldown(), log),
		logs,
		registry,
		clock,
		cfg.Push.ChannelID,
		log,
	)

	orchestrator := NewOrchestrator(aggregator, store, registry, notifier, clock, ids, OrchestratorConfig{
		Interval: p.TickInterval(),
		Timeout:  p.TickTimeout(),
	}, log)

	return &Services{
		Space:        NewSpaceService(aggregator, store, clock, p.NowCache(), log),
		Registry:     registry,
		Orchestrator: orchestrator,
		Snapshots:    store,
	}
}
