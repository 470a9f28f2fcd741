package goIdentity

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/cache"
	"github.com/MrEthical07/goIdentity/config"
	internalaudit "github.com/MrEthical07/goIdentity/internal/audit"
	"github.com/MrEthical07/goIdentity/internal/credentials"
	internalflows "github.com/MrEthical07/goIdentity/internal/flows"
	"github.com/MrEthical07/goIdentity/internal/otp"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/notify"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/permission"
	"github.com/MrEthical07/goIdentity/revocation"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/MrEthical07/goIdentity/store"
)

// Redis key namespaces used by WithRedis. Each concern gets its own
// namespace because clearing one (session sweep, permission refresh) must
// never touch the others.
const (
	RedisNamespaceSessions    = "goid:sess"
	RedisNamespacePermissions = "goid:perm"
	RedisNamespaceRevocations = "goid:revoked"
)

// Caches groups the three cache namespaces the engine needs.
type Caches struct {
	Sessions    cache.Cache
	Permissions cache.Cache
	Revocations cache.Cache
}

// Builder assembles an [Engine]. A Builder is used once; configure it during
// initialization and call Build.
type Builder struct {
	config   Config
	store    store.Store
	redis    redis.UniversalClient
	caches   *Caches
	provider config.Provider
	notifier notify.Notifier
	reporter notify.FailureReporter
	sink     AuditSink
	logger   *slog.Logger
	now      func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the construction-time configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence layer. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis backs every cache namespace with client. Without it, and
// without WithCaches, in-process memory caches are used, which is only
// correct for a single engine instance.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCaches sets each cache namespace explicitly. It takes precedence over
// WithRedis.
func (b *Builder) WithCaches(c Caches) *Builder {
	b.caches = &c
	return b
}

// WithConfigProvider sets the source of runtime tunables. Defaults apply to
// every key the provider does not hold.
func (b *Builder) WithConfigProvider(p config.Provider) *Builder {
	b.provider = p
	return b
}

// WithNotifier sets the OTP delivery channel. The default logs the masked
// destination and delivers nothing.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithFailureReporter receives failed OTP deliveries, e.g. notify.SentryReporter.
func (b *Builder) WithFailureReporter(r notify.FailureReporter) *Builder {
	b.reporter = r
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the logger for best-effort failures. The default discards.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every time-dependent component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the ValidateSession latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, fmt.Errorf("%w: store required", ErrInvalidConfig)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	provider := b.provider
	if provider == nil {
		provider = config.NewStatic(nil)
	}
	notifier := b.notifier
	if notifier == nil {
		notifier = notify.LogNotifier{Logger: logger}
	}

	var caches Caches
	switch {
	case b.caches != nil:
		caches = *b.caches
	case b.redis != nil:
		caches = Caches{
			Sessions:    cache.NewRedis(b.redis, RedisNamespaceSessions),
			Permissions: cache.NewRedis(b.redis, RedisNamespacePermissions),
			Revocations: cache.NewRedis(b.redis, RedisNamespaceRevocations),
		}
	default:
		caches = Caches{
			Sessions:    cache.NewMemory(now),
			Permissions: cache.NewMemory(now),
			Revocations: cache.NewMemory(now),
		}
	}
	if caches.Sessions == nil || caches.Permissions == nil || caches.Revocations == nil {
		return nil, fmt.Errorf("%w: every cache namespace must be set", ErrInvalidConfig)
	}

	// -------- CREDENTIALS --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	users := credentials.NewStore(b.store)
	policy := credentials.NewPolicy(users, hasher, provider, now, logger)

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		ResetTTL:      cfg.JWT.ResetTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	revoked := revocation.New(caches.Revocations, jm, revocation.Config{
		FallbackTTL: cfg.Revocation.FallbackTTL,
		MaxTTL:      cfg.Revocation.MaxTTL,
		Leeway:      cfg.JWT.Leeway,
		Now:         now,
	})

	// -------- SESSIONS --------
	registry := session.NewRegistry(b.store, caches.Sessions, cfg.Session.CacheTTL, logger)
	sessions := session.NewManager(registry, b.store, provider, now, logger)

	engine := &Engine{
		config:      cfg,
		store:       b.store,
		provider:    provider,
		users:       users,
		policy:      policy,
		jwtManager:  jm,
		revocations: revoked,
		sessions:    sessions,
		metrics:     NewMetrics(cfg.Metrics),
		logger:      logger,
		now:         now,
	}

	sweeper, err := session.NewSweeper(sessions, cfg.Session.SweepSchedule, cfg.Session.SweepBatch, logger, engine.onSwept)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	engine.sweeper = sweeper

	// -------- PERMISSIONS --------
	bus := permission.NewBus()
	engine.permissions = permission.NewCache(b.store, caches.Permissions, cfg.Permission.CacheTTL, logger)
	engine.permissions.OnLookup(engine.recordPermissionLookup)
	bus.Subscribe(engine.permissions.Handle)
	bus.Subscribe(engine.auditPermissionEvent)
	engine.admin = permission.NewAdmin(b.store, bus)

	// -------- OTP + DELIVERY --------
	engine.challenges = otp.NewChallenge(otp.NewLedger(b.store), users, policy, jm, provider, otp.Options{
		BcryptCost: cfg.OTP.BcryptCost,
		Now:        now,
		Logger:     logger,
	})
	engine.delivery = notify.NewDispatcher(notify.DispatcherConfig{
		QueueSize:   cfg.Notification.QueueSize,
		Workers:     cfg.Notification.Workers,
		SendTimeout: cfg.Notification.SendTimeout,
	}, notifier, engine.recordDelivery, b.reporter, logger)

	// -------- AUDIT --------
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Now:        now,
	}, b.sink)

	engine.flows = internalflows.New(engine.flowDeps())

	b.built = true

	return engine, nil
}
