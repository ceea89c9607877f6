package botsense

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

// SourceStore is the slice of the persistence layer the manager needs. The
// in-memory view is a cache over the persisted value and is written through on
// every escalation or decay so concurrent orchestrators converge.
type SourceStore interface {
	GetSourceByHost(ctx context.Context, host string) (pipeline.Source, error)
	UpdateSensitivity(ctx context.Context, host string, sensitivity int, at time.Time, detection bool) error
	RecordBotDetection(ctx context.Context, event pipeline.BotDetectionEvent) error
}

// Config tunes escalation cooldowns and decay behavior. The cooldown
// multiplier curve is deliberately configuration, not a constant.
type Config struct {
	DecayFloor          int
	DecaySuccesses      int
	DecayQuietDays      int
	CooldownMultipliers []float64
	Overrides           map[string]int
}

type hostState struct {
	sensitivity   int
	updatedAt     time.Time
	lastDetection time.Time
	successStreak int
	encounters    int64
	loaded        bool
}

// Manager owns per-host sensitivity state.
type Manager struct {
	store  SourceStore
	clock  pipeline.Clock
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	hosts map[string]*hostState
}

// NewManager builds a Manager and validates the level table.
func NewManager(store SourceStore, clock pipeline.Clock, cfg Config, logger *zap.Logger) (*Manager, error) {
	if err := ValidateLevels(); err != nil {
		return nil, fmt.Errorf("sensitivity level table: %w", err)
	}
	if cfg.DecayFloor < MinSensitivity || cfg.DecayFloor > MaxSensitivity {
		return nil, fmt.Errorf("decay floor %d outside [%d,%d]", cfg.DecayFloor, MinSensitivity, MaxSensitivity)
	}
	if cfg.DecaySuccesses <= 0 {
		cfg.DecaySuccesses = 100
	}
	if cfg.DecayQuietDays <= 0 {
		cfg.DecayQuietDays = 7
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
		hosts:  make(map[string]*hostState),
	}, nil
}

// Sensitivity returns the current score for a host, loading it on first use.
func (m *Manager) Sensitivity(ctx context.Context, host string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.stateLocked(ctx, host)
	if err != nil {
		return 0, err
	}
	return st.sensitivity, nil
}

// ConfigFor returns the politeness tuple for the host's current score.
func (m *Manager) ConfigFor(ctx context.Context, host string) (LevelConfig, error) {
	level, err := m.Sensitivity(ctx, host)
	if err != nil {
		return LevelConfig{}, err
	}
	return LevelFor(level), nil
}

// HandleDetection applies a bot-detection event to the host's score. The
// returned bool reports whether the score actually changed; an event landing
// inside the cooldown window is recorded but does not re-escalate.
func (m *Manager) HandleDetection(ctx context.Context, host string, eventType pipeline.DetectionType, at time.Time) (bool, error) {
	rule, ok := escalationRules[eventType]
	if !ok {
		return false, fmt.Errorf("unknown detection event type %q", eventType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.stateLocked(ctx, host)
	if err != nil {
		return false, err
	}

	st.successStreak = 0
	st.lastDetection = at

	// Row creation stamps updatedAt too; the cooldown is armed only once a
	// prior adjustment has actually been recorded for the host.
	cooldown := time.Duration(float64(rule.baseCooldown) * m.multiplier(st.sensitivity))
	if st.encounters > 0 && !st.updatedAt.IsZero() && at.Sub(st.updatedAt) < cooldown {
		m.logger.Debug("sensitivity adjustment suppressed by cooldown",
			zap.String("host", host),
			zap.String("event", string(eventType)),
			zap.Int("sensitivity", st.sensitivity),
			zap.Duration("cooldown", cooldown),
		)
		return false, nil
	}

	previous := st.sensitivity
	next := Clamp(previous + rule.increase)
	if next > rule.maxCap {
		next = rule.maxCap
	}
	if next < previous {
		// A weak event's cap never walks an already-hot host back down.
		next = previous
	}
	if next == previous {
		return false, nil
	}

	if err := m.store.UpdateSensitivity(ctx, host, next, at, true); err != nil {
		return false, fmt.Errorf("persist sensitivity for %s: %w", host, err)
	}
	if err := m.store.RecordBotDetection(ctx, pipeline.BotDetectionEvent{
		Host:                host,
		EventType:           eventType,
		DetectedAt:          at,
		PreviousSensitivity: previous,
		NewSensitivity:      next,
	}); err != nil {
		return false, fmt.Errorf("record bot detection for %s: %w", host, err)
	}

	st.sensitivity = next
	st.updatedAt = at
	st.encounters++
	m.logger.Warn("host sensitivity escalated",
		zap.String("host", host),
		zap.String("event", string(eventType)),
		zap.Int("previous", previous),
		zap.Int("new", next),
	)
	return true, nil
}

// RecordSuccess counts a clean request against the host and decays its score
// by one once the configured streak and quiet period are both satisfied.
// Hosts never decay below the configured floor automatically.
func (m *Manager) RecordSuccess(ctx context.Context, host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.stateLocked(ctx, host)
	if err != nil {
		return err
	}

	st.successStreak++
	if st.successStreak < m.cfg.DecaySuccesses {
		return nil
	}
	if st.sensitivity <= m.cfg.DecayFloor {
		st.successStreak = 0
		return nil
	}
	now := m.clock.Now()
	quiet := time.Duration(m.cfg.DecayQuietDays) * 24 * time.Hour
	if !st.lastDetection.IsZero() && now.Sub(st.lastDetection) < quiet {
		return nil
	}

	next := st.sensitivity - 1
	if err := m.store.UpdateSensitivity(ctx, host, next, now, false); err != nil {
		return fmt.Errorf("persist sensitivity decay for %s: %w", host, err)
	}
	m.logger.Info("host sensitivity decayed",
		zap.String("host", host),
		zap.Int("previous", st.sensitivity),
		zap.Int("new", next),
	)
	st.sensitivity = next
	st.updatedAt = now
	st.successStreak = 0
	return nil
}

// Invalidate drops the cached state for a host so the next read goes back to
// the store. Used when another process may have adjusted the host.
func (m *Manager) Invalidate(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hosts, normalizeHost(host))
}

// Snapshot returns the cached sensitivity view for the status API.
func (m *Manager) Snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.hosts))
	for host, st := range m.hosts {
		out[host] = st.sensitivity
	}
	return out
}

func (m *Manager) stateLocked(ctx context.Context, host string) (*hostState, error) {
	key := normalizeHost(host)
	if st, ok := m.hosts[key]; ok && st.loaded {
		return st, nil
	}

	src, err := m.store.GetSourceByHost(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", key, err)
	}

	st := &hostState{
		sensitivity: Clamp(src.BotSensitivity),
		updatedAt:   src.BotSensitivityAt,
		encounters:  src.BotEncounters,
		loaded:      true,
	}
	if src.LastBotDetectionAt != nil {
		st.lastDetection = *src.LastBotDetectionAt
	}
	// Seeded overrides win until the first automatic adjustment is recorded.
	if override, ok := m.cfg.Overrides[key]; ok && src.BotEncounters == 0 {
		st.sensitivity = Clamp(override)
	}
	m.hosts[key] = st
	return st, nil
}

func (m *Manager) multiplier(sensitivity int) float64 {
	idx := Clamp(sensitivity) - 1
	if idx >= len(m.cfg.CooldownMultipliers) {
		if len(m.cfg.CooldownMultipliers) == 0 {
			return 1
		}
		idx = len(m.cfg.CooldownMultipliers) - 1
	}
	return m.cfg.CooldownMultipliers[idx]
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}
