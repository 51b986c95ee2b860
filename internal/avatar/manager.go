// Package avatar implements the avatar interaction session core: the
// registry of live sessions, the per-session capability handles, the
// conversational turn loop, timeout-driven teardown and health sampling.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/capability"
	"github.com/luminalabs/mira/internal/observability"
	"github.com/luminalabs/mira/internal/response"
	"github.com/luminalabs/mira/internal/store"
)

// Providers bundles the three required capability providers.
type Providers struct {
	Rendering capability.RenderingProvider
	Speech    capability.SpeechProvider
	Dialogue  capability.DialogueProvider
}

// PerformanceThresholds are advisory limits used by health evaluation.
type PerformanceThresholds struct {
	MaxLatency     time.Duration
	MinFPS         float64
	MaxMemoryBytes int64
}

// Options configures the manager. Zero fields take the documented defaults.
type Options struct {
	MaxConcurrentAvatars int
	AvatarTimeout        time.Duration
	// ResetTimeoutOnActivity, when set, re-arms the session timeout on every
	// explicit session operation. Off by default: the timeout is single-shot
	// from creation.
	ResetTimeoutOnActivity    bool
	PerformanceSampleInterval time.Duration
	HealthCheckInterval       time.Duration
	DefaultConfig             SessionConfig
	Thresholds                PerformanceThresholds
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentAvatars <= 0 {
		o.MaxConcurrentAvatars = 10
	}
	if o.AvatarTimeout <= 0 {
		o.AvatarTimeout = 5 * time.Minute
	}
	if o.PerformanceSampleInterval <= 0 {
		o.PerformanceSampleInterval = 5 * time.Second
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = 30 * time.Second
	}
	return o
}

// Manager owns the session registry. All registry mutation happens under
// the manager lock; capability provider calls run outside it, so operations
// on different sessions interleave freely at those points.
type Manager struct {
	log     zerolog.Logger
	bus     *bus.Bus
	metrics *observability.Metrics
	stages  *observability.TurnStageWindow
	store   store.Store
	opts    Options

	mu          sync.Mutex
	initialized bool
	providers   Providers
	generator   *response.Generator
	sessions    map[string]*session
	summaries   map[string]*Summary

	// reserved counts admission slots, including creations still in flight,
	// so two concurrent creates cannot both squeeze through the last slot.
	reserved int

	totalCreated  int64
	totalTurns    int64
	totalTurnTime time.Duration

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

func NewManager(opts Options, b *bus.Bus, metrics *observability.Metrics, st store.Store, log zerolog.Logger) *Manager {
	if st == nil {
		st = store.NewInMemoryStore()
	}
	return &Manager{
		log:       log.With().Str("component", "avatar").Logger(),
		bus:       b,
		metrics:   metrics,
		stages:    observability.NewTurnStageWindow(256),
		store:     st,
		opts:      opts.withDefaults(),
		sessions:  make(map[string]*session),
		summaries: make(map[string]*Summary),
	}
}

// Initialize wires the capability providers, forwards their asynchronous
// faults as service-error signals and starts the sampling loops. A second
// call on an initialized manager is a logged no-op.
func (m *Manager) Initialize(providers Providers) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		m.log.Debug().Msg("manager already initialized")
		return nil
	}
	if providers.Rendering == nil {
		return fmt.Errorf("%w: rendering", ErrMissingDependency)
	}
	if providers.Speech == nil {
		return fmt.Errorf("%w: speech", ErrMissingDependency)
	}
	if providers.Dialogue == nil {
		return fmt.Errorf("%w: dialogue", ErrMissingDependency)
	}

	m.providers = providers
	m.generator = response.NewGenerator(providers.Rendering, m.bus, m.log)

	ctx, cancel := context.WithCancel(context.Background())
	m.bgCtx = ctx
	m.bgCancel = cancel

	m.forwardFaults(ctx, "rendering", providers.Rendering)
	m.forwardFaults(ctx, "speech", providers.Speech)
	m.forwardFaults(ctx, "dialogue", providers.Dialogue)

	m.wg.Add(2)
	go m.performanceLoop(ctx)
	go m.healthLoop(ctx)

	m.initialized = true
	m.log.Info().
		Int("max_concurrent", m.opts.MaxConcurrentAvatars).
		Dur("avatar_timeout", m.opts.AvatarTimeout).
		Msg("avatar manager initialized")
	return nil
}

func (m *Manager) forwardFaults(ctx context.Context, name string, p any) {
	notifier, ok := p.(capability.FaultNotifier)
	if !ok {
		return
	}
	faults := notifier.ServiceFaults()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case f, open := <-faults:
				if !open {
					return
				}
				m.log.Warn().Str("provider", name).Str("code", f.Code).Str("detail", f.Detail).
					Msg("provider fault")
				if m.metrics != nil {
					m.metrics.ProviderErrors.WithLabelValues(name, "fault").Inc()
				}
				m.publish(bus.SignalServiceError, map[string]any{
					"provider":  name,
					"code":      f.Code,
					"detail":    f.Detail,
					"retryable": f.Retryable,
				})
			}
		}
	}()
}

func (m *Manager) requireInit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	return nil
}

// CreateSession admits a new session, acquires the three capability handles
// in order (rendering, speech, dialogue) and returns a sanitized view.
// The admission slot is reserved before the first provider call and released
// on any failure, so the capacity check cannot be raced past.
func (m *Manager) CreateSession(ctx context.Context, userID string, cfg SessionConfig) (View, error) {
	if err := m.requireInit(); err != nil {
		return View{}, err
	}

	m.mu.Lock()
	if m.reserved >= m.opts.MaxConcurrentAvatars {
		m.mu.Unlock()
		return View{}, fmt.Errorf("%w (%d)", ErrCapacityExceeded, m.opts.MaxConcurrentAvatars)
	}
	m.reserved++

	now := time.Now().UTC()
	s := &session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         StatusCreating,
		CreatedAt:      now,
		LastActivityAt: now,
		Config:         mergeConfig(m.opts.DefaultConfig, cfg),
	}
	m.sessions[s.ID] = s
	m.appendEventLocked(s, "creating", nil)
	merged := s.Config
	m.mu.Unlock()

	avatarH, err := m.providers.Rendering.CreateAvatar(ctx, merged.Rendering)
	if err != nil {
		return View{}, m.failCreate(s.ID, "rendering", "create_avatar", err)
	}
	if !m.storeHandle(s.ID, func(s *session) { s.Avatar = avatarH }) {
		return View{}, ErrSessionNotFound
	}

	streamH, events, err := m.providers.Speech.StartSpeechRecognition(ctx, s.ID, merged.Speech)
	if err != nil {
		return View{}, m.failCreate(s.ID, "speech", "start_recognition", err)
	}
	if !m.storeHandle(s.ID, func(s *session) { s.SpeechStream = streamH }) {
		return View{}, ErrSessionNotFound
	}
	m.drainRecognition(s.ID, events)

	convH, err := m.providers.Dialogue.CreateConversation(ctx, userID, merged.Dialogue)
	if err != nil {
		return View{}, m.failCreate(s.ID, "dialogue", "create_conversation", err)
	}

	m.mu.Lock()
	live, ok := m.sessions[s.ID]
	if !ok {
		m.mu.Unlock()
		return View{}, ErrSessionNotFound
	}
	live.Conversation = convH
	live.Status = StatusReady
	m.totalCreated++
	m.appendEventLocked(live, "created", map[string]any{"user_id": userID})
	m.scheduleTimeoutLocked(live)
	view := live.view()
	liveCount := len(m.sessions)
	m.mu.Unlock()

	m.observeSessionCount(liveCount)
	m.countEvent("created")
	m.publish(bus.SignalSessionCreated, map[string]any{"session_id": s.ID, "user_id": userID})
	m.log.Info().Str("session_id", s.ID).Str("user_id", userID).Msg("session created")
	return view, nil
}

// storeHandle applies one creation step under the lock. It reports false if
// the session was ended while the provider call was in flight.
func (m *Manager) storeHandle(id string, apply func(*session)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	apply(s)
	return true
}

// drainRecognition consumes the creation-time recognition stream. Streaming
// transcripts for the UI flow through the input processor's own stream; this
// one only exists so the session can answer buffered ProcessSpeechStream
// calls, so stream-level errors are the only events worth forwarding.
// A provider whose stop call fails may never close the channel, so the
// goroutine also exits on the manager's background context.
func (m *Manager) drainRecognition(sessionID string, events <-chan capability.TranscriptionEvent) {
	if events == nil {
		return
	}
	m.mu.Lock()
	ctx := m.bgCtx
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, open := <-events:
				if !open {
					return
				}
				if ev.Type != capability.TranscriptionError {
					continue
				}
				m.publish(bus.SignalServiceError, map[string]any{
					"provider":   "speech",
					"session_id": sessionID,
					"detail":     ev.Detail,
				})
			}
		}
	}()
}

// failCreate moves a failed creation to terminal error status, releases the
// admission slot and retains the summary. Handles acquired by completed
// steps are not rolled back here; teardown of those is the caller's retry
// or capacity janitor concern (accepted creation race).
func (m *Manager) failCreate(id, provider, op string, cause error) error {
	werr := providerErr(provider, op, cause)

	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		s.Status = StatusError
		m.appendEventLocked(s, "error", map[string]any{
			"provider": provider,
			"op":       op,
			"error":    cause.Error(),
		})
		delete(m.sessions, id)
		m.reserved--
		stopTimerLocked(s)
		sum := m.buildSummaryLocked(s, "create_failed", nil)
		m.summaries[id] = sum
	}
	liveCount := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ProviderErrors.WithLabelValues(provider, op).Inc()
	}
	m.observeSessionCount(liveCount)
	m.countEvent("create_failed")
	m.publish(bus.SignalServiceError, map[string]any{
		"provider":   provider,
		"session_id": id,
		"op":         op,
		"detail":     cause.Error(),
	})
	m.log.Error().Err(cause).Str("session_id", id).Str("provider", provider).Msg("session creation failed")
	return werr
}

// StartInteraction enables the requested interaction channels and moves the
// session to active.
func (m *Manager) StartInteraction(ctx context.Context, sessionID string, cfg InteractionConfig) (View, error) {
	if err := m.requireInit(); err != nil {
		return View{}, err
	}

	rendering := flagOn(cfg.Rendering)
	listening := flagOn(cfg.Listening)
	conversation := flagOn(cfg.Conversation)

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return View{}, ErrSessionNotFound
	}
	if s.Status != StatusReady && s.Status != StatusActive {
		status := s.Status
		m.mu.Unlock()
		return View{}, fmt.Errorf("%w: session is %s", ErrPreconditionFailed, status)
	}
	if rendering && s.Avatar == "" {
		m.mu.Unlock()
		return View{}, fmt.Errorf("%w: no avatar handle", ErrPreconditionFailed)
	}
	if listening && s.SpeechStream == "" {
		m.mu.Unlock()
		return View{}, fmt.Errorf("%w: no speech stream", ErrPreconditionFailed)
	}
	if conversation && s.Conversation == "" {
		m.mu.Unlock()
		return View{}, fmt.Errorf("%w: no conversation handle", ErrPreconditionFailed)
	}
	avatarH := s.Avatar
	renderCfg := s.Config.Rendering
	m.mu.Unlock()

	if rendering {
		if err := m.providers.Rendering.StartRendering(ctx, avatarH, renderCfg); err != nil {
			if m.metrics != nil {
				m.metrics.ProviderErrors.WithLabelValues("rendering", "start_rendering").Inc()
			}
			return View{}, providerErr("rendering", "start_rendering", err)
		}
	}

	m.mu.Lock()
	s, ok = m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return View{}, ErrSessionNotFound
	}
	s.State.Rendering = s.State.Rendering || rendering
	s.State.Listening = s.State.Listening || listening
	s.State.ConversationActive = s.State.ConversationActive || conversation
	s.Status = StatusActive
	m.touchLocked(s)
	m.appendEventLocked(s, "interaction_started", map[string]any{
		"rendering":    rendering,
		"listening":    listening,
		"conversation": conversation,
	})
	view := s.view()
	m.mu.Unlock()

	m.countEvent("interaction_started")
	m.publish(bus.SignalInteractionStarted, map[string]any{"session_id": sessionID})
	return view, nil
}

// UpdateState merges a partial live-state change, issuing the matching
// rendering calls for animation and emotion updates.
func (m *Manager) UpdateState(ctx context.Context, sessionID string, upd StateUpdate) (View, error) {
	if err := m.requireInit(); err != nil {
		return View{}, err
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return View{}, ErrSessionNotFound
	}
	avatarH := s.Avatar
	m.mu.Unlock()

	if upd.Animation != "" {
		if avatarH == "" {
			return View{}, fmt.Errorf("%w: no avatar handle", ErrPreconditionFailed)
		}
		if err := m.providers.Rendering.PlayAnimation(ctx, avatarH, upd.Animation, capability.PlayOptions{}); err != nil {
			if m.metrics != nil {
				m.metrics.ProviderErrors.WithLabelValues("rendering", "play_animation").Inc()
			}
			return View{}, providerErr("rendering", "play_animation", err)
		}
	}
	if upd.Emotion != "" {
		if avatarH == "" {
			return View{}, fmt.Errorf("%w: no avatar handle", ErrPreconditionFailed)
		}
		if err := m.providers.Rendering.UpdateExpression(ctx, avatarH, upd.Emotion, 1.0); err != nil {
			if m.metrics != nil {
				m.metrics.ProviderErrors.WithLabelValues("rendering", "update_expression").Inc()
			}
			return View{}, providerErr("rendering", "update_expression", err)
		}
	}

	m.mu.Lock()
	s, ok = m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return View{}, ErrSessionNotFound
	}
	if upd.Animation != "" {
		s.State.Animation = upd.Animation
	}
	if upd.Emotion != "" {
		s.State.Emotion = upd.Emotion
	}
	switch upd.VoiceState {
	case "listening":
		s.State.Listening = true
		s.State.Speaking = false
	case "speaking":
		s.State.Speaking = true
	case "idle":
		s.State.Listening = false
		s.State.Speaking = false
	}
	m.touchLocked(s)
	m.appendEventLocked(s, "state_updated", map[string]any{
		"animation":   upd.Animation,
		"emotion":     upd.Emotion,
		"voice_state": upd.VoiceState,
	})
	view := s.view()
	m.mu.Unlock()

	m.countEvent("state_updated")
	m.publish(bus.SignalStateUpdated, map[string]any{"session_id": sessionID})
	return view, nil
}

// EndSession tears the session down best-effort and returns its summary.
// Ending an already-ended session returns the retained summary without
// re-running teardown; this idempotency is deliberate, not data loss.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (*Summary, error) {
	if err := m.requireInit(); err != nil {
		return nil, err
	}
	return m.endSession(ctx, sessionID, "ended")
}

func (m *Manager) endSession(ctx context.Context, sessionID, reason string) (*Summary, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		if sum, done := m.summaries[sessionID]; done {
			m.mu.Unlock()
			return sum, nil
		}
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	m.reserved--
	stopTimerLocked(s)
	s.Status = StatusEnded
	avatarH, streamH, convH := s.Avatar, s.SpeechStream, s.Conversation
	m.mu.Unlock()

	// Best-effort teardown: every failure is swallowed into a structured
	// diagnostic so the registry always ends up clean.
	var diags []TeardownDiagnostic
	teardown := func(capName, op string, fn func() error) {
		if err := fn(); err != nil {
			diags = append(diags, TeardownDiagnostic{Capability: capName, Op: op, Error: err.Error()})
			if m.metrics != nil {
				m.metrics.ProviderErrors.WithLabelValues(capName, op).Inc()
			}
			m.stages.ObserveIndicator("teardown_fault")
			m.log.Warn().Err(err).Str("session_id", sessionID).Str("capability", capName).Str("op", op).
				Msg("teardown step failed")
		}
	}
	if avatarH != "" {
		teardown("rendering", "stop_rendering", func() error {
			return m.providers.Rendering.StopRendering(ctx, avatarH)
		})
		teardown("rendering", "destroy_avatar", func() error {
			return m.providers.Rendering.DestroyAvatar(ctx, avatarH)
		})
	}
	if streamH != "" {
		teardown("speech", "stop_recognition", func() error {
			return m.providers.Speech.StopSpeechRecognition(ctx, streamH)
		})
	}
	if convH != "" {
		teardown("dialogue", "end_conversation", func() error {
			return m.providers.Dialogue.EndConversation(ctx, convH)
		})
	}

	m.mu.Lock()
	sum := m.buildSummaryLocked(s, reason, diags)
	// The ended event lands on the summary: the session record is already
	// out of the registry at this point.
	sum.Events = append(sum.Events, LifecycleEvent{
		Name:    "ended",
		At:      sum.EndedAt,
		Payload: map[string]any{"reason": reason},
	})
	m.summaries[sessionID] = sum
	liveCount := len(m.sessions)
	m.mu.Unlock()

	m.observeSessionCount(liveCount)
	m.countEvent(reason)
	m.publish(bus.SignalSessionEnded, map[string]any{
		"session_id": sessionID,
		"reason":     reason,
		"duration":   sum.Duration.String(),
	})
	m.persistSummary(sum)
	m.log.Info().Str("session_id", sessionID).Str("reason", reason).
		Dur("duration", sum.Duration).Int("diagnostics", len(diags)).
		Msg("session ended")
	return sum, nil
}

func (m *Manager) persistSummary(sum *Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec := store.SummaryRecord{
		SessionID:   sum.SessionID,
		UserID:      sum.UserID,
		Status:      string(sum.Status),
		Reason:      sum.Reason,
		StartedAt:   sum.StartedAt,
		EndedAt:     sum.EndedAt,
		DurationMS:  sum.Duration.Milliseconds(),
		Turns:       sum.FinalMetrics.Turns,
		Engagement:  sum.FinalMetrics.Engagement,
		EventCount:  len(sum.Events),
		Diagnostics: len(sum.Diagnostics),
	}
	if err := m.store.SaveSummary(ctx, rec); err != nil {
		m.log.Warn().Err(err).Str("session_id", sum.SessionID).Msg("summary persistence failed")
	}
}

// GetStatus returns the sanitized view of a live session.
func (m *Manager) GetStatus(sessionID string) (View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return View{}, ErrSessionNotFound
	}
	return s.view(), nil
}

// ActiveSessions returns views of every live session.
func (m *Manager) ActiveSessions() []View {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]View, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.view())
	}
	return out
}

// RecentSummaries exposes the summary store for the API layer.
func (m *Manager) RecentSummaries(ctx context.Context, userID string, limit int) ([]store.SummaryRecord, error) {
	return m.store.RecentSummaries(ctx, userID, limit)
}

// TurnStages snapshots the rolling turn-stage latency window.
func (m *Manager) TurnStages() observability.TurnStageSnapshot {
	return m.stages.Snapshot()
}

// ServiceHealth aggregates manager status, capacity and provider health.
// It never returns an error: degraded providers degrade the report instead.
func (m *Manager) ServiceHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	status := "initializing"
	if m.initialized {
		status = "healthy"
	}
	rep := HealthReport{
		Status:        status,
		LiveSessions:  len(m.sessions),
		Capacity:      m.opts.MaxConcurrentAvatars,
		TotalSessions: m.totalCreated,
		Providers:     make(map[string]capability.Health, 3),
	}
	if m.totalTurns > 0 {
		rep.AverageResponseTime = m.totalTurnTime / time.Duration(m.totalTurns)
	}
	providers := map[string]capability.HealthReporter{}
	if m.initialized {
		providers["rendering"] = m.providers.Rendering
		providers["speech"] = m.providers.Speech
		providers["dialogue"] = m.providers.Dialogue
	}
	maxLatency := m.opts.Thresholds.MaxLatency
	m.mu.Unlock()

	for name, p := range providers {
		h, err := p.ServiceHealth(ctx)
		if err != nil {
			h = capability.Health{Status: capability.HealthDown, Detail: err.Error()}
		}
		rep.Providers[name] = h
		if h.Status != capability.HealthHealthy && rep.Status == "healthy" {
			rep.Status = "degraded"
		}
	}
	if maxLatency > 0 && rep.AverageResponseTime > maxLatency && rep.Status == "healthy" {
		rep.Status = "degraded"
	}
	return rep
}

// Shutdown ends every live session, stops the background loops and marks
// the manager uninitialized. Individual teardown failures are tolerated.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.endSession(ctx, id, "shutdown"); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.log.Warn().Err(err).Str("session_id", id).Msg("shutdown teardown failed")
		}
	}

	m.mu.Lock()
	m.initialized = false
	cancel := m.bgCancel
	m.bgCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.log.Info().Msg("avatar manager shut down")
	return nil
}

// performanceLoop refreshes derived per-session metrics on a fixed tick.
func (m *Manager) performanceLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.PerformanceSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			m.mu.Lock()
			for _, s := range m.sessions {
				s.Metrics.Uptime = now.Sub(s.CreatedAt)
				if s.State.Rendering && s.Metrics.FrameRate == 0 {
					s.Metrics.FrameRate = float64(s.Config.Rendering.FrameRate)
				}
			}
			liveCount := len(m.sessions)
			m.mu.Unlock()
			m.observeSessionCount(liveCount)
		}
	}
}

// healthLoop runs the aggregate health check. Failures never propagate;
// an unhealthy aggregate only raises a health-check-failed signal.
func (m *Manager) healthLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep := m.ServiceHealth(ctx)
			if m.metrics != nil {
				if rep.Status == "healthy" {
					m.metrics.HealthStatus.Set(1)
				} else {
					m.metrics.HealthStatus.Set(0)
				}
			}
			if rep.Status != "healthy" {
				m.log.Warn().Str("status", rep.Status).Int("live", rep.LiveSessions).
					Msg("health check failed")
				m.publish(bus.SignalHealthCheckFailed, map[string]any{
					"status":        rep.Status,
					"live_sessions": rep.LiveSessions,
				})
			}
		}
	}
}

func (m *Manager) scheduleTimeoutLocked(s *session) {
	id := s.ID
	s.timeout = time.AfterFunc(m.opts.AvatarTimeout, func() {
		// Timeout-triggered teardown has no caller to answer to; errors are
		// swallowed here.
		if _, err := m.endSession(context.Background(), id, "timeout"); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.log.Warn().Err(err).Str("session_id", id).Msg("timeout teardown failed")
		}
	})
}

func stopTimerLocked(s *session) {
	if s.timeout != nil {
		s.timeout.Stop()
		s.timeout = nil
	}
}

func (m *Manager) touchLocked(s *session) {
	now := time.Now().UTC()
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
	if m.opts.ResetTimeoutOnActivity && s.timeout != nil {
		s.timeout.Reset(m.opts.AvatarTimeout)
	}
}

func (m *Manager) appendEventLocked(s *session, name string, payload map[string]any) {
	s.Events = append(s.Events, LifecycleEvent{Name: name, At: time.Now().UTC(), Payload: payload})
}

func (m *Manager) buildSummaryLocked(s *session, reason string, diags []TeardownDiagnostic) *Summary {
	endedAt := time.Now().UTC()
	events := make([]LifecycleEvent, len(s.Events))
	copy(events, s.Events)
	return &Summary{
		SessionID:    s.ID,
		UserID:       s.UserID,
		Status:       s.Status,
		Reason:       reason,
		StartedAt:    s.CreatedAt,
		EndedAt:      endedAt,
		Duration:     endedAt.Sub(s.CreatedAt),
		FinalState:   s.State,
		FinalMetrics: s.Metrics,
		Events:       events,
		Diagnostics:  diags,
	}
}

func (m *Manager) publish(t bus.SignalType, data map[string]any) {
	if m.bus != nil {
		m.bus.Publish(t, data)
	}
}

func (m *Manager) countEvent(event string) {
	if m.metrics != nil {
		m.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (m *Manager) observeSessionCount(n int) {
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(n))
	}
}
