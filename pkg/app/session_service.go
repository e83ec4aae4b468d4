package app

import (
	"context"
	"sync"
	"time"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
	sessiondomain "github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/session"
	"github.com/DanielVega-Smll94/whatsapp-service/pkg/logger"
)

// disconnectAlertMessage is the human-readable text carried by disconnect alerts.
const disconnectAlertMessage = "Alert: the WhatsApp bot has been disconnected. Re-linking is required."

// StateProbe answers the recovery watchdog's connectivity question.
type StateProbe interface {
	State(ctx context.Context) (string, error)
}

// Notifier delivers webhook payloads. Implementations log their own
// failures and never return them.
type Notifier interface {
	Notify(ctx context.Context, payload interface{})
}

// WatchdogConfig controls the recovery watchdog started on authentication.
type WatchdogConfig struct {
	// PollInterval is the time between connectivity probes.
	PollInterval time.Duration
	// EscalateAfter is how long the session may stay authenticated without
	// becoming ready before the stall is reported.
	EscalateAfter time.Duration
}

// DefaultWatchdogConfig polls every 10s and escalates after 40s.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		PollInterval:  10 * time.Second,
		EscalateAfter: 40 * time.Second,
	}
}

// ---------------------------------------------------------------------------
// Session application service
// ---------------------------------------------------------------------------

// SessionService is the session state machine. It is the only writer of the
// process-wide session status; every transition runs under one mutex so
// readers always see a consistent snapshot.
//
// Domain events and webhook alerts are emitted after the lock is released.
type SessionService struct {
	mu       sync.Mutex
	session  *sessiondomain.Session
	probe    StateProbe
	notifier Notifier
	eventBus domain.EventBus
	watchdog WatchdogConfig

	// single watchdog slot
	wdCancel context.CancelFunc
	wdGen    uint64

	closed bool
	wg     sync.WaitGroup
}

// NewSessionService creates the state machine in the Unlinked state.
func NewSessionService(probe StateProbe, notifier Notifier, eventBus domain.EventBus, wd WatchdogConfig) *SessionService {
	defaults := DefaultWatchdogConfig()
	if wd.PollInterval <= 0 {
		wd.PollInterval = defaults.PollInterval
	}
	if wd.EscalateAfter <= 0 {
		wd.EscalateAfter = defaults.EscalateAfter
	}
	return &SessionService{
		session:  sessiondomain.New(),
		probe:    probe,
		notifier: notifier,
		eventBus: eventBus,
		watchdog: wd,
	}
}

// Status returns a consistent snapshot of the session.
func (s *SessionService) Status() sessiondomain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Status()
}

// IsReady reports whether outbound sends are permitted.
func (s *SessionService) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.IsReady()
}

// WatchdogActive reports whether a recovery watchdog is currently running.
func (s *SessionService) WatchdogActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wdCancel != nil
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

// PairingCodeIssued stores a new pairing code and clears readiness.
func (s *SessionService) PairingCodeIssued(code string) {
	s.mu.Lock()
	s.session.IssuePairingCode(code)
	events := s.session.PullEvents()
	s.mu.Unlock()

	logger.InfoC("session", "New pairing code received, scan it to link the device")
	s.publish(events)
}

// Authenticated records accepted credentials and starts the recovery
// watchdog, replacing any watchdog already running.
func (s *SessionService) Authenticated() {
	s.mu.Lock()
	started := s.session.Authenticate()
	if started {
		s.startWatchdogLocked()
	}
	events := s.session.PullEvents()
	s.mu.Unlock()

	if !started {
		logger.DebugC("session", "Authenticated signal while already ready, ignoring")
		return
	}
	logger.InfoC("session", "Session authenticated, waiting for it to become ready")
	s.publish(events)
}

// Ready marks the session ready and cancels the watchdog.
func (s *SessionService) Ready() {
	s.markReady(sessiondomain.TriggerReadyEvent)
}

// StateChanged handles a raw transport state report. A connected state is
// treated exactly like an explicit ready signal.
func (s *SessionService) StateChanged(raw string) {
	logger.InfoCF("session", "Transport state changed", map[string]interface{}{
		"state": raw,
	})
	if channel.IsConnectedState(raw) {
		s.markReady(sessiondomain.TriggerStateChanged)
	}
}

// Disconnected clears readiness and the pending pairing code, cancels the
// watchdog and fires exactly one disconnect alert.
func (s *SessionService) Disconnected(reason string) {
	s.mu.Lock()
	s.session.MarkDisconnected(reason)
	s.stopWatchdogLocked()
	events := s.session.PullEvents()
	s.mu.Unlock()

	logger.WarnCF("session", "Client disconnected", map[string]interface{}{
		"reason": reason,
	})
	s.publish(events)

	s.alert(channel.DisconnectAlert{
		Event:     channel.DisconnectedEvent,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Message:   disconnectAlertMessage,
	})
}

// AuthFailed returns the session to Unlinked. No webhook is sent.
func (s *SessionService) AuthFailed(reason string) {
	s.mu.Lock()
	s.session.FailAuth(reason)
	events := s.session.PullEvents()
	s.mu.Unlock()

	failure := &channel.AuthFailure{Reason: reason}
	logger.ErrorCF("session", "Authentication failure", map[string]interface{}{
		"error": failure.Error(),
	})
	s.publish(events)
}

// Close stops the watchdog and waits for in-flight alerts. It must be called
// before the transport is torn down.
func (s *SessionService) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopWatchdogLocked()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *SessionService) markReady(trigger string) {
	s.mu.Lock()
	changed := s.session.MarkReady(trigger)
	s.stopWatchdogLocked()
	events := s.session.PullEvents()
	s.mu.Unlock()

	if changed {
		logger.InfoCF("session", "WhatsApp session is ONLINE and ready", map[string]interface{}{
			"trigger": trigger,
		})
	}
	s.publish(events)
}

// alert sends payload in the background. Alerts raised after Close are
// dropped so Close never races a late wg.Add.
func (s *SessionService) alert(payload channel.DisconnectAlert) {
	if s.notifier == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		logger.DebugC("session", "Session closed, disconnect alert not sent")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.notifier.Notify(context.Background(), payload)
	}()
}

func (s *SessionService) publish(events []domain.Event) {
	if s.eventBus == nil {
		return
	}
	for _, e := range events {
		s.eventBus.Publish(e)
	}
}

// ---------------------------------------------------------------------------
// Recovery watchdog
// ---------------------------------------------------------------------------

func (s *SessionService) startWatchdogLocked() {
	s.stopWatchdogLocked()
	if s.closed || s.probe == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.wdGen++
	s.wdCancel = cancel
	gen := s.wdGen

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runWatchdog(ctx, gen)
	}()
}

func (s *SessionService) stopWatchdogLocked() {
	if s.wdCancel != nil {
		s.wdCancel()
		s.wdCancel = nil
	}
}

func (s *SessionService) runWatchdog(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.watchdog.PollInterval)
	defer ticker.Stop()

	started := time.Now()
	escalated := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.watchdogTick(ctx, gen) {
			return
		}

		if waited := time.Since(started); !escalated && waited >= s.watchdog.EscalateAfter {
			escalated = true
			s.escalate(waited)
		}
	}
}

// watchdogTick probes the transport once. It returns true when the watchdog
// should stop.
func (s *SessionService) watchdogTick(ctx context.Context, gen uint64) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.watchdog.PollInterval)
	state, err := s.probe.State(probeCtx)
	cancel()

	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		qerr := &channel.TransientQueryError{Cause: err}
		logger.DebugCF("session", "Watchdog probe failed, still waiting", map[string]interface{}{
			"error": qerr.Error(),
		})
		return false
	}

	logger.InfoCF("session", "Watchdog probe", map[string]interface{}{
		"state": state,
	})
	if !channel.IsConnectedState(state) {
		return false
	}

	s.mu.Lock()
	if gen != s.wdGen || s.wdCancel == nil {
		s.mu.Unlock()
		return true
	}
	changed := s.session.MarkReady(sessiondomain.TriggerWatchdog)
	s.stopWatchdogLocked()
	events := s.session.PullEvents()
	s.mu.Unlock()

	if changed {
		logger.InfoC("session", "SYSTEM RECOVERED: session confirmed ready by watchdog, sends are enabled")
	}
	s.publish(events)
	return true
}

func (s *SessionService) escalate(waited time.Duration) {
	logger.ErrorCF("session", "Session authenticated but still not ready, watchdog keeps polling", map[string]interface{}{
		"waited": waited.Round(time.Millisecond).String(),
	})
	s.publish([]domain.Event{
		domain.NewEvent(domain.EventWatchdogStalled, s.session.ID(), map[string]string{
			"waited": waited.Round(time.Millisecond).String(),
		}),
	})
}
