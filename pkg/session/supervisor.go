package session

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/meetingcap/pkg/relay"
)

// restartTracker is the sliding-window restart budget from spec.md §4.8,
// grounded on
// original_source/plugins/listener/src/actors/session/mod.rs's
// RestartTracker.
type restartTracker struct {
	count       int
	windowStart time.Time
	now         func() time.Time
}

func newRestartTracker() *restartTracker {
	t := &restartTracker{now: time.Now}
	t.windowStart = t.now()
	return t
}

// recordRestart returns false once MAX_RESTARTS is exceeded inside
// MAX_WINDOW.
func (t *restartTracker) recordRestart() bool {
	now := t.now()
	if now.Sub(t.windowStart) > MaxWindow {
		t.count = 0
		t.windowStart = now
	}
	t.count++
	return t.count <= MaxRestarts
}

func (t *restartTracker) maybeReset() {
	now := t.now()
	if now.Sub(t.windowStart) > ResetAfter {
		t.count = 0
		t.windowStart = now
	}
}

type childKind int

const (
	childSource childKind = iota
	childListener
	childRecorder
)

type restartRequest struct {
	child  childKind
	reason string
}

// Supervisor is the C8 session supervisor: spawns Source/Listener/Recorder
// for one session, applies the restart-for-one policy, and handles
// Shutdown. Grounded on
// original_source/plugins/listener/src/actors/session/mod.rs's
// SessionActor/SessionState, expressed as a goroutine owning all child
// lifecycle instead of a ractor Actor impl.
type Supervisor struct {
	params   Params
	device   DeviceCapture
	consumer Consumer
	log      Logger
	dial     relay.DialFunc

	mu sync.Mutex

	source       *Source
	sourceCancel context.CancelFunc

	listener       *Listener
	listenerCancel context.CancelFunc

	recorder       *Recorder
	recorderCancel context.CancelFunc

	sourceRestarts   *restartTracker
	recorderRestarts *restartTracker

	restarts     chan restartRequest
	shuttingDown bool

	done chan struct{}
}

// NewSupervisor builds (but does not start) a Supervisor for one session.
func NewSupervisor(params Params, device DeviceCapture, consumer Consumer, log Logger, dial relay.DialFunc) *Supervisor {
	if consumer == nil {
		consumer = NoOpConsumer{}
	}
	if log == nil {
		log = NoOpLogger{}
	}
	return &Supervisor{
		params:           params,
		device:           device,
		consumer:         consumer,
		log:              log,
		dial:             dial,
		sourceRestarts:   newRestartTracker(),
		recorderRestarts: newRestartTracker(),
		restarts:         make(chan restartRequest, 8),
		done:             make(chan struct{}),
	}
}

// RequestRestart satisfies RestartRequester; the listener calls this
// instead of restarting itself (spec.md §4.8: listener faults degrade,
// they never restart, so this only logs and marks degraded via the
// listener's own OnActive call — the supervisor just stops tracking it).
func (s *Supervisor) RequestRestart(child, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return
	}
	s.log.Info("listener_terminated_entering_degraded_mode", "reason", reason)
	s.listener = nil
}

// Run spawns all children and supervises them until ctx is canceled or
// Shutdown is called. It blocks until every child has fully unwound.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)

	sctx, scancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.source = NewSource(s.params.SessionID, s.params.Mode, s.device, s.consumer, s.log)
	s.sourceCancel = scancel
	src := s.source
	s.mu.Unlock()
	go src.Run(sctx)
	go s.monitorSource(ctx, sctx, src)

	s.spawnListener(ctx)

	if s.params.RecordEnabled {
		s.spawnRecorder(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.shutdownChildren()
			return
		case req := <-s.restarts:
			s.handleChildFault(ctx, req)
			s.mu.Lock()
			melted := s.shuttingDown
			s.mu.Unlock()
			if melted {
				return
			}
		}
	}
}

// Shutdown stops recorder (awaiting finalize), then source and listener,
// then returns once everything has unwound (spec.md §4.8).
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	s.mu.Unlock()

	s.shutdownChildren()

	// Wake Run so it sees shuttingDown and returns. If the queue is full,
	// Run sees it on the next queued request instead.
	select {
	case s.restarts <- restartRequest{reason: "shutdown"}:
	default:
	}
}

func (s *Supervisor) shutdownChildren() {
	s.mu.Lock()
	recorder := s.recorder
	listener := s.listener
	sourceCancel := s.sourceCancel
	listenerCancel := s.listenerCancel
	s.mu.Unlock()

	if recorder != nil {
		recorder.Stop()
	}
	if sourceCancel != nil {
		sourceCancel()
	}
	if listener != nil {
		listener.Shutdown()
		select {
		case <-listener.Done():
		case <-time.After(FinalizeWait + time.Second):
			s.log.Warn("listener_shutdown_timed_out_forcing_cancel")
			if listenerCancel != nil {
				listenerCancel()
			}
			<-listener.Done()
		}
	} else if listenerCancel != nil {
		listenerCancel()
	}
}

// monitorSource watches one Source incarnation and requests a restart if
// it exits on its own (device closed, capture error) rather than via the
// supervisor canceling sctx.
func (s *Supervisor) monitorSource(ctx, sctx context.Context, src *Source) {
	select {
	case <-src.Done():
	case <-sctx.Done():
		return
	}
	if sctx.Err() != nil {
		return
	}

	s.mu.Lock()
	shuttingDown := s.shuttingDown
	s.mu.Unlock()
	if shuttingDown || ctx.Err() != nil {
		return
	}

	select {
	case s.restarts <- restartRequest{child: childSource, reason: "device_closed"}:
	default:
	}
}

func (s *Supervisor) spawnListener(ctx context.Context) {
	lctx, lcancel := context.WithCancel(ctx)
	l := NewListener(s.params, s.params.Adapter, s.consumer, s, s.log, s.dial)

	s.mu.Lock()
	s.listener = l
	s.listenerCancel = lcancel
	s.mu.Unlock()

	s.source.AttachListener(l)
	go l.Run(lctx)
}

func (s *Supervisor) spawnRecorder(ctx context.Context) {
	rctx, rcancel := context.WithCancel(ctx)
	r, err := NewRecorder(s.params.AppDir, s.params.SessionID, s.params.SampleRate, channelCount(s.params.Mode), s.log)
	if err != nil {
		s.log.Error("recorder_spawn_failed", "error", err)
		rcancel()
		s.restarts <- restartRequest{child: childRecorder, reason: "spawn_failed"}
		return
	}

	s.mu.Lock()
	s.recorder = r
	s.recorderCancel = rcancel
	s.mu.Unlock()

	s.source.AttachRecorder(r)
	go func() {
		r.Run(rctx)
		s.mu.Lock()
		shuttingDown := s.shuttingDown
		s.mu.Unlock()
		if !shuttingDown {
			select {
			case s.restarts <- restartRequest{child: childRecorder, reason: "recorder_terminated"}:
			default:
			}
		}
	}()
}

func (s *Supervisor) handleChildFault(ctx context.Context, req restartRequest) {
	s.sourceRestarts.maybeReset()
	s.recorderRestarts.maybeReset()

	s.mu.Lock()
	shuttingDown := s.shuttingDown
	s.mu.Unlock()
	if shuttingDown {
		return
	}

	switch req.child {
	case childSource:
		s.log.Info("source_terminated_attempting_restart", "reason", req.reason)
		if !s.sourceRestarts.recordRestart() {
			s.log.Error("source_restart_limit_exceeded_meltdown")
			s.meltdown()
			return
		}
		s.restartSource(ctx)

	case childRecorder:
		s.log.Info("recorder_terminated_attempting_restart", "reason", req.reason)
		if !s.recorderRestarts.recordRestart() {
			s.log.Error("recorder_restart_limit_exceeded_meltdown")
			s.meltdown()
			return
		}
		s.restartRecorderWithBackoff(ctx)
	}
}

var restartBackoffs = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

func (s *Supervisor) restartSource(ctx context.Context) {
	sctx, scancel := context.WithCancel(ctx)
	src := NewSource(s.params.SessionID, s.params.Mode, s.device, s.consumer, s.log)

	s.mu.Lock()
	s.source = src
	s.sourceCancel = scancel
	listener := s.listener
	recorder := s.recorder
	s.mu.Unlock()

	if listener != nil {
		src.AttachListener(listener)
	}
	if recorder != nil {
		src.AttachRecorder(recorder)
	}
	go src.Run(sctx)
	go s.monitorSource(ctx, sctx, src)
	s.log.Info("source_restarted")
}

func (s *Supervisor) restartRecorderWithBackoff(ctx context.Context) {
	for _, delay := range restartBackoffs {
		time.Sleep(delay)
		s.mu.Lock()
		shuttingDown := s.shuttingDown
		s.mu.Unlock()
		if shuttingDown {
			return
		}
		s.spawnRecorder(ctx)
		s.mu.Lock()
		ok := s.recorder != nil
		s.mu.Unlock()
		if ok {
			return
		}
	}
	s.log.Error("recorder_restart_failed_all_attempts")
}

func (s *Supervisor) meltdown() {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()
	s.shutdownChildren()
}

// Done reports when Run has returned (all children unwound).
func (s *Supervisor) Done() <-chan struct{} { return s.done }
