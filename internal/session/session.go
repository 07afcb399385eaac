// Package session owns the session state machine, the activity watchdog,
// and the exit-request coordinator (§4.6).
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/logx"
)

// State is one of the four session variants (§3).
type State int

const (
	Idle State = iota
	Armed
	Active
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Active:
		return "active"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Supervisor is the session supervisor of §4.6. It is the single owner of
// the state machine; every component reads SDRActive and calls into
// Supervisor's methods at a frame boundary rather than mutating state
// directly.
type Supervisor struct {
	bank  *hw.Bank
	table *endpoint.Table
	reply *endpoint.ReplyAddr
	log   *logx.Logger

	mu        sync.Mutex
	state     State
	haveAddr  bool
	haveStart bool

	sdrActive  atomic.Bool
	newMessage atomic.Bool
	hwTimerOn  atomic.Bool

	exitRequested chan struct{}
	exitOnce      sync.Once

	overflowFlags atomic.Uint32 // GlobalFIFOOverflows, observed by the HP sender
}

func NewSupervisor(bank *hw.Bank, table *endpoint.Table, reply *endpoint.ReplyAddr) *Supervisor {
	return &Supervisor{
		bank:          bank,
		table:         table,
		reply:         reply,
		log:           logx.For("session"),
		exitRequested: make(chan struct{}),
	}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Supervisor) SDRActive() bool { return s.sdrActive.Load() }

// NoteInboundActivity updates the session's activity watermark; every
// inbound listener calls this on every valid frame (§4.4 "update the
// session's activity watermark").
func (s *Supervisor) NoteInboundActivity() { s.newMessage.Store(true) }

// GlobalFIFOOverflows returns and does not clear the process-wide overflow
// flag byte observable by the outbound high-priority reporter (§4.4).
func (s *Supervisor) GlobalFIFOOverflows() uint32 { return s.overflowFlags.Load() }

// SetFIFOOverflowBit ORs a bit into GlobalFIFOOverflows (§7 backpressure
// handling).
func (s *Supervisor) SetFIFOOverflowBit(bit uint32) { s.overflowFlags.Or(bit) }

// OnGeneralPacket handles Idle -> Armed (or immediately -> Active if the
// start bit is already latched), capturing the reply address and endpoint
// ports (§4.3, §4.6 state table row 1).
func (s *Supervisor) OnGeneralPacket(replyIP []byte, ports [20]uint16, hwTimerEnable bool) {
	s.reply.Set(replyIP)
	s.hwTimerOn.Store(hwTimerEnable)

	for i, p := range ports {
		if p != 0 {
			s.table.Row(endpoint.ID(i)).SetPort(int(p))
		}
	}

	s.mu.Lock()
	s.haveAddr = true
	wasActive := s.state == Active

	if s.state == Idle {
		s.state = Armed
	}

	s.maybeActivateLocked()
	nowActive := s.state == Active
	s.mu.Unlock()

	if !wasActive && nowActive {
		s.activateSideEffects()
	}
}

// OnHighPriority handles the run-bit transitions: Armed -> Active on run=1,
// Active -> Draining on run=0 (§4.6 state table rows 2-3).
func (s *Supervisor) OnHighPriority(run bool, keyerEnable bool) {
	s.mu.Lock()
	wasActive := s.state == Active
	s.haveStart = run

	if !run && s.state == Active {
		s.state = Draining
	}

	s.maybeActivateLocked()
	nowActive := s.state == Active
	s.mu.Unlock()

	switch {
	case !wasActive && nowActive:
		s.activateSideEffects()
	case wasActive && !nowActive:
		s.drainSideEffects()
	}

	if nowActive {
		_ = s.bank.SetKeyerEnableBit(keyerEnable)
	}
}

// maybeActivateLocked asserts the invariant from §3: entering Active
// requires both the armed reply address and the start bit. Call with mu
// held.
func (s *Supervisor) maybeActivateLocked() {
	if s.state == Armed && s.haveAddr && s.haveStart {
		s.state = Active
	}
}

func (s *Supervisor) activateSideEffects() {
	s.log.Infof("session -> active")
	s.sdrActive.Store(true)

	for _, fn := range []func(bool) error{s.bank.SetTXEnable} {
		if err := fn(true); err != nil {
			s.log.Errorf("activate side effect: %v", err)
		}
	}
}

func (s *Supervisor) drainSideEffects() {
	s.log.Infof("session -> draining")
	s.sdrActive.Store(false)

	if err := s.bank.SetTXEnable(false); err != nil {
		s.log.Errorf("drain TX enable: %v", err)
	}

	if err := s.bank.SetKeyerEnableBit(false); err != nil {
		s.log.Errorf("drain keyer enable: %v", err)
	}

	if err := s.bank.SetMOX(false); err != nil {
		s.log.Errorf("drain MOX: %v", err)
	}

	// Draining -> Idle happens immediately (§4.6 state table row 4); the
	// reply address is cleared but DDC frequency and other settings are
	// left untouched (§8 scenario 3: "DDC0 frequency is unchanged").
	s.mu.Lock()
	s.state = Idle
	s.haveAddr = false
	s.mu.Unlock()

	s.reply.Clear()
}

// RunWatchdog is the activity watchdog thread (§4.6): every second it
// checks NewMessageReceived; if nothing arrived in the interval and the
// general packet's hardware-timer-enable bit is set, it forces a
// transition out of Active, mirroring the 1s inactivity -> Draining row of
// the state table and §8 scenario 3.
func (s *Supervisor) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			got := s.newMessage.Swap(false)
			if got {
				continue
			}

			if !s.hwTimerOn.Load() {
				continue
			}

			s.mu.Lock()
			wasActive := s.state == Active
			if wasActive {
				s.state = Draining
			}
			s.mu.Unlock()

			if wasActive {
				s.log.Warnf("activity watchdog: 1s without inbound traffic")
				s.drainSideEffects()
			}
		}
	}
}

// ExitRequested returns a channel closed once when shutdown is requested
// through RequestExit (stdin 'x'/'X' at the console exit checker).
func (s *Supervisor) ExitRequested() <-chan struct{} { return s.exitRequested }

// RequestExit is idempotent; it is called by the console exit checker
// (§4.6 "Exit request"). SIGINT/SIGTERM cancel the engine's context
// instead, and an interlock trip drains side effects without exiting.
func (s *Supervisor) RequestExit() {
	s.exitOnce.Do(func() { close(s.exitRequested) })
}

// Shutdown unasserts MOX/TX-enable/keyer on the way out, per §4.6.
func (s *Supervisor) Shutdown() {
	_ = s.bank.SetMOX(false)
	_ = s.bank.SetTXEnable(false)
	_ = s.bank.SetKeyerEnableBit(false)
}
