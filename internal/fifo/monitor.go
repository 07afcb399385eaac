// Package fifo implements the per-DMA-channel occupancy/overflow/underflow
// telemetry used for backpressure (§4.2).
package fifo

import (
	"sync"
	"time"

	"github.com/hpsdr/hpsdrd/internal/hw"
)

// Channel identifies one of the four DMA channels (§3 "FIFO accounting").
type Channel int

const (
	RXDDC Channel = iota // FPGA -> host, large
	TXDUC                // host -> FPGA
	Mic                  // FPGA -> host
	Speaker              // host -> FPGA
	numChannels
)

func (c Channel) isWrite() bool { return c == TXDUC || c == Speaker }

// DepthByFirmware is the max-depth table keyed by firmware version, loaded
// once at start-up (§3 "FIFO accounting").
var DepthByFirmware = map[int][numChannels]uint32{
	12: {RXDDC: 1 << 16, TXDUC: 1 << 14, Mic: 1 << 12, Speaker: 1 << 12},
	14: {RXDDC: 1 << 17, TXDUC: 1 << 15, Mic: 1 << 12, Speaker: 1 << 12},
	20: {RXDDC: 1 << 18, TXDUC: 1 << 16, Mic: 1 << 13, Speaker: 1 << 13},
}

// DepthFor returns the configured depth table for the nearest firmware
// version at or below fw, falling back to the lowest known table.
func DepthFor(fw int) [numChannels]uint32 {
	best := -1

	for v := range DepthByFirmware {
		if v <= fw && v > best {
			best = v
		}
	}

	if best == -1 {
		for v := range DepthByFirmware {
			if best == -1 || v < best {
				best = v
			}
		}
	}

	return DepthByFirmware[best]
}

// Probe is the clear-on-read telemetry snapshot returned by Monitor.Probe.
type Probe struct {
	Occupied      uint32 // in 8-byte FIFO words
	Free          uint32 // depth - occupied, meaningful for write channels
	Overflow      bool
	OverThreshold bool
	Underflow     bool
}

// Monitor tracks one DMA channel's backpressure state.
type Monitor struct {
	ch    Channel
	dma   hw.DMAChannel
	bank  *hw.Bank
	depth uint32

	mu          sync.Mutex
	overflow    bool
	overThresh  bool
	underflow   bool
	lastOccTime time.Time
}

func New(ch Channel, dma hw.DMAChannel, bank *hw.Bank, depth uint32) *Monitor {
	return &Monitor{ch: ch, dma: dma, bank: bank, depth: depth}
}

// Configure writes the channel configuration (max depth + enable-interrupts
// flag) once at start-up (§4.2).
func (m *Monitor) Configure(channelIndex int, enableIRQ bool) error {
	return m.bank.ConfigureFIFO(channelIndex, m.depth, enableIRQ)
}

// Reset toggles the per-channel reset bit (§4.2).
func (m *Monitor) Reset(channelIndex int) error {
	m.mu.Lock()
	m.overflow, m.overThresh, m.underflow = false, false, false
	m.mu.Unlock()

	return m.bank.ResetFIFO(channelIndex)
}

// Probe returns current occupancy plus the three clear-on-read event
// flags. For write channels it additionally reports free locations
// (depth - occupied) per §3/§4.2.
func (m *Monitor) Probe() (Probe, error) {
	occ, err := m.dma.Occupied()
	if err != nil {
		return Probe{}, err
	}

	m.mu.Lock()
	p := Probe{
		Occupied:      occ,
		Overflow:      m.overflow,
		OverThreshold: m.overThresh,
		Underflow:     m.underflow,
	}
	m.overflow, m.overThresh, m.underflow = false, false, false
	m.mu.Unlock()

	if m.ch.isWrite() {
		if occ > m.depth {
			p.Free = 0
		} else {
			p.Free = m.depth - occ
		}
	}

	return p, nil
}

// NoteOverflow/NoteOverThreshold/NoteUnderflow latch an event until the
// next Probe clears it. Only the tests call them; the engine has no status
// poller that does.
func (m *Monitor) NoteOverflow()      { m.mu.Lock(); m.overflow = true; m.mu.Unlock() }
func (m *Monitor) NoteOverThreshold() { m.mu.Lock(); m.overThresh = true; m.mu.Unlock() }
func (m *Monitor) NoteUnderflow()     { m.mu.Lock(); m.underflow = true; m.mu.Unlock() }

// Reserve waits, in 0.5-1ms increments, until at least n bytes of free
// space are available on a write channel, per §3's backpressure invariant
// ("it never drops client frames silently when space is available") and
// §9's coroutine-style "wait for FIFO space" note. It checks the reserve
// under the same probe as the overflow/underflow read, because that read
// has clear-on-read side effects.
func (m *Monitor) Reserve(done <-chan struct{}, nBytes uint32) (Probe, error) {
	nWords := (nBytes + 7) / 8

	for {
		p, err := m.Probe()
		if err != nil {
			return Probe{}, err
		}

		if p.Free >= nWords {
			return p, nil
		}

		select {
		case <-done:
			return p, nil
		case <-time.After(time.Millisecond):
		}
	}
}
