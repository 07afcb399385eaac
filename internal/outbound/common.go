package outbound

import "sync/atomic"

// SampleCounter is the process-wide count of RX I/Q sample pairs
// transferred off the shared DMA channel, published by RXDDCDemux and
// consumed by the mic sender to keep its packet rate locked to the RX
// sample clock instead of free-running against a wall-clock ticker (§4.5
// "Mic sender").
type SampleCounter struct {
	n atomic.Uint64
}

func (s *SampleCounter) Add(n uint32) { s.n.Add(uint64(n)) }
func (s *SampleCounter) Load() uint64 { return s.n.Load() }
