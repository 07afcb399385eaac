package session

import (
	"github.com/warthog618/go-gpiocdev"

	"github.com/hpsdr/hpsdrd/internal/logx"
)

// RunInterlock watches an optional external safety-interlock line (antenna
// relay fault, SWR trip) wired to a spare GPIO header pin, independent of
// the FPGA register bank (SPEC_FULL §4.6 supplement). If configured and
// asserted, it forces the same Active-exit side effects as the 1s
// watchdog. It is disabled by default (empty chip name).
func RunInterlock(s *Supervisor, chip string, line int) (stop func(), err error) {
	log := logx.For("session")

	if chip == "" {
		return func() {}, nil
	}

	handler := func(evt gpiocdev.LineEvent) {
		if evt.Type != gpiocdev.LineEventRisingEdge {
			return
		}

		log.Warnf("external interlock tripped on %s:%d", chip, line)

		if s.State() == Active {
			s.drainSideEffects()
		}
	}

	l, err := gpiocdev.RequestLine(chip, line,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(handler))
	if err != nil {
		return nil, err
	}

	return func() { _ = l.Close() }, nil
}
