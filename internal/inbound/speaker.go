package inbound

import (
	"context"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/fifo"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/logx"
	"github.com/hpsdr/hpsdrd/internal/session"
	"github.com/hpsdr/hpsdrd/internal/wire"
)

// gracePackets is how many packets a write-FIFO listener accepts before a
// full FIFO after Reserve is logged at warning level; Reserve still waits
// for space during the grace period. This keeps a client's opening burst
// while the write FIFO is still
// draining from a prior session doesn't spam the log (§4.4 "Shared
// behaviour").
const gracePackets = 100

// SpeakerListener is the speaker-audio inbound listener (§4.4): audio bound
// for the speaker-codec path, rate-matched against the write DMA channel's
// free space.
type SpeakerListener struct {
	dma     hw.DMAChannel
	monitor *fifo.Monitor
	log     *logx.Logger

	count int
}

func NewSpeakerListener(dma hw.DMAChannel, monitor *fifo.Monitor) *SpeakerListener {
	return &SpeakerListener{dma: dma, monitor: monitor, log: logx.For("speaker")}
}

func (s *SpeakerListener) Run(ctx context.Context, ep *endpoint.Endpoint, sup *session.Supervisor) error {
	return runLoop(ctx, ep, wire.SizeSpeakerAudio, sup, s.log, func(pkt []byte) {
		s.apply(ctx, pkt)
	})
}

func (s *SpeakerListener) apply(ctx context.Context, pkt []byte) {
	const headerLen = 4 // sequence number; payload follows
	if len(pkt) <= headerLen {
		return
	}

	payload := pkt[headerLen:]

	s.count++
	if s.count == gracePackets {
		s.log.Debugf("grace period elapsed; backpressure waits now logged")
	}

	probe, err := s.monitor.Reserve(ctx.Done(), uint32(len(payload)))
	if err != nil {
		s.log.Errorf("reserve speaker FIFO space: %v", err)

		return
	}

	if s.count > gracePackets && probe.Free == 0 {
		s.log.Warnf("speaker FIFO full; packet held until space frees")
	}

	if _, err := s.dma.Write(payload); err != nil {
		s.log.Errorf("write speaker DMA: %v", err)
	}
}
