package outbound

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/logx"
	"github.com/hpsdr/hpsdrd/internal/session"
	"github.com/hpsdr/hpsdrd/internal/wire"
)

// rxSamplesPerMicPacket is the RX I/Q sample count corresponding to one
// mic packet's worth of audio at the codec's fixed sample rate, keeping
// the mic stream's packet cadence locked to the RX DMA clock rather than a
// free-running ticker (§4.5 "Mic sender").
const rxSamplesPerMicPacket = 1000

const micPollInterval = time.Millisecond

// MicSender is the mic sender (§4.5): microphone audio captured on the
// same side as RX, rate-matched against the shared RX sample counter.
type MicSender struct {
	dma     hw.DMAChannel
	counter *SampleCounter
	log     *logx.Logger

	seq       uint32
	lastCount uint64
	wasActive bool
}

func NewMicSender(dma hw.DMAChannel, counter *SampleCounter) *MicSender {
	return &MicSender{dma: dma, counter: counter, log: logx.For("mic")}
}

func (m *MicSender) Run(ctx context.Context, table *endpoint.Table, reply *endpoint.ReplyAddr, sup *session.Supervisor) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	ticker := time.NewTicker(micPollInterval)
	defer ticker.Stop()

	const headerLen = 4
	buf := make([]byte, wire.SizeMic)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur := m.counter.Load()
			if cur-m.lastCount < rxSamplesPerMicPacket {
				continue
			}

			m.lastCount = cur

			n, err := m.dma.Read(buf[headerLen:])
			if err != nil {
				m.log.Errorf("read mic DMA: %v", err)

				return err
			}

			if n == 0 {
				continue
			}

			addr := table.UDPAddr(reply, endpoint.Mic)
			if addr == nil {
				continue
			}

			active := sup.SDRActive()
			if active && !m.wasActive {
				m.seq = 0
			}
			m.wasActive = active

			binary.BigEndian.PutUint32(buf[0:headerLen], m.seq)
			m.seq++

			if _, err := conn.WriteToUDP(buf[:headerLen+n], addr); err != nil {
				m.log.Errorf("send: %v", err)
			}
		}
	}
}
