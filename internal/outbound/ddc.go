// Package outbound implements the per-endpoint outbound UDP stream senders
// of §4.5: the ten DDC I/Q senders, the high-priority-from-SDR sender, the
// mic sender, and the two wideband senders.
package outbound

import (
	"context"
	"encoding/binary"
	"net"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/logx"
	"github.com/hpsdr/hpsdrd/internal/session"
	"github.com/hpsdr/hpsdrd/internal/wire"
)

// ddcFrameHeaderBytes is the framing word the hardware prefixes to each
// sample block on the single shared RX-DDC DMA channel: the low
// hw.FirmwareDDCPacketBits bits name which of the ten DDCs the block
// belongs to, the remaining bits count 24-bit I/Q sample pairs in the
// block (§4.2, §6 "DMA character devices").
const ddcFrameHeaderBytes = 4

const rxDDCReadSize = 8192

// RXDDCDemux reads the single shared RX-DDC DMA channel and fans sample
// blocks out to one bounded queue per DDC, the same single-reader/
// multiple-consumer split the teacher uses between its demodulator chain
// and its KISS framer reading one audio device.
type RXDDCDemux struct {
	dma     hw.DMAChannel
	queues  [wire.NumDDC]chan []byte
	counter *SampleCounter
	log     *logx.Logger
}

func NewRXDDCDemux(dma hw.DMAChannel, counter *SampleCounter) *RXDDCDemux {
	d := &RXDDCDemux{dma: dma, counter: counter, log: logx.For("ddcdemux")}
	for i := range d.queues {
		d.queues[i] = make(chan []byte, 64)
	}

	return d
}

// Queue returns the read side of the per-DDC sample queue.
func (d *RXDDCDemux) Queue(ddc int) <-chan []byte { return d.queues[ddc] }

// Run reads and demultiplexes until ctx is done.
func (d *RXDDCDemux) Run(ctx context.Context) error {
	buf := make([]byte, rxDDCReadSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := d.dma.Read(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			d.log.Errorf("read RX-DDC DMA: %v", err)

			return err
		}

		d.demux(buf[:n])
	}
}

func (d *RXDDCDemux) demux(chunk []byte) {
	off := 0
	for off+ddcFrameHeaderBytes <= len(chunk) {
		header := binary.BigEndian.Uint32(chunk[off : off+ddcFrameHeaderBytes])
		ddc := int(header & (1<<hw.FirmwareDDCPacketBits - 1))
		sampleWords := int(header >> hw.FirmwareDDCPacketBits)
		blockLen := sampleWords * 6 // 24-bit I + 24-bit Q
		off += ddcFrameHeaderBytes

		if blockLen < 0 || off+blockLen > len(chunk) || ddc >= wire.NumDDC {
			return // short/garbled trailing block; dropped (§7)
		}

		block := append([]byte(nil), chunk[off:off+blockLen]...)
		off += blockLen

		d.counter.Add(uint32(sampleWords))

		select {
		case d.queues[ddc] <- block:
		default:
			d.log.Warnf("DDC%d queue full; block dropped", ddc)
		}
	}
}

// DDCSender sends one DDC's I/Q stream to its outbound UDP endpoint
// (§4.5).
type DDCSender struct {
	ddc   int
	queue <-chan []byte
	log   *logx.Logger
	seq   uint32
}

func NewDDCSender(ddc int, queue <-chan []byte) *DDCSender {
	return &DDCSender{ddc: ddc, queue: queue, log: logx.For("ddcout")}
}

// Run sends blocks pulled from the demux queue to the reply address bound
// to id until ctx is done, dropping a block if no session is established
// yet. The sequence counter resets to zero each time sup observes the
// quiescent-to-flowing transition (§3, §4.5 "When the session becomes
// Active ... it captures the reply address ... and enters its hot loop").
func (s *DDCSender) Run(ctx context.Context, table *endpoint.Table, reply *endpoint.ReplyAddr, id endpoint.ID, sup *session.Supervisor) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var wasActive bool

	for {
		select {
		case <-ctx.Done():
			return nil
		case block, ok := <-s.queue:
			if !ok {
				return nil
			}

			active := sup.SDRActive()
			if active && !wasActive {
				s.seq = 0
			}
			wasActive = active

			addr := table.UDPAddr(reply, id)
			if addr == nil {
				continue
			}

			seq := s.seq
			s.seq++

			frame := wire.DDCIQFrame{
				Seq:            seq,
				BitsPerSample:  24,
				SamplesInFrame: uint32(len(block) / 6),
				IQ:             block,
			}.Marshal()

			if _, err := conn.WriteToUDP(frame, addr); err != nil {
				s.log.Errorf("DDC%d send: %v", s.ddc, err)
			}
		}
	}
}
