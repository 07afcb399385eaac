package outbound

import (
	"context"
	"encoding/binary"
	"net"
	"sync"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/logx"
)

// widebandFragmentSize bounds each outbound wideband UDP payload so a
// single wide scan capture is split across several packets rather than
// exceeding a safe UDP datagram size (§4.5 "Wideband senders").
const widebandFragmentSize = 1024

// WidebandSender is one of the two wideband senders (§4.5). Unlike the
// other senders it has a start/stop lifecycle: Stop cancels the in-flight
// read/send loop, and a later Start begins a fresh one. The engine starts
// both senders at start-up; the wideband-enable bit does not start or stop
// them. Each DMA read of up to widebandFragmentSize bytes goes out as one
// packet.
type WidebandSender struct {
	index int
	dma   hw.DMAChannel
	log   *logx.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	seq     uint32
}

func NewWidebandSender(index int, dma hw.DMAChannel) *WidebandSender {
	return &WidebandSender{index: index, dma: dma, log: logx.For("wideband")}
}

// Start begins streaming if not already running; a no-op otherwise, so a
// repeated call does not spawn a duplicate sender.
func (w *WidebandSender) Start(parent context.Context, table *endpoint.Table, reply *endpoint.ReplyAddr, id endpoint.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.running = true
	w.seq = 0 // quiescent -> flowing: restart the sequence at zero (§3)

	go w.run(ctx, table, reply, id)
}

// Stop halts streaming; safe to call when not running.
func (w *WidebandSender) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.cancel()
	w.running = false
}

func (w *WidebandSender) run(ctx context.Context, table *endpoint.Table, reply *endpoint.ReplyAddr, id endpoint.ID) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		w.log.Errorf("wideband%d: %v", w.index, err)

		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, widebandFragmentSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := w.dma.Read(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}

			w.log.Errorf("wideband%d read: %v", w.index, err)

			return
		}

		if n == 0 {
			continue
		}

		addr := table.UDPAddr(reply, id)
		if addr == nil {
			continue
		}

		const headerLen = 4

		frame := make([]byte, headerLen+n)
		binary.BigEndian.PutUint32(frame[0:headerLen], w.seq)
		copy(frame[headerLen:], buf[:n])
		w.seq++

		if _, err := conn.WriteToUDP(frame, addr); err != nil {
			w.log.Errorf("wideband%d send: %v", w.index, err)
		}
	}
}
