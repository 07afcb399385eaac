package outbound

import (
	"context"
	"net"
	"time"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/logx"
	"github.com/hpsdr/hpsdrd/internal/session"
	"github.com/hpsdr/hpsdrd/internal/wire"
)

// highPriorityRate is the status-reporting frequency of §4.5.
const highPriorityRate = 20 // Hz

// Status bit positions read back from the latched status register (§4.1,
// §4.5).
const (
	statusPTT = 1 << iota
	statusKey
	statusPLLLock
)

// HighPrioritySender is the high-priority-from-SDR sender (§4.5), sent at
// ~20Hz regardless of whether a session is active so a client can observe
// PTT/key/PLL-lock state immediately after a general packet arrives.
type HighPrioritySender struct {
	bank *hw.Bank
	sup  *session.Supervisor
	log  *logx.Logger
	seq  uint32

	wasActive bool
}

func NewHighPrioritySender(bank *hw.Bank, sup *session.Supervisor) *HighPrioritySender {
	return &HighPrioritySender{bank: bank, sup: sup, log: logx.For("hpout")}
}

func (h *HighPrioritySender) Run(ctx context.Context, table *endpoint.Table, reply *endpoint.ReplyAddr) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	ticker := time.NewTicker(time.Second / highPriorityRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.tick(conn, table, reply)
		}
	}
}

func (h *HighPrioritySender) tick(conn *net.UDPConn, table *endpoint.Table, reply *endpoint.ReplyAddr) {
	addr := table.UDPAddr(reply, endpoint.HighPriorityOut)
	if addr == nil {
		return
	}

	status, err := h.bank.ReadStatus()
	if err != nil {
		h.log.Errorf("read status: %v", err)

		return
	}

	if status&statusKey == 0 {
		// Keyer idle: flush any host-queued CW memory-keyer text (SPEC_FULL
		// §3 supplement) now rather than mid-element.
		if _, err := h.bank.DrainCWText(); err != nil {
			h.log.Errorf("drain CW text: %v", err)
		}
	}

	active := h.sup.SDRActive()
	if active && !h.wasActive {
		h.seq = 0
	}
	h.wasActive = active

	seq := h.seq
	h.seq++

	pkt := wire.HighPriorityOut{
		Seq:         seq,
		PTT:         status&statusPTT != 0,
		Key:         status&statusKey != 0,
		PLLLock:     status&statusPLLLock != 0,
		ADCOverflow: byte(h.sup.GlobalFIFOOverflows()),
	}.Marshal()

	if _, err := conn.WriteToUDP(pkt, addr); err != nil {
		h.log.Errorf("send: %v", err)
	}
}
