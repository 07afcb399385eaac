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

// DUCIQListener is the DUC-I/Q inbound listener (§4.4): wideband transmit
// I/Q samples, byte-swapped from the wire's Q-then-I order to the
// hardware's I-then-Q order before being written to the TXDUC DMA channel.
type DUCIQListener struct {
	dma     hw.DMAChannel
	monitor *fifo.Monitor
	log     *logx.Logger

	count int
}

func NewDUCIQListener(dma hw.DMAChannel, monitor *fifo.Monitor) *DUCIQListener {
	return &DUCIQListener{dma: dma, monitor: monitor, log: logx.For("duciq")}
}

// Run takes ownership of the DUC mux for the lifetime of the listener: it
// resets the TXDUC FIFO and enables the mux once before serving any
// packets, per §3's DUC mux invariant.
func (d *DUCIQListener) Run(ctx context.Context, ep *endpoint.Endpoint, sup *session.Supervisor, bank *hw.Bank, txDUCChannelIndex int) error {
	if err := bank.SetDUCMux(func() error { return nil }, func() error {
		return d.monitor.Reset(txDUCChannelIndex)
	}); err != nil {
		return err
	}

	return runLoop(ctx, ep, wire.SizeDUCIQ, sup, d.log, func(pkt []byte) {
		d.apply(ctx, pkt)
	})
}

func (d *DUCIQListener) apply(ctx context.Context, pkt []byte) {
	const headerLen = 4
	if len(pkt) <= headerLen {
		return
	}

	payload := append([]byte(nil), pkt[headerLen:]...)
	wire.SwapIQ24(payload)

	d.count++

	probe, err := d.monitor.Reserve(ctx.Done(), uint32(len(payload)))
	if err != nil {
		d.log.Errorf("reserve DUC-I/Q FIFO space: %v", err)

		return
	}

	if d.count > gracePackets && probe.Free == 0 {
		d.log.Warnf("DUC-I/Q FIFO full; packet held until space frees")
	}

	if _, err := d.dma.Write(payload); err != nil {
		d.log.Errorf("write DUC-I/Q DMA: %v", err)
	}
}
