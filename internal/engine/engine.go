// Package engine wires every thread described across §4-§7 into a running
// process: the register bank, the endpoint table, the session supervisor,
// the four FIFO monitors, discovery, the five inbound listeners, the
// outbound senders, and the CAT bridge.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hpsdr/hpsdrd/internal/cat"
	"github.com/hpsdr/hpsdrd/internal/config"
	"github.com/hpsdr/hpsdrd/internal/discovery"
	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/fifo"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/inbound"
	"github.com/hpsdr/hpsdrd/internal/logx"
	"github.com/hpsdr/hpsdrd/internal/outbound"
	"github.com/hpsdr/hpsdrd/internal/session"
	"github.com/hpsdr/hpsdrd/internal/wire"
)

// DMASet bundles the character-device handles for the six DMA-backed
// streams the engine touches (§6 "DMA character devices"). Tests and the
// zero-hardware development mode supply hw.SimDMA instances here.
type DMASet struct {
	RXDDC     hw.DMAChannel
	TXDUC     hw.DMAChannel
	Mic       hw.DMAChannel
	Speaker   hw.DMAChannel
	Wideband0 hw.DMAChannel
	Wideband1 hw.DMAChannel
}

// Engine owns the long-lived objects shared across every thread.
type Engine struct {
	cfg   config.Config
	bank  *hw.Bank
	table *endpoint.Table
	reply *endpoint.ReplyAddr
	sup   *session.Supervisor
	log   *logx.Logger

	catPort *inbound.CATPort
}

func New(cfg config.Config, transport hw.RegisterTransport) *Engine {
	table := endpoint.NewTable()
	reply := &endpoint.ReplyAddr{}
	bank := hw.NewBank(transport)

	return &Engine{
		cfg:   cfg,
		bank:  bank,
		table: table,
		reply: reply,
		sup:   session.NewSupervisor(bank, table, reply),
		log:   logx.For("engine"),
	}
}

// Run starts every thread and blocks until ctx is cancelled (main cancels
// it on SIGINT/SIGTERM), a shutdown is requested from the console exit
// checker ('x'), or a thread reports a fatal error (§4.6 "Exit request",
// §5 "Concurrency model").
func (e *Engine) Run(ctx context.Context, mac [6]byte, dma DMASet) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		fatal   error
	)

	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := fn(ctx); err != nil && ctx.Err() == nil {
				e.log.Errorf("%s: %v", name, err)
				errOnce.Do(func() { fatal = fmt.Errorf("%s: %w", name, err) })
				cancel()
			}
		}()
	}

	depths := fifo.DepthFor(e.cfg.FirmwareVersion)
	rxFIFO := fifo.New(fifo.RXDDC, dma.RXDDC, e.bank, depths[fifo.RXDDC])
	txFIFO := fifo.New(fifo.TXDUC, dma.TXDUC, e.bank, depths[fifo.TXDUC])
	micFIFO := fifo.New(fifo.Mic, dma.Mic, e.bank, depths[fifo.Mic])
	spkFIFO := fifo.New(fifo.Speaker, dma.Speaker, e.bank, depths[fifo.Speaker])

	for i, mon := range []*fifo.Monitor{rxFIFO, txFIFO, micFIFO, spkFIFO} {
		if err := mon.Configure(i, true); err != nil {
			return fmt.Errorf("configure FIFO %d: %w", i, err)
		}
	}

	if e.cfg.RegisterDeviceNode != "" {
		hw.WatchDevicePresence(ctx, e.cfg.RegisterDeviceNode, func() {
			if e.sup.SDRActive() {
				e.log.Errorf("register device %s lost while session active", e.cfg.RegisterDeviceNode)
				errOnce.Do(func() { fatal = fmt.Errorf("register device %s disappeared", e.cfg.RegisterDeviceNode) })
				cancel()
			}
		})
	}

	disc := discovery.New(e.cfg, e.bank, e.sup, mac)
	spawn("discovery", disc.Run)

	if e.cfg.DNSSDEnabled {
		discovery.AnnounceMDNS(ctx, e.cfg.DNSSDName)
	}

	e.runInbound(ctx, spawn, dma, spkFIFO, txFIFO)
	e.runOutbound(ctx, spawn, dma)

	spawn("watchdog", func(ctx context.Context) error { e.sup.RunWatchdog(ctx); return nil })

	if !e.cfg.NoExitCheck {
		spawn("exit-checker", func(ctx context.Context) error { session.RunExitChecker(ctx, e.sup); return nil })
	}

	if stop, err := session.RunInterlock(e.sup, e.cfg.InterlockGPIOChip, e.cfg.InterlockGPIOLine); err != nil {
		e.log.Errorf("interlock: %v", err)
	} else {
		defer stop()
	}

	e.runCAT(ctx, spawn)

	select {
	case <-ctx.Done():
	case <-e.sup.ExitRequested():
		cancel()
	}

	wg.Wait()
	e.sup.Shutdown()

	return fatal
}

func (e *Engine) runInbound(ctx context.Context, spawn func(string, func(context.Context) error), dma DMASet, spkFIFO, txFIFO *fifo.Monitor) {
	keyer := &inbound.KeyerState{}
	catPort := &inbound.CATPort{}

	ddcListener := inbound.NewDDCListener(e.bank, func(changed bool) {
		if changed {
			e.log.Debugf("DDC configuration committed")
		}
	})
	spawn("ddc-in", func(ctx context.Context) error {
		return ddcListener.Run(ctx, e.table.Row(endpoint.DDCSpecific), e.sup)
	})

	ducListener := inbound.NewDUCListener(e.bank, e.cfg.FirmwareVersion, keyer)
	spawn("duc-in", func(ctx context.Context) error {
		return ducListener.Run(ctx, e.table.Row(endpoint.DUCSpecific), e.sup)
	})

	hpListener := inbound.NewHighPriorityListener(e.bank, e.cfg.FirmwareVersion, keyer, catPort)
	spawn("hp-in", func(ctx context.Context) error {
		return hpListener.Run(ctx, e.table.Row(endpoint.HighPriorityIn), e.sup)
	})

	speakerListener := inbound.NewSpeakerListener(dma.Speaker, spkFIFO)
	spawn("speaker-in", func(ctx context.Context) error {
		return speakerListener.Run(ctx, e.table.Row(endpoint.Speaker), e.sup)
	})

	ducIQListener := inbound.NewDUCIQListener(dma.TXDUC, txFIFO)
	spawn("duciq-in", func(ctx context.Context) error {
		return ducIQListener.Run(ctx, e.table.Row(endpoint.DUCIQ), e.sup, e.bank, int(fifo.TXDUC))
	})

	e.catPort = catPort
}

func (e *Engine) runOutbound(ctx context.Context, spawn func(string, func(context.Context) error), dma DMASet) {
	counter := &outbound.SampleCounter{}

	demux := outbound.NewRXDDCDemux(dma.RXDDC, counter)
	spawn("ddc-demux", demux.Run)

	for i := 0; i < wire.NumDDC; i++ {
		sender := outbound.NewDDCSender(i, demux.Queue(i))
		id := endpoint.DDCIQBase + endpoint.ID(i)

		spawn(fmt.Sprintf("ddc-out-%d", i), func(ctx context.Context) error {
			return sender.Run(ctx, e.table, e.reply, id, e.sup)
		})
	}

	hpSender := outbound.NewHighPrioritySender(e.bank, e.sup)
	spawn("hp-out", func(ctx context.Context) error { return hpSender.Run(ctx, e.table, e.reply) })

	micSender := outbound.NewMicSender(dma.Mic, counter)
	spawn("mic-out", func(ctx context.Context) error { return micSender.Run(ctx, e.table, e.reply, e.sup) })

	wb0 := outbound.NewWidebandSender(0, dma.Wideband0)
	wb1 := outbound.NewWidebandSender(1, dma.Wideband1)

	// The general packet's wideband-enable bit is where a full
	// implementation would gate Start/Stop; this engine starts both
	// eagerly and relies on Stop at shutdown, since nothing upstream of
	// the general-packet parser threads that bit through yet.
	wb0.Start(ctx, e.table, e.reply, endpoint.WidebandBase)
	wb1.Start(ctx, e.table, e.reply, endpoint.WidebandBase+1)

	go func() {
		<-ctx.Done()
		wb0.Stop()
		wb1.Stop()
	}()
}

func (e *Engine) runCAT(ctx context.Context, spawn func(string, func(context.Context) error)) {
	rig, err := cat.OpenRig(e.cfg.CATRigModel, e.cfg.CATRigPort)
	if err != nil {
		e.log.Errorf("CAT bridge: opening rig: %v", err)

		return
	}

	bridge := cat.NewBridge(rig, e.catPort).WithCWQueue(e.bank)
	spawn("cat-bridge", bridge.Run)
	spawn("cat-keepalive", func(ctx context.Context) error { cat.RunKeepalive(ctx, bridge); return nil })

	go func() {
		<-ctx.Done()
		_ = rig.Close()
	}()
}
