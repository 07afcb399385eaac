// Command hpsdrd is the protocol-2 concurrency/dataplane engine: it parses
// configuration, opens the register and DMA transports, and runs every
// thread described in §4 until a shutdown is requested.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hpsdr/hpsdrd/internal/config"
	"github.com/hpsdr/hpsdrd/internal/discovery"
	"github.com/hpsdr/hpsdrd/internal/engine"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/logx"
)

// version is stamped at release time; left as a placeholder in-tree the
// same way the teacher's version.h is generated from its build script.
const version = "0.1.0-dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if config.IsVersionRequested(err) {
			fmt.Printf("hpsdrd %s\n", version)

			return 0
		}

		fmt.Fprintf(os.Stderr, "hpsdrd: %v\n", err)

		return 1
	}

	logx.SetDebug(cfg.Debug)
	log := logx.For("main")
	log.Infof("hpsdrd %s starting (board=%v firmware=%d)", version, cfg.Board, cfg.FirmwareVersion)

	mac, err := discovery.LocalMAC(cfg.NetworkInterface)
	if err != nil {
		log.Warnf("reading MAC of %s: %v; discovery replies will carry a zero MAC", cfg.NetworkInterface, err)
	}

	// No FPGA character devices are opened here: this build runs against
	// the in-memory simulated transport until the real devices are wired
	// in, matching the teacher's own atest.go precedent of exercising the
	// full pipeline from a stand-in source.
	transport := hw.NewSimRegisters()
	dma := engine.DMASet{
		RXDDC:     hw.NewSimDMA(1 << 18),
		TXDUC:     hw.NewSimDMA(1 << 16),
		Mic:       hw.NewSimDMA(1 << 13),
		Speaker:   hw.NewSimDMA(1 << 13),
		Wideband0: hw.NewSimDMA(1 << 16),
		Wideband1: hw.NewSimDMA(1 << 16),
	}

	eng := engine.New(cfg, transport)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx, mac, dma); err != nil {
		log.Errorf("fatal: %v", err)

		return 1
	}

	log.Infof("hpsdrd exiting")

	return 0
}
