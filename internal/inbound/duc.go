package inbound

import (
	"context"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/logx"
	"github.com/hpsdr/hpsdrd/internal/session"
	"github.com/hpsdr/hpsdrd/internal/wire"
)

// DUCListener is the DUC-specific inbound listener (§4.4): keyer speed,
// weight, paddle/mode options, sidetone, CW timing and ramp length.
type DUCListener struct {
	bank            *hw.Bank
	firmwareVersion int
	keyer           *KeyerState
	log             *logx.Logger
}

func NewDUCListener(bank *hw.Bank, firmwareVersion int, keyer *KeyerState) *DUCListener {
	return &DUCListener{bank: bank, firmwareVersion: firmwareVersion, keyer: keyer, log: logx.For("duc")}
}

func (d *DUCListener) Run(ctx context.Context, ep *endpoint.Endpoint, sup *session.Supervisor) error {
	return runLoop(ctx, ep, wire.SizeDUCSpecific, sup, d.log, func(pkt []byte) {
		d.apply(pkt)
	})
}

func (d *DUCListener) apply(pkt []byte) {
	cfg, ok := wire.ParseDUCSpecific(pkt)
	if !ok {
		return
	}

	d.keyer.Store(cfg.KeyerEnable)

	// The Open Question from spec.md §9 is preserved rather than resolved:
	// cfg.BreakIn (bit 7) is passed both as BreakIn and as the setter's
	// trailing ambiguous argument, matching the wire layer's own comment
	// (see DESIGN.md for the decision record).
	if err := d.bank.SetCWIambicKeyer(
		cfg.KeyerSpeed, cfg.KeyerWeight,
		cfg.ReversedPaddle, cfg.StrictSpacing, cfg.Mode,
		cfg.BreakIn, false, cfg.BreakIn,
	); err != nil {
		d.log.Errorf("set iambic keyer: %v", err)
	}

	cwCfg := hw.CWConfig{
		Enable:         cfg.CWEnable,
		SidetoneEnable: cfg.SidetoneEnable,
		SidetoneVolume: cfg.SidetoneVolume,
		SidetoneFreq:   cfg.SidetoneFreq,
		PTTDelayMs:     cfg.CWPTTDelayMs,
		HangMs:         cfg.CWHangMs,
		RampLengthMs:   cfg.CWRampUs,
		BreakIn:        cfg.BreakIn,
	}

	if regenerated, err := d.bank.SetCWConfig(cwCfg, d.firmwareVersion); err != nil {
		d.log.Errorf("set CW config: %v", err)
	} else if regenerated {
		d.log.Debugf("ramp regenerated for length %dms", cwCfg.RampLengthMs)
	}
}
