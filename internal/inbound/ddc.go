package inbound

import (
	"context"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/logx"
	"github.com/hpsdr/hpsdrd/internal/session"
	"github.com/hpsdr/hpsdrd/internal/wire"
)

// rateCodeFromHz maps a sample-rate word to the 2-bit rate code stored in
// the committed DDC rate map (§3: {48,96,192,384,768,1536}kHz or
// "interleave with next"). Only 48, 96, 192 and 384 kHz have codes; 768 kHz,
// 1536 kHz and any other value map to code 0 (48 kHz).
func rateCodeFromHz(hz uint32) byte {
	switch hz {
	case 48000:
		return 0
	case 96000:
		return 1
	case 192000:
		return 2
	case 384000:
		return 3
	default:
		return 0
	}
}

// DDCListener is the DDC-specific inbound listener (§4.4).
type DDCListener struct {
	bank    *hw.Bank
	onApply func(changed bool) // recompute per-DDC packet sizes, etc.
	log     *logx.Logger
}

func NewDDCListener(bank *hw.Bank, onApply func(changed bool)) *DDCListener {
	return &DDCListener{bank: bank, onApply: onApply, log: logx.For("ddc")}
}

// Run serves the DDC-specific endpoint until ctx is done.
func (d *DDCListener) Run(ctx context.Context, ep *endpoint.Endpoint, sup *session.Supervisor) error {
	return runLoop(ctx, ep, wire.SizeDDCSpecific, sup, d.log, func(pkt []byte) {
		d.apply(pkt)
	})
}

// apply decodes the packet, rewrites the "even DDC N paired with N+1"
// synchronisation pattern into interleave-with-next plus a force-enabled
// odd slave, and commits the whole ten-DDC rate map atomically (§3, §4.4,
// §8 scenario 5).
func (d *DDCListener) apply(pkt []byte) {
	cfg, ok := wire.ParseDDCSpecific(pkt)
	if !ok {
		return
	}

	var slots [wire.NumDDC]hw.DDCSlot

	for i := 0; i < wire.NumDDC; i++ {
		slots[i] = hw.DDCSlot{
			Enable:    cfg.Enable[i],
			RateCode:  rateCodeFromHz(cfg.RateWord[i]),
			ADCSource: cfg.ADCSource[i],
		}
	}

	// cfg.SyncEven[k] means "even DDC 2k is paired with 2k+1" (only the
	// first four even DDCs carry a synchronisation byte, §8 scenario 5).
	for k, synced := range cfg.SyncEven {
		if synced {
			slots[k*2].InterleaveNext = true
		}
	}

	changed, err := d.bank.CommitDDCConfig(slots)
	if err != nil {
		d.log.Errorf("commit DDC config: %v", err)

		return
	}

	if d.onApply != nil {
		d.onApply(changed)
	}
}
