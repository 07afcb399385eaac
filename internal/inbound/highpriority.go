package inbound

import (
	"context"

	"github.com/hpsdr/hpsdrd/internal/endpoint"
	"github.com/hpsdr/hpsdrd/internal/hw"
	"github.com/hpsdr/hpsdrd/internal/logx"
	"github.com/hpsdr/hpsdrd/internal/session"
	"github.com/hpsdr/hpsdrd/internal/wire"
)

// HighPriorityListener is the high-priority-to-SDR inbound listener
// (§4.4): run/MOX bits, all ten DDC frequencies, the DUC frequency and
// drive level, the Alex filter/antenna write, and the CWX paddle bits.
type HighPriorityListener struct {
	bank            *hw.Bank
	firmwareVersion int
	keyer           *KeyerState
	cat             *CATPort
	log             *logx.Logger
}

func NewHighPriorityListener(bank *hw.Bank, firmwareVersion int, keyer *KeyerState, cat *CATPort) *HighPriorityListener {
	return &HighPriorityListener{bank: bank, firmwareVersion: firmwareVersion, keyer: keyer, cat: cat, log: logx.For("hpin")}
}

func (h *HighPriorityListener) Run(ctx context.Context, ep *endpoint.Endpoint, sup *session.Supervisor) error {
	return runLoop(ctx, ep, wire.SizeHighPriorityIn, sup, h.log, func(pkt []byte) {
		h.apply(pkt, sup)
	})
}

func (h *HighPriorityListener) apply(pkt []byte, sup *session.Supervisor) {
	p, ok := wire.ParseHighPriorityIn(pkt)
	if !ok {
		return
	}

	sup.OnHighPriority(p.Run, h.keyer.Load())

	if p.CATPort != 0 {
		h.cat.Store(p.CATPort)
	}

	for i, freq := range p.DDCFreq {
		if err := h.bank.SetDDCFrequency(i, freq); err != nil {
			h.log.Errorf("set DDC%d frequency: %v", i, err)
		}
	}

	if err := h.bank.SetDUCFrequency(p.DUCFreq); err != nil {
		h.log.Errorf("set DUC frequency: %v", err)
	}

	step, current := h.bank.DriveLevel(p.DUCDrive)
	if err := h.bank.WriteDriveLevel(step, current); err != nil {
		h.log.Errorf("write drive level: %v", err)
	}

	if err := h.bank.SetMOX(p.MOX); err != nil {
		h.log.Errorf("set MOX: %v", err)
	}

	if err := h.bank.SetTransverter(p.Transverter); err != nil {
		h.log.Errorf("set transverter: %v", err)
	}

	if err := h.bank.SetSpeakerMute(p.SpeakerMute); err != nil {
		h.log.Errorf("set speaker mute: %v", err)
	}

	if err := h.bank.SetCWXDitDahEnable(p.CWXDit, p.CWXDah, p.CWXEnable); err != nil {
		h.log.Errorf("set CWX bits: %v", err)
	}

	// Alex TX filter/antenna write follows spec.md §8 scenario 6 exactly:
	// the low byte of the new register carries the TX filter bits, bits
	// 8-10 carry the antenna selection, and the legacy byte stands in for
	// both when no TX-antenna bit is set.
	txFilterBits := byte(p.TXFilterAntennaNew & 0xFF)

	if err := h.bank.AlexWrite(h.firmwareVersion, p.TXAntennaBits, txFilterBits, p.TXFilterLegacy, p.RXFilterAntenna); err != nil {
		h.log.Errorf("Alex write: %v", err)
	}
}
