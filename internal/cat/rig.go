package cat

import (
	hl "github.com/xylo04/goHamlib"
)

// Rig wraps the subset of goHamlib's rig-control surface the CAT bridge
// needs: frequency, mode, and PTT, mirroring the teacher's own cgo hamlib
// call sequence in ptt.go (rig_open, rig_set_ptt, rig_set_freq) but through
// goHamlib's pure-Go bindings instead of hand-rolled cgo, since the teacher
// itself names goHamlib in go.mod as the intended replacement and never
// finishes wiring it (see DESIGN.md).
type Rig struct {
	r *hl.Rig
}

// OpenRig opens a rig-control session for modelID on the named serial or
// network port (goHamlib accepts "hostname:port" for network rigs, which
// is how this bridge drives a second, software-defined "rig" rather than a
// physical radio).
func OpenRig(modelID int, port string) (*Rig, error) {
	r := hl.NewRig(modelID)

	if err := r.Open(port); err != nil {
		return nil, err
	}

	return &Rig{r: r}, nil
}

func (rg *Rig) Close() error {
	return rg.r.Close()
}

func (rg *Rig) SetFreq(vfo hl.Vfo, hz float64) error {
	return rg.r.SetFreq(vfo, hz)
}

func (rg *Rig) Freq(vfo hl.Vfo) (float64, error) {
	return rg.r.GetFreq(vfo)
}

func (rg *Rig) SetPTT(vfo hl.Vfo, on bool) error {
	state := hl.RigPttOff
	if on {
		state = hl.RigPttOn
	}

	return rg.r.SetPTT(vfo, state)
}

func (rg *Rig) SetMode(vfo hl.Vfo, mode hl.RMode) error {
	return rg.r.SetMode(vfo, mode, hl.PassbandNormal)
}
