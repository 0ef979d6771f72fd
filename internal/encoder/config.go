package encoder

import "fmt"

// SetParameters applies a parameter block. Before Start any block is
// accepted; while running only rate control and QP settings may change,
// and a change marks the parameter sets for regeneration.
func (e *Encoder) SetParameters(b ParamBlock) error {
	if isNil(b) {
		return fmt.Errorf("%w: nil parameter block", ErrInvalidParams)
	}
	e.paramMu.Lock()
	defer e.paramMu.Unlock()

	switch p := b.(type) {
	case *CommonParams:
		if err := p.validate(); err != nil {
			return err
		}
		if e.started {
			return e.updateRunningLocked(*p)
		}
		e.settings.common = *p

	case *AVCParams:
		if e.started && *p != e.settings.avc {
			return fmt.Errorf("%w: avc parameters", ErrRunning)
		}
		e.settings.avc = *p

	case *IntraPeriodConfig:
		if p.IntraPeriod == 0 {
			return fmt.Errorf("%w: intra period 0", ErrInvalidParams)
		}
		if e.started && (p.IntraPeriod != e.settings.common.IntraPeriod || p.IDRInterval != e.settings.avc.IDRInterval) {
			return fmt.Errorf("%w: intra period", ErrRunning)
		}
		e.settings.common.IntraPeriod = p.IntraPeriod
		e.settings.avc.IDRInterval = p.IDRInterval

	default:
		return fmt.Errorf("%w: parameter block %T", ErrInvalidParams, b)
	}
	return nil
}

// updateRunningLocked applies the parts of p that may change mid-stream.
func (e *Encoder) updateRunningLocked(p CommonParams) error {
	cur := e.settings.common
	structural := p
	structural.RateControl, structural.BitRate = cur.RateControl, cur.BitRate
	structural.InitQP, structural.MinQP = cur.InitQP, cur.MinQP
	if structural != cur {
		return fmt.Errorf("%w: only rate control and qp may change", ErrRunning)
	}
	if p == cur {
		return nil
	}

	// HRD parameters live in the SPS; pic_init_qp lives in the PPS.
	if p.RateControl != cur.RateControl || p.BitRate != cur.BitRate {
		e.seqDirty = true
	}
	if p.InitQP != cur.InitQP {
		e.picDirty = true
	}
	e.settings.common = p
	e.gop.minQP = min(p.MinQP, p.InitQP)

	e.log.Info("rate control updated",
		"rate_control", p.RateControl,
		"bitrate", p.BitRate,
		"init_qp", p.InitQP,
		"min_qp", p.MinQP,
	)
	return nil
}

// GetParameters fills b with the current settings.
func (e *Encoder) GetParameters(b ParamBlock) error {
	if isNil(b) {
		return fmt.Errorf("%w: nil parameter block", ErrInvalidParams)
	}
	e.paramMu.Lock()
	defer e.paramMu.Unlock()

	switch p := b.(type) {
	case *CommonParams:
		*p = e.settings.common
	case *AVCParams:
		*p = e.settings.avc
	case *IntraPeriodConfig:
		p.IntraPeriod = e.settings.common.IntraPeriod
		p.IDRInterval = e.settings.avc.IDRInterval
	default:
		return fmt.Errorf("%w: parameter block %T", ErrInvalidParams, b)
	}
	return nil
}
