package encoder

// Worst-case header sizes in bits, from the syntax tables with every
// optional field present.
const (
	spsMaxBits   = 16473
	vuiMaxBits   = 210
	hrdMaxBits   = 4103
	ppsMaxBits   = 101
	sliceMaxBits = 397 + 2572 + 6670 + 2402

	// bytesPerMacroblock bounds a 4:2:0 macroblock at 3200 bits.
	bytesPerMacroblock = 400

	// seiMaxBytes covers one caption SEI per 31 pairs for a frame's worth
	// of captions.
	seiMaxBytes = 256
)

func maxCodedSize(width, height int) int {
	mbs := ((width + 15) / 16) * ((height + 15) / 16)
	headerBits := spsMaxBits + vuiMaxBits + 2*hrdMaxBits + ppsMaxBits + sliceMaxBits
	return mbs*bytesPerMacroblock + (headerBits+7)/8 + seiMaxBytes
}

// MaxOutputSize returns a buffer size large enough for any GetOutput call
// at the current resolution.
func (e *Encoder) MaxOutputSize() int {
	e.paramMu.Lock()
	defer e.paramMu.Unlock()
	return maxCodedSize(e.settings.common.Width, e.settings.common.Height)
}
