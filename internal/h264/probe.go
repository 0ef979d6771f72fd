package h264

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
)

// Probe is an independent reading of an SPS, used to cross-check what the
// writer produced.
type Probe struct {
	Width         int
	Height        int
	Profile       int
	Level         int
	NumRefFrames  int
	HasTiming     bool
	ReorderFrames int
}

// ProbeSPS decodes sps with mp4ff's SPS parser, including the full VUI.
func ProbeSPS(sps *StreamHeader) (Probe, error) {
	if sps == nil {
		return Probe{}, ErrShortData
	}
	parsed, err := avc.ParseSPSNALUnit(sps.Escaped(), true)
	if err != nil {
		return Probe{}, fmt.Errorf("h264: probe sps: %w", err)
	}
	p := Probe{
		Width:        int(parsed.Width),
		Height:       int(parsed.Height),
		Profile:      int(parsed.Profile),
		Level:        int(parsed.Level),
		NumRefFrames: int(parsed.NumRefFrames),
	}
	if parsed.VUI != nil {
		p.HasTiming = parsed.VUI.TimingInfoPresentFlag
		if parsed.VUI.BitstreamRestrictionFlag {
			p.ReorderFrames = int(parsed.VUI.MaxNumReorderFrames)
		}
	}
	return p, nil
}

// VerifySPS checks that sps decodes to the expected display size and
// profile.
func VerifySPS(sps *StreamHeader, width, height int, profile Profile) error {
	p, err := ProbeSPS(sps)
	if err != nil {
		return err
	}
	if p.Width != width || p.Height != height {
		return fmt.Errorf("h264: sps decodes to %dx%d, want %dx%d", p.Width, p.Height, width, height)
	}
	if p.Profile != int(profile) {
		return fmt.Errorf("h264: sps decodes to profile %d, want %d", p.Profile, profile)
	}
	return nil
}
