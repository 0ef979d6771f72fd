package captions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zsiec/hwcodec/internal/media"
)

// CEA-608 command second bytes, sent with the channel's control first byte.
const (
	cmdRollUp2     = 0x25
	cmdEraseMemory = 0x2C
	pacRow15       = 0x60

	maxRowChars = 32
	maxRows     = 4
	padByte     = 0x80
)

// Track is a cue list bound to a CEA-608 channel, 1 through 4.
type Track struct {
	Channel int
	Cues    []Cue
}

type command struct {
	frame int
	pair  media.CaptionPair
}

// Schedule is a roll-up 2 caption stream laid out one pair per frame per
// track. Control codes are sent twice on consecutive frames, as decoders
// expect.
type Schedule struct {
	byFrame map[int][]media.CaptionPair
	last    int
}

// NewSchedule lays out tracks at fps frames per second.
func NewSchedule(fps float64, tracks ...Track) (*Schedule, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("captions: frame rate %v", fps)
	}
	s := &Schedule{byFrame: make(map[int][]media.CaptionPair), last: -1}
	for _, tr := range tracks {
		field, ctrl, err := channelBytes(tr.Channel)
		if err != nil {
			return nil, err
		}
		cmds := scheduleTrack(tr.Cues, fps, field, ctrl)
		// A later command for the same frame overrides an earlier one.
		sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].frame < cmds[j].frame })
		perFrame := map[int]media.CaptionPair{}
		for _, c := range cmds {
			perFrame[c.frame] = c.pair
		}
		for f, p := range perFrame {
			s.byFrame[f] = append(s.byFrame[f], p)
			s.last = max(s.last, f)
		}
	}
	for f := range s.byFrame {
		pairs := s.byFrame[f]
		sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Field < pairs[j].Field })
	}
	return s, nil
}

// Pairs returns the caption pairs carried by frame, or nil.
func (s *Schedule) Pairs(frame int) []media.CaptionPair {
	return s.byFrame[frame]
}

// Frames returns the number of frames up to and including the last one
// carrying a pair.
func (s *Schedule) Frames() int { return s.last + 1 }

// channelBytes maps CC1-CC4 to a field and the first byte of its control
// codes.
func channelBytes(ch int) (field uint8, ctrl byte, err error) {
	switch ch {
	case 1:
		return 0, 0x14, nil
	case 2:
		return 0, 0x1C, nil
	case 3:
		return 1, 0x15, nil
	case 4:
		return 1, 0x1D, nil
	}
	return 0, 0, fmt.Errorf("captions: channel %d out of range", ch)
}

func scheduleTrack(cues []Cue, fps float64, field uint8, ctrl byte) []command {
	control := func(b byte) media.CaptionPair {
		return media.CaptionPair{Field: field, Data: [2]byte{ctrl, b}}
	}
	text := func(a, b byte) media.CaptionPair {
		return media.CaptionPair{Field: field, Data: [2]byte{a, b}}
	}

	var cmds []command
	for _, cue := range cues {
		start := int(cue.Start.Seconds() * fps)
		end := int(cue.End.Seconds() * fps)

		pairs := []media.CaptionPair{
			control(cmdRollUp2), control(cmdRollUp2),
			control(cmdEraseMemory), control(cmdEraseMemory),
			control(pacRow15), control(pacRow15),
		}
		chars := normalize(cue.Text)
		for i := 0; i < len(chars); i += 2 {
			if i+1 < len(chars) {
				pairs = append(pairs, text(chars[i], chars[i+1]))
			} else {
				pairs = append(pairs, text(chars[i], padByte))
			}
		}
		for i, p := range pairs {
			cmds = append(cmds, command{frame: start + i, pair: p})
		}
		if end > start {
			cmds = append(cmds,
				command{frame: end, pair: control(cmdEraseMemory)},
				command{frame: end + 1, pair: control(cmdEraseMemory)},
			)
		}
	}
	return cmds
}

// normalize flattens text to at most four rows of printable ASCII.
func normalize(s string) []byte {
	lines := strings.Split(s, "\n")
	if len(lines) > maxRows {
		lines = lines[:maxRows]
	}
	for i, line := range lines {
		if len(line) > maxRowChars {
			lines[i] = line[:maxRowChars]
		}
	}
	var out []byte
	for _, ch := range strings.Join(lines, " ") {
		if ch >= 0x20 && ch <= 0x7E {
			out = append(out, byte(ch))
		} else {
			out = append(out, '?')
		}
	}
	return out
}
