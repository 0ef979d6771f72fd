package captions

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Cue is one subtitle entry.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

var timecodeRe = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2}),(\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2}),(\d{3})`)

// ParseSRT reads SubRip cues. Malformed blocks are skipped.
func ParseSRT(r io.Reader) ([]Cue, error) {
	var cues []Cue
	scanner := bufio.NewScanner(r)
	state := 0 // 0=index, 1=timecode, 2=text
	var current Cue
	var lines []string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch state {
		case 0:
			if line == "" {
				continue
			}
			if _, err := strconv.Atoi(line); err == nil {
				state = 1
			}
		case 1:
			m := timecodeRe.FindStringSubmatch(line)
			if m == nil {
				state = 0
				continue
			}
			current.Start = srtTime(m[1], m[2], m[3], m[4])
			current.End = srtTime(m[5], m[6], m[7], m[8])
			lines = nil
			state = 2
		case 2:
			if line == "" {
				current.Text = strings.Join(lines, "\n")
				cues = append(cues, current)
				current = Cue{}
				lines = nil
				state = 0
			} else {
				lines = append(lines, line)
			}
		}
	}
	if len(lines) > 0 {
		current.Text = strings.Join(lines, "\n")
		cues = append(cues, current)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("captions: read srt: %w", err)
	}
	return cues, nil
}

func srtTime(h, m, s, ms string) time.Duration {
	hi, _ := strconv.Atoi(h)
	mi, _ := strconv.Atoi(m)
	si, _ := strconv.Atoi(s)
	msi, _ := strconv.Atoi(ms)
	return time.Duration(hi)*time.Hour +
		time.Duration(mi)*time.Minute +
		time.Duration(si)*time.Second +
		time.Duration(msi)*time.Millisecond
}
