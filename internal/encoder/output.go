package encoder

import (
	"sync"

	"github.com/zsiec/hwcodec/internal/media"
)

// OutputFormat selects what GetOutput copies into the caller's buffer.
type OutputFormat uint8

const (
	// OutputEverything is the stream header (for I pictures) followed by
	// the frame payload.
	OutputEverything OutputFormat = 0
	// OutputCodecData is the AVC decoder configuration record.
	OutputCodecData OutputFormat = 1
	// OutputStreamHeader is SPS and PPS in Annex B form.
	OutputStreamHeader OutputFormat = 2
	// OutputFrameData is the coded frame payload alone.
	OutputFrameData OutputFormat = 4
)

func (f OutputFormat) valid() bool {
	switch f {
	case OutputEverything, OutputCodecData, OutputStreamHeader, OutputFrameData:
		return true
	}
	return false
}

// BufferFlag describes a returned unit.
type BufferFlag uint8

const (
	FlagEndOfFrame BufferFlag = 1 << iota
	FlagSyncFrame
	FlagCodecConfig
)

// OutputBuffer is the caller-supplied destination for GetOutput. Data's
// length is the capacity; Size reports the bytes written. On
// ErrBufferTooSmall, Size and Data are left untouched.
type OutputBuffer struct {
	Format OutputFormat
	Data   []byte
	Size   int
	Flags  BufferFlag
	PTS    int64
	Type   media.PictureType
}

// outputEntry is one coded picture awaiting delivery.
type outputEntry struct {
	pic    *picture
	coded  Coded
	prefix []byte // SEI units placed ahead of the slice data
}

// outputQueue is a FIFO of coded pictures. The lock is held only while the
// queue itself is touched. Waiters block on ready, which is closed and
// replaced on every push.
type outputQueue struct {
	mu      sync.Mutex
	entries []*outputEntry
	ready   chan struct{}
}

func newOutputQueue() *outputQueue {
	return &outputQueue{ready: make(chan struct{})}
}

func (q *outputQueue) push(e *outputEntry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	close(q.ready)
	q.ready = make(chan struct{})
	q.mu.Unlock()
}

// peek returns the front entry, or nil, together with the channel that
// will be closed by the next push.
func (q *outputQueue) peek() (*outputEntry, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil, q.ready
	}
	return q.entries[0], q.ready
}

// pop removes e if it is still the front entry.
func (q *outputQueue) pop(e *outputEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 || q.entries[0] != e {
		return false
	}
	q.entries[0] = nil
	q.entries = q.entries[1:]
	return true
}

func (q *outputQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *outputQueue) clear() {
	q.mu.Lock()
	clear(q.entries)
	q.entries = q.entries[:0]
	q.mu.Unlock()
}
