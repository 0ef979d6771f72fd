package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/hwcodec/internal/h264"
	"github.com/zsiec/hwcodec/internal/media"
	"github.com/zsiec/hwcodec/internal/reflist"
)

// State is the reorder state.
type State uint8

const (
	// StateWaitFrames means no picture is ready for submission.
	StateWaitFrames State = iota
	// StateDumpFrames means at least one picture is ready for submission.
	StateDumpFrames
)

func (s State) String() string {
	if s == StateDumpFrames {
		return "dump"
	}
	return "wait"
}

// picture is a frame after its coding type and counters are assigned.
type picture struct {
	typ      media.PictureType
	idr      bool
	idrPicID uint32
	frameNum uint32
	poc      uint32
	surface  media.Surface
	pts      int64
	captions []media.CaptionPair

	// Parameter sets to emit ahead of this picture. Set on I pictures and
	// on any picture coded right after a parameter change.
	sps *h264.StreamHeader
	pps *h264.StreamHeader
}

// Stats is a snapshot of encoder counters.
type Stats struct {
	FramesIn     int64
	FramesCoded  int64
	FramesOutput int64
	KeyFrames    int64
	BytesOut     int64
	QueueDepth   int
}

// Encoder is the encode core. Reorder, SubmitEncode, Encode, Drain and Flush
// must be called from one goroutine; GetOutput may run concurrently with
// them; SetParameters and GetParameters may be called from anywhere.
type Encoder struct {
	log     *slog.Logger
	backend Backend

	paramMu  sync.Mutex
	settings settings
	gop      gop
	started  bool
	seqDirty bool
	picDirty bool
	// unannounced is set while no queued picture carries sps and pps.
	unannounced bool
	seqParams   *h264.SequenceParams
	picParams   *h264.PictureParams
	sps         *h264.StreamHeader
	pps         *h264.StreamHeader

	state        State
	pending      []*picture // held for B-frame reordering, display order
	ready        []*picture // submission order
	refs         *reflist.Manager
	presentIndex uint32
	frameIndex   uint32
	frameNum     uint32
	idrNum       uint32

	out *outputQueue

	framesIn     atomic.Int64
	framesCoded  atomic.Int64
	framesOutput atomic.Int64
	keyFrames    atomic.Int64
	bytesOut     atomic.Int64
}

// New creates a stopped Encoder with Main profile defaults.
func New(backend Backend, log *slog.Logger) (*Encoder, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidParams)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Encoder{
		log:     log.With("component", "encoder"),
		backend: backend,
		settings: settings{
			common: CommonParams{
				Width:          DefaultWidth,
				Height:         DefaultHeight,
				FrameRateNum:   DefaultFrameRateNum,
				FrameRateDenom: DefaultFrameRateDenom,
				IntraPeriod:    DefaultIntraPeriod,
				Profile:        h264.ProfileMain,
				Level:          DefaultLevel,
				RateControl:    RateControlCQP,
				InitQP:         DefaultInitQP,
				MinQP:          DefaultMinQP,
			},
			avc: AVCParams{
				IDRInterval: DefaultIDRInterval,
				CABAC:       true,
			},
		},
		out: newOutputQueue(),
	}, nil
}

// Start derives the GOP structure from the current parameters and readies
// the encoder for frames. The first frame after Start is an IDR.
func (e *Encoder) Start() error {
	e.paramMu.Lock()
	defer e.paramMu.Unlock()
	if e.started {
		return nil
	}

	g, notes := e.settings.derive()
	for _, n := range notes {
		e.log.Warn("adjusted parameters", "reason", n)
	}
	refs, err := reflist.New(g.maxRefFrames, g.maxList0, g.maxList1, g.maxPOC)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	e.gop = g
	e.refs = refs
	e.seqDirty, e.picDirty = true, true
	e.resetReorder()
	e.started = true

	c := e.settings.common
	e.log.Info("encoder started",
		"size", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"profile", c.Profile,
		"level", c.Level,
		"intra_period", g.intraPeriod,
		"key_frame_period", g.keyFramePeriod,
		"b_frames", g.numBFrames,
		"rate_control", c.RateControl,
	)
	return nil
}

// Stop discards pending pictures and undelivered output.
func (e *Encoder) Stop() {
	e.paramMu.Lock()
	wasStarted := e.started
	e.started = false
	e.paramMu.Unlock()

	e.resetReorder()
	e.out.clear()
	if wasStarted {
		e.log.Info("encoder stopped", "frames_coded", e.framesCoded.Load())
	}
}

// Flush discards pending pictures, references and undelivered output. The
// next frame starts a new GOP with an IDR.
func (e *Encoder) Flush() {
	e.resetReorder()
	e.out.clear()
	e.log.Debug("encoder flushed")
}

func (e *Encoder) resetReorder() {
	e.pending = nil
	e.ready = nil
	e.state = StateWaitFrames
	if e.refs != nil {
		e.refs.Clear()
	}
	e.resetGOP()
}

// resetGOP starts a new GOP at the next frame.
func (e *Encoder) resetGOP() {
	e.frameIndex = 0
	e.frameNum = 0
	e.presentIndex = 0
}

// State returns the reorder state.
func (e *Encoder) State() State {
	return e.state
}

// gopSnapshot returns the GOP parameters, or ErrNotStarted.
func (e *Encoder) gopSnapshot() (gop, error) {
	e.paramMu.Lock()
	defer e.paramMu.Unlock()
	if !e.started {
		return gop{}, ErrNotStarted
	}
	return e.gop, nil
}

// Encode reorders f and submits every picture that became ready.
func (e *Encoder) Encode(ctx context.Context, f media.Frame) error {
	if err := e.Reorder(f); err != nil {
		return err
	}
	return e.submitReady(ctx)
}

// Drain releases pictures held for B-frame reordering and submits them.
// Call it at end of stream before the final GetOutput calls.
func (e *Encoder) Drain(ctx context.Context) error {
	g, err := e.gopSnapshot()
	if err != nil {
		return err
	}
	e.closeWindow(g)
	return e.submitReady(ctx)
}

func (e *Encoder) submitReady(ctx context.Context) error {
	for e.state == StateDumpFrames {
		if err := e.SubmitEncode(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reorder assigns f its coding type, frame_num and POC and queues it for
// submission. Key frames are ready at once; with B frames enabled, other
// frames wait until the lookahead window fills.
func (e *Encoder) Reorder(f media.Frame) error {
	if f.Surface == nil {
		return fmt.Errorf("%w: frame without surface", ErrInvalidParams)
	}
	g, err := e.gopSnapshot()
	if err != nil {
		return err
	}
	e.framesIn.Add(1)

	e.presentIndex++
	pic := &picture{
		surface:  f.Surface,
		pts:      f.PTS,
		captions: f.Captions,
		poc:      (e.presentIndex * 2) % g.maxPOC,
	}

	idr := e.frameIndex == 0 || e.frameIndex >= g.keyFramePeriod || f.ForceKey
	if idr || e.frameIndex%g.intraPeriod == 0 {
		e.closeWindow(g)
		e.frameNum++
		e.frameIndex++
		pic.typ = media.PictureI
		if idr {
			e.resetGOP()
			pic.idr = true
			pic.idrPicID = e.idrNum
			e.idrNum = (e.idrNum + 1) & 0xFFFF
			pic.frameNum = 0
			pic.poc = 0
			e.frameIndex++
		} else {
			pic.frameNum = e.frameNum % g.maxFrameNum
		}
		e.ready = append(e.ready, pic)
		e.state = StateDumpFrames
		e.log.Debug("reorder key frame", "idr", idr, "poc", pic.poc, "frame_num", pic.frameNum)
		return nil
	}

	e.frameIndex++
	if uint32(len(e.pending)) < g.numBFrames {
		e.pending = append(e.pending, pic)
		return nil
	}
	e.frameNum++
	pic.typ = media.PictureP
	pic.frameNum = e.frameNum % g.maxFrameNum
	e.ready = append(e.ready, pic)
	e.releaseBFrames(g)
	e.state = StateDumpFrames
	return nil
}

// closeWindow turns the last held frame into a P anchor and the rest into
// B pictures.
func (e *Encoder) closeWindow(g gop) {
	n := len(e.pending)
	if n == 0 {
		return
	}
	anchor := e.pending[n-1]
	e.pending = e.pending[:n-1]
	e.frameNum++
	anchor.typ = media.PictureP
	anchor.frameNum = e.frameNum % g.maxFrameNum
	e.ready = append(e.ready, anchor)
	e.releaseBFrames(g)
	e.state = StateDumpFrames
}

// releaseBFrames queues the held frames as B pictures after the anchor just
// queued. Non-reference pictures take the frame_num following the anchor.
func (e *Encoder) releaseBFrames(g gop) {
	for _, b := range e.pending {
		b.typ = media.PictureB
		b.frameNum = (e.frameNum + 1) % g.maxFrameNum
	}
	e.ready = append(e.ready, e.pending...)
	e.pending = nil
}

// SubmitEncode encodes the next ready picture and queues the result for
// GetOutput. It does nothing in StateWaitFrames.
func (e *Encoder) SubmitEncode(ctx context.Context) error {
	if e.state != StateDumpFrames {
		return nil
	}
	pic := e.ready[0]
	e.ready[0] = nil
	e.ready = e.ready[1:]
	if len(e.ready) == 0 {
		e.state = StateWaitFrames
	}

	entry, err := e.encodePicture(ctx, pic)
	if err != nil {
		e.log.Error("encode failed", "type", pic.typ, "poc", pic.poc, "error", err)
		return err
	}
	e.out.push(entry)
	e.markAnnounced(pic)
	e.framesCoded.Add(1)
	if pic.typ == media.PictureI {
		e.keyFrames.Add(1)
	}
	return nil
}

// GetOutput copies the next output unit into out according to out.Format.
// Header formats are served from the front picture or, with an empty queue,
// from the most recent parameter sets. With wait set, GetOutput blocks while
// there is nothing to return, until ctx is done.
func (e *Encoder) GetOutput(ctx context.Context, out *OutputBuffer, wait bool) error {
	if out == nil || !out.Format.valid() {
		return ErrInvalidParams
	}
	for {
		entry, ready := e.out.peek()
		err := e.deliver(ctx, out, entry)
		if !wait || !errors.Is(err, ErrNoData) {
			return err
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Encoder) deliver(ctx context.Context, out *OutputBuffer, entry *outputEntry) error {
	switch out.Format {
	case OutputCodecData:
		return e.codecData(out, entry)
	case OutputStreamHeader:
		return e.streamHeader(out, entry)
	}
	if entry == nil {
		return ErrNoData
	}

	if err := entry.coded.Sync(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		if e.out.pop(entry) {
			e.unannounce(entry.pic)
		}
		return fmt.Errorf("%w: sync poc %d: %w", ErrEncodeFailed, entry.pic.poc, err)
	}

	var parts [][]byte
	if out.Format == OutputEverything && entry.pic.sps != nil {
		parts = append(parts, entry.pic.sps.ByteStream(), entry.pic.pps.ByteStream())
	}
	parts = append(parts, entry.prefix, entry.coded.Bytes())
	n, err := copyParts(out, parts)
	if err != nil {
		return err
	}

	out.Flags = FlagEndOfFrame
	if entry.pic.typ == media.PictureI {
		out.Flags |= FlagSyncFrame
	}
	out.PTS = entry.pic.pts
	out.Type = entry.pic.typ

	if !e.out.pop(entry) {
		// Flushed while copying.
		return ErrNoData
	}
	e.framesOutput.Add(1)
	e.bytesOut.Add(int64(n))
	return nil
}

func (e *Encoder) codecData(out *OutputBuffer, entry *outputEntry) error {
	sps, pps := e.headersFor(entry)
	if sps == nil || pps == nil {
		return ErrNoData
	}
	if len(out.Data) < h264.ConfigRecordSize(sps, pps) {
		return ErrBufferTooSmall
	}
	rec, err := h264.BuildConfigRecord(sps, pps)
	if err != nil {
		return err
	}
	out.Size = copy(out.Data, rec)
	out.Flags = FlagCodecConfig
	out.Type = 0
	return nil
}

func (e *Encoder) streamHeader(out *OutputBuffer, entry *outputEntry) error {
	var sps, pps *h264.StreamHeader
	if entry != nil {
		// P and B pictures normally carry no parameter sets.
		sps, pps = entry.pic.sps, entry.pic.pps
	} else {
		sps, pps = e.cachedHeaders()
		if sps == nil || pps == nil {
			return ErrNoData
		}
	}
	var parts [][]byte
	if sps != nil && pps != nil {
		parts = [][]byte{sps.ByteStream(), pps.ByteStream()}
	}
	if _, err := copyParts(out, parts); err != nil {
		return err
	}
	out.Flags = FlagCodecConfig
	return nil
}

// headersFor returns the parameter sets of the front picture, falling back
// to the most recent ones.
func (e *Encoder) headersFor(entry *outputEntry) (sps, pps *h264.StreamHeader) {
	if entry != nil && entry.pic.sps != nil {
		return entry.pic.sps, entry.pic.pps
	}
	return e.cachedHeaders()
}

func (e *Encoder) cachedHeaders() (sps, pps *h264.StreamHeader) {
	e.paramMu.Lock()
	defer e.paramMu.Unlock()
	return e.sps, e.pps
}

// copyParts writes parts back to back into out.Data, or nothing at all if
// they do not fit.
func copyParts(out *OutputBuffer, parts [][]byte) (int, error) {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	if total > len(out.Data) {
		return 0, ErrBufferTooSmall
	}
	n := 0
	for _, p := range parts {
		n += copy(out.Data[n:], p)
	}
	out.Size = n
	return n, nil
}

// Stats returns a snapshot of the encoder counters.
func (e *Encoder) Stats() Stats {
	return Stats{
		FramesIn:     e.framesIn.Load(),
		FramesCoded:  e.framesCoded.Load(),
		FramesOutput: e.framesOutput.Load(),
		KeyFrames:    e.keyFrames.Load(),
		BytesOut:     e.bytesOut.Load(),
		QueueDepth:   e.out.len(),
	}
}
