package encoder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/hwcodec/internal/bitstream"
	"github.com/zsiec/hwcodec/internal/h264"
	"github.com/zsiec/hwcodec/internal/media"
)

type stubCoded struct {
	data    []byte
	recon   media.Surface
	syncErr error
}

func (c *stubCoded) Sync(context.Context) error   { return c.syncErr }
func (c *stubCoded) Bytes() []byte                { return c.data }
func (c *stubCoded) Reconstructed() media.Surface { return c.recon }

// stubBackend emits the packed slice header as the frame payload and keeps
// every job it saw.
type stubBackend struct {
	mu        sync.Mutex
	jobs      []*Job
	encodeErr error
	syncErr   error
}

func (b *stubBackend) Encode(_ context.Context, job *Job) (Coded, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.encodeErr != nil {
		return nil, b.encodeErr
	}
	b.jobs = append(b.jobs, job)
	hdr := bitstream.EscapeEmulation(job.SliceHeader)
	data := append(append([]byte{}, bitstream.StartCode...), hdr...)
	return &stubCoded{data: data, recon: job.Input, syncErr: b.syncErr}, nil
}

func (b *stubBackend) fail(encodeErr, syncErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.encodeErr, b.syncErr = encodeErr, syncErr
}

func (b *stubBackend) snapshot() []*Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Job(nil), b.jobs...)
}

func newStarted(t *testing.T, b *stubBackend, blocks ...ParamBlock) *Encoder {
	t.Helper()
	e, err := New(b, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, p := range blocks {
		if err := e.SetParameters(p); err != nil {
			t.Fatalf("SetParameters(%T): %v", p, err)
		}
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e
}

func encodeN(t *testing.T, e *Encoder, n int) {
	t.Helper()
	for i := range n {
		f := media.Frame{Surface: media.SurfaceID(i), PTS: int64(i) * 3000}
		if err := e.Encode(context.Background(), f); err != nil {
			t.Fatalf("Encode(%d): %v", i, err)
		}
	}
}

func nalTypes(data []byte) []byte {
	var types []byte
	for _, u := range h264.ParseAnnexB(data) {
		types = append(types, u.Type)
	}
	return types
}

func getOutput(t *testing.T, e *Encoder, format OutputFormat) *OutputBuffer {
	t.Helper()
	out := &OutputBuffer{Format: format, Data: make([]byte, e.MaxOutputSize())}
	if err := e.GetOutput(context.Background(), out, false); err != nil {
		t.Fatalf("GetOutput(%d): %v", format, err)
	}
	return out
}

func TestNewRejectsNilBackend(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, nil); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("err = %v, want ErrInvalidParams", err)
	}
}

func TestReorderBeforeStart(t *testing.T) {
	t.Parallel()
	e, _ := New(&stubBackend{}, nil)
	err := e.Reorder(media.Frame{Surface: media.SurfaceID(1)})
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

func TestReorderWithoutSurface(t *testing.T) {
	t.Parallel()
	e := newStarted(t, &stubBackend{})
	if err := e.Reorder(media.Frame{}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("err = %v, want ErrInvalidParams", err)
	}
}

func TestForcedKeyFrame(t *testing.T) {
	t.Parallel()
	b := &stubBackend{}
	e := newStarted(t, b)
	encodeN(t, e, 3)

	if err := e.Reorder(media.Frame{Surface: media.SurfaceID(9), ForceKey: true}); err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	if got := e.State(); got != StateDumpFrames {
		t.Fatalf("state = %v, want dump", got)
	}
	if err := e.SubmitEncode(context.Background()); err != nil {
		t.Fatalf("SubmitEncode: %v", err)
	}
	if got := e.State(); got != StateWaitFrames {
		t.Errorf("state after submit = %v, want wait", got)
	}

	jobs := b.snapshot()
	last := jobs[len(jobs)-1]
	if last.Type != media.PictureI || !last.IDR || last.POC != 0 {
		t.Errorf("forced frame = %v idr=%v poc=%d, want IDR poc 0", last.Type, last.IDR, last.POC)
	}
	if last.Slice.IDRPicID != 1 {
		t.Errorf("idr_pic_id = %d, want 1", last.Slice.IDRPicID)
	}
}

func TestGOPStructure(t *testing.T) {
	t.Parallel()
	b := &stubBackend{}
	e := newStarted(t, b, &IntraPeriodConfig{IntraPeriod: 4, IDRInterval: 8})
	encodeN(t, e, 10)

	want := []struct {
		typ      media.PictureType
		idr      bool
		frameNum uint32
		poc      uint32
	}{
		{media.PictureI, true, 0, 0},
		{media.PictureP, false, 1, 2},
		{media.PictureP, false, 2, 4},
		{media.PictureP, false, 3, 6},
		{media.PictureI, false, 4, 8},
		{media.PictureP, false, 5, 10},
		{media.PictureP, false, 6, 12},
		{media.PictureP, false, 7, 14},
		{media.PictureI, true, 0, 0},
		{media.PictureP, false, 1, 2},
	}
	jobs := b.snapshot()
	if len(jobs) != len(want) {
		t.Fatalf("jobs = %d, want %d", len(jobs), len(want))
	}
	for i, w := range want {
		j := jobs[i]
		if j.Type != w.typ || j.IDR != w.idr || j.Slice.FrameNum != w.frameNum || j.POC != w.poc {
			t.Errorf("job %d = %v idr=%v frame_num=%d poc=%d, want %v idr=%v frame_num=%d poc=%d",
				i, j.Type, j.IDR, j.Slice.FrameNum, j.POC, w.typ, w.idr, w.frameNum, w.poc)
		}
	}
}

func TestOutputEverythingFIFO(t *testing.T) {
	t.Parallel()
	e := newStarted(t, &stubBackend{})
	encodeN(t, e, 3)

	first := getOutput(t, e, OutputEverything)
	if got := nalTypes(first.Data[:first.Size]); string(got) != string([]byte{7, 8, 5}) {
		t.Errorf("first unit NAL types = %v, want [7 8 5]", got)
	}
	if first.Flags != FlagEndOfFrame|FlagSyncFrame {
		t.Errorf("first flags = %b", first.Flags)
	}
	for i := 1; i < 3; i++ {
		out := getOutput(t, e, OutputEverything)
		if got := nalTypes(out.Data[:out.Size]); string(got) != string([]byte{1}) {
			t.Errorf("unit %d NAL types = %v, want [1]", i, got)
		}
		if out.PTS != int64(i)*3000 {
			t.Errorf("unit %d pts = %d, want %d", i, out.PTS, i*3000)
		}
		if out.Flags != FlagEndOfFrame {
			t.Errorf("unit %d flags = %b", i, out.Flags)
		}
	}

	out := &OutputBuffer{Data: make([]byte, 64)}
	if err := e.GetOutput(context.Background(), out, false); !errors.Is(err, ErrNoData) {
		t.Errorf("drained queue: err = %v, want ErrNoData", err)
	}
	if st := e.Stats(); st.FramesIn != 3 || st.FramesCoded != 3 || st.FramesOutput != 3 || st.KeyFrames != 1 || st.QueueDepth != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestOutputFormats(t *testing.T) {
	t.Parallel()
	e := newStarted(t, &stubBackend{})

	out := &OutputBuffer{Format: OutputCodecData, Data: make([]byte, 256)}
	if err := e.GetOutput(context.Background(), out, false); !errors.Is(err, ErrNoData) {
		t.Fatalf("codec data before first frame: err = %v, want ErrNoData", err)
	}

	encodeN(t, e, 2)

	cfg := getOutput(t, e, OutputCodecData)
	rec := cfg.Data[:cfg.Size]
	if rec[0] != 1 || rec[1] != byte(h264.ProfileMain) || rec[3] != DefaultLevel {
		t.Errorf("config record prefix = % x", rec[:4])
	}
	if cfg.Flags != FlagCodecConfig {
		t.Errorf("codec data flags = %b", cfg.Flags)
	}

	hdr := getOutput(t, e, OutputStreamHeader)
	if got := nalTypes(hdr.Data[:hdr.Size]); string(got) != string([]byte{7, 8}) {
		t.Errorf("stream header NAL types = %v, want [7 8]", got)
	}

	// Header requests do not consume the picture.
	frame := getOutput(t, e, OutputFrameData)
	if got := nalTypes(frame.Data[:frame.Size]); string(got) != string([]byte{5}) {
		t.Errorf("frame data NAL types = %v, want [5]", got)
	}

	// The front picture is now a P picture without parameter sets.
	hdr = getOutput(t, e, OutputStreamHeader)
	if hdr.Size != 0 {
		t.Errorf("stream header for P picture: size = %d, want 0", hdr.Size)
	}
	cfg = getOutput(t, e, OutputCodecData)
	if cfg.Size == 0 {
		t.Error("codec data should fall back to the current parameter sets")
	}
}

func TestOutputInvalidFormat(t *testing.T) {
	t.Parallel()
	e := newStarted(t, &stubBackend{})
	out := &OutputBuffer{Format: 3, Data: make([]byte, 16)}
	if err := e.GetOutput(context.Background(), out, false); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("err = %v, want ErrInvalidParams", err)
	}
	if err := e.GetOutput(context.Background(), nil, false); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("nil buffer: err = %v, want ErrInvalidParams", err)
	}
}

func TestOutputBufferTooSmall(t *testing.T) {
	t.Parallel()
	e := newStarted(t, &stubBackend{})
	encodeN(t, e, 1)

	for _, format := range []OutputFormat{OutputEverything, OutputCodecData, OutputStreamHeader, OutputFrameData} {
		out := &OutputBuffer{Format: format, Data: make([]byte, 2), Size: 99}
		if err := e.GetOutput(context.Background(), out, false); !errors.Is(err, ErrBufferTooSmall) {
			t.Errorf("format %d: err = %v, want ErrBufferTooSmall", format, err)
		}
		if out.Size != 99 {
			t.Errorf("format %d: size = %d, want untouched 99", format, out.Size)
		}
	}

	// The picture is still queued.
	out := getOutput(t, e, OutputEverything)
	if out.Size == 0 {
		t.Error("expected the queued picture after a short buffer")
	}
}

func TestGetOutputWait(t *testing.T) {
	t.Parallel()
	e := newStarted(t, &stubBackend{})

	done := make(chan error, 1)
	out := &OutputBuffer{Data: make([]byte, e.MaxOutputSize())}
	go func() {
		done <- e.GetOutput(context.Background(), out, true)
	}()

	select {
	case err := <-done:
		t.Fatalf("GetOutput returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	encodeN(t, e, 1)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("GetOutput: %v", err)
		}
		if out.Type != media.PictureI {
			t.Errorf("type = %v, want I", out.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetOutput did not wake up")
	}
}

func TestGetOutputWaitCanceled(t *testing.T) {
	t.Parallel()
	e := newStarted(t, &stubBackend{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := &OutputBuffer{Data: make([]byte, 64)}
	if err := e.GetOutput(ctx, out, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestConcurrentGetOutput(t *testing.T) {
	t.Parallel()
	e := newStarted(t, &stubBackend{})
	const frames = 40

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[int64]int{}
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				out := &OutputBuffer{Format: OutputFrameData, Data: make([]byte, 1024)}
				if err := e.GetOutput(ctx, out, true); err != nil {
					return
				}
				mu.Lock()
				seen[out.PTS]++
				n := len(seen)
				mu.Unlock()
				if n == frames {
					cancel()
				}
			}
		}()
	}

	encodeN(t, e, frames)
	wg.Wait()

	if len(seen) != frames {
		t.Fatalf("delivered %d distinct frames, want %d", len(seen), frames)
	}
	for pts, n := range seen {
		if n != 1 {
			t.Errorf("pts %d delivered %d times", pts, n)
		}
	}
}

func TestBFrameOrder(t *testing.T) {
	t.Parallel()
	b := &stubBackend{}
	e := newStarted(t, b, &AVCParams{IDRInterval: 30, NumBFrames: 1, CABAC: true})
	encodeN(t, e, 5)
	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	want := []struct {
		typ media.PictureType
		poc uint32
	}{
		{media.PictureI, 0},
		{media.PictureP, 4},
		{media.PictureB, 2},
		{media.PictureP, 8},
		{media.PictureB, 6},
	}
	jobs := b.snapshot()
	if len(jobs) != len(want) {
		t.Fatalf("jobs = %d, want %d", len(jobs), len(want))
	}
	for i, w := range want {
		if jobs[i].Type != w.typ || jobs[i].POC != w.poc {
			t.Errorf("job %d = %v poc %d, want %v poc %d", i, jobs[i].Type, jobs[i].POC, w.typ, w.poc)
		}
	}

	bjob := jobs[2]
	if len(bjob.List0) != 1 || bjob.List0[0].POC != 0 {
		t.Errorf("B list0 = %+v, want poc 0", bjob.List0)
	}
	if len(bjob.List1) != 1 || bjob.List1[0].POC != 4 {
		t.Errorf("B list1 = %+v, want poc 4", bjob.List1)
	}
	if bjob.Slice.NALRefIdc != h264.RefIdcNone {
		t.Errorf("B nal_ref_idc = %d, want 0", bjob.Slice.NALRefIdc)
	}
	if seq := bjob.Sequence; seq.VUI == nil || !seq.VUI.BitstreamRestriction || seq.VUI.MaxNumReorderFrames != 1 {
		t.Error("B-frame stream should signal one reorder frame")
	}
}

func TestDrainOddTail(t *testing.T) {
	t.Parallel()
	b := &stubBackend{}
	e := newStarted(t, b, &AVCParams{IDRInterval: 30, NumBFrames: 2})
	encodeN(t, e, 3)
	if got := len(b.snapshot()); got != 1 {
		t.Fatalf("jobs before drain = %d, want 1", got)
	}
	if err := e.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	jobs := b.snapshot()
	if len(jobs) != 3 || jobs[1].Type != media.PictureP || jobs[1].POC != 4 || jobs[2].Type != media.PictureB {
		t.Errorf("drained tail = %v/%d %v", jobs[1].Type, jobs[1].POC, jobs[2].Type)
	}
}

func TestCaptionSEIPrefix(t *testing.T) {
	t.Parallel()
	e := newStarted(t, &stubBackend{})
	pairs := make([]media.CaptionPair, 40)
	for i := range pairs {
		pairs[i] = media.CaptionPair{Data: [2]byte{0x14, 0x20}}
	}
	f := media.Frame{Surface: media.SurfaceID(1), Captions: pairs}
	if err := e.Encode(context.Background(), f); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out := getOutput(t, e, OutputFrameData)
	got := nalTypes(out.Data[:out.Size])
	if string(got) != string([]byte{6, 6, 5}) {
		t.Errorf("NAL types = %v, want two SEI units then the IDR slice", got)
	}
}

func TestEncodeBackendFailure(t *testing.T) {
	t.Parallel()
	b := &stubBackend{encodeErr: errors.New("device lost")}
	e := newStarted(t, b)
	err := e.Encode(context.Background(), media.Frame{Surface: media.SurfaceID(1)})
	if !errors.Is(err, ErrEncodeFailed) {
		t.Errorf("err = %v, want ErrEncodeFailed", err)
	}
}

// picInitQP reads pic_init_qp from a PPS NAL unit.
func picInitQP(t *testing.T, nal h264.NALUnit) int32 {
	t.Helper()
	r := bitstream.NewReader(nal.RBSP())
	r.ReadUE() // pic_parameter_set_id
	r.ReadUE() // seq_parameter_set_id
	r.ReadFlag()
	r.ReadFlag()
	if n := r.ReadUE(); n != 0 {
		t.Fatalf("num_slice_groups_minus1 = %d", n)
	}
	r.ReadUE()
	r.ReadUE()
	r.ReadFlag()
	r.ReadBits(2)
	qp := 26 + r.ReadSE()
	if err := r.Err(); err != nil {
		t.Fatalf("pps: %v", err)
	}
	return qp
}

func TestDroppedPictureKeepsNewHeaders(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		encodeErr error
		syncErr   error
	}{
		{"encode failure", errors.New("device lost"), nil},
		{"sync failure", nil, errors.New("timeout")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := &stubBackend{}
			e := newStarted(t, b)
			encodeN(t, e, 2)
			for range 2 {
				getOutput(t, e, OutputEverything)
			}

			var c CommonParams
			if err := e.GetParameters(&c); err != nil {
				t.Fatalf("GetParameters: %v", err)
			}
			c.InitQP = 30
			if err := e.SetParameters(&c); err != nil {
				t.Fatalf("SetParameters: %v", err)
			}

			b.fail(tt.encodeErr, tt.syncErr)
			err := e.Encode(context.Background(), media.Frame{Surface: media.SurfaceID(2), PTS: 6000})
			if tt.encodeErr == nil {
				if err != nil {
					t.Fatalf("Encode: %v", err)
				}
				out := &OutputBuffer{Data: make([]byte, e.MaxOutputSize())}
				err = e.GetOutput(context.Background(), out, false)
			}
			if !errors.Is(err, ErrEncodeFailed) {
				t.Fatalf("err = %v, want ErrEncodeFailed", err)
			}

			b.fail(nil, nil)
			if err := e.Encode(context.Background(), media.Frame{Surface: media.SurfaceID(3), PTS: 9000}); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			hdr := getOutput(t, e, OutputStreamHeader)
			if hdr.Size == 0 {
				t.Fatal("next picture carries no parameter sets")
			}
			units := h264.ParseAnnexB(hdr.Data[:hdr.Size])
			if len(units) != 2 || units[1].Type != h264.NALTypePPS {
				t.Fatalf("NAL types = %v, want SPS PPS", nalTypes(hdr.Data[:hdr.Size]))
			}
			if got := picInitQP(t, units[1]); got != 30 {
				t.Errorf("pic_init_qp = %d, want 30", got)
			}

			out := getOutput(t, e, OutputFrameData)
			if out.Type != media.PictureP {
				t.Errorf("type = %v, want P", out.Type)
			}
			// Once delivered, later pictures go without headers again.
			if err := e.Encode(context.Background(), media.Frame{Surface: media.SurfaceID(4), PTS: 12000}); err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if hdr := getOutput(t, e, OutputStreamHeader); hdr.Size != 0 {
				t.Errorf("stream header size = %d after announcement, want 0", hdr.Size)
			}
		})
	}
}

func TestSyncFailureDropsPicture(t *testing.T) {
	t.Parallel()
	b := &stubBackend{syncErr: errors.New("timeout")}
	e := newStarted(t, b)
	encodeN(t, e, 1)

	out := &OutputBuffer{Data: make([]byte, e.MaxOutputSize())}
	if err := e.GetOutput(context.Background(), out, false); !errors.Is(err, ErrEncodeFailed) {
		t.Fatalf("err = %v, want ErrEncodeFailed", err)
	}
	if err := e.GetOutput(context.Background(), out, false); !errors.Is(err, ErrNoData) {
		t.Errorf("after failed sync: err = %v, want ErrNoData", err)
	}
}

func TestSetParametersValidation(t *testing.T) {
	t.Parallel()
	e, _ := New(&stubBackend{}, nil)

	var nilCommon *CommonParams
	tests := []struct {
		name  string
		block ParamBlock
		want  error
	}{
		{"nil", nil, ErrInvalidParams},
		{"typed nil", nilCommon, ErrInvalidParams},
		{"zero size", &CommonParams{FrameRateNum: 30, FrameRateDenom: 1, IntraPeriod: 1}, ErrInvalidParams},
		{"odd size", &CommonParams{Width: 641, Height: 480, FrameRateNum: 30, FrameRateDenom: 1, IntraPeriod: 1, Profile: h264.ProfileMain}, ErrInvalidParams},
		{"cbr without bitrate", &CommonParams{Width: 640, Height: 480, FrameRateNum: 30, FrameRateDenom: 1, IntraPeriod: 1, Profile: h264.ProfileMain, RateControl: RateControlCBR}, ErrInvalidParams},
		{"extended profile", &CommonParams{Width: 640, Height: 480, FrameRateNum: 30, FrameRateDenom: 1, IntraPeriod: 1, Profile: 88}, ErrUnsupported},
		{"zero intra period", &IntraPeriodConfig{}, ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.SetParameters(tt.block); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if err := e.GetParameters(nil); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("GetParameters(nil) = %v, want ErrInvalidParams", err)
	}
}

func TestSetParametersWhileRunning(t *testing.T) {
	t.Parallel()
	e := newStarted(t, &stubBackend{})
	encodeN(t, e, 2)
	for range 2 {
		getOutput(t, e, OutputEverything)
	}

	var c CommonParams
	if err := e.GetParameters(&c); err != nil {
		t.Fatalf("GetParameters: %v", err)
	}

	resized := c
	resized.Width = 640
	if err := e.SetParameters(&resized); !errors.Is(err, ErrRunning) {
		t.Errorf("resize while running: err = %v, want ErrRunning", err)
	}
	if err := e.SetParameters(&AVCParams{IDRInterval: 60}); !errors.Is(err, ErrRunning) {
		t.Errorf("avc change while running: err = %v, want ErrRunning", err)
	}

	cbr := c
	cbr.RateControl = RateControlCBR
	cbr.BitRate = 4_000_000
	if err := e.SetParameters(&cbr); err != nil {
		t.Fatalf("switch to CBR: %v", err)
	}

	// The next picture carries the regenerated parameter sets.
	encodeN(t, e, 1)
	out := getOutput(t, e, OutputEverything)
	units := h264.ParseAnnexB(out.Data[:out.Size])
	if len(units) != 3 || units[0].Type != h264.NALTypeSPS {
		t.Fatalf("NAL types = %v, want SPS PPS slice", nalTypes(out.Data[:out.Size]))
	}
	info, err := h264.ParseSPS(units[0].Data)
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	if !info.HRDPresent {
		t.Error("CBR stream should carry HRD parameters")
	}

	var got CommonParams
	_ = e.GetParameters(&got)
	if got != cbr {
		t.Errorf("GetParameters = %+v, want %+v", got, cbr)
	}
}

func TestCroppedResolution(t *testing.T) {
	t.Parallel()
	b := &stubBackend{}
	e := newStarted(t, b, &CommonParams{
		Width: 1920, Height: 1080,
		FrameRateNum: 30000, FrameRateDenom: 1001,
		IntraPeriod: 30, Profile: h264.ProfileHigh, Level: 40,
		InitQP: 30, MinQP: 28,
	}, &AVCParams{IDRInterval: 60, CABAC: true, Transform8x8: true})
	encodeN(t, e, 1)

	job := b.snapshot()[0]
	if !job.Sequence.FrameCropping || job.Sequence.CropBottom != 4 {
		t.Errorf("crop = %v bottom %d, want bottom 4", job.Sequence.FrameCropping, job.Sequence.CropBottom)
	}
	if job.Slice.QPDelta != 2 {
		t.Errorf("slice_qp_delta = %d, want 2", job.Slice.QPDelta)
	}
	if !job.Picture.Transform8x8Mode {
		t.Error("8x8 transform should stay on for High profile")
	}
}

func TestBaselineDisablesBFrames(t *testing.T) {
	t.Parallel()
	b := &stubBackend{}
	e := newStarted(t, b, &CommonParams{
		Width: 640, Height: 480,
		FrameRateNum: 30, FrameRateDenom: 1,
		IntraPeriod: 30, Profile: h264.ProfileBaseline, Level: 30,
		InitQP: 26, MinQP: 1,
	}, &AVCParams{IDRInterval: 30, NumBFrames: 2, CABAC: true})
	encodeN(t, e, 3)

	for i, j := range b.snapshot() {
		if j.Type == media.PictureB {
			t.Errorf("job %d is a B picture on baseline", i)
		}
		if j.Picture.EntropyCodingCABAC {
			t.Errorf("job %d uses CABAC on baseline", i)
		}
	}
}

func TestFlushRestartsGOP(t *testing.T) {
	t.Parallel()
	b := &stubBackend{}
	e := newStarted(t, b)
	encodeN(t, e, 3)
	e.Flush()

	if st := e.Stats(); st.QueueDepth != 0 {
		t.Errorf("queue depth after flush = %d", st.QueueDepth)
	}
	encodeN(t, e, 1)
	jobs := b.snapshot()
	if last := jobs[len(jobs)-1]; !last.IDR {
		t.Errorf("first picture after flush = %v, want IDR", last.Type)
	}
}

func TestMaxOutputSize(t *testing.T) {
	t.Parallel()
	e, _ := New(&stubBackend{}, nil)
	small := e.MaxOutputSize()
	if err := e.SetParameters(&CommonParams{
		Width: 1920, Height: 1080, FrameRateNum: 30, FrameRateDenom: 1,
		IntraPeriod: 30, Profile: h264.ProfileMain, Level: 40, InitQP: 26,
	}); err != nil {
		t.Fatal(err)
	}
	if big := e.MaxOutputSize(); big <= small || big < 120*68*bytesPerMacroblock {
		t.Errorf("MaxOutputSize = %d (720p %d)", big, small)
	}
}

func BenchmarkEncode(b *testing.B) {
	e, _ := New(&stubBackend{}, nil)
	_ = e.Start()
	out := &OutputBuffer{Data: make([]byte, e.MaxOutputSize())}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.Encode(ctx, media.Frame{Surface: media.SurfaceID(i), PTS: int64(i)})
		_ = e.GetOutput(ctx, out, false)
	}
}
