package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/zsiec/ccx"

	"github.com/zsiec/hwcodec/internal/captions"
	"github.com/zsiec/hwcodec/internal/media"
	"github.com/zsiec/hwcodec/internal/stream"
)

// recorder keeps per-session state for the frames a receiver hands it.
type recorder struct {
	log       *slog.Logger
	outputDir string
	captions  bool

	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionState
	wg       sync.WaitGroup
}

type sessionState struct {
	log       *slog.Logger
	extractor *captions.Extractor
	file      *renameio.PendingFile
	path      string
	cues      int
	err       error
}

func newRecorder(outputDir string, withCaptions bool, log *slog.Logger) *recorder {
	return &recorder{
		log:       log.With("component", "recorder"),
		outputDir: outputDir,
		captions:  withCaptions,
		sessions:  make(map[uuid.UUID]*sessionState),
	}
}

// handle is the quic.Handler. Frames of one session arrive sequentially.
func (r *recorder) handle(_ context.Context, sess *stream.Session, f *media.CodedFrame) error {
	st, err := r.state(sess)
	if err != nil {
		return err
	}
	if st.file != nil {
		if _, err := st.file.Write(f.Data); err != nil {
			return fmt.Errorf("write %s: %w", st.path, err)
		}
	}
	if st.extractor != nil {
		if err := st.extractor.Push(f.Data, f.PTS); err != nil {
			return fmt.Errorf("captions: %w", err)
		}
	}
	return nil
}

func (r *recorder) state(sess *stream.Session) (*sessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.sessions[sess.ID]; ok {
		return st, nil
	}

	st := &sessionState{log: r.log.With("session", sess.ID)}
	if r.outputDir != "" {
		st.path = filepath.Join(r.outputDir, sess.ID.String()+".h264")
		f, err := renameio.TempFile("", st.path)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", st.path, err)
		}
		st.file = f
	}
	if r.captions {
		st.extractor = captions.NewExtractor(captions.Config{
			Captions: func(cf *ccx.CaptionFrame) {
				st.cues++
				st.log.Info("caption", "pts", cf.PTS, "channel", cf.Channel, "text", cf.Text)
			},
		}, r.log)
	}
	r.sessions[sess.ID] = st

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		<-sess.Done()
		r.finish(sess)
	}()
	return st, nil
}

// finish flushes the caption reorder buffer and commits the session file.
func (r *recorder) finish(sess *stream.Session) {
	r.mu.Lock()
	st, ok := r.sessions[sess.ID]
	delete(r.sessions, sess.ID)
	r.mu.Unlock()
	if !ok {
		return
	}

	if st.extractor != nil {
		if err := st.extractor.Flush(); err != nil {
			st.log.Warn("caption flush failed", "error", err)
		}
	}
	if st.file != nil {
		if err := st.file.CloseAtomicallyReplace(); err != nil {
			st.log.Error("commit failed", "path", st.path, "error", err)
			_ = st.file.Cleanup()
		} else {
			st.log.Info("stream written", "path", st.path)
		}
	}
	stats := sess.Stats()
	st.log.Info("session finished",
		"frames", stats.Frames, "bytes", stats.Bytes,
		"keyframes", stats.KeyFrames, "captions", st.cues)
}

// wait blocks until every session seen so far has finished.
func (r *recorder) wait() {
	r.wg.Wait()
}
