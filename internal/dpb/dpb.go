package dpb

import (
	"errors"
	"fmt"
	"log/slog"
)

// Sentinel errors for buffer operations.
var (
	ErrFull         = errors.New("dpb: no slot can be freed")
	ErrDuplicatePOC = errors.New("dpb: picture order count already buffered")
	ErrCapacity     = errors.New("dpb: capacity must be positive")
)

// OutputFunc receives each picture exactly once, in output order. A non-nil
// error aborts the operation that triggered the output.
type OutputFunc func(p *Picture) error

// policy is the capacity-dependent part of the buffer.
type policy interface {
	add(d *DPB, p *Picture) error
	neighbours(d *DPB, p *Picture) (prev, next *Picture)
}

// DPB is a fixed-capacity picture buffer.
type DPB struct {
	log      *slog.Logger
	pictures []*Picture
	capacity int
	output   OutputFunc
	policy   policy
}

// New returns a buffer holding at most capacity pictures. Capacity 2 selects
// the pair policy; any other positive capacity selects the general policy.
func New(capacity int, output OutputFunc, log *slog.Logger) (*DPB, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacity, capacity)
	}
	if log == nil {
		log = slog.Default()
	}
	d := &DPB{
		log:      log.With("component", "dpb"),
		pictures: make([]*Picture, 0, capacity),
		capacity: capacity,
		output:   output,
	}
	if capacity == 2 {
		d.policy = pairPolicy{}
	} else {
		d.policy = generalPolicy{}
	}
	return d, nil
}

// Capacity returns the maximum number of buffered pictures.
func (d *DPB) Capacity() int { return d.capacity }

// Len returns the number of buffered pictures.
func (d *DPB) Len() int { return len(d.pictures) }

// Full reports whether no slot is free.
func (d *DPB) Full() bool { return len(d.pictures) >= d.capacity }

// Pictures returns a snapshot of the buffered pictures. Order is not
// meaningful.
func (d *DPB) Pictures() []*Picture {
	out := make([]*Picture, len(d.pictures))
	copy(out, d.pictures)
	return out
}

// Add inserts p, outputting or evicting buffered pictures as the policy
// requires. It returns ErrFull when no slot can be freed and
// ErrDuplicatePOC when any buffered picture, output or not, has p's POC.
func (d *DPB) Add(p *Picture) error {
	for _, q := range d.pictures {
		if q.POC == p.POC {
			return fmt.Errorf("%w: %d", ErrDuplicatePOC, p.POC)
		}
	}
	return d.policy.add(d, p)
}

// Oldest returns the buffered picture with the smallest POC among those
// whose output state equals wantOutput. Ties go to the lowest index.
func (d *DPB) Oldest(wantOutput bool) *Picture {
	i := d.oldestIndex(wantOutput)
	if i < 0 {
		return nil
	}
	return d.pictures[i]
}

func (d *DPB) oldestIndex(wantOutput bool) int {
	found := -1
	for i, p := range d.pictures {
		if p.output != wantOutput {
			continue
		}
		if found < 0 || p.POC < d.pictures[found].POC {
			found = i
		}
	}
	return found
}

// Bump outputs the oldest picture not yet output and removes it if it is not
// a reference. It reports false when every buffered picture is already
// output.
func (d *DPB) Bump() (bool, error) {
	i := d.oldestIndex(false)
	if i < 0 {
		return false, nil
	}
	p := d.pictures[i]
	if !p.Reference {
		d.remove(i)
	}
	if err := d.emit(p); err != nil {
		return true, err
	}
	return true, nil
}

// Flush outputs every remaining picture in POC order and empties the buffer.
func (d *DPB) Flush() error {
	for {
		ok, err := d.Bump()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	d.clear()
	return nil
}

// Neighbours returns the buffered pictures closest to p in POC on either
// side. Either result may be nil.
func (d *DPB) Neighbours(p *Picture) (prev, next *Picture) {
	return d.policy.neighbours(d, p)
}

// emit marks p output and passes it to the OutputFunc. Skipped pictures are
// consumed without reaching the callback.
func (d *DPB) emit(p *Picture) error {
	p.output = true
	if p.Skipped || d.output == nil {
		return nil
	}
	d.log.Debug("output picture", "poc", p.POC, "type", p.Type)
	return d.output(p)
}

// remove deletes the picture at i by moving the last picture into its slot.
func (d *DPB) remove(i int) {
	last := len(d.pictures) - 1
	d.pictures[i] = d.pictures[last]
	d.pictures[last] = nil
	d.pictures = d.pictures[:last]
}

// collect removes output non-reference pictures.
func (d *DPB) collect() {
	for i := 0; i < len(d.pictures); {
		p := d.pictures[i]
		if p.output && !p.Reference {
			d.remove(i)
			continue
		}
		i++
	}
}

func (d *DPB) clear() {
	for i := range d.pictures {
		d.pictures[i] = nil
	}
	d.pictures = d.pictures[:0]
}
