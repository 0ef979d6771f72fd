package dpb

// generalPolicy bumps the oldest picture until the incoming one fits.
type generalPolicy struct{}

func (generalPolicy) add(d *DPB, p *Picture) error {
	d.collect()

	if p.Reference {
		for d.Full() {
			ok, err := d.Bump()
			if err != nil {
				return err
			}
			if !ok {
				return ErrFull
			}
		}
		d.pictures = append(d.pictures, p)
		return nil
	}

	if p.Skipped {
		p.output = true
		return nil
	}

	for d.Full() {
		if !d.hasPendingBefore(p.POC) {
			// Nothing buffered precedes p, so it is next in output order.
			return d.emit(p)
		}
		ok, err := d.Bump()
		if err != nil {
			return err
		}
		if !ok {
			return ErrFull
		}
	}
	d.pictures = append(d.pictures, p)
	return nil
}

// hasPendingBefore reports whether a picture awaiting output precedes poc.
func (d *DPB) hasPendingBefore(poc int32) bool {
	for _, q := range d.pictures {
		if !q.output && q.POC < poc {
			return true
		}
	}
	return false
}

func (generalPolicy) neighbours(d *DPB, p *Picture) (prev, next *Picture) {
	for _, q := range d.pictures {
		switch {
		case q == p || q.POC == p.POC:
			continue
		case q.POC < p.POC:
			if prev == nil || q.POC > prev.POC {
				prev = q
			}
		default:
			if next == nil || q.POC < next.POC {
				next = q
			}
		}
	}
	return prev, next
}

// pairPolicy keeps the two most recent reference pictures. When full, the
// older one is output if needed and its slot reused.
type pairPolicy struct{}

func (pairPolicy) add(d *DPB, p *Picture) error {
	d.collect()

	older := -1
	if d.Full() {
		older = 0
		if d.pictures[0].POC > d.pictures[1].POC {
			older = 1
		}
		if q := d.pictures[older]; !q.output {
			if err := d.emit(q); err != nil {
				return err
			}
		}
	}

	if !p.Reference {
		return d.emit(p)
	}

	if older >= 0 {
		d.pictures[older] = p
		return nil
	}
	d.pictures = append(d.pictures, p)
	return nil
}

// neighbours classifies the held pictures by POC alone: the nearest at or
// below p is the previous picture, the nearest above is the next. A held p
// is its own previous picture.
func (pairPolicy) neighbours(d *DPB, p *Picture) (prev, next *Picture) {
	for _, q := range d.pictures {
		if q.POC > p.POC {
			if next == nil || q.POC < next.POC {
				next = q
			}
			continue
		}
		if prev == nil || q.POC > prev.POC {
			prev = q
		}
	}
	return prev, next
}
