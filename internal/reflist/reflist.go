// Package reflist maintains the encoder's short-term reference set and
// builds the per-slice reference picture lists from it.
package reflist

import (
	"errors"
	"slices"

	"github.com/zsiec/hwcodec/internal/media"
)

// Sentinel errors for list construction.
var (
	ErrNotInter      = errors.New("reflist: intra pictures have no reference lists")
	ErrNoReferences  = errors.New("reflist: reference set is empty")
	ErrInvalidConfig = errors.New("reflist: invalid configuration")
)

// Entry is a snapshot of a reference picture taken when it entered the set.
type Entry struct {
	FrameNum uint32
	POC      uint32
	Surface  media.Surface
}

// Info describes the picture being coded.
type Info struct {
	Type     media.PictureType
	IDR      bool
	FrameNum uint32
	POC      uint32
}

// Manager holds reference entries most recent first.
type Manager struct {
	entries  []Entry
	maxRefs  int
	maxList0 int
	maxList1 int
	maxPOC   uint32
}

// New returns a Manager keeping at most maxRefs entries and building lists
// of at most maxList0 and maxList1 entries. maxPOC is MaxPicOrderCntLsb and
// must be a power of two.
func New(maxRefs, maxList0, maxList1 int, maxPOC uint32) (*Manager, error) {
	if maxRefs <= 0 || maxList0 < 0 || maxList1 < 0 || maxPOC == 0 || maxPOC&(maxPOC-1) != 0 {
		return nil, ErrInvalidConfig
	}
	return &Manager{
		entries:  make([]Entry, 0, maxRefs),
		maxRefs:  maxRefs,
		maxList0: maxList0,
		maxList1: maxList1,
		maxPOC:   maxPOC,
	}, nil
}

// Update records a coded picture. B pictures are never references. An IDR
// clears the set; a full set drops its oldest entry.
func (m *Manager) Update(pic Info, surface media.Surface) {
	if pic.Type == media.PictureB {
		return
	}
	if pic.IDR {
		m.Clear()
	}
	if len(m.entries) >= m.maxRefs {
		m.entries = m.entries[:m.maxRefs-1]
	}
	m.entries = slices.Insert(m.entries, 0, Entry{
		FrameNum: pic.FrameNum,
		POC:      pic.POC,
		Surface:  surface,
	})
}

// Init builds the reference lists for pic. P pictures get the set most
// recent first in list 0. B pictures get past references, closest first, in
// list 0 and future references, closest first, in list 1. Lists are
// truncated to their configured maximum.
func (m *Manager) Init(pic Info) (list0, list1 []Entry, err error) {
	switch pic.Type {
	case media.PictureP:
		list0 = truncate(slices.Clone(m.entries), m.maxList0)
		list1 = truncate(nil, m.maxList1)
	case media.PictureB:
		for _, e := range m.entries {
			if m.after(pic.POC, e.POC) {
				list0 = append(list0, e)
			} else if m.after(e.POC, pic.POC) {
				list1 = append(list1, e)
			}
		}
		slices.SortStableFunc(list0, func(a, b Entry) int {
			return int(m.distance(pic.POC, a.POC)) - int(m.distance(pic.POC, b.POC))
		})
		slices.SortStableFunc(list1, func(a, b Entry) int {
			return int(m.distance(a.POC, pic.POC)) - int(m.distance(b.POC, pic.POC))
		})
		list0 = truncate(list0, m.maxList0)
		list1 = truncate(list1, m.maxList1)
	default:
		return nil, nil, ErrNotInter
	}
	if len(list0) == 0 && len(list1) == 0 {
		return nil, nil, ErrNoReferences
	}
	return list0, list1, nil
}

// Clear drops every entry.
func (m *Manager) Clear() {
	clear(m.entries)
	m.entries = m.entries[:0]
}

// Len returns the number of entries.
func (m *Manager) Len() int { return len(m.entries) }

// Entries returns a copy of the set, most recent first.
func (m *Manager) Entries() []Entry { return slices.Clone(m.entries) }

// after reports whether POC a follows b, modulo maxPOC.
func (m *Manager) after(a, b uint32) bool {
	return a != b && m.distance(a, b) < m.maxPOC/2
}

// distance returns a-b modulo maxPOC.
func (m *Manager) distance(a, b uint32) uint32 {
	return (a - b) & (m.maxPOC - 1)
}

func truncate(list []Entry, n int) []Entry {
	if len(list) > n {
		return list[:n]
	}
	return list
}
