package manifest

import (
	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

// TableManifest is the live, in-memory description of one table: its name
// and the sets of files it currently owns, keyed by subtype.
type TableManifest struct {
	Name         string
	ID           ids.TID
	Removed      bool
	ActiveLogs   map[ids.FID]struct{}
	FrozenLogs   map[ids.FID]struct{}
	BloomFilters map[ids.FID]struct{}
	ValueLogs    map[ids.FID]struct{}
}

func newTableManifest(id ids.TID, name string) *TableManifest {
	return &TableManifest{
		Name:         name,
		ID:           id,
		ActiveLogs:   make(map[ids.FID]struct{}),
		FrozenLogs:   make(map[ids.FID]struct{}),
		BloomFilters: make(map[ids.FID]struct{}),
		ValueLogs:    make(map[ids.FID]struct{}),
	}
}

// Snapshot is the in-memory materialization of every event applied so
// far: the set of live tables and their files, plus the bookkeeping
// needed to drive ID generation and the rewrite policy.
type Snapshot struct {
	tables      map[ids.TID]*TableManifest
	namesInUse  map[string]ids.TID
	lastFID     ids.FID
	lastTableID ids.TID
	creations   uint64
	deletions   uint64
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		tables:     make(map[ids.TID]*TableManifest),
		namesInUse: make(map[string]ids.TID),
	}
}

// Table returns the live TableManifest for id, or nil if absent/removed.
func (s *Snapshot) Table(id ids.TID) *TableManifest {
	return s.tables[id]
}

// TableIDs returns the ids of every live table in the snapshot, in no
// particular order.
func (s *Snapshot) TableIDs() []ids.TID {
	out := make([]ids.TID, 0, len(s.tables))
	for id := range s.tables {
		out = append(out, id)
	}
	return out
}

// LastFID and LastTableID are the high-water marks observed so far,
// used to seed the process-wide ID generators on open.
func (s *Snapshot) LastFID() ids.FID     { return s.lastFID }
func (s *Snapshot) LastTableID() ids.TID { return s.lastTableID }
func (s *Snapshot) Creations() uint64    { return s.creations }
func (s *Snapshot) Deletions() uint64    { return s.deletions }

// validate checks ev against the current snapshot per spec.md §4.D,
// without mutating anything.
func (s *Snapshot) validate(ev Event) error {
	switch e := ev.(type) {
	case TableEvent:
		switch e.Kind {
		case KindCreate:
			if e.Name == reservedTableName {
				return ErrReservedTable
			}
			if existing, ok := s.tables[e.TID]; ok {
				if existing.Name != e.Name {
					return ErrDuplicateTableId
				}
				return nil // idempotent success
			}
			if owner, ok := s.namesInUse[e.Name]; ok {
				if tm, live := s.tables[owner]; live && !tm.Removed {
					return ErrTableAlreadyExists
				}
			}
			return nil
		case KindDelete:
			tm, ok := s.tables[e.TID]
			if !ok || tm.Name != e.Name {
				return ErrTableNotFound
			}
			return nil
		default:
			return ErrInvalidEntryFlag
		}
	case LogEvent:
		if _, ok := s.tables[e.TID]; !ok {
			return ErrTableNotFound
		}
		// SubtypeTable has no per-table file set; it is accepted like any
		// other enumerated subtype and apply leaves the snapshot unchanged.
		if e.Subtype != SubtypeTable {
			if _, err := subtypeSet(e.Subtype); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrInvalidEntryFlag
	}
}

// apply mutates the snapshot per ev, which must have already passed
// validate against the same snapshot state.
func (s *Snapshot) apply(ev Event) {
	switch e := ev.(type) {
	case TableEvent:
		switch e.Kind {
		case KindCreate:
			if existing, ok := s.tables[e.TID]; ok && existing.Name == e.Name {
				return // idempotent
			}
			if e.TID > s.lastTableID {
				s.lastTableID = e.TID
			}
			tm := newTableManifest(e.TID, e.Name)
			s.tables[e.TID] = tm
			s.namesInUse[e.Name] = e.TID
			s.creations++
		case KindDelete:
			if tm, ok := s.tables[e.TID]; ok {
				tm.Removed = true
				delete(s.tables, e.TID)
				s.deletions++
			}
		}
	case LogEvent:
		tm, ok := s.tables[e.TID]
		if !ok {
			return
		}
		setFn, err := subtypeSet(e.Subtype)
		if err != nil {
			return
		}
		set := setFn(tm)
		if e.FID > s.lastFID {
			s.lastFID = e.FID
		}
		switch e.Kind {
		case KindCreate:
			set[e.FID] = struct{}{}
			s.creations++
		case KindDelete:
			if _, present := set[e.FID]; present {
				delete(set, e.FID)
				s.deletions++
			}
		}
	}
}

// shouldRewrite reports whether the manifest's on-disk log should be
// compacted, per spec.md §4.D's rewrite policy.
func (s *Snapshot) shouldRewrite(threshold uint64) bool {
	if s.deletions <= threshold {
		return false
	}
	net := int64(s.creations) - int64(s.deletions)
	if net < 0 {
		net = 0
	}
	return s.deletions > 10*uint64(net)
}

// liveEvents materializes the current snapshot as the minimal sequence of
// creation events that would reproduce it from an empty snapshot: one
// TableEvent per live table, followed by one LogEvent per file it owns.
func (s *Snapshot) liveEvents() []Event {
	var out []Event
	for _, tm := range s.tables {
		out = append(out, TableEvent{TID: tm.ID, Name: tm.Name, Kind: KindCreate})
		for fid := range tm.ActiveLogs {
			out = append(out, LogEvent{FID: fid, TID: tm.ID, Kind: KindCreate, Subtype: SubtypeActiveLog})
		}
		for fid := range tm.FrozenLogs {
			out = append(out, LogEvent{FID: fid, TID: tm.ID, Kind: KindCreate, Subtype: SubtypeFrozenLog})
		}
		for fid := range tm.BloomFilters {
			out = append(out, LogEvent{FID: fid, TID: tm.ID, Kind: KindCreate, Subtype: SubtypeBloomFilter})
		}
		for fid := range tm.ValueLogs {
			out = append(out, LogEvent{FID: fid, TID: tm.ID, Kind: KindCreate, Subtype: SubtypeValueLog})
		}
	}
	return out
}

// clone produces a deep, independent copy, used so a failed batch-append
// can be validated/applied against a scratch copy without touching the
// live snapshot until every record in the batch has succeeded.
func (s *Snapshot) clone() *Snapshot {
	c := NewSnapshot()
	c.lastFID = s.lastFID
	c.lastTableID = s.lastTableID
	c.creations = s.creations
	c.deletions = s.deletions
	for id, tm := range s.tables {
		ctm := &TableManifest{
			Name:         tm.Name,
			ID:           tm.ID,
			Removed:      tm.Removed,
			ActiveLogs:   cloneSet(tm.ActiveLogs),
			FrozenLogs:   cloneSet(tm.FrozenLogs),
			BloomFilters: cloneSet(tm.BloomFilters),
			ValueLogs:    cloneSet(tm.ValueLogs),
		}
		c.tables[id] = ctm
		c.namesInUse[tm.Name] = id
	}
	return c
}

func cloneSet(m map[ids.FID]struct{}) map[ids.FID]struct{} {
	out := make(map[ids.FID]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}
