package manifest

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/ledgerkv/internal/ids"
)

// Kind distinguishes creation from deletion, shared by both event variants.
type Kind byte

const (
	KindCreate Kind = 0
	KindDelete Kind = 1
)

// Subtype enumerates the five kinds of file a LogEvent can describe.
// SubtypeTable is defined for completeness with the source format but is
// never emitted: table lifecycle always travels through TableEvent.
type Subtype byte

const (
	SubtypeTable       Subtype = 0
	SubtypeActiveLog   Subtype = 1
	SubtypeFrozenLog   Subtype = 2
	SubtypeBloomFilter Subtype = 3
	SubtypeValueLog    Subtype = 4
)

const maxSubtype = SubtypeValueLog

// discriminants tag which event variant a record's payload holds.
const (
	tagLogEvent   byte = 0
	tagTableEvent byte = 1
)

const reservedTableName = ""

const maxTableNameLen = 255

// Event is the tagged union a manifest frame payload carries: either a
// LogEvent or a TableEvent.
type Event interface {
	isEvent()
}

// LogEvent records creation or deletion of one file (active log, frozen
// log, bloom filter sidecar, or value log) belonging to table TID.
type LogEvent struct {
	FID     ids.FID
	TID     ids.TID
	Kind    Kind
	Subtype Subtype
}

func (LogEvent) isEvent() {}

// TableEvent records creation or deletion of a table.
type TableEvent struct {
	TID  ids.TID
	Name string
	Kind Kind
}

func (TableEvent) isEvent() {}

func encodeFlag(kind Kind, subtype Subtype) byte {
	return byte(kind) | (byte(subtype) << 1)
}

func decodeFlag(b byte) (Kind, Subtype, error) {
	kind := Kind(b & 0x01)
	subtype := Subtype(b >> 1)
	if subtype > maxSubtype {
		return 0, 0, ErrInvalidEntryFlag
	}
	return kind, subtype, nil
}

// EncodeEvent serializes ev as a frame payload (not including the
// append-log's own header/length/CRC framing, which wraps this).
func EncodeEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case LogEvent:
		fidBuf := make([]byte, ids.MaxVarintLen)
		n, err := ids.EncodeFID(fidBuf, e.FID)
		if err != nil {
			return nil, err
		}
		tidBuf := make([]byte, ids.MaxTIDVarintLen)
		m, err := ids.EncodeTID(tidBuf, e.TID)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 0, 2+n+m)
		buf = append(buf, tagLogEvent, encodeFlag(e.Kind, e.Subtype))
		buf = append(buf, fidBuf[:n]...)
		buf = append(buf, tidBuf[:m]...)
		return buf, nil
	case TableEvent:
		if len(e.Name) > maxTableNameLen {
			return nil, errors.New("manifest: table name too long")
		}
		tidBuf := make([]byte, ids.MaxTIDVarintLen)
		m, err := ids.EncodeTID(tidBuf, e.TID)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 0, 2+m+1+len(e.Name))
		buf = append(buf, tagTableEvent, byte(e.Kind))
		buf = append(buf, tidBuf[:m]...)
		buf = append(buf, byte(len(e.Name)))
		buf = append(buf, e.Name...)
		return buf, nil
	default:
		return nil, errors.Errorf("manifest: unknown event type %T", ev)
	}
}

// DecodeEvent parses a frame payload previously produced by EncodeEvent.
func DecodeEvent(buf []byte) (Event, error) {
	if len(buf) < 2 {
		return nil, errors.Wrap(ErrCorrupt, "truncated event")
	}
	switch buf[0] {
	case tagLogEvent:
		kind, subtype, err := decodeFlag(buf[1])
		if err != nil {
			return nil, err
		}
		n, fid, err := ids.DecodeFID(buf[2:])
		if err != nil {
			return nil, err
		}
		_, tid, err := ids.DecodeTID(buf[2+n:])
		if err != nil {
			return nil, err
		}
		return LogEvent{FID: fid, TID: tid, Kind: kind, Subtype: subtype}, nil
	case tagTableEvent:
		if buf[1] != byte(KindCreate) && buf[1] != byte(KindDelete) {
			return nil, ErrInvalidEntryFlag
		}
		kind := Kind(buf[1])
		n, tid, err := ids.DecodeTID(buf[2:])
		if err != nil {
			return nil, err
		}
		rest := buf[2+n:]
		if len(rest) < 1 {
			return nil, errors.Wrap(ErrCorrupt, "truncated table event")
		}
		nameLen := int(rest[0])
		if len(rest) < 1+nameLen {
			return nil, errors.Wrap(ErrCorrupt, "truncated table name")
		}
		name := string(rest[1 : 1+nameLen])
		return TableEvent{TID: tid, Name: name, Kind: kind}, nil
	default:
		return nil, ErrInvalidEntryFlag
	}
}

// subtypeSet identifies which per-table set a Subtype maps to.
func subtypeSet(s Subtype) (func(*TableManifest) map[ids.FID]struct{}, error) {
	switch s {
	case SubtypeActiveLog:
		return func(tm *TableManifest) map[ids.FID]struct{} { return tm.ActiveLogs }, nil
	case SubtypeFrozenLog:
		return func(tm *TableManifest) map[ids.FID]struct{} { return tm.FrozenLogs }, nil
	case SubtypeBloomFilter:
		return func(tm *TableManifest) map[ids.FID]struct{} { return tm.BloomFilters }, nil
	case SubtypeValueLog:
		return func(tm *TableManifest) map[ids.FID]struct{} { return tm.ValueLogs }, nil
	default:
		return nil, ErrInvalidEntryFlag
	}
}
