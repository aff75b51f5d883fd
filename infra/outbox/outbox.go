// Package outbox is the durable hand-off between the matching engine and
// downstream consumers. Trade events are appended as NEW, marked SENT when a
// publish attempt starts, and ACKED once the broker confirms, so a crashed
// publisher can resume without losing or duplicating intent.
package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
)

type Status uint8

const (
	StatusNew Status = iota
	StatusSent
	StatusAcked
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusSent:
		return "SENT"
	case StatusAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// Record is one outbound event and its delivery state.
type Record struct {
	Seq         uint64
	Status      Status
	Retries     uint32
	LastAttempt int64 // unix nanos of the last publish attempt
	Payload     []byte
}

// value encoding: [status:1][retries:4][lastAttempt:8][payload...]
const headerLen = 1 + 4 + 8

func encodeValue(r Record) []byte {
	buf := make([]byte, headerLen+len(r.Payload))
	buf[0] = byte(r.Status)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[headerLen:], r.Payload)
	return buf
}

func decodeValue(seq uint64, b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.New("outbox: record too short")
	}
	payload := make([]byte, len(b)-headerLen)
	copy(payload, b[headerLen:])
	return Record{
		Seq:         seq,
		Status:      Status(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     payload,
	}, nil
}

// Outbox is a pebble-backed ordered queue of outbound events.
type Outbox struct {
	db   *pebble.DB
	next atomic.Uint64
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // delivery state must survive restarts
	})
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", dir, err)
	}
	o := &Outbox{db: db}
	if err := o.recoverSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Append stores a new pending record and returns its sequence number.
func (o *Outbox) Append(payload []byte) (uint64, error) {
	seq := o.next.Add(1)
	rec := Record{Seq: seq, Status: StatusNew, Payload: payload}
	if err := o.db.Set(keyFor(seq), encodeValue(rec), pebble.Sync); err != nil {
		return 0, fmt.Errorf("outbox: append seq %d: %w", seq, err)
	}
	return seq, nil
}

// Get returns the record at seq.
func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeValue(seq, val)
}

// MarkSent records a publish attempt.
func (o *Outbox) MarkSent(seq uint64) error {
	return o.transition(seq, StatusSent)
}

// MarkAcked records broker confirmation. Acked records are eligible for
// compaction.
func (o *Outbox) MarkAcked(seq uint64) error {
	return o.transition(seq, StatusAcked)
}

func (o *Outbox) transition(seq uint64, status Status) error {
	rec, err := o.Get(seq)
	if err != nil {
		return fmt.Errorf("outbox: transition seq %d: %w", seq, err)
	}
	rec.Status = status
	rec.LastAttempt = time.Now().UnixNano()
	if status == StatusSent {
		rec.Retries++
	}
	return o.db.Set(keyFor(seq), encodeValue(rec), pebble.Sync)
}

// ScanPending visits every non-acked record in sequence order.
func (o *Outbox) ScanPending(fn func(Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeValue(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.Status == StatusAcked {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Compact deletes acked records and returns how many were removed.
func (o *Outbox) Compact() (int, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return 0, err
	}

	var acked [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		val := iter.Value()
		if len(val) >= 1 && Status(val[0]) == StatusAcked {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			acked = append(acked, key)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	for _, key := range acked {
		if err := o.db.Delete(key, pebble.Sync); err != nil {
			return 0, err
		}
	}
	return len(acked), nil
}

func (o *Outbox) recoverSeq() error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		o.next.Store(seq)
	}
	return iter.Error()
}

const keyPrefix = "event/"

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	if _, err := fmt.Sscanf(string(b), keyPrefix+"%d", &seq); err != nil {
		return 0, fmt.Errorf("outbox: bad key %q: %w", b, err)
	}
	return seq, nil
}
