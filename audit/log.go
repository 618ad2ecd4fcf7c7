package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/custodia-network/vaultd/db"
	"github.com/custodia-network/vaultd/types"
	"go.uber.org/zap"
)

const (
	eventPrefix = "event:"
	seqKey      = "audit:seq"
)

// Log is the append-only audit trail: one record per successful mutating
// operation, persisted in the audit database, mirrored to a structured zap
// sink, and fanned out to live subscribers.
type Log struct {
	db   db.DB
	zl   *zap.Logger
	mu   sync.Mutex
	seq  uint64
	subs map[chan types.Event]struct{}
}

// NewLog opens the audit log, recovering the last sequence number
func NewLog(d db.DB, zl *zap.Logger) (*Log, error) {
	l := &Log{
		db:   d,
		zl:   zl,
		subs: make(map[chan types.Event]struct{}),
	}
	data, err := d.Get([]byte(seqKey))
	if err != nil {
		return nil, fmt.Errorf("failed to load audit sequence: %v", err)
	}
	if data != nil {
		l.seq = binary.BigEndian.Uint64(data)
	}
	return l, nil
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", eventPrefix, seq))
}

// Append assigns the next sequence number, persists the event and notifies
// subscribers. Slow subscribers are skipped rather than blocking the caller.
func (l *Log) Append(ev types.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	ev.Seq = l.seq

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %v", err)
	}
	if err := l.db.Put(eventKey(ev.Seq), data); err != nil {
		return fmt.Errorf("failed to persist event: %v", err)
	}
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], l.seq)
	if err := l.db.Put([]byte(seqKey), seqBytes[:]); err != nil {
		return fmt.Errorf("failed to persist audit sequence: %v", err)
	}

	fields := []zap.Field{
		zap.Uint64("seq", ev.Seq),
		zap.String("kind", string(ev.Kind)),
		zap.String("actor", ev.Actor.Hex()),
		zap.Int64("time", ev.Time),
	}
	if ev.Amount != nil {
		fields = append(fields, zap.String("amount", ev.Amount.String()))
	}
	if ev.USDValue != nil {
		fields = append(fields, zap.String("usd_value", ev.USDValue.String()))
	}
	l.zl.Info("audit", fields...)

	for ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Seq returns the sequence number of the last appended event
func (l *Log) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Range returns events with from <= seq <= to in order
func (l *Log) Range(from, to uint64) ([]types.Event, error) {
	var events []types.Event
	err := l.db.Iterate([]byte(eventPrefix), func(key, value []byte) error {
		var ev types.Event
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("failed to decode event %s: %v", string(key), err)
		}
		if ev.Seq >= from && ev.Seq <= to {
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Subscribe registers a buffered live feed; the returned cancel func must be
// called when the consumer goes away.
func (l *Log) Subscribe(buf int) (<-chan types.Event, func()) {
	ch := make(chan types.Event, buf)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subs[ch]; ok {
			delete(l.subs, ch)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}
