package anchor

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-network/vaultd/audit"
	"github.com/custodia-network/vaultd/db"
	"github.com/custodia-network/vaultd/ledger"
	"github.com/custodia-network/vaultd/types"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/crypto/sha3"
)

const (
	anchorPrefix  = "anchor:"
	lastAnchorKey = "anchor:last"
	lastSeqKey    = "anchor:last_seq"
)

// payload is what actually lands on the DA layer: the anchored event span,
// the events themselves and the ledger state root at anchoring time.
type payload struct {
	FromSeq   uint64        `json:"from_seq"`
	ToSeq     uint64        `json:"to_seq"`
	StateRoot string        `json:"state_root"`
	Events    []types.Event `json:"events"`
}

// Runner periodically anchors the audit log to a data-availability layer.
// It only reads committed state and never blocks engine operations.
type Runner struct {
	audit     *audit.Log
	ledger    *ledger.Store
	db        db.DB
	client    Client
	provider  string
	interval  time.Duration
	maxEvents uint64
	log       *logrus.Logger
}

// NewRunner builds the anchoring loop
func NewRunner(auditLog *audit.Log, l *ledger.Store, d db.DB, client Client, provider string, interval time.Duration, maxEvents uint64, log *logrus.Logger) *Runner {
	if maxEvents == 0 {
		maxEvents = 128
	}
	return &Runner{
		audit:     auditLog,
		ledger:    l,
		db:        d,
		client:    client,
		provider:  provider,
		interval:  interval,
		maxEvents: maxEvents,
		log:       log,
	}
}

func (r *Runner) loadUint(key string) (uint64, error) {
	data, err := r.db.Get([]byte(key))
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	return binary.BigEndian.Uint64(data), nil
}

// Run anchors until the context is cancelled
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.anchorOnce(); err != nil {
				r.log.Warnf("Anchoring failed: %v", err)
			}
		}
	}
}

// anchorOnce anchors the next unanchored span of the audit log, if any
func (r *Runner) anchorOnce() error {
	lastSeq, err := r.loadUint(lastSeqKey)
	if err != nil {
		return fmt.Errorf("failed to load last anchored seq: %v", err)
	}
	head := r.audit.Seq()
	if head <= lastSeq {
		return nil
	}

	to := head
	if to-lastSeq > r.maxEvents {
		to = lastSeq + r.maxEvents
	}
	events, err := r.audit.Range(lastSeq+1, to)
	if err != nil {
		return fmt.Errorf("failed to read audit events: %v", err)
	}
	if len(events) == 0 {
		return nil
	}

	stateRoot, err := r.ledger.StateRoot()
	if err != nil {
		return fmt.Errorf("failed to compute state root: %v", err)
	}

	data, err := json.Marshal(payload{
		FromSeq:   lastSeq + 1,
		ToSeq:     to,
		StateRoot: stateRoot,
		Events:    events,
	})
	if err != nil {
		return fmt.Errorf("failed to encode anchor payload: %v", err)
	}

	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	commitment := hex.EncodeToString(hash.Sum(nil))

	daHeight, daTxHash, err := r.client.Submit(data)
	if err != nil {
		return err
	}

	lastNo, err := r.loadUint(lastAnchorKey)
	if err != nil {
		return fmt.Errorf("failed to load last anchor number: %v", err)
	}
	record := Record{
		Number:     lastNo + 1,
		FromSeq:    lastSeq + 1,
		ToSeq:      to,
		StateRoot:  stateRoot,
		Commitment: commitment,
		DAHeight:   daHeight,
		DATxHash:   daTxHash,
		Provider:   r.provider,
		Timestamp:  time.Now().Unix(),
	}
	recordData, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode anchor record: %v", err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(fmt.Sprintf("%s%020d", anchorPrefix, record.Number)), recordData)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], record.Number)
	batch.Put([]byte(lastAnchorKey), buf[:])
	binary.BigEndian.PutUint64(buf[:], to)
	batch.Put([]byte(lastSeqKey), buf[:])
	if err := r.db.Write(batch); err != nil {
		return fmt.Errorf("failed to persist anchor record: %v", err)
	}

	r.log.Infof("Anchored events %d-%d to %s at height %s, commitment %s",
		record.FromSeq, record.ToSeq, r.provider, daHeight, commitment)
	return nil
}
