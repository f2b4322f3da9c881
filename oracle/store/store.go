// Package store persists the submission journal and the event cursors of the
// relay in LevelDB.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/GPTx-global/flightsurety/oracle/types"
)

var (
	submissionPrefix = []byte("sub/")
	cursorPrefix     = []byte("cursor/")
)

// Submission is the outcome of one submitOracleResponse.
type Submission struct {
	Seq        uint64           `json:"seq"`
	Oracle     common.Address   `json:"oracle"`
	Request    types.RequestKey `json:"request"`
	StatusCode types.StatusCode `json:"statusCode"`
	Accepted   bool             `json:"accepted"`
	Rejected   bool             `json:"rejected,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	TxHash     common.Hash      `json:"txHash"`
	Time       time.Time        `json:"time"`
}

// Final reports whether the ledger decided on the submission. A submission
// that never reached a verdict is not final.
func (sub Submission) Final() bool {
	return sub.Accepted || sub.Rejected
}

type Store struct {
	mu  sync.Mutex
	db  *leveldb.DB
	seq uint64
}

// Open opens the store in dir, or an in-memory store when dir is empty.
func Open(dir string) (*Store, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if dir == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(dir, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) loadSeq() error {
	iter := s.db.NewIterator(util.BytesPrefix(submissionPrefix), nil)
	defer iter.Release()

	if iter.Last() {
		s.seq = binary.BigEndian.Uint64(iter.Key()[len(submissionPrefix):])
	}

	return iter.Error()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends sub to the journal and returns it with its sequence number.
func (s *Store) Record(sub Submission) (Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.Seq = s.seq + 1
	if sub.Time.IsZero() {
		sub.Time = time.Now().UTC()
	}

	bz, err := json.Marshal(sub)
	if err != nil {
		return Submission{}, fmt.Errorf("failed to encode submission: %w", err)
	}

	if err := s.db.Put(submissionKey(sub.Seq), bz, nil); err != nil {
		return Submission{}, fmt.Errorf("failed to store submission: %w", err)
	}
	s.seq = sub.Seq

	return sub, nil
}

// Submissions returns the last limit submissions in journal order. A limit of
// zero returns all of them.
func (s *Store) Submissions(limit int) ([]Submission, error) {
	iter := s.db.NewIterator(util.BytesPrefix(submissionPrefix), nil)
	defer iter.Release()

	var subs []Submission
	for ok := iter.Last(); ok; ok = iter.Prev() {
		var sub Submission
		if err := json.Unmarshal(iter.Value(), &sub); err != nil {
			return nil, fmt.Errorf("corrupted submission %x: %w", iter.Key(), err)
		}
		subs = append(subs, sub)
		if 0 < limit && len(subs) == limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to read submissions: %w", err)
	}

	for i, j := 0, len(subs)-1; i < j; i, j = i+1, j-1 {
		subs[i], subs[j] = subs[j], subs[i]
	}

	return subs, nil
}

// Cursor returns the last block processed for kind.
func (s *Store) Cursor(kind types.EventKind) (uint64, bool, error) {
	bz, err := s.db.Get(cursorKey(kind), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read cursor of %s: %w", kind, err)
	}
	if len(bz) != 8 {
		return 0, false, fmt.Errorf("corrupted cursor of %s", kind)
	}

	return binary.BigEndian.Uint64(bz), true, nil
}

func (s *Store) SetCursor(kind types.EventKind, block uint64) error {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, block)

	if err := s.db.Put(cursorKey(kind), bz, nil); err != nil {
		return fmt.Errorf("failed to store cursor of %s: %w", kind, err)
	}

	return nil
}

func submissionKey(seq uint64) []byte {
	key := make([]byte, len(submissionPrefix)+8)
	copy(key, submissionPrefix)
	binary.BigEndian.PutUint64(key[len(submissionPrefix):], seq)
	return key
}

func cursorKey(kind types.EventKind) []byte {
	return append(append([]byte{}, cursorPrefix...), kind.String()...)
}
