package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// BadgerSink stores chains in BadgerDB.
//
// Keys: audit/<tenant>/<%020d sequence> -> Entry JSON and
// head/<tenant> -> {sequence, hash}.
type BadgerSink struct {
	db *badger.DB
	mu sync.Mutex
}

type chainHead struct {
	Sequence uint64 `json:"sequence"`
	Hash     string `json:"hash"`
}

// NewBadgerSink opens (or creates) a sink at path. An empty path opens an
// in-memory database.
func NewBadgerSink(path string) (*BadgerSink, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &BadgerSink{db: db}, nil
}

func entryKey(tenant string, seq uint64) []byte {
	return []byte(fmt.Sprintf("audit/%s/%020d", tenant, seq))
}

func headKey(tenant string) []byte {
	return []byte("head/" + tenant)
}

func (s *BadgerSink) Append(_ context.Context, rec Record) (Entry, error) {
	if rec.TenantID == "" {
		return Entry{}, ErrEmptyTenant
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Entry
	err := s.db.Update(func(txn *badger.Txn) error {
		head := chainHead{Hash: GenesisHash}
		item, err := txn.Get(headKey(rec.TenantID))
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &head) }); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		e, err := Chain(rec, head.Sequence, head.Hash)
		if err != nil {
			return err
		}
		val, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := txn.Set(entryKey(rec.TenantID, e.Sequence), val); err != nil {
			return err
		}
		hv, err := json.Marshal(chainHead{Sequence: e.Sequence, Hash: e.Hash})
		if err != nil {
			return err
		}
		if err := txn.Set(headKey(rec.TenantID), hv); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("badger append: %w", err)
	}
	return out, nil
}

func (s *BadgerSink) Range(_ context.Context, tenant string, from, to uint64) ([]Entry, error) {
	if from == 0 {
		from = 1
	}
	prefix := []byte("audit/" + tenant + "/")
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(entryKey(tenant, from)); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &e) }); err != nil {
				return err
			}
			if e.TenantID != tenant || (to != 0 && e.Sequence > to) {
				break
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger range: %w", err)
	}
	return out, nil
}

func (s *BadgerSink) VerifyRange(ctx context.Context, tenant string, from, to uint64) (Report, error) {
	return VerifyChain(ctx, s, tenant, from, to)
}

func (s *BadgerSink) Tenants(context.Context) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte("head/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), "head/"))
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (s *BadgerSink) Close() error {
	return s.db.Close()
}
