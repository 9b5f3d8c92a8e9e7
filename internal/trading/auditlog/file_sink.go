package auditlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FileSink is a JSON-lines journal: one chained entry per line, all
// tenants interleaved in append order. Heads are rebuilt by scanning the
// file on open.
type FileSink struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
	heads  map[string]chainHead
	fsync  bool
	log    *zap.Logger
}

// NewFileSink opens or creates the journal at path. When fsync is set every
// append is synced to disk before it returns.
func NewFileSink(path string, fsync bool, log *zap.Logger) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	s := &FileSink{path: path, heads: make(map[string]chainHead), fsync: fsync, log: log}
	err := s.scan(func(e Entry) bool {
		s.heads[e.TenantID] = chainHead{Sequence: e.Sequence, Hash: e.Hash}
		return true
	})
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	s.file = f
	s.writer = bufio.NewWriter(f)
	log.Info("Opened audit journal", zap.String("path", path), zap.Int("tenants", len(s.heads)))
	return s, nil
}

func (s *FileSink) Append(_ context.Context, rec Record) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.heads[rec.TenantID]
	if !ok {
		head = chainHead{Hash: GenesisHash}
	}
	e, err := Chain(rec, head.Sequence, head.Hash)
	if err != nil {
		return Entry{}, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, err
	}
	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		return Entry{}, fmt.Errorf("journal write: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return Entry{}, fmt.Errorf("journal flush: %w", err)
	}
	if s.fsync {
		if err := s.file.Sync(); err != nil {
			return Entry{}, fmt.Errorf("journal sync: %w", err)
		}
	}
	s.heads[rec.TenantID] = chainHead{Sequence: e.Sequence, Hash: e.Hash}
	return e, nil
}

func (s *FileSink) Range(_ context.Context, tenant string, from, to uint64) ([]Entry, error) {
	if from == 0 {
		from = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	err := s.scan(func(e Entry) bool {
		if e.TenantID != tenant || e.Sequence < from {
			return true
		}
		if to != 0 && e.Sequence > to {
			return false
		}
		out = append(out, e)
		return true
	})
	return out, err
}

func (s *FileSink) VerifyRange(ctx context.Context, tenant string, from, to uint64) (Report, error) {
	return VerifyChain(ctx, s, tenant, from, to)
}

func (s *FileSink) Tenants(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.heads))
	for t := range s.heads {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}

// scan reads the journal from the start until fn returns false. A line that
// does not decode is reported as a broken chain rather than skipped.
func (s *FileSink) scan(fn func(Entry) bool) error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open journal file for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return fmt.Errorf("%w: journal line %d: %v", ErrChainBroken, line, err)
		}
		if !fn(e) {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading journal: %w", err)
	}
	return nil
}
