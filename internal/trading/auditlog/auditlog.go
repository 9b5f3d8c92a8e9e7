// Package auditlog is the append-only, hash-chained audit trail of the
// trading core. Every tenant has its own chain: entry n+1 stores the hash
// of entry n, and each hash covers the previous hash and the canonical
// encoding of the entry.
package auditlog

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// GenesisHash is the prev_hash of the first entry of every chain.
var GenesisHash = strings.Repeat("0", 64)

var (
	ErrChainBroken  = errors.New("audit chain broken")
	ErrEmptyTenant  = errors.New("audit record without tenant")
	ErrInvalidRange = errors.New("invalid audit range")
)

// Record is what the core hands to a sink.
type Record struct {
	TenantID  string          `json:"tenant_id"`
	Type      string          `json:"type"`
	Pair      string          `json:"pair"`
	PairSeq   uint64          `json:"pair_seq"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Entry is a record after the sink chained it.
type Entry struct {
	TenantID  string          `json:"tenant_id"`
	Sequence  uint64          `json:"sequence"`
	Type      string          `json:"type"`
	Pair      string          `json:"pair"`
	PairSeq   uint64          `json:"pair_seq"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// Report is the outcome of a range verification.
type Report struct {
	TenantID string `json:"tenant_id"`
	From     uint64 `json:"from"`
	To       uint64 `json:"to"`
	Checked  int    `json:"checked"`
	OK       bool   `json:"ok"`
	BrokenAt uint64 `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Err returns ErrChainBroken wrapped with the failure, or nil.
func (r Report) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: tenant %s at %d: %s", ErrChainBroken, r.TenantID, r.BrokenAt, r.Reason)
}

// Sink stores chained entries. Implementations serialize appends per tenant.
type Sink interface {
	// Append chains rec after the tenant's head.
	Append(ctx context.Context, rec Record) (Entry, error)
	// Range returns entries with from <= sequence <= to. to == 0 means up to
	// the head.
	Range(ctx context.Context, tenant string, from, to uint64) ([]Entry, error)
	// VerifyRange checks the chain between from and to inclusive.
	VerifyRange(ctx context.Context, tenant string, from, to uint64) (Report, error)
	// Tenants lists the tenants that have a chain.
	Tenants(ctx context.Context) ([]string, error)
	Close() error
}

// canonicalEntry fixes the field order and time format that get hashed.
type canonicalEntry struct {
	TenantID  string          `json:"tenant_id"`
	Sequence  uint64          `json:"sequence"`
	Type      string          `json:"type"`
	Pair      string          `json:"pair"`
	PairSeq   uint64          `json:"pair_seq"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Canonical returns the bytes covered by the entry hash.
func Canonical(e *Entry) ([]byte, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal(canonicalEntry{
		TenantID:  e.TenantID,
		Sequence:  e.Sequence,
		Type:      e.Type,
		Pair:      e.Pair,
		PairSeq:   e.PairSeq,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
}

// ComputeHash returns hex(blake2b-256(prev_hash || canonical(entry))).
func ComputeHash(prevHash string, e *Entry) (string, error) {
	body, err := Canonical(e)
	if err != nil {
		return "", fmt.Errorf("canonical entry: %w", err)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(prevHash))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Chain builds the entry that follows (headSeq, headHash).
func Chain(rec Record, headSeq uint64, headHash string) (Entry, error) {
	if rec.TenantID == "" {
		return Entry{}, ErrEmptyTenant
	}
	if headHash == "" {
		headHash = GenesisHash
	}
	e := Entry{
		TenantID:  rec.TenantID,
		Sequence:  headSeq + 1,
		Type:      rec.Type,
		Pair:      rec.Pair,
		PairSeq:   rec.PairSeq,
		Timestamp: rec.Timestamp.UTC(),
		Payload:   rec.Payload,
		PrevHash:  headHash,
	}
	hash, err := ComputeHash(headHash, &e)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = hash
	return e, nil
}

// Verify checks that entries form a contiguous chain starting after
// (prevSeq, prevHash).
func Verify(tenant string, entries []Entry, prevSeq uint64, prevHash string) Report {
	rep := Report{TenantID: tenant, From: prevSeq + 1, To: prevSeq, OK: true}
	if prevHash == "" {
		prevHash = GenesisHash
	}
	expectSeq := prevSeq + 1
	for i := range entries {
		e := &entries[i]
		fail := func(reason string) Report {
			rep.OK = false
			rep.BrokenAt = expectSeq
			rep.Reason = reason
			return rep
		}
		switch {
		case e.TenantID != tenant:
			return fail(fmt.Sprintf("entry belongs to tenant %q", e.TenantID))
		case e.Sequence != expectSeq:
			return fail(fmt.Sprintf("sequence gap: expected %d", expectSeq))
		case e.PrevHash != prevHash:
			return fail("prev_hash does not match previous entry")
		}
		want, err := ComputeHash(prevHash, e)
		if err != nil {
			return fail(err.Error())
		}
		if want != e.Hash {
			return fail("hash mismatch")
		}
		prevHash = e.Hash
		expectSeq++
		rep.Checked++
		rep.To = e.Sequence
	}
	return rep
}

// VerifyChain implements Sink.VerifyRange on top of s.Range.
func VerifyChain(ctx context.Context, s Sink, tenant string, from, to uint64) (Report, error) {
	if from == 0 {
		from = 1
	}
	if to != 0 && to < from {
		return Report{}, fmt.Errorf("%w: %d..%d", ErrInvalidRange, from, to)
	}
	prevSeq, prevHash := uint64(0), GenesisHash
	if from > 1 {
		prev, err := s.Range(ctx, tenant, from-1, from-1)
		if err != nil {
			return Report{}, err
		}
		if len(prev) != 1 {
			return Report{TenantID: tenant, From: from, To: to, BrokenAt: from - 1, Reason: "missing anchor entry"}, nil
		}
		prevSeq, prevHash = prev[0].Sequence, prev[0].Hash
	}
	entries, err := s.Range(ctx, tenant, from, to)
	if err != nil {
		return Report{}, err
	}
	rep := Verify(tenant, entries, prevSeq, prevHash)
	if rep.OK && to != 0 && rep.To != to {
		rep.OK = false
		rep.BrokenAt = rep.To + 1
		rep.Reason = "range ends before requested sequence"
	}
	return rep, nil
}

// VerifyAll verifies every chain in s.
func VerifyAll(ctx context.Context, s Sink) ([]Report, error) {
	tenants, err := s.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(tenants))
	for _, t := range tenants {
		rep, err := s.VerifyRange(ctx, t, 1, 0)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", t, err)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}
