// SPDX-FileCopyrightText: 2024 The wikidb authors
// SPDX-License-Identifier: MIT

// Package kv wraps an embedded, memory-mapped, ordered B+-tree key-value
// store (github.com/erigontech/mdbx-go/mdbx) behind the narrow surface
// spec.md §4.2 describes: named sub-tables ("tables"), read transactions,
// bulk write transactions, prefix/range iteration, and automatic map-size
// growth on "database full". The store assumes a single process and a
// single writer at a time; there is no cross-process locking.
package kv

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/erigontech/mdbx-go/mdbx"
)

// MergePolicy selects how update_bulk_buffered folds an incoming value
// into whatever is already stored under a key (spec.md §4.2).
type MergePolicy int

const (
	// MergeSet unions decoded uint32 collections, skipping the write
	// entirely when the incoming set is already a subset of what is
	// stored (mirrors DBCore.update_bulk_with_buffer's SET policy).
	MergeSet MergePolicy = iota
	// MergeCounter appends the incoming collection to the stored one.
	MergeCounter
)

// growIncrement is the fixed step by which the map size grows on
// MDBX_MAP_FULL, matching the source's `cf.SIZE_1GB * 5` increment.
const growIncrement = 5 * (1 << 30)

// Engine owns the backing mmap'd file and every named table within it.
// All readers share the mapping; writes are serialized by mdbx's
// single-writer transaction model, so Engine exposes no locks of its own.
type Engine struct {
	env     *mdbx.Env
	path    string
	tables    map[string]mdbx.DBI
	logger    *log.Logger
	mapSize   int64
	onMapGrow func()
}

// Options configure Open. See config.Config for the caller-facing
// equivalent; kv.Options intentionally only carries what the engine
// itself needs, so higher layers don't leak unrelated fields down here.
type Options struct {
	Path         string
	MaxTables    int
	MapSizeBytes int64
	Tables       []string // table (sub-store) names to open/create
	Logger       *log.Logger
	ReadOnly     bool
	// OnMapGrow, if set, is called each time WriteBulk grows the map
	// size on MDBX_MAP_FULL, so callers can feed ingestion metrics
	// (spec.md §12) without this package depending on prometheus.
	OnMapGrow func()
}

// Open creates or opens the memory-mapped file at opts.Path with a
// pre-reserved virtual address range of opts.MapSizeBytes, no
// subdirectory, and asynchronous map writeback (spec.md §4.2).
func Open(opts Options) (*Engine, error) {
	env, err := mdbx.NewEnv(mdbx.Default)
	if err != nil {
		return nil, fmt.Errorf("kv: new env: %w", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(opts.MaxTables)); err != nil {
		return nil, fmt.Errorf("kv: set max tables: %w", err)
	}
	if err := env.SetGeometry(-1, -1, int(opts.MapSizeBytes), -1, -1, -1); err != nil {
		return nil, fmt.Errorf("kv: set geometry: %w", err)
	}

	flags := mdbx.NoSubdir | mdbx.SafeNoSync | mdbx.Coalesce | mdbx.LifoReclaim
	if opts.ReadOnly {
		flags |= mdbx.Readonly
	}
	if err := env.Open(opts.Path, flags, 0664); err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", opts.Path, err)
	}

	e := &Engine{
		env:       env,
		path:      opts.Path,
		tables:    make(map[string]mdbx.DBI, len(opts.Tables)),
		logger:    opts.Logger,
		mapSize:   opts.MapSizeBytes,
		onMapGrow: opts.OnMapGrow,
	}
	if err := e.openTables(opts.Tables, opts.ReadOnly); err != nil {
		env.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) openTables(names []string, readOnly bool) error {
	open := func(txn *mdbx.Txn) error {
		flags := mdbx.Create
		if readOnly {
			flags = 0
		}
		for _, name := range names {
			dbi, err := txn.OpenDBI(name, flags, nil, nil)
			if err != nil {
				return fmt.Errorf("kv: open table %q: %w", name, err)
			}
			e.tables[name] = dbi
		}
		return nil
	}
	if readOnly {
		return e.env.View(open)
	}
	return e.env.Update(open)
}

// Close releases the mapped file. It does not fsync; mdbx's writeback
// thread has already been doing that asynchronously per-commit.
func (e *Engine) Close() error {
	e.env.Close()
	return nil
}

func (e *Engine) dbi(table string) (mdbx.DBI, error) {
	dbi, ok := e.tables[table]
	if !ok {
		return 0, fmt.Errorf("kv: unknown table %q", table)
	}
	return dbi, nil
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// Get performs a single point lookup, returning (nil, false) when the
// key is absent. The returned slice is only valid until the surrounding
// read transaction ends, which Get itself owns, so it always copies.
func (e *Engine) Get(table string, key []byte) ([]byte, bool, error) {
	dbi, err := e.dbi(table)
	if err != nil {
		return nil, false, err
	}
	var out []byte
	err = e.env.View(func(txn *mdbx.Txn) error {
		v, err := txn.Get(dbi, key)
		if mdbx.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("kv: get %s: %w", table, err)
	}
	return out, out != nil, nil
}

// GetMulti batches point lookups within a single read transaction.
func (e *Engine) GetMulti(table string, keys [][]byte) (map[string][]byte, error) {
	dbi, err := e.dbi(table)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	err = e.env.View(func(txn *mdbx.Txn) error {
		for _, k := range keys {
			v, err := txn.Get(dbi, k)
			if mdbx.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			out[string(k)] = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: get_multi %s: %w", table, err)
	}
	return out, nil
}

// Contains reports whether key exists in table, without materializing
// its value.
func (e *Engine) Contains(table string, key []byte) (bool, error) {
	_, found, err := e.ValueSize(table, key)
	return found, err
}

// ValueSize reports the byte length of the value stored at key, without
// decoding it, so callers such as the has_statements query planner
// (spec.md §4.5 step 1) can estimate posting selectivity cheaply.
func (e *Engine) ValueSize(table string, key []byte) (int, bool, error) {
	dbi, err := e.dbi(table)
	if err != nil {
		return 0, false, err
	}
	var size int
	var found bool
	err = e.env.View(func(txn *mdbx.Txn) error {
		v, err := txn.Get(dbi, key)
		if mdbx.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		size = len(v)
		found = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("kv: value_size %s: %w", table, err)
	}
	return size, found, nil
}

// KV is a single key/value pair, used by Range/Prefix iteration and the
// bulk-write entry points.
type KV struct {
	Key   []byte
	Value []byte
}

// Range yields every (key, value) pair in [from, to) in key order. A nil
// `to` means "no upper bound". The callback may return an error to abort
// the scan early; there is no other cancellation mechanism (spec.md §5
// "Long scans rely on caller-side termination").
func (e *Engine) Range(table string, from, to []byte, fn func(KV) error) error {
	dbi, err := e.dbi(table)
	if err != nil {
		return err
	}
	return e.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()

		var k, v []byte
		if from == nil {
			k, v, err = cur.Get(nil, nil, mdbx.First)
		} else {
			k, v, err = cur.Get(from, nil, mdbx.SetRange)
		}
		for ; err == nil; k, v, err = cur.Get(nil, nil, mdbx.Next) {
			if to != nil && bytes.Compare(k, to) >= 0 {
				break
			}
			if cbErr := fn(KV{Key: k, Value: v}); cbErr != nil {
				return cbErr
			}
		}
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// Prefix yields every (key, value) pair whose key starts with prefix.
func (e *Engine) Prefix(table string, prefix []byte, fn func(KV) error) error {
	dbi, err := e.dbi(table)
	if err != nil {
		return err
	}
	return e.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()

		k, v, err := cur.Get(prefix, nil, mdbx.SetRange)
		for ; err == nil; k, v, err = cur.Get(nil, nil, mdbx.Next) {
			if !bytes.HasPrefix(k, prefix) {
				break
			}
			if cbErr := fn(KV{Key: k, Value: v}); cbErr != nil {
				return cbErr
			}
		}
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// Delete removes a single key, or every key sharing prefix when
// isPrefix is true.
func (e *Engine) Delete(table string, keyOrPrefix []byte, isPrefix bool) (int, error) {
	dbi, err := e.dbi(table)
	if err != nil {
		return 0, err
	}
	deleted := 0
	err = e.env.Update(func(txn *mdbx.Txn) error {
		if !isPrefix {
			err := txn.Del(dbi, keyOrPrefix, nil)
			if mdbx.IsNotFound(err) {
				return nil
			}
			if err == nil {
				deleted = 1
			}
			return err
		}
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()
		k, _, err := cur.Get(keyOrPrefix, nil, mdbx.SetRange)
		for ; err == nil && bytes.HasPrefix(k, keyOrPrefix); k, _, err = cur.Get(nil, nil, mdbx.Next) {
			if delErr := cur.Del(0); delErr != nil {
				return delErr
			}
			deleted++
		}
		if mdbx.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return deleted, fmt.Errorf("kv: delete %s: %w", table, err)
	}
	return deleted, nil
}

// WriteBulk writes every pair in a single write transaction. When
// sortFirst is true, pairs are sorted by key first, giving better
// insertion locality on a B+-tree (spec.md §4.4 step 7: "sort each
// family by LocalID ... for locality"). On MDBX_MAP_FULL it grows the
// map by a fixed increment and retries, growing again each time the map
// is still full; on a persistent
// transaction error it degrades to per-key Put (spec.md §4.2, §7
// TxnConflict).
func (e *Engine) WriteBulk(table string, pairs []KV, sortFirst bool) (int, error) {
	if sortFirst {
		sort.Slice(pairs, func(i, j int) bool {
			return bytes.Compare(pairs[i].Key, pairs[j].Key) < 0
		})
	}
	return e.writeBulk(table, pairs, false)
}

func (e *Engine) writeBulk(table string, pairs []KV, oneByOne bool) (int, error) {
	dbi, err := e.dbi(table)
	if err != nil {
		return 0, err
	}

	n := 0
	var txnErr error
	if oneByOne {
		for _, kv := range pairs {
			txnErr = e.env.Update(func(txn *mdbx.Txn) error {
				return txn.Put(dbi, kv.Key, kv.Value, 0)
			})
			if txnErr != nil {
				break
			}
			n++
		}
	} else {
		txnErr = e.env.Update(func(txn *mdbx.Txn) error {
			n = 0
			for _, kv := range pairs {
				if err := txn.Put(dbi, kv.Key, kv.Value, 0); err != nil {
					return err
				}
				n++
			}
			return nil
		})
	}

	if txnErr == nil {
		return n, nil
	}

	if mdbx.IsMapFull(txnErr) {
		e.mapSize += growIncrement
		e.logf("kv: map full on table %s, growing to %d bytes", table, e.mapSize)
		if e.onMapGrow != nil {
			e.onMapGrow()
		}
		if err := e.env.SetGeometry(-1, -1, int(e.mapSize), -1, -1, -1); err != nil {
			return 0, fmt.Errorf("kv: grow map: %w", err)
		}
		return e.writeBulk(table, pairs, oneByOne)
	}

	if !oneByOne {
		e.logf("kv: bulk write to %s failed (%v), degrading to per-key put", table, txnErr)
		return e.writeBulk(table, pairs, true)
	}

	return n, fmt.Errorf("kv: write_bulk %s: %w", table, txnErr)
}

// Budget is the configurable flush threshold for the streaming and
// update_bulk_buffered writers (spec.md §4.2).
type Budget int64

// WriteBulkBuffered consumes a stream of pairs, flushing a transaction
// whenever the accumulated sum(len(k)+len(v)) exceeds budget.
func (e *Engine) WriteBulkBuffered(table string, stream <-chan KV, budget Budget) (int, error) {
	var buf []KV
	var size int64
	total := 0
	for kv := range stream {
		buf = append(buf, kv)
		size += int64(len(kv.Key) + len(kv.Value))
		if size >= int64(budget) {
			n, err := e.WriteBulk(table, buf, true)
			total += n
			if err != nil {
				return total, err
			}
			buf = buf[:0]
			size = 0
		}
	}
	if len(buf) > 0 {
		n, err := e.WriteBulk(table, buf, true)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Update is a single-pair read-modify-write applied during
// UpdateBulkBuffered; decode/merge/encode are supplied by the caller
// because only it knows the value's codec.
type Update struct {
	Key     []byte
	Decode  func(stored []byte) (current []uint32, err error)
	Encode  func(merged []uint32) ([]byte, error)
	Incoming []uint32
}

// UpdateBulkBuffered implements the two merge policies from spec.md
// §4.2: MergeSet unions decoded collections and skips the write when
// the incoming set is already a subset of what's stored; MergeCounter
// appends.
func (e *Engine) UpdateBulkBuffered(table string, updates []Update, policy MergePolicy, budget Budget) (skipped, updated, created int, err error) {
	var buf []KV
	var size int64
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if _, err := e.WriteBulk(table, buf, true); err != nil {
			return err
		}
		buf = buf[:0]
		size = 0
		return nil
	}

	for _, u := range updates {
		stored, found, gerr := e.Get(table, u.Key)
		if gerr != nil {
			return skipped, updated, created, gerr
		}

		var merged []uint32
		switch {
		case !found:
			merged = u.Incoming
			created++
		case policy == MergeSet:
			current, derr := u.Decode(stored)
			if derr != nil {
				return skipped, updated, created, derr
			}
			if isSubset(u.Incoming, current) {
				skipped++
				continue
			}
			merged = unionUint32(current, u.Incoming)
			updated++
		default: // MergeCounter
			current, derr := u.Decode(stored)
			if derr != nil {
				return skipped, updated, created, derr
			}
			merged = append(append([]uint32(nil), current...), u.Incoming...)
			updated++
		}

		encoded, eerr := u.Encode(merged)
		if eerr != nil {
			return skipped, updated, created, eerr
		}
		buf = append(buf, KV{Key: u.Key, Value: encoded})
		size += int64(len(u.Key) + len(encoded))
		if size >= int64(budget) {
			if ferr := flush(); ferr != nil {
				return skipped, updated, created, ferr
			}
		}
	}
	if ferr := flush(); ferr != nil {
		return skipped, updated, created, ferr
	}
	return skipped, updated, created, nil
}

func isSubset(incoming, stored []uint32) bool {
	if len(incoming) > len(stored) {
		return false
	}
	set := make(map[uint32]struct{}, len(stored))
	for _, v := range stored {
		set[v] = struct{}{}
	}
	for _, v := range incoming {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func unionUint32(a, b []uint32) []uint32 {
	set := make(map[uint32]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]uint32, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}

// Count returns the number of entries stored in table, read directly off
// mdbx's B+-tree metadata rather than by scanning (spec.md §12
// "get_db_size pattern"), used by store.Store.Len and the wikidb-build
// inspect subcommand.
func (e *Engine) Count(table string) (uint64, error) {
	dbi, err := e.dbi(table)
	if err != nil {
		return 0, err
	}
	var entries uint64
	err = e.env.View(func(txn *mdbx.Txn) error {
		stat, err := txn.Stat(dbi)
		if err != nil {
			return err
		}
		entries = stat.Entries
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("kv: count %s: %w", table, err)
	}
	return entries, nil
}

// Head returns copies of the first n raw (still encoded) records of a
// table in key order, used only by the
// inspection/debug CLI (spec.md §12 "head(table, n) debug helper").
func (e *Engine) Head(table string, n int) ([]KV, error) {
	var out []KV
	err := e.Range(table, nil, nil, func(kv KV) error {
		out = append(out, KV{
			Key:   append([]byte(nil), kv.Key...),
			Value: append([]byte(nil), kv.Value...),
		})
		if len(out) >= n {
			return errStopIteration
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, err
	}
	return out, nil
}

var errStopIteration = errors.New("kv: stop iteration")

// CompactCopy dumps the current store into a fresh file with
// compaction, matching DBCore.copy_lmdb: the caller is expected to
// atomically rename the result over the original once it is confirmed
// complete (spec.md §4.2 "compact_copy").
func (e *Engine) CompactCopy(newPath string) error {
	if err := os.RemoveAll(newPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("kv: remove stale compact target: %w", err)
	}
	if err := e.env.CopyFlags(newPath, mdbx.CopyCompact); err != nil {
		return fmt.Errorf("kv: compact copy: %w", err)
	}
	return nil
}
