// Copyright 2026 The Firelight Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package firelight

import (
	"context"
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	gax "github.com/googleapis/gax-go/v2"
	"github.com/quarrylabs/firelight/internal/flerr"
	"github.com/quarrylabs/firelight/internal/retry"
)

// DefaultTransactionMaxAttempts is the default number of times a transaction
// is attempted before its last error is surfaced.
const DefaultTransactionMaxAttempts = 5

// A TransactionOption configures RunTransaction.
type TransactionOption interface {
	apply(*transactionSettings)
}

type transactionSettings struct {
	maxAttempts int
}

type maxAttempts int

func (m maxAttempts) apply(s *transactionSettings) { s.maxAttempts = int(m) }

// MaxAttempts is a TransactionOption that overrides the default number of
// attempts.
func MaxAttempts(n int) TransactionOption { return maxAttempts(n) }

// A Transaction is the read/write surface passed to the function run by
// RunTransaction. Reads are proxied through the server-side transaction and
// cached per document; writes are buffered locally and submitted atomically
// by the commit step. All reads must precede all writes.
//
// A fresh Transaction is created for every attempt; it must not be retained
// after the function returns.
type Transaction struct {
	c      *Client
	ctx    context.Context
	id     []byte
	writes []*pb.Write
	// reads caches the attempt's snapshots by document path, including
	// negative entries for documents that did not exist.
	reads map[string]*DocumentSnapshot
}

var errReadAfterWrite = flerr.Newf(flerr.FailedPrecondition, nil,
	"transaction read after write: all reads must precede all writes")

// RunTransaction runs f in a transaction, retrying with a fresh transaction
// on failure. Each attempt begins a new server-side transaction, invokes f,
// and commits the writes f buffered; on any function or commit error the
// transaction is rolled back (best effort) and the whole attempt repeats,
// up to the attempt bound (default 5, see MaxAttempts). The last attempt's
// error is surfaced.
//
// f must use the Transaction it is given for all reads and writes that
// should be part of the atomic unit, and must be safe to invoke multiple
// times.
func (c *Client) RunTransaction(ctx context.Context, f func(context.Context, *Transaction) error, opts ...TransactionOption) (err error) {
	ctx = c.tracer.Start(ctx, "Client.RunTransaction")
	defer func() { c.tracer.End(ctx, err) }()
	settings := &transactionSettings{maxAttempts: DefaultTransactionMaxAttempts}
	for _, o := range opts {
		o.apply(settings)
	}
	if settings.maxAttempts < 1 {
		return flerr.Newf(flerr.InvalidArgument, nil, "MaxAttempts must be at least 1")
	}
	attempts := 0
	isRetryable := func(error) bool {
		attempts++
		return attempts < settings.maxAttempts
	}
	bo := gax.Backoff{
		Initial:    50 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
	}
	return retry.Call(ctx, bo, isRetryable, func() error {
		return c.runTransactionAttempt(ctx, f)
	})
}

func (c *Client) runTransactionAttempt(ctx context.Context, f func(context.Context, *Transaction) error) error {
	res, err := c.c.BeginTransaction(withResourceHeader(ctx, c.dbPath), &pb.BeginTransactionRequest{
		Database: c.dbPath,
	})
	if err != nil {
		return flerr.GRPCError(err, "")
	}
	t := &Transaction{
		c:     c,
		ctx:   ctx,
		id:    res.Transaction,
		reads: map[string]*DocumentSnapshot{},
	}
	if err := f(ctx, t); err != nil {
		t.rollback()
		return err
	}
	if _, err := c.commit(ctx, t.writes, t.id); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// rollback is best-effort: its error is ignored because the server expires
// abandoned transactions on its own.
func (t *Transaction) rollback() {
	_ = t.c.c.Rollback(withResourceHeader(t.ctx, t.c.dbPath), &pb.RollbackRequest{
		Database:    t.c.dbPath,
		Transaction: t.id,
	})
}

// Get reads the document within the transaction. Once any write has been
// buffered, Get fails with a FailedPrecondition error without issuing an
// RPC. Repeated reads of the same document return the attempt's cached
// snapshot, including the not-found case, for which Get returns a NotFound
// error and a snapshot whose Exists method reports false.
func (t *Transaction) Get(d *DocumentRef) (*DocumentSnapshot, error) {
	if d == nil {
		return nil, errNilDocRef
	}
	if len(t.writes) > 0 {
		return nil, errReadAfterWrite
	}
	snap, ok := t.reads[d.Path]
	if !ok {
		snaps, err := t.c.getAll(t.ctx, []*DocumentRef{d}, t.id)
		if err != nil {
			return nil, err
		}
		snap = snaps[0]
		t.reads[d.Path] = snap
	}
	if !snap.Exists() {
		return snap, flerr.Newf(flerr.NotFound, nil, "document %q is missing", d.Path)
	}
	return snap, nil
}

// GetAll reads multiple documents in one consistent transactional read.
// Documents already read in this attempt are served from the cache. Unlike
// Get, a missing document is not an error; check Exists on each snapshot.
func (t *Transaction) GetAll(refs []*DocumentRef) ([]*DocumentSnapshot, error) {
	if len(t.writes) > 0 {
		return nil, errReadAfterWrite
	}
	var fetch []*DocumentRef
	seen := map[string]bool{}
	for _, r := range refs {
		if r == nil {
			return nil, errNilDocRef
		}
		if _, ok := t.reads[r.Path]; !ok && !seen[r.Path] {
			fetch = append(fetch, r)
			seen[r.Path] = true
		}
	}
	if len(fetch) > 0 {
		snaps, err := t.c.getAll(t.ctx, fetch, t.id)
		if err != nil {
			return nil, err
		}
		for i, s := range snaps {
			t.reads[fetch[i].Path] = s
		}
	}
	out := make([]*DocumentSnapshot, len(refs))
	for i, r := range refs {
		out[i] = t.reads[r.Path]
	}
	return out, nil
}

// Set buffers a write that creates or replaces the document. It never issues
// an RPC; the buffered intents are submitted by the attempt's commit step.
func (t *Transaction) Set(d *DocumentRef, data interface{}) error {
	if d == nil {
		return errNilDocRef
	}
	w, err := d.newSetWrite(data)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, w)
	return nil
}

// Create buffers a write that creates the document, failing the commit if it
// already exists.
func (t *Transaction) Create(d *DocumentRef, data interface{}) error {
	if d == nil {
		return errNilDocRef
	}
	w, err := d.newCreateWrite(data)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, w)
	return nil
}

// Update buffers a write that modifies individual fields of the document.
func (t *Transaction) Update(d *DocumentRef, updates []Update) error {
	if d == nil {
		return errNilDocRef
	}
	w, err := d.newUpdateWrite(updates)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, w)
	return nil
}

// Delete buffers a write that deletes the document.
func (t *Transaction) Delete(d *DocumentRef) error {
	if d == nil {
		return errNilDocRef
	}
	t.writes = append(t.writes, d.newDeleteWrite())
	return nil
}
