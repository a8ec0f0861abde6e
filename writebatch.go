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

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/quarrylabs/firelight/internal/flerr"
)

// A WriteBatch accumulates set, create, update and delete intents and commits
// them atomically in a single round trip. The unit of atomicity is always the
// whole buffered write set. A WriteBatch is not safe for concurrent use.
type WriteBatch struct {
	c      *Client
	err    error
	writes []*pb.Write
}

// Batch returns an empty WriteBatch.
func (c *Client) Batch() *WriteBatch {
	return &WriteBatch{c: c}
}

func (b *WriteBatch) add(w *pb.Write, err error) *WriteBatch {
	if b.err != nil {
		return b
	}
	if err != nil {
		b.err = err
		return b
	}
	b.writes = append(b.writes, w)
	return b
}

// Set adds a write that creates or replaces the document with the given data.
func (b *WriteBatch) Set(d *DocumentRef, data interface{}) *WriteBatch {
	if d == nil {
		return b.add(nil, errNilDocRef)
	}
	w, err := d.newSetWrite(data)
	return b.add(w, err)
}

// Create adds a write that creates the document, failing the commit if it
// already exists.
func (b *WriteBatch) Create(d *DocumentRef, data interface{}) *WriteBatch {
	if d == nil {
		return b.add(nil, errNilDocRef)
	}
	w, err := d.newCreateWrite(data)
	return b.add(w, err)
}

// Update adds a write that modifies individual fields of the document.
func (b *WriteBatch) Update(d *DocumentRef, updates []Update) *WriteBatch {
	if d == nil {
		return b.add(nil, errNilDocRef)
	}
	w, err := d.newUpdateWrite(updates)
	return b.add(w, err)
}

// Delete adds a write that deletes the document.
func (b *WriteBatch) Delete(d *DocumentRef) *WriteBatch {
	if d == nil {
		return b.add(nil, errNilDocRef)
	}
	return b.add(d.newDeleteWrite(), nil)
}

// Commit submits the batched writes atomically. Committing an empty batch
// fails with an InvalidArgument error before any RPC is issued.
func (b *WriteBatch) Commit(ctx context.Context) (_ []*WriteResult, err error) {
	ctx = b.c.tracer.Start(ctx, "WriteBatch.Commit")
	defer func() { b.c.tracer.End(ctx, err) }()
	if b.err != nil {
		return nil, b.err
	}
	if len(b.writes) == 0 {
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "cannot commit an empty batch")
	}
	wrs, err := b.c.commit(ctx, b.writes, nil)
	if err != nil {
		return nil, err
	}
	rs := make([]*WriteResult, len(wrs))
	for i, wr := range wrs {
		rs[i] = writeResultFromProto(wr)
	}
	return rs, nil
}
