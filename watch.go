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

// Real-time listeners over the Listen stream. Each listener owns one
// background goroutine that registers a single target and folds the inbound
// event stream into snapshots. Document targets emit a snapshot per change;
// query targets buffer changes in an accumulator and emit a consistent,
// diffed QuerySnapshot at each consistency point.

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/quarrylabs/firelight/internal/flerr"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/status"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
)

// Each listener registers exactly one target.
const watchTargetID = 1

// snapshotBufferSize bounds a listener's output channel. A slow consumer
// blocks the stream goroutine once the buffer fills; cancellation always
// wins the race against a pending send.
const snapshotBufferSize = 16

// DocumentChangeKind classifies one entry of a QuerySnapshot's diff.
type DocumentChangeKind int

const (
	// DocumentAdded indicates a document that entered the result set.
	DocumentAdded DocumentChangeKind = iota
	// DocumentModified indicates a document that changed while in the result set.
	DocumentModified
	// DocumentRemoved indicates a document that left the result set, whether
	// it was deleted or merely stopped matching the query.
	DocumentRemoved
)

// A DocumentChange is one entry of the diff between two consecutive query
// snapshots.
type DocumentChange struct {
	Kind DocumentChangeKind
	Doc  *DocumentSnapshot

	// OldIndex is the position of the document in the previous snapshot's
	// Documents, or -1 if it was not present.
	OldIndex int
	// NewIndex is the position in the current snapshot's Documents, or -1.
	NewIndex int
}

// A QuerySnapshot is one consistent view of a query's result set, with the
// diff against the previous emission.
type QuerySnapshot struct {
	// Documents holds the matching documents in the query's sort order, with
	// document path as the tiebreak.
	Documents []*DocumentSnapshot

	// Changes is the diff against the previously emitted snapshot. On the
	// first emission every document appears as an addition.
	Changes []DocumentChange

	// ReadTime is the time at which this view was consistent.
	ReadTime time.Time
}

// Snapshots returns an iterator over snapshots of the query's result set.
// Queries with LimitToLast cannot be listened to.
func (q Query) Snapshots(ctx context.Context) *QuerySnapshotIterator {
	it := &QuerySnapshotIterator{Query: q}
	if q.limitToLast {
		it.err = flerr.Newf(flerr.InvalidArgument, nil, "queries with LimitToLast cannot be listened to")
		return it
	}
	sq, err := q.toProto()
	if err != nil {
		it.err = err
		return it
	}
	target := &pb.Target{
		TargetType: &pb.Target_Query{Query: &pb.Target_QueryTarget{
			Parent:    q.parentPath,
			QueryType: &pb.Target_QueryTarget_StructuredQuery{StructuredQuery: sq},
		}},
		TargetId: watchTargetID,
	}
	it.ws = newWatchStream(ctx, q.c, target, q.snapshotComparator())
	_, file, lineno, ok := runtime.Caller(1)
	runtime.SetFinalizer(it, func(it *QuerySnapshotIterator) {
		if !it.ws.stopped() {
			var caller string
			if ok {
				caller = fmt.Sprintf(" (%s:%d)", file, lineno)
			}
			log.Printf("A firelight query listener was never stopped%s", caller)
			it.ws.Stop()
		}
	})
	return it
}

// A QuerySnapshotIterator is a cancellable sequence of QuerySnapshots.
type QuerySnapshotIterator struct {
	// Query is the query whose result set is being listened to.
	Query Query

	ws  *watchStream
	err error
}

// Next blocks until the next snapshot is available and returns it. It
// returns iterator.Done when the stream ended or the iterator was stopped;
// any other error is terminal, and the caller must start a new listener to
// resubscribe.
func (it *QuerySnapshotIterator) Next() (*QuerySnapshot, error) {
	if it.err != nil {
		return nil, it.err
	}
	ev, ok := <-it.ws.events
	if !ok {
		it.err = iterator.Done
		return nil, it.err
	}
	if ev.err != nil {
		it.err = ev.err
		return nil, it.err
	}
	return ev.qsnap, nil
}

// Stop stops the listener. Its goroutine exits without sending further
// output and the iterator's channel closes. It is safe to call Stop more
// than once, and from any goroutine.
func (it *QuerySnapshotIterator) Stop() {
	if it.ws != nil {
		it.ws.Stop()
	}
}

// Snapshots returns an iterator over snapshots of the document. The first
// snapshot arrives once the document's initial state is known; each
// subsequent change or deletion produces another.
func (d *DocumentRef) Snapshots(ctx context.Context) *DocumentSnapshotIterator {
	it := &DocumentSnapshotIterator{}
	if d == nil {
		it.err = errNilDocRef
		return it
	}
	target := &pb.Target{
		TargetType: &pb.Target_Documents{Documents: &pb.Target_DocumentsTarget{
			Documents: []string{d.Path},
		}},
		TargetId: watchTargetID,
	}
	it.ws = newWatchStream(ctx, d.Parent.c, target, nil)
	_, file, lineno, ok := runtime.Caller(1)
	runtime.SetFinalizer(it, func(it *DocumentSnapshotIterator) {
		if !it.ws.stopped() {
			var caller string
			if ok {
				caller = fmt.Sprintf(" (%s:%d)", file, lineno)
			}
			log.Printf("A firelight document listener was never stopped%s", caller)
			it.ws.Stop()
		}
	})
	return it
}

// A DocumentSnapshotIterator is a cancellable sequence of snapshots of one
// document. A snapshot whose Exists method reports false means the document
// was deleted.
type DocumentSnapshotIterator struct {
	ws  *watchStream
	err error
}

// Next blocks until the next snapshot is available and returns it. It
// returns iterator.Done when the stream ended or the iterator was stopped;
// any other error is terminal.
func (it *DocumentSnapshotIterator) Next() (*DocumentSnapshot, error) {
	if it.err != nil {
		return nil, it.err
	}
	ev, ok := <-it.ws.events
	if !ok {
		it.err = iterator.Done
		return nil, it.err
	}
	if ev.err != nil {
		it.err = ev.err
		return nil, it.err
	}
	return ev.doc, nil
}

// Stop stops the listener. It is safe to call more than once.
func (it *DocumentSnapshotIterator) Stop() {
	if it.ws != nil {
		it.ws.Stop()
	}
}

// snapshotComparator returns the total order for the query's results: the
// query's sort keys in sequence, with document path as the final tiebreak so
// equal sort values still order deterministically.
func (q *Query) snapshotComparator() func(a, b *DocumentSnapshot) int {
	orders := q.orders
	return func(a, b *DocumentSnapshot) int {
		for _, ord := range orders {
			fp := strings.Split(ord.fieldPath, ".")
			c := compareValues(a.fieldValue(fp), b.fieldValue(fp))
			if ord.dir == Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.Ref.Path, b.Ref.Path)
	}
}

// A watchEvent is one delivery on a listener's output channel: a document
// snapshot (document targets), a query snapshot (query targets), or a
// terminal error.
type watchEvent struct {
	doc   *DocumentSnapshot
	qsnap *QuerySnapshot
	err   error
}

// A watchStream drives one Listen stream for one target. compare is nil for
// document targets.
type watchStream struct {
	c       *Client
	target  *pb.Target
	compare func(a, b *DocumentSnapshot) int

	events   chan watchEvent
	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
}

func newWatchStream(ctx context.Context, c *Client, target *pb.Target, compare func(a, b *DocumentSnapshot) int) *watchStream {
	ctx, cancel := context.WithCancel(withResourceHeader(ctx, c.dbPath))
	s := &watchStream{
		c:       c,
		target:  target,
		compare: compare,
		events:  make(chan watchEvent, snapshotBufferSize),
		stop:    make(chan struct{}),
		cancel:  cancel,
	}
	go s.run(ctx)
	return s
}

// Stop cancels the stream. The goroutine observes the signal before
// processing a subsequent buffered message, so shutdown latency is bounded
// by at most one more inbound event.
func (s *watchStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.cancel()
	})
}

func (s *watchStream) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// send delivers ev unless the stream has been stopped. Cancellation is
// preferred over a pending send even when the consumer is slow.
func (s *watchStream) send(ev watchEvent) bool {
	if s.stopped() {
		return false
	}
	select {
	case <-s.stop:
		return false
	case s.events <- ev:
		return true
	}
}

func (s *watchStream) run(ctx context.Context) {
	defer close(s.events)
	if err := s.stream(ctx); err != nil && !s.stopped() {
		s.send(watchEvent{err: err})
	}
}

func (s *watchStream) stream(ctx context.Context) error {
	lc, err := s.c.c.Listen(ctx)
	if err != nil {
		return err
	}
	if err := lc.Send(&pb.ListenRequest{
		Database:     s.c.dbPath,
		TargetChange: &pb.ListenRequest_AddTarget{AddTarget: s.target},
	}); err != nil {
		return err
	}
	// One target per stream; the outbound half is done.
	if err := lc.CloseSend(); err != nil {
		return err
	}
	acc := newWatchAccumulator(s.compare)
	for {
		// A stop signal must win even if a message is simultaneously ready.
		if s.stopped() {
			return nil
		}
		res, err := lc.Recv()
		if err == io.EOF {
			// The stream ended cleanly: terminal, no further events.
			return nil
		}
		if err != nil {
			if s.stopped() {
				return nil
			}
			return err
		}
		evs, err := s.handleResponse(acc, res)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			if !s.send(ev) {
				return nil
			}
		}
	}
}

// handleResponse dispatches one inbound event. It is total over the
// ListenResponse union: an unknown variant is an error, not a silent no-op.
func (s *watchStream) handleResponse(acc *watchAccumulator, res *pb.ListenResponse) ([]watchEvent, error) {
	isQuery := s.compare != nil
	switch r := res.ResponseType.(type) {
	case *pb.ListenResponse_DocumentChange:
		dc := r.DocumentChange
		if dc.Document == nil {
			return nil, flerr.Newf(flerr.Internal, nil, "DocumentChange without a document")
		}
		if containsTargetID(dc.RemovedTargetIds) {
			acc.remove(dc.Document.Name)
			return nil, nil
		}
		if len(dc.TargetIds) > 0 && !containsTargetID(dc.TargetIds) {
			return nil, nil
		}
		ref, err := s.c.docRefFromName(dc.Document.Name)
		if err != nil {
			return nil, err
		}
		snap := newSnapshot(ref, dc.Document, nil)
		acc.set(snap)
		if !isQuery {
			return []watchEvent{{doc: snap}}, nil
		}
		return nil, nil

	case *pb.ListenResponse_DocumentDelete:
		name := r.DocumentDelete.Document
		acc.remove(name)
		if !isQuery {
			ref, err := s.c.docRefFromName(name)
			if err != nil {
				return nil, err
			}
			return []watchEvent{{doc: newSnapshot(ref, nil, r.DocumentDelete.ReadTime)}}, nil
		}
		return nil, nil

	case *pb.ListenResponse_DocumentRemove:
		// The document still exists but no longer matches the target. For
		// document targets this event is impossible and is ignored.
		if isQuery {
			acc.remove(r.DocumentRemove.Document)
		}
		return nil, nil

	case *pb.ListenResponse_Filter:
		// The server asserts the document count for the target. A mismatch
		// means the accumulator has drifted; the listener is torn down and
		// the caller must resubscribe.
		if got, want := len(acc.docs), int(r.Filter.Count); got != want {
			return nil, flerr.Newf(flerr.Internal, nil,
				"existence filter mismatch: server reports %d documents, accumulator has %d", want, got)
		}
		return nil, nil

	case *pb.ListenResponse_TargetChange:
		return s.handleTargetChange(acc, r.TargetChange)

	default:
		return nil, flerr.Newf(flerr.Internal, nil, "unknown ListenResponse type %T", r)
	}
}

func (s *watchStream) handleTargetChange(acc *watchAccumulator, tc *pb.TargetChange) ([]watchEvent, error) {
	if tc.Cause != nil {
		return nil, status.ErrorProto(tc.Cause)
	}
	switch tc.TargetChangeType {
	case pb.TargetChange_NO_CHANGE:
		// Consistency token only.
	case pb.TargetChange_ADD:
		if len(tc.TargetIds) > 0 && tc.TargetIds[0] != watchTargetID {
			return nil, flerr.Newf(flerr.Internal, nil, "unexpected target ID %d in ADD", tc.TargetIds[0])
		}
	case pb.TargetChange_REMOVE:
		return nil, flerr.Newf(flerr.Internal, nil, "target removed by server")
	case pb.TargetChange_CURRENT:
		acc.current = true
	case pb.TargetChange_RESET:
		acc.reset()
	default:
		return nil, flerr.Newf(flerr.Internal, nil, "unknown TargetChangeType %v", tc.TargetChangeType)
	}
	if s.compare == nil || !acc.current {
		return nil, nil
	}
	// Consistency points for query targets: the CURRENT transition itself,
	// and NO_CHANGE heartbeats while current.
	if tc.TargetChangeType != pb.TargetChange_CURRENT && tc.TargetChangeType != pb.TargetChange_NO_CHANGE {
		return nil, nil
	}
	qs, ok := acc.snapshot(tc.ReadTime)
	if !ok {
		return nil, nil
	}
	return []watchEvent{{qsnap: qs}}, nil
}

func containsTargetID(ids []int32) bool {
	for _, id := range ids {
		if id == watchTargetID {
			return true
		}
	}
	return false
}

// A watchAccumulator maintains the current known document set for one target
// and computes the ordered diff at each consistency point. compare is nil
// for document targets, which never call snapshot.
type watchAccumulator struct {
	compare func(a, b *DocumentSnapshot) int

	docs    map[string]*DocumentSnapshot // keyed by document resource name
	dirty   bool
	current bool
	emitted bool

	// baseline is the document list of the last emitted snapshot.
	baseline []*DocumentSnapshot
}

func newWatchAccumulator(compare func(a, b *DocumentSnapshot) int) *watchAccumulator {
	return &watchAccumulator{
		compare: compare,
		docs:    map[string]*DocumentSnapshot{},
	}
}

func (a *watchAccumulator) set(snap *DocumentSnapshot) {
	a.docs[snap.Ref.Path] = snap
	a.dirty = true
}

func (a *watchAccumulator) remove(path string) {
	if _, ok := a.docs[path]; ok {
		delete(a.docs, path)
		a.dirty = true
	}
}

// reset clears all state. The accumulator stays silent until a fresh CURRENT
// arrives, after which the next snapshot reports every document as added.
func (a *watchAccumulator) reset() {
	a.docs = map[string]*DocumentSnapshot{}
	a.baseline = nil
	a.dirty = false
	a.current = false
	a.emitted = false
}

// snapshot computes the ordered result list and the diff against the last
// emission, and makes the new list the baseline. It reports false when
// nothing needs to be emitted: the first snapshot (possibly empty) is always
// emitted, after that only when the result set changed.
func (a *watchAccumulator) snapshot(readTime *tspb.Timestamp) (*QuerySnapshot, bool) {
	if a.emitted && !a.dirty {
		return nil, false
	}
	newList := make([]*DocumentSnapshot, 0, len(a.docs))
	for _, s := range a.docs {
		newList = append(newList, s)
	}
	sort.Slice(newList, func(i, j int) bool { return a.compare(newList[i], newList[j]) < 0 })
	changes := diffSnapshots(a.baseline, newList)
	a.dirty = false
	if a.emitted && len(changes) == 0 {
		return nil, false
	}
	a.baseline = newList
	a.emitted = true
	qs := &QuerySnapshot{
		Documents: newList,
		Changes:   changes,
	}
	if readTime != nil {
		qs.ReadTime = readTime.AsTime()
	}
	return qs, true
}

// diffSnapshots returns the delta between two ordered document lists:
// removals in old order first, then additions and modifications in new
// order. A document counts as modified when its snapshot was replaced since
// the old list was emitted.
func diffSnapshots(old, new []*DocumentSnapshot) []DocumentChange {
	oldIndex := make(map[string]int, len(old))
	for i, s := range old {
		oldIndex[s.Ref.Path] = i
	}
	newIndex := make(map[string]int, len(new))
	for i, s := range new {
		newIndex[s.Ref.Path] = i
	}
	var changes []DocumentChange
	for i, s := range old {
		if _, ok := newIndex[s.Ref.Path]; !ok {
			changes = append(changes, DocumentChange{Kind: DocumentRemoved, Doc: s, OldIndex: i, NewIndex: -1})
		}
	}
	for i, s := range new {
		j, ok := oldIndex[s.Ref.Path]
		switch {
		case !ok:
			changes = append(changes, DocumentChange{Kind: DocumentAdded, Doc: s, OldIndex: -1, NewIndex: i})
		case old[j] != s:
			changes = append(changes, DocumentChange{Kind: DocumentModified, Doc: s, OldIndex: j, NewIndex: i})
		}
	}
	return changes
}
