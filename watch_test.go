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
	"testing"
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/quarrylabs/firelight/flerrors"
	"github.com/quarrylabs/firelight/internal/fstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
)

func listenReq(c *Client, target *pb.Target) *pb.ListenRequest {
	return &pb.ListenRequest{
		Database:     c.dbPath,
		TargetChange: &pb.ListenRequest_AddTarget{AddTarget: target},
	}
}

func docTarget(d *DocumentRef) *pb.Target {
	return &pb.Target{
		TargetType: &pb.Target_Documents{Documents: &pb.Target_DocumentsTarget{
			Documents: []string{d.Path},
		}},
		TargetId: watchTargetID,
	}
}

func queryTarget(t *testing.T, q Query) *pb.Target {
	t.Helper()
	return &pb.Target{
		TargetType: &pb.Target_Query{Query: &pb.Target_QueryTarget{
			Parent:    q.parentPath,
			QueryType: &pb.Target_QueryTarget_StructuredQuery{StructuredQuery: mustToProto(t, q)},
		}},
		TargetId: watchTargetID,
	}
}

func docChangeResp(doc *pb.Document) *pb.ListenResponse {
	return &pb.ListenResponse{ResponseType: &pb.ListenResponse_DocumentChange{
		DocumentChange: &pb.DocumentChange{Document: doc, TargetIds: []int32{watchTargetID}},
	}}
}

func docDeleteResp(name string, rt time.Time) *pb.ListenResponse {
	return &pb.ListenResponse{ResponseType: &pb.ListenResponse_DocumentDelete{
		DocumentDelete: &pb.DocumentDelete{Document: name, ReadTime: tspb.New(rt)},
	}}
}

func docRemoveResp(name string) *pb.ListenResponse {
	return &pb.ListenResponse{ResponseType: &pb.ListenResponse_DocumentRemove{
		DocumentRemove: &pb.DocumentRemove{Document: name},
	}}
}

func filterResp(count int32) *pb.ListenResponse {
	return &pb.ListenResponse{ResponseType: &pb.ListenResponse_Filter{
		Filter: &pb.ExistenceFilter{TargetId: watchTargetID, Count: count},
	}}
}

func targetChangeResp(kind pb.TargetChange_TargetChangeType, rt time.Time) *pb.ListenResponse {
	return &pb.ListenResponse{ResponseType: &pb.ListenResponse_TargetChange{
		TargetChange: &pb.TargetChange{TargetChangeType: kind, ReadTime: tspb.New(rt)},
	}}
}

// A document listener emits one snapshot per change, and a non-existent
// snapshot for a deletion.
func TestDocumentSnapshots(t *testing.T) {
	c, srv := newTestClient(t)
	d := c.Collection("C").Doc("d")
	srv.AddRPC(listenReq(c, docTarget(d)), []interface{}{
		docChangeResp(testDoc(c, "C/d", map[string]*pb.Value{"counter": intval(0)})),
		docChangeResp(testDoc(c, "C/d", map[string]*pb.Value{"counter": intval(1)})),
		docDeleteResp(d.Path, testTime),
		fstest.EndStream{},
	})
	it := d.Snapshots(context.Background())
	defer it.Stop()

	for i := 0; i < 2; i++ {
		snap, err := it.Next()
		require.NoError(t, err)
		require.True(t, snap.Exists())
		v, err := snap.DataAt("counter")
		require.NoError(t, err)
		require.Equal(t, int64(i), v)
	}
	snap, err := it.Next()
	require.NoError(t, err)
	require.False(t, snap.Exists())
	require.True(t, snap.ReadTime.Equal(testTime))

	// The stream ended cleanly, so the iterator is done.
	_, err = it.Next()
	require.Equal(t, iterator.Done, err)
}

// A query listener buffers changes until a consistency point, then emits one
// snapshot with the ordered result set and the diff against the previous
// emission.
func TestQuerySnapshots(t *testing.T) {
	c, srv := newTestClient(t)
	q := c.Collection("C").OrderBy("a", Asc)
	docA := testDoc(c, "C/a", map[string]*pb.Value{"a": intval(1)})
	docB := testDoc(c, "C/b", map[string]*pb.Value{"a": intval(2)})
	t1 := testTime
	t2 := testTime.Add(time.Second)
	srv.AddRPC(listenReq(c, queryTarget(t, q)), []interface{}{
		docChangeResp(docA),
		docChangeResp(docB),
		targetChangeResp(pb.TargetChange_CURRENT, t1),
		docRemoveResp(docA.Name),
		targetChangeResp(pb.TargetChange_NO_CHANGE, t2),
	})
	it := q.Snapshots(context.Background())
	defer it.Stop()

	s1, err := it.Next()
	require.NoError(t, err)
	require.Len(t, s1.Documents, 2)
	require.Equal(t, "a", s1.Documents[0].Ref.ID)
	require.Equal(t, "b", s1.Documents[1].Ref.ID)
	require.True(t, s1.ReadTime.Equal(t1))
	// The first snapshot reports every document as added.
	require.Len(t, s1.Changes, 2)
	for i, ch := range s1.Changes {
		require.Equal(t, DocumentAdded, ch.Kind)
		require.Equal(t, -1, ch.OldIndex)
		require.Equal(t, i, ch.NewIndex)
	}

	s2, err := it.Next()
	require.NoError(t, err)
	require.Len(t, s2.Documents, 1)
	require.Equal(t, "b", s2.Documents[0].Ref.ID)
	require.True(t, s2.ReadTime.Equal(t2))
	require.Len(t, s2.Changes, 1)
	ch := s2.Changes[0]
	require.Equal(t, DocumentRemoved, ch.Kind)
	require.Equal(t, "a", ch.Doc.Ref.ID)
	require.Equal(t, 0, ch.OldIndex)
	require.Equal(t, -1, ch.NewIndex)
}

func TestQuerySnapshotsModified(t *testing.T) {
	c, srv := newTestClient(t)
	q := c.Collection("C").OrderBy("a", Asc)
	srv.AddRPC(listenReq(c, queryTarget(t, q)), []interface{}{
		docChangeResp(testDoc(c, "C/a", map[string]*pb.Value{"a": intval(1)})),
		targetChangeResp(pb.TargetChange_CURRENT, testTime),
		docChangeResp(testDoc(c, "C/a", map[string]*pb.Value{"a": intval(5)})),
		targetChangeResp(pb.TargetChange_NO_CHANGE, testTime.Add(time.Second)),
	})
	it := q.Snapshots(context.Background())
	defer it.Stop()

	_, err := it.Next()
	require.NoError(t, err)
	s2, err := it.Next()
	require.NoError(t, err)
	require.Len(t, s2.Changes, 1)
	ch := s2.Changes[0]
	require.Equal(t, DocumentModified, ch.Kind)
	require.Equal(t, 0, ch.OldIndex)
	require.Equal(t, 0, ch.NewIndex)
	v, err := ch.Doc.DataAt("a")
	require.NoError(t, err)
	require.Equal(t, int64(5), v)
}

// A consistency point with no changes since the last emission produces no
// snapshot; the first snapshot is emitted even when empty.
func TestQuerySnapshotsSuppressesNoops(t *testing.T) {
	c, srv := newTestClient(t)
	q := c.Collection("C").OrderBy("a", Asc)
	srv.AddRPC(listenReq(c, queryTarget(t, q)), []interface{}{
		targetChangeResp(pb.TargetChange_CURRENT, testTime),
		targetChangeResp(pb.TargetChange_NO_CHANGE, testTime.Add(time.Second)),
		docChangeResp(testDoc(c, "C/a", map[string]*pb.Value{"a": intval(1)})),
		targetChangeResp(pb.TargetChange_NO_CHANGE, testTime.Add(2*time.Second)),
	})
	it := q.Snapshots(context.Background())
	defer it.Stop()

	s1, err := it.Next()
	require.NoError(t, err)
	require.Empty(t, s1.Documents)
	require.Empty(t, s1.Changes)

	// The no-op heartbeat was skipped; the next snapshot carries the addition.
	s2, err := it.Next()
	require.NoError(t, err)
	require.Len(t, s2.Documents, 1)
	require.Len(t, s2.Changes, 1)
	require.Equal(t, DocumentAdded, s2.Changes[0].Kind)
}

// After a RESET the accumulator starts over: the next snapshot reports the
// fresh result set with every document as added.
func TestQuerySnapshotsReset(t *testing.T) {
	c, srv := newTestClient(t)
	q := c.Collection("C").OrderBy("a", Asc)
	srv.AddRPC(listenReq(c, queryTarget(t, q)), []interface{}{
		docChangeResp(testDoc(c, "C/a", map[string]*pb.Value{"a": intval(1)})),
		targetChangeResp(pb.TargetChange_CURRENT, testTime),
		targetChangeResp(pb.TargetChange_RESET, testTime),
		docChangeResp(testDoc(c, "C/b", map[string]*pb.Value{"a": intval(2)})),
		targetChangeResp(pb.TargetChange_CURRENT, testTime.Add(time.Second)),
	})
	it := q.Snapshots(context.Background())
	defer it.Stop()

	s1, err := it.Next()
	require.NoError(t, err)
	require.Len(t, s1.Documents, 1)
	require.Equal(t, "a", s1.Documents[0].Ref.ID)

	s2, err := it.Next()
	require.NoError(t, err)
	require.Len(t, s2.Documents, 1)
	require.Equal(t, "b", s2.Documents[0].Ref.ID)
	require.Len(t, s2.Changes, 1)
	require.Equal(t, DocumentAdded, s2.Changes[0].Kind)
}

// An existence filter whose count matches is a no-op; a mismatch tears the
// listener down with a terminal error.
func TestWatchExistenceFilter(t *testing.T) {
	c, srv := newTestClient(t)
	q := c.Collection("C").OrderBy("a", Asc)
	srv.AddRPC(listenReq(c, queryTarget(t, q)), []interface{}{
		docChangeResp(testDoc(c, "C/a", map[string]*pb.Value{"a": intval(1)})),
		filterResp(1),
		targetChangeResp(pb.TargetChange_CURRENT, testTime),
		filterResp(5),
	})
	it := q.Snapshots(context.Background())
	defer it.Stop()

	_, err := it.Next()
	require.NoError(t, err)
	_, err = it.Next()
	require.Equal(t, flerrors.Internal, flerrors.Code(err))
	require.Contains(t, err.Error(), "existence filter mismatch")
	// The error is terminal.
	_, err2 := it.Next()
	require.Equal(t, err, err2)
}

// A DocumentChange carrying no document is malformed; it must tear the
// listener down with a terminal error, not crash it.
func TestWatchMalformedDocumentChange(t *testing.T) {
	c, srv := newTestClient(t)
	d := c.Collection("C").Doc("d")
	srv.AddRPC(listenReq(c, docTarget(d)), []interface{}{
		&pb.ListenResponse{ResponseType: &pb.ListenResponse_DocumentChange{
			DocumentChange: &pb.DocumentChange{TargetIds: []int32{watchTargetID}},
		}},
	})
	it := d.Snapshots(context.Background())
	defer it.Stop()
	_, err := it.Next()
	require.Equal(t, flerrors.Internal, flerrors.Code(err))
	require.Contains(t, err.Error(), "without a document")
}

// A target change carrying a cause surfaces it as the listener's terminal
// error.
func TestWatchTargetError(t *testing.T) {
	c, srv := newTestClient(t)
	d := c.Collection("C").Doc("d")
	srv.AddRPC(listenReq(c, docTarget(d)), []interface{}{
		&pb.ListenResponse{ResponseType: &pb.ListenResponse_TargetChange{
			TargetChange: &pb.TargetChange{
				TargetChangeType: pb.TargetChange_REMOVE,
				Cause:            &spb.Status{Code: int32(codes.PermissionDenied), Message: "denied"},
			},
		}},
	})
	it := d.Snapshots(context.Background())
	defer it.Stop()
	_, err := it.Next()
	require.Equal(t, codes.PermissionDenied, status.Code(err))
}

// Stop ends the listener promptly even while the server stream is idle.
func TestWatchStop(t *testing.T) {
	c, srv := newTestClient(t)
	q := c.Collection("C").OrderBy("a", Asc)
	srv.AddRPC(listenReq(c, queryTarget(t, q)), []interface{}{})
	it := q.Snapshots(context.Background())
	it.Stop()
	_, err := it.Next()
	require.Equal(t, iterator.Done, err)
	// Stop is idempotent.
	it.Stop()
}

func TestWatchRejectsLimitToLast(t *testing.T) {
	c, _ := newTestClient(t)
	it := c.Collection("C").OrderBy("a", Asc).LimitToLast(1).Snapshots(context.Background())
	defer it.Stop()
	_, err := it.Next()
	require.Equal(t, flerrors.InvalidArgument, flerrors.Code(err))
}

// The comparator orders by the query's sort keys with the document path as
// the tiebreak, so snapshots order deterministically even with equal sort
// values.
func TestSnapshotComparator(t *testing.T) {
	c, _ := newTestClient(t)
	q := c.Collection("C").OrderBy("a", Desc)
	cmpFn := q.snapshotComparator()
	s := func(id string, a int64) *DocumentSnapshot {
		return newSnapshot(c.Doc("C/"+id), &pb.Document{
			Name:   c.docPrefix + "/C/" + id,
			Fields: map[string]*pb.Value{"a": intval(a)},
		}, nil)
	}
	// Descending on a.
	require.Negative(t, cmpFn(s("x", 5), s("y", 1)))
	// Equal sort values fall back to the path.
	require.Positive(t, cmpFn(s("y", 3), s("x", 3)))
	require.Zero(t, cmpFn(s("x", 3), s("x", 3)))
}
