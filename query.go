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
	"io"
	"math"
	"strings"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/quarrylabs/firelight/internal/flerr"
	"google.golang.org/api/iterator"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Direction is the sort direction for query ordering.
type Direction int32

const (
	// Asc sorts results from smallest to largest.
	Asc Direction = Direction(pb.StructuredQuery_ASCENDING)
	// Desc sorts results from largest to smallest.
	Desc Direction = Direction(pb.StructuredQuery_DESCENDING)
)

// A Query is an immutable description of a query over one collection's
// documents. Each builder method returns a new Query; the receiver is never
// modified, so partially-built queries can be shared between goroutines
// without synchronization. Constraints are validated when the query is
// compiled for the wire, not when the builder runs.
type Query struct {
	c            *Client
	parentPath   string // the resource that contains the collection
	collectionID string

	filters []EntityFilter
	orders  []order

	limit       int32
	limitSet    bool
	limitToLast bool

	startVals, endVals     []interface{}
	startBefore, endBefore bool
	startSet, endSet       bool
}

type order struct {
	fieldPath string
	dir       Direction
}

// Where returns a new Query that filters the set of results.
// path is a dot-separated field path. op must be one of "==", "!=", "<",
// "<=", ">", ">=", "array-contains", "array-contains-any", "in" or "not-in".
func (q Query) Where(path, op string, value interface{}) Query {
	return q.WhereEntity(PropertyFilter{Path: path, Operator: op, Value: value})
}

// WhereEntity returns a new Query that filters the set of results using the
// given EntityFilter, which may be a composite AndFilter or OrFilter.
func (q Query) WhereEntity(ef EntityFilter) Query {
	q.filters = append(append([]EntityFilter(nil), q.filters...), ef)
	return q
}

// OrderBy returns a new Query that sorts results by the given field path in
// the given direction. OrderBy may be called multiple times to sort on
// multiple keys; later keys break ties in earlier ones.
func (q Query) OrderBy(path string, dir Direction) Query {
	q.orders = append(append([]order(nil), q.orders...), order{fieldPath: path, dir: dir})
	return q
}

// Limit returns a new Query that returns at most n results from the start of
// the result set.
func (q Query) Limit(n int) Query {
	q.limit = int32(n)
	q.limitSet = true
	q.limitToLast = false
	return q
}

// LimitToLast returns a new Query that returns at most the last n results in
// the query's sort order. On the wire this reverses every sort direction and
// applies the limit; the executor restores the caller's order, so
// LimitToLast queries must use GetAll rather than Documents.
func (q Query) LimitToLast(n int) Query {
	q.limit = int32(n)
	q.limitSet = true
	q.limitToLast = true
	return q
}

// StartAt returns a new Query whose results start at the document with the
// given field values, inclusive. The values correspond to the query's
// OrderBy fields, in order.
func (q Query) StartAt(vals ...interface{}) Query {
	q.startVals, q.startBefore, q.startSet = vals, true, true
	return q
}

// StartAfter returns a new Query whose results start after the document with
// the given field values, exclusive.
func (q Query) StartAfter(vals ...interface{}) Query {
	q.startVals, q.startBefore, q.startSet = vals, false, true
	return q
}

// EndAt returns a new Query whose results end at the document with the given
// field values, inclusive.
func (q Query) EndAt(vals ...interface{}) Query {
	q.endVals, q.endBefore, q.endSet = vals, false, true
	return q
}

// EndBefore returns a new Query whose results end before the document with
// the given field values, exclusive.
func (q Query) EndBefore(vals ...interface{}) Query {
	q.endVals, q.endBefore, q.endSet = vals, true, true
	return q
}

// An EntityFilter is a query filter: either a single PropertyFilter or a
// boolean composition of other filters.
type EntityFilter interface {
	toProto() (*pb.StructuredQuery_Filter, error)
}

// A PropertyFilter compares one document field against a value.
type PropertyFilter struct {
	// Path is a dot-separated field path.
	Path     string
	Operator string
	Value    interface{}
}

// An AndFilter holds if all of its subfilters hold.
type AndFilter struct {
	Filters []EntityFilter
}

// An OrFilter holds if at least one of its subfilters holds.
type OrFilter struct {
	Filters []EntityFilter
}

func (f PropertyFilter) toProto() (*pb.StructuredQuery_Filter, error) {
	// "== nil", "== NaN" and their negations compile to unary filters.
	if uop, ok := unaryOpFor(f.Operator, f.Value); ok {
		if uop == pb.StructuredQuery_UnaryFilter_OPERATOR_UNSPECIFIED {
			return nil, flerr.Newf(flerr.InvalidArgument, nil,
				"must use == or != when comparing %v", f.Value)
		}
		return &pb.StructuredQuery_Filter{
			FilterType: &pb.StructuredQuery_Filter_UnaryFilter{
				UnaryFilter: &pb.StructuredQuery_UnaryFilter{
					OperandType: &pb.StructuredQuery_UnaryFilter_Field{
						Field: fieldRef(f.Path),
					},
					Op: uop,
				},
			},
		}, nil
	}
	var fop pb.StructuredQuery_FieldFilter_Operator
	switch f.Operator {
	case "<":
		fop = pb.StructuredQuery_FieldFilter_LESS_THAN
	case "<=":
		fop = pb.StructuredQuery_FieldFilter_LESS_THAN_OR_EQUAL
	case ">":
		fop = pb.StructuredQuery_FieldFilter_GREATER_THAN
	case ">=":
		fop = pb.StructuredQuery_FieldFilter_GREATER_THAN_OR_EQUAL
	case "==":
		fop = pb.StructuredQuery_FieldFilter_EQUAL
	case "!=":
		fop = pb.StructuredQuery_FieldFilter_NOT_EQUAL
	case "array-contains":
		fop = pb.StructuredQuery_FieldFilter_ARRAY_CONTAINS
	case "array-contains-any":
		fop = pb.StructuredQuery_FieldFilter_ARRAY_CONTAINS_ANY
	case "in":
		fop = pb.StructuredQuery_FieldFilter_IN
	case "not-in":
		fop = pb.StructuredQuery_FieldFilter_NOT_IN
	default:
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "invalid operator: %q", f.Operator)
	}
	pv, err := encodeValue(f.Value)
	if err != nil {
		return nil, err
	}
	return &pb.StructuredQuery_Filter{
		FilterType: &pb.StructuredQuery_Filter_FieldFilter{
			FieldFilter: &pb.StructuredQuery_FieldFilter{
				Field: fieldRef(f.Path),
				Op:    fop,
				Value: pv,
			},
		},
	}, nil
}

func unaryOpFor(op string, value interface{}) (pb.StructuredQuery_UnaryFilter_Operator, bool) {
	switch {
	case value == nil:
		switch op {
		case "==":
			return pb.StructuredQuery_UnaryFilter_IS_NULL, true
		case "!=":
			return pb.StructuredQuery_UnaryFilter_IS_NOT_NULL, true
		}
		return pb.StructuredQuery_UnaryFilter_OPERATOR_UNSPECIFIED, true
	case isNaN(value):
		switch op {
		case "==":
			return pb.StructuredQuery_UnaryFilter_IS_NAN, true
		case "!=":
			return pb.StructuredQuery_UnaryFilter_IS_NOT_NAN, true
		}
		return pb.StructuredQuery_UnaryFilter_OPERATOR_UNSPECIFIED, true
	default:
		return pb.StructuredQuery_UnaryFilter_OPERATOR_UNSPECIFIED, false
	}
}

func isNaN(x interface{}) bool {
	switch x := x.(type) {
	case float32:
		return math.IsNaN(float64(x))
	case float64:
		return math.IsNaN(x)
	default:
		return false
	}
}

func (f AndFilter) toProto() (*pb.StructuredQuery_Filter, error) {
	return compositeToProto(pb.StructuredQuery_CompositeFilter_AND, f.Filters)
}

func (f OrFilter) toProto() (*pb.StructuredQuery_Filter, error) {
	return compositeToProto(pb.StructuredQuery_CompositeFilter_OR, f.Filters)
}

func compositeToProto(op pb.StructuredQuery_CompositeFilter_Operator, filters []EntityFilter) (*pb.StructuredQuery_Filter, error) {
	if len(filters) == 0 {
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "empty composite filter")
	}
	if len(filters) == 1 {
		return filters[0].toProto()
	}
	pfs := make([]*pb.StructuredQuery_Filter, len(filters))
	for i, f := range filters {
		pf, err := f.toProto()
		if err != nil {
			return nil, err
		}
		pfs[i] = pf
	}
	return &pb.StructuredQuery_Filter{
		FilterType: &pb.StructuredQuery_Filter_CompositeFilter{
			CompositeFilter: &pb.StructuredQuery_CompositeFilter{
				Op:      op,
				Filters: pfs,
			},
		},
	}, nil
}

func fieldRef(path string) *pb.StructuredQuery_FieldReference {
	return &pb.StructuredQuery_FieldReference{FieldPath: toServiceFieldPath(strings.Split(path, "."))}
}

// toProto compiles the query for the wire. Filters collapse into a
// conjunction in declaration order; LimitToLast reverses every sort
// direction.
func (q Query) toProto() (*pb.StructuredQuery, error) {
	if q.collectionID == "" {
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "query created without a collection")
	}
	if q.limitSet && q.limit <= 0 {
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "query limit must be positive, got %d", q.limit)
	}
	if q.limitToLast && len(q.orders) == 0 {
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "query with LimitToLast must have at least one OrderBy")
	}
	p := &pb.StructuredQuery{
		From: []*pb.StructuredQuery_CollectionSelector{{CollectionId: q.collectionID}},
	}
	if q.limitSet {
		p.Limit = &wrapperspb.Int32Value{Value: q.limit}
	}
	switch len(q.filters) {
	case 0:
	case 1:
		pf, err := q.filters[0].toProto()
		if err != nil {
			return nil, err
		}
		p.Where = pf
	default:
		pf, err := compositeToProto(pb.StructuredQuery_CompositeFilter_AND, q.filters)
		if err != nil {
			return nil, err
		}
		p.Where = pf
	}
	for _, ord := range q.orders {
		var dir pb.StructuredQuery_Direction
		switch ord.dir {
		case Asc:
			dir = pb.StructuredQuery_ASCENDING
		case Desc:
			dir = pb.StructuredQuery_DESCENDING
		default:
			return nil, flerr.Newf(flerr.InvalidArgument, nil, "invalid sort direction %d", ord.dir)
		}
		if q.limitToLast {
			if dir == pb.StructuredQuery_ASCENDING {
				dir = pb.StructuredQuery_DESCENDING
			} else {
				dir = pb.StructuredQuery_ASCENDING
			}
		}
		p.OrderBy = append(p.OrderBy, &pb.StructuredQuery_Order{
			Field:     fieldRef(ord.fieldPath),
			Direction: dir,
		})
	}
	if q.startSet {
		vals, err := encodeCursorValues(q.startVals)
		if err != nil {
			return nil, err
		}
		p.StartAt = &pb.Cursor{Values: vals, Before: q.startBefore}
	}
	if q.endSet {
		vals, err := encodeCursorValues(q.endVals)
		if err != nil {
			return nil, err
		}
		p.EndAt = &pb.Cursor{Values: vals, Before: q.endBefore}
	}
	return p, nil
}

func encodeCursorValues(vals []interface{}) ([]*pb.Value, error) {
	if len(vals) == 0 {
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "empty cursor")
	}
	pvs := make([]*pb.Value, len(vals))
	for i, v := range vals {
		pv, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		pvs[i] = pv
	}
	return pvs, nil
}

// Documents runs the query and returns an iterator over the matching
// documents. LimitToLast queries cannot be streamed; use GetAll for those.
func (q Query) Documents(ctx context.Context) *DocumentIterator {
	if q.limitToLast {
		return &DocumentIterator{err: flerr.Newf(flerr.InvalidArgument, nil,
			"queries with LimitToLast cannot be streamed; use GetAll")}
	}
	return q.docIterator(ctx)
}

func (q Query) docIterator(ctx context.Context) *DocumentIterator {
	it := &DocumentIterator{q: &q}
	sq, err := q.toProto()
	if err != nil {
		it.err = err
		return it
	}
	req := &pb.RunQueryRequest{
		Parent:    q.parentPath,
		QueryType: &pb.RunQueryRequest_StructuredQuery{StructuredQuery: sq},
	}
	ctx, cancel := context.WithCancel(withResourceHeader(ctx, q.c.dbPath))
	sc, err := q.c.c.RunQuery(ctx, req)
	if err != nil {
		cancel()
		it.err = flerr.GRPCError(err, "")
		return it
	}
	it.streamClient = sc
	it.cancel = cancel
	return it
}

// GetAll runs the query and returns all matching documents as one page.
// An empty result set is not an error.
func (q Query) GetAll(ctx context.Context) (_ []*DocumentSnapshot, err error) {
	ctx = q.c.tracer.Start(ctx, "Query.GetAll")
	defer func() { q.c.tracer.End(ctx, err) }()
	it := q.docIterator(ctx)
	defer it.Stop()
	var snaps []*DocumentSnapshot
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if q.limitToLast {
		// The wire request carried reversed sort directions, so the server's
		// page is backwards; restore the caller's order.
		for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
			snaps[i], snaps[j] = snaps[j], snaps[i]
		}
	}
	return snaps, nil
}

// A DocumentIterator iterates over the results of a query.
type DocumentIterator struct {
	q            *Query
	streamClient pb.Firestore_RunQueryClient
	err          error
	// We call cancel to make sure the stream client doesn't leak resources.
	cancel func()
}

// Next returns the next document in the result set, or iterator.Done when
// there are no more.
func (it *DocumentIterator) Next() (*DocumentSnapshot, error) {
	if it.err != nil {
		return nil, it.err
	}
	for {
		res, err := it.streamClient.Recv()
		if err == io.EOF {
			it.err = iterator.Done
			return nil, it.err
		}
		if err != nil {
			it.err = flerr.GRPCError(err, "")
			return nil, it.err
		}
		// No document => partial progress; keep receiving.
		if res.Document == nil {
			continue
		}
		ref, err := it.q.c.docRefFromName(res.Document.Name)
		if err != nil {
			it.err = err
			return nil, err
		}
		return newSnapshot(ref, res.Document, res.ReadTime), nil
	}
}

// Stop stops the iterator, freeing its resources. Always call Stop when you
// are done with an iterator; it is safe to call more than once.
func (it *DocumentIterator) Stop() {
	if it.cancel != nil {
		it.cancel()
	}
}

// docRefFromName converts a full document resource name within this client's
// database back into a DocumentRef.
func (c *Client) docRefFromName(name string) (*DocumentRef, error) {
	rel := strings.TrimPrefix(name, c.docPrefix+"/")
	if rel == name {
		return nil, flerr.Newf(flerr.Internal, nil, "document %q is not in database %q", name, c.dbPath)
	}
	d := c.Doc(rel)
	if d == nil {
		return nil, flerr.Newf(flerr.Internal, nil, "bad document name %q", name)
	}
	return d, nil
}
