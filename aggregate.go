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

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/quarrylabs/firelight/internal/flerr"
)

// An AggregationQuery computes scalar aggregations (count, sum, average)
// over the documents matching a query, without returning the documents
// themselves. Aggregations do not support cursors; any cursors on the
// underlying query are dropped.
type AggregationQuery struct {
	query Query
	aggs  []*pb.StructuredAggregationQuery_Aggregation
}

// NewAggregationQuery returns an AggregationQuery over the query's results.
// At least one aggregation must be added before calling Get.
func (q Query) NewAggregationQuery() *AggregationQuery {
	return &AggregationQuery{query: q}
}

// WithCount adds a count of the matching documents, under the alias "count".
func (a *AggregationQuery) WithCount() *AggregationQuery {
	return a.WithCountAlias("count")
}

// WithCountAlias adds a count of the matching documents under the given alias.
func (a *AggregationQuery) WithCountAlias(alias string) *AggregationQuery {
	a.aggs = append(a.aggs, &pb.StructuredAggregationQuery_Aggregation{
		Alias: alias,
		Operator: &pb.StructuredAggregationQuery_Aggregation_Count_{
			Count: &pb.StructuredAggregationQuery_Aggregation_Count{},
		},
	})
	return a
}

// WithSum adds a sum of the values of the given field, under the alias
// "sum_<field>".
func (a *AggregationQuery) WithSum(path string) *AggregationQuery {
	return a.WithSumAlias(path, "sum_"+path)
}

// WithSumAlias adds a sum of the values of the given field under the given
// alias.
func (a *AggregationQuery) WithSumAlias(path, alias string) *AggregationQuery {
	a.aggs = append(a.aggs, &pb.StructuredAggregationQuery_Aggregation{
		Alias: alias,
		Operator: &pb.StructuredAggregationQuery_Aggregation_Sum_{
			Sum: &pb.StructuredAggregationQuery_Aggregation_Sum{Field: fieldRef(path)},
		},
	})
	return a
}

// WithAvg adds an average of the values of the given field, under the alias
// "average_<field>".
func (a *AggregationQuery) WithAvg(path string) *AggregationQuery {
	return a.WithAvgAlias(path, "average_"+path)
}

// WithAvgAlias adds an average of the values of the given field under the
// given alias.
func (a *AggregationQuery) WithAvgAlias(path, alias string) *AggregationQuery {
	a.aggs = append(a.aggs, &pb.StructuredAggregationQuery_Aggregation{
		Alias: alias,
		Operator: &pb.StructuredAggregationQuery_Aggregation_Avg_{
			Avg: &pb.StructuredAggregationQuery_Aggregation_Avg{Field: fieldRef(path)},
		},
	})
	return a
}

// Get runs the aggregation query. The result maps each aggregation's alias
// to its scalar value. A response stream with no aggregation data yields an
// empty, non-error result.
func (a *AggregationQuery) Get(ctx context.Context) (_ AggregationResult, err error) {
	c := a.query.c
	ctx = c.tracer.Start(ctx, "AggregationQuery.Get")
	defer func() { c.tracer.End(ctx, err) }()
	if len(a.aggs) == 0 {
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "aggregation query without aggregations")
	}
	sq, err := a.query.toProto()
	if err != nil {
		return nil, err
	}
	sq.StartAt, sq.EndAt = nil, nil
	req := &pb.RunAggregationQueryRequest{
		Parent: a.query.parentPath,
		QueryType: &pb.RunAggregationQueryRequest_StructuredAggregationQuery{
			StructuredAggregationQuery: &pb.StructuredAggregationQuery{
				QueryType: &pb.StructuredAggregationQuery_StructuredQuery{
					StructuredQuery: sq,
				},
				Aggregations: a.aggs,
			},
		},
	}
	ctx, cancel := context.WithCancel(withResourceHeader(ctx, c.dbPath))
	defer cancel()
	streamClient, err := c.c.RunAggregationQuery(ctx, req)
	if err != nil {
		return nil, flerr.GRPCError(err, "")
	}
	// An aggregation result is a one-shot map: decode exactly the first
	// message that carries one.
	for {
		resp, err := streamClient.Recv()
		if err == io.EOF {
			return AggregationResult{}, nil
		}
		if err != nil {
			return nil, flerr.GRPCError(err, "")
		}
		if resp.Result == nil {
			continue
		}
		return AggregationResult(resp.Result.AggregateFields), nil
	}
}

// An AggregationResult maps aggregation aliases to their computed values.
type AggregationResult map[string]*pb.Value

// Count returns the value of the default "count" aggregation.
func (r AggregationResult) Count() (int64, error) {
	return r.GetInt("count")
}

// GetInt returns the integer value of the aggregation with the given alias.
func (r AggregationResult) GetInt(alias string) (int64, error) {
	pv, err := r.value(alias)
	if err != nil {
		return 0, err
	}
	iv, ok := pv.ValueType.(*pb.Value_IntegerValue)
	if !ok {
		return 0, flerr.Newf(flerr.InvalidArgument, nil, "aggregation %q is not an integer: %v", alias, pv)
	}
	return iv.IntegerValue, nil
}

// GetDouble returns the floating-point value of the aggregation with the
// given alias. An integer-valued aggregation is converted.
func (r AggregationResult) GetDouble(alias string) (float64, error) {
	pv, err := r.value(alias)
	if err != nil {
		return 0, err
	}
	switch v := pv.ValueType.(type) {
	case *pb.Value_DoubleValue:
		return v.DoubleValue, nil
	case *pb.Value_IntegerValue:
		return float64(v.IntegerValue), nil
	default:
		return 0, flerr.Newf(flerr.InvalidArgument, nil, "aggregation %q is not numeric: %v", alias, pv)
	}
}

// Get returns the value of the aggregation with the given alias as a native
// Go value.
func (r AggregationResult) Get(alias string) (interface{}, error) {
	pv, err := r.value(alias)
	if err != nil {
		return nil, err
	}
	return decodeValue(pv)
}

func (r AggregationResult) value(alias string) (*pb.Value, error) {
	pv, ok := r[alias]
	if !ok {
		return nil, flerr.Newf(flerr.NotFound, nil, "no aggregation result under alias %q", alias)
	}
	return pv, nil
}
