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

package oc

import (
	"go.opencensus.io/plugin/ocgrpc"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Tag keys used for the standard metrics.
var (
	// MethodKey is the tag key holding the method name.
	MethodKey = tag.MustNewKey("firelight_method")
	// StatusKey is the tag key holding the method's error code, or OK.
	StatusKey = tag.MustNewKey("firelight_status")
	// ProviderKey is the tag key holding the driver provider name.
	ProviderKey = tag.MustNewKey("firelight_provider")
)

// LatencyMeasure returns the measure for method call latency.
func LatencyMeasure(pkg string) *stats.Float64Measure {
	return stats.Float64(
		pkg+"/latency",
		"Latency of method call",
		stats.UnitMilliseconds)
}

// Views returns the views supported for OpenCensus metrics.
func Views(pkg string, latencyMeasure *stats.Float64Measure) []*view.View {
	return []*view.View{
		{
			Name:        pkg + "/completed_calls",
			Measure:     latencyMeasure,
			Aggregation: view.Count(),
			Description: "Count of method calls by provider, method and status.",
			TagKeys:     []tag.Key{ProviderKey, MethodKey, StatusKey},
		},
		{
			Name:        pkg + "/latency",
			Measure:     latencyMeasure,
			Aggregation: ocgrpc.DefaultMillisecondsDistribution,
			Description: "Distribution of method latency, by provider and method.",
			TagKeys:     []tag.Key{ProviderKey, MethodKey},
		},
	}
}
