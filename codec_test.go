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
	"testing"
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/go-cmp/cmp"
	"github.com/quarrylabs/firelight/flerrors"
	"google.golang.org/genproto/googleapis/type/latlng"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
)

func boolval(b bool) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_BooleanValue{BooleanValue: b}}
}

func bytesval(b []byte) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_BytesValue{BytesValue: b}}
}

func tsval(t time.Time) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: tspb.New(t)}}
}

func arrayval(vs ...*pb.Value) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{Values: vs}}}
}

func mapval(m map[string]*pb.Value) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_MapValue{MapValue: &pb.MapValue{Fields: m}}}
}

func geoval(lat, lng float64) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_GeoPointValue{GeoPointValue: &latlng.LatLng{Latitude: lat, Longitude: lng}}}
}

func TestEncodeValue(t *testing.T) {
	seven := 7
	for _, test := range []struct {
		in   interface{}
		want *pb.Value
	}{
		{nil, nullValue},
		{true, boolval(true)},
		{3, intval(3)},
		{uint8(3), intval(3)},
		{1.5, floatval(1.5)},
		{"str", strval("str")},
		{[]byte{1, 2}, bytesval([]byte{1, 2})},
		{testTime, tsval(testTime)},
		{tspb.New(testTime), tsval(testTime)},
		{&latlng.LatLng{Latitude: 1, Longitude: 2}, geoval(1, 2)},
		{[]int{1, 2}, arrayval(intval(1), intval(2))},
		{[2]string{"a", "b"}, arrayval(strval("a"), strval("b"))},
		{map[string]interface{}{"a": 1, "b": nil}, mapval(map[string]*pb.Value{"a": intval(1), "b": nullValue})},
		{&seven, intval(7)},
		{(*int)(nil), nullValue},
	} {
		got, err := encodeValue(test.in)
		if err != nil {
			t.Errorf("%v: %v", test.in, err)
			continue
		}
		if diff := cmp.Diff(got, test.want, protoCmp); diff != "" {
			t.Errorf("%v: (-got, +want)\n%s", test.in, diff)
		}
	}
}

func TestEncodeValueErrors(t *testing.T) {
	for _, in := range []interface{}{
		make(chan int),
		func() {},
		map[int]string{1: "x"},
	} {
		if _, err := encodeValue(in); flerrors.Code(err) != flerrors.InvalidArgument {
			t.Errorf("%v: got %v, want InvalidArgument", in, err)
		}
	}
}

func TestEncodeStruct(t *testing.T) {
	type inner struct {
		N int
	}
	type s struct {
		Exported   string
		Renamed    int    `firestore:"r"`
		Omitted    string `firestore:"-"`
		unexported int
		Nested     inner
	}
	got, err := encodeValue(s{Exported: "e", Renamed: 1, Omitted: "o", unexported: 2, Nested: inner{N: 3}})
	if err != nil {
		t.Fatal(err)
	}
	want := mapval(map[string]*pb.Value{
		"Exported": strval("e"),
		"r":        intval(1),
		"Nested":   mapval(map[string]*pb.Value{"N": intval(3)}),
	})
	if diff := cmp.Diff(got, want, protoCmp); diff != "" {
		t.Errorf("(-got, +want)\n%s", diff)
	}
}

func TestEncodeFieldsRejectsScalars(t *testing.T) {
	for _, in := range []interface{}{3, "x", []int{1}} {
		if _, err := encodeFields(in); flerrors.Code(err) != flerrors.InvalidArgument {
			t.Errorf("%v: got %v, want InvalidArgument", in, err)
		}
	}
}

func TestDecodeValue(t *testing.T) {
	for _, test := range []struct {
		in   *pb.Value
		want interface{}
	}{
		{nullValue, nil},
		{boolval(true), true},
		{intval(3), int64(3)},
		{floatval(1.5), 1.5},
		{strval("str"), "str"},
		{tsval(testTime), testTime},
		{arrayval(intval(1), strval("x")), []interface{}{int64(1), "x"}},
		{mapval(map[string]*pb.Value{"a": intval(1)}), map[string]interface{}{"a": int64(1)}},
	} {
		got, err := decodeValue(test.in)
		if err != nil {
			t.Errorf("%v: %v", test.in, err)
			continue
		}
		if diff := cmp.Diff(got, test.want); diff != "" {
			t.Errorf("%v: (-got, +want)\n%s", test.in, diff)
		}
	}
}

func TestDecodeValueReference(t *testing.T) {
	rv := &pb.Value{ValueType: &pb.Value_ReferenceValue{ReferenceValue: "projects/P/databases/D/documents/C/d"}}
	if _, err := decodeValue(rv); flerrors.Code(err) != flerrors.Unimplemented {
		t.Errorf("got %v, want Unimplemented", err)
	}
}

func TestCompareValues(t *testing.T) {
	// Ordered from least to greatest; adjacent pairs of equal rank share a
	// sub-slice.
	groups := [][]*pb.Value{
		{nil},
		{nullValue},
		{boolval(false)},
		{boolval(true)},
		{floatval(-1.5)},
		{intval(0), floatval(0)}, // integers and doubles compare as one numeric type
		{intval(7), floatval(7)},
		{tsval(testTime)},
		{tsval(testTime.Add(time.Second))},
		{strval("")},
		{strval("a")},
		{strval("b")},
		{bytesval([]byte{0})},
		{bytesval([]byte{0, 1})},
		{geoval(1, 2)},
		{geoval(1, 3)},
		{geoval(2, 0)},
		{arrayval(intval(1))},
		{arrayval(intval(1), intval(2))},
		{arrayval(intval(2))},
		{mapval(map[string]*pb.Value{"a": intval(1)})},
		{mapval(map[string]*pb.Value{"a": intval(2)})},
		{mapval(map[string]*pb.Value{"b": intval(0)})},
	}
	for i, g1 := range groups {
		for _, v1 := range g1 {
			for _, v2 := range g1 {
				if got := compareValues(v1, v2); got != 0 {
					t.Errorf("compare(%v, %v) = %d, want 0", v1, v2, got)
				}
			}
			for _, g2 := range groups[i+1:] {
				for _, v2 := range g2 {
					if got := compareValues(v1, v2); got >= 0 {
						t.Errorf("compare(%v, %v) = %d, want negative", v1, v2, got)
					}
					if got := compareValues(v2, v1); got <= 0 {
						t.Errorf("compare(%v, %v) = %d, want positive", v2, v1, got)
					}
				}
			}
		}
	}
}

func TestToServiceFieldPath(t *testing.T) {
	for _, test := range []struct {
		in   []string
		want string
	}{
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a.b"},
		{[]string{"a-b"}, "`a-b`"},
		{[]string{"a`b"}, "`a\\`b`"},
		{[]string{"a\\b"}, "`a\\\\b`"},
		{[]string{"2a"}, "`2a`"},
	} {
		if got := toServiceFieldPath(test.in); got != test.want {
			t.Errorf("%v: got %q, want %q", test.in, got, test.want)
		}
	}
}
