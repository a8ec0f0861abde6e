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

// Encoding and decoding between native Go values and Firestore Value protos.

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/quarrylabs/firelight/internal/flerr"
	"google.golang.org/genproto/googleapis/type/latlng"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
)

var nullValue = &pb.Value{ValueType: &pb.Value_NullValue{}}

var (
	typeOfGoTime         = reflect.TypeOf(time.Time{})
	typeOfProtoTimestamp = reflect.TypeOf((*tspb.Timestamp)(nil))
	typeOfLatLng         = reflect.TypeOf((*latlng.LatLng)(nil))
)

// encodeFields encodes document data (a map with string keys, or a struct)
// into Firestore's field-map representation.
func encodeFields(x interface{}) (map[string]*pb.Value, error) {
	pv, err := encodeValue(x)
	if err != nil {
		return nil, err
	}
	mv := pv.GetMapValue()
	if mv == nil {
		return nil, flerr.Newf(flerr.InvalidArgument, nil,
			"document data must be a map with string keys or a struct, got %T", x)
	}
	return mv.Fields, nil
}

// encodeValue encodes a Go value as a Firestore Value.
// The Firestore proto definition for Value is a oneof of various types,
// including basic types like string as well as lists and maps.
func encodeValue(x interface{}) (*pb.Value, error) {
	return encodeReflect(reflect.ValueOf(x))
}

func encodeReflect(v reflect.Value) (*pb.Value, error) {
	if !v.IsValid() {
		return nullValue, nil
	}
	// time.Time, *tspb.Timestamp and *latlng.LatLng encode specially, because
	// Firestore has first-class timestamp and geo-point values.
	switch v.Type() {
	case typeOfGoTime:
		return &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: tspb.New(v.Interface().(time.Time))}}, nil
	case typeOfProtoTimestamp:
		if v.IsNil() {
			return nullValue, nil
		}
		return &pb.Value{ValueType: &pb.Value_TimestampValue{TimestampValue: v.Interface().(*tspb.Timestamp)}}, nil
	case typeOfLatLng:
		if v.IsNil() {
			return nullValue, nil
		}
		return &pb.Value{ValueType: &pb.Value_GeoPointValue{GeoPointValue: v.Interface().(*latlng.LatLng)}}, nil
	}
	switch v.Kind() {
	case reflect.Bool:
		return &pb.Value{ValueType: &pb.Value_BooleanValue{BooleanValue: v.Bool()}}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &pb.Value{ValueType: &pb.Value_IntegerValue{IntegerValue: v.Int()}}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &pb.Value{ValueType: &pb.Value_IntegerValue{IntegerValue: int64(v.Uint())}}, nil
	case reflect.Float32, reflect.Float64:
		return &pb.Value{ValueType: &pb.Value_DoubleValue{DoubleValue: v.Float()}}, nil
	case reflect.String:
		return &pb.Value{ValueType: &pb.Value_StringValue{StringValue: v.String()}}, nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return &pb.Value{ValueType: &pb.Value_BytesValue{BytesValue: v.Bytes()}}, nil
		}
		return encodeArray(v)
	case reflect.Array:
		return encodeArray(v)
	case reflect.Map:
		return encodeMap(v)
	case reflect.Struct:
		return encodeStruct(v)
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return nullValue, nil
		}
		return encodeReflect(v.Elem())
	default:
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "cannot encode value of type %s", v.Type())
	}
}

func encodeArray(v reflect.Value) (*pb.Value, error) {
	vals := make([]*pb.Value, v.Len())
	for i := 0; i < v.Len(); i++ {
		pv, err := encodeReflect(v.Index(i))
		if err != nil {
			return nil, err
		}
		vals[i] = pv
	}
	return &pb.Value{ValueType: &pb.Value_ArrayValue{ArrayValue: &pb.ArrayValue{Values: vals}}}, nil
}

func encodeMap(v reflect.Value) (*pb.Value, error) {
	if v.Type().Key().Kind() != reflect.String {
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "map key type %s is not a string", v.Type().Key())
	}
	m := make(map[string]*pb.Value, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		pv, err := encodeReflect(iter.Value())
		if err != nil {
			return nil, err
		}
		m[iter.Key().String()] = pv
	}
	return &pb.Value{ValueType: &pb.Value_MapValue{MapValue: &pb.MapValue{Fields: m}}}, nil
}

// encodeStruct encodes the exported fields of a struct. The "firestore"
// struct tag renames a field; "-" omits it.
func encodeStruct(v reflect.Value) (*pb.Value, error) {
	t := v.Type()
	m := make(map[string]*pb.Value, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("firestore"); ok {
			tagName := strings.Split(tag, ",")[0]
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		pv, err := encodeReflect(v.Field(i))
		if err != nil {
			return nil, err
		}
		m[name] = pv
	}
	return &pb.Value{ValueType: &pb.Value_MapValue{MapValue: &pb.MapValue{Fields: m}}}, nil
}

////////////////////////////////////////////////////////////////

// decodeFields decodes a Firestore field map into native Go values.
func decodeFields(fields map[string]*pb.Value) (map[string]interface{}, error) {
	m := make(map[string]interface{}, len(fields))
	for k, pv := range fields {
		v, err := decodeValue(pv)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// decodeValue decodes a Firestore Value into the most appropriate Go type.
func decodeValue(v *pb.Value) (interface{}, error) {
	switch v := v.ValueType.(type) {
	case *pb.Value_NullValue:
		return nil, nil
	case *pb.Value_BooleanValue:
		return v.BooleanValue, nil
	case *pb.Value_IntegerValue:
		return v.IntegerValue, nil
	case *pb.Value_DoubleValue:
		return v.DoubleValue, nil
	case *pb.Value_StringValue:
		return v.StringValue, nil
	case *pb.Value_BytesValue:
		return v.BytesValue, nil
	case *pb.Value_TimestampValue:
		// Return TimestampValue as time.Time.
		return v.TimestampValue.AsTime(), nil
	case *pb.Value_ReferenceValue:
		return nil, flerr.Newf(flerr.Unimplemented, nil, "references are not supported")
	case *pb.Value_GeoPointValue:
		// Return GeoPointValue as *latlng.LatLng.
		return v.GeoPointValue, nil
	case *pb.Value_ArrayValue:
		s := make([]interface{}, len(v.ArrayValue.Values))
		for i, pv := range v.ArrayValue.Values {
			e, err := decodeValue(pv)
			if err != nil {
				return nil, err
			}
			s[i] = e
		}
		return s, nil
	case *pb.Value_MapValue:
		return decodeFields(v.MapValue.Fields)
	}
	return nil, flerr.Newf(flerr.Internal, nil, "unknown firestore value type %T", v.ValueType)
}

////////////////////////////////////////////////////////////////
// Value ordering, used by the listener accumulator to sort query results.
// Values of different types order by a fixed type ranking; integers and
// doubles compare as one numeric type.

func typeOrder(v *pb.Value) int {
	switch v.ValueType.(type) {
	case *pb.Value_NullValue:
		return 0
	case *pb.Value_BooleanValue:
		return 1
	case *pb.Value_IntegerValue, *pb.Value_DoubleValue:
		return 2
	case *pb.Value_TimestampValue:
		return 3
	case *pb.Value_StringValue:
		return 4
	case *pb.Value_BytesValue:
		return 5
	case *pb.Value_ReferenceValue:
		return 6
	case *pb.Value_GeoPointValue:
		return 7
	case *pb.Value_ArrayValue:
		return 8
	case *pb.Value_MapValue:
		return 9
	default:
		panic(fmt.Sprintf("unknown value type %T", v.ValueType))
	}
}

// compareValues returns a negative number, zero, or a positive number
// depending on whether a is less than, equal to, or greater than b.
// A nil value sorts before everything.
func compareValues(a, b *pb.Value) int {
	if a == nil || b == nil {
		return compareBools(a != nil, b != nil)
	}
	ta, tb := typeOrder(a), typeOrder(b)
	if ta != tb {
		return compareInts(int64(ta), int64(tb))
	}
	switch av := a.ValueType.(type) {
	case *pb.Value_NullValue:
		return 0
	case *pb.Value_BooleanValue:
		return compareBools(av.BooleanValue, b.GetBooleanValue())
	case *pb.Value_IntegerValue, *pb.Value_DoubleValue:
		return compareFloats(numericValue(a), numericValue(b))
	case *pb.Value_TimestampValue:
		at, bt := av.TimestampValue.AsTime(), b.GetTimestampValue().AsTime()
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	case *pb.Value_StringValue:
		return strings.Compare(av.StringValue, b.GetStringValue())
	case *pb.Value_BytesValue:
		return bytes.Compare(av.BytesValue, b.GetBytesValue())
	case *pb.Value_ReferenceValue:
		return strings.Compare(av.ReferenceValue, b.GetReferenceValue())
	case *pb.Value_GeoPointValue:
		ag, bg := av.GeoPointValue, b.GetGeoPointValue()
		if c := compareFloats(ag.Latitude, bg.Latitude); c != 0 {
			return c
		}
		return compareFloats(ag.Longitude, bg.Longitude)
	case *pb.Value_ArrayValue:
		as, bs := av.ArrayValue.Values, b.GetArrayValue().Values
		for i := 0; i < len(as) && i < len(bs); i++ {
			if c := compareValues(as[i], bs[i]); c != 0 {
				return c
			}
		}
		return compareInts(int64(len(as)), int64(len(bs)))
	case *pb.Value_MapValue:
		return compareMaps(av.MapValue.Fields, b.GetMapValue().Fields)
	default:
		panic(fmt.Sprintf("unknown value type %T", a.ValueType))
	}
}

// compareMaps compares maps entry by entry in key order.
func compareMaps(a, b map[string]*pb.Value) int {
	ak, bk := sortedKeys(a), sortedKeys(b)
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := strings.Compare(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := compareValues(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return compareInts(int64(len(ak)), int64(len(bk)))
}

func sortedKeys(m map[string]*pb.Value) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

func numericValue(v *pb.Value) float64 {
	if iv, ok := v.ValueType.(*pb.Value_IntegerValue); ok {
		return float64(iv.IntegerValue)
	}
	return v.GetDoubleValue()
}

func compareBools(a, b bool) int {
	switch {
	case !a && b:
		return -1
	case a && !b:
		return 1
	default:
		return 0
	}
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
