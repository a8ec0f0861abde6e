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

	vkit "cloud.google.com/go/firestore/apiv1"
	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/quarrylabs/firelight/internal/fstest"
	"google.golang.org/api/option"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
)

// newTestClient returns a Client backed by a scripted in-process server.
func newTestClient(t *testing.T) (*Client, *fstest.Server) {
	t.Helper()
	srv, conn, cleanup, err := fstest.New()
	if err != nil {
		t.Fatal(err)
	}
	vc, err := vkit.NewClient(context.Background(), option.WithGRPCConn(conn))
	if err != nil {
		cleanup()
		t.Fatal(err)
	}
	c, err := NewClient(vc, "P", "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		vc.Close()
		cleanup()
	})
	return c, srv
}

var testTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func intval(i int64) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_IntegerValue{IntegerValue: i}}
}

func strval(s string) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_StringValue{StringValue: s}}
}

func floatval(f float64) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_DoubleValue{DoubleValue: f}}
}

// testDoc builds a document proto under the client's database with the given
// relative path.
func testDoc(c *Client, relPath string, fields map[string]*pb.Value) *pb.Document {
	return &pb.Document{
		Name:       c.docPrefix + "/" + relPath,
		Fields:     fields,
		CreateTime: tspb.New(testTime),
		UpdateTime: tspb.New(testTime),
	}
}
