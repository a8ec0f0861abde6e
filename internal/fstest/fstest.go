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

// Package fstest provides an in-process fake Firestore server for tests.
// The server is scripted: each expected RPC is registered up front with the
// request to match and the response (or responses, for streaming calls) to
// return.
package fstest

import (
	"context"
	"fmt"
	"net"
	"sync"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
)

const bufSize = 1 << 20

// EndStream ends a scripted streaming response cleanly. Without it a
// scripted Listen stream stays open after its responses are drained, like
// the real service.
type EndStream struct{}

// A Server is a fake Firestore backend served over an in-memory connection.
type Server struct {
	pb.UnimplementedFirestoreServer

	mu       sync.Mutex
	expected []rpc
}

type rpc struct {
	wantReq proto.Message
	adjust  func(gotReq proto.Message)
	resp    interface{}
}

// New starts a fake server and returns it along with a client connection to
// it and a cleanup function.
func New() (*Server, *grpc.ClientConn, func(), error) {
	srv := &Server{}
	lis := bufconn.Listen(bufSize)
	gsrv := grpc.NewServer()
	pb.RegisterFirestoreServer(gsrv, srv)
	go gsrv.Serve(lis)
	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		gsrv.Stop()
		return nil, nil, nil, err
	}
	cleanup := func() {
		conn.Close()
		gsrv.Stop()
	}
	return srv, conn, cleanup, nil
}

// AddRPC registers the next expected request and the response to return for
// it. For unary RPCs resp is the response message or an error. For streaming
// RPCs resp is a []interface{} of response messages, optionally ending in an
// error or an EndStream.
func (s *Server) AddRPC(wantReq proto.Message, resp interface{}) {
	s.AddRPCAdjust(wantReq, resp, nil)
}

// AddRPCAdjust is like AddRPC, but runs adjust on the incoming request
// before comparing it with wantReq. Use it to canonicalize parts of the
// request that the test cannot predict, like generated document names.
func (s *Server) AddRPCAdjust(wantReq proto.Message, resp interface{}, adjust func(gotReq proto.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expected = append(s.expected, rpc{wantReq: wantReq, adjust: adjust, resp: resp})
}

// Remaining reports how many scripted RPCs have not been consumed.
func (s *Server) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expected)
}

func (s *Server) popRPC(gotReq proto.Message) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.expected) == 0 {
		return nil, fmt.Errorf("fstest: unexpected RPC %T: %v", gotReq, gotReq)
	}
	e := s.expected[0]
	s.expected = s.expected[1:]
	if e.adjust != nil {
		e.adjust(gotReq)
	}
	if e.wantReq != nil && !proto.Equal(gotReq, e.wantReq) {
		return nil, fmt.Errorf("fstest: got request\n%v\nwant\n%v", gotReq, e.wantReq)
	}
	return e.resp, nil
}

func (s *Server) BeginTransaction(_ context.Context, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error) {
	res, err := s.popRPC(req)
	if err != nil {
		return nil, err
	}
	if err, ok := res.(error); ok {
		return nil, err
	}
	return res.(*pb.BeginTransactionResponse), nil
}

func (s *Server) Commit(_ context.Context, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	res, err := s.popRPC(req)
	if err != nil {
		return nil, err
	}
	if err, ok := res.(error); ok {
		return nil, err
	}
	return res.(*pb.CommitResponse), nil
}

func (s *Server) Rollback(_ context.Context, req *pb.RollbackRequest) (*emptypb.Empty, error) {
	res, err := s.popRPC(req)
	if err != nil {
		return nil, err
	}
	if err, ok := res.(error); ok {
		return nil, err
	}
	return res.(*emptypb.Empty), nil
}

func (s *Server) BatchGetDocuments(req *pb.BatchGetDocumentsRequest, stream pb.Firestore_BatchGetDocumentsServer) error {
	res, err := s.popRPC(req)
	if err != nil {
		return err
	}
	for _, m := range res.([]interface{}) {
		switch m := m.(type) {
		case error:
			return m
		case *pb.BatchGetDocumentsResponse:
			if err := stream.Send(m); err != nil {
				return err
			}
		default:
			return fmt.Errorf("fstest: bad BatchGetDocuments response type %T", m)
		}
	}
	return nil
}

func (s *Server) RunQuery(req *pb.RunQueryRequest, stream pb.Firestore_RunQueryServer) error {
	res, err := s.popRPC(req)
	if err != nil {
		return err
	}
	for _, m := range res.([]interface{}) {
		switch m := m.(type) {
		case error:
			return m
		case *pb.RunQueryResponse:
			if err := stream.Send(m); err != nil {
				return err
			}
		default:
			return fmt.Errorf("fstest: bad RunQuery response type %T", m)
		}
	}
	return nil
}

func (s *Server) RunAggregationQuery(req *pb.RunAggregationQueryRequest, stream pb.Firestore_RunAggregationQueryServer) error {
	res, err := s.popRPC(req)
	if err != nil {
		return err
	}
	for _, m := range res.([]interface{}) {
		switch m := m.(type) {
		case error:
			return m
		case *pb.RunAggregationQueryResponse:
			if err := stream.Send(m); err != nil {
				return err
			}
		default:
			return fmt.Errorf("fstest: bad RunAggregationQuery response type %T", m)
		}
	}
	return nil
}

// Listen receives the target registration, then plays back the scripted
// responses. After they are drained the stream stays open until the client
// goes away, unless the script ends with an EndStream or an error.
func (s *Server) Listen(stream pb.Firestore_ListenServer) error {
	req, err := stream.Recv()
	if err != nil {
		return err
	}
	res, err := s.popRPC(req)
	if err != nil {
		return err
	}
	for _, m := range res.([]interface{}) {
		switch m := m.(type) {
		case error:
			return m
		case EndStream:
			return nil
		case *pb.ListenResponse:
			if err := stream.Send(m); err != nil {
				return err
			}
		default:
			return fmt.Errorf("fstest: bad Listen response type %T", m)
		}
	}
	<-stream.Context().Done()
	return stream.Context().Err()
}
