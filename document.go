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
	"bytes"
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	pb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"
	"github.com/quarrylabs/firelight/internal/flerr"
	tspb "google.golang.org/protobuf/types/known/timestamppb"
)

// A CollectionRef refers to a Firestore collection. It embeds a Query
// matching all of the collection's documents, so query builder methods can be
// called on it directly.
type CollectionRef struct {
	c *Client

	// Parent is the document that contains this collection, or nil for a
	// top-level collection.
	Parent *DocumentRef

	// Path is the full resource path of the collection.
	Path string

	// ID is the collection's identifier, the last component of Path.
	ID string

	Query
}

func newTopLevelCollRef(c *Client, id string) *CollectionRef {
	return &CollectionRef{
		c:    c,
		ID:   id,
		Path: c.docPrefix + "/" + id,
		Query: Query{
			c:            c,
			parentPath:   c.docPrefix,
			collectionID: id,
		},
	}
}

func newCollRefWithParent(c *Client, parent *DocumentRef, id string) *CollectionRef {
	return &CollectionRef{
		c:      c,
		Parent: parent,
		ID:     id,
		Path:   parent.Path + "/" + id,
		Query: Query{
			c:            c,
			parentPath:   parent.Path,
			collectionID: id,
		},
	}
}

// Doc returns a reference to the document with the given ID in the
// collection, or nil if the ID is empty or contains a slash.
func (c *CollectionRef) Doc(id string) *DocumentRef {
	if c == nil || id == "" || strings.ContainsRune(id, '/') {
		return nil
	}
	return newDocRef(c, id)
}

// NewDoc returns a reference to a document in the collection with a fresh
// unique ID.
func (c *CollectionRef) NewDoc() *DocumentRef {
	return c.Doc(uuid.New().String())
}

// Add generates a DocumentRef with a unique ID and creates the document with
// the given data.
func (c *CollectionRef) Add(ctx context.Context, data interface{}) (*DocumentRef, *WriteResult, error) {
	d := c.NewDoc()
	wr, err := d.Create(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	return d, wr, nil
}

// A DocumentRef refers to a Firestore document.
type DocumentRef struct {
	// Parent is the collection that contains the document.
	Parent *CollectionRef

	// Path is the full resource path of the document.
	Path string

	// ID is the document's identifier, the last component of Path.
	ID string
}

func newDocRef(parent *CollectionRef, id string) *DocumentRef {
	return &DocumentRef{
		Parent: parent,
		ID:     id,
		Path:   parent.Path + "/" + id,
	}
}

// Collection returns a reference to the named subcollection of the document,
// or nil if the ID is empty or contains a slash.
func (d *DocumentRef) Collection(id string) *CollectionRef {
	if d == nil || id == "" || strings.ContainsRune(id, '/') {
		return nil
	}
	return newCollRefWithParent(d.Parent.c, d, id)
}

var errNilDocRef = flerr.Newf(flerr.InvalidArgument, nil, "nil DocumentRef")

// Get retrieves the document. If the document does not exist, Get returns a
// NotFound error and a snapshot whose Exists method reports false.
func (d *DocumentRef) Get(ctx context.Context) (_ *DocumentSnapshot, err error) {
	if d == nil {
		return nil, errNilDocRef
	}
	c := d.Parent.c
	ctx = c.tracer.Start(ctx, "DocumentRef.Get")
	defer func() { c.tracer.End(ctx, err) }()
	snaps, err := c.getAll(ctx, []*DocumentRef{d}, nil)
	if err != nil {
		return nil, err
	}
	snap := snaps[0]
	if !snap.Exists() {
		return snap, flerr.Newf(flerr.NotFound, nil, "document %q is missing", d.Path)
	}
	return snap, nil
}

// Create creates the document with the given data. It fails with an
// AlreadyExists error if the document exists.
func (d *DocumentRef) Create(ctx context.Context, data interface{}) (_ *WriteResult, err error) {
	if d == nil {
		return nil, errNilDocRef
	}
	c := d.Parent.c
	ctx = c.tracer.Start(ctx, "DocumentRef.Create")
	defer func() { c.tracer.End(ctx, err) }()
	w, err := d.newCreateWrite(data)
	if err != nil {
		return nil, err
	}
	return c.commit1(ctx, w)
}

// Set creates or replaces the document with the given data.
func (d *DocumentRef) Set(ctx context.Context, data interface{}) (_ *WriteResult, err error) {
	if d == nil {
		return nil, errNilDocRef
	}
	c := d.Parent.c
	ctx = c.tracer.Start(ctx, "DocumentRef.Set")
	defer func() { c.tracer.End(ctx, err) }()
	w, err := d.newSetWrite(data)
	if err != nil {
		return nil, err
	}
	return c.commit1(ctx, w)
}

// Update modifies individual fields of the document. It fails with a NotFound
// error if the document does not exist.
func (d *DocumentRef) Update(ctx context.Context, updates []Update) (_ *WriteResult, err error) {
	if d == nil {
		return nil, errNilDocRef
	}
	c := d.Parent.c
	ctx = c.tracer.Start(ctx, "DocumentRef.Update")
	defer func() { c.tracer.End(ctx, err) }()
	w, err := d.newUpdateWrite(updates)
	if err != nil {
		return nil, err
	}
	return c.commit1(ctx, w)
}

// Delete deletes the document. Deleting a document that does not exist is not
// an error.
func (d *DocumentRef) Delete(ctx context.Context) (_ *WriteResult, err error) {
	if d == nil {
		return nil, errNilDocRef
	}
	c := d.Parent.c
	ctx = c.tracer.Start(ctx, "DocumentRef.Delete")
	defer func() { c.tracer.End(ctx, err) }()
	return c.commit1(ctx, d.newDeleteWrite())
}

// An Update describes one change to apply to a document's field.
// Use the Delete sentinel as Value to delete the field.
type Update struct {
	// FieldPath is a dot-separated field path, e.g. "a" or "a.b".
	FieldPath string
	Value     interface{}
}

type sentinel int

// Delete is used as the value in a call to Update to indicate that the
// corresponding field should be deleted.
const Delete sentinel = iota

////////////////////////////////////////////////////////////////
// Write intent construction. These builders are shared by the one-shot CRUD
// calls, WriteBatch and Transaction; they never issue RPCs.

func (d *DocumentRef) newSetWrite(data interface{}) (*pb.Write, error) {
	fields, err := encodeFields(data)
	if err != nil {
		return nil, err
	}
	return &pb.Write{
		Operation: &pb.Write_Update{Update: &pb.Document{
			Name:   d.Path,
			Fields: fields,
		}},
	}, nil
}

func (d *DocumentRef) newCreateWrite(data interface{}) (*pb.Write, error) {
	w, err := d.newSetWrite(data)
	if err != nil {
		return nil, err
	}
	w.CurrentDocument = &pb.Precondition{ConditionType: &pb.Precondition_Exists{Exists: false}}
	return w, nil
}

func (d *DocumentRef) newDeleteWrite() *pb.Write {
	return &pb.Write{
		Operation: &pb.Write_Delete{Delete: d.Path},
	}
}

// newUpdateWrite builds an update write: a document carrying the fields to
// set, plus a mask with the field paths of everything set or deleted.
func (d *DocumentRef) newUpdateWrite(updates []Update) (*pb.Write, error) {
	if len(updates) == 0 {
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "no updates given for %q", d.Path)
	}
	fields := map[string]*pb.Value{}
	var maskPaths []string
	for _, u := range updates {
		fp := strings.Split(u.FieldPath, ".")
		maskPaths = append(maskPaths, toServiceFieldPath(fp))
		// A Delete sentinel puts the field in the mask but not in the document.
		if u.Value == Delete {
			continue
		}
		pv, err := encodeValue(u.Value)
		if err != nil {
			return nil, err
		}
		if err := setAtFieldPath(fields, fp, pv); err != nil {
			return nil, err
		}
	}
	return &pb.Write{
		Operation: &pb.Write_Update{Update: &pb.Document{
			Name:   d.Path,
			Fields: fields,
		}},
		UpdateMask:      &pb.DocumentMask{FieldPaths: maskPaths},
		CurrentDocument: &pb.Precondition{ConditionType: &pb.Precondition_Exists{Exists: true}},
	}, nil
}

// setAtFieldPath sets m's value at fp to val. It creates intermediate maps as
// needed. It returns an error if a non-final component of fp does not denote a map.
func setAtFieldPath(m map[string]*pb.Value, fp []string, val *pb.Value) error {
	for _, k := range fp[:len(fp)-1] {
		if m[k] == nil {
			m[k] = &pb.Value{ValueType: &pb.Value_MapValue{MapValue: &pb.MapValue{Fields: map[string]*pb.Value{}}}}
		}
		mv := m[k].GetMapValue()
		if mv == nil {
			return flerr.Newf(flerr.InvalidArgument, nil, "invalid field path %q at %q", strings.Join(fp, "."), k)
		}
		m = mv.Fields
	}
	m[fp[len(fp)-1]] = val
	return nil
}

// toServiceFieldPath converts a field path, a slice of components, into the
// kind of field path that the Firestore service expects: a string of
// dot-separated components, some of which may be quoted.
func toServiceFieldPath(fp []string) string {
	cs := make([]string, len(fp))
	for i, c := range fp {
		cs[i] = toServiceFieldPathComponent(c)
	}
	return strings.Join(cs, ".")
}

// Google SQL syntax for an unquoted field.
var unquotedFieldRE = regexp.MustCompile("^[A-Za-z_][A-Za-z_0-9]*$")

// toServiceFieldPathComponent returns a string that represents key and is a
// valid Firestore field path component. Components must be quoted with
// backticks if they don't match the above regexp.
func toServiceFieldPathComponent(key string) string {
	if unquotedFieldRE.MatchString(key) {
		return key
	}
	var buf bytes.Buffer
	buf.WriteRune('`')
	for _, r := range key {
		if r == '`' || r == '\\' {
			buf.WriteRune('\\')
		}
		buf.WriteRune(r)
	}
	buf.WriteRune('`')
	return buf.String()
}

////////////////////////////////////////////////////////////////
// Snapshots and RPC plumbing.

// A DocumentSnapshot is a point-in-time view of a single document. It is
// produced fresh on every read or listener event and never mutated.
type DocumentSnapshot struct {
	// Ref is the document the snapshot describes.
	Ref *DocumentRef

	// CreateTime and UpdateTime are the server timestamps of the document's
	// creation and last change. They are zero if the document does not exist.
	CreateTime time.Time
	UpdateTime time.Time

	// ReadTime is the time at which this snapshot's view was consistent.
	ReadTime time.Time

	// HasPendingWrites and FromCache mirror the protocol's snapshot metadata
	// flags. Direct reads always report false for both.
	HasPendingWrites bool
	FromCache        bool

	proto *pb.Document // nil if the document does not exist
}

// Exists reports whether the document existed at ReadTime.
func (d *DocumentSnapshot) Exists() bool {
	return d.proto != nil
}

// Data returns the document's fields as native Go values, or nil if the
// document does not exist.
func (d *DocumentSnapshot) Data() (map[string]interface{}, error) {
	if d.proto == nil {
		return nil, nil
	}
	return decodeFields(d.proto.Fields)
}

// DataAt returns the value of the field at the given dot-separated path.
// It fails with a NotFound error if the document or field does not exist.
func (d *DocumentSnapshot) DataAt(fieldPath string) (interface{}, error) {
	pv := d.fieldValue(strings.Split(fieldPath, "."))
	if pv == nil {
		return nil, flerr.Newf(flerr.NotFound, nil, "no field %q in document %q", fieldPath, d.Ref.Path)
	}
	return decodeValue(pv)
}

// fieldValue returns the proto value at fp, or nil if absent.
func (d *DocumentSnapshot) fieldValue(fp []string) *pb.Value {
	if d.proto == nil {
		return nil
	}
	fields := d.proto.Fields
	var pv *pb.Value
	for _, k := range fp {
		if fields == nil {
			return nil
		}
		pv = fields[k]
		if pv == nil {
			return nil
		}
		fields = pv.GetMapValue().GetFields()
	}
	return pv
}

func newSnapshot(ref *DocumentRef, pdoc *pb.Document, readTime *tspb.Timestamp) *DocumentSnapshot {
	s := &DocumentSnapshot{
		Ref:   ref,
		proto: pdoc,
	}
	if pdoc != nil {
		s.CreateTime = pdoc.CreateTime.AsTime()
		s.UpdateTime = pdoc.UpdateTime.AsTime()
	}
	if readTime != nil {
		s.ReadTime = readTime.AsTime()
	}
	return s
}

// A WriteResult is returned by methods that write documents.
type WriteResult struct {
	// UpdateTime is the time at which the document was changed on the server.
	UpdateTime time.Time
}

func writeResultFromProto(wr *pb.WriteResult) *WriteResult {
	return &WriteResult{UpdateTime: wr.UpdateTime.AsTime()}
}

// getAll retrieves the documents for refs via one BatchGetDocuments RPC,
// scoped to the transaction tid if it is non-nil. The returned snapshots are
// in ref order; a missing document yields a snapshot with Exists() == false.
func (c *Client) getAll(ctx context.Context, refs []*DocumentRef, tid []byte) ([]*DocumentSnapshot, error) {
	req := &pb.BatchGetDocumentsRequest{Database: c.dbPath}
	index := make(map[string]int, len(refs))
	for i, r := range refs {
		if r == nil {
			return nil, errNilDocRef
		}
		req.Documents = append(req.Documents, r.Path)
		index[r.Path] = i
	}
	if tid != nil {
		req.ConsistencySelector = &pb.BatchGetDocumentsRequest_Transaction{Transaction: tid}
	}
	streamClient, err := c.c.BatchGetDocuments(withResourceHeader(ctx, c.dbPath), req)
	if err != nil {
		return nil, flerr.GRPCError(err, "")
	}
	snaps := make([]*DocumentSnapshot, len(refs))
	for {
		resp, err := streamClient.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, flerr.GRPCError(err, "")
		}
		switch r := resp.Result.(type) {
		case *pb.BatchGetDocumentsResponse_Found:
			i, ok := index[r.Found.Name]
			if !ok {
				return nil, flerr.Newf(flerr.Internal, nil, "unrequested document %q in response", r.Found.Name)
			}
			snaps[i] = newSnapshot(refs[i], r.Found, resp.ReadTime)
		case *pb.BatchGetDocumentsResponse_Missing:
			i, ok := index[r.Missing]
			if !ok {
				return nil, flerr.Newf(flerr.Internal, nil, "unrequested document %q in response", r.Missing)
			}
			snaps[i] = newSnapshot(refs[i], nil, resp.ReadTime)
		default:
			return nil, flerr.Newf(flerr.Internal, nil, "unknown BatchGetDocumentsResponse result type")
		}
	}
	for i, s := range snaps {
		if s == nil {
			return nil, flerr.Newf(flerr.Internal, nil, "no result for document %q", refs[i].Path)
		}
	}
	return snaps, nil
}

// commit runs a Commit RPC with the given writes, scoped to the transaction
// tid if it is non-nil.
func (c *Client) commit(ctx context.Context, ws []*pb.Write, tid []byte) ([]*pb.WriteResult, error) {
	req := &pb.CommitRequest{
		Database: c.dbPath,
		Writes:   ws,
	}
	if tid != nil {
		req.Transaction = tid
	}
	res, err := c.c.Commit(withResourceHeader(ctx, c.dbPath), req)
	if err != nil {
		return nil, flerr.GRPCError(err, "")
	}
	if len(res.WriteResults) != len(ws) {
		return nil, flerr.Newf(flerr.Internal, nil, "wrong number of WriteResults from firestore commit")
	}
	return res.WriteResults, nil
}

func (c *Client) commit1(ctx context.Context, w *pb.Write) (*WriteResult, error) {
	wrs, err := c.commit(ctx, []*pb.Write{w}, nil)
	if err != nil {
		return nil, err
	}
	return writeResultFromProto(wrs[0]), nil
}
