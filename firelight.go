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

// Package firelight is a client for Google Cloud Firestore's query,
// real-time-synchronization and transaction protocols, built directly on the
// google.firestore.v1 gRPC API.
//
// Queries are built with an immutable fluent builder and compiled to
// StructuredQuery protos. Real-time listeners fold the Listen stream's
// low-level events into consistent, diffed snapshots. Transactions enforce
// read-before-write ordering and retry automatically on conflict.
//
// Firestore types not supported by firelight:
//   - Document references (a pointer to another Firestore document)
//
// Connections are pooled and cheaply shared: every query, listener and
// transaction issued from one Client uses the same underlying channel, and
// per-call routing metadata is attached fresh on each call.
package firelight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	vkit "cloud.google.com/go/firestore/apiv1"
	"github.com/google/wire"
	"github.com/quarrylabs/firelight/internal/flerr"
	"github.com/quarrylabs/firelight/internal/oc"
	"github.com/quarrylabs/firelight/internal/useragent"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const pkgName = "github.com/quarrylabs/firelight"

// DefaultDatabase is the name of the default database of a project.
const DefaultDatabase = "(default)"

var (
	latencyMeasure = oc.LatencyMeasure(pkgName)

	// OpenCensusViews are predefined views for OpenCensus metrics.
	// The views include counts and latency distributions for API method calls.
	// See the example at https://godoc.org/go.opencensus.io/stats/view for usage.
	OpenCensusViews = oc.Views(pkgName, latencyMeasure)
)

// Dial returns a raw Firestore API client to use with NewClient, and a
// clean-up function to close the client after use.
// If the 'FIRESTORE_EMULATOR_HOST' environment variable is set the client
// connects to the emulator by overriding the default endpoint.
func Dial(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*vkit.Client, func(), error) {
	dialOpts := []option.ClientOption{
		useragent.ClientOption("firelight"),
	}
	if host := os.Getenv("FIRESTORE_EMULATOR_HOST"); host != "" {
		conn, err := grpc.DialContext(ctx, host, grpc.WithInsecure())
		if err != nil {
			return nil, nil, err
		}
		dialOpts = append(dialOpts,
			option.WithEndpoint(host),
			option.WithGRPCConn(conn),
		)
	} else {
		dialOpts = append(dialOpts, option.WithTokenSource(ts))
	}
	dialOpts = append(dialOpts, opts...)
	c, err := vkit.NewClient(ctx, dialOpts...)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { c.Close() }, nil
}

// Set holds Wire providers for this package.
var Set = wire.NewSet(
	Dial,
	NewClient,
)

// A Client provides access to one Firestore database. It is safe for
// concurrent use by multiple goroutines.
type Client struct {
	c          *vkit.Client
	projectID  string
	databaseID string
	dbPath     string // e.g. "projects/P/databases/(default)"
	docPrefix  string // dbPath + "/documents"
	tracer     *oc.Tracer
}

// NewClient creates a Client for the given project and database on top of a
// dialed Firestore API client. Pass DefaultDatabase or "" as databaseID for
// the project's default database.
func NewClient(client *vkit.Client, projectID, databaseID string) (*Client, error) {
	if projectID == "" {
		return nil, flerr.Newf(flerr.InvalidArgument, nil, "empty project ID")
	}
	if databaseID == "" {
		databaseID = DefaultDatabase
	}
	dbPath := fmt.Sprintf("projects/%s/databases/%s", projectID, databaseID)
	return &Client{
		c:          client,
		projectID:  projectID,
		databaseID: databaseID,
		dbPath:     dbPath,
		docPrefix:  dbPath + "/documents",
		tracer: &oc.Tracer{
			Package:        pkgName,
			Provider:       oc.ProviderName(client),
			LatencyMeasure: latencyMeasure,
		},
	}, nil
}

// Collection creates a reference to a collection with the given path.
// A path is a sequence of IDs separated by slashes; it must have an odd
// number of non-empty components. Collection returns nil otherwise.
func (c *Client) Collection(path string) *CollectionRef {
	ids, ok := splitPath(path)
	if !ok || len(ids)%2 == 0 {
		return nil
	}
	coll := newTopLevelCollRef(c, ids[0])
	for i := 1; i < len(ids); i += 2 {
		doc := newDocRef(coll, ids[i])
		coll = newCollRefWithParent(c, doc, ids[i+1])
	}
	return coll
}

// Doc creates a reference to a document with the given path. A path must have
// an even number of non-empty components. Doc returns nil otherwise.
func (c *Client) Doc(path string) *DocumentRef {
	ids, ok := splitPath(path)
	if !ok || len(ids)%2 != 0 {
		return nil
	}
	coll := newTopLevelCollRef(c, ids[0])
	doc := newDocRef(coll, ids[1])
	for i := 2; i < len(ids); i += 2 {
		coll = newCollRefWithParent(c, doc, ids[i])
		doc = newDocRef(coll, ids[i+1])
	}
	return doc
}

func splitPath(path string) ([]string, bool) {
	ids := strings.Split(path, "/")
	for _, id := range ids {
		if id == "" {
			return nil, false
		}
	}
	return ids, true
}

// Close closes the underlying connection. It should be invoked when the
// client is no longer required.
func (c *Client) Close() error {
	return c.c.Close()
}

// A Registry is an explicit, caller-owned map from keys (for example a
// credential or app identifier) to Clients. It replaces process-wide implicit
// state: composition roots create one Registry and pass it where needed.
// A Registry is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[string]*Client{}}
}

// Add registers client under key. It fails with an AlreadyExists error if the
// key is taken.
func (r *Registry) Add(key string, client *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[key]; ok {
		return flerr.Newf(flerr.AlreadyExists, nil, "client already registered under %q", key)
	}
	r.clients[key] = client
	return nil
}

// Get returns the client registered under key, or false if there is none.
func (r *Registry) Get(key string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[key]
	return c, ok
}

// Remove removes the client registered under key, if any, and returns it.
// The caller is responsible for closing it.
func (r *Registry) Remove(key string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.clients[key]
	delete(r.clients, key)
	return c
}

// resourcePrefixHeader is the name of the metadata header used to indicate
// the resource being operated on.
const resourcePrefixHeader = "google-cloud-resource-prefix"

// withResourceHeader returns a new context that includes resource in a special
// header. Firestore uses the resource header for routing.
func withResourceHeader(ctx context.Context, resource string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md[resourcePrefixHeader] = []string{resource}
	return metadata.NewOutgoingContext(ctx, md)
}
