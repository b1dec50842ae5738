// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package driver contains the low-level machinery that operations are built
// on: the contracts for deployments, servers, and connections, the cursor
// type that drives a server-side cursor forward, and the structured errors
// that command replies are converted into.
//
// Topology discovery, connection pooling, authentication, and wire-protocol
// framing live behind the Deployment, Server, and Connection interfaces and
// are not implemented by this package.
package driver

import (
	"context"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongomoe/mongo-go-driver/mongo/description"
)

// Deployment is implemented by types that can select a server from a MongoDB
// deployment. Selection is fresh on every call: a resume never reuses the
// server a previous cursor lived on without going through SelectServer again.
type Deployment interface {
	SelectServer(ctx context.Context, selector description.ServerSelector) (Server, error)
}

// Server represents a single selected server. Connections checked out from it
// are returned by Close.
type Server interface {
	Connection(ctx context.Context) (Connection, error)
}

// Connection represents a single checked-out connection to a server. Command
// sends a command document to the given database and returns the server's
// reply document. An error that is not a driver Error is a transport-level
// failure: the connection is no longer usable and any cursor it carried is
// unreachable. Close returns the connection to its pool.
type Connection interface {
	Command(ctx context.Context, database string, cmd bsoncore.Document) (bsoncore.Document, error)
	Description() description.Server
	Close() error
}

// CursorOptions are extra options that are applied to every getMore a
// BatchCursor issues.
type CursorOptions struct {
	BatchSize int32
	MaxTimeMS int64
}
