// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongomoe/mongo-go-driver/x/mongo/driver"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver/session"
)

// Cursor is used to iterate over a stream of documents. Each document can be
// decoded into a Go type via the Decode method or accessed as raw BSON via the
// Current field. This type is not goroutine safe and must not be used
// concurrently by multiple goroutines.
type Cursor struct {
	// Current contains the BSON bytes of the current document. This property
	// is only valid until the next call to Next or TryNext. If continued
	// access is required, a copy must be made.
	Current bson.Raw

	bc       *driver.BatchCursor
	batch    []bsoncore.Document
	sess     *session.Client
	registry *bsoncodec.Registry
	err      error
}

func newCursor(bc *driver.BatchCursor, sess *session.Client, registry *bsoncodec.Registry) *Cursor {
	if registry == nil {
		registry = bson.DefaultRegistry
	}
	return &Cursor{bc: bc, sess: sess, registry: registry}
}

// ID returns the ID of this cursor, or 0 if the cursor has been closed or
// exhausted.
func (c *Cursor) ID() int64 {
	if c.bc == nil {
		return 0
	}
	return c.bc.ID()
}

// Next gets the next document for this cursor. It returns true if there were
// no errors and the next document is available. It blocks until a document is
// available, an error occurs, or the cursor is exhausted.
func (c *Cursor) Next(ctx context.Context) bool {
	return c.next(ctx, false)
}

// TryNext attempts to get the next document for this cursor. It returns true
// if a document is immediately available; it does not block waiting for the
// server to produce one.
func (c *Cursor) TryNext(ctx context.Context) bool {
	return c.next(ctx, true)
}

func (c *Cursor) next(ctx context.Context, nonBlocking bool) bool {
	if c.err != nil || c.bc == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for len(c.batch) == 0 {
		if !c.bc.Next(ctx) {
			if c.err = replaceErrors(c.bc.Err()); c.err != nil {
				return false
			}
			if c.bc.ID() == 0 {
				return false
			}
			if nonBlocking {
				return false
			}
			continue
		}
		c.batch, c.err = c.bc.Batch().Documents()
		if c.err != nil {
			return false
		}
	}

	c.Current = bson.Raw(c.batch[0])
	c.batch = c.batch[1:]
	return true
}

// Decode will unmarshal the current document into val.
func (c *Cursor) Decode(val interface{}) error {
	if len(c.Current) == 0 {
		return errors.New("the Decode method requires a document to be available")
	}
	return bson.UnmarshalWithRegistry(c.registry, c.Current, val)
}

// Err returns the last error seen by the Cursor, or nil if no error has
// occurred.
func (c *Cursor) Err() error {
	return c.err
}

// Close closes this cursor. Next and TryNext must not be called after Close
// has been called. Close is idempotent.
func (c *Cursor) Close(ctx context.Context) error {
	if c.bc == nil {
		return nil
	}
	if c.sess != nil {
		defer c.sess.EndSession()
	}
	err := c.bc.Close(ctx)
	c.bc = nil
	return replaceErrors(err)
}
