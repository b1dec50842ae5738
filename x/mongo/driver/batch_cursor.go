// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongomoe/mongo-go-driver/mongo/description"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver/session"
)

// ErrNoCursor is returned by NewCursorResponse when the reply does not contain
// a cursor document.
var ErrNoCursor = errors.New("server response did not contain a cursor")

// Batch is one batch of documents returned by the server for a cursor.
type Batch struct {
	docs []bsoncore.Document
	raw  bsoncore.Document
}

// Empty reports whether the batch has no documents.
func (b *Batch) Empty() bool {
	return b == nil || len(b.docs) == 0
}

// Documents returns the documents in the batch.
func (b *Batch) Documents() ([]bsoncore.Document, error) {
	if b == nil {
		return nil, nil
	}
	return b.docs, nil
}

func newBatch(arr bsoncore.Document) (*Batch, error) {
	b := &Batch{raw: arr}
	if len(arr) == 0 {
		return b, nil
	}
	vals, err := arr.Values()
	if err != nil {
		return nil, fmt.Errorf("invalid cursor batch: %w", err)
	}
	for _, val := range vals {
		if val.Type != bsontype.EmbeddedDocument {
			return nil, fmt.Errorf("cursor batch contained a %s, expected a document", val.Type)
		}
		b.docs = append(b.docs, bsoncore.Document(val.Data))
	}
	return b, nil
}

// CursorResponse describes a server reply that opened a cursor, either from an
// initial command or from a getMore.
type CursorResponse struct {
	Server     Server
	Desc       description.Server
	ID         int64
	Database   string
	Collection string

	FirstBatch           *Batch
	PostBatchResumeToken bsoncore.Document
	OperationTime        *primitive.Timestamp
}

// NewCursorResponse constructs a CursorResponse from a server reply. The reply
// must carry a cursor sub-document with id, ns, and a firstBatch or nextBatch
// array.
func NewCursorResponse(reply bsoncore.Document, server Server, desc description.Server) (CursorResponse, error) {
	cr := CursorResponse{Server: server, Desc: desc}

	curVal, err := reply.LookupErr("cursor")
	if err != nil {
		return cr, ErrNoCursor
	}
	curDoc, ok := curVal.DocumentOK()
	if !ok {
		return cr, fmt.Errorf("cursor should be an embedded document but is a BSON %s", curVal.Type)
	}

	elems, err := curDoc.Elements()
	if err != nil {
		return cr, err
	}
	for _, elem := range elems {
		switch elem.Key() {
		case "id":
			id, ok := elem.Value().Int64OK()
			if !ok {
				return cr, fmt.Errorf("cursor id should be an int64 but is a BSON %s", elem.Value().Type)
			}
			cr.ID = id
		case "ns":
			ns, ok := elem.Value().StringValueOK()
			if !ok {
				return cr, fmt.Errorf("cursor ns should be a string but is a BSON %s", elem.Value().Type)
			}
			database, collection, found := strings.Cut(ns, ".")
			if !found {
				return cr, fmt.Errorf("cursor ns %q is not a namespace", ns)
			}
			cr.Database, cr.Collection = database, collection
		case "firstBatch", "nextBatch":
			if elem.Value().Type != bsontype.Array {
				return cr, fmt.Errorf("cursor batch should be an array but is a BSON %s", elem.Value().Type)
			}
			batch, err := newBatch(bsoncore.Document(elem.Value().Data))
			if err != nil {
				return cr, err
			}
			cr.FirstBatch = batch
		case "postBatchResumeToken":
			token, ok := elem.Value().DocumentOK()
			if !ok {
				return cr, fmt.Errorf("post batch resume token should be a document but is a BSON %s", elem.Value().Type)
			}
			cr.PostBatchResumeToken = token
		}
	}

	if tVal, err := reply.LookupErr("operationTime"); err == nil {
		if t, i, ok := tVal.TimestampOK(); ok {
			cr.OperationTime = &primitive.Timestamp{T: t, I: i}
		}
	}

	return cr, nil
}

// BatchCursor wraps a server-side cursor id and drives it forward through
// getMore commands. It is the sole owner of the cursor id: teardown issues a
// killCursors round trip unless the cursor is already known dead.
type BatchCursor struct {
	server     Server
	desc       description.Server
	database   string
	collection string
	id         int64

	currentBatch *Batch
	firstBatch   bool
	err          error

	sess      *session.Client
	batchSize int32
	maxTimeMS int64

	postBatchResumeToken bsoncore.Document

	// invalidated is set when a transport or state-change failure makes the
	// cursor unreachable; it suppresses killCursors.
	invalidated bool
}

// NewBatchCursor creates a new BatchCursor from the provided cursor response.
func NewBatchCursor(cr CursorResponse, sess *session.Client, opts CursorOptions) (*BatchCursor, error) {
	if cr.Server == nil {
		return nil, errors.New("cursor response must reference the server the cursor lives on")
	}
	bc := &BatchCursor{
		server:               cr.Server,
		desc:                 cr.Desc,
		database:             cr.Database,
		collection:           cr.Collection,
		id:                   cr.ID,
		currentBatch:         cr.FirstBatch,
		firstBatch:           true,
		sess:                 sess,
		batchSize:            opts.BatchSize,
		maxTimeMS:            opts.MaxTimeMS,
		postBatchResumeToken: cr.PostBatchResumeToken,
	}
	if bc.currentBatch == nil {
		bc.currentBatch = &Batch{}
	}
	return bc, nil
}

// ID returns the cursor id, or 0 if the cursor has been closed or exhausted.
func (bc *BatchCursor) ID() int64 {
	return bc.id
}

// Batch returns the most recent batch fetched from the server.
func (bc *BatchCursor) Batch() *Batch {
	return bc.currentBatch
}

// Server returns the server the cursor lives on.
func (bc *BatchCursor) Server() Server {
	return bc.server
}

// PostBatchResumeToken returns the most recent post batch resume token sent by
// the server, or nil if none has been observed.
func (bc *BatchCursor) PostBatchResumeToken() bsoncore.Document {
	return bc.postBatchResumeToken
}

// Err returns the error that stopped iteration, if any.
func (bc *BatchCursor) Err() error {
	return bc.err
}

// Next advances the cursor by at most one server round trip. It returns true
// when a non-empty batch is available. The first call surfaces the batch the
// cursor was opened with; subsequent calls issue a single getMore each and
// return false on an empty batch, a dead cursor, or an error.
func (bc *BatchCursor) Next(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if bc.firstBatch {
		bc.firstBatch = false
		return !bc.currentBatch.Empty()
	}

	if bc.id == 0 || bc.err != nil {
		return false
	}

	bc.getMore(ctx)
	return bc.err == nil && !bc.currentBatch.Empty()
}

func (bc *BatchCursor) getMore(ctx context.Context) {
	idx, cmd := bsoncore.AppendDocumentStart(nil)
	cmd = bsoncore.AppendInt64Element(cmd, "getMore", bc.id)
	cmd = bsoncore.AppendStringElement(cmd, "collection", bc.collection)
	if bc.batchSize > 0 {
		cmd = bsoncore.AppendInt32Element(cmd, "batchSize", bc.batchSize)
	}
	if bc.maxTimeMS > 0 {
		cmd = bsoncore.AppendInt64Element(cmd, "maxTimeMS", bc.maxTimeMS)
	}
	if bc.sess != nil {
		cmd = bsoncore.AppendDocumentElement(cmd, "lsid", bc.sess.SessionID)
	}
	cmd, bc.err = bsoncore.AppendDocumentEnd(cmd, idx)
	if bc.err != nil {
		return
	}

	reply, err := bc.roundTrip(ctx, cmd)
	if err == nil {
		err = ExtractErrorFromServerResponse(reply)
	}
	if err != nil {
		bc.err = err
		if !ClassifyChangeStreamError(err).KillCursor {
			bc.invalidated = true
		}
		return
	}

	cr, err := NewCursorResponse(reply, bc.server, bc.desc)
	if err != nil {
		bc.err = err
		return
	}
	bc.id = cr.ID
	bc.currentBatch = cr.FirstBatch
	if bc.currentBatch == nil {
		bc.currentBatch = &Batch{}
	}
	if cr.PostBatchResumeToken != nil {
		bc.postBatchResumeToken = cr.PostBatchResumeToken
	}
	if bc.sess != nil {
		bc.err = bc.sess.AdvanceOperationTime(cr.OperationTime)
	}
}

func (bc *BatchCursor) roundTrip(ctx context.Context, cmd bsoncore.Document) (bsoncore.Document, error) {
	conn, err := bc.server.Connection(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()
	return conn.Command(ctx, bc.database, cmd)
}

// KillCursor sends a best-effort killCursors for the cursor id. It is a no-op
// if the cursor is exhausted or was invalidated by a transport or state-change
// failure. Reply errors are swallowed.
func (bc *BatchCursor) KillCursor(ctx context.Context) error {
	if bc.id == 0 || bc.invalidated {
		return nil
	}
	id := bc.id
	bc.id = 0 // guard against a second killCursors for the same id

	idx, cmd := bsoncore.AppendDocumentStart(nil)
	cmd = bsoncore.AppendStringElement(cmd, "killCursors", bc.collection)
	aidx, arr := bsoncore.AppendArrayStart(nil)
	arr = bsoncore.AppendInt64Element(arr, "0", id)
	arr, err := bsoncore.AppendArrayEnd(arr, aidx)
	if err != nil {
		return err
	}
	cmd = bsoncore.AppendArrayElement(cmd, "cursors", arr)
	if bc.sess != nil {
		cmd = bsoncore.AppendDocumentElement(cmd, "lsid", bc.sess.SessionID)
	}
	cmd, err = bsoncore.AppendDocumentEnd(cmd, idx)
	if err != nil {
		return err
	}

	_, err = bc.roundTrip(ctx, cmd)
	return err
}

// Close closes the cursor, killing the server-side cursor if necessary.
// Closing is idempotent and errors from killCursors are swallowed.
func (bc *BatchCursor) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_ = bc.KillCursor(ctx)
	bc.id = 0
	bc.currentBatch = &Batch{}
	return nil
}
