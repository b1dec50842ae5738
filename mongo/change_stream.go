// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongomoe/mongo-go-driver/mongo/description"
	"github.com/mongomoe/mongo-go-driver/mongo/options"
	"github.com/mongomoe/mongo-go-driver/mongo/readpref"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver/operation"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver/session"
)

// minOperationTimeWireVersion is the first wire version on which the server
// accepts startAtOperationTime and reports operationTime on replies.
const minOperationTimeWireVersion int32 = 7

// ChangeStream is a resumable iterator over the change events of a
// collection, a database, or a whole deployment. It owns a server-side cursor
// and replaces that cursor with a fresh one, positioned by the tracked resume
// token, whenever a read fails in a way the resume protocol covers. A
// ChangeStream has a single owner: methods must not be called from more than
// one goroutine at a time.
type ChangeStream struct {
	// Current holds the raw BSON of the most recently read event. The bytes
	// are shared with the stream's internal buffer and are invalidated by the
	// next read or by Close; callers that keep an event must copy it.
	Current bson.Raw

	aggregate      *operation.Aggregate
	pipelineStages []bsoncore.Document
	cursor         changeStreamCursor
	cursorOpts     driver.CursorOptions
	pending        []bsoncore.Document
	resumeToken    bson.Raw
	err            error
	sess           *session.Client
	client         *Client
	registry       *bsoncodec.Registry
	streamType     StreamType
	opts           *options.ChangeStreamOptions
	selector       description.ServerSelector
	operationTime  *primitive.Timestamp
	wireVersion    *description.VersionRange
}

// changeStreamCursor is the cursor contract the engine drives. It is
// implemented by driver.BatchCursor.
type changeStreamCursor interface {
	ID() int64
	Next(ctx context.Context) bool
	Err() error
	Close(ctx context.Context) error
	Batch() *driver.Batch
	PostBatchResumeToken() bsoncore.Document
}

type changeStreamConfig struct {
	readPreference *readpref.ReadPref
	client         *Client
	registry       *bsoncodec.Registry
	streamType     StreamType
	collectionName string
	databaseName   string
}

func newChangeStream(ctx context.Context, config changeStreamConfig, pipeline interface{},
	opts ...*options.ChangeStreamOptions) (*ChangeStream, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cs := &ChangeStream{
		client:     config.client,
		registry:   config.registry,
		streamType: config.streamType,
		opts:       options.MergeChangeStreamOptions(opts...),
		selector:   description.ReadPrefSelector(config.readPreference),
		cursorOpts: config.client.createBaseCursorOptions(),
	}
	if cs.registry == nil {
		cs.registry = bson.DefaultRegistry
	}

	cs.sess, cs.err = session.NewImplicitClientSession()
	if cs.err != nil {
		return nil, cs.Err()
	}

	if cs.err = cs.configure(config, pipeline); cs.err != nil {
		closeImplicitSession(cs.sess)
		return nil, cs.Err()
	}
	if cs.err = cs.executeOperation(ctx, false); cs.err != nil {
		closeImplicitSession(cs.sess)
		return nil, cs.Err()
	}

	return cs, cs.Err()
}

// configure prepares the aggregate that will open the stream: scope routing,
// option projection, the seed resume position, and the assembled pipeline.
func (cs *ChangeStream) configure(config changeStreamConfig, pipeline interface{}) error {
	cs.aggregate = operation.NewAggregate(nil).
		Deployment(cs.client.deployment).
		ServerSelector(cs.selector).
		Session(cs.sess)

	switch cs.streamType {
	case ClientStream:
		cs.aggregate.Database("admin")
	case DatabaseStream:
		cs.aggregate.Database(config.databaseName)
	case CollectionStream:
		cs.aggregate.Collection(config.collectionName).Database(config.databaseName)
	default:
		return fmt.Errorf("unknown stream type %v", cs.streamType)
	}

	if cs.opts.Collation != nil {
		cs.aggregate.Collation(cs.opts.Collation.ToDocument())
	}
	if cs.opts.BatchSize != nil {
		cs.aggregate.BatchSize(*cs.opts.BatchSize)
		cs.cursorOpts.BatchSize = *cs.opts.BatchSize
	}
	if cs.opts.MaxAwaitTime != nil {
		cs.cursorOpts.MaxTimeMS = int64(*cs.opts.MaxAwaitTime / time.Millisecond)
	}
	if cs.opts.Custom != nil {
		extra := make(map[string]bsoncore.Value, len(cs.opts.Custom))
		for name, value := range cs.opts.Custom {
			transformed, err := transformValue(cs.registry, value, true, name)
			if err != nil {
				return err
			}
			extra[name] = transformed
		}
		cs.aggregate.CustomOptions(extra)
	}

	// Seed the tracked position from the user's anchor, preferring startAfter,
	// so that a resume before the first event still lands where the user
	// asked. With no anchor the position stays unknown until the server
	// reports one.
	var anchor interface{}
	switch {
	case cs.opts.StartAfter != nil:
		anchor = cs.opts.StartAfter
	case cs.opts.ResumeAfter != nil:
		anchor = cs.opts.ResumeAfter
	}
	if anchor != nil {
		var err error
		if cs.resumeToken, err = bson.Marshal(anchor); err != nil {
			return err
		}
	}

	if err := cs.assemblePipeline(pipeline); err != nil {
		return err
	}
	arr, err := cs.renderPipeline()
	if err != nil {
		return err
	}
	cs.aggregate.Pipeline(arr)
	return nil
}

// pinnedDeployment wraps the already-selected server and connection so the
// aggregate runs exactly where the engine captured the wire version.
func (cs *ChangeStream) pinnedDeployment(server driver.Server, conn driver.Connection) driver.Deployment {
	return &changeStreamDeployment{server: server, conn: conn}
}

// executeOperation issues the aggregate that opens or reopens the stream. The
// operation executes exactly once per call, so a failed resume surfaces
// unconditionally and the stream retries at most once per failing getMore.
func (cs *ChangeStream) executeOperation(ctx context.Context, resuming bool) error {
	var server driver.Server
	var conn driver.Connection

	if server, cs.err = cs.selectServer(ctx); cs.err != nil {
		return cs.Err()
	}
	if conn, cs.err = server.Connection(ctx); cs.err != nil {
		return cs.Err()
	}
	defer func() { _ = conn.Close() }()
	cs.wireVersion = conn.Description().WireVersion

	cs.aggregate.Deployment(cs.pinnedDeployment(server, conn))

	if resuming {
		// The resume position can only be projected once the wire version of
		// the freshly selected server is known.
		cs.replaceOptions(cs.wireVersion)
		if cs.err = cs.rebuildPipelineForResume(); cs.err != nil {
			return cs.Err()
		}
	}

	if cs.err = cs.aggregate.Execute(ctx); cs.err != nil {
		return cs.Err()
	}

	cr := cs.aggregate.ResultCursorResponse()
	// getMores go to the server the cursor was opened on over fresh
	// connections; the pinned open connection is released below.
	cr.Server = server

	cs.cursor, cs.err = driver.NewBatchCursor(cr, cs.sess, cs.cursorOpts)
	if cs.err != nil {
		return cs.Err()
	}

	cs.adoptPostBatchResumeToken()
	cs.maybeCaptureOperationTime()

	return cs.Err()
}

// rebuildPipelineForResume re-renders the $changeStream stage from the
// options the resolver just rewrote and hands the refreshed pipeline to the
// aggregate. The user's stages are untouched.
func (cs *ChangeStream) rebuildPipelineForResume() error {
	stageOpts := cs.createPipelineOptionsDoc()
	if cs.err != nil {
		return cs.err
	}

	stageIdx, stage := bsoncore.AppendDocumentStart(nil)
	stage = bsoncore.AppendDocumentElement(stage, "$changeStream", stageOpts)
	stage, err := bsoncore.AppendDocumentEnd(stage, stageIdx)
	if err != nil {
		return err
	}
	cs.pipelineStages[0] = stage

	plArr, err := cs.renderPipeline()
	if err != nil {
		return err
	}
	cs.aggregate.Pipeline(plArr)
	return nil
}

func (cs *ChangeStream) selectServer(ctx context.Context) (driver.Server, error) {
	server, err := cs.client.deployment.SelectServer(ctx, cs.selector)
	if err != nil {
		return nil, driver.ServerSelectionError{Wrapped: err}
	}
	return server, nil
}

// adoptPostBatchResumeToken advances the tracked position to the reply's post
// batch resume token. Only a reply with no pending events may move the
// position this way; while events are buffered, the position moves as each
// one is surfaced.
func (cs *ChangeStream) adoptPostBatchResumeToken() {
	if pbrt := cs.cursor.PostBatchResumeToken(); cs.emptyBatch() && pbrt != nil {
		cs.resumeToken = bson.Raw(pbrt)
	}
}

// maybeCaptureOperationTime remembers the operationTime of the opening
// aggregate as a resume position of last resort. It applies only when nothing
// better exists: no user anchor, no tracked token, no buffered events, and a
// server new enough to honour startAtOperationTime.
func (cs *ChangeStream) maybeCaptureOperationTime() {
	if cs.opts.StartAtOperationTime != nil || cs.opts.ResumeAfter != nil ||
		cs.opts.StartAfter != nil || cs.resumeToken != nil {
		return
	}
	if cs.wireVersion == nil || cs.wireVersion.Max < minOperationTimeWireVersion {
		return
	}
	if !cs.emptyBatch() {
		return
	}
	cs.operationTime = cs.sess.OperationTime
}

// storeResumeToken records the position of the event in Current before it is
// handed to the caller. The final event of a batch adopts the server's post
// batch resume token when one is available; every other event is positioned
// by its own _id. An event without a document-valued _id is unrecoverable,
// because no resume could ever get past it, so the stream shuts down.
func (cs *ChangeStream) storeResumeToken() error {
	if len(cs.pending) == 0 {
		if pbrt := cs.cursor.PostBatchResumeToken(); pbrt != nil {
			cs.resumeToken = bson.Raw(pbrt)
			return nil
		}
	}

	id, ok := cs.Current.Lookup("_id").DocumentOK()
	if !ok {
		_ = cs.Close(context.Background())
		return ErrMissingResumeToken
	}
	cs.resumeToken = id
	return nil
}

// ID returns the id of the server-side cursor backing the stream. A zero id
// means no cursor is held, either because the stream was closed or because
// the server invalidated it.
func (cs *ChangeStream) ID() int64 {
	if cs.cursor == nil {
		return 0
	}
	return cs.cursor.ID()
}

// Decode unmarshals the event in Current into val through the client's codec
// registry. It returns ErrNilCursor when called on a closed stream.
func (cs *ChangeStream) Decode(val interface{}) error {
	if cs.cursor == nil {
		return ErrNilCursor
	}

	return bson.UnmarshalWithRegistry(cs.registry, cs.Current, val)
}

// Err reports the error that stopped the stream, or nil while the stream is
// healthy. Once Err is non-nil the stream is finished: no further commands
// are sent and every read returns false.
func (cs *ChangeStream) Err() error {
	switch {
	case cs.err != nil:
		return replaceErrors(cs.err)
	case cs.cursor != nil:
		return replaceErrors(cs.cursor.Err())
	default:
		return nil
	}
}

// Close releases the stream's resources: the server-side cursor is killed if
// it is still alive and the implicit session ends. Calling Close more than
// once is allowed; calls after the first do nothing. No reads may follow a
// Close.
func (cs *ChangeStream) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	defer closeImplicitSession(cs.sess)

	if cs.cursor == nil {
		return nil
	}

	cur := cs.cursor
	cs.cursor = nil
	cs.err = replaceErrors(cur.Close(ctx))
	return cs.Err()
}

// ResumeToken returns the stream's tracked position: the token of the last
// surfaced event, a post batch resume token, or the anchor the stream was
// opened with. It is nil while no position is known.
func (cs *ChangeStream) ResumeToken() bson.Raw {
	return cs.resumeToken
}

// Next reads the next event into Current, blocking until one arrives, and
// reports whether it did. A false return means the stream is done: a failure
// occurred, ctx expired, or the server invalidated the cursor; Err tells
// which. Every call after a false return is also false.
func (cs *ChangeStream) Next(ctx context.Context) bool {
	return cs.next(ctx, false)
}

// TryNext is the non-blocking companion of Next. With no event buffered it
// issues at most one getMore (none while the batch the stream was opened with
// is still unread) and gives up if the reply is empty. After a false
// return the stream is still usable as long as Err is nil and ID is non-zero;
// call TryNext again later.
func (cs *ChangeStream) TryNext(ctx context.Context) bool {
	return cs.next(ctx, true)
}

func (cs *ChangeStream) next(ctx context.Context, nonBlocking bool) bool {
	if cs.err != nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if len(cs.pending) == 0 && !cs.fetchBatch(ctx, nonBlocking) {
		return false
	}
	return cs.surfaceEvent()
}

// surfaceEvent pops the front of the buffered batch into Current. The event's
// position is tracked before the caller sees it, so a later resume can
// neither replay nor skip it.
func (cs *ChangeStream) surfaceEvent() bool {
	cs.Current = bson.Raw(cs.pending[0])
	cs.pending = cs.pending[1:]
	if cs.err = cs.storeResumeToken(); cs.err != nil {
		return false
	}
	return true
}

// fetchBatch drives the cursor until a non-empty batch is buffered. On a
// recoverable failure the stream is reopened at the tracked position and
// fetching continues; a failure of the reopen itself, or a fatal error,
// records cs.err. A false return with nil cs.err means the cursor is
// exhausted, or, in non-blocking mode, that a getMore came back empty.
func (cs *ChangeStream) fetchBatch(ctx context.Context, nonBlocking bool) bool {
	for cs.cursor != nil {
		if cs.cursor.Next(ctx) {
			cs.pending, cs.err = cs.cursor.Batch().Documents()
			return cs.err == nil
		}

		if rawErr := cs.cursor.Err(); rawErr != nil {
			if !cs.resumeAfterError(ctx, rawErr) {
				return false
			}
			continue
		}

		if cs.ID() == 0 {
			// The server reclaimed the cursor without reporting an error.
			return false
		}

		// An empty reply can still move the stream position forward when it
		// carries a post batch resume token.
		cs.adoptPostBatchResumeToken()
		if nonBlocking {
			return false
		}
	}
	return false
}

// resumeAfterError applies the resume protocol to a failed cursor read and
// reports whether iteration may continue on a fresh cursor. Each failing
// getMore is granted a single reopen: whatever the reopen's own aggregate
// returns, error or not, is final.
func (cs *ChangeStream) resumeAfterError(ctx context.Context, rawErr error) bool {
	if !driver.ClassifyChangeStreamError(rawErr).Resume {
		cs.err = replaceErrors(rawErr)
		return false
	}

	cs.client.logger.WithFields(map[string]interface{}{
		"cursorID": cs.ID(),
		"error":    rawErr,
	}).Debug("change stream encountered a recoverable error, resuming")

	// Closing the old cursor owes the server a killCursors only when the
	// failure left the cursor alive; the cursor tracks that itself.
	_ = cs.cursor.Close(ctx)
	return cs.executeOperation(ctx, true) == nil
}

// emptyBatch reports whether the cursor's current batch holds no events.
func (cs *ChangeStream) emptyBatch() bool {
	return cs.cursor.Batch().Empty()
}

func closeImplicitSession(sess *session.Client) {
	if sess != nil {
		sess.EndSession()
	}
}

// StreamType distinguishes the three scopes a change stream can watch: one
// collection, every collection of a database, or the whole deployment.
type StreamType uint8

// The valid change stream scopes.
const (
	CollectionStream StreamType = iota
	DatabaseStream
	ClientStream
)
