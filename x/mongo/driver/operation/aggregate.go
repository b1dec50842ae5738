// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package operation contains the operations the driver executes against a
// deployment. Only aggregate is needed by the change-stream core.
package operation

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongomoe/mongo-go-driver/mongo/description"
	"github.com/mongomoe/mongo-go-driver/mongo/writeconcern"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver/session"
)

// minWireVersionWriteConcern is the first wire version that accepts a
// writeConcern field on commands.
const minWireVersionWriteConcern = 5

// Aggregate represents an aggregate operation.
type Aggregate struct {
	database      string
	collection    string
	pipeline      bsoncore.Document
	batchSize     *int32
	hasWriteStage bool
	collation     bsoncore.Document
	maxTimeMS     *int64
	writeConcern  *writeconcern.WriteConcern
	customOptions map[string]bsoncore.Value

	deployment driver.Deployment
	selector   description.ServerSelector
	session    *session.Client

	result driver.CursorResponse
}

// NewAggregate constructs and returns a new Aggregate. The pipeline parameter
// must be a BSON array of stage documents.
func NewAggregate(pipeline bsoncore.Document) *Aggregate {
	return &Aggregate{pipeline: pipeline}
}

// Database sets the database to run this operation against.
func (a *Aggregate) Database(database string) *Aggregate {
	a.database = database
	return a
}

// Collection sets the collection that this command will run against. If no
// collection is set, the command aggregates at database scope and the
// aggregate field is the integer 1.
func (a *Aggregate) Collection(collection string) *Aggregate {
	a.collection = collection
	return a
}

// Pipeline replaces the pipeline to run.
func (a *Aggregate) Pipeline(pipeline bsoncore.Document) *Aggregate {
	a.pipeline = pipeline
	return a
}

// BatchSize specifies the number of documents to return in every batch.
func (a *Aggregate) BatchSize(batchSize int32) *Aggregate {
	a.batchSize = &batchSize
	return a
}

// HasWriteStage records that the pipeline's last stage is $out or $merge.
func (a *Aggregate) HasWriteStage(has bool) *Aggregate {
	a.hasWriteStage = has
	return a
}

// Collation specifies a collation to be used as a top-level aggregate option.
func (a *Aggregate) Collation(collation bsoncore.Document) *Aggregate {
	a.collation = collation
	return a
}

// MaxTimeMS specifies the maximum amount of time to allow the query to run.
func (a *Aggregate) MaxTimeMS(maxTimeMS int64) *Aggregate {
	a.maxTimeMS = &maxTimeMS
	return a
}

// WriteConcern sets the write concern for this operation. It is only sent for
// pipelines ending in a write stage.
func (a *Aggregate) WriteConcern(wc *writeconcern.WriteConcern) *Aggregate {
	a.writeConcern = wc
	return a
}

// CustomOptions specifies extra top-level command fields.
func (a *Aggregate) CustomOptions(opts map[string]bsoncore.Value) *Aggregate {
	a.customOptions = opts
	return a
}

// Deployment sets the deployment to run this operation against.
func (a *Aggregate) Deployment(deployment driver.Deployment) *Aggregate {
	a.deployment = deployment
	return a
}

// ServerSelector sets the selector used to retrieve a server.
func (a *Aggregate) ServerSelector(selector description.ServerSelector) *Aggregate {
	a.selector = selector
	return a
}

// Session sets the session for this operation.
func (a *Aggregate) Session(sess *session.Client) *Aggregate {
	a.session = sess
	return a
}

// ResultCursorResponse returns the cursor response from the most recent
// successful execution.
func (a *Aggregate) ResultCursorResponse() driver.CursorResponse {
	return a.result
}

// Result returns a BatchCursor over the most recent successful execution.
func (a *Aggregate) Result(opts driver.CursorOptions) (*driver.BatchCursor, error) {
	return driver.NewBatchCursor(a.result, a.session, opts)
}

// Execute runs this operation against the configured deployment.
func (a *Aggregate) Execute(ctx context.Context) error {
	if a.deployment == nil {
		return errors.New("the Aggregate operation must have a Deployment set before Execute can be called")
	}

	server, err := a.deployment.SelectServer(ctx, a.selector)
	if err != nil {
		return driver.ServerSelectionError{Wrapped: err}
	}
	conn, err := server.Connection(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	desc := conn.Description()

	if a.hasWriteStage && a.writeConcern != nil &&
		(desc.WireVersion == nil || desc.WireVersion.Max < minWireVersionWriteConcern) {
		var max int32
		if desc.WireVersion != nil {
			max = desc.WireVersion.Max
		}
		return driver.WireVersionError{
			Feature:  "aggregate with $out or $merge and a write concern",
			Required: minWireVersionWriteConcern,
			Max:      max,
		}
	}

	cmd, err := a.command()
	if err != nil {
		return err
	}

	reply, err := conn.Command(ctx, a.database, cmd)
	if err != nil {
		return err
	}
	if err := driver.ExtractErrorFromServerResponse(reply); err != nil {
		return err
	}

	cr, err := driver.NewCursorResponse(reply, server, desc)
	if err != nil {
		return err
	}
	if a.session != nil {
		if err := a.session.AdvanceOperationTime(cr.OperationTime); err != nil {
			return err
		}
	}
	a.result = cr
	return nil
}

// command builds the aggregate command document. The aggregate field is always
// first: the collection name at collection scope, the integer 1 otherwise.
func (a *Aggregate) command() (bsoncore.Document, error) {
	idx, cmd := bsoncore.AppendDocumentStart(nil)
	if a.collection != "" {
		cmd = bsoncore.AppendStringElement(cmd, "aggregate", a.collection)
	} else {
		cmd = bsoncore.AppendInt32Element(cmd, "aggregate", 1)
	}
	cmd = bsoncore.AppendArrayElement(cmd, "pipeline", a.pipeline)

	cursorIdx, cursorDoc := bsoncore.AppendDocumentStart(nil)
	if a.batchSize != nil {
		// batchSize 0 on a pipeline ending in $out or $merge would prevent the
		// write stage from running; the server rejects it, so drop it.
		if !(a.hasWriteStage && *a.batchSize == 0) {
			cursorDoc = bsoncore.AppendInt32Element(cursorDoc, "batchSize", *a.batchSize)
		}
	}
	cursorDoc, err := bsoncore.AppendDocumentEnd(cursorDoc, cursorIdx)
	if err != nil {
		return nil, err
	}
	cmd = bsoncore.AppendDocumentElement(cmd, "cursor", cursorDoc)

	if a.collation != nil {
		cmd = bsoncore.AppendDocumentElement(cmd, "collation", a.collation)
	}
	if a.maxTimeMS != nil {
		cmd = bsoncore.AppendInt64Element(cmd, "maxTimeMS", *a.maxTimeMS)
	}
	if a.writeConcern != nil && a.hasWriteStage {
		wcDoc, err := a.writeConcern.Document()
		if err != nil {
			return nil, err
		}
		cmd = bsoncore.AppendDocumentElement(cmd, "writeConcern", wcDoc)
	}
	for name, value := range a.customOptions {
		cmd = bsoncore.AppendValueElement(cmd, name, value)
	}
	if a.session != nil {
		if a.session.Ended() {
			return nil, session.ErrSessionEnded
		}
		cmd = bsoncore.AppendDocumentElement(cmd, "lsid", a.session.SessionID)
	}

	return bsoncore.AppendDocumentEnd(cmd, idx)
}
