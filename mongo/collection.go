// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongomoe/mongo-go-driver/mongo/description"
	"github.com/mongomoe/mongo-go-driver/mongo/options"
	"github.com/mongomoe/mongo-go-driver/mongo/readpref"
	"github.com/mongomoe/mongo-go-driver/mongo/writeconcern"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver/operation"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver/session"
)

// Collection is a handle to a MongoDB collection.
type Collection struct {
	db             *Database
	name           string
	readPreference *readpref.ReadPref
	writeConcern   *writeconcern.WriteConcern
}

func newCollection(db *Database, name string, opts ...*options.CollectionOptions) *Collection {
	collOpts := options.MergeCollectionOptions(opts...)

	rp := db.readPreference
	if collOpts.ReadPreference != nil {
		rp = collOpts.ReadPreference
	}
	wc := db.writeConcern
	if collOpts.WriteConcern != nil {
		wc = collOpts.WriteConcern
	}

	return &Collection{
		db:             db,
		name:           name,
		readPreference: rp,
		writeConcern:   wc,
	}
}

// Database returns the Database the Collection was created from.
func (coll *Collection) Database() *Database {
	return coll.db
}

// Name returns the name of the collection.
func (coll *Collection) Name() string {
	return coll.name
}

// Aggregate executes an aggregate command against the collection and returns a
// cursor over the resulting documents.
func (coll *Collection) Aggregate(ctx context.Context, pipeline interface{},
	opts ...*options.AggregateOptions) (*Cursor, error) {
	a := aggregateParams{
		client:         coll.db.client,
		registry:       coll.db.client.registry,
		readPreference: coll.readPreference,
		writeConcern:   coll.writeConcern,
		db:             coll.db.name,
		col:            coll.name,
		pipeline:       pipeline,
		opts:           opts,
	}
	return aggregate(ctx, a)
}

// Watch returns a change stream for all changes on the corresponding
// collection. The pipeline parameter must be an array of documents, each
// representing a pipeline stage.
func (coll *Collection) Watch(ctx context.Context, pipeline interface{},
	opts ...*options.ChangeStreamOptions) (*ChangeStream, error) {
	csConfig := changeStreamConfig{
		readPreference: coll.readPreference,
		client:         coll.db.client,
		registry:       coll.db.client.registry,
		streamType:     CollectionStream,
		collectionName: coll.name,
		databaseName:   coll.db.name,
	}
	return newChangeStream(ctx, csConfig, pipeline, opts...)
}

// aggregateParams is used to store information to configure an Aggregate
// operation.
type aggregateParams struct {
	client         *Client
	registry       *bsoncodec.Registry
	readPreference *readpref.ReadPref
	writeConcern   *writeconcern.WriteConcern
	db             string
	col            string
	pipeline       interface{}
	opts           []*options.AggregateOptions
}

// aggregate is the shared execution path for database-level and
// collection-level aggregations.
func aggregate(ctx context.Context, a aggregateParams) (*Cursor, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pipelineArr, hasWriteStage, err := transformAggregatePipeline(a.registry, a.pipeline)
	if err != nil {
		return nil, err
	}

	// A pipeline ending in $out or $merge writes: reads must be routed to the
	// primary and the default write concern applies.
	rp := a.readPreference
	if hasWriteStage && rp != nil && rp.Mode() != readpref.PrimaryMode {
		rp = readpref.Primary()
		a.client.writeStageWarnOnce.Do(func() {
			a.client.logger.Warn("$out or $merge stage specified. Overriding read preference to primary.")
		})
	}

	sess, err := session.NewImplicitClientSession()
	if err != nil {
		return nil, err
	}

	op := operation.NewAggregate(pipelineArr).
		Database(a.db).
		Collection(a.col).
		HasWriteStage(hasWriteStage).
		Deployment(a.client.deployment).
		ServerSelector(description.ReadPrefSelector(rp)).
		Session(sess)

	ao := options.MergeAggregateOptions(a.opts...)
	cursorOpts := a.client.createBaseCursorOptions()
	if ao.BatchSize != nil {
		op.BatchSize(*ao.BatchSize)
		cursorOpts.BatchSize = *ao.BatchSize
	}
	if ao.Collation != nil {
		op.Collation(ao.Collation.ToDocument())
	}
	if ao.MaxTime != nil {
		op.MaxTimeMS(int64(*ao.MaxTime / time.Millisecond))
	}
	custom := make(map[string]bsoncore.Value)
	if ao.AllowDiskUse != nil {
		adu, err := transformValue(a.registry, *ao.AllowDiskUse, true, "allowDiskUse")
		if err != nil {
			return nil, err
		}
		custom["allowDiskUse"] = adu
	}
	if ao.Custom != nil {
		for name, val := range ao.Custom {
			optValue, err := transformValue(a.registry, val, true, name)
			if err != nil {
				return nil, err
			}
			custom[name] = optValue
		}
	}
	if len(custom) > 0 {
		op.CustomOptions(custom)
	}
	if hasWriteStage && a.writeConcern != nil {
		op.WriteConcern(a.writeConcern)
	}

	if err := op.Execute(ctx); err != nil {
		sess.EndSession()
		return nil, replaceErrors(err)
	}

	bc, err := op.Result(cursorOpts)
	if err != nil {
		sess.EndSession()
		return nil, replaceErrors(err)
	}
	return newCursor(bc, sess, a.registry), nil
}

// transformValue marshals an arbitrary option value into a raw BSON value.
func transformValue(registry *bsoncodec.Registry, val interface{}, mapAllowed bool, paramName string) (bsoncore.Value, error) {
	wrapped, err := transformBsoncoreDocument(registry, map[string]interface{}{"v": val}, mapAllowed, paramName)
	if err != nil {
		return bsoncore.Value{}, err
	}
	return wrapped.Lookup("v"), nil
}
