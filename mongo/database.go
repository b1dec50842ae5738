// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"

	"github.com/mongomoe/mongo-go-driver/mongo/options"
	"github.com/mongomoe/mongo-go-driver/mongo/readpref"
	"github.com/mongomoe/mongo-go-driver/mongo/writeconcern"
)

// Database is a handle to a MongoDB database.
type Database struct {
	client         *Client
	name           string
	readPreference *readpref.ReadPref
	writeConcern   *writeconcern.WriteConcern
}

func newDatabase(client *Client, name string, opts ...*options.DatabaseOptions) *Database {
	dbOpts := options.MergeDatabaseOptions(opts...)

	rp := client.readPreference
	if dbOpts.ReadPreference != nil {
		rp = dbOpts.ReadPreference
	}
	wc := client.writeConcern
	if dbOpts.WriteConcern != nil {
		wc = dbOpts.WriteConcern
	}

	return &Database{
		client:         client,
		name:           name,
		readPreference: rp,
		writeConcern:   wc,
	}
}

// Client returns the Client the Database was created from.
func (db *Database) Client() *Client {
	return db.client
}

// Name returns the name of the database.
func (db *Database) Name() string {
	return db.name
}

// Collection returns a handle for a collection with the given name.
func (db *Database) Collection(name string, opts ...*options.CollectionOptions) *Collection {
	return newCollection(db, name, opts...)
}

// Aggregate executes an aggregate command against the database and returns a
// cursor over the resulting documents.
func (db *Database) Aggregate(ctx context.Context, pipeline interface{},
	opts ...*options.AggregateOptions) (*Cursor, error) {
	a := aggregateParams{
		client:         db.client,
		registry:       db.client.registry,
		readPreference: db.readPreference,
		writeConcern:   db.writeConcern,
		db:             db.name,
		pipeline:       pipeline,
		opts:           opts,
	}
	return aggregate(ctx, a)
}

// Watch returns a change stream for all changes to the corresponding database.
// The pipeline parameter must be an array of documents, each representing a
// pipeline stage.
func (db *Database) Watch(ctx context.Context, pipeline interface{},
	opts ...*options.ChangeStreamOptions) (*ChangeStream, error) {
	csConfig := changeStreamConfig{
		readPreference: db.readPreference,
		client:         db.client,
		registry:       db.client.registry,
		streamType:     DatabaseStream,
		databaseName:   db.name,
	}
	return newChangeStream(ctx, csConfig, pipeline, opts...)
}
