// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package options

import (
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"

	"github.com/mongomoe/mongo-go-driver/mongo/readpref"
	"github.com/mongomoe/mongo-go-driver/mongo/writeconcern"
)

// ClientOptions contains options to configure a Client instance.
type ClientOptions struct {
	// The read preference honoured during server selection. Defaults to
	// primary.
	ReadPreference *readpref.ReadPref

	// The default write concern inherited by databases and collections.
	WriteConcern *writeconcern.WriteConcern

	// The BSON registry used to marshal and unmarshal user documents.
	Registry *bsoncodec.Registry

	// The logger used for driver warnings and diagnostics. Defaults to the
	// logrus standard logger.
	Logger *logrus.Logger
}

// Client creates a new ClientOptions instance.
func Client() *ClientOptions {
	return &ClientOptions{}
}

// SetReadPreference sets the value for the ReadPreference field.
func (co *ClientOptions) SetReadPreference(rp *readpref.ReadPref) *ClientOptions {
	co.ReadPreference = rp
	return co
}

// SetWriteConcern sets the value for the WriteConcern field.
func (co *ClientOptions) SetWriteConcern(wc *writeconcern.WriteConcern) *ClientOptions {
	co.WriteConcern = wc
	return co
}

// SetRegistry sets the value for the Registry field.
func (co *ClientOptions) SetRegistry(registry *bsoncodec.Registry) *ClientOptions {
	co.Registry = registry
	return co
}

// SetLogger sets the value for the Logger field.
func (co *ClientOptions) SetLogger(logger *logrus.Logger) *ClientOptions {
	co.Logger = logger
	return co
}

// MergeClientOptions combines the given ClientOptions instances into a single
// instance in a last-one-wins fashion.
func MergeClientOptions(opts ...*ClientOptions) *ClientOptions {
	clientOpts := Client()
	for _, co := range opts {
		if co == nil {
			continue
		}
		if co.ReadPreference != nil {
			clientOpts.ReadPreference = co.ReadPreference
		}
		if co.WriteConcern != nil {
			clientOpts.WriteConcern = co.WriteConcern
		}
		if co.Registry != nil {
			clientOpts.Registry = co.Registry
		}
		if co.Logger != nil {
			clientOpts.Logger = co.Logger
		}
	}
	return clientOpts
}

// DatabaseOptions contains options to configure a Database instance.
type DatabaseOptions struct {
	// The read preference for operations run against the database.
	ReadPreference *readpref.ReadPref

	// The write concern for operations run against the database.
	WriteConcern *writeconcern.WriteConcern
}

// Database creates a new DatabaseOptions instance.
func Database() *DatabaseOptions {
	return &DatabaseOptions{}
}

// SetReadPreference sets the value for the ReadPreference field.
func (do *DatabaseOptions) SetReadPreference(rp *readpref.ReadPref) *DatabaseOptions {
	do.ReadPreference = rp
	return do
}

// SetWriteConcern sets the value for the WriteConcern field.
func (do *DatabaseOptions) SetWriteConcern(wc *writeconcern.WriteConcern) *DatabaseOptions {
	do.WriteConcern = wc
	return do
}

// MergeDatabaseOptions combines the given DatabaseOptions instances into a
// single instance in a last-one-wins fashion.
func MergeDatabaseOptions(opts ...*DatabaseOptions) *DatabaseOptions {
	dbOpts := Database()
	for _, do := range opts {
		if do == nil {
			continue
		}
		if do.ReadPreference != nil {
			dbOpts.ReadPreference = do.ReadPreference
		}
		if do.WriteConcern != nil {
			dbOpts.WriteConcern = do.WriteConcern
		}
	}
	return dbOpts
}

// CollectionOptions contains options to configure a Collection instance.
type CollectionOptions struct {
	// The read preference for operations run against the collection.
	ReadPreference *readpref.ReadPref

	// The write concern for operations run against the collection.
	WriteConcern *writeconcern.WriteConcern
}

// Collection creates a new CollectionOptions instance.
func Collection() *CollectionOptions {
	return &CollectionOptions{}
}

// SetReadPreference sets the value for the ReadPreference field.
func (co *CollectionOptions) SetReadPreference(rp *readpref.ReadPref) *CollectionOptions {
	co.ReadPreference = rp
	return co
}

// SetWriteConcern sets the value for the WriteConcern field.
func (co *CollectionOptions) SetWriteConcern(wc *writeconcern.WriteConcern) *CollectionOptions {
	co.WriteConcern = wc
	return co
}

// MergeCollectionOptions combines the given CollectionOptions instances into a
// single instance in a last-one-wins fashion.
func MergeCollectionOptions(opts ...*CollectionOptions) *CollectionOptions {
	collOpts := Collection()
	for _, co := range opts {
		if co == nil {
			continue
		}
		if co.ReadPreference != nil {
			collOpts.ReadPreference = co.ReadPreference
		}
		if co.WriteConcern != nil {
			collOpts.WriteConcern = co.WriteConcern
		}
	}
	return collOpts
}
