// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"

	"github.com/mongomoe/mongo-go-driver/mongo/options"
	"github.com/mongomoe/mongo-go-driver/mongo/readpref"
	"github.com/mongomoe/mongo-go-driver/mongo/writeconcern"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver"
)

// Client is a handle representing a MongoDB deployment. It is safe for
// concurrent use by multiple goroutines. Topology discovery, pooling, and
// authentication live behind the driver.Deployment it is constructed over.
type Client struct {
	deployment     driver.Deployment
	readPreference *readpref.ReadPref
	writeConcern   *writeconcern.WriteConcern
	registry       *bsoncodec.Registry
	logger         *logrus.Logger

	// Guards the one-time warning for write-stage read preference overrides.
	writeStageWarnOnce sync.Once
}

// NewClient creates a new client over the given deployment.
func NewClient(deployment driver.Deployment, opts ...*options.ClientOptions) (*Client, error) {
	if deployment == nil {
		return nil, errors.New("a client must be created over a non-nil deployment")
	}

	clientOpts := options.MergeClientOptions(opts...)
	client := &Client{
		deployment:     deployment,
		readPreference: clientOpts.ReadPreference,
		writeConcern:   clientOpts.WriteConcern,
		registry:       clientOpts.Registry,
		logger:         clientOpts.Logger,
	}
	if client.readPreference == nil {
		client.readPreference = readpref.Primary()
	}
	if client.registry == nil {
		client.registry = bson.DefaultRegistry
	}
	if client.logger == nil {
		client.logger = logrus.StandardLogger()
	}
	return client, nil
}

// Database returns a handle for a database with the given name.
func (c *Client) Database(name string, opts ...*options.DatabaseOptions) *Database {
	return newDatabase(c, name, opts...)
}

// Watch returns a change stream for all changes on the deployment. The
// pipeline parameter must be an array of documents, each representing a
// pipeline stage.
func (c *Client) Watch(ctx context.Context, pipeline interface{},
	opts ...*options.ChangeStreamOptions) (*ChangeStream, error) {
	csConfig := changeStreamConfig{
		readPreference: c.readPreference,
		client:         c,
		registry:       c.registry,
		streamType:     ClientStream,
	}
	return newChangeStream(ctx, csConfig, pipeline, opts...)
}

func (c *Client) createBaseCursorOptions() driver.CursorOptions {
	return driver.CursorOptions{}
}
