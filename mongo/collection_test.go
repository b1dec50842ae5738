// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongomoe/mongo-go-driver/mongo/options"
	"github.com/mongomoe/mongo-go-driver/mongo/readpref"
	"github.com/mongomoe/mongo-go-driver/mongo/writeconcern"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver/drivertest"
)

func TestCollectionAggregate(t *testing.T) {
	t.Run("cursor iterates the result", func(t *testing.T) {
		md := drivertest.New()
		md.AddResponses(
			drivertest.CreateCursorResponse(7, testNS, "firstBatch", bson.D{{"x", 1}}, bson.D{{"x", 2}}),
			drivertest.CreateCursorResponse(0, testNS, "nextBatch"),
		)

		coll := newTestClient(t, md).Database("db").Collection("coll")
		cursor, err := coll.Aggregate(context.Background(), Pipeline{{{"$match", bson.D{{"x", bson.D{{"$gt", 0}}}}}}})
		require.NoError(t, err)
		defer func() { _ = cursor.Close(context.Background()) }()

		var results []struct {
			X int32 `bson:"x"`
		}
		for cursor.Next(context.Background()) {
			var res struct {
				X int32 `bson:"x"`
			}
			require.NoError(t, cursor.Decode(&res))
			results = append(results, res)
		}
		require.NoError(t, cursor.Err())
		require.Len(t, results, 2)
		assert.Equal(t, int32(1), results[0].X)
		assert.Equal(t, int32(2), results[1].X)
	})

	t.Run("write stage forces primary read preference with one warning", func(t *testing.T) {
		md := drivertest.New()
		md.AddResponses(
			drivertest.CreateCursorResponse(0, testNS, "firstBatch"),
			drivertest.CreateCursorResponse(0, testNS, "firstBatch"),
		)

		logger, hook := logrustest.NewNullLogger()
		logger.SetLevel(logrus.WarnLevel)
		client, err := NewClient(md, options.Client().
			SetReadPreference(readpref.Secondary()).
			SetLogger(logger))
		require.NoError(t, err)

		coll := client.Database("db").Collection("coll")
		pipeline := Pipeline{{{"$out", "target"}}}
		for i := 0; i < 2; i++ {
			cursor, err := coll.Aggregate(context.Background(), pipeline)
			require.NoError(t, err)
			_ = cursor.Close(context.Background())
		}

		// the override is warned about once, not per aggregation
		require.Len(t, hook.Entries, 1)
		assert.Equal(t, logrus.WarnLevel, hook.Entries[0].Level)
		assert.Contains(t, hook.Entries[0].Message, "Overriding read preference to primary")
	})

	t.Run("write stage inherits the default write concern", func(t *testing.T) {
		md := drivertest.New()
		md.AddResponses(drivertest.CreateCursorResponse(0, testNS, "firstBatch"))

		client, err := NewClient(md, options.Client().
			SetWriteConcern(writeconcern.New(writeconcern.WMajority())))
		require.NoError(t, err)

		coll := client.Database("db").Collection("coll")
		cursor, err := coll.Aggregate(context.Background(), Pipeline{{{"$merge", bson.D{{"into", "target"}}}}})
		require.NoError(t, err)
		_ = cursor.Close(context.Background())

		cmd := md.CommandsNamed("aggregate")[0].Command
		w, ok := cmd.Lookup("writeConcern").Document().Lookup("w").StringValueOK()
		require.True(t, ok)
		assert.Equal(t, "majority", w)
	})

	t.Run("write concern is not sent for read-only pipelines", func(t *testing.T) {
		md := drivertest.New()
		md.AddResponses(drivertest.CreateCursorResponse(0, testNS, "firstBatch"))

		client, err := NewClient(md, options.Client().
			SetWriteConcern(writeconcern.New(writeconcern.WMajority())))
		require.NoError(t, err)

		coll := client.Database("db").Collection("coll")
		cursor, err := coll.Aggregate(context.Background(), Pipeline{{{"$match", bson.D{{"x", 1}}}}})
		require.NoError(t, err)
		_ = cursor.Close(context.Background())

		cmd := md.CommandsNamed("aggregate")[0].Command
		_, err = cmd.LookupErr("writeConcern")
		assert.Error(t, err, "writeConcern should be omitted without a write stage")
	})

	t.Run("allowDiskUse is a top-level option", func(t *testing.T) {
		md := drivertest.New()
		md.AddResponses(drivertest.CreateCursorResponse(0, testNS, "firstBatch"))

		coll := newTestClient(t, md).Database("db").Collection("coll")
		cursor, err := coll.Aggregate(context.Background(), Pipeline{},
			options.Aggregate().SetAllowDiskUse(true))
		require.NoError(t, err)
		_ = cursor.Close(context.Background())

		adu, ok := md.CommandsNamed("aggregate")[0].Command.Lookup("allowDiskUse").BooleanOK()
		require.True(t, ok)
		assert.True(t, adu)
	})
}
