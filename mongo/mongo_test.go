// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

func stageKeys(t *testing.T, arr bsoncore.Document) []string {
	t.Helper()
	vals, err := arr.Values()
	require.NoError(t, err)
	keys := make([]string, 0, len(vals))
	for _, val := range vals {
		doc, ok := val.DocumentOK()
		require.True(t, ok)
		elems, err := doc.Elements()
		require.NoError(t, err)
		require.NotEmpty(t, elems)
		keys = append(keys, elems[0].Key())
	}
	return keys
}

func TestTransformAggregatePipeline(t *testing.T) {
	t.Run("slice of stages", func(t *testing.T) {
		arr, hasWriteStage, err := transformAggregatePipeline(nil, Pipeline{
			{{"$match", bson.D{{"x", 1}}}},
			{{"$project", bson.D{{"ns", false}}}},
		})
		require.NoError(t, err)
		assert.False(t, hasWriteStage)
		assert.Equal(t, []string{"$match", "$project"}, stageKeys(t, arr))
	})

	t.Run("bson.A of stages", func(t *testing.T) {
		arr, hasWriteStage, err := transformAggregatePipeline(nil, bson.A{
			bson.D{{"$match", bson.D{{"x", 1}}}},
		})
		require.NoError(t, err)
		assert.False(t, hasWriteStage)
		assert.Equal(t, []string{"$match"}, stageKeys(t, arr))
	})

	t.Run("last stage $out is a write stage", func(t *testing.T) {
		_, hasWriteStage, err := transformAggregatePipeline(nil, Pipeline{
			{{"$match", bson.D{{"x", 1}}}},
			{{"$out", "target"}},
		})
		require.NoError(t, err)
		assert.True(t, hasWriteStage)
	})

	t.Run("last stage $merge is a write stage", func(t *testing.T) {
		_, hasWriteStage, err := transformAggregatePipeline(nil, Pipeline{
			{{"$merge", bson.D{{"into", "target"}}}},
		})
		require.NoError(t, err)
		assert.True(t, hasWriteStage)
	})

	t.Run("write stage not in last position does not count", func(t *testing.T) {
		_, hasWriteStage, err := transformAggregatePipeline(nil, Pipeline{
			{{"$out", "target"}},
			{{"$match", bson.D{{"x", 1}}}},
		})
		require.NoError(t, err)
		assert.False(t, hasWriteStage)
	})

	t.Run("pipeline wrapper document", func(t *testing.T) {
		arr, hasWriteStage, err := transformAggregatePipeline(nil, bson.D{
			{"pipeline", bson.A{
				bson.D{{"$match", bson.D{{"x", 1}}}},
				bson.D{{"$out", "target"}},
			}},
		})
		require.NoError(t, err)
		assert.True(t, hasWriteStage)
		assert.Equal(t, []string{"$match", "$out"}, stageKeys(t, arr))
	})

	t.Run("numerically-keyed pseudo-array", func(t *testing.T) {
		arr, hasWriteStage, err := transformAggregatePipeline(nil, bson.D{
			{"0", bson.D{{"$match", bson.D{{"x", 1}}}}},
			{"1", bson.D{{"$project", bson.D{{"x", 1}}}}},
		})
		require.NoError(t, err)
		assert.False(t, hasWriteStage)
		assert.Equal(t, []string{"$match", "$project"}, stageKeys(t, arr))
	})

	t.Run("empty pipeline", func(t *testing.T) {
		arr, hasWriteStage, err := transformAggregatePipeline(nil, Pipeline{})
		require.NoError(t, err)
		assert.False(t, hasWriteStage)
		vals, err := arr.Values()
		require.NoError(t, err)
		assert.Empty(t, vals)
	})

	t.Run("non-document value is rejected", func(t *testing.T) {
		_, _, err := transformAggregatePipeline(nil, 5)
		assert.Error(t, err)
	})
}

func TestTransformBsoncoreDocument(t *testing.T) {
	t.Run("nil document", func(t *testing.T) {
		_, err := transformBsoncoreDocument(nil, nil, true, "document")
		assert.ErrorIs(t, err, ErrNilDocument)
	})

	t.Run("multi-key map rejected for ordered parameter", func(t *testing.T) {
		_, err := transformBsoncoreDocument(nil, map[string]interface{}{"a": 1, "b": 2}, false, "sort")
		var mapErr ErrMapForOrderedArgument
		assert.ErrorAs(t, err, &mapErr)
	})

	t.Run("marshals bson.D", func(t *testing.T) {
		doc, err := transformBsoncoreDocument(nil, bson.D{{"x", 1}}, true, "document")
		require.NoError(t, err)
		x, ok := doc.Lookup("x").AsInt64OK()
		require.True(t, ok)
		assert.Equal(t, int64(1), x)
	})
}
