// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package mongo provides the change-stream client core: Watch entry points at
// collection, database, and deployment scope, the resumable ChangeStream, and
// the plain aggregation surface the change stream shares its command builder
// with.
package mongo

import (
	"fmt"
	"reflect"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// Pipeline is a type that makes creating aggregation pipelines easier. It is a
// helper and is intended for serializing to BSON.
//
// Example usage:
//
//	mongo.Pipeline{
//		{{"$group", bson.D{{"_id", "$state"}, {"totalPop", bson.D{{"$sum", "$pop"}}}}}},
//		{{"$match", bson.D{{"totalPop", bson.D{{"$gte", 10 * 1000 * 1000}}}}}},
//	}
type Pipeline []bson.D

// transformBsoncoreDocument marshals val into a raw document using the given
// registry. paramName is used in error messages.
func transformBsoncoreDocument(registry *bsoncodec.Registry, val interface{}, mapAllowed bool, paramName string) (bsoncore.Document, error) {
	if registry == nil {
		registry = bson.DefaultRegistry
	}
	if val == nil {
		return nil, ErrNilDocument
	}
	if bs, ok := val.([]byte); ok {
		// Slight optimization so we'll just use MarshalBSON and not go through the codec machinery.
		val = bson.Raw(bs)
	}
	if !mapAllowed {
		refValue := reflect.ValueOf(val)
		if refValue.Kind() == reflect.Map && refValue.Len() > 1 {
			return nil, ErrMapForOrderedArgument{paramName}
		}
	}

	doc, err := bson.MarshalWithRegistry(registry, val)
	if err != nil {
		return nil, MarshalError{Value: val, Err: err}
	}
	return doc, nil
}

// transformAggregatePipeline turns the given pipeline value into a BSON array
// of stage documents. Three forms are accepted: a slice or array of stages, a
// document wrapping the stages in a "pipeline" array field, and a document
// whose keys form a numerically-keyed pseudo-array ("0", "1", ...), iterated
// in the order given. The second return value reports whether the last stage
// is $out or $merge.
func transformAggregatePipeline(registry *bsoncodec.Registry, pipeline interface{}) (bsoncore.Document, bool, error) {
	switch t := pipeline.(type) {
	case Pipeline:
		return stagesToArray(registry, reflect.ValueOf([]bson.D(t)))
	case bsoncore.Document:
		return pipelineFromDocument(t)
	case bson.Raw:
		return pipelineFromDocument(bsoncore.Document(t))
	case bson.D:
		// bson.D is a slice type but is a document, not a list of stages.
		doc, err := transformBsoncoreDocument(registry, t, true, "pipeline")
		if err != nil {
			return nil, false, err
		}
		return pipelineFromDocument(doc)
	}

	val := reflect.ValueOf(pipeline)
	if val.IsValid() && (val.Kind() == reflect.Slice || val.Kind() == reflect.Array) {
		return stagesToArray(registry, val)
	}

	// Any other value must marshal to a document; it is then either a
	// "pipeline" wrapper or a numerically-keyed pseudo-array.
	doc, err := transformBsoncoreDocument(registry, pipeline, true, "pipeline")
	if err != nil {
		return nil, false, err
	}
	return pipelineFromDocument(doc)
}

func stagesToArray(registry *bsoncodec.Registry, val reflect.Value) (bsoncore.Document, bool, error) {
	aidx, arr := bsoncore.AppendArrayStart(nil)
	var hasWriteStage bool
	for i := 0; i < val.Len(); i++ {
		doc, err := transformBsoncoreDocument(registry, val.Index(i).Interface(), true, fmt.Sprintf("pipeline stage :%v", i))
		if err != nil {
			return nil, false, err
		}
		if i == val.Len()-1 {
			hasWriteStage = stageHasWriteKey(doc)
		}
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), doc)
	}
	arr, err := bsoncore.AppendArrayEnd(arr, aidx)
	if err != nil {
		return nil, false, err
	}
	return arr, hasWriteStage, nil
}

func pipelineFromDocument(doc bsoncore.Document) (bsoncore.Document, bool, error) {
	if err := doc.Validate(); err != nil {
		return nil, false, MarshalError{Value: doc, Err: err}
	}

	if wrapped, err := doc.LookupErr("pipeline"); err == nil {
		if wrapped.Type != bsontype.Array {
			return nil, false, fmt.Errorf("pipeline field should be an array but is a BSON %s", wrapped.Type)
		}
		arr := bsoncore.Document(wrapped.Data)
		hasWriteStage, err := lastStageHasWriteKey(arr)
		if err != nil {
			return nil, false, err
		}
		return arr, hasWriteStage, nil
	}

	// Numerically-keyed pseudo-array: re-key the document's values in the
	// order given.
	vals, err := doc.Values()
	if err != nil {
		return nil, false, MarshalError{Value: doc, Err: err}
	}
	aidx, arr := bsoncore.AppendArrayStart(nil)
	var hasWriteStage bool
	for i, val := range vals {
		if val.Type != bsontype.EmbeddedDocument {
			return nil, false, fmt.Errorf("pipeline stage %d should be a document but is a BSON %s", i, val.Type)
		}
		stage := bsoncore.Document(val.Data)
		if i == len(vals)-1 {
			hasWriteStage = stageHasWriteKey(stage)
		}
		arr = bsoncore.AppendDocumentElement(arr, strconv.Itoa(i), stage)
	}
	arr, err = bsoncore.AppendArrayEnd(arr, aidx)
	if err != nil {
		return nil, false, err
	}
	return arr, hasWriteStage, nil
}

func lastStageHasWriteKey(arr bsoncore.Document) (bool, error) {
	vals, err := arr.Values()
	if err != nil {
		return false, MarshalError{Value: arr, Err: err}
	}
	if len(vals) == 0 {
		return false, nil
	}
	last := vals[len(vals)-1]
	if last.Type != bsontype.EmbeddedDocument {
		return false, fmt.Errorf("pipeline stage %d should be a document but is a BSON %s", len(vals)-1, last.Type)
	}
	return stageHasWriteKey(bsoncore.Document(last.Data)), nil
}

func stageHasWriteKey(stage bsoncore.Document) bool {
	if _, err := stage.LookupErr("$out"); err == nil {
		return true
	}
	if _, err := stage.LookupErr("$merge"); err == nil {
		return true
	}
	return false
}
