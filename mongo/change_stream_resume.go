// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongomoe/mongo-go-driver/mongo/description"
	"github.com/mongomoe/mongo-go-driver/mongo/options"
)

// replaceOptions projects the stream's resume position into its options ahead
// of a resume, in priority order:
//
//  1. A tracked resume token (a post batch resume token, the _id of the last
//     surfaced event, or the cached startAfter/resumeAfter anchor) becomes
//     resumeAfter and every other resume option is stripped.
//  2. Otherwise an operation time (the user's startAtOperationTime, or the
//     operationTime reported by the aggregate that opened the stream) becomes
//     startAtOperationTime, provided the server supports it.
//  3. Otherwise no resume option is sent and the server picks the position.
func (cs *ChangeStream) replaceOptions(wireVersion *description.VersionRange) {
	if cs.resumeToken != nil {
		cs.opts.SetResumeAfter(cs.resumeToken)
		cs.opts.StartAfter = nil
		cs.opts.StartAtOperationTime = nil
		return
	}

	if (cs.sess.OperationTime != nil || cs.opts.StartAtOperationTime != nil) &&
		wireVersion != nil && wireVersion.Max >= minOperationTimeWireVersion {
		opTime := cs.opts.StartAtOperationTime
		if cs.operationTime != nil {
			opTime = cs.operationTime
		}

		cs.opts.SetStartAtOperationTime(opTime)
		cs.opts.ResumeAfter = nil
		cs.opts.StartAfter = nil
		return
	}

	cs.opts.ResumeAfter = nil
	cs.opts.StartAfter = nil
	cs.opts.StartAtOperationTime = nil
}

// createPipelineOptionsDoc builds the $changeStream stage options from the
// current options. On the first open, user anchors are forwarded verbatim,
// even if the user supplied several; the server arbitrates legality.
func (cs *ChangeStream) createPipelineOptionsDoc() bsoncore.Document {
	plDocIdx, plDoc := bsoncore.AppendDocumentStart(nil)

	if cs.streamType == ClientStream {
		plDoc = bsoncore.AppendBooleanElement(plDoc, "allChangesForCluster", true)
	}

	fullDocument := string(options.Default)
	if cs.opts.FullDocument != nil {
		fullDocument = string(*cs.opts.FullDocument)
	}
	plDoc = bsoncore.AppendStringElement(plDoc, "fullDocument", fullDocument)

	if cs.opts.ResumeAfter != nil {
		var raDoc bsoncore.Document
		raDoc, cs.err = transformBsoncoreDocument(cs.registry, cs.opts.ResumeAfter, true, "resumeAfter")
		if cs.err != nil {
			return nil
		}

		plDoc = bsoncore.AppendDocumentElement(plDoc, "resumeAfter", raDoc)
	}

	if cs.opts.StartAfter != nil {
		var saDoc bsoncore.Document
		saDoc, cs.err = transformBsoncoreDocument(cs.registry, cs.opts.StartAfter, true, "startAfter")
		if cs.err != nil {
			return nil
		}

		plDoc = bsoncore.AppendDocumentElement(plDoc, "startAfter", saDoc)
	}

	if cs.opts.StartAtOperationTime != nil {
		plDoc = bsoncore.AppendTimestampElement(plDoc, "startAtOperationTime",
			cs.opts.StartAtOperationTime.T, cs.opts.StartAtOperationTime.I)
	}

	if cs.opts.CustomPipeline != nil {
		for optionName, optionValue := range cs.opts.CustomPipeline {
			transformed, err := transformValue(cs.registry, optionValue, false, optionName)
			if err != nil {
				cs.err = err
				return nil
			}
			plDoc = bsoncore.AppendValueElement(plDoc, optionName, transformed)
		}
	}

	if plDoc, cs.err = bsoncore.AppendDocumentEnd(plDoc, plDocIdx); cs.err != nil {
		return nil
	}

	return plDoc
}

// assemblePipeline places the $changeStream stage ahead of the user pipeline.
// The user pipeline is accepted in the same forms as plain aggregations: a
// slice of stages, a document wrapping a "pipeline" array, or a
// numerically-keyed pseudo-array document.
func (cs *ChangeStream) assemblePipeline(pipeline interface{}) error {
	csIdx, csDoc := bsoncore.AppendDocumentStart(nil)
	csDocTemp := cs.createPipelineOptionsDoc()
	if cs.err != nil {
		return cs.err
	}
	csDoc = bsoncore.AppendDocumentElement(csDoc, "$changeStream", csDocTemp)
	csDoc, cs.err = bsoncore.AppendDocumentEnd(csDoc, csIdx)
	if cs.err != nil {
		return cs.err
	}
	cs.pipelineStages = append(cs.pipelineStages, csDoc)

	userArr, _, err := transformAggregatePipeline(cs.registry, pipeline)
	if err != nil {
		cs.err = err
		return cs.err
	}
	vals, err := userArr.Values()
	if err != nil {
		cs.err = MarshalError{Value: userArr, Err: err}
		return cs.err
	}
	for i, val := range vals {
		stage, ok := val.DocumentOK()
		if !ok {
			cs.err = fmt.Errorf("pipeline stage %d should be a document but is a BSON %s", i, val.Type)
			return cs.err
		}
		cs.pipelineStages = append(cs.pipelineStages, stage)
	}

	return cs.err
}

// renderPipeline serializes the assembled stages into a BSON array.
func (cs *ChangeStream) renderPipeline() (bsoncore.Document, error) {
	pipelineDocIdx, pipelineArr := bsoncore.AppendArrayStart(nil)
	for i, doc := range cs.pipelineStages {
		pipelineArr = bsoncore.AppendDocumentElement(pipelineArr, strconv.Itoa(i), doc)
	}
	if pipelineArr, cs.err = bsoncore.AppendArrayEnd(pipelineArr, pipelineDocIdx); cs.err != nil {
		return nil, cs.err
	}
	return pipelineArr, cs.err
}
