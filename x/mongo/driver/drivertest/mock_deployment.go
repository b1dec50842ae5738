// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package drivertest provides a scripted mock deployment for driver tests.
// Responses are queued ahead of time and every command sent through the mock
// is recorded for later inspection, mirroring command monitoring assertions.
package drivertest

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mongomoe/mongo-go-driver/mongo/description"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver"
)

// CommandRecord is one command observed by the mock.
type CommandRecord struct {
	Database string
	Name     string
	Command  bsoncore.Document
}

type scriptedReply struct {
	doc bsoncore.Document
	err error
}

// MockDeployment implements driver.Deployment, driver.Server, and
// driver.Connection over a queue of scripted replies.
type MockDeployment struct {
	mu         sync.Mutex
	desc       description.Server
	replies    []scriptedReply
	commands   []CommandRecord
	selections int
}

// New returns a mock deployment describing a replica-set primary with a
// modern wire version range.
func New() *MockDeployment {
	wv := description.NewVersionRange(0, 21)
	return &MockDeployment{
		desc: description.Server{
			Addr:        description.Address("localhost:27017"),
			Kind:        description.RSPrimary,
			WireVersion: &wv,
		},
	}
}

// SetWireVersion overrides the maximum wire version the mock reports.
func (md *MockDeployment) SetWireVersion(max int32) {
	md.mu.Lock()
	defer md.mu.Unlock()
	wv := description.NewVersionRange(0, max)
	md.desc.WireVersion = &wv
}

// AddResponses queues reply documents to be returned by subsequent commands,
// one per command, in order. It panics if a document cannot be marshalled.
func (md *MockDeployment) AddResponses(responses ...interface{}) {
	md.mu.Lock()
	defer md.mu.Unlock()
	for _, response := range responses {
		doc, err := bson.Marshal(response)
		if err != nil {
			panic(fmt.Sprintf("drivertest: cannot marshal scripted response: %v", err))
		}
		md.replies = append(md.replies, scriptedReply{doc: doc})
	}
}

// AddError queues a transport-level error to be returned by the next command.
func (md *MockDeployment) AddError(err error) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.replies = append(md.replies, scriptedReply{err: err})
}

// ClearCommands discards the commands recorded so far.
func (md *MockDeployment) ClearCommands() {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.commands = nil
}

// Commands returns every command recorded since the last ClearCommands.
func (md *MockDeployment) Commands() []CommandRecord {
	md.mu.Lock()
	defer md.mu.Unlock()
	out := make([]CommandRecord, len(md.commands))
	copy(out, md.commands)
	return out
}

// CommandsNamed returns the recorded commands whose first key is name.
func (md *MockDeployment) CommandsNamed(name string) []CommandRecord {
	var out []CommandRecord
	for _, record := range md.Commands() {
		if record.Name == name {
			out = append(out, record)
		}
	}
	return out
}

// Selections returns how many times SelectServer has been called.
func (md *MockDeployment) Selections() int {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.selections
}

// SelectServer implements driver.Deployment.
func (md *MockDeployment) SelectServer(context.Context, description.ServerSelector) (driver.Server, error) {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.selections++
	return md, nil
}

// Connection implements driver.Server.
func (md *MockDeployment) Connection(context.Context) (driver.Connection, error) {
	return md, nil
}

// Command implements driver.Connection. It records the command and pops the
// next scripted reply.
func (md *MockDeployment) Command(_ context.Context, database string, cmd bsoncore.Document) (bsoncore.Document, error) {
	md.mu.Lock()
	defer md.mu.Unlock()

	name := ""
	if elems, err := cmd.Elements(); err == nil && len(elems) > 0 {
		name = elems[0].Key()
	}
	recorded := make(bsoncore.Document, len(cmd))
	copy(recorded, cmd)
	md.commands = append(md.commands, CommandRecord{Database: database, Name: name, Command: recorded})

	if len(md.replies) == 0 {
		return nil, fmt.Errorf("drivertest: no scripted reply for %q command", name)
	}
	next := md.replies[0]
	md.replies = md.replies[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.doc, nil
}

// Description implements driver.Connection.
func (md *MockDeployment) Description() description.Server {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.desc
}

// Close implements driver.Connection. The mock holds no resources.
func (md *MockDeployment) Close() error { return nil }

// CreateCursorResponse builds an {ok: 1} reply opening a cursor with the given
// id and namespace. batchKey must be "firstBatch" or "nextBatch".
func CreateCursorResponse(cursorID int64, ns string, batchKey string, docs ...bson.D) bson.D {
	batch := bson.A{}
	for _, doc := range docs {
		batch = append(batch, doc)
	}
	return bson.D{
		{Key: "cursor", Value: bson.D{
			{Key: "id", Value: cursorID},
			{Key: "ns", Value: ns},
			{Key: batchKey, Value: batch},
		}},
		{Key: "ok", Value: 1},
	}
}

// CreateCommandErrorResponse builds an {ok: 0} reply carrying a command error.
func CreateCommandErrorResponse(code int32, errmsg, codeName string, labels ...string) bson.D {
	response := bson.D{
		{Key: "ok", Value: 0},
		{Key: "errmsg", Value: errmsg},
	}
	if code != 0 {
		response = append(response, bson.E{Key: "code", Value: code})
	}
	if codeName != "" {
		response = append(response, bson.E{Key: "codeName", Value: codeName})
	}
	if len(labels) > 0 {
		labelVals := bson.A{}
		for _, label := range labels {
			labelVals = append(labelVals, label)
		}
		response = append(response, bson.E{Key: "errorLabels", Value: labelVals})
	}
	return response
}

// CreateSuccessResponse builds an {ok: 1} reply with the given extra fields.
func CreateSuccessResponse(elems ...bson.E) bson.D {
	response := bson.D{{Key: "ok", Value: 1}}
	return append(response, elems...)
}
