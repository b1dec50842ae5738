// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package session implements the implicit session handle that is attached to
// every command a change stream or cursor sends. Causal consistency and
// transaction state are out of scope; the handle carries the session id and
// tracks the last operationTime reported by the server.
package session

import (
	"crypto/rand"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// ErrSessionEnded is returned when a command is attached to an ended session.
var ErrSessionEnded = errors.New("ended session was used")

// Client is a driver session.
type Client struct {
	// SessionID is the {id: <UUID>} document sent as lsid on every command.
	SessionID bsoncore.Document
	// OperationTime is the latest operationTime observed in a server reply.
	OperationTime *primitive.Timestamp

	ended bool
}

// NewImplicitClientSession creates a new implicit session with a freshly
// generated session id.
func NewImplicitClientSession() (*Client, error) {
	var uuid [16]byte
	if _, err := rand.Read(uuid[:]); err != nil {
		return nil, err
	}
	// Variant and version bits per RFC 4122, matching the server's UUID
	// subtype expectations.
	uuid[6] = (uuid[6] & 0x0f) | 0x40
	uuid[8] = (uuid[8] & 0x3f) | 0x80

	idx, doc := bsoncore.AppendDocumentStart(nil)
	doc = bsoncore.AppendBinaryElement(doc, "id", 0x04, uuid[:])
	doc, err := bsoncore.AppendDocumentEnd(doc, idx)
	if err != nil {
		return nil, err
	}

	return &Client{SessionID: doc}, nil
}

// AdvanceOperationTime updates the session's tracked operationTime if the
// given timestamp is greater.
func (c *Client) AdvanceOperationTime(ts *primitive.Timestamp) error {
	if c.ended {
		return ErrSessionEnded
	}
	if ts == nil {
		return nil
	}
	if c.OperationTime == nil || primitive.CompareTimestamp(*ts, *c.OperationTime) > 0 {
		c.OperationTime = &primitive.Timestamp{T: ts.T, I: ts.I}
	}
	return nil
}

// EndSession ends the session. Ending is idempotent.
func (c *Client) EndSession() {
	c.ended = true
}

// Ended reports whether the session has been ended.
func (c *Client) Ended() bool {
	return c.ended
}
