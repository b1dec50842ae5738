// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNewImplicitClientSession(t *testing.T) {
	first, err := NewImplicitClientSession()
	require.NoError(t, err)
	second, err := NewImplicitClientSession()
	require.NoError(t, err)

	require.NoError(t, first.SessionID.Validate())
	subtype, data, ok := first.SessionID.Lookup("id").BinaryOK()
	require.True(t, ok)
	assert.Equal(t, byte(0x04), subtype)
	assert.Len(t, data, 16)
	assert.NotEqual(t, first.SessionID, second.SessionID, "session ids must be unique")
}

func TestAdvanceOperationTime(t *testing.T) {
	sess, err := NewImplicitClientSession()
	require.NoError(t, err)

	require.NoError(t, sess.AdvanceOperationTime(&primitive.Timestamp{T: 10, I: 1}))
	require.NoError(t, sess.AdvanceOperationTime(&primitive.Timestamp{T: 5, I: 9}))
	assert.Equal(t, &primitive.Timestamp{T: 10, I: 1}, sess.OperationTime, "operation time must not go backwards")

	require.NoError(t, sess.AdvanceOperationTime(&primitive.Timestamp{T: 10, I: 2}))
	assert.Equal(t, &primitive.Timestamp{T: 10, I: 2}, sess.OperationTime)

	require.NoError(t, sess.AdvanceOperationTime(nil))
	assert.Equal(t, &primitive.Timestamp{T: 10, I: 2}, sess.OperationTime)

	sess.EndSession()
	assert.ErrorIs(t, sess.AdvanceOperationTime(&primitive.Timestamp{T: 11}), ErrSessionEnded)
}
