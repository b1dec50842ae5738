// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestExtractErrorFromServerResponse(t *testing.T) {
	t.Run("ok reply returns nil", func(t *testing.T) {
		doc, err := bson.Marshal(bson.D{{"ok", 1}})
		require.NoError(t, err)
		assert.Nil(t, ExtractErrorFromServerResponse(doc))
	})
	t.Run("error reply is parsed", func(t *testing.T) {
		doc, err := bson.Marshal(bson.D{
			{"ok", 0},
			{"code", 10107},
			{"errmsg", "not master"},
			{"codeName", "NotWritablePrimary"},
			{"errorLabels", bson.A{"ResumableChangeStreamError"}},
		})
		require.NoError(t, err)

		extracted := ExtractErrorFromServerResponse(doc)
		var srvErr Error
		require.True(t, errors.As(extracted, &srvErr))
		assert.Equal(t, int32(10107), srvErr.Code)
		assert.Equal(t, "not master", srvErr.Message)
		assert.Equal(t, "NotWritablePrimary", srvErr.Name)
		assert.True(t, srvErr.HasErrorLabel(ResumableChangeStreamErrorLabel))
		assert.NotNil(t, srvErr.Raw)
	})
}

func TestClassifyChangeStreamError(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		resume     bool
		killCursor bool
	}{
		{"transport failure", errors.New("connection closed"), true, false},
		{"internal error", Error{Code: 1, Message: "internal error"}, true, true},
		{"host unreachable", Error{Code: 6, Message: "host unreachable"}, true, true},
		{"unknown code", Error{Code: 12345, Message: "random error"}, true, true},
		{"interrupted", Error{Code: 11601, Message: "interrupted"}, false, true},
		{"capped position lost", Error{Code: 136, Message: "capped position lost"}, false, true},
		{"cursor killed", Error{Code: 237, Message: "cursor killed"}, false, false},
		{"cursor not found", Error{Code: 43, Message: "cursor id not found"}, true, false},
		{"not master by code", Error{Code: 10107, Message: "not master"}, true, false},
		{"stepped down", Error{Code: 189, Message: "stepping down"}, true, false},
		{"codeless not master", Error{Message: "not master"}, true, false},
		{"codeless node is recovering", Error{Message: "node is recovering"}, true, false},
		{"codeless random error", Error{Message: "random error"}, false, true},
		{
			"resumable label wins over fatal code",
			Error{Code: 11601, Message: "interrupted", Labels: []string{ResumableChangeStreamErrorLabel}},
			true, true,
		},
		{
			"network label means the cursor is unreachable",
			Error{Code: 6, Message: "host unreachable", Labels: []string{NetworkErrorLabel}},
			true, false,
		},
		{
			"labels without resumable label are fatal",
			Error{Code: 6, Message: "host unreachable", Labels: []string{"RetryableWriteError"}},
			false, true,
		},
		{
			"label on state-change error skips killCursors",
			Error{Code: 10107, Message: "not master", Labels: []string{ResumableChangeStreamErrorLabel}},
			true, false,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			want := ResumeAction{Resume: tc.resume, KillCursor: tc.killCursor}
			got := ClassifyChangeStreamError(tc.err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("classification mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestErrorStateChange(t *testing.T) {
	assert.True(t, Error{Code: 13435}.NotPrimary())
	assert.True(t, Error{Code: 91}.NodeIsRecovering())
	assert.True(t, Error{Message: "node is recovering: shutdown"}.NodeIsRecovering())
	// With a code present, legacy message sniffing is disabled.
	assert.False(t, Error{Code: 12345, Message: "not master"}.NotPrimary())
}
