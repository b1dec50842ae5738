// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package driver

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// ResumableChangeStreamErrorLabel is the error label the server attaches to
// getMore failures a change stream may recover from.
const ResumableChangeStreamErrorLabel = "ResumableChangeStreamError"

// NetworkErrorLabel is attached to errors originating from a transport
// failure rather than a server reply.
const NetworkErrorLabel = "NetworkError"

var (
	// The code a getMore reports when its cursor was already killed on the
	// server.
	errorCursorNotFound int32 = 43

	notPrimaryCodes = map[int32]struct{}{
		10107: {}, // NotWritablePrimary
		13435: {}, // NotPrimaryNoSecondaryOk
	}

	recoveringCodes = map[int32]struct{}{
		11600: {}, // InterruptedAtShutdown
		11602: {}, // InterruptedDueToReplStateChange
		13436: {}, // NotPrimaryOrSecondary
		189:   {}, // PrimarySteppedDown
		91:    {}, // ShutdownInProgress
	}

	// Codes that terminate a change stream even though most server errors on a
	// getMore are recoverable.
	fatalChangeStreamCodes = map[int32]struct{}{
		11601: {}, // Interrupted
		136:   {}, // CappedPositionLost
		237:   {}, // CursorKilled
	}
)

// Error is a command execution error from the server. Raw holds the complete
// reply document the error was extracted from.
type Error struct {
	Code    int32
	Message string
	Labels  []string
	Name    string
	Raw     bsoncore.Document
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%v) %v", e.Name, e.Message)
	}
	return e.Message
}

// HasErrorLabel returns true if the error contains the specified label.
func (e Error) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// NotPrimary returns true if this error is a "not primary" error.
func (e Error) NotPrimary() bool {
	if _, ok := notPrimaryCodes[e.Code]; ok {
		return true
	}
	return e.Code == 0 && strings.Contains(e.Message, "not master")
}

// NodeIsRecovering returns true if this error is a "node is recovering" error.
func (e Error) NodeIsRecovering() bool {
	if _, ok := recoveringCodes[e.Code]; ok {
		return true
	}
	return e.Code == 0 && strings.Contains(e.Message, "node is recovering")
}

// StateChange returns true if the error signals a server state change. A
// state-change error marks the server unknown: the cursor's address is no
// longer trusted and no killCursors round trip is owed for it.
func (e Error) StateChange() bool {
	return e.NotPrimary() || e.NodeIsRecovering()
}

// ServerSelectionError represents a failure to find a suitable server for an
// operation.
type ServerSelectionError struct {
	Wrapped error
}

// Error implements the error interface.
func (e ServerSelectionError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("server selection error: %v", e.Wrapped)
	}
	return "server selection error"
}

// Unwrap returns the underlying error.
func (e ServerSelectionError) Unwrap() error { return e.Wrapped }

// WireVersionError occurs when an operation requires a feature the selected
// server's negotiated wire version does not support.
type WireVersionError struct {
	Feature  string
	Required int32
	Max      int32
}

// Error implements the error interface.
func (e WireVersionError) Error() string {
	return fmt.Sprintf("%q does not support wire version %d, wire version %d is required",
		e.Feature, e.Max, e.Required)
}

// ExtractErrorFromServerResponse extracts a command error from the given
// server reply. It returns nil if the reply indicates success.
func ExtractErrorFromServerResponse(doc bsoncore.Document) error {
	if okVal, err := doc.LookupErr("ok"); err == nil {
		if ok, found := okVal.AsInt64OK(); found && ok == 1 {
			return nil
		}
	}

	srvErr := Error{Raw: doc}
	elems, err := doc.Elements()
	if err != nil {
		return Error{Message: "invalid server reply", Raw: doc}
	}
	for _, elem := range elems {
		switch elem.Key() {
		case "code":
			if c, ok := elem.Value().AsInt64OK(); ok {
				srvErr.Code = int32(c)
			}
		case "errmsg":
			if msg, ok := elem.Value().StringValueOK(); ok {
				srvErr.Message = msg
			}
		case "codeName":
			if name, ok := elem.Value().StringValueOK(); ok {
				srvErr.Name = name
			}
		case "errorLabels":
			if arr, ok := elem.Value().ArrayOK(); ok {
				vals, err := arr.Values()
				if err != nil {
					continue
				}
				for _, val := range vals {
					if label, ok := val.StringValueOK(); ok {
						srvErr.Labels = append(srvErr.Labels, label)
					}
				}
			}
		}
	}
	return srvErr
}

// ResumeAction describes how a change stream must react to a failure reported
// by the cursor it is iterating.
type ResumeAction struct {
	// Resume is true when the stream may transparently reopen at its tracked
	// resume position.
	Resume bool
	// KillCursor is true when the server is believed to still hold the cursor,
	// so a best-effort killCursors round trip is owed before reopening or at
	// teardown. It is false for transport failures, state-change errors, and
	// errors that imply the cursor is already gone.
	KillCursor bool
}

// ClassifyChangeStreamError decides whether a change stream may resume after
// the given failure. Transport-level failures are always resumable. For server
// errors, the ResumableChangeStreamError label decides when the server supplied
// labels; otherwise classification falls back to the numeric code, with a small
// set of codes treated as fatal and a legacy code-less "not master" / "node is
// recovering" message treated as a recoverable state change.
func ClassifyChangeStreamError(err error) ResumeAction {
	var srvErr Error
	if !errors.As(err, &srvErr) {
		// The cursor is unreachable over a broken connection; killing it would
		// waste a round trip.
		return ResumeAction{Resume: true, KillCursor: false}
	}

	cursorAlive := !srvErr.StateChange() &&
		srvErr.Code != errorCursorNotFound &&
		srvErr.Code != 237 // CursorKilled

	if srvErr.HasErrorLabel(NetworkErrorLabel) {
		return ResumeAction{Resume: true, KillCursor: false}
	}
	if len(srvErr.Labels) > 0 {
		return ResumeAction{
			Resume:     srvErr.HasErrorLabel(ResumableChangeStreamErrorLabel),
			KillCursor: cursorAlive,
		}
	}

	if srvErr.Code == errorCursorNotFound {
		return ResumeAction{Resume: true, KillCursor: false}
	}
	if _, fatal := fatalChangeStreamCodes[srvErr.Code]; fatal {
		return ResumeAction{Resume: false, KillCursor: cursorAlive}
	}
	if srvErr.Code == 0 {
		// Legacy path: servers that report neither a code nor labels are
		// recoverable only on the well-known state-change messages.
		return ResumeAction{Resume: srvErr.StateChange(), KillCursor: cursorAlive}
	}

	return ResumeAction{Resume: true, KillCursor: cursorAlive}
}
