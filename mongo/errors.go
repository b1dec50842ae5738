// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongomoe/mongo-go-driver/x/mongo/driver"
)

var (
	// ErrMissingResumeToken indicates that a change stream notification from the
	// server did not contain a resume token.
	ErrMissingResumeToken = errors.New("cannot provide resume functionality when the resume token is missing")
	// ErrNilCursor indicates that the underlying cursor for the change stream is nil.
	ErrNilCursor = errors.New("cursor is nil")
	// ErrNilDocument is returned when a nil document is passed to a CRUD method.
	ErrNilDocument = errors.New("document is nil")
)

// MarshalError is returned when attempting to marshal a value into a document
// results in an error.
type MarshalError struct {
	Value interface{}
	Err   error
}

// Error implements the error interface.
func (me MarshalError) Error() string {
	return fmt.Sprintf("cannot marshal type %T to a BSON Document: %v", me.Value, me.Err)
}

// Unwrap returns the underlying error.
func (me MarshalError) Unwrap() error { return me.Err }

// ErrMapForOrderedArgument is returned when a map with multiple keys is passed
// as a parameter for which the order of keys matters.
type ErrMapForOrderedArgument struct {
	ParamName string
}

// Error implements the error interface.
func (e ErrMapForOrderedArgument) Error() string {
	return fmt.Sprintf("multi-key map passed in for ordered parameter %v", e.ParamName)
}

// CommandError represents a server error during execution of a command. Raw
// contains the server's complete reply document when one was received.
type CommandError struct {
	Code    int32
	Message string
	Labels  []string
	Name    string
	Raw     bson.Raw
}

// Error implements the error interface.
func (e CommandError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("(%v) %v", e.Name, e.Message)
	}
	return e.Message
}

// HasErrorLabel returns true if the error contains the specified label.
func (e CommandError) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ServerSelectionError represents a failure to select a suitable server for an
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

// replaceErrors converts driver-layer errors into their public equivalents.
func replaceErrors(err error) error {
	if err == nil {
		return nil
	}

	var de driver.Error
	if errors.As(err, &de) {
		return CommandError{
			Code:    de.Code,
			Message: de.Message,
			Labels:  de.Labels,
			Name:    de.Name,
			Raw:     bson.Raw(de.Raw),
		}
	}
	var sse driver.ServerSelectionError
	if errors.As(err, &sse) {
		return ServerSelectionError{Wrapped: sse.Wrapped}
	}
	return err
}
