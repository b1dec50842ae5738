// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package description contains types for the descriptions of the servers an
// operation can be routed to, and the selectors that choose among them.
package description

import (
	"fmt"

	"github.com/mongomoe/mongo-go-driver/mongo/readpref"
)

// Address is the canonical "host:port" address of a server.
type Address string

// String returns the address as a string.
func (a Address) String() string {
	return string(a)
}

// ServerKind represents the type of a single server in a topology.
type ServerKind uint32

// ServerKind constants.
const (
	Standalone  ServerKind = 1
	RSMember    ServerKind = 2
	RSPrimary   ServerKind = 4 + RSMember
	RSSecondary ServerKind = 8 + RSMember
	Mongos      ServerKind = 256
	Unknown     ServerKind = 0
)

// String returns the string representation of the server kind.
func (kind ServerKind) String() string {
	switch kind {
	case Standalone:
		return "Standalone"
	case RSMember:
		return "RSOther"
	case RSPrimary:
		return "RSPrimary"
	case RSSecondary:
		return "RSSecondary"
	case Mongos:
		return "Mongos"
	}
	return "Unknown"
}

// VersionRange represents a range of wire protocol versions.
type VersionRange struct {
	Min int32
	Max int32
}

// NewVersionRange creates a new VersionRange given a min and a max.
func NewVersionRange(min, max int32) VersionRange {
	return VersionRange{Min: min, Max: max}
}

// Includes returns a bool indicating whether the supplied integer is included
// in the range.
func (vr VersionRange) Includes(v int32) bool {
	return v >= vr.Min && v <= vr.Max
}

// String implements the fmt.Stringer interface.
func (vr VersionRange) String() string {
	return fmt.Sprintf("[%d, %d]", vr.Min, vr.Max)
}

// Server contains the description of a server negotiated during the handshake.
type Server struct {
	Addr        Address
	Kind        ServerKind
	WireVersion *VersionRange
}

// ServerSelector is an interface implemented by types that can perform server
// selection given a list of server descriptions.
type ServerSelector interface {
	SelectServer([]Server) ([]Server, error)
}

// ServerSelectorFunc is a function that can be used as a ServerSelector.
type ServerSelectorFunc func([]Server) ([]Server, error)

// SelectServer implements the ServerSelector interface.
func (ssf ServerSelectorFunc) SelectServer(srvs []Server) ([]Server, error) {
	return ssf(srvs)
}

// ReadPrefSelector selects servers based on the provided read preference. A nil
// read preference is treated as primary.
func ReadPrefSelector(rp *readpref.ReadPref) ServerSelector {
	return ServerSelectorFunc(func(srvs []Server) ([]Server, error) {
		mode := readpref.PrimaryMode
		if rp != nil {
			mode = rp.Mode()
		}

		var selected []Server
		for _, srv := range srvs {
			if selectable(srv.Kind, mode) {
				selected = append(selected, srv)
			}
		}
		return selected, nil
	})
}

func selectable(kind ServerKind, mode readpref.Mode) bool {
	// Standalone servers and mongos routers satisfy every mode.
	if kind == Standalone || kind == Mongos {
		return true
	}

	switch mode {
	case readpref.PrimaryMode:
		return kind == RSPrimary
	case readpref.SecondaryMode:
		return kind == RSSecondary
	case readpref.PrimaryPreferredMode, readpref.SecondaryPreferredMode, readpref.NearestMode:
		return kind == RSPrimary || kind == RSSecondary
	}
	return false
}
