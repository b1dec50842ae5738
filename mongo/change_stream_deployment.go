// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package mongo

import (
	"context"

	"github.com/mongomoe/mongo-go-driver/mongo/description"
	"github.com/mongomoe/mongo-go-driver/x/mongo/driver"
)

// changeStreamDeployment pins an aggregate to the server and connection the
// engine already selected, so the command and the wire version the engine
// captured agree. The engine owns the connection's lifetime.
type changeStreamDeployment struct {
	server driver.Server
	conn   driver.Connection
}

var _ driver.Deployment = (*changeStreamDeployment)(nil)
var _ driver.Server = (*changeStreamDeployment)(nil)

func (c *changeStreamDeployment) SelectServer(context.Context, description.ServerSelector) (driver.Server, error) {
	return c, nil
}

func (c *changeStreamDeployment) Connection(context.Context) (driver.Connection, error) {
	return borrowedConnection{c.conn}, nil
}

// borrowedConnection prevents the operation layer from releasing a connection
// it does not own.
type borrowedConnection struct {
	driver.Connection
}

func (borrowedConnection) Close() error { return nil }
