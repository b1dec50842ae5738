// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package watcher supervises long-lived change streams. The change stream
// engine transparently recovers from resumable failures, but a stream still
// dies on fatal errors and invalidate events; a Watcher re-opens it from the
// last persisted resume token with exponential backoff, so processing picks up
// where it left off across stream generations and process restarts.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"github.com/mongomoe/mongo-go-driver/mongo"
	"github.com/mongomoe/mongo-go-driver/mongo/options"
)

// ResumePointStore persists the stream position between stream generations.
type ResumePointStore interface {
	// Load returns the last saved resume token, or nil if none has been saved.
	Load(ctx context.Context) (bson.Raw, error)
	// Save persists the given resume token.
	Save(ctx context.Context, token bson.Raw) error
}

// InMemoryStore is a ResumePointStore that keeps the resume token in memory.
// It survives stream restarts within a process but not process restarts.
type InMemoryStore struct {
	mu    sync.Mutex
	token bson.Raw
}

// Load implements ResumePointStore.
func (s *InMemoryStore) Load(context.Context) (bson.Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

// Save implements ResumePointStore.
func (s *InMemoryStore) Save(_ context.Context, token bson.Raw) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = append(bson.Raw{}, token...)
	return nil
}

// WatchFunc opens a change stream with the given options. The watcher adds a
// resumeAfter anchor to the options when it holds a persisted token.
type WatchFunc func(ctx context.Context, opts *options.ChangeStreamOptions) (*mongo.ChangeStream, error)

// CollectionWatchFunc adapts a collection to a WatchFunc.
func CollectionWatchFunc(coll *mongo.Collection, pipeline interface{}) WatchFunc {
	return func(ctx context.Context, opts *options.ChangeStreamOptions) (*mongo.ChangeStream, error) {
		return coll.Watch(ctx, pipeline, opts)
	}
}

// EventHandler processes one change event. An error stops the current stream
// generation; the watcher restarts from the last saved token, so the failed
// event is redelivered.
type EventHandler func(ctx context.Context, event bson.Raw) error

// Option configures a Watcher.
type Option func(*Watcher)

// WithStore sets the resume point store. The default is an InMemoryStore.
func WithStore(store ResumePointStore) Option {
	return func(w *Watcher) { w.store = store }
}

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithBackOff sets the restart delay policy. The default is an exponential
// backoff with no upper time limit.
func WithBackOff(b backoff.BackOff) Option {
	return func(w *Watcher) { w.backoff = b }
}

// WithStreamOptions sets base change stream options applied to every stream
// generation. Resume anchors in them are superseded once a token is persisted.
func WithStreamOptions(opts *options.ChangeStreamOptions) Option {
	return func(w *Watcher) { w.streamOpts = opts }
}

// Watcher owns one change stream at a time, dispatching its events to a
// handler and persisting the resume token after each event.
type Watcher struct {
	watch      WatchFunc
	handler    EventHandler
	store      ResumePointStore
	logger     *logrus.Logger
	backoff    backoff.BackOff
	streamOpts *options.ChangeStreamOptions
}

// New creates a Watcher that opens streams via watch and dispatches events to
// handler.
func New(watch WatchFunc, handler EventHandler, opts ...Option) *Watcher {
	w := &Watcher{watch: watch, handler: handler}
	for _, opt := range opts {
		opt(w)
	}
	if w.store == nil {
		w.store = &InMemoryStore{}
	}
	if w.logger == nil {
		w.logger = logrus.StandardLogger()
	}
	if w.backoff == nil {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 0
		w.backoff = b
	}
	return w
}

// Run watches until ctx is cancelled. Each time the stream dies it is
// re-opened from the last persisted resume token after a backoff delay.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := backoff.WithContext(w.backoff, ctx)
	for {
		err := w.runStream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			w.logger.WithError(err).Warn("change stream terminated, reopening from last resume point")
		}

		next := ticker.NextBackOff()
		if next == backoff.Stop {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next):
		}
	}
}

// runStream drives a single stream generation to its end. A nil return means
// the stream ended without an error (e.g. the collection was dropped and the
// cursor invalidated).
func (w *Watcher) runStream(ctx context.Context) error {
	opts := options.MergeChangeStreamOptions(w.streamOpts)

	token, err := w.store.Load(ctx)
	if err != nil {
		return err
	}
	if token != nil {
		opts.SetResumeAfter(token)
		opts.StartAfter = nil
		opts.StartAtOperationTime = nil
	}

	stream, err := w.watch(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close(context.Background()) }()

	for stream.Next(ctx) {
		if err := w.handler(ctx, stream.Current); err != nil {
			return err
		}
		if err := w.store.Save(ctx, stream.ResumeToken()); err != nil {
			return err
		}
		// Progress was made; the next restart starts a fresh delay sequence.
		w.backoff.Reset()
	}
	return stream.Err()
}

// Group runs a set of watchers concurrently, one per watched namespace. The
// first watcher to fail cancels the rest.
type Group struct {
	watchers []*Watcher
}

// NewGroup creates a Group of the given watchers.
func NewGroup(watchers ...*Watcher) *Group {
	return &Group{watchers: watchers}
}

// Add appends a watcher to the group. Add must not be called after Run.
func (g *Group) Add(w *Watcher) {
	g.watchers = append(g.watchers, w)
}

// Run runs every watcher until ctx is cancelled or one of them fails.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, w := range g.watchers {
		w := w
		eg.Go(func() error {
			return w.Run(ctx)
		})
	}
	return eg.Wait()
}
