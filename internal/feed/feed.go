// Package feed turns an ordered store log into a live, cancelable stream.
//
// A stream keeps an explicit cursor: it reads the topic ascending from the
// last delivered position with no window limit, so a burst of appends can
// never push an undelivered entry out of view.
package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mossy-p/telecare-signaling/internal/store"
	"github.com/rs/zerolog/log"
)

// Spec describes one kind of stream: which topic to follow, how to map
// entries onto payloads, and which payloads to deliver.
type Spec[T any] struct {
	Name   string
	Topic  string
	Decode func(store.Entry) (T, error)
	// Match filters decoded payloads; nil delivers everything.
	Match func(T) bool
}

// Event is a delivered payload and its position in the topic.
type Event[T any] struct {
	Cursor  store.Cursor
	Payload T
}

// Start selects where a stream begins.
type Start struct {
	After  store.Cursor
	Latest bool
}

// From resumes strictly after cursor; the zero cursor replays the topic.
func From(cursor store.Cursor) Start {
	return Start{After: cursor}
}

// Latest delivers only entries appended after the stream opens.
var Latest = Start{Latest: true}

// Broker opens streams over one log and counts the live ones.
type Broker struct {
	log    store.Log
	block  time.Duration
	batch  int
	active atomic.Int64
}

func NewBroker(l store.Log, block time.Duration, batch int) *Broker {
	if block <= 0 {
		block = time.Second
	}
	if batch <= 0 {
		batch = 64
	}
	return &Broker{log: l, block: block, batch: batch}
}

// Active returns the number of open streams.
func (b *Broker) Active() int64 {
	return b.active.Load()
}

// Stream delivers events until it is closed, its context ends, or the store fails.
type Stream[T any] struct {
	events chan Event[T]
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// Events is closed when the stream terminates.
func (s *Stream[T]) Events() <-chan Event[T] {
	return s.events
}

// Done is closed once the stream has released its store read.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream terminated; nil after a cancellation.
// Only valid once Done is closed.
func (s *Stream[T]) Err() error {
	return s.err
}

// Close cancels the stream and waits for its reader to exit.
func (s *Stream[T]) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Open starts following spec.Topic. Setup errors are returned directly;
// later store failures end the stream and surface through Err.
func Open[T any](ctx context.Context, b *Broker, spec Spec[T], start Start) (*Stream[T], error) {
	cursor := start.After
	if start.Latest {
		last, err := b.log.Recent(ctx, spec.Topic, 1)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			cursor = last[0].Cursor
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream[T]{
		events: make(chan Event[T]),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	b.active.Add(1)
	go func() {
		defer close(s.done)
		defer b.active.Add(-1)
		defer close(s.events)
		s.err = run(ctx, b, spec, cursor, s.events)
	}()
	return s, nil
}

func run[T any](ctx context.Context, b *Broker, spec Spec[T], cursor store.Cursor, out chan<- Event[T]) error {
	logger := log.With().Str("stream", spec.Name).Str("topic", spec.Topic).Logger()
	logger.Debug().Str("cursor", cursor.String()).Msg("Stream opened")
	defer func() { logger.Debug().Msg("Stream closed") }()

	for {
		entries, err := b.log.Read(ctx, spec.Topic, cursor, b.batch, b.block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("Stream read failed")
			return err
		}

		for _, entry := range entries {
			payload, err := spec.Decode(entry)
			if err != nil {
				logger.Warn().Err(err).Str("cursor", entry.Cursor.String()).Msg("Skipping undecodable entry")
				cursor = entry.Cursor
				continue
			}
			if spec.Match != nil && !spec.Match(payload) {
				cursor = entry.Cursor
				continue
			}

			select {
			case out <- Event[T]{Cursor: entry.Cursor, Payload: payload}:
				cursor = entry.Cursor
			case <-ctx.Done():
				return nil
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}
