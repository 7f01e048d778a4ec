package jobclient

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"comfyclient/internal/bus"
	"comfyclient/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultRouterTimeout    = 20 * time.Second
	defaultSequencerTimeout = 5 * time.Second
)

// StateStore persists the serialized State.
// Load returns nil bytes and a nil error when nothing has been saved yet.
type StateStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, b []byte) error
}

// ImageSink stores one received image and returns where it ended up.
type ImageSink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// Config encapsulates all tunables for Client construction.
type Config struct {
	// Our is the address this client answers as. Admin requests are only
	// accepted from Our.Node.
	Our        types.Address
	Transport  bus.Transport
	StateStore StateStore
	Images     ImageSink
	Publisher  EventPublisher
	Logger     zerolog.Logger
	// RouterTimeout bounds the wait for the router's answer to RunJob.
	RouterTimeout time.Duration
	// SequencerTimeout bounds a chain state read.
	SequencerTimeout time.Duration
}
