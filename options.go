package peerlink

import (
	"encoding/hex"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/peerlink/crypto"
	"github.com/opd-ai/peerlink/dht"
	"github.com/opd-ai/peerlink/transport"
)

const (
	// DefaultAnnounceInterval is the delay between a completed lookup and
	// the next announce/lookup cycle.
	DefaultAnnounceInterval = 10 * time.Second

	// DefaultKeepAliveInterval is the delay between heartbeats on a
	// connection.
	DefaultKeepAliveInterval = 10 * time.Second

	nameLength = 5
)

// Options configures a Channel.
type Options struct {
	// KeyPair is the local key pair. Required.
	KeyPair *crypto.KeyPair

	// PublicKey is the remote party's public key. Required.
	PublicKey [32]byte

	// Socket is the shared socket used to open clients. Required. The
	// channel never closes it.
	Socket transport.Socket

	// Discovery is the rendezvous service. Required.
	Discovery dht.Discovery

	// MyIP suppresses connections to this host.
	MyIP string

	// Name is used in log entries. Defaults to the first five hex
	// characters of PublicKey.
	Name string

	// OnData, OnWarn and OnConnected are installed before the channel
	// subscribes to discovery. Set them here rather than through the
	// Channel methods when discovery may already be ready and the socket
	// may already hold payloads from the remote.
	OnData      DataCallback
	OnWarn      WarnCallback
	OnConnected ConnectedCallback

	Cipher            crypto.Cipher
	AnnounceInterval  time.Duration
	KeepAliveInterval time.Duration
	Clock             clock.Clock
	Metrics           *Metrics
}

// NewOptions returns options with every optional field at its default.
// The caller fills in the required ones.
func NewOptions() *Options {
	return &Options{
		Cipher:            crypto.BoxCipher{},
		AnnounceInterval:  DefaultAnnounceInterval,
		KeepAliveInterval: DefaultKeepAliveInterval,
		Clock:             clock.New(),
	}
}

func (o *Options) validate() error {
	switch {
	case o.KeyPair == nil || crypto.IsZeroKey(o.KeyPair.Private):
		return missingOption("KeyPair")
	case crypto.IsZeroKey(o.PublicKey):
		return missingOption("PublicKey")
	case o.Socket == nil:
		return missingOption("Socket")
	case o.Discovery == nil:
		return missingOption("Discovery")
	}
	return nil
}

// withDefaults returns a copy of o with unset optional fields filled in.
func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Cipher == nil {
		opts.Cipher = crypto.BoxCipher{}
	}
	if opts.AnnounceInterval <= 0 {
		opts.AnnounceInterval = DefaultAnnounceInterval
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Name == "" {
		opts.Name = hex.EncodeToString(opts.PublicKey[:])[:nameLength]
	}
	return opts
}
