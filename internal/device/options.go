package device

import (
	"time"

	"github.com/muurk/tuyactl/internal/logging"
	"github.com/muurk/tuyactl/internal/protocol"
)

const (
	// DefaultPort is the TCP port every Tuya device listens on
	DefaultPort = 6668

	// DefaultConnectTimeout bounds the TCP connect
	DefaultConnectTimeout = 5 * time.Second

	// DefaultReadTimeout bounds the wait for a reply. Devices sit on the local
	// network and answer within a few hundred milliseconds.
	DefaultReadTimeout = 2 * time.Second

	// DefaultWriteTimeout bounds writing the request
	DefaultWriteTimeout = 2 * time.Second

	// DefaultReceiveBufferSize is the size of each read from the connection.
	// Typical single-frame replies fit in one read.
	DefaultReceiveBufferSize = 256

	// DefaultMaxResponseSize caps how much a framing-aware codec may read
	// while completing a reply split across several TCP segments
	DefaultMaxResponseSize = 4096
)

// Observer receives every message decoded from a device reply
type Observer func(seqID uint32, msg *protocol.Message)

// Options configures a Session's exchanges
type Options struct {
	// ConnectTimeout bounds the TCP connect
	// Default: 5s
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for the device reply
	// Default: 2s
	ReadTimeout time.Duration

	// WriteTimeout bounds writing the request
	// Default: 2s
	WriteTimeout time.Duration

	// ReceiveBufferSize is the size of each read
	// Default: 256 bytes
	ReceiveBufferSize int

	// MaxResponseSize caps the total reply size when the codec can report
	// frame lengths (see Framer)
	// Default: 4096 bytes
	MaxResponseSize int

	// Observer is called for every decoded reply message, on both Set and Get
	// Default: logs the message at info level
	Observer Observer
}

// DefaultOptions returns the default exchange settings
func DefaultOptions() *Options {
	return &Options{
		ConnectTimeout:    DefaultConnectTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		ReceiveBufferSize: DefaultReceiveBufferSize,
		MaxResponseSize:   DefaultMaxResponseSize,
		Observer:          LogObserver,
	}
}

// LogObserver logs each decoded message keyed by sequence id
func LogObserver(seqID uint32, msg *protocol.Message) {
	logging.LogDecodedMessage(seqID, msg.Command.String(), msg.Payload.String())
}

// withDefaults returns a copy of opts with unset fields filled in
func (o *Options) withDefaults() Options {
	out := *DefaultOptions()
	if o == nil {
		return out
	}

	if o.ConnectTimeout > 0 {
		out.ConnectTimeout = o.ConnectTimeout
	}
	if o.ReadTimeout > 0 {
		out.ReadTimeout = o.ReadTimeout
	}
	if o.WriteTimeout > 0 {
		out.WriteTimeout = o.WriteTimeout
	}
	if o.ReceiveBufferSize > 0 {
		out.ReceiveBufferSize = o.ReceiveBufferSize
	}
	if o.MaxResponseSize > 0 {
		out.MaxResponseSize = o.MaxResponseSize
	}
	if out.MaxResponseSize < out.ReceiveBufferSize {
		out.MaxResponseSize = out.ReceiveBufferSize
	}
	if o.Observer != nil {
		out.Observer = o.Observer
	}

	return out
}
