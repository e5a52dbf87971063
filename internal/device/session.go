package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/tuyactl/internal/logging"
	"github.com/muurk/tuyactl/internal/protocol"
)

// Codec encodes outbound messages and decodes device replies.
// *protocol.Parser is the production implementation.
type Codec interface {
	Encode(msg *protocol.Message, encrypt bool) ([]byte, error)
	Parse(buf []byte) ([]*protocol.Message, error)
}

// Framer is implemented by codecs that can tell from a partial reply how many
// more bytes complete it. Sessions keep reading until Remaining returns 0;
// with any other codec a single read is taken as the whole reply.
type Framer interface {
	Remaining(buf []byte) int
}

// Endpoint is the fixed network address of a device
type Endpoint struct {
	ip   net.IP
	port int
}

// NewEndpoint returns the endpoint for ip on the Tuya port
func NewEndpoint(ip net.IP) Endpoint {
	return Endpoint{ip: append(net.IP(nil), ip...), port: DefaultPort}
}

// IP returns a copy of the device IP address
func (e Endpoint) IP() net.IP {
	return append(net.IP(nil), e.ip...)
}

// Port returns the device port (always 6668)
func (e Endpoint) Port() int {
	return e.port
}

// String returns host:port
func (e Endpoint) String() string {
	return net.JoinHostPort(e.ip.String(), strconv.Itoa(e.port))
}

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Session issues requests to a single device. Every call opens its own TCP
// connection and closes it before returning, so a Session is safe for
// concurrent use as long as its Codec is.
type Session struct {
	codec    Codec
	endpoint Endpoint
	opts     Options
	dial     dialFunc
}

// NewSession creates a session for the device at ip, building a
// protocol.Parser from version and key. key may be empty. opts may be nil.
func NewSession(version, key string, ip net.IP, opts *Options) (*Session, error) {
	parser, err := protocol.NewParser(version, key)
	if err != nil {
		return nil, NewCodecError("failed to create codec", err)
	}
	return NewSessionWithCodec(parser, ip, opts), nil
}

// NewSessionWithCodec creates a session around an already constructed codec
func NewSessionWithCodec(codec Codec, ip net.IP, opts *Options) *Session {
	o := opts.withDefaults()
	dialer := &net.Dialer{Timeout: o.ConnectTimeout}

	return &Session{
		codec:    codec,
		endpoint: NewEndpoint(ip),
		opts:     o,
		dial:     dialer.DialContext,
	}
}

// Endpoint returns the device endpoint
func (s *Session) Endpoint() Endpoint {
	return s.endpoint
}

// Codec returns the session codec
func (s *Session) Codec() Codec {
	return s.codec
}

// Options returns a copy of the effective exchange settings
func (s *Session) Options() Options {
	return s.opts
}

// Set sends a control command. Decoded replies go to the Observer only; their
// contents (including device return codes) are not checked.
func (s *Session) Set(payload string, seqID uint32) error {
	return s.SetWithContext(context.Background(), payload, seqID)
}

// SetWithContext is Set with a context bounding the whole exchange
func (s *Session) SetWithContext(ctx context.Context, payload string, seqID uint32) error {
	msg := protocol.NewMessage([]byte(payload), protocol.Control, seqID)
	replies, err := s.send(ctx, msg, payload, seqID)
	if err != nil {
		return err
	}
	s.observe(seqID, replies)
	return nil
}

// Get sends a query command and returns the decoded replies in wire order
func (s *Session) Get(payload string, seqID uint32) ([]*protocol.Message, error) {
	return s.GetWithContext(context.Background(), payload, seqID)
}

// GetWithContext is Get with a context bounding the whole exchange
func (s *Session) GetWithContext(ctx context.Context, payload string, seqID uint32) ([]*protocol.Message, error) {
	msg := protocol.NewMessage([]byte(payload), protocol.DpQuery, seqID)
	replies, err := s.send(ctx, msg, payload, seqID)
	if err != nil {
		return nil, err
	}
	s.observe(seqID, replies)
	return replies, nil
}

func (s *Session) observe(seqID uint32, replies []*protocol.Message) {
	for _, msg := range replies {
		s.opts.Observer(seqID, msg)
	}
}

// send performs one exchange: connect, write, read, close, parse
func (s *Session) send(ctx context.Context, msg *protocol.Message, payload string, seqID uint32) ([]*protocol.Message, error) {
	addr := s.endpoint.String()

	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, newTransportError("connect", err, addr, seqID)
	}
	closed := false
	defer func() {
		if !closed {
			_ = conn.Close()
		}
	}()

	// Unblock pending I/O when the caller gives up
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return nil, newTransportError("configure", err, addr, seqID)
		}
	}

	frame, err := s.codec.Encode(msg, true)
	if err != nil {
		devErr := NewCodecError("failed to encode request", err)
		devErr.Address, devErr.SeqID = addr, seqID
		return nil, devErr
	}

	logging.LogExchange(addr, seqID, "writing",
		zap.String("command", msg.Command.String()),
		zap.String("payload", payload),
	)

	if err := conn.SetWriteDeadline(deadline(ctx, s.opts.WriteTimeout)); err != nil {
		return nil, newTransportError("configure", err, addr, seqID)
	}
	n, err := conn.Write(frame)
	if err == nil && n < len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return nil, newTransportError("write", causeOf(ctx, err), addr, seqID)
	}
	logging.LogExchange(addr, seqID, "wrote", zap.Int("bytes", n))

	if err := conn.SetReadDeadline(deadline(ctx, s.opts.ReadTimeout)); err != nil {
		return nil, newTransportError("configure", err, addr, seqID)
	}
	reply, err := s.readReply(ctx, conn, addr, seqID)
	if err != nil {
		return nil, err
	}
	logging.LogRawBytes(fmt.Sprintf("Received response (%d)", seqID), reply)

	logging.Debug("Shutting down connection", zap.String("addr", addr), zap.Uint32("seq_id", seqID))
	closed = true
	if err := conn.Close(); err != nil {
		return nil, newTransportError("shutdown", err, addr, seqID)
	}

	replies, err := s.codec.Parse(reply)
	if err != nil {
		devErr := NewCodecError("failed to parse response", err)
		devErr.Address, devErr.SeqID = addr, seqID
		return nil, devErr
	}
	return replies, nil
}

// readReply reads the device reply. A first read of zero bytes means the
// device closed the connection without answering.
func (s *Session) readReply(ctx context.Context, conn net.Conn, addr string, seqID uint32) ([]byte, error) {
	chunk := make([]byte, s.opts.ReceiveBufferSize)

	n, err := conn.Read(chunk)
	logging.LogExchange(addr, seqID, "received", zap.Int("bytes", n))
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, newBadTCPReadError(addr, seqID)
		}
		return nil, newTransportError("read", causeOf(ctx, err), addr, seqID)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, newTransportError("read", causeOf(ctx, err), addr, seqID)
	}

	reply := bytes.Clone(chunk[:n])

	framer, ok := s.codec.(Framer)
	if !ok || err != nil {
		return reply, nil
	}

	for {
		need := framer.Remaining(reply)
		if need == 0 {
			return reply, nil
		}
		if len(reply)+need > s.opts.MaxResponseSize {
			devErr := NewCodecError(fmt.Sprintf("reply needs %d bytes, more than the %d byte limit",
				len(reply)+need, s.opts.MaxResponseSize), nil)
			devErr.Address, devErr.SeqID = addr, seqID
			return nil, devErr
		}

		n, err := conn.Read(chunk[:min(need, len(chunk))])
		reply = append(reply, chunk[:n]...)
		if n > 0 {
			logging.LogExchange(addr, seqID, "received", zap.Int("bytes", n), zap.Int("total", len(reply)))
		}
		if errors.Is(err, io.EOF) {
			// Let the codec report the truncated frame
			return reply, nil
		}
		if err != nil {
			return nil, newTransportError("read", causeOf(ctx, err), addr, seqID)
		}
	}
}

// deadline returns now+timeout, or the context deadline if that is earlier
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

// causeOf prefers the context error when the context ended the I/O
func causeOf(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}
