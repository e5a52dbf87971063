package device

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/tuyactl/internal/protocol"
)

const testKey = "0123456789abcdef"

var testIP = net.ParseIP("192.168.1.40")

// startStubDevice listens on loopback and runs handle for every accepted
// connection. It returns the listener address.
func startStubDevice(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()

	return ln.Addr().String()
}

// readRequest reads one complete frame from conn
func readRequest(conn net.Conn) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	header := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint32(header[12:16]))
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	return append(header, body...), nil
}

// redirect makes s dial addr instead of its endpoint and reports the address
// the session asked for.
func redirect(s *Session, addr string) <-chan string {
	dialed := make(chan string, 16)
	s.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		dialed <- address
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
	return dialed
}

func newTestSession(t *testing.T, opts *Options) *Session {
	t.Helper()
	s, err := NewSession("3.3", testKey, testIP, opts)
	require.NoError(t, err)
	return s
}

func encodeReply(t *testing.T, payload string, command protocol.CommandType, seq uint32) []byte {
	t.Helper()
	p, err := protocol.NewParser("3.3", testKey)
	require.NoError(t, err)
	frame, err := p.Encode(protocol.NewMessage([]byte(payload), command, seq), true)
	require.NoError(t, err)
	return frame
}

func TestNewEndpoint(t *testing.T) {
	ip := net.ParseIP("10.0.0.7")
	ep := NewEndpoint(ip)

	assert.Equal(t, DefaultPort, ep.Port())
	assert.Equal(t, 6668, ep.Port())
	assert.True(t, ep.IP().Equal(ip))
	assert.Equal(t, "10.0.0.7:6668", ep.String())

	// The endpoint keeps its own copy
	ip[len(ip)-1] = 9
	assert.Equal(t, "10.0.0.7:6668", ep.String())

	assert.Equal(t, "[fe80::1]:6668", NewEndpoint(net.ParseIP("fe80::1")).String())
}

func TestNewSession(t *testing.T) {
	tests := []struct {
		name    string
		version string
		key     string
		wantErr error
	}{
		{name: "3.3", version: "3.3", key: testKey},
		{name: "3.1", version: "3.1", key: testKey},
		{name: "no key", version: "3.3", key: ""},
		{name: "bad version", version: "2.0", key: testKey, wantErr: protocol.ErrUnsupportedVersion},
		{name: "bad key", version: "3.3", key: "short", wantErr: protocol.ErrKeyLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSession(tt.version, tt.key, testIP, nil)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, IsCodecError(err))
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 6668, s.Endpoint().Port())
			assert.Equal(t, "192.168.1.40:6668", s.Endpoint().String())
			assert.Equal(t, DefaultReadTimeout, s.Options().ReadTimeout)
		})
	}
}

func TestGet_ReturnsRepliesInOrder(t *testing.T) {
	first := encodeReply(t, `{"dps":{"1":true}}`, protocol.DpQuery, 42)
	second := encodeReply(t, `{"dps":{"2":17}}`, protocol.Status, 43)

	requests := make(chan []byte, 1)
	addr := startStubDevice(t, func(conn net.Conn) {
		req, err := readRequest(conn)
		if err != nil {
			return
		}
		requests <- req
		_, _ = conn.Write(append(append([]byte{}, first...), second...))
	})

	var observed []uint32
	var mu sync.Mutex
	s := newTestSession(t, &Options{Observer: func(seqID uint32, msg *protocol.Message) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, msg.SeqNr)
	}})
	dialed := redirect(s, addr)

	msgs, err := s.Get(`{"1":true}`, 42)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "192.168.1.40:6668", <-dialed)
	assert.Equal(t, uint32(42), msgs[0].SeqNr)
	assert.Equal(t, protocol.DpQuery, msgs[0].Command)
	assert.Equal(t, `{"dps":{"1":true}}`, msgs[0].Payload.String())
	assert.Equal(t, uint32(43), msgs[1].SeqNr)
	assert.Equal(t, protocol.Status, msgs[1].Command)
	assert.Equal(t, []uint32{42, 43}, observed)

	// The request on the wire is an encrypted DpQuery with the caller's seq
	req := <-requests
	assert.Equal(t, uint32(42), binary.BigEndian.Uint32(req[4:8]))
	assert.Equal(t, uint32(protocol.DpQuery), binary.BigEndian.Uint32(req[8:12]))
	assert.NotContains(t, string(req), `{"1":true}`)

	p, err := protocol.NewParser("3.3", testKey)
	require.NoError(t, err)
	decoded, err := p.Parse(req)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, `{"1":true}`, decoded[0].Payload.String())
}

func TestSet_RepliesOnlyReachObserver(t *testing.T) {
	ack := protocol.BuildFrame(7, protocol.Control, []byte{0, 0, 0, 0})

	requests := make(chan []byte, 1)
	addr := startStubDevice(t, func(conn net.Conn) {
		req, err := readRequest(conn)
		if err != nil {
			return
		}
		requests <- req
		_, _ = conn.Write(ack)
	})

	var observed []*protocol.Message
	s := newTestSession(t, &Options{Observer: func(seqID uint32, msg *protocol.Message) {
		assert.Equal(t, uint32(7), seqID)
		observed = append(observed, msg)
	}})
	redirect(s, addr)

	err := s.Set(`{"devId":"bf1234","dps":{"1":true},"t":"1700000000"}`, 7)
	require.NoError(t, err)

	require.Len(t, observed, 1)
	assert.Equal(t, protocol.Control, observed[0].Command)
	require.NotNil(t, observed[0].RetCode)
	assert.Equal(t, uint32(0), *observed[0].RetCode)
	assert.True(t, observed[0].Payload.IsEmpty())

	req := <-requests
	assert.Equal(t, uint32(protocol.Control), binary.BigEndian.Uint32(req[8:12]))
	// 3.3 control frames carry the version header
	assert.Equal(t, "3.3", string(req[protocol.HeaderSize:protocol.HeaderSize+3]))
}

func TestSet_DeviceReturnCodeIsNotAnError(t *testing.T) {
	addr := startStubDevice(t, func(conn net.Conn) {
		if _, err := readRequest(conn); err != nil {
			return
		}
		_, _ = conn.Write(protocol.BuildFrame(3, protocol.Control, append([]byte{0, 0, 0, 1}, "data format error"...)))
	})

	var rc *uint32
	s := newTestSession(t, &Options{Observer: func(_ uint32, msg *protocol.Message) { rc = msg.RetCode }})
	redirect(s, addr)

	require.NoError(t, s.Set(`{"dps":{"1":true}}`, 3))
	require.NotNil(t, rc)
	assert.Equal(t, uint32(1), *rc)
}

// exchanges runs every error-path test against both operations
var exchanges = []struct {
	name string
	run  func(s *Session, seqID uint32) ([]*protocol.Message, error)
}{
	{
		name: "set",
		run: func(s *Session, seqID uint32) ([]*protocol.Message, error) {
			return nil, s.Set(`{"dps":{"1":true}}`, seqID)
		},
	},
	{
		name: "get",
		run: func(s *Session, seqID uint32) ([]*protocol.Message, error) {
			return s.Get(`{}`, seqID)
		},
	},
}

func TestExchange_EmptyReplyIsBadTCPRead(t *testing.T) {
	for _, ex := range exchanges {
		t.Run(ex.name, func(t *testing.T) {
			addr := startStubDevice(t, func(conn net.Conn) {
				_, _ = readRequest(conn)
			})

			s := newTestSession(t, nil)
			redirect(s, addr)

			msgs, err := ex.run(s, 1)
			require.Error(t, err)
			assert.Nil(t, msgs)
			assert.True(t, IsBadTCPRead(err), "got %v", err)
			assert.False(t, IsTransportError(err))

			var devErr *DeviceError
			require.ErrorAs(t, err, &devErr)
			assert.Equal(t, "192.168.1.40:6668", devErr.Address)
			assert.Equal(t, uint32(1), devErr.SeqID)
		})
	}
}

func TestExchange_ReadTimeout(t *testing.T) {
	for _, ex := range exchanges {
		t.Run(ex.name, func(t *testing.T) {
			release := make(chan struct{})
			t.Cleanup(func() { close(release) })

			addr := startStubDevice(t, func(conn net.Conn) {
				_, _ = readRequest(conn)
				<-release
			})

			s := newTestSession(t, &Options{ReadTimeout: 100 * time.Millisecond})
			redirect(s, addr)

			start := time.Now()
			_, err := ex.run(s, 9)
			require.Error(t, err)
			assert.True(t, IsTransportError(err), "got %v", err)
			assert.True(t, IsTimeout(err), "got %v", err)
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}

func TestExchange_ShortGarbageIsCodecError(t *testing.T) {
	for _, ex := range exchanges {
		t.Run(ex.name, func(t *testing.T) {
			release := make(chan struct{})
			t.Cleanup(func() { close(release) })

			// The connection stays open, so only the framing check can end the read
			addr := startStubDevice(t, func(conn net.Conn) {
				if _, err := readRequest(conn); err != nil {
					return
				}
				_, _ = conn.Write([]byte("OK"))
				<-release
			})

			s := newTestSession(t, nil)
			redirect(s, addr)

			start := time.Now()
			_, err := ex.run(s, 2)
			require.Error(t, err)
			assert.True(t, IsCodecError(err), "got %v", err)
			assert.False(t, IsTimeout(err))
			assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}

func TestExchange_WrongKeyIsCodecError(t *testing.T) {
	device, err := protocol.NewParser("3.3", "fedcba9876543210")
	require.NoError(t, err)

	for _, ex := range exchanges {
		t.Run(ex.name, func(t *testing.T) {
			reply, err := device.Encode(protocol.NewMessage([]byte(`{"devId":"bf1234","dps":{"1":true}}`), protocol.DpQuery, 6), true)
			require.NoError(t, err)

			addr := startStubDevice(t, func(conn net.Conn) {
				if _, err := readRequest(conn); err != nil {
					return
				}
				_, _ = conn.Write(reply)
			})

			observed := 0
			s := newTestSession(t, &Options{Observer: func(uint32, *protocol.Message) { observed++ }})
			redirect(s, addr)

			msgs, err := ex.run(s, 6)
			require.Error(t, err)
			assert.Nil(t, msgs)
			assert.True(t, IsCodecError(err), "got %v", err)
			assert.ErrorIs(t, err, protocol.ErrDecrypt)
			assert.Zero(t, observed)
			assert.Contains(t, GetTroubleshootingHint(err)[0], "local key")
		})
	}
}

func TestGet_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := newTestSession(t, nil)
	redirect(s, addr)

	_, err = s.Get(`{}`, 1)
	require.Error(t, err)
	assert.True(t, IsTransportError(err), "got %v", err)
	assert.False(t, IsBadTCPRead(err))
}

func TestGet_GarbageReplyIsCodecError(t *testing.T) {
	addr := startStubDevice(t, func(conn net.Conn) {
		if _, err := readRequest(conn); err != nil {
			return
		}
		_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
	})

	s := newTestSession(t, nil)
	redirect(s, addr)

	_, err := s.Get(`{}`, 1)
	require.Error(t, err)
	assert.True(t, IsCodecError(err), "got %v", err)
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}

func TestGet_SplitReplyIsReassembled(t *testing.T) {
	reply := encodeReply(t, `{"devId":"bf1234","dps":{"1":true,"2":30,"3":"white"}}`, protocol.DpQuery, 5)

	addr := startStubDevice(t, func(conn net.Conn) {
		if _, err := readRequest(conn); err != nil {
			return
		}
		_, _ = conn.Write(reply[:20])
		time.Sleep(50 * time.Millisecond)
		_, _ = conn.Write(reply[20:])
	})

	s := newTestSession(t, nil)
	redirect(s, addr)

	msgs, err := s.Get(`{}`, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Payload.Data)
	assert.Equal(t, "white", msgs[0].Payload.Data.DPS["3"])
}

func TestGet_ReplyLargerThanLimit(t *testing.T) {
	header := make([]byte, protocol.HeaderSize)
	binary.BigEndian.PutUint32(header[0:4], protocol.FramePrefix)
	binary.BigEndian.PutUint32(header[12:16], 1000)

	addr := startStubDevice(t, func(conn net.Conn) {
		if _, err := readRequest(conn); err != nil {
			return
		}
		_, _ = conn.Write(header)
	})

	s := newTestSession(t, &Options{MaxResponseSize: 300})
	redirect(s, addr)

	_, err := s.Get(`{}`, 1)
	require.Error(t, err)
	assert.True(t, IsCodecError(err), "got %v", err)
}

func TestGet_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	addr := startStubDevice(t, func(conn net.Conn) {
		_, _ = readRequest(conn)
		<-release
	})

	s := newTestSession(t, nil)
	redirect(s, addr)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := s.GetWithContext(ctx, `{}`, 1)
	require.Error(t, err)
	assert.True(t, IsTransportError(err), "got %v", err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestGet_ConcurrentExchanges(t *testing.T) {
	addr := startStubDevice(t, func(conn net.Conn) {
		req, err := readRequest(conn)
		if err != nil {
			return
		}
		seq := binary.BigEndian.Uint32(req[4:8])
		_, _ = conn.Write(protocol.BuildFrame(seq, protocol.DpQuery, []byte{0, 0, 0, 0}))
	})

	s := newTestSession(t, nil)
	redirect(s, addr)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	seqs := make([]uint32, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msgs, err := s.Get(`{}`, uint32(100+i))
			errs[i] = err
			if err == nil && len(msgs) == 1 {
				seqs[i] = msgs[0].SeqNr
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err)
		assert.Equal(t, uint32(100+i), seqs[i])
	}
}

// fixedCodec returns canned results and does not implement Framer
type fixedCodec struct {
	encodeErr error
	replies   []*protocol.Message
	parsed    [][]byte
}

func (c *fixedCodec) Encode(msg *protocol.Message, encrypt bool) ([]byte, error) {
	if c.encodeErr != nil {
		return nil, c.encodeErr
	}
	return []byte("request"), nil
}

func (c *fixedCodec) Parse(buf []byte) ([]*protocol.Message, error) {
	c.parsed = append(c.parsed, append([]byte(nil), buf...))
	return c.replies, nil
}

func TestSessionWithCodec_SingleRead(t *testing.T) {
	addr := startStubDevice(t, func(conn net.Conn) {
		buf := make([]byte, len("request"))
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		_, _ = conn.Write([]byte("pong"))
	})

	codec := &fixedCodec{replies: []*protocol.Message{protocol.NewMessage([]byte("ok"), protocol.DpQuery, 1)}}
	s := NewSessionWithCodec(codec, testIP, nil)
	redirect(s, addr)

	msgs, err := s.Get("ping", 1)
	require.NoError(t, err)
	assert.Equal(t, codec.replies, msgs)
	require.Len(t, codec.parsed, 1)
	assert.Equal(t, []byte("pong"), codec.parsed[0])
}

func TestSessionWithCodec_EncodeFailure(t *testing.T) {
	addr := startStubDevice(t, func(conn net.Conn) {})

	codec := &fixedCodec{encodeErr: errors.New("boom")}
	s := NewSessionWithCodec(codec, testIP, nil)
	redirect(s, addr)

	err := s.Set(`{}`, 4)
	require.Error(t, err)
	assert.True(t, IsCodecError(err))
	assert.Empty(t, codec.parsed)
}
