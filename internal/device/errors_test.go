package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/muurk/tuyactl/internal/protocol"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantSubtype   NetworkErrorSubtype
		wantRetryable bool
	}{
		{
			name:          "net timeout",
			err:           &net.OpError{Op: "read", Net: "tcp", Err: timeoutError{}},
			wantSubtype:   NetworkErrorTimeout,
			wantRetryable: true,
		},
		{
			name:          "deadline exceeded",
			err:           &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded},
			wantSubtype:   NetworkErrorTimeout,
			wantRetryable: true,
		},
		{
			name:          "context deadline",
			err:           context.DeadlineExceeded,
			wantSubtype:   NetworkErrorTimeout,
			wantRetryable: true,
		},
		{
			name:          "connection refused",
			err:           &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			wantSubtype:   NetworkErrorConnectionRefused,
			wantRetryable: true,
		},
		{
			name:          "connection reset",
			err:           &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET},
			wantSubtype:   NetworkErrorConnectionReset,
			wantRetryable: true,
		},
		{
			name:          "broken pipe",
			err:           &net.OpError{Op: "write", Net: "tcp", Err: syscall.EPIPE},
			wantSubtype:   NetworkErrorConnectionReset,
			wantRetryable: true,
		},
		{
			name:          "dns",
			err:           &net.DNSError{Err: "no such host", Name: "plug.local", IsNotFound: true},
			wantSubtype:   NetworkErrorDNS,
			wantRetryable: false,
		},
		{
			name:          "host unreachable",
			err:           &net.OpError{Op: "dial", Net: "tcp", Err: syscall.EHOSTUNREACH},
			wantSubtype:   NetworkErrorHostUnreachable,
			wantRetryable: true,
		},
		{
			name:          "network unreachable",
			err:           &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ENETUNREACH},
			wantSubtype:   NetworkErrorNetworkUnreachable,
			wantRetryable: true,
		},
		{
			name:          "cancelled",
			err:           fmt.Errorf("%w: %w", context.Canceled, os.ErrDeadlineExceeded),
			wantSubtype:   NetworkErrorGeneral,
			wantRetryable: false,
		},
		{
			name:          "other",
			err:           errors.New("something odd"),
			wantSubtype:   NetworkErrorGeneral,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devErr := ClassifyNetworkError(tt.err, "192.168.1.40:6668")
			if devErr == nil {
				t.Fatal("Expected DeviceError, got nil")
			}
			if devErr.Type != ErrTypeTransport {
				t.Errorf("Expected error type %v, got %v", ErrTypeTransport, devErr.Type)
			}
			if devErr.NetworkSubtype != tt.wantSubtype {
				t.Errorf("Expected network subtype %v, got %v", tt.wantSubtype, devErr.NetworkSubtype)
			}
			if devErr.Retryable != tt.wantRetryable {
				t.Errorf("Expected retryable %v, got %v", tt.wantRetryable, devErr.Retryable)
			}
			if !errors.Is(devErr, tt.err) {
				t.Error("Expected DeviceError to wrap the original error")
			}
		})
	}
}

func TestClassifyNetworkError_Nil(t *testing.T) {
	if devErr := ClassifyNetworkError(nil, "192.168.1.40:6668"); devErr != nil {
		t.Errorf("Expected nil, got %v", devErr)
	}
}

func TestDeviceError_Error(t *testing.T) {
	err := newTransportError("connect", syscall.ECONNREFUSED, "192.168.1.40:6668", 12)

	msg := err.Error()
	for _, want := range []string{"Transport Error", "connect:", "192.168.1.40:6668", "seq=12", "caused by"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	codecErr := NewCodecError("failed to create codec", protocol.ErrKeyLength)
	if strings.Contains(codecErr.Error(), "seq=") {
		t.Errorf("Codec construction error should not mention an exchange: %q", codecErr.Error())
	}
}

func TestErrorPredicates(t *testing.T) {
	transport := newTransportError("read", os.ErrDeadlineExceeded, "a:6668", 1)
	badRead := newBadTCPReadError("a:6668", 1)
	codec := NewCodecError("failed to parse response", protocol.ErrCRCMismatch)
	wrapped := fmt.Errorf("get failed: %w", badRead)
	plain := errors.New("plain")

	tests := []struct {
		name          string
		err           error
		wantTransport bool
		wantBadRead   bool
		wantCodec     bool
		wantTimeout   bool
	}{
		{name: "transport timeout", err: transport, wantTransport: true, wantTimeout: true},
		{name: "bad read", err: badRead, wantBadRead: true},
		{name: "wrapped bad read", err: wrapped, wantBadRead: true},
		{name: "codec", err: codec, wantCodec: true},
		{name: "plain", err: plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransportError(tt.err); got != tt.wantTransport {
				t.Errorf("IsTransportError() = %v, want %v", got, tt.wantTransport)
			}
			if got := IsBadTCPRead(tt.err); got != tt.wantBadRead {
				t.Errorf("IsBadTCPRead() = %v, want %v", got, tt.wantBadRead)
			}
			if got := IsCodecError(tt.err); got != tt.wantCodec {
				t.Errorf("IsCodecError() = %v, want %v", got, tt.wantCodec)
			}
			if got := IsTimeout(tt.err); got != tt.wantTimeout {
				t.Errorf("IsTimeout() = %v, want %v", got, tt.wantTimeout)
			}
		})
	}

	if IsRetryable(codec) {
		t.Error("Codec errors should not be retryable")
	}
	if !IsRetryable(badRead) {
		t.Error("Bad reads should be retryable")
	}
}

func TestGetTroubleshootingHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "key length", err: NewCodecError("failed to create codec", protocol.ErrKeyLength), want: "16 characters"},
		{name: "version", err: NewCodecError("failed to create codec", protocol.ErrUnsupportedVersion), want: "3.1 and 3.3"},
		{name: "wrong key", err: NewCodecError("failed to parse response", fmt.Errorf("seq 1: %w", protocol.ErrDecrypt)), want: "did not decrypt"},
		{name: "bad read", err: newBadTCPReadError("a:6668", 1), want: "local key"},
		{name: "timeout", err: newTransportError("read", os.ErrDeadlineExceeded, "a:6668", 1), want: "--read-timeout"},
		{name: "unreachable", err: newTransportError("connect", syscall.EHOSTUNREACH, "10.0.0.9:6668", 1), want: "ping 10.0.0.9"},
		{name: "plain", err: errors.New("x"), want: "unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hints := GetTroubleshootingHint(tt.err)
			if len(hints) == 0 {
				t.Fatal("Expected at least one hint")
			}
			if !strings.Contains(strings.Join(hints, "\n"), tt.want) {
				t.Errorf("Hints %q should mention %q", hints, tt.want)
			}
		})
	}
}

func TestGetShortErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{newBadTCPReadError("a:6668", 1), "Device closed the connection without replying"},
		{newTransportError("read", os.ErrDeadlineExceeded, "a:6668", 1), "Device not responding (timeout)"},
		{newTransportError("connect", syscall.ECONNREFUSED, "a:6668", 1), "Device refused connection"},
		{NewCodecError("x", nil), "Codec error - check local key and protocol version"},
		{errors.New("plain failure"), "plain failure"},
	}

	for _, tt := range tests {
		if got := GetShortErrorMessage(tt.err); got != tt.want {
			t.Errorf("GetShortErrorMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
