package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/muurk/tuyactl/internal/protocol"
)

// ErrorType represents the layer at which an exchange failed
type ErrorType int

const (
	// ErrTypeTransport indicates a connect, configure, write, read or close failure
	ErrTypeTransport ErrorType = iota
	// ErrTypeBadTCPRead indicates the device closed the connection without replying
	ErrTypeBadTCPRead
	// ErrTypeCodec indicates a codec construction, encode or parse failure
	ErrTypeCodec
)

// NetworkErrorSubtype provides more specific transport error classification
type NetworkErrorSubtype int

const (
	NetworkErrorGeneral NetworkErrorSubtype = iota
	NetworkErrorTimeout
	NetworkErrorConnectionRefused
	NetworkErrorConnectionReset
	NetworkErrorDNS
	NetworkErrorHostUnreachable
	NetworkErrorNetworkUnreachable
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeTransport:
		return "Transport Error"
	case ErrTypeBadTCPRead:
		return "Bad TCP Read"
	case ErrTypeCodec:
		return "Codec Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// String returns a human-readable name for the network error subtype
func (st NetworkErrorSubtype) String() string {
	switch st {
	case NetworkErrorGeneral:
		return "general"
	case NetworkErrorTimeout:
		return "timeout"
	case NetworkErrorConnectionRefused:
		return "connection refused"
	case NetworkErrorConnectionReset:
		return "connection reset"
	case NetworkErrorDNS:
		return "dns"
	case NetworkErrorHostUnreachable:
		return "host unreachable"
	case NetworkErrorNetworkUnreachable:
		return "network unreachable"
	default:
		return fmt.Sprintf("NetworkErrorSubtype(%d)", st)
	}
}

// DeviceError represents a failed exchange with a device
type DeviceError struct {
	Type           ErrorType           // Layer that failed
	Message        string              // Human-readable error message
	Err            error               // Underlying error (if any)
	NetworkSubtype NetworkErrorSubtype // Transport errors only
	Address        string              // Device endpoint (for context)
	SeqID          uint32              // Sequence id of the request (0 for construction errors)
	Retryable      bool                // Hint for callers; the session never retries
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Type.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Address != "" {
		fmt.Fprintf(&b, " [%s seq=%d]", e.Address, e.SeqID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ClassifyNetworkError wraps a transport failure in a DeviceError with the
// most specific subtype that applies.
func ClassifyNetworkError(err error, address string) *DeviceError {
	if err == nil {
		return nil
	}

	devErr := &DeviceError{
		Type:           ErrTypeTransport,
		Message:        "Network error occurred",
		Err:            err,
		NetworkSubtype: NetworkErrorGeneral,
		Address:        address,
		Retryable:      true,
	}

	var netErr net.Error
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.Canceled):
		devErr.Message = "Exchange cancelled"
		devErr.Retryable = false

	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		devErr.Message = "Device did not respond in time"
		devErr.NetworkSubtype = NetworkErrorTimeout

	case errors.As(err, &dnsErr):
		devErr.Message = fmt.Sprintf("DNS resolution failed for %s", dnsErr.Name)
		devErr.NetworkSubtype = NetworkErrorDNS
		devErr.Retryable = false

	case errors.Is(err, syscall.ECONNREFUSED):
		devErr.Message = "Device refused connection"
		devErr.NetworkSubtype = NetworkErrorConnectionRefused

	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		devErr.Message = "Connection reset by device"
		devErr.NetworkSubtype = NetworkErrorConnectionReset

	case errors.Is(err, syscall.EHOSTUNREACH):
		devErr.Message = "Host unreachable"
		devErr.NetworkSubtype = NetworkErrorHostUnreachable

	case errors.Is(err, syscall.ENETUNREACH):
		devErr.Message = "Network unreachable"
		devErr.NetworkSubtype = NetworkErrorNetworkUnreachable
	}

	return devErr
}

// newTransportError classifies err and records the failed step
func newTransportError(step string, err error, address string, seqID uint32) *DeviceError {
	devErr := ClassifyNetworkError(err, address)
	devErr.Message = fmt.Sprintf("%s: %s", step, devErr.Message)
	devErr.SeqID = seqID
	return devErr
}

// newBadTCPReadError reports a reply of zero bytes
func newBadTCPReadError(address string, seqID uint32) *DeviceError {
	return &DeviceError{
		Type:      ErrTypeBadTCPRead,
		Message:   "device closed the connection without replying",
		Address:   address,
		SeqID:     seqID,
		Retryable: true,
	}
}

// NewCodecError wraps a codec construction, encode or parse failure
func NewCodecError(message string, err error) *DeviceError {
	return &DeviceError{
		Type:      ErrTypeCodec,
		Message:   message,
		Err:       err,
		Retryable: false,
	}
}

func asDeviceError(err error) (*DeviceError, bool) {
	var devErr *DeviceError
	ok := errors.As(err, &devErr)
	return devErr, ok
}

// IsTransportError checks if an error is a transport-layer failure
func IsTransportError(err error) bool {
	devErr, ok := asDeviceError(err)
	return ok && devErr.Type == ErrTypeTransport
}

// IsBadTCPRead checks if an error is an empty reply from the device
func IsBadTCPRead(err error) bool {
	devErr, ok := asDeviceError(err)
	return ok && devErr.Type == ErrTypeBadTCPRead
}

// IsCodecError checks if an error is a codec failure
func IsCodecError(err error) bool {
	devErr, ok := asDeviceError(err)
	return ok && devErr.Type == ErrTypeCodec
}

// IsTimeout checks if an error is a transport timeout
func IsTimeout(err error) bool {
	devErr, ok := asDeviceError(err)
	return ok && devErr.Type == ErrTypeTransport && devErr.NetworkSubtype == NetworkErrorTimeout
}

// IsRetryable reports the retry hint of an error
func IsRetryable(err error) bool {
	devErr, ok := asDeviceError(err)
	return ok && devErr.Retryable
}

// GetTroubleshootingHint returns user-friendly troubleshooting advice for an error
func GetTroubleshootingHint(err error) []string {
	devErr, ok := asDeviceError(err)
	if !ok {
		return []string{"An unexpected error occurred. Please try again."}
	}

	switch devErr.Type {
	case ErrTypeBadTCPRead:
		return []string{
			"The device accepted the connection but sent nothing back.",
			"Check that the protocol version matches the device firmware",
			"Check that the local key is current (it changes when the device is re-paired)",
			"Close the Tuya/Smart Life app, devices often allow only one LAN client",
		}

	case ErrTypeCodec:
		if errors.Is(devErr, protocol.ErrKeyLength) {
			return []string{"The local key must be exactly 16 characters."}
		}
		if errors.Is(devErr, protocol.ErrUnsupportedVersion) {
			return []string{"Supported protocol versions are 3.1 and 3.3."}
		}
		if errors.Is(devErr, protocol.ErrDecrypt) {
			return []string{
				"The device reply did not decrypt with the local key.",
				"Check that the local key is current (it changes when the device is re-paired)",
				"Check that the protocol version matches the device firmware",
			}
		}
		return []string{
			"The device reply could not be decoded.",
			"Verify the local key and protocol version",
			"Run with TUYACTL_LOG_LEVEL=debug to see the raw bytes",
		}

	case ErrTypeTransport:
		switch devErr.NetworkSubtype {
		case NetworkErrorTimeout:
			return []string{
				"The device did not respond in time.",
				"Check that the device is powered on and on the same network",
				"Try increasing --read-timeout",
			}
		case NetworkErrorConnectionRefused:
			return []string{
				"The device refused the connection on port 6668.",
				"Verify the device IP address",
				"Some devices accept only one LAN connection at a time",
			}
		case NetworkErrorConnectionReset:
			return []string{
				"The device dropped the connection.",
				"This usually means the local key or protocol version is wrong",
			}
		case NetworkErrorHostUnreachable, NetworkErrorNetworkUnreachable:
			return []string{
				"The device is not reachable on the network.",
				"Verify the device IP address is correct",
				"Check that you're on the same network as the device",
				"Try pinging the device: ping " + strings.Split(devErr.Address, ":")[0],
			}
		default:
			return []string{
				"Network communication failed.",
				"Check your network connection",
				"Verify the device is powered on",
			}
		}

	default:
		return []string{"An error occurred. Please check the error message for details."}
	}
}

// GetShortErrorMessage returns a concise, user-friendly error message
func GetShortErrorMessage(err error) string {
	devErr, ok := asDeviceError(err)
	if !ok {
		return err.Error()
	}

	switch devErr.Type {
	case ErrTypeBadTCPRead:
		return "Device closed the connection without replying"
	case ErrTypeCodec:
		return "Codec error - check local key and protocol version"
	case ErrTypeTransport:
		switch devErr.NetworkSubtype {
		case NetworkErrorTimeout:
			return "Device not responding (timeout)"
		case NetworkErrorConnectionRefused:
			return "Device refused connection"
		case NetworkErrorConnectionReset:
			return "Device reset the connection"
		case NetworkErrorDNS:
			return "Cannot resolve device hostname"
		case NetworkErrorHostUnreachable:
			return "Device unreachable - check network connection"
		case NetworkErrorNetworkUnreachable:
			return "Network unreachable - check WiFi connection"
		default:
			return "Network error - check connection"
		}
	default:
		return devErr.Message
	}
}
