package protocol

import "errors"

// Codec errors
var (
	// ErrUnsupportedVersion indicates a protocol version other than 3.1 or 3.3
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// ErrKeyLength indicates a local key that is not exactly 16 bytes
	ErrKeyLength = errors.New("local key must be 16 bytes")

	// ErrMalformedFrame indicates bytes that do not form a valid frame
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrCRCMismatch indicates a frame whose checksum does not match its contents
	ErrCRCMismatch = errors.New("crc mismatch")

	// ErrDecrypt indicates a payload that could not be decrypted with the key
	ErrDecrypt = errors.New("payload decryption failed")

	// ErrNilMessage indicates Encode was called without a message
	ErrNilMessage = errors.New("message is nil")
)
