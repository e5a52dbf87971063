// Package protocol implements the Tuya local network (LAN) message codec.
//
// This package handles framing, integrity checking, encryption and decoding of
// the binary messages exchanged with Tuya-based smart plugs, bulbs and other
// appliances on TCP port 6668. It does not open connections; see the device
// package for the request/response session built on top of it.
//
// # Frame Format
//
// Every message on the wire is a single frame (all integers big-endian):
//   - Prefix: 0x000055AA
//   - Sequence number: 4 bytes
//   - Command: 4 bytes (see CommandType)
//   - Length: 4 bytes, counting everything after this field
//   - Return code: 4 bytes (device to client frames only, optional)
//   - Payload: Variable length
//   - CRC32 (IEEE): 4 bytes, computed over prefix through payload
//   - Suffix: 0x0000AA99
//
// A single TCP read may carry several frames back to back. Parse returns
// one Message per frame, in wire order.
//
// # Protocol Versions
//
// Two protocol versions are supported:
//   - 3.1: Control payloads are AES-128-ECB encrypted, base64 encoded and
//     prefixed with "3.1" plus an MD5 based signature. Queries travel in the
//     clear.
//   - 3.3: All payloads are AES-128-ECB encrypted. Commands other than
//     queries and heartbeats carry a 15 byte "3.3" version header in front
//     of the ciphertext.
//
// The AES key is the 16 byte device "local key". When no key is supplied the
// MD5 digest of the well-known UDP broadcast key is used instead.
//
// # Usage Example
//
//	parser, err := protocol.NewParser("3.3", "0123456789abcdef")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	msg := protocol.NewMessage([]byte(`{"dps":{"1":true}}`), protocol.Control, 42)
//	frame, err := parser.Encode(msg, true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// ... write frame, read reply ...
//
//	replies, err := parser.Parse(reply)
//	for _, r := range replies {
//	    fmt.Println(r)
//	}
//
// # Error Handling
//
// Construction, encoding and parsing errors wrap one of the sentinel errors
// in this package (ErrUnsupportedVersion, ErrKeyLength, ErrMalformedFrame,
// ErrCRCMismatch, ErrDecrypt, ErrNilMessage) so callers can use
// errors.Is to classify them.
//
// # Thread Safety
//
// A Parser holds only its version and key, both fixed at construction. All
// methods are safe for concurrent use.
package protocol
