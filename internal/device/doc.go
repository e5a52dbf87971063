// Package device provides a request/response client for Tuya devices on the
// local network.
//
// A Session is bound to one device: its IP address, the fixed Tuya port 6668,
// and a codec built from the device's protocol version and local key. Each
// Set or Get call performs one complete exchange on a fresh TCP connection:
//
//  1. Connect to <ip>:6668 and disable Nagle's algorithm
//  2. Encode the request with encryption enabled and write it
//  3. Read the reply (2 second read timeout by default)
//  4. Close the connection
//  5. Decode the reply into zero or more messages
//
// # Usage Example
//
//	sess, err := device.NewSession("3.3", localKey, net.ParseIP("192.168.1.40"), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Switch data point 1 on
//	if err := sess.Set(`{"devId":"bf...","dps":{"1":true},"t":"1700000000"}`, 1); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Read current state
//	msgs, err := sess.Get(`{"devId":"bf...","gwId":"bf...","uid":"bf...","t":"1700000000"}`, 2)
//	for _, m := range msgs {
//	    fmt.Println(m.Payload.String())
//	}
//
// # Replies
//
// Get returns the decoded messages in the order they appeared on the wire.
// Set does not return them; both pass every decoded message to the
// configured Observer, which logs them by default. Device return codes are
// reported as-is and never turned into errors.
//
// The first read uses Options.ReceiveBufferSize (256 bytes). When the codec
// implements Framer, the session keeps reading until the last frame is
// complete or Options.MaxResponseSize is reached.
//
// # Error Handling
//
// All failures are returned as *DeviceError with one of three types:
//   - ErrTypeTransport: connect, configure, write, read or close failed
//     (NetworkSubtype narrows it down, e.g. timeout or connection refused)
//   - ErrTypeBadTCPRead: the device closed the connection without replying
//   - ErrTypeCodec: the codec could not be built, or encode/parse failed
//
// Use IsTransportError, IsBadTCPRead, IsCodecError and IsTimeout to check,
// and GetTroubleshootingHint for user-facing advice. The connection is
// closed on every path, including failures. Nothing is retried.
//
// # Thread Safety
//
// Sessions hold no per-exchange state and may be shared between goroutines.
// Concurrent exchanges use separate connections.
package device
