package protocol

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// Version is a Tuya LAN protocol version
type Version string

// Supported protocol versions
const (
	Version31 Version = "3.1"
	Version33 Version = "3.3"
)

const (
	// KeySize is the required local key length in bytes
	KeySize = 16

	// udpKey is the well-known key devices use for UDP broadcasts. Its MD5
	// digest is used when no local key is configured.
	udpKey = "yGAdlopoPVldABfn"

	// versionHeaderSize is "3.3" followed by 12 zero bytes
	versionHeaderSize = 15

	// signatureSize is the length of the 3.1 MD5 signature (hex characters)
	signatureSize = 16
)

// Parser encodes outbound messages and decodes inbound frames for one
// protocol version and local key.
type Parser struct {
	version Version
	key     []byte
}

// NewParser creates a parser for the given protocol version and local key.
// An empty key selects the default UDP key.
func NewParser(version string, key string) (*Parser, error) {
	v := Version(version)
	if v != Version31 && v != Version33 {
		return nil, fmt.Errorf("%w: %q (supported: %s, %s)", ErrUnsupportedVersion, version, Version31, Version33)
	}

	var k []byte
	if key == "" {
		sum := md5.Sum([]byte(udpKey))
		k = sum[:]
	} else {
		if len(key) != KeySize {
			return nil, fmt.Errorf("%w: got %d", ErrKeyLength, len(key))
		}
		k = []byte(key)
	}

	return &Parser{version: v, key: k}, nil
}

// Version returns the protocol version this parser speaks
func (p *Parser) Version() Version {
	return p.version
}

// Encode serializes msg into a complete frame. When encrypt is true the
// payload is wrapped in the version-specific encryption envelope; otherwise
// it is sent as-is.
func (p *Parser) Encode(msg *Message, encrypt bool) ([]byte, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}

	payload := msg.Payload.Raw
	if encrypt {
		sealed, err := p.seal(msg.Command, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt %s payload: %w", msg.Command, err)
		}
		payload = sealed
	}

	return BuildFrame(msg.SeqNr, msg.Command, payload), nil
}

// seal applies the version-specific envelope to a plaintext payload
func (p *Parser) seal(command CommandType, plaintext []byte) ([]byte, error) {
	switch p.version {
	case Version33:
		ciphertext, err := encryptECB(p.key, plaintext)
		if err != nil {
			return nil, err
		}
		if !command.needsVersionHeader() {
			return ciphertext, nil
		}
		header := make([]byte, versionHeaderSize)
		copy(header, Version33)
		return append(header, ciphertext...), nil

	case Version31:
		if command != Control {
			return plaintext, nil
		}
		ciphertext, err := encryptECB(p.key, plaintext)
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(ciphertext)

		out := make([]byte, 0, len(Version31)+signatureSize+len(encoded))
		out = append(out, Version31...)
		out = append(out, p.signature(encoded)...)
		out = append(out, encoded...)
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, p.version)
	}
}

// signature computes the 3.1 payload signature over the base64 ciphertext
func (p *Parser) signature(encoded string) string {
	sum := md5.Sum([]byte("data=" + encoded + "||lpv=" + string(Version31) + "||" + string(p.key)))
	return hex.EncodeToString(sum[:])[8:24]
}

// Parse decodes every frame in buf. An empty buffer yields no messages.
func (p *Parser) Parse(buf []byte) ([]*Message, error) {
	frames, err := SplitFrames(buf)
	if err != nil {
		return nil, err
	}

	messages := make([]*Message, 0, len(frames))
	for _, frame := range frames {
		plaintext, err := p.open(frame.Payload)
		if err != nil {
			return nil, fmt.Errorf("seq %d (%s): %w", frame.SeqNr, frame.Command, err)
		}
		messages = append(messages, &Message{
			Payload: NewPayload(plaintext),
			Command: frame.Command,
			SeqNr:   frame.SeqNr,
			RetCode: frame.RetCode,
		})
	}

	return messages, nil
}

// open removes the envelope from a received payload
func (p *Parser) open(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return payload, nil
	}

	switch {
	case bytes.HasPrefix(payload, []byte(Version31)):
		if len(payload) < len(Version31)+signatureSize {
			return nil, fmt.Errorf("%w: 3.1 payload too short", ErrDecrypt)
		}
		encoded := payload[len(Version31):]
		signature, encoded := encoded[:signatureSize], encoded[signatureSize:]
		if p.version == Version31 && string(signature) != p.signature(string(encoded)) {
			return nil, fmt.Errorf("%w: signature mismatch", ErrDecrypt)
		}
		ciphertext, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64: %v", ErrDecrypt, err)
		}
		return p.decrypt(ciphertext)

	case bytes.HasPrefix(payload, []byte(Version33)):
		if len(payload) <= versionHeaderSize {
			return nil, fmt.Errorf("%w: 3.3 payload too short", ErrDecrypt)
		}
		return p.decrypt(payload[versionHeaderSize:])

	case p.version == Version33:
		// Query replies and status pushes carry no header but are still
		// encrypted. Devices report some errors in clear text, which is never
		// block aligned.
		plaintext, err := p.decrypt(payload)
		if err == nil {
			return plaintext, nil
		}
		if len(payload)%aes.BlockSize != 0 && utf8.Valid(payload) {
			return payload, nil
		}
		return nil, err

	default:
		return payload, nil
	}
}

// decrypt opens an AES-ECB payload. Device payloads are always text, so
// anything else means the local key is wrong.
func (p *Parser) decrypt(ciphertext []byte) ([]byte, error) {
	plaintext, err := decryptECB(p.key, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w (wrong local key?)", err)
	}
	if !utf8.Valid(plaintext) {
		return nil, fmt.Errorf("%w: plaintext is not text (wrong local key?)", ErrDecrypt)
	}
	return plaintext, nil
}

// Remaining implements the device session's framing hook; see Remaining
func (p *Parser) Remaining(buf []byte) int {
	return Remaining(buf)
}
