package crypto

import (
	"encoding/base64"
	"fmt"
)

// Version identifies an envelope layout.
type Version byte

const (
	V1 Version = 1 // AES-256-CBC + HMAC-SHA-512
	V2 Version = 2 // AES-256-GCM
	V3 Version = 3 // AES-256-CBC inside XChaCha20-Poly1305 + HMAC-SHA-512

	// LatestVersion is used for every new write.
	LatestVersion = V3
)

// Minimum raw envelope sizes, each for an empty plaintext.
const (
	minSizeV1 = IVSize + BlockSize + TagSize
	minSizeV2 = AEADTagSize + NonceSize
	minSizeV3 = NonceSizeX + IVSize + BlockSize + AEADTagSize + TagSize
)

func (v Version) String() string {
	switch v {
	case V1, V2, V3:
		return fmt.Sprintf("v%d", byte(v))
	default:
		return fmt.Sprintf("unknown(%d)", byte(v))
	}
}

// Valid reports whether v is a known version.
func (v Version) Valid() bool {
	return v == V1 || v == V2 || v == V3
}

// Envelope is a parsed envelope. Its slices may alias the input they were parsed from.
type Envelope struct {
	Version    Version
	Nonce      []byte // IV for V1, GCM nonce for V2, outer XChaCha nonce for V3
	Ciphertext []byte
	Tag        []byte // HMAC-SHA-512 for V1/V3, GCM tag for V2
}

// Marshal serializes the envelope in its raw (untagged) layout.
func (e *Envelope) Marshal() []byte {
	out := make([]byte, 0, len(e.Nonce)+len(e.Ciphertext)+len(e.Tag))
	switch e.Version {
	case V2:
		out = append(out, e.Tag...)
		out = append(out, e.Nonce...)
		out = append(out, e.Ciphertext...)
	default:
		out = append(out, e.Nonce...)
		out = append(out, e.Ciphertext...)
		out = append(out, e.Tag...)
	}
	return out
}

// MarshalTagged serializes the envelope with its one-byte version prefix.
func (e *Envelope) MarshalTagged() []byte {
	raw := e.Marshal()
	out := make([]byte, 0, 1+len(raw))
	out = append(out, byte(e.Version))
	return append(out, raw...)
}

// ParseEnvelope splits a raw envelope of the given version. Any shape problem is reported
// as an authentication failure.
func ParseEnvelope(v Version, raw []byte) (*Envelope, error) {
	op := "parse-" + v.String()
	switch v {
	case V1:
		if len(raw) < minSizeV1 || (len(raw)-IVSize-TagSize)%BlockSize != 0 {
			return nil, authError(op)
		}
		return &Envelope{
			Version:    V1,
			Nonce:      raw[:IVSize],
			Ciphertext: raw[IVSize : len(raw)-TagSize],
			Tag:        raw[len(raw)-TagSize:],
		}, nil
	case V2:
		if len(raw) < minSizeV2 {
			return nil, authError(op)
		}
		return &Envelope{
			Version:    V2,
			Tag:        raw[:AEADTagSize],
			Nonce:      raw[AEADTagSize : AEADTagSize+NonceSize],
			Ciphertext: raw[AEADTagSize+NonceSize:],
		}, nil
	case V3:
		if len(raw) < minSizeV3 {
			return nil, authError(op)
		}
		return &Envelope{
			Version:    V3,
			Nonce:      raw[:NonceSizeX],
			Ciphertext: raw[NonceSizeX : len(raw)-TagSize],
			Tag:        raw[len(raw)-TagSize:],
		}, nil
	default:
		return nil, authError(op)
	}
}

// ParseTagged reads a version-prefixed envelope.
func ParseTagged(data []byte) (*Envelope, error) {
	if len(data) == 0 || !Version(data[0]).Valid() {
		return nil, authError("parse-tagged")
	}
	return ParseEnvelope(Version(data[0]), data[1:])
}

// LegacyCandidates guesses which untagged layouts raw could be, most likely first.
// Only V1 and V2 were ever written without a version byte.
func LegacyCandidates(raw []byte) []Version {
	var out []Version
	if len(raw) >= minSizeV1 && (len(raw)-IVSize-TagSize)%BlockSize == 0 {
		out = append(out, V1)
	}
	if len(raw) >= minSizeV2 {
		out = append(out, V2)
	}
	return out
}

// EncodeText renders an envelope or salt as standard Base64 for text storage.
func EncodeText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeText parses standard Base64. Garbage is an authentication failure like any
// other corruption of stored data.
func DecodeText(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, authError("decode-text")
	}
	return b, nil
}
