package chain

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// =============================================================================
// SCALE codec helpers
// =============================================================================

// Errors returned by the decoders.
var (
	ErrNoPayload    = errors.New("no payload in response")
	ErrShortPayload = errors.New("payload shorter than expected")
	ErrBigInteger   = errors.New("compact integer overflows u32")
)

// encode runs fn against an encoder backed by a bytes.Buffer. Buffer writes
// never fail, so an error here means a value the codec cannot represent.
func encode(fn func(*scale.Encoder) error) []byte {
	var buf bytes.Buffer
	if err := fn(scale.NewEncoder(&buf)); err != nil {
		panic(fmt.Sprintf("scale encode: %v", err))
	}
	return buf.Bytes()
}

// EncodeCompact encodes n as a SCALE compact integer.
func EncodeCompact(n uint64) []byte {
	return encode(func(e *scale.Encoder) error {
		return e.EncodeUintCompact(*new(big.Int).SetUint64(n))
	})
}

// DecodeCompactU32 decodes a SCALE compact integer that fits in a u32 and
// returns the value and the number of bytes consumed.
func DecodeCompactU32(b []byte) (uint32, int, error) {
	r := bytes.NewReader(b)
	v, err := scale.NewDecoder(r).DecodeUintCompact()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrShortPayload, err)
	}
	if !v.IsUint64() || v.Uint64() > math.MaxUint32 {
		return 0, 0, ErrBigInteger
	}
	return uint32(v.Uint64()), len(b) - r.Len(), nil
}

// EncodeBytes encodes b with a compact length prefix.
func EncodeBytes(b []byte) []byte {
	return encode(func(e *scale.Encoder) error { return e.Encode(b) })
}

// EncodeString encodes s with a compact length prefix.
func EncodeString(s string) []byte {
	return encode(func(e *scale.Encoder) error { return e.Encode(s) })
}

// Route encodes the service and method names that prefix every Sails
// message and every reply to it.
func Route(service, method string) []byte {
	return encode(func(e *scale.Encoder) error {
		if err := e.Encode(service); err != nil {
			return err
		}
		return e.Encode(method)
	})
}

// StripRoute removes the echoed route prefix from a reply payload.
func StripRoute(reply, route []byte) ([]byte, error) {
	if len(reply) <= len(route) {
		return nil, ErrShortPayload
	}
	return reply[len(route):], nil
}

// DecodeU32LE decodes a fixed little-endian u32.
func DecodeU32LE(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, ErrShortPayload
	}
	var v uint32
	if err := scale.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrShortPayload, err)
	}
	return v, nil
}

// DecodeU64LE decodes a fixed little-endian u64.
func DecodeU64LE(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, ErrShortPayload
	}
	var v uint64
	if err := scale.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrShortPayload, err)
	}
	return v, nil
}

// DecodeHex decodes hex with or without the 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("malformed hex: %w", err)
	}
	return b, nil
}

// =============================================================================
// Count encodings
// =============================================================================

// CountEncoding selects how the u32 in a Count reply is encoded.
type CountEncoding int

const (
	// CountEncodingFixed is a 4-byte little-endian u32, the Sails ABI for a
	// u32 return value.
	CountEncodingFixed CountEncoding = iota
	// CountEncodingCompact is a SCALE compact integer.
	CountEncodingCompact
)

// ParseCountEncoding maps "fixed"/"le" and "compact" to a CountEncoding.
func ParseCountEncoding(s string) (CountEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fixed", "le", "u32":
		return CountEncodingFixed, nil
	case "compact", "scale-compact":
		return CountEncodingCompact, nil
	default:
		return CountEncodingFixed, fmt.Errorf("unknown count encoding %q", s)
	}
}

func (e CountEncoding) String() string {
	if e == CountEncodingCompact {
		return "compact"
	}
	return "fixed"
}

// DecodeCount strips the echoed route from reply and decodes the count.
func DecodeCount(reply, route []byte, enc CountEncoding) (uint32, error) {
	body, err := StripRoute(reply, route)
	if err != nil {
		return 0, err
	}
	if enc == CountEncodingCompact {
		v, _, err := DecodeCompactU32(body)
		return v, err
	}
	return DecodeU32LE(body)
}
