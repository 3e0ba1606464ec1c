package signature

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sizes of the fixed length crypto values.
const (
	HashLength      = 32
	PublicKeyLength = 33
	SecretKeyLength = 32
	KeyImageLength  = 33
	SignatureLength = 65
)

// Hash is a 32 byte digest produced by the fast hash function.
type Hash [HashLength]byte

// PublicKey is a compressed secp256k1 public key.
type PublicKey [PublicKeyLength]byte

// SecretKey is a secp256k1 private scalar.
type SecretKey [SecretKeyLength]byte

// KeyImage is the curve point derived from a spent output key. Every key
// image can only be spent once on the main chain.
type KeyImage [KeyImageLength]byte

// Signature is a recoverable secp256k1 signature in [R|S|V] format.
type Signature [SignatureLength]byte

// ZeroHash represents a hash code of zeros.
var ZeroHash Hash

// =============================================================================

// String returns the hex encoding of the hash.
func (h Hash) String() string { return hexutil.Encode(h[:]) }

// IsZero reports if the hash is all zeros.
func (h Hash) IsZero() bool { return h == ZeroHash }

// MarshalText implements the encoding.TextMarshaler interface.
func (h Hash) MarshalText() ([]byte, error) { return hexutil.Bytes(h[:]).MarshalText() }

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (h *Hash) UnmarshalText(input []byte) error { return decodeFixed("hash", input, h[:]) }

// String returns the hex encoding of the key.
func (k PublicKey) String() string { return hexutil.Encode(k[:]) }

// MarshalText implements the encoding.TextMarshaler interface.
func (k PublicKey) MarshalText() ([]byte, error) { return hexutil.Bytes(k[:]).MarshalText() }

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (k *PublicKey) UnmarshalText(input []byte) error {
	return decodeFixed("public key", input, k[:])
}

// String returns the hex encoding of the key.
func (k SecretKey) String() string { return hexutil.Encode(k[:]) }

// MarshalText implements the encoding.TextMarshaler interface.
func (k SecretKey) MarshalText() ([]byte, error) { return hexutil.Bytes(k[:]).MarshalText() }

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (k *SecretKey) UnmarshalText(input []byte) error {
	return decodeFixed("secret key", input, k[:])
}

// String returns the hex encoding of the key image.
func (ki KeyImage) String() string { return hexutil.Encode(ki[:]) }

// MarshalText implements the encoding.TextMarshaler interface.
func (ki KeyImage) MarshalText() ([]byte, error) { return hexutil.Bytes(ki[:]).MarshalText() }

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (ki *KeyImage) UnmarshalText(input []byte) error {
	return decodeFixed("key image", input, ki[:])
}

// String returns the hex encoding of the signature.
func (s Signature) String() string { return hexutil.Encode(s[:]) }

// IsZero reports if the signature is unset.
func (s Signature) IsZero() bool { return s == Signature{} }

// MarshalText implements the encoding.TextMarshaler interface.
func (s Signature) MarshalText() ([]byte, error) { return hexutil.Bytes(s[:]).MarshalText() }

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *Signature) UnmarshalText(input []byte) error {
	return decodeFixed("signature", input, s[:])
}

// =============================================================================

// ToHash converts a hex string into a hash.
func ToHash(s string) (Hash, error) {
	var h Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return ZeroHash, err
	}
	return h, nil
}

// decodeFixed decodes a 0x prefixed hex value into a fixed size buffer.
func decodeFixed(name string, input []byte, out []byte) error {
	b, err := hexutil.Decode(string(input))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if len(b) != len(out) {
		return fmt.Errorf("%s: invalid length %d, expected %d", name, len(b), len(out))
	}
	copy(out, b)
	return nil
}
