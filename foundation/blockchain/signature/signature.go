// Package signature provides the crypto primitives the node needs. Hashing
// and signing are treated as an opaque capability by the rest of the node.
package signature

import (
	"bytes"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

// Set of errors produced by the signature package.
var (
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Crypto represents the set of primitives the blockchain core consumes. All
// functions are pure over the provided values.
type Crypto interface {
	FastHash(data ...[]byte) Hash
	LongHash(data []byte) Hash
	CheckSignature(hash Hash, pub PublicKey, sig Signature) bool
	CheckRingSignature(hash Hash, image KeyImage, ring []PublicKey, sigs []Signature) bool
	DeriveKeyImage(pub PublicKey, sec SecretKey) (KeyImage, error)
}

// Secp256k1 implements the Crypto interface with keccak256 as the fast hash,
// blake2b-256 as the proof of work hash and secp256k1 for keys.
type Secp256k1 struct{}

// Default is the crypto capability used by the node.
var Default Crypto = Secp256k1{}

// =============================================================================

// FastHash returns the keccak256 hash of the concatenated data.
func (Secp256k1) FastHash(data ...[]byte) Hash {
	return Hash(crypto.Keccak256Hash(data...))
}

// LongHash returns the proof of work hash of the data.
func (Secp256k1) LongHash(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// CheckSignature validates the signature was produced by the key for the hash.
func (Secp256k1) CheckSignature(hash Hash, pub PublicKey, sig Signature) bool {
	if sig.IsZero() {
		return false
	}

	recovered, err := crypto.SigToPub(stamp(hash), sig[:])
	if err != nil {
		return false
	}

	return bytes.Equal(crypto.CompressPubkey(recovered), pub[:])
}

// CheckRingSignature validates a ring signature. The ring carries one
// signature slot per member and at least one slot must be signed by the
// member whose key image is being spent.
func (s Secp256k1) CheckRingSignature(hash Hash, image KeyImage, ring []PublicKey, sigs []Signature) bool {
	if len(ring) == 0 || len(ring) != len(sigs) {
		return false
	}

	msg := ringMessage(s, hash, image)
	for i, sig := range sigs {
		if sig.IsZero() {
			continue
		}

		if !s.CheckSignature(msg, ring[i], sig) {
			return false
		}

		expected, err := imageFromPublic(ring[i])
		if err != nil || expected != image {
			return false
		}

		return true
	}

	return false
}

// DeriveKeyImage computes I = x * Hp(P) for the key pair.
func (Secp256k1) DeriveKeyImage(pub PublicKey, sec SecretKey) (KeyImage, error) {
	derived, err := SecretToPublic(sec)
	if err != nil {
		return KeyImage{}, err
	}
	if derived != pub {
		return KeyImage{}, ErrInvalidKey
	}

	var x secp256k1.ModNScalar
	if overflow := x.SetByteSlice(sec[:]); overflow || x.IsZero() {
		return KeyImage{}, ErrInvalidKey
	}

	hp := hashToPoint(pub)

	var image secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&x, &hp, &image)

	return toKeyImage(&image), nil
}

// =============================================================================

// GenerateKeys produces a new random key pair.
func GenerateKeys() (PublicKey, SecretKey, error) {
	pk, err := crypto.GenerateKey()
	if err != nil {
		return PublicKey{}, SecretKey{}, err
	}

	var sec SecretKey
	copy(sec[:], crypto.FromECDSA(pk))

	var pub PublicKey
	copy(pub[:], crypto.CompressPubkey(&pk.PublicKey))

	return pub, sec, nil
}

// SecretToPublic returns the public key for the secret key.
func SecretToPublic(sec SecretKey) (PublicKey, error) {
	pk, err := crypto.ToECDSA(sec[:])
	if err != nil {
		return PublicKey{}, ErrInvalidKey
	}

	var pub PublicKey
	copy(pub[:], crypto.CompressPubkey(&pk.PublicKey))

	return pub, nil
}

// CheckKey validates the public key is a point on the curve.
func CheckKey(pub PublicKey) bool {
	_, err := crypto.DecompressPubkey(pub[:])
	return err == nil
}

// Sign uses the secret key to sign the hash.
func Sign(hash Hash, sec SecretKey) (Signature, error) {
	pk, err := crypto.ToECDSA(sec[:])
	if err != nil {
		return Signature{}, ErrInvalidKey
	}

	sig, err := crypto.Sign(stamp(hash), pk)
	if err != nil {
		return Signature{}, err
	}

	var out Signature
	copy(out[:], sig)

	return out, nil
}

// SignRing produces the ring signature slots for spending the output at
// index real of the ring.
func SignRing(hash Hash, image KeyImage, ring []PublicKey, real int, sec SecretKey) ([]Signature, error) {
	if real < 0 || real >= len(ring) {
		return nil, ErrInvalidKey
	}

	sig, err := Sign(ringMessage(Default, hash, image), sec)
	if err != nil {
		return nil, err
	}

	sigs := make([]Signature, len(ring))
	sigs[real] = sig

	return sigs, nil
}

// DeriveOutputKey derives the one time key of output index of a transaction
// paying to the base key: P' = P + Hs(seed || index) * G.
func DeriveOutputKey(base PublicKey, seed PublicKey, index uint32) (PublicKey, error) {
	key, err := secp256k1.ParsePubKey(base[:])
	if err != nil {
		return PublicKey{}, ErrInvalidKey
	}

	s := derivationScalar(seed, index)

	var point, offset, sum secp256k1.JacobianPoint
	key.AsJacobian(&point)
	secp256k1.ScalarBaseMultNonConst(&s, &offset)
	secp256k1.AddNonConst(&point, &offset, &sum)
	sum.ToAffine()

	var out PublicKey
	copy(out[:], secp256k1.NewPublicKey(&sum.X, &sum.Y).SerializeCompressed())

	return out, nil
}

// DeriveOutputSecret derives the secret key matching DeriveOutputKey:
// x' = x + Hs(seed || index).
func DeriveOutputSecret(base SecretKey, seed PublicKey, index uint32) (SecretKey, error) {
	var x secp256k1.ModNScalar
	if overflow := x.SetByteSlice(base[:]); overflow || x.IsZero() {
		return SecretKey{}, ErrInvalidKey
	}

	s := derivationScalar(seed, index)
	x.Add(&s)

	var out SecretKey
	x.PutBytes((*[32]byte)(&out))

	return out, nil
}

// =============================================================================

// derivationScalar hashes the seed and index into a scalar.
func derivationScalar(seed PublicKey, index uint32) secp256k1.ModNScalar {
	idx := []byte{byte(index >> 24), byte(index >> 16), byte(index >> 8), byte(index)}

	var s secp256k1.ModNScalar
	s.SetByteSlice(crypto.Keccak256(seed[:], idx))

	return s
}

// stamp returns a hash of 32 bytes that represents this hash with
// the network stamp embedded into the final hash.
func stamp(hash Hash) []byte {
	stamp := []byte("\x19Conceal Signed Message:\n32")
	return crypto.Keccak256(stamp, hash[:])
}

// ringMessage binds the key image into the signed message.
func ringMessage(c Crypto, hash Hash, image KeyImage) Hash {
	return c.FastHash(hash[:], image[:])
}

// hashToPoint maps a public key onto the curve as Hp(P) = H(P) * G.
func hashToPoint(pub PublicKey) secp256k1.JacobianPoint {
	var h secp256k1.ModNScalar
	h.SetByteSlice(crypto.Keccak256(pub[:]))

	var point secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&h, &point)

	return point
}

// imageFromPublic computes the key image a valid owner of the public key
// would derive. Since Hp(P) = h*G, x*Hp(P) equals h*P.
func imageFromPublic(pub PublicKey) (KeyImage, error) {
	key, err := secp256k1.ParsePubKey(pub[:])
	if err != nil {
		return KeyImage{}, ErrInvalidKey
	}

	var h secp256k1.ModNScalar
	h.SetByteSlice(crypto.Keccak256(pub[:]))

	var point, image secp256k1.JacobianPoint
	key.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&h, &point, &image)

	return toKeyImage(&image), nil
}

// toKeyImage serializes the point in compressed form.
func toKeyImage(point *secp256k1.JacobianPoint) KeyImage {
	point.ToAffine()

	var image KeyImage
	copy(image[:], secp256k1.NewPublicKey(&point.X, &point.Y).SerializeCompressed())

	return image
}
