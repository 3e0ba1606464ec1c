package database

import (
	"errors"
	"fmt"
)

// Tags of the fields that can appear in the transaction extra blob.
const (
	ExtraTagPadding = 0x00
	ExtraTagPubKey  = 0x01
	ExtraTagNonce   = 0x02

	// ExtraNoncePaymentID marks a nonce carrying a payment id.
	ExtraNoncePaymentID = 0x00
)

// Limits of the extra fields.
const (
	MaxExtraPaddingSize = 255
	MaxExtraNonceSize   = 255
)

// ErrExtra is returned when the extra blob can't be parsed.
var ErrExtra = errors.New("invalid extra")

// ExtraField is one parsed field of the extra blob. Only the members that
// belong to the tag are set.
type ExtraField struct {
	Tag       byte
	Padding   int
	PublicKey PublicKey
	Nonce     []byte
}

// ParseExtra parses the extra blob into its fields. Unknown tags stop the
// parse with an error, the fields read so far are returned.
func ParseExtra(extra []byte) ([]ExtraField, error) {
	var fields []ExtraField

	for pos := 0; pos < len(extra); {
		tag := extra[pos]
		pos++

		switch tag {
		case ExtraTagPadding:
			size := 1
			for ; pos < len(extra); pos++ {
				if extra[pos] != 0 {
					return fields, fmt.Errorf("%w: non zero padding", ErrExtra)
				}
				size++
			}
			if size > MaxExtraPaddingSize {
				return fields, fmt.Errorf("%w: padding too large", ErrExtra)
			}
			fields = append(fields, ExtraField{Tag: tag, Padding: size})

		case ExtraTagPubKey:
			var pk PublicKey
			if len(extra)-pos < len(pk) {
				return fields, fmt.Errorf("%w: truncated public key", ErrExtra)
			}
			copy(pk[:], extra[pos:])
			pos += len(pk)
			fields = append(fields, ExtraField{Tag: tag, PublicKey: pk})

		case ExtraTagNonce:
			if pos >= len(extra) {
				return fields, fmt.Errorf("%w: truncated nonce", ErrExtra)
			}
			size := int(extra[pos])
			pos++
			if len(extra)-pos < size {
				return fields, fmt.Errorf("%w: truncated nonce", ErrExtra)
			}
			nonce := make([]byte, size)
			copy(nonce, extra[pos:pos+size])
			pos += size
			fields = append(fields, ExtraField{Tag: tag, Nonce: nonce})

		default:
			return fields, fmt.Errorf("%w: unknown tag %d", ErrExtra, tag)
		}
	}

	return fields, nil
}

// AppendExtraPublicKey adds the transaction public key to the extra blob.
func AppendExtraPublicKey(extra []byte, pk PublicKey) []byte {
	extra = append(extra, ExtraTagPubKey)
	return append(extra, pk[:]...)
}

// AppendExtraNonce adds an arbitrary nonce to the extra blob.
func AppendExtraNonce(extra []byte, nonce []byte) ([]byte, error) {
	if len(nonce) > MaxExtraNonceSize {
		return extra, fmt.Errorf("%w: nonce too large", ErrExtra)
	}
	extra = append(extra, ExtraTagNonce, byte(len(nonce)))
	return append(extra, nonce...), nil
}

// AppendExtraPaymentID adds a payment id nonce to the extra blob.
func AppendExtraPaymentID(extra []byte, id Hash) []byte {
	nonce := make([]byte, 0, len(id)+1)
	nonce = append(nonce, ExtraNoncePaymentID)
	nonce = append(nonce, id[:]...)
	extra, _ = AppendExtraNonce(extra, nonce)
	return extra
}

// PublicKeyFromExtra returns the transaction public key if present.
func PublicKeyFromExtra(extra []byte) (PublicKey, bool) {
	fields, _ := ParseExtra(extra)
	for _, f := range fields {
		if f.Tag == ExtraTagPubKey {
			return f.PublicKey, true
		}
	}
	return PublicKey{}, false
}

// PaymentIDFromExtra returns the payment id carried in a nonce field.
func PaymentIDFromExtra(extra []byte) (Hash, bool) {
	fields, _ := ParseExtra(extra)
	for _, f := range fields {
		if f.Tag != ExtraTagNonce {
			continue
		}
		if len(f.Nonce) == len(Hash{})+1 && f.Nonce[0] == ExtraNoncePaymentID {
			var id Hash
			copy(id[:], f.Nonce[1:])
			return id, true
		}
	}
	return ZeroHash, false
}
