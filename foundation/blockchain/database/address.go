package database

import (
	"fmt"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AccountAddress is the public part of an account. Rewards and transfers are
// paid to the spend key.
type AccountAddress struct {
	SpendKey PublicKey `json:"spend_key"`
	ViewKey  PublicKey `json:"view_key"`
}

// ToAddress parses the string form of an address.
func ToAddress(s string) (AccountAddress, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return AccountAddress{}, fmt.Errorf("%w: address: %s", ErrParse, err)
	}

	var addr AccountAddress
	if len(b) != len(addr.SpendKey)+len(addr.ViewKey) {
		return AccountAddress{}, fmt.Errorf("%w: address: invalid length %d", ErrParse, len(b))
	}
	copy(addr.SpendKey[:], b)
	copy(addr.ViewKey[:], b[len(addr.SpendKey):])

	if !addr.IsValid() {
		return AccountAddress{}, fmt.Errorf("%w: address: keys not on curve", ErrParse)
	}

	return addr, nil
}

// String returns the hex form of the spend key followed by the view key.
func (a AccountAddress) String() string {
	b := make([]byte, 0, len(a.SpendKey)+len(a.ViewKey))
	b = append(b, a.SpendKey[:]...)
	b = append(b, a.ViewKey[:]...)
	return hexutil.Encode(b)
}

// IsValid reports if both keys are points on the curve.
func (a AccountAddress) IsValid() bool {
	return signature.CheckKey(a.SpendKey) && signature.CheckKey(a.ViewKey)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (a AccountAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (a *AccountAddress) UnmarshalText(data []byte) error {
	addr, err := ToAddress(string(data))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}
