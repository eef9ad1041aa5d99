// Package ledger talks to the venue contract over JSON-RPC: it builds
// typed contract invocations, simulates them, signs their digests, and
// tracks submitted transactions to a terminal status.
package ledger

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

// amountScale is the fixed-point scale of on-ledger amounts: 7 decimal
// places, so one token is 10^7 ledger units.
const amountScale = 7

// ScaleAmount converts a decimal token amount to ledger units,
// truncating anything below the seventh decimal place.
func ScaleAmount(d decimal.Decimal) *big.Int {
	return d.Shift(amountScale).BigInt()
}

// UnscaleAmount converts ledger units back to a decimal token amount.
func UnscaleAmount(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -amountScale)
}

// ArgKind tags the contract-side type of one positional argument.
type ArgKind string

const (
	KindAddress ArgKind = "address"
	KindSymbol  ArgKind = "symbol"
	KindI128    ArgKind = "i128"
	KindU32     ArgKind = "u32"
	KindBool    ArgKind = "bool"
)

// Arg is one typed positional argument of a contract invocation, carried
// pre-rendered in wire form.
type Arg struct {
	Kind  ArgKind `json:"type"`
	Value string  `json:"value"`
}

// AddressArg wraps an account address.
func AddressArg(v string) Arg { return Arg{Kind: KindAddress, Value: v} }

// SymbolArg wraps a contract symbol such as a market identifier.
func SymbolArg(v string) Arg { return Arg{Kind: KindSymbol, Value: v} }

// I128Arg wraps a 128-bit integer amount in ledger units.
func I128Arg(v *big.Int) Arg { return Arg{Kind: KindI128, Value: v.String()} }

// U32Arg wraps a small unsigned integer such as a leverage multiple.
func U32Arg(v uint32) Arg { return Arg{Kind: KindU32, Value: strconv.FormatUint(uint64(v), 10)} }

// BoolArg wraps a boolean flag such as a position direction.
func BoolArg(v bool) Arg { return Arg{Kind: KindBool, Value: strconv.FormatBool(v)} }

// Invocation is one contract call ready for the simulate/sign/send
// lifecycle.
type Invocation struct {
	Source   string `json:"source"`
	Sequence int64  `json:"sequence"`
	Fee      int64  `json:"fee"`
	Contract string `json:"contract"`
	Function string `json:"function"`
	Args     []Arg  `json:"args"`
}

// Encode renders the canonical wire form of the invocation. Field order
// is fixed by the struct, so the encoding is stable for a given call.
func (inv Invocation) Encode() ([]byte, error) {
	data, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode invocation: %w", err)
	}
	return data, nil
}

// Digest returns the 32-byte signing digest: SHA-256 over the network id
// (itself the SHA-256 of the network passphrase) followed by the
// canonical encoding. Binding the passphrase into the digest makes a
// testnet signature useless on every other network.
func (inv Invocation) Digest(networkPassphrase string) ([]byte, error) {
	payload, err := inv.Encode()
	if err != nil {
		return nil, err
	}

	networkID := sha256.Sum256([]byte(networkPassphrase))
	h := sha256.New()
	h.Write(networkID[:])
	h.Write(payload)
	return h.Sum(nil), nil
}

// SignedInvocation pairs an invocation with its envelope signature.
type SignedInvocation struct {
	Invocation Invocation `json:"invocation"`
	PublicKey  string     `json:"publicKey"`
	Signature  string     `json:"signature"`
}
