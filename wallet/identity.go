package wallet

import (
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

// Identity wraps the relayer's single decrypted signing key and exposes its
// bech32 address, the form every other component (relayer, vault locks,
// in-flight guard keys) addresses it by.
type Identity struct {
	Priv *secp256k1.PrivKey
}

// NewIdentity wraps an already-loaded private key.
func NewIdentity(priv *secp256k1.PrivKey) *Identity {
	return &Identity{Priv: priv}
}

// Generate creates a fresh secp256k1 key pair, used by `relayd keygen`.
func Generate() (*Identity, error) {
	priv := secp256k1.GenPrivKey()
	return &Identity{Priv: priv}, nil
}

// Address returns the bech32 account address derived from the public key.
func (id *Identity) Address() string {
	return sdk.AccAddress(id.Priv.PubKey().Address()).String()
}
