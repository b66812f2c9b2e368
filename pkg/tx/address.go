package tx

import (
	"github.com/Klingon-tech/embernet-chain/pkg/crypto"
	"github.com/Klingon-tech/embernet-chain/pkg/types"
)

// HashMode selects how spending keys hash to the condition's signer.
// The wire value doubles as the first byte of a serialized condition, so
// the mode uniquely identifies single-sig versus multisig layouts.
type HashMode byte

// Hash modes. P2PKH and P2WPKH are single-sig; P2SH and P2WSH are
// multisig. The witness modes (P2WPKH, P2WSH) require compressed keys.
const (
	HashModeP2PKH  HashMode = 0x00
	HashModeP2SH   HashMode = 0x01
	HashModeP2WPKH HashMode = 0x02
	HashModeP2WSH  HashMode = 0x03
)

// IsSinglesig reports whether the mode describes a single-sig condition.
func (m HashMode) IsSinglesig() bool {
	return m == HashModeP2PKH || m == HashModeP2WPKH
}

// IsMultisig reports whether the mode describes a multisig condition.
func (m HashMode) IsMultisig() bool {
	return m == HashModeP2SH || m == HashModeP2WSH
}

// IsWitness reports whether the mode forbids uncompressed keys.
func (m HashMode) IsWitness() bool {
	return m == HashModeP2WPKH || m == HashModeP2WSH
}

// multisigRedeem serializes the canonical multisig redeem commitment:
//
//	key_count(be2) ‖ each key in its declared encoding ‖ signatures_required(be2)
func multisigRedeem(numSigs uint16, pubkeys []*crypto.PublicKey) []byte {
	buf := appendUint16(nil, uint16(len(pubkeys)))
	for _, pub := range pubkeys {
		buf = append(buf, pub.Serialize()...)
	}
	return appendUint16(buf, numSigs)
}

// PublicKeysToAddressHash derives the 160-bit signer hash a spending
// condition commits to, from the hash mode, the signature threshold, and
// the public keys in declared order.
func PublicKeysToAddressHash(mode HashMode, numSigs uint16, pubkeys []*crypto.PublicKey) (types.Hash160, bool) {
	switch mode {
	case HashModeP2PKH:
		if len(pubkeys) != 1 {
			return types.Hash160{}, false
		}
		return crypto.Hash160(pubkeys[0].Serialize()), true

	case HashModeP2WPKH:
		// Witness program: version 0, 20-byte key hash program.
		if len(pubkeys) != 1 || !pubkeys[0].Compressed() {
			return types.Hash160{}, false
		}
		keyHash := crypto.Hash160(pubkeys[0].Serialize())
		program := append([]byte{0x00, 0x14}, keyHash[:]...)
		return crypto.Hash160(program), true

	case HashModeP2SH:
		if len(pubkeys) == 0 || numSigs == 0 || int(numSigs) > len(pubkeys) {
			return types.Hash160{}, false
		}
		return crypto.Hash160(multisigRedeem(numSigs, pubkeys)), true

	case HashModeP2WSH:
		// Witness program: version 0, 32-byte redeem hash program.
		if len(pubkeys) == 0 || numSigs == 0 || int(numSigs) > len(pubkeys) {
			return types.Hash160{}, false
		}
		for _, pub := range pubkeys {
			if !pub.Compressed() {
				return types.Hash160{}, false
			}
		}
		redeemHash := crypto.Hash(multisigRedeem(numSigs, pubkeys))
		program := append([]byte{0x00, 0x20}, redeemHash[:]...)
		return crypto.Hash160(program), true

	default:
		return types.Hash160{}, false
	}
}
