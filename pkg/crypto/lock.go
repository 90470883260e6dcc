package crypto

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

// LockScript returns the default lock for addr under the given lock code
func LockScript(codeHash cell.Hash, hashType cell.HashType, addr common.Address) cell.Script {
	return cell.Script{CodeHash: codeHash, HashType: hashType, Args: addr.Bytes()}
}

// Secp256k1Lock guards ordinary cells. All inputs sharing one lock form a
// group; the witness at the group's first input must be a signature over
// SigningHash by the address in the lock args.
type Secp256k1Lock struct{}

func (Secp256k1Lock) Evaluate(tx *cell.ResolvedTransaction, self cell.Script) error {
	if len(self.Args) != common.AddressLength {
		return verdict.Newf(verdict.KindUnauthorized, "lock args must be a %d-byte address", common.AddressLength)
	}
	group := tx.InputIndexesByLock(self.Hash())
	if len(group) == 0 {
		return verdict.Newf(verdict.KindUnauthorized, "lock not used by any input")
	}
	first := group[0]
	if first >= len(tx.Tx.Witnesses) {
		return verdict.Newf(verdict.KindUnauthorized, "input %d has no witness", first)
	}

	signer, err := RecoverAddress(SigningHash(tx.Tx), tx.Tx.Witnesses[first])
	if err != nil {
		return verdict.Newf(verdict.KindUnauthorized, "input %d: %v", first, err)
	}
	if signer != common.BytesToAddress(self.Args) {
		return verdict.Newf(verdict.KindUnauthorized, "input %d signed by %s", first, signer.Hex())
	}
	return nil
}
