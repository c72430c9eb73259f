package app

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/chainio/signer"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/orchestrator"
)

// devSignerAccounts is how many BIP-44 accounts are derived from the configured mnemonic.
const devSignerAccounts = 10

// keyring holds the owner keys the server may sign with. Deployments where users sign on their
// own devices run with an empty keyring and drive submissions from the client.
type keyring struct {
	mu      sync.RWMutex
	signers map[common.Address]orchestrator.Signer
}

func newKeyring() *keyring {
	return &keyring{signers: make(map[common.Address]orchestrator.Signer)}
}

func keyringFromMnemonic(mnemonic string) (*keyring, error) {
	k := newKeyring()
	if mnemonic == "" {
		return k, nil
	}
	for i := uint32(0); i < devSignerAccounts; i++ {
		s, err := signer.FromMnemonic(mnemonic, i)
		if err != nil {
			return nil, fmt.Errorf("derive signer %d: %w", i, err)
		}
		k.add(s)
	}
	return k, nil
}

func (k *keyring) add(s orchestrator.Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.Address()] = s
}

func (k *keyring) signerFor(owner common.Address) (orchestrator.Signer, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[owner]
	return s, ok
}

func (k *keyring) len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.signers)
}
