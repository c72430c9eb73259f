package bundler

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
)

// NonceManager tracks the next nonce per sender so back-to-back operations do not collide while
// earlier ones still sit in the bundler mempool.
type NonceManager struct {
	// Key: sender hex, Value: next nonce to use
	pendingNonces map[string]*big.Int
	mu            sync.Mutex
	logger        logger.Logger
}

func NewNonceManager(l logger.Logger) *NonceManager {
	return &NonceManager{
		pendingNonces: make(map[string]*big.Int),
		logger:        logger.EnsureLogger(l),
	}
}

// GetNextNonce returns max(on-chain nonce, cached pending nonce).
func (nm *NonceManager) GetNextNonce(
	ctx context.Context,
	sender common.Address,
	onChainNonceFetcher func(ctx context.Context) (*big.Int, error),
) (*big.Int, error) {
	onChainNonce, err := onChainNonceFetcher(ctx)
	if err != nil {
		return nil, err
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()

	cached, ok := nm.pendingNonces[sender.Hex()]
	if !ok || onChainNonce.Cmp(cached) > 0 {
		// first operation for the sender, or earlier ones were mined or dropped
		return new(big.Int).Set(onChainNonce), nil
	}

	nm.logger.Debug("using cached nonce", "sender", sender.Hex(), "cached", cached.String(), "onchain", onChainNonce.String())
	return new(big.Int).Set(cached), nil
}

// IncrementNonce records that currentNonce was accepted by the bundler.
func (nm *NonceManager) IncrementNonce(sender common.Address, currentNonce *big.Int) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.pendingNonces[sender.Hex()] = new(big.Int).Add(currentNonce, big.NewInt(1))
}

// ResetNonce forgets the cached nonce, e.g. after an AA25 rejection.
func (nm *NonceManager) ResetNonce(sender common.Address) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	delete(nm.pendingNonces, sender.Hex())
	nm.logger.Info("reset cached nonce", "sender", sender.Hex())
}

// GetCachedNonce returns the cached nonce for a sender without fetching from chain.
func (nm *NonceManager) GetCachedNonce(sender common.Address) (*big.Int, bool) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nonce, exists := nm.pendingNonces[sender.Hex()]
	if !exists {
		return nil, false
	}
	return new(big.Int).Set(nonce), true
}
