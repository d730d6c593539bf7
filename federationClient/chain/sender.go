package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/centauron/federation-node/federationClient/contentstore"
	fedErrors "github.com/centauron/federation-node/federationClient/errors"
)

const (
	batchGasFallback  = 200000
	singleGasFallback = 100000
)

// NonceSource reads the next usable nonce of an account.
type NonceSource interface {
	PendingNonce(ctx context.Context, account string) (uint64, error)
}

// NonceAllocator serialises nonce use for one signing address.
type NonceAllocator struct {
	mu      sync.Mutex
	source  NonceSource
	address ethcommon.Address
}

// NonceLease hands out consecutive nonces while the allocator lock is held.
type NonceLease struct {
	next     uint64
	released bool
	alloc    *NonceAllocator
}

var (
	allocatorsMu sync.Mutex
	allocators   = map[ethcommon.Address]*NonceAllocator{}
)

// AllocatorFor returns the process-wide allocator of address, so every
// sender signing with the same key shares one lock.
func AllocatorFor(address ethcommon.Address, source NonceSource) *NonceAllocator {
	allocatorsMu.Lock()
	defer allocatorsMu.Unlock()
	if a, ok := allocators[address]; ok {
		a.mu.Lock()
		a.source = source
		a.mu.Unlock()
		return a
	}
	a := &NonceAllocator{source: source, address: address}
	allocators[address] = a
	return a
}

// Lease locks the allocator and reads the pending nonce. The caller must Release.
func (a *NonceAllocator) Lease(ctx context.Context) (*NonceLease, error) {
	a.mu.Lock()
	nonce, err := a.source.PendingNonce(ctx, a.address.Hex())
	if err != nil {
		a.mu.Unlock()
		return nil, fedErrors.NewNetworkError("sender", "failed to read pending nonce", err)
	}
	return &NonceLease{next: nonce, alloc: a}, nil
}

// Next returns the next nonce of the lease.
func (l *NonceLease) Next() uint64 {
	n := l.next
	l.next++
	return n
}

func (l *NonceLease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.alloc.mu.Unlock()
}

// Sender signs and submits broadcast transactions.
type Sender struct {
	adapter BroadcastAdapter
	key     *ecdsa.PrivateKey
	address ethcommon.Address
	nonces  *NonceAllocator
	content contentstore.Store
	logger  zerolog.Logger
}

// NewSender creates a sender for the given hex private key.
func NewSender(adapter BroadcastAdapter, privateKeyHex string, content contentstore.Store, logger zerolog.Logger) (*Sender, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fedErrors.NewConfigError("sender", "invalid private key: "+err.Error())
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	return &Sender{
		adapter: adapter,
		key:     key,
		address: address,
		nonces:  AllocatorFor(address, adapter),
		content: content,
		logger:  logger.With().Str("component", "broadcast_sender").Str("address", address.Hex()).Logger(),
	}, nil
}

// Address is the signing address.
func (s *Sender) Address() ethcommon.Address {
	return s.address
}

// SendBatch submits payloads in nonce order. The first failure aborts the
// rest of the batch; the hashes sent so far are returned with the error.
func (s *Sender) SendBatch(ctx context.Context, payloads [][]byte) ([]string, error) {
	lease, err := s.nonces.Lease(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	hashes := make([]string, 0, len(payloads))
	for i, payload := range payloads {
		gas := s.estimateGas(ctx, payload, 1.5, batchGasFallback)
		hash, err := s.signAndSend(ctx, lease.Next(), gas, payload)
		if err != nil {
			s.logger.Error().Err(err).Int("index", i).Int("sent", len(hashes)).Msg("batch send aborted")
			return hashes, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// Send submits one payload.
func (s *Sender) Send(ctx context.Context, payload []byte) (string, error) {
	lease, err := s.nonces.Lease(ctx)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	gas := s.estimateGas(ctx, payload, 1.2, singleGasFallback)
	return s.signAndSend(ctx, lease.Next(), gas, payload)
}

// SendBroadcast stores the topic payload in the content store and anchors
// its CID on the ledger.
func (s *Sender) SendBroadcast(ctx context.Context, topic string, data any) (cid string, txHash string, err error) {
	payload, err := contentstore.BuildPayload(topic, data)
	if err != nil {
		return "", "", err
	}
	return s.SendPointer(ctx, payload)
}

// SendPointer stores v in the content store and submits a broadcast pointer to it.
func (s *Sender) SendPointer(ctx context.Context, v any) (cid string, txHash string, err error) {
	if s.content == nil {
		return "", "", fmt.Errorf("no content store configured")
	}
	cid, err = contentstore.AddJSON(ctx, s.content, v)
	if err != nil {
		return "", "", err
	}
	input, err := json.Marshal(map[string]string{"type": "broadcast", "cid": cid})
	if err != nil {
		return "", "", err
	}
	txHash, err = s.Send(ctx, input)
	if err != nil {
		return cid, "", err
	}
	s.logger.Info().Str("cid", cid).Str("tx_hash", txHash).Msg("broadcast sent")
	return cid, txHash, nil
}

func (s *Sender) estimateGas(ctx context.Context, payload []byte, multiplier float64, fallback uint64) uint64 {
	to := s.address
	gas, err := s.adapter.EstimateGas(ctx, ethereum.CallMsg{
		From:     s.address,
		To:       &to,
		GasPrice: big.NewInt(0),
		Value:    big.NewInt(0),
		Data:     payload,
	})
	if err != nil {
		s.logger.Warn().Err(err).Uint64("fallback", fallback).Msg("gas estimation failed, using fallback")
		return fallback
	}
	return uint64(float64(gas) * multiplier)
}

func (s *Sender) signAndSend(ctx context.Context, nonce, gas uint64, payload []byte) (string, error) {
	tx := types.NewTransaction(nonce, s.address, big.NewInt(0), gas, big.NewInt(0), payload)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.adapter.ChainID()), s.key)
	if err != nil {
		return "", fedErrors.NewInternalError("sender", "failed to sign transaction", err)
	}
	if err := s.adapter.SendTransaction(ctx, signed); err != nil {
		return "", fedErrors.NewNetworkError("sender", "failed to submit transaction", err).
			WithContext("nonce", nonce)
	}
	s.logger.Debug().Uint64("nonce", nonce).Uint64("gas", gas).Str("tx_hash", signed.Hash().Hex()).Msg("transaction submitted")
	return signed.Hash().Hex(), nil
}
