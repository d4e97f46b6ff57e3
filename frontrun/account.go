package frontrun

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spitfirest/frontrunner/exchange"
	"github.com/spitfirest/frontrunner/nonce"
)

const transferGas = 21000

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, common.Address{}, err
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// Account signs legacy transactions for the trading key, drawing nonces from the sequencer.
type Account struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
	nonces  *nonce.Sequencer
}

func NewAccount(key *ecdsa.PrivateKey, chainID *big.Int, nonces *nonce.Sequencer) *Account {
	return &Account{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
		nonces:  nonces,
	}
}

func (a *Account) Address() common.Address { return a.address }

func (a *Account) Signer() types.Signer { return a.signer }

func (a *Account) NextNonce() uint64 {
	return a.nonces.Next()
}

func (a *Account) Sign(nonce uint64, call exchange.Call, gasPrice *big.Int, gasLimit uint64) (*types.Transaction, error) {
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	to := call.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     call.Data,
	})
	return types.SignTx(tx, a.signer, a.key)
}

// SelfTransfer signs a zero-value transfer to the account itself. Mined with the nonce of
// another pending transaction it replaces that transaction.
func (a *Account) SelfTransfer(nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
	return a.Sign(nonce, exchange.Call{To: a.address}, gasPrice, transferGas)
}
