package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	coreerrors "afrochain/core/errors"
	"afrochain/ledger"
)

// EscrowABI is the interface of the on-chain escrow contract. Deployment
// funds the contract with msg.value.
const EscrowABI = `[
  {"type":"constructor","stateMutability":"payable","inputs":[
    {"name":"buyer","type":"address"},
    {"name":"farmer","type":"address"},
    {"name":"arbiter","type":"address"},
    {"name":"autoRefundAt","type":"uint256"}]},
  {"type":"function","name":"release","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// Escrow deploys and settles escrow contracts with the operator key.
type Escrow struct {
	adapter  *Adapter
	key      *ecdsa.PrivateKey
	operator common.Address
	abi      abi.ABI
	bytecode []byte
}

var _ ledger.ContractBackend = (*Escrow)(nil)

// LoadBytecode reads a hex encoded creation bytecode file.
func LoadBytecode(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read escrow bytecode: %w", err)
	}
	code, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode escrow bytecode: %w", err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("escrow bytecode is empty")
	}
	return code, nil
}

// NewEscrow binds the escrow contract to the adapter's client.
func NewEscrow(adapter *Adapter, operatorKey string, bytecode []byte) (*Escrow, error) {
	if adapter == nil {
		return nil, fmt.Errorf("evm adapter required")
	}
	key, err := ParsePrivateKey(operatorKey)
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(EscrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}
	return &Escrow{
		adapter:  adapter,
		key:      key,
		operator: gethcrypto.PubkeyToAddress(key.PublicKey),
		abi:      parsed,
		bytecode: bytecode,
	}, nil
}

func (e *Escrow) Deploy(ctx context.Context, terms ledger.EscrowTerms) (ledger.ContractReceipt, error) {
	wei, err := ToWei(terms.Amount)
	if err != nil {
		return ledger.ContractReceipt{}, err
	}
	buyer := e.operator
	if terms.Buyer != "" {
		if buyer, err = hexAddress(terms.Buyer); err != nil {
			return ledger.ContractReceipt{}, err
		}
	}
	farmer, err := hexAddress(terms.Farmer)
	if err != nil {
		return ledger.ContractReceipt{}, err
	}
	arbiter, err := hexAddress(terms.Arbiter)
	if err != nil {
		return ledger.ContractReceipt{}, err
	}
	args, err := e.abi.Pack("", buyer, farmer, arbiter, big.NewInt(terms.AutoRefundAt.Unix()))
	if err != nil {
		return ledger.ContractReceipt{}, coreerrors.Validation("encode escrow constructor: %v", err)
	}
	data := append(append([]byte(nil), e.bytecode...), args...)
	receipt, err := e.adapter.send(ctx, e.key, nil, wei, data, 0)
	if err != nil {
		return ledger.ContractReceipt{}, err
	}
	return ledger.ContractReceipt{
		Address:        receipt.ContractAddress.Hex(),
		TransactionRef: receipt.TxHash.Hex(),
	}, nil
}

func (e *Escrow) Release(ctx context.Context, address string) (string, error) {
	return e.call(ctx, address, "release")
}

func (e *Escrow) Refund(ctx context.Context, address string) (string, error) {
	return e.call(ctx, address, "refund")
}

func (e *Escrow) call(ctx context.Context, address, method string, args ...any) (string, error) {
	data, err := e.abi.Pack(method, args...)
	if err != nil {
		return "", coreerrors.Validation("encode %s: %v", method, err)
	}
	contract, err := hexAddress(address)
	if err != nil {
		return "", err
	}
	receipt, err := e.adapter.send(ctx, e.key, &contract, big.NewInt(0), data, 0)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}
