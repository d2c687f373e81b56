package registry

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/54b3r/manualrag-go/internal/logging"
	"github.com/54b3r/manualrag-go/internal/rag"
)

// Chain defaults.
const (
	DefaultRPCURL   = "http://127.0.0.1:8545"
	DefaultChainID  = 1337
	DefaultGasLimit = 2_000_000

	defaultPollInterval = time.Second
)

// Contract method names.
const (
	methodUpload  = "uploadManual"
	methodHandles = "getManualCIDs"
	methodVersion = "getManualVersion"
)

// DefaultABI describes the manual registry contract. getManualVersion is
// optional: when the deployed contract reverts it, Resolve reports version 0.
const DefaultABI = `[
  {"type":"function","name":"uploadManual","stateMutability":"nonpayable",
   "inputs":[{"name":"manualId","type":"string"},{"name":"contentCID","type":"string"},
             {"name":"embeddingsCID","type":"string"},{"name":"version","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"getManualCIDs","stateMutability":"view",
   "inputs":[{"name":"manualId","type":"string"}],
   "outputs":[{"name":"contentCID","type":"string"},{"name":"embeddingsCID","type":"string"}]},
  {"type":"function","name":"getManualVersion","stateMutability":"view",
   "inputs":[{"name":"manualId","type":"string"}],
   "outputs":[{"name":"version","type":"uint256"}]}
]`

// ChainConfig holds connection settings for the contract registry.
type ChainConfig struct {
	// RPCURL is the JSON-RPC endpoint (default: DefaultRPCURL).
	RPCURL string
	// ContractAddress is the deployed registry contract. Required.
	ContractAddress string
	// ABI is the contract ABI JSON. Takes precedence over ABIPath.
	ABI string
	// ABIPath points at an ABI JSON array or a truffle build artifact.
	ABIPath string
	// ChainID is the EIP-155 chain id (default: DefaultChainID).
	ChainID int64
	// GasLimit is the gas limit per registration (default: DefaultGasLimit).
	GasLimit uint64
	// PollInterval is the receipt polling period (default: 1s).
	PollInterval time.Duration
}

// chainBackend is the subset of ethclient.Client used by Chain.
type chainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Chain is a Backend that records registrations in a smart contract.
// It is safe for concurrent use; writes from one account are serialized so
// pending nonces are never reused.
type Chain struct {
	// client is the JSON-RPC connection.
	client chainBackend
	// contract is the registry contract address.
	contract common.Address
	// abi is the parsed contract ABI.
	abi abi.ABI
	// chainID is the EIP-155 replay-protection id.
	chainID *big.Int
	// gasLimit is the gas limit per registration.
	gasLimit uint64
	// poll is the receipt polling period.
	poll time.Duration
	// locks serializes writes per account.
	locks accountLocks
}

// DialChain connects to cfg.RPCURL and binds the registry contract.
func DialChain(ctx context.Context, cfg *ChainConfig) (*Chain, error) {
	url := cfg.RPCURL
	if url == "" {
		url = DefaultRPCURL
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("registry: dial %s: %w", url, err)
	}
	c, err := newChain(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// newChain binds the contract on an existing backend.
func newChain(client chainBackend, cfg *ChainConfig) (*Chain, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("registry: invalid contract address %q", cfg.ContractAddress)
	}
	parsed, err := loadABI(cfg)
	if err != nil {
		return nil, err
	}
	for _, m := range []string{methodUpload, methodHandles} {
		if _, ok := parsed.Methods[m]; !ok {
			return nil, fmt.Errorf("registry: contract ABI lacks %s", m)
		}
	}

	c := &Chain{
		client:   client,
		contract: common.HexToAddress(cfg.ContractAddress),
		abi:      parsed,
		chainID:  big.NewInt(cfg.ChainID),
		gasLimit: cfg.GasLimit,
		poll:     cfg.PollInterval,
	}
	if cfg.ChainID == 0 {
		c.chainID = big.NewInt(DefaultChainID)
	}
	if c.gasLimit == 0 {
		c.gasLimit = DefaultGasLimit
	}
	if c.poll <= 0 {
		c.poll = defaultPollInterval
	}
	return c, nil
}

// loadABI parses cfg.ABI, the file at cfg.ABIPath, or DefaultABI, in that
// order. Truffle artifacts carry the ABI under an "abi" key.
func loadABI(cfg *ChainConfig) (abi.ABI, error) {
	raw := []byte(cfg.ABI)
	if len(raw) == 0 && cfg.ABIPath != "" {
		data, err := os.ReadFile(cfg.ABIPath)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("registry: read ABI: %w", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		raw = []byte(DefaultABI)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(trimmed, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("registry: parse ABI artifact: %w", err)
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, fmt.Errorf("registry: ABI artifact has no abi field")
		}
		trimmed = artifact.ABI
	}

	parsed, err := abi.JSON(bytes.NewReader(trimmed))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("registry: parse ABI: %w", err)
	}
	return parsed, nil
}

// Register sends uploadManual signed by creds and waits for it to be mined.
// A zero reg.Version is written as 1.
func (c *Chain) Register(ctx context.Context, reg rag.Registration, creds rag.Credentials) (*rag.Receipt, error) {
	key, from, err := signer(creds)
	if err != nil {
		return nil, err
	}

	version := reg.Version
	if version <= 0 {
		version = 1
	}
	data, err := c.abi.Pack(methodUpload, reg.ManualID, string(reg.ContentHandle), string(reg.VectorHandle), big.NewInt(int64(version)))
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %w", rag.ErrRegistry, methodUpload, err)
	}

	unlock := c.locks.lock(from.Hex())
	defer unlock()

	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, c.fail(ctx, "nonce", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, c.fail(ctx, "gas price", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      c.gasLimit,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("%w: sign transaction: %w", rag.ErrRegistry, err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, c.fail(ctx, "send transaction", err)
	}

	log := logging.FromContext(ctx)
	log.Debug("registry: transaction sent",
		"manual_id", reg.ManualID,
		"tx", signed.Hash().Hex(),
		"nonce", nonce,
	)

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: transaction %s reverted", rag.ErrRegistry, signed.Hash().Hex())
	}

	out := &rag.Receipt{TxHash: signed.Hash().Hex()}
	if receipt.BlockNumber != nil {
		out.Block = receipt.BlockNumber.Uint64()
	}
	log.Info("registry: registration mined",
		"manual_id", reg.ManualID,
		"version", version,
		"tx", out.TxHash,
		"block", out.Block,
	)
	return out, nil
}

// waitMined polls for the receipt of hash until it is available or ctx ends.
func (c *Chain) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, c.fail(ctx, "receipt", err)
		}
		select {
		case <-ctx.Done():
			return nil, deadlineError(ctx, "wait for "+hash.Hex())
		case <-ticker.C:
		}
	}
}

// Resolve calls getManualCIDs, and getManualVersion when the contract has it,
// from caller's address.
func (c *Chain) Resolve(ctx context.Context, manualID, caller string) (*rag.Registration, error) {
	var from common.Address
	if common.IsHexAddress(caller) {
		from = common.HexToAddress(caller)
	}

	out, err := c.call(ctx, from, methodHandles, manualID)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %q: %w", rag.ErrManualNotFound, manualID, err)
		}
		return nil, err
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("%w: %s returned %d values", rag.ErrRegistry, methodHandles, len(out))
	}
	content, _ := out[0].(string)
	vectors, _ := out[1].(string)
	if content == "" && vectors == "" {
		return nil, fmt.Errorf("%w: %q", rag.ErrManualNotFound, manualID)
	}

	version, err := c.version(ctx, from, manualID)
	if err != nil {
		return nil, err
	}
	return toRegistration(manualID, content, vectors, version)
}

// version reads getManualVersion. Deployed contracts that predate the getter
// revert the unknown selector; that and an ABI without the method both
// report version 0.
func (c *Chain) version(ctx context.Context, from common.Address, manualID string) (int, error) {
	if _, ok := c.abi.Methods[methodVersion]; !ok {
		return 0, nil
	}
	out, err := c.call(ctx, from, methodVersion, manualID)
	if err != nil {
		if isRevert(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(out) == 1 {
		if v, ok := out[0].(*big.Int); ok && v.IsInt64() {
			return int(v.Int64()), nil
		}
	}
	return 0, nil
}

// call executes a read-only contract method and unpacks its outputs.
func (c *Chain) call(ctx context.Context, from common.Address, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %w", rag.ErrRegistry, method, err)
	}
	raw, err := c.client.CallContract(ctx, ethereum.CallMsg{From: from, To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, c.fail(ctx, method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %w", rag.ErrRegistry, method, err)
	}
	return out, nil
}

// Name returns the dependency label used in readiness responses.
func (c *Chain) Name() string { return "registry" }

// Ping checks the RPC endpoint by asking for a gas price quote.
func (c *Chain) Ping(ctx context.Context) error {
	if _, err := c.client.SuggestGasPrice(ctx); err != nil {
		return fmt.Errorf("registry: ping: %w", err)
	}
	return nil
}

// Close releases the RPC connection.
func (c *Chain) Close() error {
	c.client.Close()
	return nil
}

func (c *Chain) fail(ctx context.Context, action string, err error) error {
	if ctx.Err() != nil {
		return deadlineError(ctx, action)
	}
	return fmt.Errorf("%w: %s: %w", rag.ErrRegistry, action, err)
}

// signer parses the private key in creds and checks it controls
// creds.Account when one is given.
func signer(creds rag.Credentials) (*ecdsa.PrivateKey, common.Address, error) {
	if creds.PrivateKey == "" {
		return nil, common.Address{}, fmt.Errorf("%w: private key required", rag.ErrRegistry)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(creds.PrivateKey), "0x"))
	if err != nil {
		// The parse error never includes key material.
		return nil, common.Address{}, fmt.Errorf("%w: invalid private key: %w", rag.ErrRegistry, err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	if creds.Account != "" {
		if !common.IsHexAddress(creds.Account) {
			return nil, common.Address{}, fmt.Errorf("%w: invalid account address %q", rag.ErrRegistry, creds.Account)
		}
		if common.HexToAddress(creds.Account) != from {
			return nil, common.Address{}, fmt.Errorf("%w: private key does not control account %s", rag.ErrRegistry, creds.Account)
		}
	}
	return key, from, nil
}

// isRevert reports whether err is an EVM execution revert.
func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}
