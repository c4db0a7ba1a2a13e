// Package onchain ejecuta transacciones sobre los contratos de Polymarket en Polygon.
package onchain

// merge.go: merge on-chain de pares YES+NO (o Up+Down) vía el CTF.
//
// mergePositions() del Conditional Token Framework convierte sets completos
// de outcomes en colateral:
//   100 Up + 100 Down → 100 USDC.e

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	polygonChainID = int64(137)

	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	ctfAddress   = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	// Operadores que necesitan setApprovalForAll / approve.
	normalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	negRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	negRiskAdapter  = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	mergeGasLimit    = uint64(200_000)
	approvalGasLimit = uint64(80_000)

	gasPriceTTL      = 5 * time.Minute
	receiptTimeout   = 60 * time.Second
	approvalTimeout  = 30 * time.Second
	defaultPollEvery = 3 * time.Second

	collateralDecimals = 6
)

var (
	ctfABI     abi.ABI
	erc1155ABI abi.ABI
	erc20ABI   abi.ABI
)

func init() {
	ctfABI = mustABI(`[{
		"name": "mergePositions", "type": "function", "outputs": [],
		"inputs": [
			{"name": "collateralToken", "type": "address"},
			{"name": "parentCollectionId", "type": "bytes32"},
			{"name": "conditionId", "type": "bytes32"},
			{"name": "partition", "type": "uint256[]"},
			{"name": "amount", "type": "uint256"}
		]
	}]`)
	erc1155ABI = mustABI(`[
		{"name": "setApprovalForAll", "type": "function", "outputs": [],
		 "inputs": [{"name": "operator", "type": "address"}, {"name": "approved", "type": "bool"}]},
		{"name": "isApprovedForAll", "type": "function", "outputs": [{"name": "", "type": "bool"}],
		 "inputs": [{"name": "account", "type": "address"}, {"name": "operator", "type": "address"}]}
	]`)
	erc20ABI = mustABI(`[
		{"name": "approve", "type": "function", "outputs": [{"name": "", "type": "bool"}],
		 "inputs": [{"name": "spender", "type": "address"}, {"name": "amount", "type": "uint256"}]},
		{"name": "allowance", "type": "function", "outputs": [{"name": "", "type": "uint256"}],
		 "inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}]}
	]`)
}

func mustABI(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("abi parse: " + err.Error())
	}
	return a
}

// Backend es el subconjunto de ethclient.Client que usa MergeClient.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// MergeClient implementa ports.MergeExecutor.
type MergeClient struct {
	backend   Backend
	key       []byte
	address   common.Address
	pollEvery time.Duration

	mu         sync.RWMutex
	gasWei     *big.Int
	gasUpdated time.Time
}

// NewMergeClient conecta con el RPC de Polygon. privateKeyHex acepta el prefijo 0x.
func NewMergeClient(rpcURL, privateKeyHex string) (*MergeClient, error) {
	if rpcURL == "" || privateKeyHex == "" {
		return nil, domain.E(domain.KindConfig, "onchain.NewMergeClient", domain.ErrNoCredentials)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, domain.Errorf(domain.KindNetwork, "onchain.NewMergeClient", "dial rpc: %w", err)
	}
	return NewMergeClientWithBackend(client, privateKeyHex)
}

// NewMergeClientWithBackend usa un Backend ya construido.
func NewMergeClientWithBackend(b Backend, privateKeyHex string) (*MergeClient, error) {
	pk, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, domain.Errorf(domain.KindAuth, "onchain.NewMergeClient", "decode private key: %w", err)
	}
	key, err := crypto.ToECDSA(pk)
	if err != nil {
		return nil, domain.Errorf(domain.KindAuth, "onchain.NewMergeClient", "invalid private key: %w", err)
	}
	return &MergeClient{
		backend:   b,
		key:       pk,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		pollEvery: defaultPollEvery,
	}, nil
}

// Address devuelve la wallet que firma las transacciones.
func (mc *MergeClient) Address() common.Address {
	return mc.address
}

// MergePositions fusiona amount sets completos de conditionID en USDC.e.
// Los mercados NegRisk se rechazan: requieren el NegRisk adapter con un
// parentCollectionId propio del mercado.
func (mc *MergeClient) MergePositions(ctx context.Context, conditionID string, amount decimal.Decimal, negRisk bool) (domain.MergeResult, error) {
	const op = "onchain.MergePositions"
	result := domain.MergeResult{ConditionID: conditionID, ExecutedAt: time.Now().UTC()}

	fail := func(kind domain.Kind, err error) (domain.MergeResult, error) {
		result.Error = err.Error()
		return result, domain.E(kind, op, err)
	}

	if negRisk {
		return fail(domain.KindExecution, fmt.Errorf("neg-risk merges are not supported"))
	}
	units := amount.Shift(collateralDecimals).Truncate(0)
	if !units.IsPositive() {
		return fail(domain.KindExecution, domain.ErrZeroSize)
	}
	cond, err := hexToBytes32(conditionID)
	if err != nil {
		return fail(domain.KindExecution, fmt.Errorf("invalid condition id: %w", err))
	}

	callData, err := ctfABI.Pack("mergePositions",
		common.HexToAddress(usdcEAddress),
		[32]byte{},
		cond,
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
		units.BigInt(),
	)
	if err != nil {
		return fail(domain.KindInternal, fmt.Errorf("pack calldata: %w", err))
	}

	ctf := common.HexToAddress(ctfAddress)
	gas, err := mc.backend.EstimateGas(ctx, ethereum.CallMsg{From: mc.address, To: &ctf, Data: callData})
	if err != nil {
		slog.Warn("merge gas estimate failed, using default", "err", err, "limit", mergeGasLimit)
		gas = mergeGasLimit
	}
	gas = gas * 12 / 10

	hash, err := mc.send(ctx, ctf, gas, callData)
	if err != nil {
		return fail(domain.KindNetwork, err)
	}
	result.TxHash = hash.Hex()
	slog.Info("merge transaction sent", "condition", shortID(conditionID), "amount", amount, "tx", result.TxHash)

	receiptCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()
	receipt, err := mc.waitForReceipt(receiptCtx, hash)
	if err != nil {
		// La tx está enviada: el merge suele confirmarse después.
		slog.Warn("merge receipt not confirmed, assuming success", "tx", result.TxHash, "err", err)
		result.Success = true
		result.USDCReceived = amount
		return result, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail(domain.KindExecution, fmt.Errorf("tx %s reverted", result.TxHash))
	}

	result.Success = true
	result.GasUsed = receipt.GasUsed
	result.USDCReceived = amount
	slog.Info("merge confirmed",
		"condition", shortID(conditionID),
		"tx", result.TxHash,
		"gas_used", receipt.GasUsed,
		"usdc_received", amount,
	)
	return result, nil
}

// EnsureApprovals deja configurados los permisos que necesita el trading:
// setApprovalForAll del CTF para los tres operadores y allowance de USDC.e
// para los dos exchanges.
func (mc *MergeClient) EnsureApprovals(ctx context.Context) error {
	ctf := common.HexToAddress(ctfAddress)
	for _, op := range []string{normalExchange, negRiskExchange, negRiskAdapter} {
		operator := common.HexToAddress(op)
		var approved bool
		if err := mc.call(ctx, erc1155ABI, ctf, "isApprovedForAll", &approved, mc.address, operator); err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: check erc1155 %s: %w", op, err)
		}
		if approved {
			continue
		}
		slog.Info("setting erc1155 approval", "operator", op)
		data, err := erc1155ABI.Pack("setApprovalForAll", operator, true)
		if err != nil {
			return err
		}
		if err := mc.sendAndWait(ctx, ctf, data); err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: set erc1155 %s: %w", op, err)
		}
	}

	usdc := common.HexToAddress(usdcEAddress)
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minAllowance := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1_000_000)) // 1M USDC.e
	for _, ex := range []string{normalExchange, negRiskExchange} {
		spender := common.HexToAddress(ex)
		allowance := new(big.Int)
		if err := mc.call(ctx, erc20ABI, usdc, "allowance", &allowance, mc.address, spender); err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: check allowance %s: %w", ex, err)
		}
		if allowance.Cmp(minAllowance) >= 0 {
			continue
		}
		slog.Info("setting usdc.e approval", "exchange", ex)
		data, err := erc20ABI.Pack("approve", spender, maxUint256)
		if err != nil {
			return err
		}
		if err := mc.sendAndWait(ctx, usdc, data); err != nil {
			return fmt.Errorf("onchain.EnsureApprovals: approve %s: %w", ex, err)
		}
	}
	return nil
}

// call ejecuta una llamada de solo lectura y desempaqueta el único retorno en out.
func (mc *MergeClient) call(ctx context.Context, contract abi.ABI, to common.Address, method string, out any, args ...any) error {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return err
	}
	res, err := mc.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return err
	}
	return contract.UnpackIntoInterface(out, method, res)
}

func (mc *MergeClient) sendAndWait(ctx context.Context, to common.Address, data []byte) error {
	hash, err := mc.send(ctx, to, approvalGasLimit, data)
	if err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, approvalTimeout)
	defer cancel()
	receipt, err := mc.waitForReceipt(waitCtx, hash)
	if err != nil {
		return fmt.Errorf("wait receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("tx %s reverted", hash.Hex())
	}
	return nil
}

// send firma y envía una transacción legacy EIP-155.
func (mc *MergeClient) send(ctx context.Context, to common.Address, gas uint64, data []byte) (common.Hash, error) {
	key, err := crypto.ToECDSA(mc.key)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := mc.backend.PendingNonceAt(ctx, mc.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}
	tx := types.NewTransaction(nonce, to, big.NewInt(0), gas, mc.gasPrice(ctx), data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(polygonChainID)), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := mc.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash(), nil
}

// gasPrice devuelve el gas price sugerido +10%, cacheado gasPriceTTL.
func (mc *MergeClient) gasPrice(ctx context.Context) *big.Int {
	mc.mu.RLock()
	cached, updated := mc.gasWei, mc.gasUpdated
	mc.mu.RUnlock()
	if cached != nil && time.Since(updated) < gasPriceTTL {
		return cached
	}

	price, err := mc.backend.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached
		}
		return big.NewInt(30_000_000_000) // 30 gwei
	}
	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	mc.mu.Lock()
	mc.gasWei, mc.gasUpdated = buffered, time.Now()
	mc.mu.Unlock()
	return buffered
}

// waitForReceipt consulta el receipt hasta que la tx se mina o vence ctx.
func (mc *MergeClient) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(mc.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := mc.backend.TransactionReceipt(ctx, hash)
			if err != nil {
				continue
			}
			return receipt, nil
		}
	}
}

// hexToBytes32 convierte un hex con prefijo 0x a [32]byte.
func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
