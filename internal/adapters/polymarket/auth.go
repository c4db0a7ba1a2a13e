package polymarket

// auth.go: autenticación del CLOB de Polymarket.
//
//   L1: firma EIP-712 con la clave de la wallet → deriva las API credentials
//   L2: HMAC-SHA256 de cada request autenticada

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/config"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	polygonChainID = int64(137)

	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	clobAuthMessage   = "This message attests that I control the given wallet"

	// Taker cero = orden pública.
	zeroAddress = "0x0000000000000000000000000000000000000000"

	// Los importes on-chain van en unidades de 1e-6 (USDC.e y shares del CTF).
	amountDecimals = 6
	// El CLOB acepta shares con 2 decimales.
	shareDecimals = 2
)

// apiCredentials son las credenciales L2 derivadas de la wallet.
type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// AuthClient añade autenticación L1/L2 y firma de órdenes al Client.
type AuthClient struct {
	*Client
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	contracts    *config.Contracts
	orderBuilder builder.ExchangeOrderBuilder

	mu    sync.Mutex
	creds *apiCredentials
}

// NewAuthClient crea un cliente autenticado. privateKeyHex acepta el prefijo 0x.
func NewAuthClient(cfg Config, privateKeyHex string) (*AuthClient, error) {
	if privateKeyHex == "" {
		return nil, domain.E(domain.KindConfig, "polymarket.NewAuthClient", domain.ErrNoCredentials)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, domain.Errorf(domain.KindAuth, "polymarket.NewAuthClient", "invalid private key: %w", err)
	}
	contracts, err := config.GetContracts(polygonChainID)
	if err != nil {
		return nil, domain.Errorf(domain.KindConfig, "polymarket.NewAuthClient", "get contracts: %w", err)
	}

	return &AuthClient{
		Client:       NewClient(cfg),
		privateKey:   key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		contracts:    contracts,
		orderBuilder: builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
	}, nil
}

// Address devuelve la dirección de la wallet.
func (ac *AuthClient) Address() string {
	return ac.address.Hex()
}

// EnsureCreds deriva las credenciales L2 vía L1. Se cachean tras el primer éxito.
func (ac *AuthClient) EnsureCreds(ctx context.Context) error {
	const op = "polymarket.EnsureCreds"
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.creds != nil {
		return nil
	}

	ts := strconv.FormatInt(ac.now().Unix(), 10)
	sig, err := ac.signClobAuth(ts, "0")
	if err != nil {
		return domain.Errorf(domain.KindAuth, op, "sign l1: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ac.clobBase+"/auth/derive-api-key", nil)
	if err != nil {
		return domain.Errorf(domain.KindInternal, op, "new request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", ac.address.Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_NONCE", "0")

	resp, err := ac.http.Do(req)
	if err != nil {
		return domain.Errorf(domain.KindNetwork, op, "derive-api-key: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return domain.E(domain.KindAuth, op, &statusError{code: resp.StatusCode, body: string(body)})
	}

	var creds apiCredentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return domain.Errorf(domain.KindAuth, op, "parse creds: %w", err)
	}
	ac.creds = &creds
	return nil
}

func (ac *AuthClient) credentials() *apiCredentials {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.creds
}

// Type hashes EIP-712.
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
)

func clobAuthDomainSeparator() common.Hash {
	var buf []byte
	buf = append(buf, eip712DomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainName)).Bytes()...)
	buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes()...)
	buf = append(buf, common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// signClobAuth firma el typed data ClobAuth para L1.
func (ac *AuthClient) signClobAuth(timestamp, nonce string) (string, error) {
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return "", fmt.Errorf("invalid nonce: %s", nonce)
	}

	var structBuf []byte
	structBuf = append(structBuf, clobAuthTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(ac.address.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(timestamp)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(nonceInt.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(clobAuthMessage)).Bytes()...)
	structHash := crypto.Keccak256Hash(structBuf)

	var rawBuf []byte
	rawBuf = append(rawBuf, 0x19, 0x01)
	rawBuf = append(rawBuf, clobAuthDomainSeparator().Bytes()...)
	rawBuf = append(rawBuf, structHash.Bytes()...)

	sig, err := crypto.Sign(crypto.Keccak256Hash(rawBuf).Bytes(), ac.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return fmt.Sprintf("0x%x", sig), nil
}

// l2Headers genera las cabeceras HMAC de una request L2.
func (ac *AuthClient) l2Headers(method, path, body string) (map[string]string, error) {
	creds := ac.credentials()
	if creds == nil {
		return nil, domain.E(domain.KindAuth, "polymarket.l2Headers", domain.ErrNoCredentials)
	}

	ts := strconv.FormatInt(ac.now().Unix(), 10)
	sig, err := hmacSignature(creds.Secret, ts+strings.ToUpper(method)+path+body)
	if err != nil {
		return nil, domain.Errorf(domain.KindAuth, "polymarket.l2Headers", "%w", err)
	}

	return map[string]string{
		"POLY_ADDRESS":    ac.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    creds.APIKey,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}

// hmacSignature firma msg con el secret base64-url del CLOB.
func hmacSignature(secret, msg string) (string, error) {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// doL2 ejecuta una request L2 con rate limiting. Las cabeceras HMAC se
// regeneran en cada intento para que el timestamp no caduque.
func (ac *AuthClient) doL2(ctx context.Context, method, path string, reqBody, out any) error {
	const op = "polymarket.doL2"
	var bodyStr string
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return domain.Errorf(domain.KindInternal, op, "marshal: %w", err)
		}
		bodyStr = string(b)
	}

	// La firma cubre solo el path, sin query string.
	signPath, _, _ := strings.Cut(path, "?")

	return ac.doWithRetry(ctx, ac.clobLimiter, func() (*http.Response, error) {
		headers, err := ac.l2Headers(method, signPath, bodyStr)
		if err != nil {
			return nil, err
		}
		var body io.Reader
		if bodyStr != "" {
			body = strings.NewReader(bodyStr)
		}
		req, err := http.NewRequestWithContext(ctx, method, ac.clobBase+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return ac.http.Do(req)
	}, out)
}

// orderAmounts calcula makerAmount y takerAmount en unidades de 1e-6.
// El CLOB exige makerAmount == price × takerAmount (BUY) sin redondeos, así
// que las shares se truncan a 2 decimales y el precio al tick de 4.
func orderAmounts(side domain.Side, price, size decimal.Decimal) (maker, taker decimal.Decimal, err error) {
	p := price.Round(4)
	shares := size.Truncate(shareDecimals)
	if !p.IsPositive() || p.GreaterThanOrEqual(domain.One) {
		return maker, taker, domain.ErrInvalidPrice
	}
	if !shares.IsPositive() {
		return maker, taker, domain.ErrZeroSize
	}
	sharesUnits := shares.Shift(amountDecimals).Truncate(0)
	usdcUnits := shares.Mul(p).Shift(amountDecimals).Truncate(0)
	if !usdcUnits.IsPositive() {
		return maker, taker, domain.ErrZeroSize
	}
	if side == domain.Buy {
		return usdcUnits, sharesUnits, nil
	}
	return sharesUnits, usdcUnits, nil
}

// buildSignedOrder crea la orden EIP-712 firmada para o.
func (ac *AuthClient) buildSignedOrder(o domain.Order) (*gomodel.SignedOrder, error) {
	price, ok := o.Type.LimitPrice()
	if !ok {
		price = o.Price
	}
	maker, taker, err := orderAmounts(o.Side, price, o.Size)
	if err != nil {
		return nil, domain.E(domain.KindExecution, "polymarket.buildSignedOrder", err)
	}

	verifying := gomodel.CTFExchange
	if o.NegRisk {
		verifying = gomodel.NegRiskCTFExchange
	}
	side := gomodel.BUY
	if o.Side == domain.Sell {
		side = gomodel.SELL
	}

	data := &gomodel.OrderData{
		Maker:         ac.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       o.TokenID,
		MakerAmount:   maker.String(),
		TakerAmount:   taker.String(),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        ac.address.Hex(),
		Expiration:    "0",
		Side:          side,
		SignatureType: gomodel.EOA,
	}
	signed, err := ac.orderBuilder.BuildSignedOrder(ac.privateKey, data, verifying)
	if err != nil {
		return nil, domain.Errorf(domain.KindExecution, "polymarket.buildSignedOrder", "sign: %w", err)
	}
	return signed, nil
}
