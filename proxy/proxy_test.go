package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/custodia-network/vaultd/audit"
	"github.com/custodia-network/vaultd/db"
	"github.com/custodia-network/vaultd/ledger"
	"github.com/custodia-network/vaultd/roles"
	"github.com/custodia-network/vaultd/types"
	"github.com/custodia-network/vaultd/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

const (
	adminHex  = "0x0000000000000000000000000000000000000a01"
	clientHex = "0x0000000000000000000000000000000000000a03"
)

type fixedPrice struct{ price *big.Int }

func (f *fixedPrice) LatestPrice(ctx context.Context) (*big.Int, error) {
	return f.price, nil
}

type nopTransferor struct{}

func (nopTransferor) TransferNative(ctx context.Context, to common.Address, amount *big.Int) error {
	return nil
}
func (nopTransferor) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error {
	return nil
}
func (nopTransferor) TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	return nil
}

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	d, err := db.NewMemDB()
	if err != nil {
		t.Fatalf("failed to open mem db: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	store := ledger.NewStore(d)
	registry := roles.NewRegistry(d)
	gen := &ledger.Genesis{
		Admin:      common.HexToAddress(adminHex),
		BankCapUSD: new(big.Int).Mul(big.NewInt(50000), big.NewInt(100000000)),
	}
	if err := store.InitGenesis(gen, registry, log); err != nil {
		t.Fatalf("InitGenesis: %v", err)
	}
	auditLog, err := audit.NewLog(d, zap.NewNop())
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}

	engine := vault.NewEngine(vault.Config{
		Ledger:   store,
		Registry: registry,
		Price:    &fixedPrice{price: big.NewInt(200000000000)}, // $2000
		Assets:   nopTransferor{},
		Audit:    auditLog,
		Log:      log,
	})
	if err := engine.CreateAccount(common.HexToAddress(adminHex), common.HexToAddress(clientHex)); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		handleRPC(c, engine, log)
	})
	return r
}

func call(t *testing.T, r *gin.Engine, method string, params ...interface{}) RPCResponse {
	t.Helper()
	body, err := json.Marshal(RPCRequest{Jsonrpc: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("%s returned HTTP %d", method, w.Code)
	}
	var resp RPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestRPCDepositAndBalance(t *testing.T) {
	r := newTestServer(t)

	resp := call(t, r, "vault_deposit", clientHex, "2000000000000000000")
	if resp.Error != nil {
		t.Fatalf("vault_deposit error: %+v", resp.Error)
	}

	resp = call(t, r, "vault_getBalance", clientHex)
	if resp.Error != nil {
		t.Fatalf("vault_getBalance error: %+v", resp.Error)
	}
	if resp.Result != "2000000000000000000" {
		t.Errorf("balance = %v, want 2000000000000000000", resp.Result)
	}

	resp = call(t, r, "vault_totalDeposited")
	if resp.Error != nil {
		t.Fatalf("vault_totalDeposited error: %+v", resp.Error)
	}
	// 2 units at $2000
	if resp.Result != "400000000000" {
		t.Errorf("total deposited = %v, want 400000000000", resp.Result)
	}
}

func TestRPCErrorCodes(t *testing.T) {
	r := newTestServer(t)

	tests := []struct {
		name   string
		method string
		params []interface{}
		code   int
	}{
		{
			name:   "unauthorized caller",
			method: "vault_getBalance",
			params: []interface{}{"0x0000000000000000000000000000000000000099"},
			code:   -32001,
		},
		{
			name:   "zero amount",
			method: "vault_deposit",
			params: []interface{}{clientHex, "0"},
			code:   -32003,
		},
		{
			name:   "malformed amount",
			method: "vault_deposit",
			params: []interface{}{clientHex, "not-a-number"},
			code:   -32003,
		},
		{
			name:   "malformed address",
			method: "vault_getBalance",
			params: []interface{}{"nonsense"},
			code:   -32003,
		},
		{
			name:   "insufficient funds",
			method: "vault_withdraw",
			params: []interface{}{clientHex, "1"},
			code:   -32004,
		},
		{
			name:   "cap exceeded",
			method: "vault_deposit",
			params: []interface{}{clientHex, "100000000000000000000"},
			code:   -32005,
		},
		{
			name:   "token not allowed",
			method: "vault_depositToken",
			params: []interface{}{clientHex, "0x0000000000000000000000000000000000000b01", "10"},
			code:   -32007,
		},
		{
			name:   "duplicate account",
			method: "vault_createAccount",
			params: []interface{}{adminHex, clientHex},
			code:   -32010,
		},
		{
			name:   "unknown method",
			method: "vault_explode",
			params: nil,
			code:   -32003,
		},
		{
			name:   "unknown role",
			method: "vault_revokeAnyRole",
			params: []interface{}{adminHex, "superuser", clientHex},
			code:   -32003,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, r, tt.method, tt.params...)
			if resp.Error == nil {
				t.Fatalf("%s succeeded, want error code %d", tt.method, tt.code)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("%s error code = %d (%s), want %d", tt.method, resp.Error.Code, resp.Error.Message, tt.code)
			}
		})
	}
}

func TestRPCParseError(t *testing.T) {
	r := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed request returned HTTP %d", w.Code)
	}
	var resp RPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Errorf("parse error response = %+v, want code -32700", resp.Error)
	}
}

func TestErrCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{types.ErrUnauthorized, -32001},
		{types.ErrNotFound, -32002},
		{types.ErrInvalidInput, -32003},
		{types.ErrInsufficientFunds, -32004},
		{types.ErrCapExceeded, -32005},
		{types.ErrPaused, -32006},
		{types.ErrTokenNotAllowed, -32007},
		{types.ErrOraclePriceInvalid, -32008},
		{types.ErrExternalTransferFailed, -32009},
		{types.ErrAccountExists, -32010},
		{types.ErrReentrantCall, -32011},
		{errors.New("anything else"), -32000},
	}
	for _, tt := range tests {
		if got := errCode(tt.err); got != tt.code {
			t.Errorf("errCode(%v) = %d, want %d", tt.err, got, tt.code)
		}
		// wrapped errors map identically
		if got := errCode(fmt.Errorf("context: %w", tt.err)); got != tt.code {
			t.Errorf("errCode(wrapped %v) = %d, want %d", tt.err, got, tt.code)
		}
	}
}
