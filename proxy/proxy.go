package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/custodia-network/vaultd/audit"
	"github.com/custodia-network/vaultd/types"
	"github.com/custodia-network/vaultd/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// RPCRequest is a JSON-RPC 2.0 request envelope
type RPCRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      interface{}   `json:"id"`
}

// RPCError carries a distinguishable failure reason to the caller
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope
type RPCResponse struct {
	Jsonrpc string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// errCode maps the vault error taxonomy onto JSON-RPC error codes so every
// rejection stays distinguishable on the wire.
func errCode(err error) int {
	switch {
	case errors.Is(err, types.ErrUnauthorized):
		return -32001
	case errors.Is(err, types.ErrNotFound):
		return -32002
	case errors.Is(err, types.ErrInvalidInput):
		return -32003
	case errors.Is(err, types.ErrInsufficientFunds):
		return -32004
	case errors.Is(err, types.ErrCapExceeded):
		return -32005
	case errors.Is(err, types.ErrPaused):
		return -32006
	case errors.Is(err, types.ErrTokenNotAllowed):
		return -32007
	case errors.Is(err, types.ErrOraclePriceInvalid):
		return -32008
	case errors.Is(err, types.ErrExternalTransferFailed):
		return -32009
	case errors.Is(err, types.ErrAccountExists):
		return -32010
	case errors.Is(err, types.ErrReentrantCall):
		return -32011
	}
	return -32000
}

func parseAddress(params []interface{}, i int) (common.Address, error) {
	if len(params) <= i {
		return common.Address{}, fmt.Errorf("%w: missing parameter %d", types.ErrInvalidInput, i)
	}
	s, ok := params[i].(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: parameter %d is not an address", types.ErrInvalidInput, i)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(params []interface{}, i int) (*big.Int, error) {
	if len(params) <= i {
		return nil, fmt.Errorf("%w: missing parameter %d", types.ErrInvalidInput, i)
	}
	s, ok := params[i].(string)
	if !ok {
		return nil, fmt.Errorf("%w: parameter %d is not a decimal string", types.ErrInvalidInput, i)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: parameter %d is not a decimal string", types.ErrInvalidInput, i)
	}
	return v, nil
}

func parseRole(params []interface{}, i int) (types.Role, error) {
	if len(params) <= i {
		return "", fmt.Errorf("%w: missing parameter %d", types.ErrInvalidInput, i)
	}
	s, ok := params[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: parameter %d is not a role", types.ErrInvalidInput, i)
	}
	role := types.Role(s)
	if !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", types.ErrInvalidInput, s)
	}
	return role, nil
}

// dispatch routes one JSON-RPC method to the engine. The caller identity is
// the first positional parameter; the host is trusted to have authenticated
// it before the request reaches the vault.
func dispatch(c *gin.Context, engine *vault.Engine, req RPCRequest) (interface{}, error) {
	ctx := c.Request.Context()

	switch req.Method {
	case "vault_createAccount":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		target, err := parseAddress(req.Params, 1)
		if err != nil {
			return nil, err
		}
		return "ok", engine.CreateAccount(caller, target)

	case "vault_getBalance":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		bal, err := engine.Balance(caller)
		if err != nil {
			return nil, err
		}
		return bal.String(), nil

	case "vault_deposit":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(req.Params, 1)
		if err != nil {
			return nil, err
		}
		return "ok", engine.Deposit(ctx, caller, amount)

	case "vault_withdraw":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(req.Params, 1)
		if err != nil {
			return nil, err
		}
		return "ok", engine.Withdraw(ctx, caller, amount)

	case "vault_depositToken":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		tokenAddr, err := parseAddress(req.Params, 1)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(req.Params, 2)
		if err != nil {
			return nil, err
		}
		return "ok", engine.DepositToken(ctx, caller, tokenAddr, amount)

	case "vault_withdrawToken":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		tokenAddr, err := parseAddress(req.Params, 1)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(req.Params, 2)
		if err != nil {
			return nil, err
		}
		return "ok", engine.WithdrawToken(ctx, caller, tokenAddr, amount)

	case "vault_getTokenBalance":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		tokenAddr, err := parseAddress(req.Params, 1)
		if err != nil {
			return nil, err
		}
		bal, err := engine.TokenBalance(caller, tokenAddr)
		if err != nil {
			return nil, err
		}
		return bal.String(), nil

	case "vault_transferTo":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		to, err := parseAddress(req.Params, 1)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(req.Params, 2)
		if err != nil {
			return nil, err
		}
		return "ok", engine.TransferTo(caller, to, amount)

	case "vault_allowToken":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		tokenAddr, err := parseAddress(req.Params, 1)
		if err != nil {
			return nil, err
		}
		return "ok", engine.AllowToken(caller, tokenAddr)

	case "vault_disallowToken":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		tokenAddr, err := parseAddress(req.Params, 1)
		if err != nil {
			return nil, err
		}
		return "ok", engine.DisallowToken(caller, tokenAddr)

	case "vault_viewBalanceAsManager":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		target, err := parseAddress(req.Params, 1)
		if err != nil {
			return nil, err
		}
		bal, err := engine.ViewBalanceAsManager(caller, target)
		if err != nil {
			return nil, err
		}
		return bal.String(), nil

	case "vault_viewTokenBalanceAsManager":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		target, err := parseAddress(req.Params, 1)
		if err != nil {
			return nil, err
		}
		tokenAddr, err := parseAddress(req.Params, 2)
		if err != nil {
			return nil, err
		}
		bal, err := engine.ViewTokenBalanceAsManager(caller, target, tokenAddr)
		if err != nil {
			return nil, err
		}
		return bal.String(), nil

	case "vault_increaseBankCap":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		newCap, err := parseAmount(req.Params, 1)
		if err != nil {
			return nil, err
		}
		return "ok", engine.IncreaseBankCap(caller, newCap)

	case "vault_pauseDeposits":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		return "ok", engine.PauseDeposits(caller)

	case "vault_unpauseDeposits":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		return "ok", engine.UnpauseDeposits(caller)

	case "vault_grantManagerRole":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		target, err := parseAddress(req.Params, 1)
		if err != nil {
			return nil, err
		}
		return "ok", engine.GrantManagerRole(caller, target)

	case "vault_revokeManagerRole":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		target, err := parseAddress(req.Params, 1)
		if err != nil {
			return nil, err
		}
		return "ok", engine.RevokeManagerRole(caller, target)

	case "vault_revokeAnyRole":
		caller, err := parseAddress(req.Params, 0)
		if err != nil {
			return nil, err
		}
		role, err := parseRole(req.Params, 1)
		if err != nil {
			return nil, err
		}
		target, err := parseAddress(req.Params, 2)
		if err != nil {
			return nil, err
		}
		return "ok", engine.RevokeAnyRole(caller, role, target)

	case "vault_stateRoot":
		return engine.StateRoot()

	case "vault_totalDeposited":
		total, err := engine.TotalDeposited()
		if err != nil {
			return nil, err
		}
		return total.String(), nil

	case "vault_bankCap":
		cap, err := engine.BankCap()
		if err != nil {
			return nil, err
		}
		return cap.String(), nil
	}

	return nil, fmt.Errorf("%w: unknown method %s", types.ErrInvalidInput, req.Method)
}

func handleRPC(c *gin.Context, engine *vault.Engine, log *logrus.Logger) {
	var req RPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, RPCResponse{
			Jsonrpc: "2.0",
			Error:   &RPCError{Code: -32700, Message: "parse error"},
		})
		return
	}

	result, err := dispatch(c, engine, req)
	resp := RPCResponse{Jsonrpc: "2.0", ID: req.ID}
	if err != nil {
		log.Warnf("Rejected %s: %v", req.Method, err)
		resp.Error = &RPCError{Code: errCode(err), Message: err.Error()}
	} else {
		resp.Result = result
	}
	c.JSON(http.StatusOK, resp)
}

// wsClient is one live audit-feed connection
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	log    *logrus.Logger
	mu     sync.Mutex
	closed bool
}

// wsHub fans audit events out to all connected clients
type wsHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	log        *logrus.Logger
}

func newWSHub(log *logrus.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 100),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		log:        log,
	}
}

func (h *wsHub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.log.Infof("New audit feed client connected. Total clients: %d", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Infof("Audit feed client disconnected. Total clients: %d", len(h.clients))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// feed pushes every committed audit event into the hub
func (h *wsHub) feed(auditLog *audit.Log) {
	events, cancel := auditLog.Subscribe(256)
	defer cancel()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			h.log.Errorf("Failed to marshal audit event: %v", err)
			continue
		}
		h.broadcast <- data
	}
}

func (c *wsClient) readPump(hub *wsHub) {
	defer func() {
		hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Errorf("WebSocket read error: %v", err)
			}
			break
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.mu.Lock()
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.closed = true
				c.mu.Unlock()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		case <-ticker.C:
			c.mu.Lock()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

func handleWebSocket(c *gin.Context, upgrader websocket.Upgrader, hub *wsHub) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.Errorf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 256),
		log:  hub.log,
	}
	hub.register <- client

	go client.writePump()
	go client.readPump(hub)
}

// Start launches the GIN RPC server and the WebSocket audit feed
func Start(rpcPort, wsPort string, engine *vault.Engine, auditLog *audit.Log, log *logrus.Logger) error {
	gin.SetMode(gin.ReleaseMode) // No debug noise

	hub := newWSHub(log)
	go hub.run()
	go hub.feed(auditLog)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	rpcServer := gin.New()
	rpcServer.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[RPC] %s - %s %s %d\n",
				param.TimeStamp.Format("2006-01-02 15:04:05"),
				param.Method,
				param.Path,
				param.StatusCode,
			)
		},
	}))
	rpcServer.Use(gin.Recovery())
	rpcServer.POST("/", func(c *gin.Context) {
		handleRPC(c, engine, log)
	})

	wsServer := gin.New()
	wsServer.Use(gin.Recovery())
	wsServer.GET("/", func(c *gin.Context) {
		handleWebSocket(c, upgrader, hub)
	})

	go func() {
		log.Infof("Starting audit feed server on %s", wsPort)
		if err := wsServer.Run(wsPort); err != nil {
			log.Errorf("Audit feed server error: %v", err)
		}
	}()

	log.Infof("Starting RPC server on %s", rpcPort)
	return rpcServer.Run(rpcPort)
}
