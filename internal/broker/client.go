package broker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"futures-agent/pkg/clock"
)

// Port is the BrokerPort surface the supervisor depends on.
type Port interface {
	Connect(ctx context.Context) error
	Disconnect() error

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	PlaceBracket(ctx context.Context, req BracketRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID int64) error
	ModifyOrder(ctx context.Context, orderID int64, price float64, qty int) error
	Liquidate(ctx context.Context, symbol string) error
	GetPositions(ctx context.Context) ([]Position, error)
	GetOrders(ctx context.Context) ([]OrderUpdate, error)
	GetBalance(ctx context.Context) (Balance, error)
	GetHistoricalBars(ctx context.Context, symbol, interval string, from, to time.Time) ([]HistoricalBar, error)

	SubscribeQuote(symbol string) error
	SubscribeChart(symbol, interval string) error

	MarketEvents() <-chan MarketEvent
	UserEvents() <-chan UserEvent
}

// pendingRequest tracks a request awaiting a correlated response frame.
type pendingRequest struct {
	done chan []byte
}

// Client implements Port against the brokerage's REST + bidirectional
// stream wire protocol.
type Client struct {
	cfg     Config
	session *session
	clock   clock.Clock
	backoff backoffConfig

	marketConn *websocket.Conn
	userConn   *websocket.Conn
	dialer     *websocket.Dialer

	marketEvents chan MarketEvent
	userEvents   chan UserEvent

	mu          sync.Mutex
	nextID      int64
	pending     map[int64]*pendingRequest
	subscribed  []subscription
	closing     bool
	cancelRead  context.CancelFunc
}

type subscription struct {
	kind     string // "quote" or "chart"
	symbol   string
	interval string
}

// NewClient builds a disconnected Client. Call Connect to establish the
// stream and begin the heartbeat/reconnect tasks.
func NewClient(cfg Config, clk clock.Clock) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}
	return &Client{
		cfg:          cfg,
		session:      newSession(cfg, httpClient, clk),
		clock:        clk,
		backoff:      defaultBackoffConfig(),
		dialer:       websocket.DefaultDialer,
		marketEvents: make(chan MarketEvent, 1024),
		userEvents:   make(chan UserEvent, 1024),
		pending:      make(map[int64]*pendingRequest),
	}
}

// MarketEvents returns the market-data producer stream.
func (c *Client) MarketEvents() <-chan MarketEvent { return c.marketEvents }

// UserEvents returns the user-stream producer stream.
func (c *Client) UserEvents() <-chan UserEvent { return c.userEvents }
