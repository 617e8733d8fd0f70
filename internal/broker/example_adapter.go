package broker

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ksuh/tradekernel/internal/candle"
	"github.com/ksuh/tradekernel/internal/interval"
)

// ExampleAdapter is a demonstrative §4.4 adapter showing the two production
// shapes a real venue integration takes: pull-mode REST polling with
// per-request JWT auth (grounded on the teacher's broker_coinbase.go:
// mintCoinbaseJWT/addAuth), and push-mode websocket streaming (grounded on
// other_examples/sawpanic-cryptorun's coinbase_adapter.go StreamTrades). It
// is not wired to any real venue; WireURL/RESTBase point at a caller-chosen
// endpoint, making it a template other adapters are built from.
type ExampleAdapter struct {
	mu sync.Mutex

	restBase string
	wireURL  string
	hc       *http.Client
	retrier  *Retrier

	keyName    string
	privateKey *rsa.PrivateKey

	watchlist []candle.Symbol
	intervals []interval.Interval
	cb        SnapshotCallback

	conn   *websocket.Conn
	cancel context.CancelFunc

	logger *log.Logger
}

// NewExampleAdapter loads the signing key from secretsPath (a PEM file, per
// §6's "explicit secrets-file path" contract — the kernel itself never
// reads environment variables for broker credentials).
func NewExampleAdapter(restBase, wireURL, keyName, secretsPath string, logger *log.Logger) (*ExampleAdapter, error) {
	if logger == nil {
		logger = log.Default()
	}
	pemBytes, err := os.ReadFile(secretsPath)
	if err != nil {
		return nil, fmt.Errorf("example adapter: reading secrets file: %w", err)
	}
	priv, err := parseRSAPrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("example adapter: %w", err)
	}
	a := &ExampleAdapter{
		restBase:   strings.TrimRight(restBase, "/"),
		wireURL:    wireURL,
		hc:         &http.Client{Timeout: 15 * time.Second},
		keyName:    keyName,
		privateKey: priv,
		logger:     logger,
	}
	a.retrier = NewRetrier(a.refreshAuth, 8)
	return a, nil
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in secrets file")
	}
	switch block.Type {
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		priv, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not RSA")
		}
		return priv, nil
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

func (a *ExampleAdapter) Name() string { return "example" }

// mintJWT signs a short-lived RS256 token, mirroring the teacher's
// mintCoinbaseJWT.
func (a *ExampleAdapter) mintJWT(ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": a.keyName,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return tok.SignedString(a.privateKey)
}

// refreshAuth is the Retrier's token-refresh hook for KindAuth errors; the
// adapter mints JWTs per request, so there is no cached token to refresh —
// this simply verifies the key still parses and signs.
func (a *ExampleAdapter) refreshAuth(ctx context.Context) error {
	_, err := a.mintJWT(5 * time.Second)
	return err
}

func (a *ExampleAdapter) authedRequest(ctx context.Context, method, path string) (*http.Request, error) {
	token, err := a.mintJWT(25 * time.Second)
	if err != nil {
		return nil, &Error{Kind: KindAuth, Op: path, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, method, a.restBase+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "tradekernel/example-adapter")
	return req, nil
}

func (a *ExampleAdapter) classifyHTTPError(status int, body string) *Error {
	switch {
	case status == http.StatusUnauthorized:
		return &Error{Kind: KindAuth, Err: fmt.Errorf("%s", body)}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimit, Err: fmt.Errorf("%s", body)}
	case status == http.StatusNotImplemented:
		return &Error{Kind: KindUnsupported, Err: fmt.Errorf("%s", body)}
	case status >= 500:
		return &Error{Kind: KindNetwork, Err: fmt.Errorf("%s", body)}
	default:
		return &Error{Kind: KindRejected, Err: fmt.Errorf("%s", body)}
	}
}

// --- Lifecycle ---

func (a *ExampleAdapter) Configure(watchlist []candle.Symbol, intervals []interval.Interval, cb SnapshotCallback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watchlist = watchlist
	a.intervals = intervals
	a.cb = cb
	return nil
}

// Start opens the push-mode websocket connection and subscribes to every
// configured symbol, per the §4.4 push-mode contract.
func (a *ExampleAdapter) Start(ctx context.Context) error {
	if a.wireURL == "" {
		return nil // pull-mode only adapters have nothing to start
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.wireURL, nil)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: "websocket dial", Err: err}
	}
	a.mu.Lock()
	a.conn = conn
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	watchlist := a.watchlist
	a.mu.Unlock()

	type subscribeMsg struct {
		Type       string   `json:"type"`
		ProductIDs []string `json:"product_ids"`
	}
	syms := make([]string, len(watchlist))
	for i, s := range watchlist {
		syms[i] = string(s)
	}
	if err := conn.WriteJSON(subscribeMsg{Type: "subscribe", ProductIDs: syms}); err != nil {
		return &Error{Kind: KindNetwork, Op: "websocket subscribe", Err: err}
	}

	go a.readLoop(runCtx)
	return nil
}

func (a *ExampleAdapter) readLoop(ctx context.Context) {
	type wireCandle struct {
		ProductID string  `json:"product_id"`
		Time      int64   `json:"time"`
		Open      float64 `json:"open"`
		High      float64 `json:"high"`
		Low       float64 `json:"low"`
		Close     float64 `json:"close"`
		Volume    float64 `json:"volume"`
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var wc wireCandle
		if err := a.conn.ReadJSON(&wc); err != nil {
			a.logger.Printf("[BROKER] example adapter websocket read error: %v", err)
			return
		}
		a.mu.Lock()
		cb := a.cb
		a.mu.Unlock()
		if cb == nil {
			continue
		}
		cb(candle.Symbol(wc.ProductID), candle.Candle{
			Time:   time.Unix(wc.Time, 0).UTC(),
			Open:   wc.Open,
			High:   wc.High,
			Low:    wc.Low,
			Close:  wc.Close,
			Volume: wc.Volume,
		})
	}
}

func (a *ExampleAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *ExampleAdapter) SupportedIntervals() []interval.Interval {
	return []interval.Interval{interval.Sec15, interval.Min1, interval.Min5, interval.Min15, interval.Min30, interval.Hour1, interval.Day1}
}

func (a *ExampleAdapter) FetchPriceHistory(ctx context.Context, symbol candle.Symbol, iv interval.Interval, start, end time.Time) ([]candle.Candle, error) {
	var out []candle.Candle
	err := a.retrier.Do(ctx, "FetchPriceHistory", func(ctx context.Context) error {
		req, err := a.authedRequest(ctx, http.MethodGet, fmt.Sprintf("/products/%s/candles?granularity=%s&start=%d&end=%d", symbol, iv, start.Unix(), end.Unix()))
		if err != nil {
			return err
		}
		res, err := a.hc.Do(req)
		if err != nil {
			return &Error{Kind: KindNetwork, Op: "FetchPriceHistory", Err: err}
		}
		defer res.Body.Close()
		if res.StatusCode >= 300 {
			return a.classifyHTTPError(res.StatusCode, res.Status)
		}
		var rows []candle.Candle
		if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
			return &Error{Kind: KindRejected, Op: "FetchPriceHistory", Err: err}
		}
		out = rows
		return nil
	})
	return out, err
}

func (a *ExampleAdapter) FetchLatestSnapshot(ctx context.Context, watchlist []candle.Symbol) (map[candle.Symbol]candle.Candle, error) {
	out := make(map[candle.Symbol]candle.Candle, len(watchlist))
	for _, sym := range watchlist {
		rows, err := a.FetchPriceHistory(ctx, sym, interval.Min1, time.Now().Add(-2*time.Minute), time.Now())
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			out[sym] = rows[len(rows)-1]
		}
	}
	return out, nil
}

func (a *ExampleAdapter) FetchChainInfo(ctx context.Context, underlying candle.Symbol) (ChainInfo, error) {
	return ChainInfo{}, &Error{Kind: KindUnsupported, Op: "FetchChainInfo"}
}

func (a *ExampleAdapter) FetchChainData(ctx context.Context, underlying candle.Symbol, expiration time.Time) (map[candle.Symbol]ChainContract, error) {
	return nil, &Error{Kind: KindUnsupported, Op: "FetchChainData"}
}

func (a *ExampleAdapter) FetchOptionMarketData(ctx context.Context, occSymbol candle.Symbol) (OptionMarketData, error) {
	return OptionMarketData{}, &Error{Kind: KindUnsupported, Op: "FetchOptionMarketData"}
}

func (a *ExampleAdapter) FetchAccount(ctx context.Context) (AccountInfo, error) {
	var info AccountInfo
	err := a.retrier.Do(ctx, "FetchAccount", func(ctx context.Context) error {
		req, err := a.authedRequest(ctx, http.MethodGet, "/accounts")
		if err != nil {
			return err
		}
		res, err := a.hc.Do(req)
		if err != nil {
			return &Error{Kind: KindNetwork, Op: "FetchAccount", Err: err}
		}
		defer res.Body.Close()
		if res.StatusCode >= 300 {
			return a.classifyHTTPError(res.StatusCode, res.Status)
		}
		return json.NewDecoder(res.Body).Decode(&info)
	})
	return info, err
}

func (a *ExampleAdapter) FetchPositions(ctx context.Context) (PositionSet, error) {
	return PositionSet{}, &Error{Kind: KindUnsupported, Op: "FetchPositions"}
}

func (a *ExampleAdapter) PlaceLimit(ctx context.Context, side candle.Side, symbol candle.Symbol, quantity, limitPrice float64, tif string, extended bool) (string, error) {
	return "", &Error{Kind: KindUnsupported, Op: "PlaceLimit"}
}

func (a *ExampleAdapter) PlaceOptionLimit(ctx context.Context, side candle.Side, occSymbol candle.Symbol, quantity, limitPrice float64, tif string) (string, error) {
	return "", &Error{Kind: KindUnsupported, Op: "PlaceOptionLimit"}
}

func (a *ExampleAdapter) FetchOrderStatus(ctx context.Context, orderRef string) (OrderStatusRecord, error) {
	return OrderStatusRecord{}, &Error{Kind: KindUnsupported, Op: "FetchOrderStatus"}
}

func (a *ExampleAdapter) CancelOrder(ctx context.Context, orderRef string) error {
	return &Error{Kind: KindUnsupported, Op: "CancelOrder"}
}

func (a *ExampleAdapter) PendingOrders(ctx context.Context) ([]string, error) {
	return nil, &Error{Kind: KindUnsupported, Op: "PendingOrders"}
}
