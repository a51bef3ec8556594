package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"OIWatch/internal/domain/models"
	xhttp "OIWatch/pkg/http"
	xlogger "OIWatch/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// MaxLimit is the largest lookback the history endpoints serve in one call.
const MaxLimit = 500

// Client implements repository.DataSource against the Binance USD-M futures API.
type Client struct {
	futuresDataURL string
	fapiURL        string
	period         string
	maxElapsed     time.Duration
	timeout        time.Duration
	transport      http.RoundTripper
	limiter        *rate.Limiter
	http           *xhttp.Client
	logger         *xlogger.Logger
}

// Option configures Client.
type Option func(*Client)

// New creates a rate limited Binance client.
func New(opts ...Option) *Client {
	c := &Client{
		futuresDataURL: "https://www.binance.com",
		fapiURL:        "https://fapi.binance.com",
		period:         "5m",
		maxElapsed:     30 * time.Second,
		timeout:        10 * time.Second,
		limiter:        rate.NewLimiter(rate.Limit(10), 5),
		logger:         xlogger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = xhttp.NewClient(xhttp.WithTimeout(c.timeout), xhttp.WithTransport(c.transport))
	return c
}

type oiPointJSON struct {
	Symbol               string          `json:"symbol"`
	SumOpenInterest      json.RawMessage `json:"sumOpenInterest"`
	SumOpenInterestValue json.RawMessage `json:"sumOpenInterestValue"`
	Timestamp            json.RawMessage `json:"timestamp"`
}

// FetchOpenInterest returns up to limit open interest ticks, oldest first.
func (c *Client) FetchOpenInterest(ctx context.Context, symbol string, limit int) ([]models.OpenInterestPoint, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	var raw []oiPointJSON
	err = c.get(ctx, c.futuresDataURL+"/futures/data/openInterestHist", map[string][]string{
		"symbol": {symbol},
		"period": {c.period},
		"limit":  {strconv.Itoa(limit)},
	}, &raw)
	if err != nil {
		return nil, c.absent(ctx, "open interest", symbol, err)
	}

	points := make([]models.OpenInterestPoint, 0, len(raw))
	for _, r := range raw {
		ts, ok := parseInt(r.Timestamp)
		if !ok {
			c.logger.Warn("open interest tick without timestamp", xlogger.Symbol(symbol), xlogger.Category(models.CategoryMalformed))
			continue
		}
		points = append(points, models.OpenInterestPoint{
			Timestamp:            ts,
			SumOpenInterest:      parseDecimal(r.SumOpenInterest),
			SumOpenInterestValue: parseDecimal(r.SumOpenInterestValue),
		})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: open interest %s: empty payload", models.ErrNoData, symbol)
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	return points, nil
}

// FetchKlines returns up to limit klines, oldest first.
func (c *Client) FetchKlines(ctx context.Context, symbol string, limit int) ([]models.Kline, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	var raw [][]json.RawMessage
	err = c.get(ctx, c.fapiURL+"/fapi/v1/klines", map[string][]string{
		"symbol":   {symbol},
		"interval": {c.period},
		"limit":    {strconv.Itoa(limit)},
	}, &raw)
	if err != nil {
		return nil, c.absent(ctx, "klines", symbol, err)
	}

	klines := make([]models.Kline, 0, len(raw))
	for _, row := range raw {
		k, ok := parseKline(row)
		if !ok {
			c.logger.Warn("kline row malformed", xlogger.Symbol(symbol), xlogger.Category(models.CategoryMalformed), xlogger.Int("fields", len(row)))
			continue
		}
		klines = append(klines, k)
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: klines %s: empty payload", models.ErrNoData, symbol)
	}
	sort.SliceStable(klines, func(i, j int) bool { return klines[i].OpenTime < klines[j].OpenTime })
	return klines, nil
}

type exchangeInfoJSON struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		Status       string `json:"status"`
		QuoteAsset   string `json:"quoteAsset"`
		ContractType string `json:"contractType"`
	} `json:"symbols"`
}

var leveragedMarkers = []string{"BULL", "BEAR", "UP", "DOWN"}

// ListSymbols returns trading USDT perpetual symbols. Any symbol containing a leveraged
// token marker is excluded, which also drops names such as SUPERUSDT.
func (c *Client) ListSymbols(ctx context.Context) ([]string, error) {
	var info exchangeInfoJSON
	if err := c.get(ctx, c.fapiURL+"/fapi/v1/exchangeInfo", nil, &info); err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	out := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.QuoteAsset != "USDT" || s.Status != "TRADING" {
			continue
		}
		if s.ContractType != "" && s.ContractType != "PERPETUAL" {
			continue
		}
		if isLeveraged(s.Symbol) {
			continue
		}
		out = append(out, s.Symbol)
	}
	sort.Strings(out)
	return out, nil
}

// Symbols makes Client usable as a SymbolSource.
func (c *Client) Symbols(ctx context.Context) ([]string, error) { return c.ListSymbols(ctx) }

func isLeveraged(symbol string) bool {
	for _, m := range leveragedMarkers {
		if strings.Contains(symbol, m) {
			return true
		}
	}
	return false
}

func (c *Client) get(ctx context.Context, url string, query map[string][]string, dest interface{}) error {
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
			Method:      xhttp.MethodGet,
			URL:         url,
			QueryParams: query,
		}, dest)
		if err == nil {
			return nil
		}
		var se *xhttp.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.maxElapsed
	var bo backoff.BackOff = b
	if c.maxElapsed <= 0 {
		bo = backoff.WithMaxRetries(b, 0)
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// absent maps every non-cancellation failure to ErrNoData.
func (c *Client) absent(ctx context.Context, what, symbol string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %s %s: %v", models.ErrNoData, what, symbol, err)
}

func clampLimit(limit int) (int, error) {
	if limit < 1 {
		return 0, fmt.Errorf("limit must be >= 1, got %d", limit)
	}
	if limit > MaxLimit {
		return MaxLimit, nil
	}
	return limit, nil
}

// kline array layout: 0 open time, 1 open, 2 high, 3 low, 4 close, 5 volume,
// 6 close time, 7 quote volume, 8 trades, 9 taker buy base, 10 taker buy quote.
func parseKline(row []json.RawMessage) (models.Kline, bool) {
	if len(row) < 11 {
		return models.Kline{}, false
	}
	openTime, ok := parseInt(row[0])
	if !ok {
		return models.Kline{}, false
	}
	count, ok := parseInt(row[8])
	if !ok {
		return models.Kline{}, false
	}
	return models.Kline{
		OpenTime:            openTime,
		Open:                parseDecimal(row[1]),
		High:                parseDecimal(row[2]),
		Low:                 parseDecimal(row[3]),
		Close:               parseDecimal(row[4]),
		Volume:              parseDecimal(row[5]),
		QuoteVolume:         parseDecimal(row[7]),
		Count:               count,
		TakerBuyVolume:      parseDecimal(row[9]),
		TakerBuyQuoteVolume: parseDecimal(row[10]),
	}, true
}

func unquote(raw json.RawMessage) string {
	s := string(bytes.TrimSpace(raw))
	if s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func parseDecimal(raw json.RawMessage) decimal.NullDecimal {
	s := unquote(raw)
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func parseInt(raw json.RawMessage) (int64, bool) {
	s := unquote(raw)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.IntPart(), true
}
