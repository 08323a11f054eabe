package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"allocator/internal/config"
)

// Remote fetches signals from a strategy service over HTTP. The service
// answers GET with either {"<id>": weight, ...} or {"signals": {...}}.
type Remote struct {
	name       string
	url        string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func NewRemote(name string, cfg config.RemoteStrategyConfig, httpClient *http.Client, logger *zap.Logger) *Remote {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{
		name:       name,
		url:        cfg.URL,
		timeout:    cfg.Timeout,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (r *Remote) Name() string { return r.name }

func (r *Remote) Signals(ctx context.Context, env Env) (map[int64]float64, error) {
	if r.url == "" {
		return nil, fmt.Errorf("remote strategy %s: url is empty", r.name)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	u, err := url.Parse(r.url)
	if err != nil {
		return nil, fmt.Errorf("remote strategy %s: %w", r.name, err)
	}
	q := u.Query()
	q.Set("tradingMode", env.TradingMode)
	if env.BaseCurrency != "" {
		q.Set("baseCurrency", env.BaseCurrency)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote strategy %s: %w", r.name, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote strategy %s: status %d: %s", r.name, resp.StatusCode, string(body))
	}
	signals, err := decodeSignals(body)
	if err != nil {
		return nil, fmt.Errorf("remote strategy %s: %w", r.name, err)
	}
	r.logger.Debug("remote signals", zap.String("strategy", r.name), zap.Int("instruments", len(signals)))
	return signals, nil
}

func decodeSignals(body []byte) (map[int64]float64, error) {
	var wrapped struct {
		Signals map[string]float64 `json:"signals"`
	}
	raw := map[string]float64{}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Signals != nil {
		raw = wrapped.Signals
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	out := make(map[int64]float64, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("instrument id %q: %w", k, err)
		}
		out[id] = v
	}
	return out, nil
}
