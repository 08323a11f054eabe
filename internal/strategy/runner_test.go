package strategy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allocator/internal/broker"
	"allocator/internal/broker/brokertest"
	"allocator/internal/config"
	"allocator/internal/instrument"
	"allocator/internal/repository/memory"
)

type fixedStrategy struct {
	name    string
	signals map[int64]float64
	err     error
}

func (s fixedStrategy) Name() string { return s.name }

func (s fixedStrategy) Signals(context.Context, Env) (map[int64]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := map[int64]float64{}
	for k, v := range s.signals {
		out[k] = v
	}
	return out, nil
}

func newTestRunner(t *testing.T, strategies ...fixedStrategy) (*Runner, *memory.Ledger, *brokertest.Gateway) {
	t.Helper()
	reg := NewRegistry()
	for _, s := range strategies {
		s := s
		reg.Register(s.name, func() (Strategy, error) { return s, nil })
	}
	ledger := memory.NewLedger()
	gw := brokertest.New()
	gw.AddInstrument(broker.Contract{ID: 1, Symbol: "A", Currency: "USD", Multiplier: 2}, broker.Ticker{Close: brokertest.Price(10)})
	gw.AddInstrument(broker.Contract{ID: 2, Symbol: "B", Currency: "CHF", Multiplier: 1}, broker.Ticker{Close: brokertest.Price(100)})
	gw.AddInstrument(broker.Contract{ID: 3, Symbol: "C", Currency: "USD", Multiplier: 1}, broker.Ticker{})
	gw.AddPair("USD", "CHF", broker.Contract{ID: 900}, broker.Ticker{Bid: brokertest.Price(0.9), Ask: brokertest.Price(0.9)})
	return &Runner{Ledger: ledger, Strategies: reg}, ledger, gw
}

func TestRunner_EndToEndCHFAccount(t *testing.T) {
	runner, _, gw := newTestRunner(t, fixedStrategy{name: "s1", signals: map[int64]float64{1: 1.2}})
	res, err := runner.Run(context.Background(), "s1", Params{
		TradingMode:  "paper",
		BaseCurrency: "CHF",
		Exposure:     50000,
		Instruments:  instrument.NewRegistry(gw, nil, 0, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 3333}, res.TargetPositions)
	assert.Equal(t, map[int64]int64{1: 3333}, res.Trades)
	assert.Equal(t, map[int64]int64{1: 0}, res.Holdings)
	require.NotNil(t, res.FX["USD"])
	assert.InDelta(t, 0.9, *res.FX["USD"], 1e-9)
}

func TestRunner_ZeroFillsAndClosesStaleHoldings(t *testing.T) {
	runner, ledger, gw := newTestRunner(t, fixedStrategy{name: "s1", signals: map[int64]float64{2: 0.5}})
	ledger.SetHoldings("paper", "s1", map[int64]int64{1: 7})

	res, err := runner.Run(context.Background(), "s1", Params{
		TradingMode: "paper", BaseCurrency: "CHF", Exposure: 1000,
		Instruments: instrument.NewRegistry(gw, nil, 0, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{1: 0, 2: 0.5}, res.Signals)
	assert.Equal(t, map[int64]int64{1: 7, 2: 0}, res.Holdings)
	assert.Equal(t, map[int64]int64{1: 0, 2: 5}, res.TargetPositions)
	assert.Equal(t, map[int64]int64{1: -7, 2: 5}, res.Trades)
}

func TestRunner_MissingPriceForcesZero(t *testing.T) {
	runner, _, gw := newTestRunner(t, fixedStrategy{name: "s1", signals: map[int64]float64{3: 1}})
	res, err := runner.Run(context.Background(), "s1", Params{
		TradingMode: "paper", BaseCurrency: "CHF", Exposure: 1000,
		Instruments: instrument.NewRegistry(gw, nil, 0, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{3: 0}, res.TargetPositions)
	assert.Empty(t, res.Trades)
}

func TestRunner_NoBaseCurrencyForcesZero(t *testing.T) {
	runner, _, gw := newTestRunner(t, fixedStrategy{name: "s1", signals: map[int64]float64{1: 1}})
	res, err := runner.Run(context.Background(), "s1", Params{
		TradingMode: "paper", Exposure: 1000,
		Instruments: instrument.NewRegistry(gw, nil, 0, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 0}, res.TargetPositions)
}

func TestRunner_SignalErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	runner, _, gw := newTestRunner(t, fixedStrategy{name: "s1", err: boom})
	_, err := runner.Run(context.Background(), "s1", Params{
		TradingMode: "paper", BaseCurrency: "CHF", Exposure: 1000,
		Instruments: instrument.NewRegistry(gw, nil, 0, nil),
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunner_UnknownStrategy(t *testing.T) {
	runner, _, gw := newTestRunner(t)
	_, err := runner.Run(context.Background(), "nope", Params{Instruments: instrument.NewRegistry(gw, nil, 0, nil)})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestRunner_CloseAll(t *testing.T) {
	runner, ledger, gw := newTestRunner(t)
	ledger.SetHoldings("paper", "s1", map[int64]int64{1: 7, 2: -3})

	res, err := runner.RunCloseAll(context.Background(), "s1", Params{
		TradingMode: "paper", Instruments: instrument.NewRegistry(gw, nil, 0, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: -7, 2: 3}, res.Trades)
	assert.Equal(t, map[int64]int64{1: 0, 2: 0}, res.TargetPositions)
	assert.Len(t, res.Contracts, 2)
}

func TestStatic_ParsesWeights(t *testing.T) {
	s, err := NewStatic("carry", map[string]float64{"12087792": 0.25})
	require.NoError(t, err)
	got, err := s.Signals(context.Background(), Env{})
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{12087792: 0.25}, got)

	_, err = NewStatic("bad", map[string]float64{"abc": 1})
	require.Error(t, err)
}

func TestRemote_FetchesSignals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "live", r.URL.Query().Get("tradingMode"))
		_, _ = w.Write([]byte(`{"signals":{"5":-0.5,"6":1}}`))
	}))
	defer srv.Close()

	r := NewRemote("trend", config.RemoteStrategyConfig{URL: srv.URL, Timeout: time.Second}, srv.Client(), nil)
	got, err := r.Signals(context.Background(), Env{TradingMode: "live"})
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{5: -0.5, 6: 1}, got)
}

func TestRemote_PlainMapAndErrorStatus(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"7":0.1}`))
	}))
	defer srv.Close()

	r := NewRemote("trend", config.RemoteStrategyConfig{URL: srv.URL}, srv.Client(), nil)
	got, err := r.Signals(context.Background(), Env{})
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{7: 0.1}, got)

	status = http.StatusBadGateway
	_, err = r.Signals(context.Background(), Env{})
	require.Error(t, err)
}

func TestDummy_UsesFrontContract(t *testing.T) {
	gw := brokertest.New()
	gw.FuturesList["MNQ"] = []broker.Contract{
		{ID: 11, Symbol: "MNQ", Expiry: "20250321"},
		{ID: 12, Symbol: "MNQ", Expiry: "20250620"},
	}
	gw.AddInstrument(broker.Contract{ID: 11, Symbol: "MNQ", Expiry: "20250321", Multiplier: 2}, broker.Ticker{})
	gw.AddInstrument(broker.Contract{ID: 12, Symbol: "MNQ", Expiry: "20250620", Multiplier: 2}, broker.Ticker{})

	d := NewDummy(config.DummyStrategyConfig{Symbol: "MNQ", Exchange: "CME", Currency: "USD", ExpiryScheme: "q", RolloverDaysBeforeExpiry: 2},
		func() int { return -1 })
	got, err := d.Signals(context.Background(), Env{
		Instruments: instrument.NewRegistry(gw, nil, 0, nil),
		Now:         time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{12: -1}, got)
}

func TestRegistry_ValidateListsUnknown(t *testing.T) {
	reg := DefaultRegistry(config.StrategiesConfig{
		Static: map[string]map[string]float64{"carry": {"1": 1}},
		Remote: map[string]config.RemoteStrategyConfig{"trend": {URL: "http://trend:8080/"}},
	}, nil, nil)
	assert.Equal(t, []string{"carry", "dummy", "trend"}, reg.Names())
	require.NoError(t, reg.Validate([]string{"carry", "trend"}))

	err := reg.Validate([]string{"carry", "x", "y"})
	require.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Contains(t, err.Error(), "x, y")
}
