package instrument

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TungTran2095/studio-sub004/internal/model"
)

type fakeSource struct {
	mu    sync.Mutex
	infos []model.Instrument
	err   error
	calls int
}

func (f *fakeSource) ExchangeInfo(ctx context.Context, symbols ...string) ([]model.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Instrument(nil), f.infos...), nil
}

func (f *fakeSource) set(infos []model.Instrument, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos, f.err = infos, err
}

func btc(status string) model.Instrument {
	return model.Instrument{
		Symbol:     "BTCUSDT",
		Status:     status,
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",
		StepSize:   decimal.RequireFromString("0.00001"),
	}
}

func newTestRegistry(src Source, symbols ...string) *Registry {
	logger := zerolog.Nop()
	cfg := DefaultConfig()
	cfg.Symbols = symbols
	cfg.ReconcileInterval = time.Hour
	return NewRegistry(cfg, src, &logger)
}

func TestStart_LoadsInstruments(t *testing.T) {
	src := &fakeSource{infos: []model.Instrument{btc("TRADING")}}
	r := newTestRegistry(src, "BTCUSDT")

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	inst, ok := r.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTC", inst.BaseAsset)
	assert.Len(t, r.All(), 1)
	assert.False(t, r.LastSyncAt().IsZero())

	_, ok = r.Get("BTC")
	assert.False(t, ok, "lookup is exact")
}

func TestStart_FailsFast(t *testing.T) {
	tests := []struct {
		name    string
		infos   []model.Instrument
		symbols []string
		err     error
		wantErr error
	}{
		{"unknown symbol", []model.Instrument{btc("TRADING")}, []string{"BTCUSDT", "DOGEUSDT"}, nil, ErrUnknownInstrument},
		{"not trading", []model.Instrument{btc("BREAK")}, []string{"BTCUSDT"}, nil, ErrNotTrading},
		{"source failure", nil, []string{"BTCUSDT"}, errors.New("boom"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{infos: tt.infos, err: tt.err}
			r := newTestRegistry(src, tt.symbols...)

			err := r.Start(context.Background())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			_, ok := r.Get("BTCUSDT")
			assert.False(t, ok)
		})
	}
}

func TestReconcile(t *testing.T) {
	src := &fakeSource{infos: []model.Instrument{btc("TRADING")}}
	r := newTestRegistry(src, "BTCUSDT")
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	src.set([]model.Instrument{btc("HALT")}, nil)
	r.reconcile(context.Background())
	inst, _ := r.Get("BTCUSDT")
	assert.Equal(t, "HALT", inst.Status)

	// A failed refresh keeps the previous rules.
	src.set(nil, errors.New("down"))
	r.reconcile(context.Background())
	inst, ok := r.Get("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, "HALT", inst.Status)
}

func TestStop_NotStarted(t *testing.T) {
	r := newTestRegistry(&fakeSource{})
	assert.NoError(t, r.Stop(context.Background()))
}
