package server

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solarautopilot/solarautopilot/pkg/engine"
	"github.com/solarautopilot/solarautopilot/pkg/forecast"
	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/optimizer"
	"github.com/solarautopilot/solarautopilot/pkg/pattern"
	"github.com/solarautopilot/solarautopilot/pkg/storage/storagemock"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type mockStorage = storagemock.MockDatabase

type mockPrices struct {
	mock.Mock
}

func (m *mockPrices) CurrentForecast(ctx context.Context) []types.Price {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.Price)
	}
	return nil
}

func (m *mockPrices) GetConfirmedPrices(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.Price), args.Error(1)
	}
	return nil, nil
}

type mockESS struct {
	mock.Mock
}

func (m *mockESS) GetStatus(ctx context.Context) (types.SystemStatus, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.SystemStatus), args.Error(1)
	}
	return types.SystemStatus{}, nil
}

func (m *mockESS) ApplyDecision(ctx context.Context, decision types.ChargingDecision) error {
	args := m.Called(ctx, decision)
	return args.Error(0)
}

func (m *mockESS) ApplySettings(ctx context.Context, settings types.Settings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func (m *mockESS) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.EnergyStats), args.Error(1)
	}
	return nil, nil
}

// emptyHistory has no samples so the engine starts in learning mode.
type emptyHistory struct{}

func (emptyHistory) Query(ctx context.Context, metric types.Metric, lookbackDays int) ([]types.MetricValue, error) {
	return nil, nil
}

var testSettings = types.Settings{
	MinReserveSOC:   20,
	MaxChargeW:      5000,
	MaxDischargeW:   5000,
	SyncHistoryDays: 1,
}

func newTestEngine() *engine.Engine {
	return engine.New(engine.DefaultConfig(), engine.DefaultModels(forecast.DefaultConfig(), pattern.DefaultConfig(), optimizer.DefaultConfig()))
}

// newTestServer returns a server whose engine has not been initialized.
func newTestServer(db *mockStorage, sys *mockESS, prices *mockPrices) *Server {
	return &Server{
		engine:     newTestEngine(),
		prices:     prices,
		ess:        sys,
		storage:    db,
		history:    emptyHistory{},
		now:        time.Now,
		listenAddr: ":8080",
		bypassAuth: true,
		initDone:   make(chan struct{}),
	}
}

func initializedServer(t *testing.T, db *mockStorage, sys *mockESS, prices *mockPrices) *Server {
	srv := newTestServer(db, sys, prices)
	srv.initialize(context.Background())
	require.True(t, srv.engine.Initialized())
	return srv
}

// oidcTestKey signs ID tokens verified by a static key set.
type oidcTestKey struct {
	priv   *rsa.PrivateKey
	signer jose.Signer
}

const (
	testIssuer   = "https://issuer.example.com"
	testAudience = "test-audience"
)

func newOIDCTestKey(t *testing.T) *oidcTestKey {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: priv}, nil)
	require.NoError(t, err)
	return &oidcTestKey{priv: priv, signer: signer}
}

func (k *oidcTestKey) verifier() tokenVerifier {
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&k.priv.PublicKey}}
	return oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testAudience}).Verify
}

func (k *oidcTestKey) token(t *testing.T, email string, expires time.Time) string {
	claims, err := json.Marshal(map[string]any{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   "subject-" + email,
		"email": email,
		"iat":   time.Now().Add(-time.Minute).Unix(),
		"exp":   expires.Unix(),
	})
	require.NoError(t, err)
	jws, err := k.signer.Sign(claims)
	require.NoError(t, err)
	raw, err := jws.CompactSerialize()
	require.NoError(t, err)
	return raw
}
