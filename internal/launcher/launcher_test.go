package launcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luzhengheng/MT5-sub005/internal/admission"
	"github.com/luzhengheng/MT5-sub005/internal/breaker"
	"github.com/luzhengheng/MT5-sub005/internal/gateway"
	"github.com/luzhengheng/MT5-sub005/internal/signal"
)

func testLogger() zerolog.Logger { return zerolog.New(os.Stderr) }

func testDurable(t *testing.T) *breaker.Manager {
	t.Helper()
	mgr, err := breaker.NewManager(filepath.Join(t.TempDir(), "breaker.json"), testLogger())
	require.NoError(t, err)
	return mgr
}

func writeArtifact(t *testing.T, decision admission.Outcome, coefficient float64) string {
	t.Helper()
	m := admission.Metrics{P99LatencyMS: 10, ChallengerF1: 0.7, DiversityIndex: 0.5}
	d, err := admission.NewBuilder(m, decision, 1.0, nil).WithPositionCoefficient(coefficient).Build()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "admission.json")
	require.NoError(t, admission.WriteArtifact(path, d))
	return path
}

type fakeGateway struct {
	account        *gateway.Account
	accountErr     error
	openResult     *gateway.OpenOrderResult
	openErr        error
	serviceVersion string
	serviceErr     error
}

func (f *fakeGateway) GetAccount(ctx context.Context) (*gateway.Account, error) {
	return f.account, f.accountErr
}

func (f *fakeGateway) OpenOrder(ctx context.Context, req gateway.OpenOrderRequest) (*gateway.OpenOrderResult, error) {
	return f.openResult, f.openErr
}

func (f *fakeGateway) ServiceVersion(ctx context.Context) (string, error) {
	return f.serviceVersion, f.serviceErr
}

func realAccountGateway() *fakeGateway {
	return &fakeGateway{
		account:        &gateway.Account{TradeMode: gateway.TradeModeReal, ServerName: "Broker-Real-03"},
		openResult:     &gateway.OpenOrderResult{Ticket: 12345, Price: 1.1000},
		serviceVersion: "1.2.0",
	}
}

func baseConfig(artifactPath string, gw AccountGateway, durable *breaker.Manager) Config {
	return Config{
		ArtifactPath:      artifactPath,
		MinGatewayVersion: ">=1.0.0",
		Coefficients:      signal.NewCoefficientStore(1.0),
		Canary:            gateway.OpenOrderRequest{Symbol: "EURUSD.s", Side: "BUY"},
		CanaryVolume:      0.01,
		Gateway:           gw,
		Durable:           durable,
		Log:               testLogger(),
	}
}

func TestLauncher_RunSucceedsAndSeedsCoefficient(t *testing.T) {
	path := writeArtifact(t, admission.Go, 0.25)
	durable := testDurable(t)
	gw := realAccountGateway()

	l := New(baseConfig(path, gw, durable))
	decision, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, admission.Go, decision.Decision)
	assert.Equal(t, 0.25, l.cfg.Coefficients.Coefficient())
	assert.False(t, durable.ShouldHalt())
}

func TestLauncher_AbortsOnNoGoDecision(t *testing.T) {
	path := writeArtifact(t, admission.NoGo, 0.1)
	durable := testDurable(t)
	gw := realAccountGateway()

	l := New(baseConfig(path, gw, durable))
	_, err := l.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, admission.ErrNoGo)
}

func TestLauncher_AbortsOnTamperedArtifact(t *testing.T) {
	path := writeArtifact(t, admission.Go, 0.1)

	d, err := admission.ReadArtifact(path)
	require.NoError(t, err)
	d.P99LatencyMS = 9999
	require.NoError(t, admission.WriteArtifact(path, d))

	durable := testDurable(t)
	gw := realAccountGateway()
	l := New(baseConfig(path, gw, durable))
	_, err = l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestLauncher_AbortsOnMissingArtifact(t *testing.T) {
	durable := testDurable(t)
	gw := realAccountGateway()
	l := New(baseConfig(filepath.Join(t.TempDir(), "missing.json"), gw, durable))
	_, err := l.Run(context.Background())
	require.Error(t, err)
}

func TestLauncher_AbortsOnNonRealTradeMode(t *testing.T) {
	path := writeArtifact(t, admission.Go, 0.1)
	durable := testDurable(t)
	gw := realAccountGateway()
	gw.account.TradeMode = gateway.TradeModeDemo

	l := New(baseConfig(path, gw, durable))
	_, err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not REAL")
}

func TestLauncher_AbortsOnDemoServerName(t *testing.T) {
	path := writeArtifact(t, admission.Go, 0.1)
	durable := testDurable(t)
	gw := realAccountGateway()
	gw.account.ServerName = "Broker-Demo"

	l := New(baseConfig(path, gw, durable))
	_, err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "demo/beta")
}

func TestLauncher_AbortsOnIncompatibleGatewayVersion(t *testing.T) {
	path := writeArtifact(t, admission.Go, 0.1)
	durable := testDurable(t)
	gw := realAccountGateway()
	gw.serviceVersion = "0.9.0"

	l := New(baseConfig(path, gw, durable))
	_, err := l.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not satisfy")
}

func TestLauncher_EngagesBreakerWhenCanaryOrderErrors(t *testing.T) {
	path := writeArtifact(t, admission.Go, 0.1)
	durable := testDurable(t)
	gw := realAccountGateway()
	gw.openErr = errors.New("gateway timeout")

	l := New(baseConfig(path, gw, durable))
	_, err := l.Run(context.Background())
	require.Error(t, err)
	assert.True(t, durable.ShouldHalt())
	assert.Equal(t, "CANARY_FAILED", durable.Reason())
}

func TestLauncher_EngagesBreakerWhenCanaryTicketIsZero(t *testing.T) {
	path := writeArtifact(t, admission.Go, 0.1)
	durable := testDurable(t)
	gw := realAccountGateway()
	gw.openResult = &gateway.OpenOrderResult{Ticket: 0}

	l := New(baseConfig(path, gw, durable))
	_, err := l.Run(context.Background())
	require.Error(t, err)
	assert.True(t, durable.ShouldHalt())
}

func TestLauncher_RunStartsOrchestratorAndWaitReturnsItsError(t *testing.T) {
	path := writeArtifact(t, admission.Go, 0.1)
	durable := testDurable(t)
	gw := realAccountGateway()

	cfg := baseConfig(path, gw, durable)
	started := make(chan struct{})
	cfg.RunOrchestrator = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return context.Canceled
	}

	l := New(cfg)
	runCtx, cancel := context.WithCancel(context.Background())
	_, err := l.Run(runCtx)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("orchestrator was never started")
	}

	cancel()
	assert.ErrorIs(t, l.Wait(), context.Canceled)
}

func TestLauncher_WaitWithoutOrchestratorReturnsNil(t *testing.T) {
	l := New(Config{})
	assert.NoError(t, l.Wait())
}
