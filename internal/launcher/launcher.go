// Package launcher implements C15: the single admissible entry point into
// live trading. It runs the hash-verified startup sequence — load the
// admission decision, confirm the account is real money, seed the initial
// sizing coefficient, start the orchestrator, and fire one canary order
// before handing control back to the caller (spec §4.15).
package launcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/luzhengheng/MT5-sub005/internal/admission"
	"github.com/luzhengheng/MT5-sub005/internal/alerts"
	"github.com/luzhengheng/MT5-sub005/internal/breaker"
	"github.com/luzhengheng/MT5-sub005/internal/gateway"
	"github.com/luzhengheng/MT5-sub005/internal/signal"
)

// canaryTimeout bounds how long the startup canary order waits for a fill
// confirmation before the Launcher treats it as a failure.
const canaryTimeout = 30 * time.Second

// AccountGateway is the subset of gateway.Client the Launcher needs: enough
// to verify the account and fire one order, without depending on the full
// Broker surface symbol loops use.
type AccountGateway interface {
	GetAccount(ctx context.Context) (*gateway.Account, error)
	OpenOrder(ctx context.Context, req gateway.OpenOrderRequest) (*gateway.OpenOrderResult, error)
	ServiceVersion(ctx context.Context) (string, error)
}

// Config wires one Launcher run.
type Config struct {
	ArtifactPath      string // admission decision artifact path (spec §4.15 step 1)
	MinGatewayVersion string // semver constraint checked against HEARTBEAT's service_version
	Coefficients      *signal.CoefficientStore
	Canary            gateway.OpenOrderRequest // symbol/side pre-filled; Volume is overridden
	CanaryVolume      float64

	Gateway AccountGateway
	Durable *breaker.Manager
	Alerts  *alerts.Manager

	// RunOrchestrator starts C10 and blocks until it exits (spec §4.15 step
	// 6); the Launcher runs it in its own goroutine so it can still submit
	// the canary order over the same gateway connection afterward.
	RunOrchestrator func(ctx context.Context) error

	Log zerolog.Logger
}

// Launcher drives the startup sequence once and then exposes Wait for the
// caller to block on the orchestrator it started.
type Launcher struct {
	cfg Config
	log zerolog.Logger

	orchestratorDone chan error
}

// New constructs a Launcher.
func New(cfg Config) *Launcher {
	return &Launcher{
		cfg: cfg,
		log: cfg.Log.With().Str("component", "launcher").Logger(),
	}
}

// Run executes the startup sequence (spec §4.15 steps 1-7) and returns the
// admission decision it loaded. On success the orchestrator is already
// running in the background; the caller should call Wait to block on it.
// On any failure before the canary fills, no orchestrator is left running.
func (l *Launcher) Run(ctx context.Context) (admission.Decision, error) {
	decision, err := l.verifyAdmission()
	if err != nil {
		return decision, err
	}
	l.log.Info().Str("decision", string(decision.Decision)).Float64("confidence", decision.ApprovalConfidence).Msg("admission artifact verified")

	if err := l.verifyAccount(ctx); err != nil {
		return decision, err
	}
	if err := l.verifyGatewayVersion(ctx); err != nil {
		return decision, err
	}

	coefficient := decision.PositionCoefficient
	if coefficient <= 0 {
		coefficient = 1.0
	}
	if l.cfg.Coefficients != nil {
		l.cfg.Coefficients.SetCoefficient(coefficient)
	}
	l.log.Info().Float64("position_coefficient", coefficient).Msg("seeded initial sizing coefficient")

	orchCtx, cancelOrch := context.WithCancel(ctx)
	l.orchestratorDone = make(chan error, 1)
	if l.cfg.RunOrchestrator != nil {
		go func() { l.orchestratorDone <- l.cfg.RunOrchestrator(orchCtx) }()
	} else {
		close(l.orchestratorDone)
	}

	if err := l.fireCanary(ctx); err != nil {
		cancelOrch()
		reason := "CANARY_FAILED"
		_ = l.cfg.Durable.Engage(reason, map[string]string{"error": err.Error()})
		if l.cfg.Alerts != nil {
			alerts.CanaryFailed(ctx, err.Error())
		}
		return decision, fmt.Errorf("launcher: canary order failed: %w", err)
	}

	l.log.Info().Msg("canary order filled, launch complete")
	return decision, nil
}

// Wait blocks until the orchestrator goroutine started by Run exits.
// Calling Wait before Run has started an orchestrator returns nil
// immediately.
func (l *Launcher) Wait() error {
	if l.orchestratorDone == nil {
		return nil
	}
	return <-l.orchestratorDone
}

// verifyAdmission loads the admission artifact, recomputes its hash to
// detect tampering, and aborts on a NO-GO decision (spec §4.15 steps 1-3).
func (l *Launcher) verifyAdmission() (admission.Decision, error) {
	decision, err := admission.ReadArtifact(l.cfg.ArtifactPath)
	if err != nil {
		return decision, fmt.Errorf("launcher: %w", err)
	}
	if err := admission.VerifyArtifact(decision); err != nil {
		return decision, fmt.Errorf("launcher: %w", err)
	}
	if decision.Decision == admission.NoGo {
		return decision, admission.ErrNoGo
	}
	return decision, nil
}

// verifyAccount confirms GET_ACCOUNT reports a real-money account on a
// production server (spec §4.15 step 4). gateway.Client.GetAccount already
// engages the breaker on a non-REAL trade_mode when RequireRealAccount is
// set; this check is independent
// of that one and also guards the server-name half the client does not.
func (l *Launcher) verifyAccount(ctx context.Context) error {
	acct, err := l.cfg.Gateway.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("launcher: get account: %w", err)
	}
	if acct.TradeMode != gateway.TradeModeReal {
		return fmt.Errorf("launcher: account trade_mode %q is not REAL", acct.TradeMode)
	}
	if containsDemoOrBeta(acct.ServerName) {
		return fmt.Errorf("launcher: gateway server %q looks like a demo/beta environment", acct.ServerName)
	}
	return nil
}

// verifyGatewayVersion rejects a gateway adapter whose reported protocol
// version does not satisfy MinGatewayVersion, so an incompatible adapter
// aborts at startup rather than failing an OPEN_ORDER cryptically later.
func (l *Launcher) verifyGatewayVersion(ctx context.Context) error {
	if l.cfg.MinGatewayVersion == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(l.cfg.MinGatewayVersion)
	if err != nil {
		return fmt.Errorf("launcher: invalid min gateway version constraint %q: %w", l.cfg.MinGatewayVersion, err)
	}
	reported, err := l.cfg.Gateway.ServiceVersion(ctx)
	if err != nil {
		return fmt.Errorf("launcher: get gateway service version: %w", err)
	}
	version, err := semver.NewVersion(reported)
	if err != nil {
		return fmt.Errorf("launcher: gateway reported unparseable version %q: %w", reported, err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("launcher: gateway version %s does not satisfy %s", version, l.cfg.MinGatewayVersion)
	}
	return nil
}

// fireCanary submits exactly one minimum-volume order and waits for its
// fill confirmation (spec §4.15 step 7); the reply itself is the fill
// confirmation, since OPEN_ORDER only returns SUCCESS once the broker has
// executed the order.
func (l *Launcher) fireCanary(ctx context.Context) error {
	canaryCtx, cancel := context.WithTimeout(ctx, canaryTimeout)
	defer cancel()

	req := l.cfg.Canary
	req.Volume = l.cfg.CanaryVolume
	result, err := l.cfg.Gateway.OpenOrder(canaryCtx, req)
	if err != nil {
		return err
	}
	if result.Ticket == 0 {
		return fmt.Errorf("canary order reply carried no ticket")
	}
	return nil
}

// containsDemoOrBeta mirrors config.Validator's own guard; duplicated
// rather than imported since config must not depend on gateway's account
// types and this check is cheap enough not to share.
func containsDemoOrBeta(server string) bool {
	lower := strings.ToLower(server)
	return strings.Contains(lower, "demo") || strings.Contains(lower, "beta")
}
