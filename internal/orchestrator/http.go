package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/luzhengheng/MT5-sub005/internal/breaker"
)

// ControlServer exposes the pause/resume/status control surface and the
// Prometheus /metrics endpoint over HTTP (spec §9 SPEC_FULL HTTP control
// surface), adapted from the teacher's health/metrics HTTP server shape onto
// gin instead of a bare mux.
type ControlServer struct {
	server       *http.Server
	orchestrator *Orchestrator
	durable      *breaker.Manager
	log          zerolog.Logger
}

// NewControlServer builds a ControlServer bound to port.
func NewControlServer(port int, orch *Orchestrator, durable *breaker.Manager, log zerolog.Logger) *ControlServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // control surface is operator-internal, not browser-facing
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	cs := &ControlServer{
		orchestrator: orch,
		durable:      durable,
		log:          log.With().Str("component", "control_server").Logger(),
	}

	router.GET("/health", cs.handleHealth)
	router.GET("/status", cs.handleStatus)
	router.POST("/pause/:symbol", cs.handlePause)
	router.POST("/resume/:symbol", cs.handleResume)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	cs.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return cs
}

// Start begins serving in the background.
func (cs *ControlServer) Start() error {
	go func() {
		if err := cs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cs.log.Error().Err(err).Msg("control server error")
		}
	}()
	cs.log.Info().Str("addr", cs.server.Addr).Msg("control server started")
	return nil
}

// Shutdown gracefully stops the server.
func (cs *ControlServer) Shutdown(ctx context.Context) error {
	return cs.server.Shutdown(ctx)
}

func (cs *ControlServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"breaker_engaged": cs.durable.ShouldHalt(),
		"breaker_reason":  cs.durable.Reason(),
	})
}

func (cs *ControlServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"symbols":         cs.orchestrator.Status(),
		"breaker_engaged": cs.durable.ShouldHalt(),
	})
}

func (cs *ControlServer) handlePause(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := cs.orchestrator.Pause(symbol); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "paused": true})
}

func (cs *ControlServer) handleResume(c *gin.Context) {
	symbol := c.Param("symbol")
	if err := cs.orchestrator.Resume(symbol); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "paused": false})
}
