// Package api serves the dashboard HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"binance-bot-fleet/config"
	"binance-bot-fleet/internal/bot"
	"binance-bot-fleet/internal/events"
	"binance-bot-fleet/internal/exchange"
	"binance-bot-fleet/internal/news"
)

// Server hosts the dashboard API, the event WebSocket and /metrics.
type Server struct {
	cfg    *config.Config
	sup    *bot.Supervisor
	ex     exchange.API
	news   *news.Cache
	bus    *events.Bus
	hub    *wsHub
	logger zerolog.Logger

	promRegistry *prometheus.Registry
	httpServer   *http.Server
}

// NewServer wires routes and the WebSocket hub.
func NewServer(cfg *config.Config, sup *bot.Supervisor, ex exchange.API, newsCache *news.Cache,
	bus *events.Bus, promRegistry *prometheus.Registry, logger zerolog.Logger) *Server {

	s := &Server{
		cfg:          cfg,
		sup:          sup,
		ex:           ex,
		news:         newsCache,
		bus:          bus,
		hub:          newWSHub(logger),
		logger:       logger.With().Str("component", "api").Logger(),
		promRegistry: promRegistry,
	}
	bus.SubscribeAll(s.hub.broadcast)
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors.Default())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.GET("/overview", s.handleOverview)
		api.POST("/bots", s.handleCreateBot)
		api.POST("/bots/:id/start", s.handleStartBot)
		api.POST("/bots/:id/stop", s.handleStopBot)
		api.POST("/bots/:id/edit", s.handleEditBot)
		api.POST("/bots/:id/add-funds", s.handleAddFunds)
		api.DELETE("/bots/:id", s.handleDeleteBot)
		api.GET("/bots/:id/logs", s.handleBotLogs)
		api.GET("/coin/:asset", s.handleCoinInfo)
		api.POST("/reconcile", s.handleReconcile)
		api.POST("/dashboard/restart", s.handleRestart)
		api.GET("/ws", s.handleWebSocket)
	}
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Dashboard.Port),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.cfg.Dashboard.Port).Msg("dashboard API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// ==================== ERROR HELPERS ====================

func jsonError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

// mapSupervisorError translates lifecycle errors into HTTP responses with
// stable codes the dashboard keys on.
func mapSupervisorError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bot.ErrBotNotFound):
		jsonError(c, http.StatusNotFound, "bot_not_found", err)
	case errors.Is(err, bot.ErrSymbolLocked):
		jsonError(c, http.StatusConflict, "symbol_locked_while_position_open", err)
	case errors.Is(err, bot.ErrSymbolInUse):
		jsonError(c, http.StatusConflict, "symbol_in_use", err)
	case errors.Is(err, bot.ErrPositionOpen):
		jsonError(c, http.StatusConflict, "position_open", err)
	case errors.Is(err, bot.ErrInsufficientFunds):
		jsonError(c, http.StatusBadRequest, "insufficient_funds", err)
	default:
		jsonError(c, http.StatusBadRequest, "bad_request", err)
	}
}

func botID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		jsonError(c, http.StatusBadRequest, "invalid_bot_id", fmt.Errorf("invalid bot id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

// ==================== HANDLERS ====================

func (s *Server) handleOverview(c *gin.Context) {
	c.JSON(http.StatusOK, s.sup.Snapshot(c.Request.Context()))
}

func (s *Server) handleCreateBot(c *gin.Context) {
	var req bot.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	rec, err := s.sup.CreateBot(c.Request.Context(), req)
	if err != nil {
		mapSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleStartBot(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	if err := s.sup.StartBot(id); err != nil {
		mapSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running", "id": id})
}

func (s *Server) handleStopBot(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	if err := s.sup.StopBot(id); err != nil {
		mapSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "id": id})
}

func (s *Server) handleEditBot(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	var req bot.EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	rec, err := s.sup.EditBot(c.Request.Context(), id, req)
	if err != nil {
		mapSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleAddFunds(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	var req struct {
		Amount float64 `json:"amount_usdt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		jsonError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	rec, err := s.sup.AddFunds(c.Request.Context(), id, req.Amount)
	if err != nil {
		mapSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDeleteBot(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	if err := s.sup.DeleteBot(id); err != nil {
		mapSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

func (s *Server) handleBotLogs(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	n := 100
	if raw := c.Query("n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			n = v
		}
	}
	lines, err := s.sup.BotLogs(id, n)
	if err != nil {
		mapSupervisorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "lines": lines})
}

// handleCoinInfo returns live price, trading metadata, the bots managing
// the asset (with positions) and cached news.
func (s *Server) handleCoinInfo(c *gin.Context) {
	asset := strings.ToUpper(strings.TrimSpace(c.Param("asset")))
	if asset == "" {
		jsonError(c, http.StatusBadRequest, "invalid_asset", fmt.Errorf("asset is required"))
		return
	}
	symbol := asset + "USDT"

	info, err := s.ex.GetSymbolInfo(c.Request.Context(), symbol)
	if err != nil {
		jsonError(c, http.StatusBadGateway, "exchange_error", err)
		return
	}
	resp := gin.H{
		"asset":     asset,
		"symbol":    symbol,
		"tradeable": info.Tradeable,
		"bots":      s.sup.BotsOnSymbol(symbol),
	}
	if info.Tradeable {
		if price, err := s.ex.GetTickerPrice(c.Request.Context(), symbol); err == nil {
			resp["price"] = price
		}
	}
	if res, err := s.news.GetForTicker(c.Request.Context(), asset); err == nil {
		resp["news"] = gin.H{
			"articles": res.Articles,
			"stale":    res.Stale,
			"age_sec":  int(res.Age.Seconds()),
			"source":   res.Source,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReconcile(c *gin.Context) {
	result, err := s.sup.ReconcileOrphans(c.Request.Context())
	if err != nil {
		jsonError(c, http.StatusBadGateway, "exchange_error", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleRestart stops every worker and restarts the ones that were running,
// picking up edited settings without bouncing the process.
func (s *Server) handleRestart(c *gin.Context) {
	overview := s.sup.Snapshot(c.Request.Context())
	running := make([]int, 0)
	for _, b := range overview.Bots {
		if b.Status == "running" {
			running = append(running, b.ID)
		}
	}
	s.sup.StopAll()
	restarted := make([]int, 0, len(running))
	for _, id := range running {
		if err := s.sup.StartBot(id); err != nil {
			s.logger.Warn().Err(err).Int("bot_id", id).Msg("restart failed")
			continue
		}
		restarted = append(restarted, id)
	}
	c.JSON(http.StatusOK, gin.H{"restarted": restarted})
}
