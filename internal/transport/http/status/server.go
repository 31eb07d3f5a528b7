// Package status exposes the agent over HTTP: state and trade queries plus
// the manual open/close commands that share the lifecycle with the
// automatic loop.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"scalper/internal/analysis/report"
	"scalper/internal/logger"
	"scalper/internal/market"
	"scalper/internal/strategy"
	"scalper/internal/trader"

	"github.com/gin-gonic/gin"
)

// commandTimeout bounds how long a manual command may wait for the loop to
// pick it up and execute it.
const commandTimeout = 30 * time.Second

// ServerConfig describes the server dependencies.
type ServerConfig struct {
	Addr      string
	Loop      *trader.Loop
	Machine   *trader.Machine
	Source    market.Source
	Signal    strategy.Signal
	Symbol    string
	Interval  string
	EMAPeriod int
}

// Server serves the status API on its own goroutine; it never blocks the
// trading loop.
type Server struct {
	cfg    ServerConfig
	router *gin.Engine
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Loop == nil || cfg.Machine == nil {
		return nil, errors.New("status server requires the loop and machine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9985"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{cfg: cfg, router: router}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.Register(router.Group("/api"))
	return s, nil
}

// Register mounts the API routes under the given group.
func (s *Server) Register(group *gin.RouterGroup) {
	group.GET("/status", s.handleStatus)
	group.GET("/trades", s.handleTrades)
	group.GET("/report", s.handleReport)
	group.POST("/commands/open", s.handleOpen)
	group.POST("/commands/close", s.handleClose)
}

type statusResponse struct {
	trader.Snapshot
	Signal string   `json:"signal,omitempty"`
	EMA    *float64 `json:"ema,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.cfg.Machine.Snapshot()
	snap.Halted = s.cfg.Loop.Halted()
	resp := statusResponse{Snapshot: snap}
	if s.cfg.Signal != nil {
		resp.Signal = s.cfg.Signal.Name()
		if obs, ok := s.cfg.Signal.(interface{ LastEMA() (float64, bool) }); ok {
			if ema, valid := obs.LastEMA(); valid {
				resp.EMA = &ema
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTrades(c *gin.Context) {
	trades := s.cfg.Machine.Trades()
	c.JSON(http.StatusOK, gin.H{"count": len(trades), "trades": trades})
}

type openRequest struct {
	Side string `json:"side" binding:"required,oneof=long short"`
}

func (s *Server) handleOpen(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := trader.CommandOpenLong
	if req.Side == "short" {
		kind = trader.CommandOpenShort
	}
	s.dispatch(c, kind)
}

func (s *Server) handleClose(c *gin.Context) {
	s.dispatch(c, trader.CommandClose)
}

// dispatch queues a command for the loop and waits for its result so the
// caller learns whether the order went out.
func (s *Server) dispatch(c *gin.Context, kind trader.CommandKind) {
	cmd := trader.Command{Kind: kind, Result: make(chan error, 1)}
	if !s.cfg.Loop.Submit(cmd) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "command queue full"})
		return
	}
	select {
	case err := <-cmd.Result:
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"accepted": string(kind)})
	case <-time.After(commandTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "command not picked up in time"})
	case <-c.Request.Context().Done():
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "client gave up"})
	}
}

func (s *Server) handleReport(c *gin.Context) {
	if s.cfg.Source == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no market source configured"})
		return
	}
	candles, err := s.cfg.Source.FetchHistory(c.Request.Context(), s.cfg.Symbol, s.cfg.Interval, 200)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	snap := s.cfg.Machine.Snapshot()
	html, err := report.Render(report.Input{
		Symbol:    s.cfg.Symbol,
		Interval:  s.cfg.Interval,
		EMAPeriod: s.cfg.EMAPeriod,
		Candles:   candles,
		Trades:    s.cfg.Machine.Trades(),
		Stats:     snap.Stats,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.cfg.Addr }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("status server listening on %s", s.cfg.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
