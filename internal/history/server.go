package history

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NargusS/tiltpay-backend/internal/observability"
	"github.com/NargusS/tiltpay-backend/internal/parser"
)

const (
	defaultOnChainLimit = 100
	maxOnChainLimit     = 1000
)

// Server is the history HTTP API.
type Server struct {
	svc    *Service
	router *gin.Engine
	logger *zap.Logger
}

// NewServer creates the router. /metrics serves the process metrics.
func NewServer(svc *Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	s := &Server{svc: svc, router: router, logger: logger}

	router.Use(gin.Recovery(), s.logRequests)

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(observability.Handler()))

	api := router.Group("/v1/wallets/:address")
	{
		api.GET("/transactions", s.handleTransactions)
		api.GET("/stats", s.handleStats)
		api.GET("/onchain", s.handleOnChain)
	}

	return s
}

// HandleStatus serves the value returned by fn as JSON on GET /status.
func (s *Server) HandleStatus(fn func() any) {
	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, fn())
	})
}

// Handler returns the router for use in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	status := c.Writer.Status()
	observability.RecordHTTPRequest(route, status)
	s.logger.Debug("request",
		zap.String("method", c.Request.Method),
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
	)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleTransactions(c *gin.Context) {
	address := c.Param("address")

	entries, err := s.svc.Transactions(c.Request.Context(), address)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type statsResponse struct {
	TotalReceived    string   `json:"totalReceived"`
	TotalSent        string   `json:"totalSent"`
	UniqueSenders    []string `json:"uniqueSenders"`
	UniqueReceivers  []string `json:"uniqueReceivers"`
	TransactionCount int      `json:"transactionCount"`
}

func newStatsResponse(st parser.Stats) statsResponse {
	resp := statsResponse{
		TotalReceived:    st.TotalReceived.String(),
		TotalSent:        st.TotalSent.String(),
		UniqueSenders:    st.UniqueSenders,
		UniqueReceivers:  st.UniqueReceivers,
		TransactionCount: st.Count,
	}
	if resp.UniqueSenders == nil {
		resp.UniqueSenders = []string{}
	}
	if resp.UniqueReceivers == nil {
		resp.UniqueReceivers = []string{}
	}
	return resp
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.svc.Stats(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatsResponse(stats))
}

type transferResponse struct {
	Signature        string `json:"signature"`
	Slot             int64  `json:"slot"`
	BlockTime        *int64 `json:"blockTime"`
	Amount           int64  `json:"amount"`
	Decimals         int    `json:"decimals"`
	Type             string `json:"type"`
	From             string `json:"from"`
	To               string `json:"to"`
	FromTokenAccount string `json:"fromTokenAccount,omitempty"`
	ToTokenAccount   string `json:"toTokenAccount,omitempty"`
}

func (s *Server) handleOnChain(c *gin.Context) {
	limit := defaultOnChainLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxOnChainLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	transfers, err := s.svc.OnChain(c.Request.Context(), c.Param("address"), limit)
	if errors.Is(err, ErrOnChainDisabled) {
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	resp := make([]transferResponse, 0, len(transfers))
	for _, t := range transfers {
		resp = append(resp, transferResponse{
			Signature:        t.Signature,
			Slot:             t.Slot,
			BlockTime:        t.BlockTime,
			Amount:           t.Amount,
			Decimals:         t.Decimals,
			Type:             string(t.Direction),
			From:             t.From,
			To:               t.To,
			FromTokenAccount: t.FromTokenAccount,
			ToTokenAccount:   t.ToTokenAccount,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"transfers": resp,
		"stats":     newStatsResponse(parser.Summarize(transfers)),
	})
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
