// Package httpserver is the thin REST surface over the matching engine. It
// holds no business logic: every handler binds a request, calls the manager,
// and maps the result to an HTTP status.
package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freyr/domain/orderbook"
	"freyr/service"
)

type Server struct {
	mgr *service.Manager
	log *zap.Logger
}

func New(mgr *service.Manager, log *zap.Logger) *Server {
	return &Server{mgr: mgr, log: log}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	{
		v1.POST("/orders", s.placeOrder)
		v1.DELETE("/orders/:id", s.cancelOrder)
		v1.GET("/orders/:id", s.getOrder)
		v1.GET("/orders", s.listUserOrders)
		v1.GET("/orderbook/:symbol", s.getOrderBook)
		v1.GET("/pairs", s.listPairs)
		v1.GET("/trades", s.listTrades)
		v1.GET("/stats", s.marketStats)

		admin := v1.Group("/admin")
		{
			admin.POST("/halt", s.halt)
			admin.POST("/resume", s.resume)
		}
	}
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) placeOrder(c *gin.Context) {
	var req orderbook.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Warn("invalid order payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid order payload"})
		return
	}

	res := s.mgr.PlaceOrder(c.Request.Context(), req)
	if !res.Success {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) cancelOrder(c *gin.Context) {
	res := s.mgr.CancelOrder(c.Request.Context(), c.Param("id"), c.Query("userId"))
	if !res.Success {
		status := http.StatusUnprocessableEntity
		switch res.Reason {
		case "Order not found":
			status = http.StatusNotFound
		case "Unauthorized":
			status = http.StatusForbidden
		}
		c.JSON(status, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getOrder(c *gin.Context) {
	o, ok := s.mgr.GetOrder(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "order not found"})
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) listUserOrders(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "userId is required"})
		return
	}
	c.JSON(http.StatusOK, s.mgr.GetUserOrders(userID, c.Query("symbol")))
}

func (s *Server) getOrderBook(c *gin.Context) {
	depth := 10
	if d, err := intQuery(c, "depth"); err == nil && d > 0 {
		depth = d
	}
	snap, err := s.mgr.GetOrderBook(c.Param("symbol"), depth)
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) listPairs(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.GetTradingPairs())
}

func (s *Server) listTrades(c *gin.Context) {
	limit := 100
	if l, err := intQuery(c, "limit"); err == nil && l > 0 {
		limit = l
	}
	symbol := c.Query("symbol")
	if userID := c.Query("userId"); userID != "" {
		c.JSON(http.StatusOK, s.mgr.GetUserTradeHistory(userID, symbol, limit))
		return
	}
	c.JSON(http.StatusOK, s.mgr.GetTradeHistory(symbol, limit))
}

func (s *Server) marketStats(c *gin.Context) {
	stats, err := s.mgr.GetMarketStats(c.Query("symbol"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) halt(c *gin.Context) {
	s.mgr.EmergencyStop()
	c.JSON(http.StatusOK, gin.H{"status": "halted"})
}

func (s *Server) resume(c *gin.Context) {
	s.mgr.ResumeTrading()
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, errors.New("missing query parameter")
	}
	return strconv.Atoi(raw)
}
