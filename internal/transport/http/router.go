package statushttp

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"marlin/internal/executor"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/pkg/circuit"
	"marlin/internal/portfolio"
	"marlin/internal/risk"
)

// OrderReader is the slice of the persistence layer the API needs.
type OrderReader interface {
	ListRecentOrders(ctx context.Context, symbol string, limit int) ([]portfolio.Order, error)
}

// VetoCounter reports how many decisions each veto reason has blocked.
type VetoCounter interface {
	VetoCounts() map[risk.VetoReason]int
}

// Router wires the portfolio read model and operator actions under /api.
type Router struct {
	pm      *portfolio.Manager
	riskMgr *risk.Manager
	market  *market.Store
	orders  OrderReader
	vetoes  VetoCounter
	// fills receives externally reported fills when the executor runs in
	// webhook mode. Nil disables the endpoint.
	fills executor.FillHandler
}

func NewRouter(pm *portfolio.Manager, riskMgr *risk.Manager, marketStore *market.Store,
	orders OrderReader, vetoes VetoCounter, fills executor.FillHandler) *Router {
	return &Router{
		pm:      pm,
		riskMgr: riskMgr,
		market:  marketStore,
		orders:  orders,
		vetoes:  vetoes,
		fills:   fills,
	}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/portfolio/metrics", r.handleMetrics)
	group.GET("/orders", r.handleOrders)
	group.GET("/risk/halt", r.handleHaltStatus)
	group.POST("/risk/halt/reset", r.handleHaltReset)
	group.GET("/risk/vetoes", r.handleVetoes)
	group.POST("/positions/:symbol/close", r.handleManualClose)
	if r.fills != nil {
		group.POST("/fills/webhook", r.handleFillWebhook)
	}
}

func (r *Router) handlePortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, r.pm.Snapshot())
}

func (r *Router) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, r.pm.Snapshot().ComputeMetrics())
}

func (r *Router) handleOrders(c *gin.Context) {
	if r.orders == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order store not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	orders, err := r.orders.ListRecentOrders(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (r *Router) handleHaltStatus(c *gin.Context) {
	state, reason := r.riskMgr.HaltStatus()
	c.JSON(http.StatusOK, gin.H{
		"halted": state == circuit.StateOpen,
		"state":  state.String(),
		"reason": reason,
	})
}

// handleHaltReset clears a drawdown halt. This is a deliberate operator
// action; the gate never re-arms itself.
func (r *Router) handleHaltReset(c *gin.Context) {
	if !r.riskMgr.ResetHalt() {
		c.JSON(http.StatusConflict, gin.H{"error": "trading is not halted"})
		return
	}
	logger.Warnf("trading halt reset via API (ip=%s)", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (r *Router) handleVetoes(c *gin.Context) {
	if r.vetoes == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, r.vetoes.VetoCounts())
}

func (r *Router) handleManualClose(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	price := r.market.LastClose(symbol)
	if snap := r.pm.Snapshot(); snap.LastPrices[symbol] > 0 {
		price = snap.LastPrices[symbol]
	}
	if price <= 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "no reference price for " + symbol})
		return
	}
	if err := r.pm.ClosePosition(c.Request.Context(), symbol, price, "manual close via API"); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	logger.Warnf("position %s closed manually via API (ip=%s, price=%.4f)", symbol, c.ClientIP(), price)
	c.JSON(http.StatusOK, gin.H{"status": "closed", "symbol": symbol, "price": price})
}

func (r *Router) handleFillWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	fill, err := executor.ParseFill(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.fills(fill)
	c.JSON(http.StatusOK, gin.H{"status": "accepted", "order_id": fill.OrderID})
}
