package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mealcredits/internal/reporting"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

const defaultRequestTimeout = 5 * time.Second

var errMissingDependency = errors.New("httpapi: missing dependency")

// Config tunes the HTTP surface.
type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	RetryPolicy    ledger.RetryPolicy
}

// Dependencies are the services the router delegates to.
type Dependencies struct {
	Logger        *zap.Logger
	Ledger        *ledger.Service
	Orders        *orders.Service
	Reports       *reporting.Service
	Authenticator *Authenticator
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the gin engine serving customer and admin routes.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Ledger == nil || deps.Orders == nil || deps.Reports == nil || deps.Authenticator == nil {
		return nil, errMissingDependency
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	handler := &httpHandler{
		logger:  logger,
		ledger:  deps.Ledger,
		orders:  deps.Orders,
		reports: deps.Reports,
		cfg:     cfg,
	}
	return setupRouter(cfg, handler, deps.Authenticator, deps.Metrics), nil
}

func setupRouter(cfg Config, handler *httpHandler, authenticator *Authenticator, metrics http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	api := router.Group("/api")
	api.Use(authenticator.Middleware())

	accounts := api.Group("/accounts/:id")
	accounts.Use(requireAccountAccess())
	accounts.GET("/balance", handler.handleBalance)
	accounts.GET("/transactions", handler.handleAccountTransactions)
	accounts.GET("/orders", handler.handleAccountOrders)
	accounts.POST("/orders", handler.handlePlaceOrder)

	api.GET("/orders/:id", handler.handleGetOrder)

	admin := api.Group("/admin")
	admin.Use(requireAdmin())
	admin.POST("/accounts/:id/credits", handler.handleAdminCredit)
	admin.POST("/accounts/:id/debits", handler.handleAdminDebit)
	admin.GET("/accounts/:id/reconciliation", handler.handleReconciliation)
	admin.POST("/orders/:id/transitions", handler.handleTransition)
	admin.GET("/orders/:id/transactions", handler.handleOrderTransactions)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	ledger  *ledger.Service
	orders  *orders.Service
	reports *reporting.Service
	cfg     Config
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	accountID, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	account, err := handler.ledger.Balance(requestCtx, accountID)
	if err != nil {
		handler.writeError(ctx, "balance", err)
		return
	}
	ctx.JSON(http.StatusOK, newBalancePayload(account))
}

func (handler *httpHandler) handleAccountTransactions(ctx *gin.Context) {
	accountID, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	page, ok := handler.pageQuery(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.reports.TransactionsByAccount(requestCtx, accountID, page)
	if err != nil {
		handler.writeError(ctx, "list_transactions", err)
		return
	}
	ctx.JSON(http.StatusOK, newTransactionPagePayload(result))
}

func (handler *httpHandler) handleAccountOrders(ctx *gin.Context) {
	accountID, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	page, ok := handler.pageQuery(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.reports.OrdersByAccount(requestCtx, accountID, page)
	if err != nil {
		handler.writeError(ctx, "list_orders", err)
		return
	}
	ctx.JSON(http.StatusOK, newOrderPagePayload(result))
}

func (handler *httpHandler) handlePlaceOrder(ctx *gin.Context) {
	accountID, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	var request placeOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	var order orders.Order
	err := ledger.Retry(requestCtx, handler.cfg.RetryPolicy, func(attemptCtx context.Context) error {
		var placeErr error
		order, placeErr = handler.orders.PlaceOrder(attemptCtx, orders.PlaceOrderRequest{
			AccountID:           accountID,
			SelectedItems:       request.SelectedItems,
			DeliveryAddress:     request.DeliveryAddress,
			SpecialInstructions: request.SpecialInstructions,
		})
		return placeErr
	})
	if err != nil {
		handler.writeError(ctx, "place_order", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"order": newOrderPayload(order)})
}

func (handler *httpHandler) handleGetOrder(ctx *gin.Context) {
	orderID, ok := handler.orderParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	order, err := handler.orders.GetOrder(requestCtx, orderID)
	if err != nil {
		handler.writeError(ctx, "get_order", err)
		return
	}
	claims := getClaims(ctx)
	if claims == nil || !claims.CanAccess(order.AccountID.String()) {
		// Foreign orders are reported as missing.
		ctx.JSON(http.StatusNotFound, errorResponse("order_not_found", "order not found"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": newOrderPayload(order)})
}

func (handler *httpHandler) handleAdminCredit(ctx *gin.Context) {
	handler.adjustBalance(ctx, ledger.DirectionCredit, ledger.ReasonAdminAdd)
}

func (handler *httpHandler) handleAdminDebit(ctx *gin.Context) {
	handler.adjustBalance(ctx, ledger.DirectionDebit, ledger.ReasonAdminDeduct)
}

func (handler *httpHandler) adjustBalance(ctx *gin.Context, direction ledger.Direction, defaultReason ledger.Reason) {
	accountID, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	var request adjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := ledger.NewPositiveCredits(request.Amount)
	if err != nil {
		handler.writeError(ctx, "adjust_balance", err)
		return
	}
	reason := defaultReason
	if request.Reason != "" {
		reason, err = ledger.ParseReason(request.Reason)
		if err != nil {
			handler.writeError(ctx, "adjust_balance", err)
			return
		}
	}
	var relatedOrderID *ledger.OrderID
	if request.RelatedOrderID != "" {
		orderID, orderErr := ledger.NewOrderID(request.RelatedOrderID)
		if orderErr != nil {
			handler.writeError(ctx, "adjust_balance", orderErr)
			return
		}
		relatedOrderID = &orderID
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	move := handler.ledger.Credit
	if direction == ledger.DirectionDebit {
		move = handler.ledger.Debit
	}
	var transaction ledger.Transaction
	err = ledger.Retry(requestCtx, handler.cfg.RetryPolicy, func(attemptCtx context.Context) error {
		var moveErr error
		transaction, moveErr = move(attemptCtx, accountID, amount, reason, relatedOrderID)
		return moveErr
	})
	if err != nil {
		handler.writeError(ctx, "adjust_balance", err)
		return
	}
	account, err := handler.ledger.Balance(requestCtx, accountID)
	if err != nil {
		handler.writeError(ctx, "balance", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"transaction": newTransactionPayload(transaction),
		"balance":     newBalancePayload(account),
	})
}

func (handler *httpHandler) handleReconciliation(ctx *gin.Context) {
	accountID, ok := handler.accountParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	reconciliation, err := handler.ledger.Reconcile(requestCtx, accountID)
	if err != nil && !errors.Is(err, ledger.ErrBalanceMismatch) {
		handler.writeError(ctx, "reconcile", err)
		return
	}
	if err != nil {
		handler.logger.Warn("balance mismatch", zap.String("account_id", accountID.String()), zap.Error(err))
	}
	ctx.JSON(http.StatusOK, newReconciliationPayload(reconciliation))
}

func (handler *httpHandler) handleTransition(ctx *gin.Context) {
	orderID, ok := handler.orderParam(ctx)
	if !ok {
		return
	}
	var request transitionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	target, err := orders.ParseStatus(request.Status)
	if err != nil {
		handler.writeError(ctx, "transition_order", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	var order orders.Order
	err = ledger.Retry(requestCtx, handler.cfg.RetryPolicy, func(attemptCtx context.Context) error {
		var transitionErr error
		order, transitionErr = handler.orders.Transition(attemptCtx, orderID, target, orders.TransitionOptions{
			RefundCredits: request.RefundCredits,
		})
		return transitionErr
	})
	if err != nil {
		handler.writeError(ctx, "transition_order", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": newOrderPayload(order)})
}

func (handler *httpHandler) handleOrderTransactions(ctx *gin.Context) {
	orderID, ok := handler.orderParam(ctx)
	if !ok {
		return
	}
	page, ok := handler.pageQuery(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.reports.TransactionsByOrder(requestCtx, orderID, page)
	if err != nil {
		handler.writeError(ctx, "list_order_transactions", err)
		return
	}
	ctx.JSON(http.StatusOK, newTransactionPagePayload(result))
}

func (handler *httpHandler) accountParam(ctx *gin.Context) (ledger.AccountID, bool) {
	accountID, err := ledger.NewAccountID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, "account_param", err)
		return ledger.AccountID{}, false
	}
	return accountID, true
}

func (handler *httpHandler) orderParam(ctx *gin.Context) (ledger.OrderID, bool) {
	orderID, err := ledger.NewOrderID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, "order_param", err)
		return ledger.OrderID{}, false
	}
	return orderID, true
}

func (handler *httpHandler) pageQuery(ctx *gin.Context) (reporting.Page, bool) {
	var query pageQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_page", "limit and offset must be integers"))
		return reporting.Page{}, false
	}
	page, err := reporting.NewPage(query.Limit, query.Offset)
	if err != nil {
		handler.writeError(ctx, "page_query", err)
		return reporting.Page{}, false
	}
	return page, true
}
