package router

import (
	"satspos/config"
	"satspos/internal/handler"
	"satspos/internal/middleware"
	"satspos/internal/relay"
	"satspos/internal/repository"
	"satspos/internal/service"
	"satspos/internal/ws"
	"satspos/pkg/lnaddr"
	"satspos/pkg/proxy"
	"satspos/pkg/rates"
	"satspos/pkg/terminal"
	"satspos/pkg/zap"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps are the process-level collaborators main constructs once and the
// router threads through.
type Deps struct {
	Pool     *relay.Pool
	Signer   zap.Signer
	Proxy    proxy.Provider
	Reader   terminal.CardReader
	Printer  terminal.Printer
	Feedback terminal.Feedback
}

func Setup(cfg *config.Config, db *gorm.DB, deps Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewFixedWindowLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window)))

	// Repositories
	var orderRepo *repository.OrderRepository
	var merchantRepo *repository.MerchantRepository
	if db != nil {
		orderRepo = repository.NewOrderRepository(db)
		merchantRepo = repository.NewMerchantRepository(db)
	}

	hub := ws.NewHub()

	// Services
	lnClient := lnaddr.NewClient(cfg.Payment.ResolveTimeout, cfg.Payment.CallbackTimeout)
	resolverSvc := service.NewResolverService(lnClient, cfg.Payment.NIP05CacheTTL)
	ratesSvc := service.NewRatesService(rates.NewClient(cfg.Rates.BaseURL), cfg.Rates.CacheTTL)

	sessionDeps := service.SessionDeps{
		Resolver: resolverSvc,
		Invoices: lnClient,
		Signer:   deps.Signer,
		Watcher: func(onChange func(service.PayStatus, *service.ZapReceipt)) *service.PaymentWatcher {
			return service.NewPaymentWatcher(deps.Pool, deps.Feedback, onChange)
		},
		Proxy:          deps.Proxy,
		Reader:         deps.Reader,
		Printer:        deps.Printer,
		Relays:         cfg.Nostr.Relays,
		InvoiceTimeout: cfg.Payment.InvoiceTimeout,
		OnUpdate: func(snap service.Snapshot) {
			hub.BroadcastOrder(snap.OrderID, snap)
		},
	}
	sessions := service.NewSessionManager(ratesSvc, orderRepo, cfg.Merchant.Address, sessionDeps)

	// Handlers
	resolveHandler := handler.NewResolveHandler(resolverSvc)
	invoiceHandler := handler.NewInvoiceHandler(lnClient)
	ratesHandler := handler.NewRatesHandler(ratesSvc)
	orderHandler := handler.NewOrderHandler(sessions)

	api := r.Group("/api/v1")
	{
		api.GET("/resolve/lnurl", resolveHandler.LNURL)
		api.GET("/resolve/nip05", resolveHandler.NIP05)
		api.POST("/invoice", invoiceHandler.Create)
		api.GET("/rates", ratesHandler.Get)

		api.POST("/orders", orderHandler.Create)
		api.GET("/orders/:id", orderHandler.Get)
		api.POST("/orders/:id/retry", orderHandler.Retry)
		api.POST("/orders/:id/cancel", orderHandler.Cancel)
	}

	r.GET("/ws/orders", ws.UpgradeOrderWS(hub, sessions))

	if merchantRepo != nil {
		authHandler := handler.NewAuthHandler(cfg, merchantRepo)
		r.POST("/api/v1/auth/login", authHandler.Login)

		protected := r.Group("/api/v1")
		protected.Use(middleware.AuthRequired(&cfg.JWT))
		{
			protected.GET("/sales", orderHandler.Sales)
		}
	}

	return r
}
