package router

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	assetsvc "wekeza-backend/internal/application/assets"
	dividendsvc "wekeza-backend/internal/application/dividends"
	emailsvc "wekeza-backend/internal/application/emails"
	investsvc "wekeza-backend/internal/application/investments"
	poolsvc "wekeza-backend/internal/application/pools"
	reconsvc "wekeza-backend/internal/application/reconciliation"
	roisvc "wekeza-backend/internal/application/roi"
	txsvc "wekeza-backend/internal/application/transactions"
	uploadsvc "wekeza-backend/internal/application/uploads"
	usersvc "wekeza-backend/internal/application/user"
	authsvc "wekeza-backend/internal/auth"
	"wekeza-backend/internal/config"
	"wekeza-backend/internal/infrastructure/database"
	assethandler "wekeza-backend/internal/interfaces/handlers/assets"
	authhandler "wekeza-backend/internal/interfaces/handlers/auth"
	dividendhandler "wekeza-backend/internal/interfaces/handlers/dividends"
	healthhandler "wekeza-backend/internal/interfaces/handlers/health"
	investhandler "wekeza-backend/internal/interfaces/handlers/investments"
	payhandler "wekeza-backend/internal/interfaces/handlers/payments"
	poolhandler "wekeza-backend/internal/interfaces/handlers/pools"
	roihandler "wekeza-backend/internal/interfaces/handlers/roi"
	txhandler "wekeza-backend/internal/interfaces/handlers/transactions"
	userhandler "wekeza-backend/internal/interfaces/handlers/user"
	"wekeza-backend/internal/ledger"
	"wekeza-backend/internal/middleware"
	"wekeza-backend/internal/pkg/constants"
	"wekeza-backend/internal/pkg/keylock"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"gorm.io/gorm"
)

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// openLedger picks the ledger backend from config: the Solana pool program
// in production, the in-memory fake for dev and test runs.
func openLedger(cfg *config.Config) (ledger.Client, error) {
	if cfg.LedgerBackend == "memory" {
		return ledger.NewMemory(), nil
	}
	return ledger.NewSolana(cfg.SolanaRPCURL, cfg.PoolProgramID, cfg.LedgerFeePayerKey, cfg.LedgerTimeout)
}

// CreateApp wires middleware, services and routes. It returns the Fiber app
// plus the DB, Redis client and reconciliation service so the caller can run
// the background sweeper and close things down.
func CreateApp(cfg *config.Config) (*fiber.App, *gorm.DB, *redis.Client, *reconsvc.Service, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))

	// The webhook mounts before the session middleware so the raw body
	// reaches signature verification untouched.
	stripeWebhook := &payhandler.WebhookHandler{WebhookSecret: cfg.StripeWebhookSecret}
	app.Post("/api/v1/stripe/webhook", func(c *fiber.Ctx) error {
		return stripeWebhook.HandleWebhook(c)
	})

	sessionCfg := middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		RedisURL:          cfg.RedisURL,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.Env == "production",
	}
	sessionHandler, rdb, err := middleware.Session(sessionCfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	app.Use(sessionHandler)
	app.Use(middleware.HealthMarker(rdb))
	app.Use(middleware.ResponseFormatter())
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	lc, err := openLedger(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	hh := &healthhandler.Handlers{
		Rdb:            rdb,
		Ledger:         lc,
		HealthAdminKey: cfg.HealthAdminKey,
	}
	app.Get("/", hh.Dashboard)
	app.Get("/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		hh.DB = &gormDBPinger{db: db}
		stripeWebhook.DB = db
	}

	var userFinder authsvc.UserFinder
	if db != nil {
		userFinder = &authsvc.GormUserFinder{DB: db}
	}
	ah := &authhandler.Handlers{
		UserFinder: userFinder,
		Rdb:        rdb,
		Config:     sessionCfg,
	}
	authGroup := app.Group("/api/v1/auth")
	authGroup.Post("/login", ah.Login)
	authGroup.Get("/me", ah.Me)
	authGroup.Delete("/logout", ah.Logout)

	var recon *reconsvc.Service
	if db != nil && rdb != nil {
		locks := keylock.NewRegistry()
		recon = reconsvc.NewService(db, lc, cfg.LedgerTimeout)

		var emailSender emailsvc.Sender
		if cfg.SendinblueAPIKey != "" {
			emailSender = &emailsvc.BrevoClient{APIKey: cfg.SendinblueAPIKey, MailFrom: cfg.MailFrom}
		}

		// Users
		us := &usersvc.Service{DB: db, Rdb: rdb, Emails: emailSender}
		uh := &userhandler.Handlers{Service: us, Config: sessionCfg}
		// create-user is public registration
		app.Post("/api/v1/users/create-user", uh.CreateUser)
		ug := app.Group("/api/v1/users", middleware.RequireAuth())
		ug.Put("/update-user", uh.UpdateUser)
		ug.Get("/view-user", uh.ViewUser)
		ug.Patch("/update-role", middleware.AuthorizePermission(constants.ManageUsers), uh.UpdateRole)
		ug.Patch("/set-eligibility", middleware.AuthorizePermission(constants.ManageUsers), uh.SetEligibility)

		// Assets (registration + IPFS document pinning)
		as := &assetsvc.Service{DB: db, Ledger: lc}
		pinata := &uploadsvc.PinataClient{BaseURL: cfg.PinataBaseURL, JWT: cfg.PinataJWT}
		ups := &uploadsvc.Service{Client: pinata, GatewayURL: cfg.IPFSGatewayURL}
		asseth := &assethandler.Handlers{Service: as, Pinner: ups}
		ag := app.Group("/api/v1/assets", middleware.RequireAuth())
		ag.Post("/register-asset", middleware.AuthorizePermission(constants.RegisterAsset), asseth.RegisterAsset)
		ag.Get("/view-asset/:id", middleware.AuthorizePermission(constants.ViewData), asseth.ViewAsset)
		ag.Get("/view-owner-assets", middleware.AuthorizePermission(constants.ViewData), asseth.ViewOwnerAssets)
		ag.Post("/pin-document", middleware.AuthorizePermission(constants.PinDocument), asseth.PinDocument)

		// Pools
		ps := &poolsvc.Service{
			DB:      db,
			Ledger:  lc,
			Assets:  as,
			Recon:   recon,
			Locks:   locks,
			Rdb:     rdb,
			Timeout: cfg.LedgerTimeout,
		}
		poolh := &poolhandler.Handlers{Service: ps}
		pg := app.Group("/api/v1/pools", middleware.RequireAuth())
		pg.Post("/create-pool", middleware.AuthorizePermission(constants.CreatePool), poolh.CreatePool)
		pg.Get("/view-pool/:id", middleware.AuthorizePermission(constants.ViewData), poolh.ViewPool)
		pg.Get("/list-active", middleware.AuthorizePermission(constants.ViewData), poolh.ListActive)
		pg.Get("/pool-stats/:id", middleware.AuthorizePermission(constants.ViewData), poolh.PoolStats)
		pg.Post("/close-pool", middleware.AuthorizePermission(constants.ManagePool), poolh.ClosePool)
		pg.Post("/pause-pool", middleware.AuthorizePermission(constants.ManagePool), poolh.PausePool)
		pg.Post("/resume-pool", middleware.AuthorizePermission(constants.ManagePool), poolh.ResumePool)

		// Investments (invest/withdraw need a cleared eligibility review)
		is := &investsvc.Service{
			DB:      db,
			Ledger:  lc,
			Recon:   recon,
			Locks:   locks,
			Timeout: cfg.LedgerTimeout,
		}
		stripeWebhook.Investments = is
		investh := &investhandler.Handlers{
			Service:       is,
			StripeCreator: &investhandler.RealStripeCreator{SecretKey: cfg.StripeSecretKey},
		}
		ig := app.Group("/api/v1/investments", middleware.RequireAuth())
		ig.Post("/invest", middleware.AuthorizePermission(constants.Invest), middleware.RequireEligible(), investh.Invest)
		ig.Post("/withdraw", middleware.AuthorizePermission(constants.Withdraw), middleware.RequireEligible(), investh.Withdraw)
		ig.Get("/view-positions", middleware.AuthorizePermission(constants.ViewData), investh.ViewPositions)
		ig.Post("/initiate-payment", middleware.AuthorizePermission(constants.Invest), middleware.RequireEligible(), investh.InitiatePayment)

		// Dividends
		ds := &dividendsvc.Service{
			DB:      db,
			Ledger:  lc,
			Locks:   locks,
			Emails:  emailSender,
			Timeout: cfg.LedgerTimeout,
		}
		dividendh := &dividendhandler.Handlers{Service: ds}
		dg := app.Group("/api/v1/dividends", middleware.RequireAuth())
		dg.Post("/distribute", middleware.AuthorizePermission(constants.DistributeDividends), dividendh.Distribute)
		dg.Post("/retry", middleware.AuthorizePermission(constants.DistributeDividends), dividendh.Retry)
		dg.Get("/list/:poolId", middleware.AuthorizePermission(constants.ViewData), dividendh.List)

		// ROI projections
		rs := &roisvc.Service{DB: db, Ledger: lc, Rdb: rdb, Timeout: cfg.LedgerTimeout}
		roih := &roihandler.Handlers{Service: rs}
		rg := app.Group("/api/v1/roi", middleware.RequireAuth())
		rg.Get("/projected", middleware.AuthorizePermission(constants.ViewData), roih.Projected)

		// Activity feed
		txs := &txsvc.Service{DB: db}
		txh := &txhandler.Handlers{Service: txs}
		txg := app.Group("/api/v1/transactions", middleware.RequireAuth())
		txg.Get("/get-transactions", middleware.AuthorizePermission(constants.ViewData), txh.GetTransactions)
	}

	return app, db, rdb, recon, nil
}

func Handler(app *fiber.App) http.Handler {
	return adaptor.FiberApp(app)
}
