/**
 * cmd/server/main.go
 * 服务器入口文件
 *
 * 功能：
 * - Gin 服务器初始化和配置
 * - 依赖装配（PostgreSQL、Redis、邮件、第三方登录、R2）
 * - 启动时初始化数据（角色与超级管理员）
 * - 定时任务（账户日志清理）
 * - 优雅关闭（HTTP、后台邮件与头像任务、Redis、数据库）
 */

package main

import (
	"context"
	"fmt"
	"hiblogs-account/internal/utils"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hiblogs-account/internal/cache"
	"hiblogs-account/internal/config"
	"hiblogs-account/internal/handlers"
	"hiblogs-account/internal/middleware"
	"hiblogs-account/internal/models"
	"hiblogs-account/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// ====================  常量定义 ====================

const (
	// 服务器超时配置
	serverReadTimeout  = 15 * time.Second
	serverWriteTimeout = 30 * time.Second
	serverIdleTimeout  = 60 * time.Second

	// 优雅关闭超时
	shutdownTimeout = 10 * time.Second

	// 缓存配置
	userCacheMaxSize = 1000
	userCacheTTL     = 15 * time.Minute

	// 定时任务间隔
	accountLogCleanupInterval = 24 * time.Hour
	accountLogCleanupTimeout  = time.Minute

	// 初始化数据超时
	seedTimeout = 30 * time.Second

	// 超级管理员
	seedAdminName  = "Administrator"
	seedAdminEmail = "Administrator@haojima.net"
)

// ====================  主函数 ====================

func main() {
	utils.LogPrintf("[SERVER] Starting hiblogs account server...")

	if err := run(); err != nil {
		utils.LogFatalf("[SERVER] FATAL: Server failed: %v", err)
	}
}

// run 运行服务器的主逻辑
func run() error {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	// 2. 设置 Gin 模式
	setupGinMode(cfg.IsProduction)

	// 3. 初始化数据库
	if err := models.InitDB(cfg); err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	defer models.CloseDB()

	// 4. 初始化服务
	svcs, err := initServices(cfg)
	if err != nil {
		return fmt.Errorf("services init failed: %w", err)
	}
	defer func() { _ = svcs.redis.Close() }()

	// 5. 初始化数据
	if cfg.SeedOnStart {
		seedData(svcs.identity, seedInput(cfg))
	}

	// 6. 初始化 Handlers
	hdlrs, err := initHandlers(cfg, svcs)
	if err != nil {
		return fmt.Errorf("handlers init failed: %w", err)
	}

	// 7. 启动后台任务
	stopTasks := startBackgroundTasks(svcs)
	defer stopTasks()

	// 8. 创建并配置路由
	router := setupRouter(cfg, hdlrs, svcs)

	// 9. 启动服务器
	srv := createServer(cfg.Port, router)
	startServer(srv)

	// 10. 等待关闭信号并优雅关闭
	gracefulShutdown(srv, svcs)
	return nil
}

// setupGinMode 设置 Gin 运行模式
func setupGinMode(isProduction bool) {
	if isProduction {
		gin.SetMode(gin.ReleaseMode)
		utils.LogPrintf("[GIN] Running in release mode")
	} else {
		gin.SetMode(gin.DebugMode)
		utils.LogPrintf("[GIN] Running in debug mode")
	}
}

// ====================  服务容器 ====================

// Services 服务容器，持有所有服务实例
type Services struct {
	redis        *redis.Client
	userRepo     *models.UserRepository
	accountLogs  *models.AccountLogRepository
	roles        *models.RoleRepository
	userCache    *cache.UserCache
	sessions     *services.SessionService
	identity     *services.IdentityService
	registration *services.RegistrationService
	oauth        *services.OAuthService
	avatars      *services.AvatarService
}

// initServices 初始化所有服务
func initServices(cfg *config.Config) (*Services, error) {
	utils.LogPrintf("[SERVICES] Initializing services...")

	ctx := context.Background()
	svcs := &Services{}

	rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	svcs.redis = rdb

	svcs.userRepo = models.NewUserRepository()
	svcs.accountLogs = models.NewAccountLogRepository()
	svcs.roles = models.NewRoleRepository()

	svcs.userCache, err = cache.NewUserCache(userCacheMaxSize, userCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create user cache: %w", err)
	}
	utils.LogPrintf("[SERVICES] UserCache initialized: maxSize=%d, ttl=%v", userCacheMaxSize, userCacheTTL)

	svcs.sessions, err = services.NewSessionService(cfg.JWTSecret, cfg.JWTExpiresIn, cfg.SessionExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("failed to create session service: %w", err)
	}

	svcs.identity = services.NewIdentityService(
		svcs.userRepo,
		svcs.roles,
		svcs.accountLogs,
		svcs.sessions,
		svcs.userCache,
	)

	cipher, err := services.NewRegistrationCipher(cfg.ActivationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create registration cipher: %w", err)
	}

	// 邮件服务（非关键服务，失败时只记录激活链接）
	var notifier services.Notifier
	emailService, err := services.NewEmailService(cfg)
	if err != nil {
		utils.LogPrintf("[SERVICES] WARN: Email service unavailable, activation links will only be logged: %v", err)
	} else {
		notifier = emailService
	}

	svcs.registration = services.NewRegistrationService(
		cipher,
		cache.NewRegistrationStore(rdb, cfg.ActivationTTL),
		svcs.identity,
		notifier,
		services.RegistrationOptions{
			PendingTTL:  cfg.ActivationTTL,
			MaxAttempts: int64(cfg.RegisterMaxTries),
		},
	)

	// 头像转存（R2 未配置时为 nil）
	svcs.avatars, err = services.NewAvatarService(ctx, cfg, svcs.userRepo, svcs.userCache)
	if err != nil {
		utils.LogPrintf("[SERVICES] WARN: Avatar service unavailable: %v", err)
		svcs.avatars = nil
	}
	var mirror services.AvatarMirror
	if svcs.avatars != nil {
		mirror = svcs.avatars
	}

	svcs.oauth = services.NewOAuthService(
		cache.NewOAuthStateStore(rdb, services.OAuthStateTTL),
		svcs.identity,
		mirror,
		services.ProvidersFromConfig(cfg)...,
	)
	utils.LogPrintf("[SERVICES] OAuth providers: qq=%v, sina=%v",
		svcs.oauth.Configured(services.ProviderQQ), svcs.oauth.Configured(services.ProviderSina))

	utils.LogPrintf("[SERVICES] All services initialized successfully")
	return svcs, nil
}

// seedInput InitData 使用的超级管理员信息
func seedInput(cfg *config.Config) services.SeedInput {
	return services.SeedInput{
		UserName: seedAdminName,
		Email:    seedAdminEmail,
		Nickname: seedAdminName,
		Password: cfg.AdminInitialPassword,
	}
}

// seedData 启动时执行 InitData，失败不阻止启动
func seedData(identity *services.IdentityService, in services.SeedInput) {
	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	seeded, err := identity.Seed(ctx, in)
	if err != nil {
		utils.LogPrintf("[SEED] ERROR: InitData failed: %v", err)
		return
	}
	if seeded {
		utils.LogPrintf("[SEED] Built-in roles and administrator created")
	}
}

// ====================  Handler 容器 ====================

// Handlers Handler 容器，持有所有 Handler 实例
type Handlers struct {
	account *handlers.AccountHandler
	oauth   *handlers.OAuthHandler
	health  *handlers.HealthHandler
}

// initHandlers 初始化所有 Handlers
func initHandlers(cfg *config.Config, svcs *Services) (*Handlers, error) {
	utils.LogPrintf("[HANDLERS] Initializing handlers...")

	hdlrs := &Handlers{}
	var err error

	hdlrs.account, err = handlers.NewAccountHandler(svcs.identity, svcs.registration, svcs.accountLogs,
		handlers.AccountHandlerOptions{
			BaseURL:      cfg.BaseURL,
			Seed:         seedInput(cfg),
			SecureCookie: cfg.IsProduction,
			Roles:        svcs.roles,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create account handler: %w", err)
	}

	hdlrs.oauth, err = handlers.NewOAuthHandler(svcs.oauth, cfg.IsProduction)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth handler: %w", err)
	}

	rdb := svcs.redis
	hdlrs.health = handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"database": models.HealthCheck,
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}, svcs.userCache).WithPoolStats(models.Stats)

	utils.LogPrintf("[HANDLERS] All handlers initialized successfully")
	return hdlrs, nil
}

// ====================  后台任务 ====================

// startBackgroundTasks 启动后台任务，返回停止函数
func startBackgroundTasks(svcs *Services) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go runAccountLogCleanup(ctx, svcs.accountLogs)
	utils.LogPrintf("[TASKS] Account log cleanup task started: interval=%v", accountLogCleanupInterval)

	return cancel
}

// runAccountLogCleanup 定期删除过期账户日志
func runAccountLogCleanup(ctx context.Context, logs *models.AccountLogRepository) {
	ticker := time.NewTicker(accountLogCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						utils.LogPrintf("[TASKS] ERROR: Account log cleanup panic recovered: %v", r)
					}
				}()

				runCtx, cancel := context.WithTimeout(ctx, accountLogCleanupTimeout)
				defer cancel()

				if _, err := logs.DeleteExpired(runCtx); err != nil {
					utils.LogPrintf("[TASKS] ERROR: Account log cleanup failed: %v", err)
				}
			}()
		}
	}
}

// ====================  路由配置 ====================

// setupRouter 创建并配置路由
func setupRouter(cfg *config.Config, hdlrs *Handlers, svcs *Services) *gin.Engine {
	utils.LogPrintf("[ROUTER] Setting up routes...")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggerMiddleware())
	r.Use(middleware.CORS(cfg.AllowOrigins))
	r.Use(middleware.SecurityHeaders())

	r.GET("/health", hdlrs.health.GetHealth)

	// 邮件中的激活链接
	r.GET(services.ActivationPath, middleware.RateLimitMiddleware(middleware.NewActivateLimiter()), hdlrs.account.Activation)

	setupAccountAPI(r, hdlrs, svcs)

	utils.LogPrintf("[ROUTER] Routes configured successfully")
	return r
}

// setupAccountAPI 配置账户 API
func setupAccountAPI(r *gin.Engine, hdlrs *Handlers, svcs *Services) {
	activateLimit := middleware.RateLimitMiddleware(middleware.NewActivateLimiter())
	oauthLimit := middleware.RateLimitMiddleware(middleware.NewOAuthLimiter())

	api := r.Group("/api/account")
	{
		api.POST("/login", middleware.RateLimitMiddleware(middleware.NewLoginLimiter()), hdlrs.account.Login)
		api.POST("/register", middleware.RateLimitMiddleware(middleware.NewRegisterLimiter()), hdlrs.account.Register)
		api.POST("/check-user-info", activateLimit, hdlrs.account.CheckUserInfo)
		api.POST("/logoff", middleware.OptionalAuthMiddleware(svcs.sessions), hdlrs.account.LogOff)
		api.POST("/init-data", hdlrs.account.InitData)
		api.GET("/me", middleware.AuthMiddleware(svcs.sessions), hdlrs.account.Me)

		api.GET("/oauth/qq/url", oauthLimit, hdlrs.oauth.GetOAuthQQUrl)
		api.GET("/oauth/sina/url", oauthLimit, hdlrs.oauth.GetOAuthSinaUrl)
		api.GET("/oauth/callback", oauthLimit, hdlrs.oauth.GetOAuthUser)
	}
}

// ====================  服务器管理 ====================

// createServer 创建 HTTP 服务器
func createServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}
}

// startServer 启动服务器（非阻塞）
func startServer(srv *http.Server) {
	go func() {
		utils.LogPrintf("[SERVER] Starting HTTP server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.LogFatalf("[SERVER] FATAL: HTTP server failed: %v", err)
		}
	}()
}

// ====================  中间件 ====================

// loggerMiddleware 日志中间件
// 记录 HTTP 请求的方法、路径、状态码和延迟，激活链接的查询串不记录
func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if strings.HasPrefix(path, "/health") {
			return
		}

		latency := time.Since(start)
		status := c.Writer.Status()

		switch {
		case status >= 500:
			utils.LogPrintf("[HTTP] ERROR: %s %s %d %v", c.Request.Method, path, status, latency)
		case status >= 400:
			utils.LogPrintf("[HTTP] WARN: %s %s %d %v", c.Request.Method, path, status, latency)
		default:
			utils.LogPrintf("[HTTP] %s %s %d %v", c.Request.Method, path, status, latency)
		}
	}
}

// ====================  优雅关闭 ====================

// gracefulShutdown 优雅关闭服务器
// 按顺序关闭：HTTP -> 后台邮件与头像任务，Redis 与数据库由 run 的 defer 关闭
func gracefulShutdown(srv *http.Server, svcs *Services) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	utils.LogPrintf("[SERVER] Received %s signal, initiating graceful shutdown...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	utils.LogPrintf("[SERVER] Shutting down HTTP server...")
	if err := srv.Shutdown(ctx); err != nil {
		utils.LogPrintf("[SERVER] ERROR: HTTP server shutdown failed: %v", err)
	} else {
		utils.LogPrintf("[SERVER] HTTP server stopped")
	}

	// 等待已派发的激活邮件与头像转存
	done := make(chan struct{})
	go func() {
		svcs.registration.Wait()
		svcs.avatars.Wait()
		close(done)
	}()
	select {
	case <-done:
		utils.LogPrintf("[SERVER] Background tasks finished")
	case <-ctx.Done():
		utils.LogPrintf("[SERVER] WARN: Background tasks still running at shutdown deadline")
	}

	utils.SyncLogger()
	utils.LogPrintf("[SERVER] Graceful shutdown completed")
}
