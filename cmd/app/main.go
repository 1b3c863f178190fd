package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"shorturl-go/internal/handler"
	"shorturl-go/internal/i18n"
	"shorturl-go/internal/middleware"
	"shorturl-go/internal/notifier"
	"shorturl-go/internal/repository"
	"shorturl-go/internal/service"
	"shorturl-go/internal/shortener"
	"shorturl-go/pkg/logging"
)

func initConfig() {
	wd, _ := os.Getwd()
	log.Printf("Loading config from: %s/config.yaml", wd)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}
}

func startServer(r *gin.Engine, hub *notifier.Hub, cronRunner *cron.Cron) {
	addr := viper.GetString("server.addr")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// 启动服务器
	go func() {
		logging.Logger.Info("Server is running on " + addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 等待中断信号以优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	cronRunner.Stop()
	hub.Stop()

	logging.Logger.Info("Server exiting")
}

func main() {

	initConfig()
	logging.InitLoggerFromConfig()

	logging.Logger.Info("Application started")

	db, err := repository.NewDB(logging.Logger, logging.AtomicLevel)
	if err != nil {
		logging.Logger.Fatal("Failed to init database", zap.Error(err))
	}

	pool := repository.NewRedisPool()

	// 初始化 i18n（加载 TOML 文件）
	bundle, err := i18n.InitI18n([]string{
		"./i18n/en.toml",
		"./i18n/zh.toml",
	}, "en")
	if err != nil {
		panic(err)
	}

	gen := shortener.NewGenerator(viper.GetInt("shorturl.length"))
	repo := repository.NewShortURLRepository(db, gen)

	svcCfg := service.Config{
		Base:            viper.GetString("shorturl.base"),
		Fallback:        viper.GetString("shorturl.fallback"),
		ValidateTimeout: time.Duration(viper.GetInt("shorturl.validate_timeout")) * time.Second,
	}
	svc := service.NewShortURLService(repo, pool, svcCfg, logging.Logger)
	stats := service.NewStatsService(db, repo, pool, logging.Logger)

	hub := notifier.NewHub(svcCfg.Base, logging.Logger)
	hub.Run(repo.Events())

	// 启动时跑一次批量导入，文件不存在则直接跳过
	importer := service.NewImportService(repo, logging.Logger,
		viper.GetString("import.file"),
		viper.GetString("import.log_file"))
	if err := importer.Run(); err != nil {
		logging.Logger.Fatal("Startup import failed", zap.Error(err))
	}

	h := handler.NewShortURLHandler(svc, stats, hub, logging.Logger)

	r := gin.New()
	r.Use(gin.Recovery())

	// 注册全局错误中间件
	r.Use(middleware.GlobalErrorMiddleware())
	r.Use(middleware.ZapGinLogger(logging.Logger))
	r.Use(middleware.CorsMiddleware())
	r.Use(middleware.I18nMiddleware(bundle))

	r.POST("/Add", h.Add)
	r.PATCH("/Update", h.Update)
	r.GET("/List", h.List)
	r.GET("/ById/:id", h.ByID)
	r.GET("/Validate/:alias", h.Validate)
	r.GET("/Stats/:id", h.Stats)
	r.DELETE("/ByShortUrl/:alias", h.DeleteByAlias)
	r.DELETE("/ById/:id", h.DeleteByID)

	hubPath := viper.GetString("hub.path")
	if hubPath == "" {
		hubPath = "/MessageHub"
	}
	r.GET(hubPath, h.ServeWS)

	// 其余 GET 一律按别名跳转
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Status(http.StatusNotFound)
			return
		}
		h.Redirect(c)
	})

	cronRunner := cron.New()

	// 每十分钟把 Redis 统计沉淀到库表
	_, addErr := cronRunner.AddFunc("*/10 * * * *", func() {
		if err := stats.Flush(); err != nil {
			logging.Logger.Error("Failed to flush stats via cron job", zap.Error(err))
		}
	})
	if addErr != nil {
		logging.Logger.Fatal("Failed to schedule cron job", zap.Error(addErr))
	}

	cronRunner.Start()

	startServer(r, hub, cronRunner)
}
