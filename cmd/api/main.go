package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/yourusername/quizlive-api/internal/config"
	"github.com/yourusername/quizlive-api/internal/handler"
	"github.com/yourusername/quizlive-api/internal/middleware"
	pgRepo "github.com/yourusername/quizlive-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/quizlive-api/internal/repository/redis"
	"github.com/yourusername/quizlive-api/internal/service"
	"github.com/yourusername/quizlive-api/internal/service/sessionmanager"
	ws "github.com/yourusername/quizlive-api/internal/websocket"
	"github.com/yourusername/quizlive-api/pkg/auth"
	"github.com/yourusername/quizlive-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis с использованием унифицированной конфигурации
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	userRepo := pgRepo.NewUserRepo(db)
	quizRepo := pgRepo.NewQuizRepo(db)
	questionRepo := pgRepo.NewQuestionRepo(db)
	sessionRepo := pgRepo.NewSessionRepo(db)
	participantRepo := pgRepo.NewParticipantRepo(db)
	submissionRepo := pgRepo.NewSubmissionRepo(db)
	achievementRepo := pgRepo.NewAchievementRepo(db)
	invalidTokenRepo := pgRepo.NewInvalidTokenRepo(db)

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}

	// Контекст жизненного цикла фоновых горутин приложения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Инициализация WebSocket (PubSubProvider создается здесь) ---
	var pubSubProvider ws.PubSubProvider = &ws.NoOpPubSub{}

	// PubSubProvider нужен только при кластеризации: и для WS-хаба,
	// и для синхронизации инвалидаций JWT между инстансами
	if cfg.WebSocket.Cluster.Enabled {
		log.Println("Инициализация Redis PubSub для кластеризации WebSocket...")
		redisPubSubClient, errPubSub := database.NewUniversalRedisClient(cfg.Redis)
		if errPubSub != nil {
			log.Printf("Ошибка при инициализации Redis клиента для PubSub: %v. Кластеризация WS будет неактивна.", errPubSub)
		} else {
			redisProvider, errProv := ws.NewRedisPubSub(redisPubSubClient)
			if errProv != nil {
				log.Printf("Ошибка при создании Redis PubSub провайдера: %v. Кластеризация WS будет неактивна.", errProv)
				redisPubSubClient.Close()
			} else {
				log.Println("Redis PubSub провайдер успешно инициализирован")
				pubSubProvider = redisProvider
			}
		}
	}

	wsHub := ws.NewSessionHub(cfg.WebSocket, pubSubProvider)
	go wsHub.Run()

	wsManager := ws.NewManager(wsHub)
	// --- Конец инициализации WebSocket ---

	// Инициализируем JWTService
	jwtService, err := auth.NewJWTService(
		cfg.JWT.Secret,
		cfg.JWT.ExpirationHrs,
		cfg.JWT.WSTicketExpirySec,
		invalidTokenRepo,
		pubSubProvider,
		ctx,
	)
	if err != nil {
		log.Printf("Failed to initialize JWTService: %v", err)
		os.Exit(1)
	}

	authService, err := service.NewAuthService(userRepo, jwtService)
	if err != nil {
		log.Printf("Failed to initialize AuthService: %v", err)
		os.Exit(1)
	}

	// Почтовые уведомления о достижениях (опционально)
	var emailService service.EmailService = &service.NoopEmailService{}
	if cfg.Email.Enabled {
		resendService, errEmail := service.NewResendEmailService(cfg.Email.ResendAPIKey, cfg.Email.From)
		if errEmail != nil {
			log.Printf("Почтовые уведомления отключены: %v", errEmail)
		} else {
			emailService = resendService
		}
	}

	// Инициализируем сервисы
	achievementNotifier := service.NewFanoutAchievementNotifier(wsManager, emailService, userRepo)
	achievementService := service.NewAchievementService(db, achievementRepo, participantRepo, submissionRepo, cacheRepo, achievementNotifier)
	go achievementService.Run(ctx)

	sessionConfig := sessionmanager.DefaultConfig()
	sessionConfig.IntermissionSec = cfg.Session.IntermissionSec
	sessionConfig.AutoAdvance = cfg.Session.AutoAdvance
	sessionConfig.LockOnAllSubmitted = cfg.Session.LockOnAllSubmitted
	sessionConfig.AbandonAfter = cfg.Session.AbandonAfter()
	sessionConfig.ReaperInterval = cfg.Session.ReaperInterval()
	sessionConfig.IdempotencyTTL = cfg.Session.IdempotencyTTL()
	if cfg.Session.DefaultTimeLimitSec > 0 {
		sessionConfig.DefaultTimeLimitSec = cfg.Session.DefaultTimeLimitSec
	}
	if cfg.Session.JoinCodeLength > 0 {
		sessionConfig.JoinCodeLength = cfg.Session.JoinCodeLength
	}

	sessionManager := service.NewSessionManager(&sessionmanager.Dependencies{
		DB:              db,
		SessionRepo:     sessionRepo,
		QuizRepo:        quizRepo,
		ParticipantRepo: participantRepo,
		SubmissionRepo:  submissionRepo,
		CacheRepo:       cacheRepo,
		Broadcaster:     wsManager,
		Config:          sessionConfig,
	}, achievementService)

	quizService := service.NewQuizService(quizRepo, questionRepo)
	userService := service.NewUserService(userRepo, achievementRepo)

	// Инициализируем обработчики
	authHandler := handler.NewAuthHandler(authService)
	quizHandler := handler.NewQuizHandler(quizService)
	userHandler := handler.NewUserHandler(userService)
	sessionHandler := handler.NewSessionHandler(sessionManager)
	wsHandler := handler.NewWSHandler(wsHub, wsManager, sessionManager, jwtService)

	// Инициализируем middleware
	authMiddleware := middleware.NewAuthMiddleware(jwtService)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	isProduction := gin.Mode() == gin.ReleaseMode

	// Инициализируем роутер Gin
	router := gin.Default()

	// Настройка доверенных прокси для корректной работы c.ClientIP()
	if isProduction {
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"https://quizlive.vercel.app", "https://quizlive-host.vercel.app", "http://localhost:5173", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Настраиваем маршруты API
	api := router.Group("/api")
	{
		// Аутентификация
		authGroup := api.Group("/auth")
		authGroup.Use(rateLimiter.LimitByIP(middleware.DefaultAuthRateLimitConfig()))
		{
			strictLimit := rateLimiter.LimitByIP(middleware.StrictAuthRateLimitConfig())
			authGroup.POST("/register", strictLimit, authHandler.Register)
			authGroup.POST("/login", strictLimit, authHandler.Login)

			authedAuth := authGroup.Group("/")
			authedAuth.Use(authMiddleware.RequireAuth())
			{
				authedAuth.POST("/logout", authHandler.Logout)
				authedAuth.POST("/change-password", authHandler.ChangePassword)
				authedAuth.GET("/me", authHandler.Me)
				authedAuth.POST("/ws-ticket", authHandler.WSTicket)
			}
		}

		// Профиль пользователя
		users := api.Group("/users")
		users.Use(authMiddleware.RequireAuth())
		{
			users.GET("/me", userHandler.GetProfile)
			users.PUT("/me", userHandler.UpdateProfile)
		}

		// Наборы вопросов
		quizzes := api.Group("/quizzes")
		quizzes.Use(authMiddleware.RequireAuth())
		{
			quizzes.POST("", quizHandler.CreateQuiz)
			quizzes.GET("", quizHandler.ListQuizzes)

			quizWithID := quizzes.Group("/:id")
			quizWithID.Use(middleware.ExtractUintParam("id", "quizID"))
			{
				quizWithID.GET("", quizHandler.GetQuiz)
				quizWithID.POST("/questions", quizHandler.AddQuestions)
				quizWithID.DELETE("", quizHandler.DeleteQuiz)
			}
		}

		// Живые сессии
		sessions := api.Group("/sessions")
		{
			// Создание и список - только для аутентифицированных ведущих
			sessions.POST("", authMiddleware.RequireAuth(), sessionHandler.CreateSession)
			sessions.GET("", authMiddleware.RequireAuth(), sessionHandler.ListSessions)

			// Разрешение кода присоединения ограничено по частоте:
			// защита от перебора коротких кодов
			sessions.GET("/code/:code",
				rateLimiter.LimitByIP(middleware.JoinRateLimitConfig()),
				sessionHandler.ResolveJoinCode)

			sessionWithID := sessions.Group("/:id")
			sessionWithID.Use(middleware.ExtractUintParam("id", "sessionID"))
			{
				// Чтение снимка без побочных эффектов, доступно всем
				sessionWithID.GET("/state", sessionHandler.GetSnapshot)
				sessionWithID.GET("/results", sessionHandler.Results)
				sessionWithID.GET("/statistics", sessionHandler.Statistics)

				// Участие доступно и анонимным клиентам
				optionalAuth := sessionWithID.Group("")
				optionalAuth.Use(authMiddleware.OptionalAuth())
				{
					optionalAuth.POST("/join", sessionHandler.Join)
					optionalAuth.POST("/participants/:participantId/leave", sessionHandler.Leave)
					optionalAuth.POST("/answer", sessionHandler.SubmitAnswer)
					optionalAuth.POST("/command", sessionHandler.Command)
					optionalAuth.GET("/results/export", sessionHandler.Export)
				}
			}
		}
	}

	// WebSocket маршрут
	router.GET("/ws", wsHandler.HandleConnection)

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Server.Port)

	// Ждем сигнал остановки
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Останавливаем воркеры сессий: активные переходы дописываются в базу
	sessionManager.Shutdown()

	// Отправляем сигнал завершения всем фоновым горутинам
	cancel()

	// Закрываем PubSubProvider, если он был создан
	if pubSubProvider != nil {
		if err := pubSubProvider.Close(); err != nil {
			log.Printf("Error closing PubSub provider: %v", err)
		}
	}

	// Создаем контекст с таймаутом для graceful shutdown сервера
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited properly")
}
