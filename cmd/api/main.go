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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"miqaatsync/internal/auth"
	"miqaatsync/internal/authstore"
	"miqaatsync/internal/config"
	"miqaatsync/internal/httpmiddleware"
	"miqaatsync/internal/model"
	"miqaatsync/internal/store"
)

var attendanceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "miqaatsync_attendance_writes_total",
	Help: "Attendance write attempts by outcome.",
}, []string{"outcome"})

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := authstore.NewRepository(db.Client)
	if err := repo.Migrate(context.Background()); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	memberCache := store.NewMemberCache(redisClient.Client, cfg.MemberCacheTTL)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/operators/login", func(c *gin.Context) {
		var req struct {
			OperatorID string `json:"operator_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role, err := repo.Operator(c.Request.Context(), req.OperatorID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if role == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown operator"})
			return
		}
		token, err := auth.Issue(req.OperatorID, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": token.Value,
			"expires_at":   token.ExpiresAt.Unix(),
			"role":         role,
		})
	})

	authGroup := r.Group("/v1", auth.OperatorAuth(cfg.JWTSigningKey, cfg.JWTIssuer, "marker"))

	authGroup.GET("/miqaats/:id", func(c *gin.Context) {
		m, err := repo.Miqaat(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if m == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "miqaat not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"miqaat": m})
	})

	authGroup.GET("/miqaats/:id/members", func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		if members := memberCache.Get(ctx, id); members != nil {
			c.JSON(http.StatusOK, gin.H{"members": members, "cached": true})
			return
		}

		m, err := repo.Miqaat(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if m == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "miqaat not found"})
			return
		}
		members, err := repo.EligibleMembers(ctx, m)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		memberCache.Put(ctx, id, members)
		c.JSON(http.StatusOK, gin.H{"members": members})
	})

	authGroup.GET("/members/:ident", func(c *gin.Context) {
		mem, err := repo.LookupMember(c.Request.Context(), c.Param("ident"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if mem == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"member": mem})
	})

	authGroup.POST("/miqaats/:id/attendance", func(c *gin.Context) {
		var req struct {
			Token string                `json:"token" binding:"required"`
			Entry model.AttendanceEntry `json:"entry" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Entry.MemberITS == "" || req.Entry.SessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "member_its and session_id required"})
			return
		}

		ctx := c.Request.Context()
		id := c.Param("id")
		ok, err := repo.SessionExists(ctx, id, req.Entry.SessionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown session for miqaat"})
			return
		}

		inserted, err := repo.InsertAttendanceIfAbsent(ctx, id, req.Token, req.Entry)
		if err != nil {
			attendanceWrites.WithLabelValues("error").Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !inserted {
			attendanceWrites.WithLabelValues("conflict").Inc()
			c.JSON(http.StatusConflict, gin.H{"error": "entry already exists for member and session"})
			return
		}
		attendanceWrites.WithLabelValues("inserted").Inc()
		c.JSON(http.StatusCreated, gin.H{
			"member_its": req.Entry.MemberITS,
			"session_id": req.Entry.SessionID,
			"status":     req.Entry.Status,
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
