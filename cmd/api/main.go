package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presenca/internal/apperr"
	"presenca/internal/attendance"
	"presenca/internal/auth"
	"presenca/internal/config"
	"presenca/internal/faceclient"
	"presenca/internal/httpmiddleware"
	"presenca/internal/media"
	"presenca/internal/queue"
	"presenca/internal/report"
	"presenca/internal/roster"
	"presenca/internal/session"
	"presenca/internal/store"
	"presenca/internal/totem"
)

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
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presenca:replay")
	}

	sessions := session.NewService(session.NewRepository(db.Client))
	records := attendance.NewRepository(db.Client)
	rosterRepo := roster.NewRepository(db.Client)
	totems := totem.NewRepository(db.Client)
	faces := faceclient.New(cfg.FaceServiceURL, cfg.FaceAPIKey, cfg.FaceSkip)
	pre := attendance.NewRedisPreStore(redisClient.Client, "presenca:pre", 12*time.Hour)
	att := attendance.NewService(records, sessions, rosterRepo, faces, pre)
	reports := report.NewAggregator(sessions, records, rosterRepo)

	// Media client (nil when not configured)
	var mediaClient *media.Client
	if cfg.MediaCloudName != "" && cfg.MediaAPIKey != "" && cfg.MediaAPISecret != "" {
		mediaClient = media.New(cfg.MediaCloudName, cfg.MediaAPIKey, cfg.MediaAPISecret, cfg.MediaFolder)
		log.Println("media storage configured:", cfg.MediaCloudName)
	} else {
		log.Println("media storage not configured (MEDIA_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/totems/register", func(c *gin.Context) {
		var req struct {
			TotemID string `json:"totem_id" binding:"required"`
			RoomID  string `json:"room_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := totems.Upsert(c.Request.Context(), req.TotemID, req.RoomID); err != nil {
			httpError(c, err)
			return
		}

		tokens, err := auth.Issue(req.TotemID, req.RoomID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = totems.SaveRefreshToken(c.Request.Context(), req.TotemID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/totems/refresh", func(c *gin.Context) {
		var req struct {
			TotemID      string `json:"totem_id" binding:"required"`
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims, err := auth.Parse(req.RefreshToken, cfg.JWTSigningKey, cfg.JWTIssuer)
		if err != nil || claims.Subject != req.TotemID {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		registered, err := totems.Get(c.Request.Context(), req.TotemID)
		if err != nil {
			httpError(c, err)
			return
		}

		tokens, err := auth.Issue(registered.ID, registered.RoomID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		_ = totems.RevokeRefreshToken(c.Request.Context(), req.RefreshToken)
		_ = totems.SaveRefreshToken(c.Request.Context(), registered.ID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	// Totem routes: upload a capture frame, then submit the capture.
	totemGroup := r.Group("/v1", auth.TotemAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	totemGroup.POST("/captures/upload", func(c *gin.Context) {
		if mediaClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "media storage not configured"})
			return
		}

		var result *media.UploadResult
		var err error
		switch {
		case strings.Contains(c.ContentType(), "multipart/form-data"):
			file, header, ferr := c.Request.FormFile("file")
			if ferr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
				return
			}
			defer file.Close()
			data, ferr := io.ReadAll(file)
			if ferr != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
				return
			}
			result, err = mediaClient.UploadFrameBytes(data, header.Filename)
		default:
			var body struct {
				Data string `json:"data" binding:"required"`
			}
			if berr := c.ShouldBindJSON(&body); berr != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
				return
			}
			result, err = mediaClient.UploadFrame(body.Data)
		}
		if err != nil {
			log.Printf("capture upload failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "capture upload failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"url": result.SecureURL, "public_id": result.PublicID, "bytes": result.Bytes})
	})

	totemGroup.POST("/captures", func(c *gin.Context) {
		var req struct {
			TotemID  string `json:"totem_id" binding:"required"`
			ImageURL string `json:"image_url" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claimsAny, _ := c.Get("claims")
		claims, _ := claimsAny.(auth.Claims)
		if claims.Subject != "" && claims.Subject != req.TotemID {
			c.JSON(http.StatusForbidden, gin.H{"error": "totem mismatch"})
			return
		}

		result, err := att.CreateFacial(c.Request.Context(), attendance.Capture{
			RoomID:   claims.RoomID,
			TotemID:  req.TotemID,
			ImageURL: req.ImageURL,
		})
		if err != nil {
			httpError(c, err)
			return
		}
		if result.Buffered {
			c.JSON(http.StatusAccepted, result)
			return
		}
		c.JSON(http.StatusCreated, result)
	})

	// Staff routes. Role checks happen upstream; the engine trusts the
	// X-User-ID attribution header set by the gateway.
	v1 := r.Group("/v1")

	v1.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Name        string     `json:"name" binding:"required"`
			ClassID     string     `json:"class_id" binding:"required"`
			RoomID      string     `json:"room_id" binding:"required"`
			TeacherID   string     `json:"teacher_id" binding:"required"`
			SubjectCode string     `json:"subject_code" binding:"required"`
			Date        *time.Time `json:"date"`
			EndsAt      time.Time  `json:"ends_at" binding:"required"`
			Notes       string     `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		in := session.CreateInput{
			Name:        req.Name,
			ClassID:     req.ClassID,
			RoomID:      req.RoomID,
			TeacherID:   req.TeacherID,
			SubjectCode: req.SubjectCode,
			EndsAt:      req.EndsAt,
			Notes:       req.Notes,
		}
		if req.Date != nil {
			in.Date = *req.Date
		}

		sess, err := sessions.Create(c.Request.Context(), in)
		if err != nil {
			httpError(c, err)
			return
		}

		// Buffered captures for this room become records once the worker
		// picks this up.
		if err := q.Publish(c.Request.Context(), queue.Message{Type: queue.MsgSessionOpened, Body: []byte(sess.ID)}); err != nil {
			log.Printf("queue publish failed: %v", err)
		}

		c.JSON(http.StatusCreated, sess)
	})

	v1.GET("/sessions", func(c *gin.Context) {
		list, err := sessions.List(c.Request.Context(), c.Query("class_id"))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	})

	v1.GET("/sessions/:id", func(c *gin.Context) {
		sess, err := sessions.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	v1.PATCH("/sessions/:id", func(c *gin.Context) {
		var patch session.Patch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := sessions.Update(c.Request.Context(), c.Param("id"), patch)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	v1.POST("/sessions/:id/close", func(c *gin.Context) {
		sess, err := sessions.Close(c.Request.Context(), c.Param("id"))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	v1.DELETE("/sessions/:id", func(c *gin.Context) {
		if err := sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
			httpError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	v1.POST("/sessions/:id/reset", func(c *gin.Context) {
		n, err := att.ResetSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": n})
	})

	v1.POST("/sessions/:id/attendance", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			Status    string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sessionID := c.Param("id")
		recordedBy := c.GetHeader("X-User-ID")

		switch attendance.Status(req.Status) {
		case attendance.StatusPresent:
			rec, err := att.MarkPresent(c.Request.Context(), req.StudentID, sessionID, recordedBy)
			if err != nil {
				httpError(c, err)
				return
			}
			c.JSON(http.StatusCreated, rec)
		case attendance.StatusLate:
			rec, err := att.MarkLate(c.Request.Context(), req.StudentID, sessionID, recordedBy)
			if err != nil {
				httpError(c, err)
				return
			}
			c.JSON(http.StatusCreated, rec)
		case attendance.StatusAbsent:
			if err := att.MarkAbsent(c.Request.Context(), req.StudentID, sessionID); err != nil {
				httpError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be presente, atrasado or ausente"})
		}
	})

	v1.POST("/sessions/:id/attendance/bulk", func(c *gin.Context) {
		var req struct {
			StudentIDs []string `json:"student_ids" binding:"required"`
			Status     string   `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := att.BulkApply(c.Request.Context(), req.StudentIDs, c.Param("id"),
			attendance.Status(req.Status), c.GetHeader("X-User-ID"))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	v1.GET("/sessions/:id/report", func(c *gin.Context) {
		rep, err := reports.SessionReport(c.Request.Context(), c.Param("id"), report.SortKey(c.Query("sort")))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	})

	v1.POST("/students/:id/face", func(c *gin.Context) {
		var req struct {
			ImageURLs []string `json:"image_urls" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		studentID := c.Param("id")
		st, err := rosterRepo.GetStudent(c.Request.Context(), studentID)
		if err != nil {
			httpError(c, err)
			return
		}

		enc, err := faces.Encode(c.Request.Context(), req.ImageURLs)
		if err != nil {
			httpError(c, err)
			return
		}
		if err := rosterRepo.SaveFaceEmbedding(c.Request.Context(), st.ID, enc.Embedding); err != nil {
			httpError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"student_id": st.ID, "nonce": enc.Nonce})
	})

	v1.GET("/classes/:classId/subjects/:subjectCode/report", func(c *gin.Context) {
		rep, err := reports.SubjectReport(c.Request.Context(), c.Param("classId"), strings.ToUpper(c.Param("subjectCode")))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// httpError maps the domain error taxonomy onto HTTP status codes.
func httpError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrNotRecognized):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-User-ID")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
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
