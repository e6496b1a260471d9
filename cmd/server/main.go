package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gymkiosk/internal/attendance"
	"gymkiosk/internal/auth"
	"gymkiosk/internal/config"
	"gymkiosk/internal/faceclient"
	"gymkiosk/internal/handler"
	"gymkiosk/internal/httpmiddleware"
	"gymkiosk/internal/identity"
	"gymkiosk/internal/member"
	"gymkiosk/internal/notifier"
	"gymkiosk/internal/photos"
	"gymkiosk/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run(cfg config.App) error {
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}

	ph, err := photos.New(cfg.PhotoDir)
	if err != nil {
		return err
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if cfg.FaceSkip {
		log.Println("WARNING: FACE_SKIP set, every capture matches the first member")
	} else if err := face.Health(context.Background()); err != nil {
		log.Printf("WARNING: face service not available: %v", err)
	} else {
		log.Printf("face service connected: %s", cfg.FaceServiceURL)
	}

	settings := config.NewSettingsFile(filepath.Join(cfg.DataDir, "config.json"))
	mail := notifier.New(settings, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPTimeout)

	members := member.NewService(st, ph, mail, settings)
	ledger := attendance.NewLedger(st)
	resolver := identity.NewResolver(identity.NewVerifier(face, cfg.MatchThreshold), cfg.MatchThreshold)

	h := handler.New(cfg, st, ph, members, ledger, resolver, settings, face)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/api/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig()))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Routes(r, auth.StaffAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // identity scans grow with member count
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("kiosk server starting on :%s (data dir %s)", cfg.HTTPPort, cfg.DataDir)
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

// corsConfig allows any kiosk frontend origin. Staff auth travels in the
// Authorization header; browser credentials are never used.
func corsConfig() cors.Config {
	return cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
