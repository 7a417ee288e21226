package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presenca/internal/attendance"
	"presenca/internal/config"
	"presenca/internal/faceclient"
	"presenca/internal/queue"
	"presenca/internal/roster"
	"presenca/internal/session"
	"presenca/internal/store"
)

// Worker closes expired sessions on a ticker and replays buffered
// pre-captures into sessions as they open.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

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
	faces := faceclient.New(cfg.FaceServiceURL, cfg.FaceAPIKey, cfg.FaceSkip)
	pre := attendance.NewRedisPreStore(redisClient.Client, "presenca:pre", 12*time.Hour)
	att := attendance.NewService(records, sessions, rosterRepo, faces, pre)

	if !cfg.FaceSkip {
		if err := faces.Health(ctx); err != nil {
			log.Printf("WARNING: face service not available: %v", err)
		} else {
			log.Println("face service connected")
		}
	}

	go autoClose(ctx, sessions, cfg.AutoCloseEvery)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.MsgSessionOpened {
			continue
		}

		sessionID := string(msg.Body)
		created, err := att.ReplayPreCaptures(ctx, sessionID)
		if err != nil {
			log.Printf("replay for session %s failed: %v", sessionID, err)
			continue
		}
		if created > 0 {
			log.Printf("session %s: %d pre-captures replayed", sessionID, created)
		}
	}

	log.Println("worker stopped")
}

// autoClose periodically closes active sessions past their end time.
func autoClose(ctx context.Context, sessions *session.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.CloseExpired(ctx)
			if err != nil {
				log.Printf("auto-close failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("%d sessions closed automatically", n)
			}
		}
	}
}
