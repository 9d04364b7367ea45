// cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/auth"
	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/logger"
)

var seedFiles = []string{
	"seed/seasons.sql",
	"seed/teams.sql",
}

func main() {
	tokenFor := flag.String("token", "", "print a super_admin token for this subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zlog, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zlog.Sync()

	if *tokenFor != "" {
		token, err := auth.NewAuthenticator(cfg.Auth).Issue(*tokenFor, auth.RoleSuperAdmin, *tokenTTL)
		if err != nil {
			zlog.Fatal("failed to issue token", zap.Error(err))
		}
		fmt.Println(token)
		return
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		zlog.Fatal("database unavailable", zap.Error(err))
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		zlog.Fatal("migration failed", zap.Error(err))
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			zlog.Fatal("failed to read seed file", zap.String("file", file), zap.Error(err))
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			zlog.Fatal("failed to execute seed file", zap.String("file", file), zap.Error(err))
		}
		zlog.Info("seeded", zap.String("file", file))
	}

	zlog.Info("database seeding completed")
}
