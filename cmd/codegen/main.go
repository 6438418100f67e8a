package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nosift/team-dh/internal/app"
	"github.com/nosift/team-dh/internal/database"
	"github.com/nosift/team-dh/internal/services"
)

// codegen mints redemption codes offline and prints them as CSV, which is
// handy for preparing a drop before the server ever goes live.
func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("team-dh-codegen", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var (
		configPath string
		teamName   string
		count      int
		maxUses    int
		prefix     string
		notes      string
		expiresIn  time.Duration
		output     string
	)
	fs.StringVar(&configPath, "config", "", "Path to configuration directory")
	fs.StringVar(&teamName, "team", "", "Team the codes are bound to (required)")
	fs.IntVar(&count, "count", 1, "Number of codes to generate")
	fs.IntVar(&maxUses, "max-uses", 1, "Redemptions allowed per code")
	fs.StringVar(&prefix, "prefix", "", "Optional code prefix")
	fs.StringVar(&notes, "notes", "", "Optional operator note stored with each code")
	fs.DurationVar(&expiresIn, "expires-in", 0, "Optional validity window, e.g. 720h (0 means no expiry)")
	fs.StringVar(&output, "out", "", "Write CSV to this file instead of stdout")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(teamName) == "" {
		return errors.New("-team is required")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := database.Open(database.Config{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	}()

	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("auto-migrate database: %w", err)
	}

	codes, err := services.NewCodeService(db)
	if err != nil {
		return err
	}

	params := services.CreateBatchParams{
		TeamName: teamName,
		Count:    count,
		MaxUses:  maxUses,
		Prefix:   prefix,
		Notes:    notes,
	}
	if expiresIn > 0 {
		expiry := time.Now().Add(expiresIn)
		params.ExpiresAt = &expiry
	}

	created, err := codes.CreateBatch(ctx, params)
	if err != nil {
		return fmt.Errorf("generate codes: %w", err)
	}

	dest := os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		dest = f
	}

	w := csv.NewWriter(dest)
	if err := w.Write([]string{"code", "team", "max_uses", "expires_at"}); err != nil {
		return err
	}
	for _, code := range created {
		expires := ""
		if code.ExpiresAt != nil {
			expires = code.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if err := w.Write([]string{code.Code, code.TeamName, fmt.Sprintf("%d", code.MaxUses), expires}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "generated %d codes for %s\n", len(created), teamName)
	return nil
}

func loadConfig(path string) (*app.Config, error) {
	if strings.TrimSpace(path) == "" {
		return app.LoadConfig()
	}
	return app.LoadConfig(path)
}
