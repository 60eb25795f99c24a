package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/subathon/go/internal/dbconfig"
)

// Streamer mirrors one entry of the seed file
type Streamer struct {
	ID             string `json:"id"`
	Platform       string `json:"platform"`
	PlatformUserID string `json:"platform_user_id"`
	Login          string `json:"login"`
	DisplayName    string `json:"display_name"`
	Approved       bool   `json:"approved"`
}

func main() {
	path := "go/internal/assets/streamers.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var streamers []Streamer
	if err := json.Unmarshal(data, &streamers); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	var (
		total    = len(streamers)
		inserted int
		skipped  int
		errs     int
	)

	for _, s := range streamers {
		id, err := uuid.Parse(s.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamer %s: invalid id %q: %v\n", s.Login, s.ID, err)
			errs++
			continue
		}
		if s.Platform == "" {
			s.Platform = "twitch"
		}

		cmdTag, err := pool.Exec(context.Background(), `
            INSERT INTO streamers (
              id, platform, platform_user_id, login, display_name, approved
            ) VALUES (
              $1,$2,$3,$4,$5,$6
            )
            ON CONFLICT (platform, platform_user_id) DO NOTHING
        `,
			id.String(), s.Platform, s.PlatformUserID, s.Login, s.DisplayName, s.Approved,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting streamer %s: %v\n", s.Login, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	fmt.Printf(
		"Streamers seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
