package main

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/subathon/go/internal/database"
	"github.com/mcdev12/subathon/go/internal/dbconfig"
	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon/memstore"
)

func setupDatabase() (*sql.DB, string, error) {
	dbConfig := dbconfig.NewConfigFromEnv()
	dsn := dbConfig.DSN()

	if getEnvAsBool("MIGRATE_ON_START", true) {
		if err := database.RunMigrations(dsn); err != nil {
			return nil, "", fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	db, err := database.Open(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	dbConfig.ApplyPool(db)

	log.Info().
		Str("user", dbConfig.User).
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("connected to database")
	return db, dsn, nil
}

// setupMemoryStore builds the in-process store with the configured streamers approved
func setupMemoryStore(streamers []StreamerConfig) (*memstore.Store, error) {
	st := memstore.New()
	for _, sc := range streamers {
		id, err := uuid.Parse(sc.ID)
		if err != nil {
			return nil, fmt.Errorf("streamer %q: invalid id: %w", sc.Login, err)
		}
		platform := sc.Platform
		if platform == "" {
			platform = "twitch"
		}
		st.AddStreamer(models.Streamer{
			ID:             id,
			Platform:       platform,
			PlatformUserID: sc.PlatformUserID,
			Login:          sc.Login,
			DisplayName:    sc.DisplayName,
			Approved:       true,
		})
		log.Info().Str("streamer_id", id.String()).Str("login", sc.Login).Msg("streamer loaded")
	}
	return st, nil
}
