package repository

import (
	"time"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/sqlutil"
	"github.com/mcdev12/subathon/go/internal/subathon/repository/db"
)

func dbStreamerToModel(row db.Streamer) *models.Streamer {
	return &models.Streamer{
		ID:             row.ID,
		Platform:       row.Platform,
		PlatformUserID: row.PlatformUserID,
		Login:          row.Login,
		DisplayName:    row.DisplayName,
		Approved:       row.Approved,
		CreatedAt:      row.CreatedAt.UTC(),
	}
}

func dbSubathonToModel(row db.Subathon) *models.Subathon {
	return &models.Subathon{
		StreamerID:          row.StreamerID,
		Status:              models.SubathonStatus(row.Status),
		CurrentClicks:       int(row.CurrentClicks),
		ClicksRequired:      int(row.ClicksRequired),
		CooldownSeconds:     int(row.CooldownSeconds),
		TimeMode:            models.TimeMode(row.TimeMode),
		TimeIncrement:       int(row.TimeIncrement),
		MinRandomTime:       int(row.MinRandomTime),
		MaxRandomTime:       int(row.MaxRandomTime),
		InitialDuration:     row.InitialDuration,
		TotalElapsedTime:    row.TotalElapsedTime,
		TotalTimeAdded:      row.TotalTimeAdded,
		TotalPausedDuration: row.TotalPausedDuration,
		StreamStartedAt:     sqlutil.FromSqlTime(row.StreamStartedAt),
		PauseStartedAt:      sqlutil.FromSqlTime(row.PauseStartedAt),
		EndedAt:             sqlutil.FromSqlTime(row.EndedAt),
		Version:             row.Version,
		CreatedAt:           row.CreatedAt.UTC(),
		UpdatedAt:           row.UpdatedAt.UTC(),
		ElapsedCarry:        time.Duration(row.ElapsedCarryUs) * time.Microsecond,
		PausedCarry:         time.Duration(row.PausedCarryUs) * time.Microsecond,
	}
}

func modelSubathonToDB(s *models.Subathon) db.Subathon {
	return db.Subathon{
		StreamerID:          s.StreamerID,
		Status:              string(s.Status),
		CurrentClicks:       int32(s.CurrentClicks),
		ClicksRequired:      int32(s.ClicksRequired),
		CooldownSeconds:     int32(s.CooldownSeconds),
		TimeMode:            string(s.TimeMode),
		TimeIncrement:       int32(s.TimeIncrement),
		MinRandomTime:       int32(s.MinRandomTime),
		MaxRandomTime:       int32(s.MaxRandomTime),
		InitialDuration:     s.InitialDuration,
		TotalElapsedTime:    s.TotalElapsedTime,
		TotalTimeAdded:      s.TotalTimeAdded,
		TotalPausedDuration: s.TotalPausedDuration,
		StreamStartedAt:     sqlutil.ToSqlTime(s.StreamStartedAt),
		PauseStartedAt:      sqlutil.ToSqlTime(s.PauseStartedAt),
		EndedAt:             sqlutil.ToSqlTime(s.EndedAt),
		Version:             s.Version,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
		ElapsedCarryUs:      s.ElapsedCarry.Microseconds(),
		PausedCarryUs:       s.PausedCarry.Microseconds(),
	}
}

func dbTimeAdditionToModel(row db.TimeAddition) models.TimeAddition {
	return models.TimeAddition{
		ID:              row.ID,
		StreamerID:      row.StreamerID,
		EventType:       models.TimeAdditionEventType(row.EventType),
		TimeSeconds:     row.TimeSeconds,
		PlayerIdentity:  sqlutil.FromSqlStringPtr(row.PlayerIdentity),
		ExternalEventID: sqlutil.FromSqlStringPtr(row.ExternalEventID),
		EventData:       sqlutil.FromNullRawMessage(row.EventData),
		CreatedAt:       row.CreatedAt.UTC(),
	}
}
