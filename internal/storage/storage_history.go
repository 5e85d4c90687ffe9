package storage

import (
	"context"
	"fmt"
	"time"
)

const (
	commandHistoryLimit int = 20
	playHistoryLimit    int = 12
)

// CommandRecord is one executed bot command.
type CommandRecord struct {
	GuildID   string    `json:"guildId"`
	ChannelID string    `json:"channelId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Command   string    `json:"command"`
	Param     string    `json:"param"`
	Datetime  time.Time `json:"datetime"`
}

// PlayRecord is one accepted play request.
type PlayRecord struct {
	SoundID  string    `json:"soundId"`
	Name     string    `json:"name"`
	Client   string    `json:"client"`
	Datetime time.Time `json:"datetime"`
}

func (s *Storage) initHistorySchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS command_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    guild_id TEXT NOT NULL,
    channel_id TEXT,
    user_id TEXT,
    username TEXT,
    command TEXT NOT NULL,
    param TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS play_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sound_id TEXT NOT NULL,
    name TEXT,
    client TEXT,
    created_at TIMESTAMP NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// AppendCommandToHistory stores a command and keeps only the latest entries per guild.
func (s *Storage) AppendCommandToHistory(ctx context.Context, rec CommandRecord) error {
	if rec.Datetime.IsZero() {
		rec.Datetime = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_history(guild_id, channel_id, user_id, username, command, param, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.GuildID, rec.ChannelID, rec.UserID, rec.Username, rec.Command, rec.Param, rec.Datetime)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM command_history WHERE guild_id = ? AND id NOT IN (
		    SELECT id FROM command_history WHERE guild_id = ? ORDER BY id DESC LIMIT ?)`,
		rec.GuildID, rec.GuildID, commandHistoryLimit)
	return err
}

// FetchCommandHistory returns a guild's commands, oldest first.
func (s *Storage) FetchCommandHistory(ctx context.Context, guildID string) ([]CommandRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guild_id, channel_id, user_id, username, command, param, created_at
		 FROM command_history WHERE guild_id = ? ORDER BY id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	list := []CommandRecord{}
	for rows.Next() {
		var rec CommandRecord
		if err := rows.Scan(&rec.GuildID, &rec.ChannelID, &rec.UserID, &rec.Username, &rec.Command, &rec.Param, &rec.Datetime); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// AppendPlayToHistory stores a play request and trims old ones.
func (s *Storage) AppendPlayToHistory(ctx context.Context, rec PlayRecord) error {
	if rec.Datetime.IsZero() {
		rec.Datetime = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO play_history(sound_id, name, client, created_at) VALUES(?, ?, ?, ?)`,
		rec.SoundID, rec.Name, rec.Client, rec.Datetime)
	if err != nil {
		return fmt.Errorf("insert play: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM play_history WHERE id NOT IN (
		    SELECT id FROM play_history ORDER BY id DESC LIMIT ?)`, playHistoryLimit)
	return err
}

// FetchPlayHistory returns recent plays, newest first.
func (s *Storage) FetchPlayHistory(ctx context.Context) ([]PlayRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sound_id, name, client, created_at FROM play_history ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query plays: %w", err)
	}
	defer rows.Close()

	list := []PlayRecord{}
	for rows.Next() {
		var rec PlayRecord
		if err := rows.Scan(&rec.SoundID, &rec.Name, &rec.Client, &rec.Datetime); err != nil {
			return nil, fmt.Errorf("scan play: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
