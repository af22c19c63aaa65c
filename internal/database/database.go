package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

// Open opens (creating if needed) the sqlite store and prepares the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	d := &DB{sql: db}
	if err := d.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS guild_config (
		guild_id TEXT PRIMARY KEY,
		enabled INTEGER DEFAULT 1,
		log_channel_id TEXT DEFAULT '',
		overrides TEXT DEFAULT '{}',
		created_at INTEGER DEFAULT 0,
		updated_at INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS whitelist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(guild_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_whitelist_guild ON whitelist(guild_id);

	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		violation TEXT NOT NULL,
		detected_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL,
		response_time_ms INTEGER NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_incidents_guild ON incidents(guild_id);
	CREATE INDEX IF NOT EXISTS idx_incidents_detected ON incidents(detected_at);

	CREATE TABLE IF NOT EXISTS backups (
		id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		checksum TEXT DEFAULT '',
		data BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_backups_guild ON backups(guild_id, created_at);
	`
	_, err := d.sql.Exec(schema)
	return err
}

// --- guild config ---

type GuildConfigRow struct {
	GuildID      string
	Enabled      bool
	LogChannelID string
	Overrides    string // JSON action-type → limit
}

func (d *DB) SaveGuildConfig(row GuildConfigRow) error {
	now := time.Now().Unix()
	enabled := 0
	if row.Enabled {
		enabled = 1
	}
	_, err := d.sql.Exec(`
		INSERT INTO guild_config (guild_id, enabled, log_channel_id, overrides, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			log_channel_id = excluded.log_channel_id,
			overrides = excluded.overrides,
			updated_at = excluded.updated_at`,
		row.GuildID, enabled, row.LogChannelID, row.Overrides, now, now)
	return err
}

func (d *DB) LoadGuildConfigs() ([]GuildConfigRow, error) {
	rows, err := d.sql.Query(`SELECT guild_id, enabled, log_channel_id, overrides FROM guild_config`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GuildConfigRow
	for rows.Next() {
		var row GuildConfigRow
		var enabled int
		if err := rows.Scan(&row.GuildID, &enabled, &row.LogChannelID, &row.Overrides); err != nil {
			return nil, err
		}
		row.Enabled = enabled == 1
		out = append(out, row)
	}
	return out, rows.Err()
}

// --- whitelist ---

func (d *DB) AddWhitelist(guildID, userID string) error {
	_, err := d.sql.Exec(`
		INSERT INTO whitelist (guild_id, user_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO NOTHING`,
		guildID, userID, time.Now().Unix())
	return err
}

func (d *DB) RemoveWhitelist(guildID, userID string) error {
	_, err := d.sql.Exec(`DELETE FROM whitelist WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	return err
}

func (d *DB) LoadWhitelist(guildID string) ([]string, error) {
	rows, err := d.sql.Query(`SELECT user_id FROM whitelist WHERE guild_id = ?`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- incidents ---

// InsertIncident appends one completed incident record. payload is the full
// serialized incident; the scalar columns exist for querying.
func (d *DB) InsertIncident(id, guildID, actorID, violation string, detectedAt, completedAt time.Time, responseMs int64, payload []byte) error {
	_, err := d.sql.Exec(`
		INSERT INTO incidents (id, guild_id, actor_id, violation, detected_at, completed_at, response_time_ms, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, guildID, actorID, violation, detectedAt.Unix(), completedAt.Unix(), responseMs, string(payload))
	return err
}

// --- backups ---

type BackupRow struct {
	ID        string
	GuildID   string
	CreatedAt time.Time
	Checksum  string
}

func (d *DB) InsertBackup(id, guildID string, createdAt time.Time, checksum string, data []byte) error {
	_, err := d.sql.Exec(`
		INSERT INTO backups (id, guild_id, created_at, checksum, data) VALUES (?, ?, ?, ?, ?)`,
		id, guildID, createdAt.Unix(), checksum, data)
	return err
}

// ListBackups returns backup metadata for a guild, newest first.
func (d *DB) ListBackups(guildID string) ([]BackupRow, error) {
	rows, err := d.sql.Query(`
		SELECT id, guild_id, created_at, checksum FROM backups
		WHERE guild_id = ? ORDER BY created_at DESC`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BackupRow
	for rows.Next() {
		var row BackupRow
		var created int64
		if err := rows.Scan(&row.ID, &row.GuildID, &created, &row.Checksum); err != nil {
			return nil, err
		}
		row.CreatedAt = time.Unix(created, 0)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) GetBackup(id string) (BackupRow, []byte, error) {
	var row BackupRow
	var created int64
	var data []byte
	err := d.sql.QueryRow(`
		SELECT id, guild_id, created_at, checksum, data FROM backups WHERE id = ?`, id).
		Scan(&row.ID, &row.GuildID, &created, &row.Checksum, &data)
	if err != nil {
		return BackupRow{}, nil, err
	}
	row.CreatedAt = time.Unix(created, 0)
	return row, data, nil
}

// PruneBackups keeps the newest keep backups per guild.
func (d *DB) PruneBackups(guildID string, keep int) error {
	_, err := d.sql.Exec(`
		DELETE FROM backups WHERE guild_id = ? AND id NOT IN (
			SELECT id FROM backups WHERE guild_id = ? ORDER BY created_at DESC LIMIT ?
		)`, guildID, guildID, keep)
	return err
}
