package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loopcast/internal/models"
)

// ErrPostgresUnavailable is returned when an operation runs against a closed
// or misconfigured Postgres repository.
var ErrPostgresUnavailable = errors.New("postgres repository unavailable")

const postgresOperationTimeout = 10 * time.Second

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		filename TEXT NOT NULL,
		file_size BIGINT NOT NULL DEFAULT 0,
		duration TEXT NOT NULL DEFAULT '00:00',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		playlist_order INTEGER NOT NULL DEFAULT 0,
		uploaded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stream_configs (
		id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		stream_key TEXT NOT NULL DEFAULT '',
		rtmp_url TEXT NOT NULL DEFAULT '',
		resolution TEXT NOT NULL,
		framerate INTEGER NOT NULL,
		bitrate INTEGER NOT NULL,
		audio_bitrate INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stream_status (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		viewer_count INTEGER NOT NULL DEFAULT 0,
		uptime TEXT NOT NULL DEFAULT '00:00:00',
		current_video_id TEXT,
		started_at TIMESTAMPTZ,
		loop_playlist BOOLEAN NOT NULL DEFAULT TRUE,
		last_error TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS system_configs (
		id TEXT PRIMARY KEY,
		rtmp_port INTEGER NOT NULL,
		web_port INTEGER NOT NULL,
		database_host TEXT NOT NULL DEFAULT '',
		database_port INTEGER NOT NULL DEFAULT 0,
		database_name TEXT NOT NULL DEFAULT '',
		database_user TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS operators (
		username TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS videos_playlist_order_idx ON videos (playlist_order)`,
}

type postgresRepository struct {
	pool  *pgxpool.Pool
	cfg   PostgresConfig
	clock func() time.Time
}

// NewPostgresRepository opens a pgx pool against the provided DSN, applies
// the schema, and returns the repository.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg, clock: cfg.Clock}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (r *postgresRepository) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), postgresOperationTimeout)
}

func rollbackTx(ctx context.Context, tx pgx.Tx) {
	if tx == nil {
		return
	}
	_ = tx.Rollback(ctx)
}

// Ping verifies connectivity to the database.
func (r *postgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return ErrPostgresUnavailable
	}
	return r.pool.Ping(ctx)
}

// Close drains the pool, honouring the context deadline.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

const videoColumns = "id, title, filename, file_size, duration, thumbnail_url, playlist_order, uploaded_at"

func scanVideo(row pgx.Row) (models.Video, error) {
	var video models.Video
	err := row.Scan(&video.ID, &video.Title, &video.Filename, &video.FileSize, &video.Duration, &video.ThumbnailURL, &video.PlaylistOrder, &video.UploadedAt)
	return video, err
}

func (r *postgresRepository) CreateVideo(params CreateVideoParams) (models.Video, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Video{}, errors.New("title is required")
	}
	if len(title) > MaxVideoTitleLength {
		return models.Video{}, fmt.Errorf("title exceeds %d characters", MaxVideoTitleLength)
	}
	if strings.TrimSpace(params.Filename) == "" {
		return models.Video{}, errors.New("filename is required")
	}
	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}

	ctx, cancel := r.opContext()
	defer cancel()

	duration := strings.TrimSpace(params.Duration)
	if duration == "" {
		duration = "00:00"
	}

	video := models.Video{
		ID:           id,
		Title:        title,
		Filename:     params.Filename,
		FileSize:     params.FileSize,
		Duration:     duration,
		ThumbnailURL: params.ThumbnailURL,
		UploadedAt:   r.clock(),
	}
	err = r.pool.QueryRow(ctx,
		"INSERT INTO videos (id, title, filename, file_size, duration, thumbnail_url, playlist_order, uploaded_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, (SELECT COUNT(*) FROM videos), $7) RETURNING playlist_order",
		video.ID, video.Title, video.Filename, video.FileSize, video.Duration, video.ThumbnailURL, video.UploadedAt,
	).Scan(&video.PlaylistOrder)
	if err != nil {
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) ListVideos() []models.Video {
	ctx, cancel := r.opContext()
	defer cancel()

	rows, err := r.pool.Query(ctx, "SELECT "+videoColumns+" FROM videos ORDER BY playlist_order, uploaded_at")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil
		}
		videos = append(videos, video)
	}
	return videos
}

func (r *postgresRepository) GetVideo(id string) (models.Video, bool) {
	ctx, cancel := r.opContext()
	defer cancel()

	video, err := scanVideo(r.pool.QueryRow(ctx, "SELECT "+videoColumns+" FROM videos WHERE id = $1", id))
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *postgresRepository) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Video{}, fmt.Errorf("begin video update: %w", err)
	}
	defer rollbackTx(ctx, tx)

	video, err := scanVideo(tx.QueryRow(ctx, "SELECT "+videoColumns+" FROM videos WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrVideoNotFound
		}
		return models.Video{}, fmt.Errorf("load video: %w", err)
	}
	if err := applyVideoUpdate(&video, update); err != nil {
		return models.Video{}, err
	}
	if _, err := tx.Exec(ctx,
		"UPDATE videos SET title = $2, duration = $3, thumbnail_url = $4 WHERE id = $1",
		video.ID, video.Title, video.Duration, video.ThumbnailURL,
	); err != nil {
		return models.Video{}, fmt.Errorf("update video: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Video{}, fmt.Errorf("commit video update: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) DeleteVideo(id string) error {
	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin video delete: %w", err)
	}
	defer rollbackTx(ctx, tx)

	tag, err := tx.Exec(ctx, "DELETE FROM videos WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}
	if _, err := tx.Exec(ctx,
		"UPDATE videos SET playlist_order = ranked.new_order FROM ("+
			"SELECT id, ROW_NUMBER() OVER (ORDER BY playlist_order, uploaded_at) - 1 AS new_order FROM videos"+
			") ranked WHERE videos.id = ranked.id",
	); err != nil {
		return fmt.Errorf("compact playlist: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE stream_status SET current_video_id = NULL, updated_at = $2 WHERE current_video_id = $1", id, r.clock()); err != nil {
		return fmt.Errorf("detach status video: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit video delete: %w", err)
	}
	return nil
}

func (r *postgresRepository) ReorderPlaylist(order []string) ([]models.Video, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin reorder: %w", err)
	}
	defer rollbackTx(ctx, tx)

	var total int
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM videos").Scan(&total); err != nil {
		return nil, fmt.Errorf("count videos: %w", err)
	}
	if len(order) != total {
		return nil, fmt.Errorf("order lists %d videos, store has %d", len(order), total)
	}
	seen := make(map[string]struct{}, len(order))
	for position, id := range order {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("video %s listed twice", id)
		}
		seen[id] = struct{}{}
		tag, err := tx.Exec(ctx, "UPDATE videos SET playlist_order = $2 WHERE id = $1", id, position)
		if err != nil {
			return nil, fmt.Errorf("reorder video %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrVideoNotFound
		}
	}

	rows, err := tx.Query(ctx, "SELECT "+videoColumns+" FROM videos ORDER BY playlist_order, uploaded_at")
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	var videos []models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reorder: %w", err)
	}
	return videos, nil
}

const streamConfigColumns = "id, platform, stream_key, rtmp_url, resolution, framerate, bitrate, audio_bitrate, is_active, updated_at"

func scanStreamConfig(row pgx.Row) (models.StreamConfig, error) {
	var cfg models.StreamConfig
	err := row.Scan(&cfg.ID, &cfg.Platform, &cfg.StreamKey, &cfg.RTMPURL, &cfg.Resolution, &cfg.Framerate, &cfg.Bitrate, &cfg.AudioBitrate, &cfg.IsActive, &cfg.UpdatedAt)
	return cfg, err
}

func (r *postgresRepository) StreamConfig() (models.StreamConfig, bool) {
	ctx, cancel := r.opContext()
	defer cancel()

	cfg, err := scanStreamConfig(r.pool.QueryRow(ctx, "SELECT "+streamConfigColumns+" FROM stream_configs WHERE id = $1", streamConfigID))
	if err != nil {
		return models.StreamConfig{}, false
	}
	return cfg, true
}

func (r *postgresRepository) SaveStreamConfig(update StreamConfigUpdate) (models.StreamConfig, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.StreamConfig{}, fmt.Errorf("begin config save: %w", err)
	}
	defer rollbackTx(ctx, tx)

	cfg, err := scanStreamConfig(tx.QueryRow(ctx, "SELECT "+streamConfigColumns+" FROM stream_configs WHERE id = $1 FOR UPDATE", streamConfigID))
	if errors.Is(err, pgx.ErrNoRows) {
		cfg = defaultStreamConfig(r.clock())
	} else if err != nil {
		return models.StreamConfig{}, fmt.Errorf("load stream config: %w", err)
	}
	if err := applyStreamConfigUpdate(&cfg, update); err != nil {
		return models.StreamConfig{}, err
	}
	cfg.UpdatedAt = r.clock()
	if _, err := tx.Exec(ctx,
		"INSERT INTO stream_configs ("+streamConfigColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) "+
			"ON CONFLICT (id) DO UPDATE SET platform = EXCLUDED.platform, stream_key = EXCLUDED.stream_key, rtmp_url = EXCLUDED.rtmp_url, "+
			"resolution = EXCLUDED.resolution, framerate = EXCLUDED.framerate, bitrate = EXCLUDED.bitrate, audio_bitrate = EXCLUDED.audio_bitrate, "+
			"is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at",
		cfg.ID, cfg.Platform, cfg.StreamKey, cfg.RTMPURL, cfg.Resolution, cfg.Framerate, cfg.Bitrate, cfg.AudioBitrate, cfg.IsActive, cfg.UpdatedAt,
	); err != nil {
		return models.StreamConfig{}, fmt.Errorf("save stream config: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.StreamConfig{}, fmt.Errorf("commit config save: %w", err)
	}
	return cfg, nil
}

const streamStatusColumns = "id, status, viewer_count, uptime, current_video_id, started_at, loop_playlist, last_error, updated_at"

func scanStreamStatus(row pgx.Row) (models.StreamStatus, error) {
	var status models.StreamStatus
	err := row.Scan(&status.ID, &status.Status, &status.ViewerCount, &status.Uptime, &status.CurrentVideoID, &status.StartedAt, &status.LoopPlaylist, &status.LastError, &status.UpdatedAt)
	return status, err
}

func (r *postgresRepository) StreamStatus() models.StreamStatus {
	ctx, cancel := r.opContext()
	defer cancel()

	status, err := scanStreamStatus(r.pool.QueryRow(ctx, "SELECT "+streamStatusColumns+" FROM stream_status WHERE id = $1", streamStatusID))
	if err != nil {
		return defaultStreamStatus(r.clock())
	}
	return status
}

func (r *postgresRepository) UpdateStreamStatus(update StreamStatusUpdate) (models.StreamStatus, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.StreamStatus{}, fmt.Errorf("begin status update: %w", err)
	}
	defer rollbackTx(ctx, tx)

	status, err := scanStreamStatus(tx.QueryRow(ctx, "SELECT "+streamStatusColumns+" FROM stream_status WHERE id = $1 FOR UPDATE", streamStatusID))
	if errors.Is(err, pgx.ErrNoRows) {
		status = defaultStreamStatus(r.clock())
	} else if err != nil {
		return models.StreamStatus{}, fmt.Errorf("load stream status: %w", err)
	}
	exists := func(id string) bool {
		var found bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)", id).Scan(&found); err != nil {
			return false
		}
		return found
	}
	if err := applyStreamStatusUpdate(&status, update, exists); err != nil {
		return models.StreamStatus{}, err
	}
	status.UpdatedAt = r.clock()
	if _, err := tx.Exec(ctx,
		"INSERT INTO stream_status ("+streamStatusColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) "+
			"ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, viewer_count = EXCLUDED.viewer_count, uptime = EXCLUDED.uptime, "+
			"current_video_id = EXCLUDED.current_video_id, started_at = EXCLUDED.started_at, loop_playlist = EXCLUDED.loop_playlist, "+
			"last_error = EXCLUDED.last_error, updated_at = EXCLUDED.updated_at",
		status.ID, status.Status, status.ViewerCount, status.Uptime, status.CurrentVideoID, status.StartedAt, status.LoopPlaylist, status.LastError, status.UpdatedAt,
	); err != nil {
		return models.StreamStatus{}, fmt.Errorf("save stream status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.StreamStatus{}, fmt.Errorf("commit status update: %w", err)
	}
	return status, nil
}

const systemConfigColumns = "id, rtmp_port, web_port, database_host, database_port, database_name, database_user, updated_at"

func scanSystemConfig(row pgx.Row) (models.SystemConfig, error) {
	var cfg models.SystemConfig
	err := row.Scan(&cfg.ID, &cfg.RTMPPort, &cfg.WebPort, &cfg.DatabaseHost, &cfg.DatabasePort, &cfg.DatabaseName, &cfg.DatabaseUser, &cfg.UpdatedAt)
	return cfg, err
}

func (r *postgresRepository) SystemConfig() models.SystemConfig {
	ctx, cancel := r.opContext()
	defer cancel()

	cfg, err := scanSystemConfig(r.pool.QueryRow(ctx, "SELECT "+systemConfigColumns+" FROM system_configs WHERE id = $1", systemConfigID))
	if err != nil {
		return defaultSystemConfig(r.clock())
	}
	return cfg
}

func (r *postgresRepository) UpdateSystemConfig(update SystemConfigUpdate) (models.SystemConfig, error) {
	ctx, cancel := r.opContext()
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.SystemConfig{}, fmt.Errorf("begin system config update: %w", err)
	}
	defer rollbackTx(ctx, tx)

	cfg, err := scanSystemConfig(tx.QueryRow(ctx, "SELECT "+systemConfigColumns+" FROM system_configs WHERE id = $1 FOR UPDATE", systemConfigID))
	if errors.Is(err, pgx.ErrNoRows) {
		cfg = defaultSystemConfig(r.clock())
	} else if err != nil {
		return models.SystemConfig{}, fmt.Errorf("load system config: %w", err)
	}
	if err := applySystemConfigUpdate(&cfg, update); err != nil {
		return models.SystemConfig{}, err
	}
	cfg.UpdatedAt = r.clock()
	if _, err := tx.Exec(ctx,
		"INSERT INTO system_configs ("+systemConfigColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8) "+
			"ON CONFLICT (id) DO UPDATE SET rtmp_port = EXCLUDED.rtmp_port, web_port = EXCLUDED.web_port, database_host = EXCLUDED.database_host, "+
			"database_port = EXCLUDED.database_port, database_name = EXCLUDED.database_name, database_user = EXCLUDED.database_user, updated_at = EXCLUDED.updated_at",
		cfg.ID, cfg.RTMPPort, cfg.WebPort, cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseName, cfg.DatabaseUser, cfg.UpdatedAt,
	); err != nil {
		return models.SystemConfig{}, fmt.Errorf("save system config: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.SystemConfig{}, fmt.Errorf("commit system config update: %w", err)
	}
	return cfg, nil
}

const operatorColumns = "username, id, password_hash, created_at"

func scanOperator(row pgx.Row) (models.Operator, error) {
	var operator models.Operator
	err := row.Scan(&operator.Username, &operator.ID, &operator.PasswordHash, &operator.CreatedAt)
	return operator, err
}

func (r *postgresRepository) EnsureOperator(username, password string) (models.Operator, error) {
	username = normalizeUsername(username)
	if username == "" {
		return models.Operator{}, errors.New("username is required")
	}
	if len(password) < 8 {
		return models.Operator{}, errors.New("password must be at least 8 characters")
	}

	ctx, cancel := r.opContext()
	defer cancel()

	if operator, err := scanOperator(r.pool.QueryRow(ctx, "SELECT "+operatorColumns+" FROM operators WHERE username = $1", username)); err == nil {
		return operator, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return models.Operator{}, fmt.Errorf("load operator: %w", err)
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return models.Operator{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := generateID()
	if err != nil {
		return models.Operator{}, err
	}
	operator := models.Operator{
		ID:           id,
		Username:     username,
		PasswordHash: hashed,
		CreatedAt:    r.clock(),
	}
	if _, err := r.pool.Exec(ctx,
		"INSERT INTO operators (username, id, password_hash, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (username) DO NOTHING",
		operator.Username, operator.ID, operator.PasswordHash, operator.CreatedAt,
	); err != nil {
		return models.Operator{}, fmt.Errorf("insert operator: %w", err)
	}
	return operator, nil
}

func (r *postgresRepository) AuthenticateOperator(username, password string) (models.Operator, error) {
	if password == "" {
		return models.Operator{}, errors.New("password is required")
	}
	operator, ok := r.GetOperator(username)
	if !ok {
		return models.Operator{}, ErrInvalidCredentials
	}
	if err := verifyPassword(operator.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.Operator{}, ErrInvalidCredentials
		}
		return models.Operator{}, err
	}
	return operator, nil
}

func (r *postgresRepository) SetOperatorPassword(username, password string) (models.Operator, error) {
	username = normalizeUsername(username)
	if len(password) < 8 {
		return models.Operator{}, errors.New("password must be at least 8 characters")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return models.Operator{}, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := r.opContext()
	defer cancel()

	operator, err := scanOperator(r.pool.QueryRow(ctx,
		"UPDATE operators SET password_hash = $2 WHERE username = $1 RETURNING "+operatorColumns,
		username, hashed,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Operator{}, ErrOperatorNotFound
	} else if err != nil {
		return models.Operator{}, fmt.Errorf("update operator password: %w", err)
	}
	return operator, nil
}

func (r *postgresRepository) GetOperator(username string) (models.Operator, bool) {
	username = normalizeUsername(username)

	ctx, cancel := r.opContext()
	defer cancel()

	operator, err := scanOperator(r.pool.QueryRow(ctx, "SELECT "+operatorColumns+" FROM operators WHERE username = $1", username))
	if err != nil {
		return models.Operator{}, false
	}
	return operator, true
}

// ExportSnapshot reads every table into a Snapshot inside one transaction.
func (r *postgresRepository) ExportSnapshot(ctx context.Context) (*Snapshot, error) {
	if r == nil || r.pool == nil {
		return nil, ErrPostgresUnavailable
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot export: %w", err)
	}
	defer rollbackTx(ctx, tx)

	snapshot := &Snapshot{}
	snapshot.ensureInitialized()

	rows, err := tx.Query(ctx, "SELECT "+videoColumns+" FROM videos")
	if err != nil {
		return nil, fmt.Errorf("export videos: %w", err)
	}
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan video: %w", err)
		}
		snapshot.Videos[video.ID] = video
	}
	rows.Close()

	if cfg, err := scanStreamConfig(tx.QueryRow(ctx, "SELECT "+streamConfigColumns+" FROM stream_configs WHERE id = $1", streamConfigID)); err == nil {
		snapshot.StreamConfig = &cfg
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("export stream config: %w", err)
	}
	if status, err := scanStreamStatus(tx.QueryRow(ctx, "SELECT "+streamStatusColumns+" FROM stream_status WHERE id = $1", streamStatusID)); err == nil {
		snapshot.StreamStatus = &status
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("export stream status: %w", err)
	}
	if cfg, err := scanSystemConfig(tx.QueryRow(ctx, "SELECT "+systemConfigColumns+" FROM system_configs WHERE id = $1", systemConfigID)); err == nil {
		snapshot.SystemConfig = &cfg
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("export system config: %w", err)
	}

	rows, err = tx.Query(ctx, "SELECT "+operatorColumns+" FROM operators")
	if err != nil {
		return nil, fmt.Errorf("export operators: %w", err)
	}
	for rows.Next() {
		operator, err := scanOperator(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		snapshot.Operators[operator.Username] = operator
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshot export: %w", err)
	}
	return snapshot, nil
}

// ImportSnapshot replaces the table contents with the snapshot inside one
// transaction.
func (r *postgresRepository) ImportSnapshot(ctx context.Context, snapshot *Snapshot) (SnapshotCounts, error) {
	if r == nil || r.pool == nil {
		return SnapshotCounts{}, ErrPostgresUnavailable
	}
	if snapshot == nil {
		return SnapshotCounts{}, fmt.Errorf("snapshot is required")
	}
	snapshot.ensureInitialized()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return SnapshotCounts{}, fmt.Errorf("begin snapshot import: %w", err)
	}
	defer rollbackTx(ctx, tx)

	for _, table := range []string{"videos", "stream_configs", "stream_status", "system_configs", "operators"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return SnapshotCounts{}, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	ids := make([]string, 0, len(snapshot.Videos))
	for id := range snapshot.Videos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		video := snapshot.Videos[id]
		if strings.TrimSpace(video.ID) == "" {
			video.ID = id
		}
		uploadedAt := video.UploadedAt
		if uploadedAt.IsZero() {
			uploadedAt = r.clock()
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO videos (id, title, filename, file_size, duration, thumbnail_url, playlist_order, uploaded_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			video.ID, video.Title, video.Filename, video.FileSize, video.Duration, video.ThumbnailURL, video.PlaylistOrder, uploadedAt.UTC(),
		); err != nil {
			return SnapshotCounts{}, fmt.Errorf("insert video %s: %w", video.ID, err)
		}
	}

	if cfg := snapshot.StreamConfig; cfg != nil {
		if _, err := tx.Exec(ctx,
			"INSERT INTO stream_configs ("+streamConfigColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
			streamConfigID, cfg.Platform, cfg.StreamKey, cfg.RTMPURL, cfg.Resolution, cfg.Framerate, cfg.Bitrate, cfg.AudioBitrate, cfg.IsActive, cfg.UpdatedAt.UTC(),
		); err != nil {
			return SnapshotCounts{}, fmt.Errorf("insert stream config: %w", err)
		}
	}
	if status := snapshot.StreamStatus; status != nil {
		if _, err := tx.Exec(ctx,
			"INSERT INTO stream_status ("+streamStatusColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
			streamStatusID, status.Status, status.ViewerCount, status.Uptime, status.CurrentVideoID, status.StartedAt, status.LoopPlaylist, status.LastError, status.UpdatedAt.UTC(),
		); err != nil {
			return SnapshotCounts{}, fmt.Errorf("insert stream status: %w", err)
		}
	}
	if cfg := snapshot.SystemConfig; cfg != nil {
		if _, err := tx.Exec(ctx,
			"INSERT INTO system_configs ("+systemConfigColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			systemConfigID, cfg.RTMPPort, cfg.WebPort, cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseName, cfg.DatabaseUser, cfg.UpdatedAt.UTC(),
		); err != nil {
			return SnapshotCounts{}, fmt.Errorf("insert system config: %w", err)
		}
	}

	usernames := make([]string, 0, len(snapshot.Operators))
	for username := range snapshot.Operators {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)
	for _, username := range usernames {
		operator := snapshot.Operators[username]
		if strings.TrimSpace(operator.Username) == "" {
			operator.Username = username
		}
		createdAt := operator.CreatedAt
		if createdAt.IsZero() {
			createdAt = r.clock()
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO operators (username, id, password_hash, created_at) VALUES ($1, $2, $3, $4)",
			normalizeUsername(operator.Username), operator.ID, operator.PasswordHash, createdAt.UTC(),
		); err != nil {
			return SnapshotCounts{}, fmt.Errorf("insert operator %s: %w", operator.Username, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SnapshotCounts{}, fmt.Errorf("commit snapshot import: %w", err)
	}
	return snapshot.Counts(), nil
}

var _ Repository = (*postgresRepository)(nil)
