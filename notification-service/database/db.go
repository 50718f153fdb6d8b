package database

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "notificationdb")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Create notification tables if they don't exist
	schema := `
	CREATE TABLE IF NOT EXISTS notifications (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		type VARCHAR(64) NOT NULL,
		channel VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		priority VARCHAR(16) NOT NULL DEFAULT 'NORMAL',
		subject VARCHAR(255),
		content TEXT NOT NULL,
		html_content TEXT,
		recipient_address VARCHAR(320) NOT NULL,
		template_id VARCHAR(64),
		template_vars TEXT,
		metadata TEXT,
		scheduled_at TIMESTAMP,
		sent_at TIMESTAMP,
		delivered_at TIMESTAMP,
		expires_at TIMESTAMP,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retry_attempts INTEGER NOT NULL DEFAULT 3,
		next_retry_at TIMESTAMP,
		error_message TEXT,
		external_id VARCHAR(128),
		correlation_id VARCHAR(64),
		reference_type VARCHAR(32),
		reference_id VARCHAR(64),
		claim_until TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS notification_deliveries (
		id BIGSERIAL PRIMARY KEY,
		notification_id BIGINT NOT NULL REFERENCES notifications(id),
		attempt INTEGER NOT NULL,
		channel VARCHAR(16) NOT NULL,
		provider VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		provider_message_id VARCHAR(128),
		external_id VARCHAR(128),
		status_code INTEGER,
		latency_ms BIGINT,
		reason TEXT,
		attempted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_status_scheduled
		ON notifications(status, scheduled_at);
	CREATE INDEX IF NOT EXISTS idx_notifications_next_retry
		ON notifications(next_retry_at) WHERE next_retry_at IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_deliveries_notification_id
		ON notification_deliveries(notification_id);
	`

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
