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
	dbname := getEnv("DB_NAME", "orderdb")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Create order tables if they don't exist
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id BIGSERIAL PRIMARY KEY,
		order_number VARCHAR(12) NOT NULL UNIQUE,
		user_id BIGINT NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'PENDING',
		type VARCHAR(32) NOT NULL DEFAULT 'STANDARD',
		currency CHAR(3) NOT NULL,
		subtotal DECIMAL(12, 3) NOT NULL DEFAULT 0,
		tax_amount DECIMAL(12, 3) NOT NULL DEFAULT 0,
		shipping_amount DECIMAL(12, 3) NOT NULL DEFAULT 0,
		discount_amount DECIMAL(12, 3) NOT NULL DEFAULT 0,
		total_amount DECIMAL(12, 3) NOT NULL DEFAULT 0,
		shipping_address TEXT,
		billing_address TEXT,
		is_gift BOOLEAN NOT NULL DEFAULT FALSE,
		requires_special_handling BOOLEAN NOT NULL DEFAULT FALSE,
		priority INTEGER NOT NULL DEFAULT 3,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		confirmed_at TIMESTAMP,
		cancelled_at TIMESTAMP,
		expected_delivery_at TIMESTAMP,
		actual_delivery_at TIMESTAMP,
		deleted_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS order_items (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id),
		product_id BIGINT NOT NULL,
		sku VARCHAR(64) NOT NULL,
		name VARCHAR(255),
		quantity INTEGER NOT NULL,
		unit_price DECIMAL(12, 3) NOT NULL,
		discount DECIMAL(12, 3) NOT NULL DEFAULT 0,
		tax DECIMAL(12, 3) NOT NULL DEFAULT 0,
		total_price DECIMAL(12, 3) NOT NULL,
		final_price DECIMAL(12, 3) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS order_audit (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id),
		action VARCHAR(64) NOT NULL,
		actor_user_id BIGINT,
		action_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		ip_address VARCHAR(45),
		payload TEXT
	);

	CREATE TABLE IF NOT EXISTS order_shipping (
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES orders(id),
		status VARCHAR(32) NOT NULL,
		tracking_number VARCHAR(64),
		carrier VARCHAR(64),
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id);
	CREATE INDEX IF NOT EXISTS idx_order_audit_order_id ON order_audit(order_id);
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
