// Package config loads PosalPro configuration from environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	POSALPRO_HOST="0.0.0.0"
//	POSALPRO_PORT="8080"
//	POSALPRO_HEALTH_PORT="9090"
//	POSALPRO_READ_TIMEOUT="15s"
//	POSALPRO_SHUTDOWN_TIMEOUT="30s"
//	POSALPRO_ALLOWED_ORIGINS="https://app.posalpro.example"
//
// Storage settings:
//
//	POSALPRO_DATABASE_URL="postgres://posalpro@localhost/posalpro?sslmode=disable"
//	POSALPRO_DATABASE_MAX_CONNS="20"
//	POSALPRO_REDIS_URL="redis://localhost:6379/0"  # sessions and the shared permission cache
//
// Permission cache and session settings:
//
//	POSALPRO_PERMISSION_CACHE_TTL="5m"
//	POSALPRO_PERMISSION_CACHE_SIZE="10000"
//	POSALPRO_JWT_SECRET="<at least 32 bytes>"
//	POSALPRO_TOKEN_TTL="8h"
//	POSALPRO_SESSION_TTL="8h"
//
// Access settings:
//
//	POSALPRO_ROUTES_FILE="/etc/posalpro/routes.yaml"        # watched for changes
//	POSALPRO_FIELD_CATALOG_FILE="/etc/posalpro/catalog.yaml"
//	POSALPRO_LOGIN_PATH="/login"
//	POSALPRO_UNSAFE_ADMIN_SESSION_BYPASS="0"                 # never in production
//
// Audit and observability settings:
//
//	POSALPRO_AUDIT_LOG_DIR="/var/log/posalpro/audit"
//	POSALPRO_AUDIT_DATABASE="true"
//	POSALPRO_AUDIT_RETENTION_DAYS="90"             # 0 keeps events forever
//	POSALPRO_AUDIT_RETENTION_SCHEDULE="30 3 * * *"
//	POSALPRO_LOG_LEVEL="info"  # debug, info, warn, error
//	POSALPRO_METRICS_ENABLED="true"
//	POSALPRO_DB_STATS_INTERVAL="30s"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
