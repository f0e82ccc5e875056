// Package storage opens the PostgreSQL and Redis connections PosalPro runs
// on.
//
// OpenDatabase opens and pings a pooled database handle; OpenRedis parses a
// redis:// URL, applies pool and retry overrides and pings the server. Both
// fail fast when the backend is unreachable so startup errors surface
// before the server begins accepting requests.
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://posalpro@localhost/posalpro?sslmode=disable"
//	db, err := storage.OpenDatabase(ctx, cfg)
//	client, err := storage.OpenRedis(ctx, cfg)
//
// The RBAC store, the database audit sink and the record API share the
// database handle; the permission cache and session store share the Redis
// client.
package storage
