// Package dblock serialises database-backed tests across test binaries.
package dblock

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
)

// lockKey identifies the custody test suite among advisory locks.
const lockKey int64 = 0x637573746f6479

const fallbackAddr = "127.0.0.1:45432"

// Acquire blocks until this process holds the suite lock and returns its
// release func. With DATABASE_URL reachable the lock is a session advisory
// lock; otherwise a TCP listener on CUSTODY_TEST_LOCK_ADDR stands in.
func Acquire() func() {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		if release, err := advisory(url); err == nil {
			return release
		}
	}
	return listen()
}

func advisory(url string) (func(), error) {
	ctx := context.Background()
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := pgx.Connect(dialCtx, url)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockKey); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return func() {
		_, _ = conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", lockKey)
		conn.Close(ctx)
	}, nil
}

func listen() func() {
	addr := os.Getenv("CUSTODY_TEST_LOCK_ADDR")
	if addr == "" {
		addr = fallbackAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
