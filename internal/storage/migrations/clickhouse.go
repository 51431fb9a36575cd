package migrations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	chstore "stark-claimer/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the report database if needed, applies the
// embedded schema and returns a connection to it.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	db, err := chstore.DatabaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	server, err := chstore.DialServer(ctx, dsn)
	if err != nil {
		return nil, err
	}
	err = server.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+db)
	if cerr := server.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", db, err)
	}

	conn, err := chstore.Dial(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := applyClickhouse(ctx, conn); err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	return conn, nil
}

func applyClickhouse(ctx context.Context, conn *chstore.Conn) error {
	files, err := readMigrations(ClickhouseFS, "clickhouse")
	if err != nil {
		return err
	}
	for _, f := range files {
		// The native protocol takes one statement per Exec.
		for i, stmt := range statements(f.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s statement %d: %w", f.Name, i+1, err)
			}
		}
	}
	return nil
}

// statements splits script on semicolons outside single-quoted strings and
// drops whole-line -- comments.
func statements(script string) []string {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for _, line := range strings.Split(script, "\n") {
		if !quoted && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for i := 0; i < len(line); i++ {
			switch ch := line[i]; {
			case ch == '\'':
				quoted = !quoted
				cur.WriteByte(ch)
			case ch == ';' && !quoted:
				flush()
			default:
				cur.WriteByte(ch)
			}
		}
		cur.WriteByte('\n')
	}
	flush()
	return out
}
