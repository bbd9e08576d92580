package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const usage = `usage: migrate [flags] <command>

commands:
  up [N]       apply all pending migrations, or the next N
  down [N]     roll back N migrations (N is required)
  version      print the current schema version
  force V      mark version V as clean after a failed migration

flags:
`

func main() {
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	dir := flag.String("path", "migrations", "path to migrations directory")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := migrate.New("file://"+*dir, databaseURL(*dbURL))
	if err != nil {
		log.Fatalf("open migrations at %s: %v", *dir, err)
	}
	defer m.Close()

	if err := runCommand(m, flag.Arg(0), flag.Arg(1)); err != nil {
		log.Fatal(err)
	}

	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		fmt.Println("staff_keys schema: no migrations applied")
	case err != nil:
		log.Fatalf("read schema version: %v", err)
	default:
		fmt.Printf("staff_keys schema at version %d (dirty: %v)\n", v, dirty)
	}
}

func runCommand(m *migrate.Migrate, cmd, arg string) error {
	n := 0
	if arg != "" {
		var err error
		if n, err = strconv.Atoi(arg); err != nil || n < 0 {
			return fmt.Errorf("%s: invalid argument %q", cmd, arg)
		}
	}

	var err error
	switch cmd {
	case "up":
		if n > 0 {
			err = m.Steps(n)
		} else {
			err = m.Up()
		}
	case "down":
		// down always takes an explicit count
		if n == 0 {
			return errors.New("down: number of steps required")
		}
		err = m.Steps(-n)
	case "version":
		return nil
	case "force":
		if arg == "" {
			return errors.New("force: version required")
		}
		err = m.Force(n)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

func databaseURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		envOrDefault("DB_USER", "clinai"),
		envOrDefault("DB_PASSWORD", "clinai-dev"),
		envOrDefault("DB_HOST", "localhost"),
		envOrDefault("DB_PORT", "5432"),
		envOrDefault("DB_NAME", "clinai"),
	)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
