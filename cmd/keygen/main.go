package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/af-corp/clinai/internal/auth"
	"github.com/af-corp/clinai/internal/types"
	"github.com/jackc/pgx/v5"
)

func main() {
	staff := flag.String("staff", "", "staff ID the key belongs to (required)")
	department := flag.String("department", "", "department ID used for budgets (required)")
	role := flag.String("role", auth.RoleStaff, "role: clinician, nurse, staff, admin")
	name := flag.String("name", "", "human-friendly key name (required)")
	env := flag.String("env", "prod", "environment segment of the key prefix")
	sensitivity := flag.String("sensitivity", string(types.SensitivityOperational), "highest data sensitivity: PUBLIC, OPERATIONAL, CLINICAL, PHI")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h)")
	rpm := flag.Int("rpm", 0, "requests per minute (0 = gateway default)")
	dailyCents := flag.Int("daily-spend-cents", 0, "department daily spend limit in cents (0 = unlimited)")
	providers := flag.String("providers", "", "comma-separated provider allow list (empty = all)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	if *staff == "" || *department == "" || *name == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -staff, -department, and -name are required")
		os.Exit(1)
	}
	if !auth.ValidRole(*role) {
		log.Fatalf("invalid role: %s", *role)
	}
	level, ok := types.ParseSensitivity(*sensitivity)
	if !ok {
		log.Fatalf("invalid sensitivity: %s", *sensitivity)
	}

	dur, err := auth.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}

	rawKey, err := auth.GenerateKey(*env)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	meta := auth.KeyMetadata{
		StaffID:          *staff,
		DepartmentID:     *department,
		Role:             *role,
		Name:             *name,
		MaxSensitivity:   level,
		AllowedProviders: splitList(*providers),
		ExpiresAt:        time.Now().Add(dur),
	}
	if *rpm > 0 {
		meta.RPMLimit = rpm
	}
	if *dailyCents > 0 {
		meta.DailySpendLimitCents = dailyCents
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, databaseURL(*dbURL))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	keyID, err := auth.InsertKey(ctx, conn, rawKey, meta)
	if err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Println("=== Clinical AI Gateway Staff Key ===")
	fmt.Println()
	fmt.Printf("  Key ID:       %s\n", keyID)
	fmt.Printf("  Key Prefix:   %s\n", auth.KeyPrefix(rawKey))
	fmt.Printf("  Staff:        %s\n", meta.StaffID)
	fmt.Printf("  Department:   %s\n", meta.DepartmentID)
	fmt.Printf("  Role:         %s\n", meta.Role)
	fmt.Printf("  Sensitivity:  %s\n", meta.MaxSensitivity)
	if len(meta.AllowedProviders) > 0 {
		fmt.Printf("  Providers:    %s\n", strings.Join(meta.AllowedProviders, ", "))
	}
	fmt.Printf("  Expires:      %s\n", meta.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  API Key (shown once, store it now):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("=====================================")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
