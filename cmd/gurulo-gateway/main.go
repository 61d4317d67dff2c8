// ABOUTME: Entry point for the gurulo-gateway auth server
// ABOUTME: Serves passkey, token, and device-trust endpoints over HTTP and gRPC

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bakhmaro/gurulo-gateway/internal/config"
	"github.com/bakhmaro/gurulo-gateway/internal/gateway"
	"github.com/bakhmaro/gurulo-gateway/internal/identity"
	"github.com/bakhmaro/gurulo-gateway/internal/store"
	"github.com/bakhmaro/gurulo-gateway/internal/token"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                            _
  __ _ _   _ _ __ _   _    | | ___
 / _' | | | | '__| | | |   | |/ _ \
| (_| | |_| | |  | |_| |   | | (_) |
 \__, |\__,_|_|   \__,_|   |_|\___/
 |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: GURULO_CONFIG env var > XDG_CONFIG_HOME/gurulo/gateway.yaml > ~/.config/gurulo/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GURULO_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "gurulo", "gateway.yaml")
}

// getDataPath returns the path to the gurulo data directory.
// Priority: XDG_DATA_HOME/gurulo > ~/.local/share/gurulo
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "gurulo")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: gurulo-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the gateway server")
		fmt.Println("  bootstrap  Create config and the registered owner account")
		fmt.Println("  health     Check gateway health")
		fmt.Println("  audit      Show recent audit log entries")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "bootstrap":
		err = runBootstrap(ctx)
	case "health":
		err = runHealth(ctx)
	case "audit":
		err = runAudit(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:     %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting gurulo-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runAudit prints recent audit log entries straight from the database.
func runAudit(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	filter := store.AuditFilter{Limit: 50}
	if len(os.Args) > 2 && os.Args[2] == "--denied" {
		filter.OnlyDenied = true
	}

	records, err := s.ListAuditRecords(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit records: %w", err)
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	for _, rec := range records {
		verdict := green.Sprint("allow")
		if !rec.Allowed {
			verdict = red.Sprintf("deny:%s", rec.Reason)
		}
		fmt.Printf("%s  %-30s %-20s %s\n",
			rec.Timestamp.Format(time.RFC3339), rec.Action, verdict, rec.PersonalID)
	}
	if len(records) == 0 {
		fmt.Println("no audit entries")
	}
	return nil
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with random secrets (if not exists)
// 2. Creates the database and the registered owner account
// 3. Prints an initial password and access token for the owner
func runBootstrap(ctx context.Context) error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "gateway.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var cfg *config.Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		jwtSecret, err := randomSecret(32)
		if err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		fingerprintSalt, err := randomSecret(16)
		if err != nil {
			return fmt.Errorf("generating fingerprint salt: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		configContent := fmt.Sprintf(`# gurulo-gateway configuration
# Generated by gurulo-gateway bootstrap

server:
  http_addr: "localhost:8080"
  grpc_addr: "localhost:50051"
  base_url: "http://localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

device:
  fingerprint_salt: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret, fingerprintSalt)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		green.Printf("  ✓ Created config: %s\n", configPath)

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	if _, err := s.GetUserByPersonalID(ctx, identity.SuperAdminPersonalID); err == nil {
		return fmt.Errorf("bootstrap already complete: owner account exists")
	}

	resolver := identity.NewResolver(identity.Config{
		Email:       cfg.SuperAdmin.Email,
		DisplayName: cfg.SuperAdmin.DisplayName,
		Aliases:     cfg.SuperAdmin.Aliases,
	})
	profile := resolver.Profile()

	password, err := randomSecret(12)
	if err != nil {
		return fmt.Errorf("generating password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()
	owner := &store.User{
		ID:           uuid.New().String(),
		PersonalID:   profile.PersonalID,
		Email:        profile.Email,
		DisplayName:  profile.DisplayName,
		Role:         profile.Role,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateUser(ctx, owner); err != nil {
		return fmt.Errorf("creating owner account: %w", err)
	}

	green.Printf("  ✓ Created owner account: %s\n", profile.DisplayName)

	tokens := token.NewService(token.Config{
		Secret:     []byte(cfg.Auth.JWTSecret),
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})
	access, err := tokens.IssueAccess(token.Subject{
		UserID:     owner.ID,
		PersonalID: owner.PersonalID,
		Role:       owner.Role,
	})
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(access), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Owner Account")
	cyan.Println("  -------------")
	fmt.Printf("  Display Name: %s\n", owner.DisplayName)
	fmt.Printf("  Email:        %s\n", owner.Email)
	fmt.Printf("  Role:         %s\n", owner.Role)
	fmt.Printf("  Password:     %s\n", password)
	fmt.Printf("  Token:        %s\n", tokenPath)
	fmt.Println()

	yellow.Println("  Register a passkey after first login; the password is a fallback.")
	fmt.Println("    gurulo-gateway serve    # start the gateway")
	fmt.Println()

	return nil
}

// randomSecret returns a URL-safe base64 secret of n random bytes.
func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
