package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/modflow/ModFlow/internal/api"
	"github.com/modflow/ModFlow/internal/ban"
	"github.com/modflow/ModFlow/internal/bot"
	"github.com/modflow/ModFlow/internal/classify"
	"github.com/modflow/ModFlow/internal/lockfile"
	"github.com/modflow/ModFlow/internal/notify"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/reaction"
	"github.com/modflow/ModFlow/internal/report"
	"github.com/modflow/ModFlow/internal/scheduler"
	"github.com/modflow/ModFlow/internal/store"
	"github.com/modflow/ModFlow/internal/util"
	"github.com/modflow/ModFlow/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ModFlow state data
	DefaultStateDir = "/var/lib/modflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "modflow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping ModFlow with configured modules")
	if err := run(flags); err != nil {
		slog.Error("ModFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ModFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	WhatsAppDSN  string
	DatabaseURL  string
	StateDir     string
	RedisAddr    string
	APIAddr      string
	ModChannels  string
	ReminderCron string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	redisAddr    *string
	apiAddr      *string
	modChannels  *string
	reminderCron *string
}

// initializeLogger sets up structured logging. MODFLOW_DEBUG raises the
// level to debug.
func initializeLogger() {
	level := slog.LevelInfo
	if util.BoolEnv("MODFLOW_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		WhatsAppDSN:  os.Getenv("WHATSAPP_DB_DSN"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("MODFLOW_STATE_DIR"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		APIAddr:      os.Getenv("MODFLOW_API_ADDR"),
		ModChannels:  os.Getenv("MODFLOW_MOD_CHANNELS"),
		ReminderCron: os.Getenv("MODFLOW_REMINDER_CRON"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MODFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"MODFLOW_STATE_DIR", config.StateDir,
		"REDIS_ADDR", config.RedisAddr,
		"MODFLOW_API_ADDR", config.APIAddr,
		"MODFLOW_MOD_CHANNELS", config.ModChannels,
		"MODFLOW_REMINDER_CRON", config.ReminderCron)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for ModFlow data (overrides $MODFLOW_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.WhatsAppDSN, "database DSN for WhatsApp and the report archive (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		redisAddr:    flag.String("redis-addr", config.RedisAddr, "Redis address for the ban ledger (overrides $REDIS_ADDR)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "address to serve the operational HTTP API on (overrides $MODFLOW_API_ADDR)"),
		modChannels:  flag.String("mod-channels", config.ModChannels, "comma-separated moderator channel JIDs (overrides $MODFLOW_MOD_CHANNELS)"),
		reminderCron: flag.String("reminder-cron", config.ReminderCron, "cron schedule for unclaimed-report reminders (overrides $MODFLOW_REMINDER_CRON)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisAddr", *flags.redisAddr,
		"apiAddr", *flags.apiAddr,
		"modChannels", *flags.modChannels,
		"reminderCron", *flags.reminderCron)

	if *flags.dbDSN == config.WhatsAppDSN && config.WhatsAppDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return waOpts
}

// buildArchiveStore opens the report archive matching the DSN, or an
// in-memory store when none is configured.
func buildArchiveStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// parseModChannels splits the moderator channel list.
func parseModChannels(raw string) []platform.ChannelID {
	var out []platform.ChannelID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, platform.ChannelID(part))
		}
	}
	return out
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	archive, err := buildArchiveStore(flags)
	if err != nil {
		return err
	}
	defer archive.Close()

	scorer, err := classify.NewOpenAIScorer()
	if err != nil {
		return err
	}
	classifier := classify.New(scorer, archive)

	var banner bot.Banner
	if *flags.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *flags.redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis, disabling the ban ledger", "error", err, "addr", *flags.redisAddr)
		} else {
			banner = ban.NewStore(client)
			defer client.Close()
		}
	}

	var pager *notify.Pager
	var notifier report.Notifier
	if p, err := notify.NewPager(); err != nil {
		slog.Warn("Urgent paging disabled", "error", err)
	} else {
		pager = p
		notifier = p
	}

	wa, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
	if err != nil {
		return err
	}
	defer wa.Close()

	registry := reaction.NewRegistry()
	desk := report.NewDesk(report.DeskOpts{
		Deps:        report.Deps{Sender: wa, Reactions: registry},
		Store:       archive,
		Notifier:    notifier,
		ModChannels: parseModChannels(*flags.modChannels),
		DMChannel:   func(u platform.UserID) platform.ChannelID { return platform.ChannelID(u) },
	})

	botOpts := bot.Opts{
		Sender:     wa,
		Reactions:  registry,
		Desk:       desk,
		Classifier: classifier,
		Banner:     banner,
		Hashes:     archive,
		Kick:       wa.KickParticipant,
	}
	if pager != nil {
		botOpts.Escalate = func(ctx context.Context, r *report.Report) error {
			return pager.Escalate(ctx, r.ID, r.Category)
		}
	}
	b := bot.New(botOpts)

	if *flags.apiAddr != "" {
		api.NewServer(archive, api.WithAddr(*flags.apiAddr)).Start(ctx)
	}

	if *flags.reminderCron != "" {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.AddJob(*flags.reminderCron, func() {
			desk.RemindUnclaimed(ctx, 30*time.Minute)
		}); err != nil {
			slog.Error("Invalid reminder cron expression, reminders disabled", "error", err, "expr", *flags.reminderCron)
		}
	}

	err = b.Run(ctx, wa.Events())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
