// Package whatsapp wraps the Whatsmeow client as a chat transport for ModFlow.
//
// It implements platform.Sender for outbound traffic and pumps inbound
// Whatsmeow events into platform.Event values for the router.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"github.com/modflow/ModFlow/internal/platform"
	"github.com/modflow/ModFlow/internal/store"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/modflow/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
	// GroupJIDSuffix is the WhatsApp JID suffix for group chats
	GroupJIDSuffix = "g.us"
)

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
	EventBuffer int    // inbound event channel capacity
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) { o.DBDSN = dsn }
}

// WithQRCodeOutput instructs the client to write the login QR code to the
// specified path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) { o.QRPath = path }
}

// WithNumericCode instructs the client to use a numeric login code instead of
// a QR code.
func WithNumericCode() Option {
	return func(o *Opts) { o.NumericCode = true }
}

// WithEventBuffer sets the inbound event channel capacity.
func WithEventBuffer(n int) Option {
	return func(o *Opts) { o.EventBuffer = n }
}

// Client wraps the Whatsmeow client for modular use. It satisfies
// platform.Sender and surfaces inbound traffic on Events.
type Client struct {
	waClient *whatsmeow.Client
	events   chan platform.Event

	mu      sync.Mutex
	senders map[platform.MessageRef]types.JID // message author, needed to revoke
}

// NewClient creates a new WhatsApp client, applying any provided options.
// It initializes the whatsmeow device store, runs the QR or numeric login
// flow on first use, and connects to the server.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	// Auto-detect database driver based on DSN
	dbDriver := store.DetectDSNType(dbDSN)
	if dbDriver == "sqlite3" && !strings.Contains(dbDSN, "foreign_keys") {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"The whatsmeow library strongly recommends enabling foreign keys for data integrity. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	slog.Debug("WhatsApp NewClient initializing DB store", "driver", dbDriver, "dsn_set", dbDSN != "")
	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	c := &Client{
		waClient: waClient,
		events:   make(chan platform.Event, buffer),
		senders:  make(map[platform.MessageRef]types.JID),
	}
	waClient.AddEventHandler(c.handleEvent)

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				slog.Error("Failed to create QR file", "error", ferr)
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				slog.Debug("WhatsApp login event code received", "code", evt.Code)
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("WhatsApp login event", "event", evt.Event)
				fmt.Println("Login event:", evt.Event)
			}
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return c, nil
}

// Events returns the inbound event stream. The channel is closed when the
// client disconnects for good.
func (c *Client) Events() <-chan platform.Event {
	return c.events
}

// Close disconnects from the WhatsApp server and closes the event stream.
func (c *Client) Close() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
	close(c.events)
}

// GetClient returns the underlying whatsmeow client for advanced use.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

func (c *Client) rememberSender(ref platform.MessageRef, sender types.JID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Bounded; refs of revoked messages are dropped in forgetSender.
	if len(c.senders) > 4096 {
		c.senders = make(map[platform.MessageRef]types.JID)
	}
	c.senders[ref] = sender
}

func (c *Client) senderOf(ref platform.MessageRef) types.JID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.senders[ref]
}

func (c *Client) forgetSender(ref platform.MessageRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.senders, ref)
}
