// Command imapctl is an operator CLI over the goimap client library: a
// thin cobra wrapper that loads imapctl's own YAML config, dials one
// connection per invocation, and drives a single high-level operation
// before exiting.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arlojansen/goimap"
	"github.com/arlojansen/goimap/internal/config"
	"github.com/arlojansen/goimap/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "imapctl",
	Short: "Operator CLI for the goimap client library",
	Long: `imapctl drives a goimap.Client against one configured IMAP
server: list mailboxes, fetch and search messages, download attachments,
watch a mailbox with IDLE, and inspect quota and status.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger, err = logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if cfg.Metrics.Enabled {
			go serveMetrics(cfg.Metrics.Addr)
		}
		return nil
	},
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server exited", "error", err.Error())
	}
}

// dial connects and completes the full bootstrap sequence using the
// loaded config; callers defer client.Close() or call Logout themselves.
func dial(ctx context.Context) (*goimap.Client, error) {
	mechanism := goimap.Mechanism(strings.ToUpper(cfg.Auth.Mechanism))

	startTLSMode := goimap.StartTLSAuto
	if cfg.Server.DoSTARTTLS != nil {
		if *cfg.Server.DoSTARTTLS {
			startTLSMode = goimap.StartTLSRequire
		} else {
			startTLSMode = goimap.StartTLSNever
		}
	}

	maxIdle, err := cfg.IdleMaxIdleTime()
	if err != nil {
		return nil, err
	}
	if cfg.Idle.Disabled {
		maxIdle = 0
	}

	opts := goimap.DialOptions{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Secure:       cfg.Server.Secure,
		StartTLSMode: startTLSMode,
		TLSConfig: &tls.Config{
			ServerName:         cfg.Server.Host,
			InsecureSkipVerify: cfg.Server.TLSInsecure,
		},
		ProxyURL:    cfg.Proxy.URL,
		Credentials: goimap.Credentials{Username: cfg.Auth.Username, Password: cfg.Auth.Password, AuthzID: cfg.Auth.AuthzID, Token: cfg.Auth.Token, Host: cfg.Server.Host, Port: cfg.Server.Port},
		Mechanism:   mechanism,
		EnableNames: []string{"CONDSTORE", "UTF8=ACCEPT"},
		MaxIdleTime: maxIdle,
		Logger:      logger,
		Events: goimap.Events{
			OnExists:  func(n uint32) { logger.Info("exists", "count", n) },
			OnExpunge: func(seq uint32) { logger.Info("expunge", "seq", seq) },
			OnError:   func(err error) { logger.Warn("async error", "error", err.Error()) },
			OnClose:   func(err error) { logger.Info("connection closed", "error", errString(err)) },
		},
	}

	return goimap.Dial(ctx, opts)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var listCmd = &cobra.Command{
	Use:   "list [reference] [pattern]",
	Short: "List mailboxes",
	Args:  cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Logout(ctx)

		opts := goimap.ListOptions{Pattern: "*"}
		if len(args) > 0 {
			opts.Reference = args[0]
		}
		if len(args) > 1 {
			opts.Pattern = args[1]
		}
		boxes, err := c.List(ctx, opts)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		for _, mb := range boxes {
			marker := " "
			if mb.Subscribed {
				marker = "*"
			}
			fmt.Printf("%s %-40s %s\n", marker, mb.Path, strings.Join(mb.Flags, " "))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <mailbox>",
	Short: "Report STATUS for a mailbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Logout(ctx)

		res, err := c.Status(ctx, args[0], goimap.StatusItems{
			Messages: true, UIDNext: true, UIDValidity: true, Unseen: true, HighestModseq: true,
		})
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		fmt.Printf("mailbox:       %s\n", res.Path)
		fmt.Printf("messages:      %d\n", res.Messages)
		fmt.Printf("unseen:        %d\n", res.Unseen)
		fmt.Printf("uidnext:       %d\n", res.UIDNext)
		fmt.Printf("uidvalidity:   %d\n", res.UIDValidity)
		if res.HasHighestModseq {
			fmt.Printf("highestmodseq: %d\n", res.HighestModseq)
		}
		return nil
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota <mailbox>",
	Short: "Report quota usage for a mailbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Logout(ctx)

		resources, err := c.GetQuota(ctx, args[0])
		if err != nil {
			return fmt.Errorf("quota: %w", err)
		}
		for _, r := range resources {
			fmt.Printf("%-12s %d / %d\n", r.Name, r.Usage, r.Limit)
		}
		return nil
	},
}

var fetchMailbox string
var fetchRange string
var fetchUID bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch messages from a mailbox and print a one-line summary per message",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Logout(ctx)

		if _, err := c.SelectMailbox(ctx, fetchMailbox, true); err != nil {
			return fmt.Errorf("select %s: %w", fetchMailbox, err)
		}

		rng := fetchRange
		if rng == "" {
			rng = "1:*"
		}
		err = c.Fetch(ctx, rng, goimap.FetchOptions{
			UID: fetchUID,
			Items: goimap.FetchItems{
				Envelope: true, Flags: true, Size: true, InternalDate: true,
			},
		}, func(msg *goimap.FetchMessage) {
			subject := ""
			from := ""
			if msg.Envelope != nil {
				subject = msg.Envelope.Subject
				if len(msg.Envelope.From) > 0 {
					from = msg.Envelope.From[0].String()
				}
			}
			fmt.Printf("%-6d uid=%-8d %6d bytes  %-30s %s\n", msg.Seq, msg.UID, msg.Size, from, subject)
		})
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		return nil
	},
}

var downloadMailbox string
var downloadUID uint32
var downloadPart string
var downloadMaxBytes int64
var downloadOut string

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download one message part to a file (or stdout with --out -)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if downloadUID == 0 {
			return fmt.Errorf("--uid is required")
		}
		ctx := context.Background()
		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Logout(ctx)

		if _, err := c.SelectMailbox(ctx, downloadMailbox, true); err != nil {
			return fmt.Errorf("select %s: %w", downloadMailbox, err)
		}

		opts := goimap.DownloadOptions{UID: true, Part: downloadPart, ChunkSize: uint32(cfg.Fetch.ChunkSize)}
		if downloadMaxBytes > 0 {
			opts.MaxBytes = uint64(downloadMaxBytes)
		} else if cfg.Fetch.MaxBytes > 0 {
			opts.MaxBytes = uint64(cfg.Fetch.MaxBytes)
		}

		meta, body, err := c.Download(ctx, downloadUID, opts)
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		defer body.Close()

		var out io.Writer = os.Stdout
		if downloadOut != "" && downloadOut != "-" {
			f, err := os.Create(downloadOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		n, err := io.Copy(out, body)
		if err != nil {
			return fmt.Errorf("download: copying body: %w", err)
		}
		logger.Info("download complete", "bytes", n, "contentType", meta.ContentType, "expectedSize", meta.ExpectedSize)
		return nil
	},
}

var idleMailbox string

var idleCmd = &cobra.Command{
	Use:   "idle",
	Short: "Select a mailbox and watch it with IDLE until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Logout(ctx)

		if _, err := c.SelectMailbox(ctx, idleMailbox, true); err != nil {
			return fmt.Errorf("select %s: %w", idleMailbox, err)
		}

		fmt.Printf("watching %s, press Ctrl+C to stop\n", idleMailbox)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		stop := make(chan struct{})
		go func() {
			<-sigCh
			close(stop)
		}()
		return c.Idle(ctx, stop)
	},
}

var searchMailbox string
var searchUnseen bool
var searchFrom string
var searchSince string

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search a mailbox and print matching sequence numbers or UIDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := dial(ctx)
		if err != nil {
			return err
		}
		defer c.Logout(ctx)

		if _, err := c.SelectMailbox(ctx, searchMailbox, true); err != nil {
			return fmt.Errorf("select %s: %w", searchMailbox, err)
		}

		query := &goimap.SearchQuery{Unseen: searchUnseen, From: searchFrom}
		if searchSince != "" {
			t, err := time.Parse("2006-01-02", searchSince)
			if err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			query.Since = t
		}

		ids, err := c.Search(ctx, query)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("imapctl v0.1.0")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "imapctl.yaml", "config file path")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(versionCmd)

	fetchCmd.Flags().StringVar(&fetchMailbox, "mailbox", "INBOX", "mailbox to select")
	fetchCmd.Flags().StringVar(&fetchRange, "range", "1:*", "sequence or UID range")
	fetchCmd.Flags().BoolVar(&fetchUID, "uid", false, "treat --range as a UID set")
	rootCmd.AddCommand(fetchCmd)

	downloadCmd.Flags().StringVar(&downloadMailbox, "mailbox", "INBOX", "mailbox to select")
	downloadCmd.Flags().Uint32Var(&downloadUID, "uid", 0, "message UID to download")
	downloadCmd.Flags().StringVar(&downloadPart, "part", "1", "dotted MIME part number")
	downloadCmd.Flags().Int64Var(&downloadMaxBytes, "max-bytes", 0, "cap decoded bytes (0 = use config/unlimited)")
	downloadCmd.Flags().StringVar(&downloadOut, "out", "-", "output file, or - for stdout")
	rootCmd.AddCommand(downloadCmd)

	idleCmd.Flags().StringVar(&idleMailbox, "mailbox", "INBOX", "mailbox to watch")
	rootCmd.AddCommand(idleCmd)

	searchCmd.Flags().StringVar(&searchMailbox, "mailbox", "INBOX", "mailbox to select")
	searchCmd.Flags().BoolVar(&searchUnseen, "unseen", false, "match unseen messages")
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "match From: containing this string")
	searchCmd.Flags().StringVar(&searchSince, "since", "", "match messages received since this date (YYYY-MM-DD)")
	rootCmd.AddCommand(searchCmd)
}
