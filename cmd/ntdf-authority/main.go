package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/arkavo-org/ntdf-go/internal/authority"
	"github.com/arkavo-org/ntdf-go/internal/authority/db"
	"github.com/arkavo-org/ntdf-go/internal/logx"
	"github.com/arkavo-org/ntdf-go/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or NTDF_LOG_LEVEL)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("ntdf-authority"))
		fmt.Fprintf(os.Stderr, "ntdf-authority validates authorization chains and issues terminal links.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  NTDF_MASTER_KEY             Master key sealing the KAS key at rest (64 hex chars, required)\n")
		fmt.Fprintf(os.Stderr, "  NTDF_ADMIN_TOKEN            Admin Bearer token for management APIs (min 16 chars, required)\n")
		fmt.Fprintf(os.Stderr, "  NTDF_DB_PATH                SQLite database path (default: ntdf.db)\n")
		fmt.Fprintf(os.Stderr, "  NTDF_LISTEN_ADDR            Listen address (default: :8080)\n")
		fmt.Fprintf(os.Stderr, "  NTDF_BASE_URL               Public base URL stamped into link locators and proof checks\n")
		fmt.Fprintf(os.Stderr, "  NTDF_AUDIENCE               Default audience for terminal claims (default: arkavo)\n")
		fmt.Fprintf(os.Stderr, "  NTDF_TERMINAL_TTL           Terminal link lifetime in seconds (default: 3600)\n")
		fmt.Fprintf(os.Stderr, "  NTDF_CLOCK_SKEW             Accepted claim/proof clock skew in seconds (default: 60)\n")
		fmt.Fprintf(os.Stderr, "  NTDF_ALLOW_JAILBROKEN       Admit jailbroken/debug device postures (default: false)\n")
		fmt.Fprintf(os.Stderr, "  NTDF_UNKNOWN_AS_JAILBROKEN  Reject devices with unknown posture (default: false)\n")
		fmt.Fprintf(os.Stderr, "  NTDF_ATTEST_STRICT          Require verified attestation on /authorize (default: false)\n")
		fmt.Fprintf(os.Stderr, "  NTDF_CORS_ORIGINS           Comma-separated allowed CORS origins\n")
		fmt.Fprintf(os.Stderr, "  NTDF_LOG_LEVEL              Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("ntdf-authority"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := authority.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	kas, err := authority.LoadOrCreateKAS(store, cfg.MasterKey)
	if err != nil {
		log.Fatalf("load kas key: %v", err)
	}

	r := authority.NewRouter(store, kas, cfg)
	logx.Infof("authority config: audience=%s terminal_ttl=%s skew=%s attest_strict=%v",
		cfg.Audience, cfg.TerminalTTL, cfg.ClockSkew, cfg.AttestStrict)

	log.Printf("ntdf-authority listening on %s", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
