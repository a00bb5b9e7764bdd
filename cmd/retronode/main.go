// Command retronode runs one friend-to-friend node: it loads the YAML
// config and location certificate, assembles the subsystems and serves
// until interrupted.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/retroshare-go/retronode/internal/config"
	"github.com/retroshare-go/retronode/internal/gxsdb"
	"github.com/retroshare-go/retronode/internal/identity"
	"github.com/retroshare-go/retronode/internal/node"
)

func main() {
	var (
		baseDir    string
		configPath string
		listenPort uint16
		verbose    bool
	)

	root := &cobra.Command{
		Use:   "retronode",
		Short: "friend-to-friend network node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return run(baseDir, configPath, listenPort)
		},
	}
	root.Flags().StringVar(&baseDir, "base-dir", "", "state directory (default: ~/.retroshare)")
	root.Flags().StringVar(&configPath, "config", "", "config file (default: <base-dir>/retronode.yaml)")
	root.Flags().Uint16Var(&listenPort, "listen-port", 0, "override the configured listen port")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func run(baseDir, configPath string, listenPort uint16) error {
	var err error
	if baseDir == "" {
		baseDir, err = config.DefaultBaseDir()
		if err != nil {
			return err
		}
	}
	if configPath == "" {
		configPath = filepath.Join(baseDir, "retronode.yaml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if listenPort != 0 {
		cfg.ListenPort = listenPort
	}

	locDirs, err := config.FindLocationDirs(baseDir)
	if err != nil {
		return err
	}
	if len(locDirs) == 0 {
		return fmt.Errorf("no location directory under %s", baseDir)
	}
	loc := locDirs[0]
	logrus.WithFields(logrus.Fields{"location": loc.SslID, "hidden": loc.Hidden}).
		Info("using location")

	cert, err := tls.LoadX509KeyPair(
		filepath.Join(loc.Path, "ssl_cert.pem"),
		filepath.Join(loc.Path, "ssl_key.pem"),
	)
	if err != nil {
		return fmt.Errorf("load location certificate: %w", err)
	}

	peers, perrs := cfg.Locations()
	for _, e := range perrs {
		logrus.Warn(e)
	}

	// A missing database is tolerated; GXS sync then runs without
	// persistence. An unreadable or future-release database is fatal.
	var store *gxsdb.Store
	dbPath := filepath.Join(loc.Path, "gxsid_db")
	if _, statErr := os.Stat(dbPath); statErr == nil {
		store, err = gxsdb.Open(dbPath, os.Getenv("RETRONODE_DB_KEY"))
		if err != nil {
			return err
		}
		defer store.Close()
	}

	n := node.New(node.Options{
		Cert:           cert,
		Verifier:       identity.NewKeyring(),
		Peers:          peers,
		Store:          store,
		BandwidthLimit: cfg.BandwidthLimit,
		ListenAddr:     fmt.Sprintf(":%d", cfg.ListenPort),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logrus.WithField("port", cfg.ListenPort).Info("node starting")
	if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
