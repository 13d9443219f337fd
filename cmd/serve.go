package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/monogit/monogit/objectstore"
	"github.com/monogit/monogit/orion"
	"github.com/monogit/monogit/protocol"
	"github.com/monogit/monogit/refstore"
	"github.com/monogit/monogit/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the smart-HTTP protocol server and the orion build dispatcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	db := storage.NewBadger()
	if err := db.Init(filepath.Join(cfg.GetRepoRoot(), "db")); err != nil {
		return err
	}
	defer db.Close()

	blobs := objectstore.NewLocalBlobBackend(filepath.Join(cfg.GetRepoRoot(), "blobs"))
	objects := objectstore.New(db, log, cfg.ObjectStore.BlobOffloadThreshold, blobs)
	refs := refstore.New(db, log)

	protoServer := protocol.NewServer(objects, refs, log).
		WithLFS(db, "http://"+cfg.Remote.Addr+"/lfs", cfg.Remote.LFSSignedURLExpiry)
	httpSrv := &http.Server{Addr: cfg.Remote.Addr, Handler: protoServer}

	builds := orion.NewBuildStore(db)
	logs := orion.NewLogSink(filepath.Join(cfg.GetRepoRoot(), "build-logs"))
	dispatcher := orion.NewDispatcher(cfg.Orion, builds, logs, log)
	orionServer := orion.NewServer(dispatcher, log)
	orionSrv := &http.Server{Addr: cfg.Orion.Addr, Handler: orionServer}

	go dispatcher.Run()
	go func() {
		log.Info("protocol: listening", "addr", cfg.Remote.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("protocol: server failed", "err", err)
		}
	}()
	go func() {
		log.Info("orion: listening", "addr", cfg.Orion.Addr)
		if err := orionSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("orion: server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	dispatcher.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	_ = orionSrv.Shutdown(ctx)
	return nil
}
