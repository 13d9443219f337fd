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
	"github.com/monogit/monogit/refstore"
	"github.com/monogit/monogit/scorpio"
	"github.com/monogit/monogit/storage"
)

var scorpioCmd = &cobra.Command{
	Use:   "scorpio",
	Short: "Mount a monorepo path/ref as a writable filesystem",
}

var scorpioMountCmd = &cobra.Command{
	Use:   "mount <repo-path> <ref> <mountpoint>",
	Short: "Mount repo-path at ref onto mountpoint, blocking until unmounted",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		author, _ := cmd.Flags().GetString("author")
		return scorpioMount(args[0], args[1], args[2], author)
	},
}

var scorpioServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the FUSE mount-lifecycle HTTP daemon (mount/select/mpoint/unmount/config)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return scorpioServe()
	},
}

func init() {
	scorpioMountCmd.Flags().String("author", "scorpio", "Commit author for Commit calls issued against this mount")
	scorpioCmd.AddCommand(scorpioMountCmd)
	scorpioCmd.AddCommand(scorpioServeCmd)
	rootCmd.AddCommand(scorpioCmd)
}

func scorpioServe() error {
	db := storage.NewBadger()
	if err := db.Init(filepath.Join(cfg.GetRepoRoot(), "db")); err != nil {
		return err
	}
	defer db.Close()

	blobs := objectstore.NewLocalBlobBackend(filepath.Join(cfg.GetRepoRoot(), "blobs"))
	objects := objectstore.New(db, log, cfg.ObjectStore.BlobOffloadThreshold, blobs)
	refs := refstore.New(db, log)

	daemon := scorpio.NewDaemon(db, objects, refs, cfg, log)
	srv := &http.Server{Addr: cfg.Scorpio.Addr, Handler: daemon}

	go func() {
		log.Info("scorpio: daemon listening", "addr", cfg.Scorpio.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("scorpio: daemon failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func scorpioMount(repoPath, refName, mountpoint, author string) error {
	db := storage.NewBadger()
	if err := db.Init(filepath.Join(cfg.GetRepoRoot(), "db")); err != nil {
		return err
	}
	defer db.Close()

	blobs := objectstore.NewLocalBlobBackend(filepath.Join(cfg.GetRepoRoot(), "blobs"))
	objects := objectstore.New(db, log, cfg.ObjectStore.BlobOffloadThreshold, blobs)
	refs := refstore.New(db, log)
	overlay := scorpio.NewOverlay(db, log)

	root, err := scorpio.NewRoot(objects, refs, overlay, repoPath, refName, author, cfg.Scorpio.GitServerURL, cfg.Scorpio, log)
	if err != nil {
		return err
	}

	server, err := root.Mount(mountpoint)
	if err != nil {
		return err
	}
	log.Info("scorpio: mounted", "path", repoPath, "ref", refName, "mountpoint", mountpoint)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("scorpio: unmounting", "mountpoint", mountpoint)
	return server.Unmount()
}
