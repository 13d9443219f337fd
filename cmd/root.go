package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/monogit/monogit/config"
	"github.com/monogit/monogit/pkgs/logger"
)

var (
	// BuildVersion is set by goreleaser at build time.
	BuildVersion = ""
	// BuildCommit is the git hash the binary was built from.
	BuildCommit = ""
	// BuildDate is when the binary was built.
	BuildDate = ""
)

var (
	log logger.Logger

	// cfg is the process-wide application config, populated by
	// PersistentPreRun before any subcommand runs.
	cfg *config.AppConfig
)

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "monogitd",
	Short: "monogit - a monorepo platform engine",
	Long: `monogitd serves a single monorepo's object store, ref store and smart-HTTP
git protocol, coordinates build dispatch through orion, and mounts the
Scorpio FUSE overlay view of the tree.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		home, _ := cmd.Flags().GetString("home")
		configFile, _ := cmd.Flags().GetString("config")

		loaded, err := config.Load(configFile)
		if err != nil {
			log = logger.NewLogrus()
			log.Fatal("failed to load config: " + err.Error())
		}
		if home != "" {
			loaded.SetDataDir(home)
		}
		cfg = loaded
		log = cfg.G().Log
	},
}

func init() {
	rootCmd.PersistentFlags().String("home", "", "Set the path to the data directory")
	rootCmd.PersistentFlags().String("config", "monogit.yaml", "Path to the config file")
	viper.BindPFlag("home", rootCmd.PersistentFlags().Lookup("home"))
}
