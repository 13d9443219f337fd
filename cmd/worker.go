package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/monogit/monogit/orion"
)

var workerCmd = &cobra.Command{
	Use:   "worker <dispatcher-ws-url>",
	Short: "Connect to an orion dispatcher and run dispatched build tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		script, _ := cmd.Flags().GetString("script")
		return runWorker(args[0], script)
	},
}

func init() {
	workerCmd.Flags().String("script", "./build.sh", "Build script invoked with each task's changed paths")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(url, script string) error {
	hostname, _ := os.Hostname()
	client, err := orion.DialWorker(url, hostname, orion.ShellBuildRunner(script), log)
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info("orion: connected to dispatcher", "url", url)
	return client.Run()
}
