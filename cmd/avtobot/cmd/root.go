package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "avtobot",
	Short: "avtobot - Telegram bot for a moderated car-ads channel",
	Long:  `avtobot routes user messages into per-user forum topics, helps operators author channel posts with LLM-assisted captions, runs broadcasts, and reconciles posts deleted from the channel.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
