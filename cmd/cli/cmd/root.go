package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "draftctl",
	Short: "draftctl is a command line tool for the draftplane video drafting platform",
	Long: `draftctl is the command-line interface for draftplane.

draftplane turns uploaded videos into editable drafts. A job moves through
upload, audio extraction, transcription and draft generation, driven by an
external workflow orchestrator that reports progress back to the controller.

Common workflows:

  Create a project and a job:
    draftctl project create "Launch video"
    draftctl job create <project-id>

  Start processing after the upload finished:
    draftctl job confirm-upload <job-id> --video-uri s3://bucket/raw.mp4
    draftctl job run <job-id>

  Retry a failed job from its last checkpoint:
    draftctl job retry <job-id> --request-id retry-1 --model-profile cloud-default

  Read the transcript:
    draftctl job transcript <job-id> --limit 50

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    DRAFTPLANE_URL      API endpoint (default: http://localhost:6161)
    DRAFTPLANE_TOKEN    API key for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".draftctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DRAFTPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds a client from the bound flags. It reports false and prints
// a hint when no token is configured.
func newClient(cmd *cobra.Command) (*DraftClient, bool) {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("API token not found. Please set it using the --token flag or the DRAFTPLANE_TOKEN environment variable")
		return nil, false
	}
	return NewDraftClient(viper.GetString("url"), token), true
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.draftctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "draftplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
