package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xraph/genqueue/client"
)

// flag names
const (
	flagServer = "server"
	flagToken  = "token"
	flagEnv    = "env-file"
)

// environment variable names for the client commands
const (
	envServer = "GENQUEUE_SERVER"
	envToken  = "GENQUEUE_TOKEN"
)

var (
	serverAddress string
	token         string
	envFile       string
)

var rootCmd = &cobra.Command{
	Use:           "genqueue",
	Short:         "Queue and run video generation jobs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// A missing default .env is fine; an explicit one must exist.
		if err := godotenv.Load(envFile); err != nil {
			if cmd.Flags().Changed(flagEnv) || !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		if !cmd.Flags().Changed(flagServer) {
			if v := os.Getenv(envServer); v != "" {
				serverAddress = v
			}
		}
		if !cmd.Flags().Changed(flagToken) {
			token = os.Getenv(envToken)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, flagEnv, ".env", "File of KEY=value pairs loaded into the environment")
	rootCmd.PersistentFlags().StringVarP(&serverAddress, flagServer, "s", "http://localhost:8000", "Server address for client commands (env: "+envServer+")")
	rootCmd.PersistentFlags().StringVarP(&token, flagToken, "t", "", "Bearer token for client commands (env: "+envToken+")")

	rootCmd.Version = version
	rootCmd.AddCommand(serveCmd, submitCmd, statusCmd, cancelCmd, statsCmd)
}

func newClient() (*client.Client, error) {
	return client.New(serverAddress, client.WithToken(token))
}
