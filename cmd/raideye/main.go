package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	// .env is optional; real env vars always win.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "raideye",
		Short:        "Discord bot that turns clash score screenshots into RaidEye records",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to config.toml")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the admin server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
