// Command sakuradb is the database entry point. The shell subcommand
// starts an interactive session against a local data directory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "sakuradb",
		Short: "A single-node relational database engine",
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the sakuradb version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("sakuradb", version)
		},
	}

	configPath string
)

const version = "0.1.0"

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
