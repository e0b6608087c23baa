// Command deferrable runs a deferrable worker process: it wires a queue
// backend, the engine, and the admin HTTP surface together the way a
// small deployment would, and is also useful on its own for smoke
// testing a set of registered callables against a local redis.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/deferrable-run/deferrable/pkg/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "deferrable",
		Short: "Run and inspect deferrable worker processes",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML/TOML/JSON config file")
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(newWorkerCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// resolveConfigFile returns explicit if set, otherwise
// ~/.config/deferrable/config.yaml if that file exists, otherwise "".
func resolveConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	home, err := homedir.Dir()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(home, ".config", "deferrable", "config.yaml")
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
