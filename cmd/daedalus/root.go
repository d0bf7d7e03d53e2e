package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/Daedalus/internal/config"
	"github.com/wehubfusion/Daedalus/pkg/render"
	"github.com/wehubfusion/Daedalus/pkg/scheduler"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "daedalus",
	Short: "Daedalus builds and serves server-side-rendered component applications",
	Long: `Daedalus renders component trees containing asynchronous bridge nodes
into complete HTML documents with an inlined hydration payload, either on
demand through the development server or ahead of time as static pages.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("dir", ".", "Project directory")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}

// newLogger builds the process logger according to the --debug flag
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// renderConfig maps the project file's render section onto a session config
func renderConfig(rc config.RenderConfig) render.Config {
	mode := scheduler.FailFast
	if rc.BestEffort() {
		mode = scheduler.BestEffort
	}
	return render.Config{
		MaxConcurrentResolutions: rc.MaxConcurrentResolutions,
		GlobalTimeout:            rc.GlobalTimeout,
		PerNodeTimeout:           rc.PerNodeTimeout,
		NodeRetries:              rc.NodeRetries,
		FailureMode:              mode,
		FallbackMarkup:           rc.FallbackMarkup,
	}
}
