package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/Daedalus/internal/project"
	"github.com/wehubfusion/Daedalus/pkg/render"
	"go.uber.org/zap"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Pre-render every page of the project to static files",
	RunE:  runRender,
}

func init() {
	renderCmd.Flags().String("out", "dist", "Output directory")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	dir, _ := cmd.Flags().GetString("dir")
	out, _ := cmd.Flags().GetString("out")

	proj, err := project.Load(dir, logger)
	if err != nil {
		return err
	}
	defer proj.Close()

	engine, err := render.NewEngine(logger)
	if err != nil {
		return err
	}

	sessionCfg := renderConfig(proj.Config.Render)
	sessionCfg.Assets = proj.Assets

	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}

	for name, build := range proj.Pages() {
		tree := proj.Shell.Tree(build)

		path := filepath.Join(out, name+".html")
		f, err := os.Create(path)
		if err != nil {
			return err
		}

		result, err := engine.Render(cmd.Context(), tree, sessionCfg, f)
		closeErr := f.Close()
		if err != nil {
			os.Remove(path)
			return fmt.Errorf("failed to render page %q: %w", name, err)
		}
		if closeErr != nil {
			return closeErr
		}

		logger.Info("Rendered page",
			zap.String("page", name),
			zap.String("path", path),
			zap.Int("degradedNodes", len(result.Report.Degraded)))
	}
	return nil
}
