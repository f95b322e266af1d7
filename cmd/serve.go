package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"alertpipe/bootstrap"
	"alertpipe/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enrichment service",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		app, err := bootstrap.NewApp(cfg)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- app.Start()
		}()

		done := make(chan struct{})
		go func() {
			app.WaitForShutdown()
			close(done)
		}()

		select {
		case err := <-errCh:
			app.Shutdown()
			return err
		case <-done:
			app.Shutdown()
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
