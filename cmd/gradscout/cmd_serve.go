package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/gradscout/server"
)

func newServeCmd() *cobra.Command {
	var (
		addr       string
		stageSet   string
		runTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(stageSet)
			if err != nil {
				return err
			}
			defer sess.Close()
			if addr == "" {
				addr = sess.cfg.Server.Addr
			}
			api := &server.APIServer{
				Advisor:          sess.advisor,
				Credentials:      sess.creds,
				Logger:           logger.Named("api"),
				ShutdownTimeout:  sess.cfg.Server.ShutdownTimeout,
				RunTimeout:       runTimeout,
				MaxDocumentBytes: sess.cfg.Document.MaxBytes,
			}
			cmd.Printf("Serving stage set %s on %s\n", sess.advisor.StageSet().Name, addr)
			err = api.ServeContext(cmd.Context(), addr)
			if errors.Is(err, context.Canceled) {
				logger.Info("server stopped", zap.String("addr", addr))
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
	cmd.Flags().StringVar(&stageSet, "stage-set", "", "Stage set to serve (default pipeline.stage_set)")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", 0, "Upper bound for one streamed run (0 disables)")
	return cmd
}
