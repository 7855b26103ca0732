package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/gradscout/server"
)

func newAskCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "ask RUN_ID QUESTION...",
		Short: "Ask a follow-up question about a run held by a running server",
		Long: "Runs live only in the memory of the process that produced them, so ask\n" +
			"talks to a `gradscout serve` instance over HTTP.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := serverURL
			if base == "" {
				base = "http://" + globalCfg.Server.Addr
			}
			question := strings.Join(args[1:], " ")
			payload, err := json.Marshal(server.QuestionRequest{Question: question})
			if err != nil {
				return err
			}
			url := strings.TrimRight(base, "/") + "/api/runs/" + args[0] + "/questions"
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			client := &http.Client{Timeout: globalCfg.Generation.Timeout + 30*time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				var apiErr server.ErrorResponse
				if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
					return fmt.Errorf("server returned %s", resp.Status)
				}
				return fmt.Errorf("server returned %s: %s", resp.Status, apiErr.Error)
			}
			var answer server.QuestionResponse
			if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), answer.Answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Server base URL (default http://<server.addr>)")
	return cmd
}
