package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lexcodex/gradscout/agents"
	"github.com/lexcodex/gradscout/framework"
)

// batchFile is the YAML input of `gradscout batch`.
type batchFile struct {
	Profiles []batchEntry `yaml:"profiles"`
}

type batchEntry struct {
	ID       string `yaml:"id"`
	Profile  string `yaml:"profile"`
	Document string `yaml:"document,omitempty"`
}

type batchOutput struct {
	ID             string                    `json:"id"`
	RunID          string                    `json:"run_id,omitempty"`
	Status         framework.RunStatus       `json:"status,omitempty"`
	Recommendation *framework.Recommendation `json:"recommendation,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

func loadBatchFile(path string) ([]batchEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file batchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("%s lists no profiles", path)
	}
	base := filepath.Dir(path)
	for i := range file.Profiles {
		entry := &file.Profiles[i]
		if entry.ID == "" {
			entry.ID = fmt.Sprintf("profile-%d", i+1)
		}
		if entry.Document != "" && !filepath.IsAbs(entry.Document) {
			entry.Document = filepath.Join(base, entry.Document)
		}
	}
	return file.Profiles, nil
}

func newBatchCmd() *cobra.Command {
	var (
		stageSet    string
		concurrency int
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run the pipeline for every profile listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := loadBatchFile(args[0])
			if err != nil {
				return err
			}
			sess, err := openSession(stageSet)
			if err != nil {
				return err
			}
			defer sess.Close()

			reqs := make([]agents.Request, len(entries))
			for i, entry := range entries {
				reqs[i] = agents.Request{Profile: entry.Profile, Credentials: sess.creds}
				if entry.Document != "" {
					data, err := os.ReadFile(entry.Document)
					if err != nil {
						return fmt.Errorf("%s: %w", entry.ID, err)
					}
					reqs[i].Document = bytes.NewReader(data)
				}
			}
			results, batchErr := sess.advisor.RunBatch(cmd.Context(), reqs, concurrency)

			outputs := make([]batchOutput, len(results))
			failed := 0
			for i, res := range results {
				out := batchOutput{ID: entries[i].ID}
				if res.Run != nil {
					rec := framework.BuildRecommendation(res.Run)
					out.RunID = res.Run.ID
					out.Status = res.Run.Status
					out.Recommendation = &rec
				}
				if res.Err != nil {
					out.Error = res.Err.Error()
				}
				if out.Error != "" || out.Status != framework.RunSucceeded {
					failed++
				}
				outputs[i] = out
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(outputs); err != nil {
					return err
				}
			} else {
				for _, out := range outputs {
					status := string(out.Status)
					if status == "" {
						status = "rejected"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", out.ID, status, out.RunID, out.Error)
				}
			}
			if batchErr != nil {
				return batchErr
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d profiles did not complete", failed, len(outputs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stageSet, "stage-set", "", "Stage set to run (default pipeline.stage_set)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Runs in flight at once (default pipeline.concurrency)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}
