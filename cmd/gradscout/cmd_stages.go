package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/gradscout/agents"
	"github.com/lexcodex/gradscout/framework"
)

func newStagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stages",
		Short: "Inspect and author stage sets",
	}
	cmd.AddCommand(newStagesListCmd(), newStagesShowCmd(), newStagesValidateCmd(), newStagesInitCmd())
	return cmd
}

func newStagesListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available stage sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := resolveWorkspace()
			if err != nil {
				return err
			}
			registry := buildRegistry(globalCfg, workspace)
			if err := registry.Load(); err != nil {
				return err
			}
			summaries := registry.List()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTAGES\tREQUIRED\tSOURCE")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, strings.Join(s.Stages, ","), strings.Join(s.Required, ","), s.Source)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newStagesShowCmd() *cobra.Command {
	var dot bool
	cmd := &cobra.Command{
		Use:   "show [NAME]",
		Short: "Show a stage set's execution order and dependencies",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := resolveWorkspace()
			if err != nil {
				return err
			}
			registry := buildRegistry(globalCfg, workspace)
			if err := registry.Load(); err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			set, err := resolveStageSet(registry, globalCfg, workspace, name)
			if err != nil {
				return err
			}
			stages, err := set.Compile()
			if err != nil {
				return err
			}
			graph, err := framework.BuildStageGraph(stages)
			if err != nil {
				return err
			}
			if dot {
				return graph.WriteDOT(cmd.OutOrStdout())
			}
			return describeStageSet(cmd.OutOrStdout(), set, stages, graph)
		},
	}
	cmd.Flags().BoolVar(&dot, "dot", false, "Print the dependency graph in Graphviz DOT format")
	return cmd
}

func describeStageSet(out io.Writer, set *agents.StageSet, stages []*framework.StageDefinition, graph *framework.StageGraph) error {
	fmt.Fprintf(out, "%s", set.Name)
	if set.Description != "" {
		fmt.Fprintf(out, ": %s", set.Description)
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTAGE\tTITLE\tCONSUMES\tFEEDS\tSEARCH")
	for i, st := range stages {
		dependents, err := graph.Dependents(st.Name())
		if err != nil {
			return err
		}
		search := "no"
		if st.NeedsSearch() {
			search = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, st.Name(), st.Title(),
			orDash(strings.Join(st.Consumes(), ",")), orDash(strings.Join(dependents, ",")), search)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(set.Required) > 0 {
		fmt.Fprintf(out, "required: %s\n", strings.Join(set.Required, ", "))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newStagesValidateCmd() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "validate [FILE...]",
		Short: "Check stage files; defaults to every file on the stage search path",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := resolveWorkspace()
			if err != nil {
				return err
			}
			registry := buildRegistry(globalCfg, workspace)
			if err := registry.Load(); err != nil {
				return err
			}
			files := args
			if len(files) == 0 {
				files = registry.StageFiles()
			}
			out := cmd.OutOrStdout()
			if !watch {
				return validateStageFiles(out, files)
			}

			changes := registry.Watch()
			stop := make(chan struct{})
			defer close(stop)
			registry.StartWatcher(stop, interval)
			_ = validateStageFiles(out, files)
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-changes:
					if len(args) == 0 {
						files = registry.StageFiles()
					}
					fmt.Fprintf(out, "-- %s\n", time.Now().Format("15:04:05"))
					_ = validateStageFiles(out, files)
				}
			}
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-validate whenever a stage file changes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval for --watch")
	return cmd
}

func validateStageFiles(out io.Writer, files []string) error {
	if len(files) == 0 {
		fmt.Fprintln(out, "no stage files found")
		return nil
	}
	var errs []error
	for _, path := range files {
		set, err := agents.LoadStageSet(path)
		if err != nil {
			fmt.Fprintf(out, "FAIL %s\n", err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%s, %d stages)\n", path, set.Name, len(set.Stages))
	}
	return errors.Join(errs...)
}

func newStagesInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init NAME",
		Short: "Write the built-in stage set to the workspace as a starting point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := resolveWorkspace()
			if err != nil {
				return err
			}
			dir := agents.DefaultStagePaths(workspace)[0]
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(dir, args[0]+".yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			set := agents.DefaultStageSet()
			set.Name = args[0]
			if err := set.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
