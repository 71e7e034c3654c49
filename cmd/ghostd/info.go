package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newDevicesCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List compute devices usable for offloading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Close()
			devs, err := m.Devices(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, devs)
			}
			if len(devs) == 0 {
				fmt.Fprintln(out, "no GPU devices found; using CPU")
				return nil
			}
			for _, d := range devs {
				fmt.Fprintf(out, "%s\t%s\n", d.ID, d.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newReadinessCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Check whether completions can run without setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Close()
			r := m.Readiness(cmd.Context()).DTO()
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, r)
			}
			fmt.Fprintln(out, r.State)
			if r.Message != "" {
				fmt.Fprintln(out, r.Message)
			}
			if r.State == "needs_download" {
				fmt.Fprintf(out, "run: ghostd pull %s\n", r.Reference)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
