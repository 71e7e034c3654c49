package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"ghostd/internal/artifact"
)

func newPullCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pull [reference]",
		Short: "Download and verify a model (default model when omitted)",
		Example: "  ghostd pull\n" +
			"  ghostd pull OleFranz/Qwen3-0.6B-Text-FIM-GGUF:Q8_0\n" +
			"  ghostd pull owner/repo@main:path/to/model.gguf",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Close()
			var ref string
			if len(args) == 1 {
				ref = args[0]
			}
			out := cmd.ErrOrStderr()
			pr := newProgressPrinter(out, isTerminal(out))
			path, err := m.Download(cmd.Context(), ref, pr.update)
			pr.finish()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// progressPrinter redraws one status line on a terminal and prints only
// phase changes otherwise.
type progressPrinter struct {
	w     io.Writer
	tty   bool
	phase artifact.Phase
	drawn bool
}

func newProgressPrinter(w io.Writer, tty bool) *progressPrinter {
	return &progressPrinter{w: w, tty: tty}
}

func (p *progressPrinter) update(pr artifact.Progress) {
	changed := pr.Phase != p.phase
	p.phase = pr.Phase
	if !p.tty {
		if changed {
			fmt.Fprintln(p.w, formatProgress(pr))
		}
		return
	}
	fmt.Fprintf(p.w, "\r\033[K%s", formatProgress(pr))
	p.drawn = true
}

func (p *progressPrinter) finish() {
	if p.drawn {
		fmt.Fprintln(p.w)
	}
}

func formatProgress(pr artifact.Progress) string {
	switch {
	case pr.Total != nil && *pr.Total > 0:
		return fmt.Sprintf("%-18s %s / %s (%.0f%%)", pr.Phase,
			humanize.Bytes(pr.Transferred), humanize.Bytes(*pr.Total), pr.Fraction()*100)
	case pr.Transferred > 0:
		return fmt.Sprintf("%-18s %s", pr.Phase, humanize.Bytes(pr.Transferred))
	default:
		return string(pr.Phase)
	}
}
