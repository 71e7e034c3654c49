package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"ghostd/internal/manager"
)

func newCompleteCmd(a *app) *cobra.Command {
	var (
		cursor  int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Complete the text read from stdin and print the suggestion",
		Example: "  printf 'local function add(a, b)\\n' | ghostd complete\n" +
			"  ghostd complete --cursor 26 < main.luau",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			text := string(data)
			if cursor < 0 {
				cursor = utf8.RuneCountInString(text)
			}

			m, err := a.newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			res, err := m.Complete(ctx, manager.Manual, text, cursor)
			if err != nil {
				return err
			}
			if res.Err != nil {
				if errors.Is(res.Err, manager.ErrEmptyContext) {
					return res.Err
				}
				return fmt.Errorf("completion failed: %w", res.Err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}
	cmd.Flags().IntVar(&cursor, "cursor", -1, "Cursor offset in characters (default: end of input)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long, including model download and load")
	return cmd
}
