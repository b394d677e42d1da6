package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"iara/internal/server"
	"iara/internal/services"
)

func newCallCommand(ctx *commandContext) *cobra.Command {
	var (
		callID   string
		showStep bool
	)

	cmd := &cobra.Command{
		Use:   "call <tool> [arguments-json|-]",
		Short: "Invoke one tool in-process and print the response",
		Example: `  iara call analyze '{"file_path":"song.mp3","analysis_type":"basic"}'
  echo '{"file_path":"song.mp3"}' | iara call workflow -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := callArguments(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}
			request, err := json.Marshal(struct {
				ToolID    string          `json:"tool_id"`
				Arguments json.RawMessage `json:"arguments,omitempty"`
				CallID    string          `json:"call_id,omitempty"`
			}{ToolID: args[0], Arguments: raw, CallID: callID})
			if err != nil {
				return fmt.Errorf("arguments are not valid JSON: %w", err)
			}

			return ctx.withApp(cmd, func(runCtx context.Context, app *server.App) error {
				if showStep {
					var mu sync.Mutex
					runCtx = services.WithProgress(runCtx, func(p services.Progress) {
						mu.Lock()
						defer mu.Unlock()
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s %s\n", p.Step, p.Status, p.Message)
					})
				}
				resp := app.Dispatcher.Handle(runCtx, request)
				if err := writeJSON(cmd, resp); err != nil {
					return err
				}
				if failure := resp.Result.Err(); failure != nil {
					return fmt.Errorf("%s: %s", failure.Kind, failure.Message)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&callID, "call-id", "", "Correlation id echoed in the response")
	cmd.Flags().BoolVar(&showStep, "progress", false, "Print workflow step progress to stderr")
	return cmd
}

func callArguments(stdin io.Reader, args []string) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	value := strings.TrimSpace(args[0])
	if value == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read arguments: %w", err)
		}
		value = strings.TrimSpace(string(data))
	}
	if value == "" {
		return nil, nil
	}
	if !json.Valid([]byte(value)) {
		return nil, errors.New("arguments are not valid JSON")
	}
	return json.RawMessage(value), nil
}
