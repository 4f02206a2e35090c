package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/matchsync/internal/ws"
)

func submitCmd(flags *rootFlags) *cobra.Command {
	var (
		submitter string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit RESULT.json",
		Short: "Submit a match result and wait for the hub to accept it",
		Long: `Submit a match result to the hub and wait for confirmation.

The file holds either an envelope {"result": {...}, "statistics": {...}} or a
bare result object. Confirmation is the hub's inline reply or a match event
for the same match, whichever arrives first.

Examples:
  matchsync submit result.json
  matchsync submit --timeout 30s --submitter board-3 result.json`,
		Args: cobra.ExactArgs(1),
		RunE: withSession(flags, func(ctx context.Context, s *session, args []string) error {
			env, err := readEnvelope(args[0])
			if err != nil {
				return err
			}
			env.Submitter = submitter
			if env.Submitter == "" {
				env.Submitter = s.cfg.Submitter
			}
			return runSubmit(ctx, s, env, timeout)
		}),
	}

	cmd.Flags().StringVar(&submitter, "submitter", "", "submitter identity (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "acknowledgment timeout (default from config)")

	return cmd
}

func runSubmit(ctx context.Context, s *session, env ws.ResultEnvelope, timeout time.Duration) error {
	logger := s.logger
	clientCfg := s.cfg.ClientConfig()
	if timeout > 0 {
		clientCfg.AckTimeout = timeout
	}

	client, err := ws.NewClient(clientCfg, ws.Handlers{}, nil, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("connecting to hub: %w", err)
	}

	start := time.Now()
	ack, err := client.SubmitResultAndWait(ctx, env)
	if err != nil {
		var timeoutErr *ws.TimeoutError
		if errors.As(err, &timeoutErr) {
			logger.Error("hub did not confirm the result", zap.Duration("after", timeoutErr.After))
		}
		return err
	}

	logger.Info("result accepted",
		zap.String("requestId", ack.RequestID),
		zap.String("source", string(ack.Source)),
		zap.Duration("latency", time.Since(start)),
	)

	out := map[string]any{
		"requestId":  ack.RequestID,
		"source":     ack.Source,
		"receivedAt": ack.ReceivedAt,
	}
	if ack.Data != nil {
		out["data"] = ack.Data
	}
	if ack.Update.HasIdentity() {
		out["update"] = ack.Update
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// readEnvelope loads a result envelope, accepting a bare result object too.
func readEnvelope(path string) (ws.ResultEnvelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ws.ResultEnvelope{}, fmt.Errorf("reading result: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return ws.ResultEnvelope{}, fmt.Errorf("parsing result: %w", err)
	}

	if result, ok := raw["result"].(map[string]any); ok {
		env := ws.ResultEnvelope{Result: result}
		env.Statistics, _ = raw["statistics"].(map[string]any)
		return env, nil
	}
	if len(raw) == 0 {
		return ws.ResultEnvelope{}, errors.New("result file is empty")
	}
	return ws.ResultEnvelope{Result: raw}, nil
}
