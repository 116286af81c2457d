package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dnyoussef/hooklog/internal/logger"
	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/spf13/cobra"
)

var emitOpts struct {
	severity       string
	agent          model.AgentContext
	exec           model.ExecutionContext
	correlationKey string
	metrics        []string
	meta           []string
	rbacDecision   string
	rbacPermission string
	rbacReason     string
	errMsg         string
}

var emitCmd = &cobra.Command{
	Use:   "emit <message>",
	Short: "Write one entry through the configured transports",
	Long: `Build an entry from flags and send it through every enabled transport,
exactly as an in-process caller would. Useful from agent hooks and scripts.

Examples:
  hooklog emit "file written" --agent-name backend-dev --operation write --target src/app.go
  hooklog emit "budget exceeded" --severity error --metric cost=1.25 --metric tokens_used=4000
  hooklog emit "denied" --severity warn --rbac-decision deny --rbac-permission fs.delete`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEmit,
}

func init() {
	fs := emitCmd.Flags()
	fs.StringVarP(&emitOpts.severity, "severity", "s", "info", "entry level")
	fs.StringVar(&emitOpts.agent.AgentID, "agent-id", "", "agent identifier")
	fs.StringVar(&emitOpts.agent.Name, "agent-name", "", "agent name")
	fs.StringVar(&emitOpts.agent.Role, "role", "", "agent role")
	fs.StringVar(&emitOpts.agent.Category, "category", "", "agent category")
	fs.StringVar(&emitOpts.exec.CorrelationID, "correlation-id", "", "correlation id (minted when empty)")
	fs.StringVar(&emitOpts.correlationKey, "correlation-key", "", "derive the correlation id from a stable key")
	fs.StringVar(&emitOpts.exec.SessionID, "session", "", "session id")
	fs.StringVar(&emitOpts.exec.TaskID, "task", "", "task id")
	fs.StringVar(&emitOpts.exec.Operation, "operation", "", "operation performed")
	fs.StringVar(&emitOpts.exec.Target, "target", "", "operation target")
	fs.StringArrayVar(&emitOpts.metrics, "metric", nil, "numeric metric as key=value (repeatable)")
	fs.StringArrayVar(&emitOpts.meta, "meta", nil, "metadata as key=value (repeatable)")
	fs.StringVar(&emitOpts.rbacDecision, "rbac-decision", "", "authorization decision, e.g. allow or deny")
	fs.StringVar(&emitOpts.rbacPermission, "rbac-permission", "", "permission that was checked")
	fs.StringVar(&emitOpts.rbacReason, "rbac-reason", "", "reason for the decision")
	fs.StringVar(&emitOpts.errMsg, "error", "", "attach an error with this message")
	rootCmd.AddCommand(emitCmd)
}

func runEmit(cmd *cobra.Command, args []string) error {
	level, err := model.ParseLevel(emitOpts.severity)
	if err != nil {
		return err
	}
	ctx, err := emitContext()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l, err := logger.New(cfg, logger.WithConsoleWriter(cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	defer l.Close()

	if emitOpts.correlationKey != "" && ctx.Execution.CorrelationID == "" {
		l = l.WithCorrelationKey(emitOpts.correlationKey)
	}
	if _, ok := l.Log(level, strings.Join(args, " "), ctx); !ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "entry discarded: %s is below the %s threshold\n", level, l.Level())
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.Flush(flushCtx)
}

func emitContext() (logger.Context, error) {
	c := logger.Context{
		Agent:     emitOpts.agent,
		Execution: emitOpts.exec,
	}
	if len(emitOpts.metrics) > 0 {
		c.Metrics = model.Metrics{}
		for _, kv := range emitOpts.metrics {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return c, fmt.Errorf("--metric %q: expected key=value", kv)
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return c, fmt.Errorf("--metric %q: %w", kv, err)
			}
			c.Metrics[k] = f
		}
	}
	if len(emitOpts.meta) > 0 {
		c.Metadata = map[string]any{}
		for _, kv := range emitOpts.meta {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return c, fmt.Errorf("--meta %q: expected key=value", kv)
			}
			c.Metadata[k] = v
		}
	}
	if emitOpts.rbacDecision != "" {
		c.RBAC = &model.RBACDecision{
			Decision:          emitOpts.rbacDecision,
			PermissionChecked: emitOpts.rbacPermission,
			Reason:            emitOpts.rbacReason,
		}
	}
	if emitOpts.errMsg != "" {
		c.Err = errors.New(emitOpts.errMsg)
	}
	return c, nil
}
