package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/autoheal/agent/healing"
	"github.com/BaSui01/autoheal/agent/smartwait"
	"github.com/BaSui01/autoheal/types"
)

// =============================================================================
// ▶️ run 命令
// =============================================================================

type runFlags struct {
	url          string
	action       string
	selector     string
	value        string
	expectedText string
	params       map[string]string
}

func newRunCommand(global *globalFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one tool call with retries and recovery",
		Long: `Navigate to --url (when given) and execute one tool call through the
adaptive execution loop. The outcome is printed as JSON.

Examples:
  autoheal run --url https://app.example.com/login --action click --selector "#login"
  autoheal run --action type --selector "#email" --value user@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			defer a.Close()
			return runTool(cmd.Context(), a, flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&flags.url, "url", "", "Page to open before executing")
	cmd.Flags().StringVarP(&flags.action, "action", "a", "click", "Tool action (click, type, hover, select, extract, navigate)")
	cmd.Flags().StringVarP(&flags.selector, "selector", "s", "", "Target CSS selector")
	cmd.Flags().StringVar(&flags.value, "value", "", "Value for type/select/navigate actions")
	cmd.Flags().StringVar(&flags.expectedText, "expected-text", "", "Visible text of the target, used for healing")
	cmd.Flags().StringToStringVar(&flags.params, "param", nil, "Extra tool parameters (key=value)")
	return cmd
}

// invocation builds the tool call described by the flags.
func (f *runFlags) invocation() types.ToolInvocation {
	params := make(map[string]any, len(f.params)+2)
	for k, v := range f.params {
		params[k] = v
	}
	if f.value != "" {
		params["value"] = f.value
	}
	if f.expectedText != "" {
		params["expected_text"] = f.expectedText
	}
	if f.url != "" {
		params["url"] = f.url
	}
	return types.NewToolInvocation(f.action, f.selector, params)
}

func runTool(ctx context.Context, a *app, flags *runFlags, out io.Writer) error {
	if err := openPage(ctx, a, flags.url); err != nil {
		return err
	}

	outcome, err := a.engine.ExecuteTool(ctx, flags.invocation())
	if outcome != nil {
		if werr := writeJSON(out, outcome); werr != nil {
			return werr
		}
	}
	return err
}

// =============================================================================
// 🩹 heal 命令
// =============================================================================

type healFlags struct {
	url          string
	selector     string
	expectedText string
}

func newHealCommand(global *globalFlags) *cobra.Command {
	flags := &healFlags{}

	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Find a replacement for a selector that no longer matches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.selector == "" {
				return fmt.Errorf("--selector is required")
			}
			a, err := newApp(global)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := openPage(cmd.Context(), a, flags.url); err != nil {
				return err
			}
			healed, err := a.engine.HealSelector(cmd.Context(), healing.Request{
				FailedSelector: flags.selector,
				ExpectedText:   flags.expectedText,
			})
			if err != nil {
				return err
			}
			if healed == nil {
				return fmt.Errorf("no replacement for %q reached confidence %.2f",
					flags.selector, a.cfg.Healing.ConfidenceThreshold)
			}
			return writeJSON(cmd.OutOrStdout(), healed)
		},
	}

	cmd.Flags().StringVar(&flags.url, "url", "", "Page to open before healing")
	cmd.Flags().StringVarP(&flags.selector, "selector", "s", "", "Selector that no longer matches")
	cmd.Flags().StringVar(&flags.expectedText, "expected-text", "", "Visible text the element should carry")
	return cmd
}

// =============================================================================
// ⏳ wait 命令
// =============================================================================

type waitFlags struct {
	url        string
	maxWait    time.Duration
	conditions []string
	minScore   float64
}

func newWaitCommand(global *globalFlags) *cobra.Command {
	flags := &waitFlags{}

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until the page is stable",
		Long: `Poll page stability until every condition holds or --max-wait elapses.

Conditions: dom, network, animations, loaders, scripts, stable.
Without --conditions the engine's default stable condition is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cond, err := parseConditions(flags.conditions, flags.minScore)
			if err != nil {
				return err
			}
			a, err := newApp(global)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := openPage(cmd.Context(), a, flags.url); err != nil {
				return err
			}
			start := time.Now()
			stable, err := a.engine.WaitForStableState(cmd.Context(), cond, flags.maxWait)
			if err != nil {
				return err
			}
			m, _ := a.engine.LatestMetrics()
			if werr := writeJSON(cmd.OutOrStdout(), map[string]any{
				"stable":  stable,
				"waited":  time.Since(start).String(),
				"metrics": m,
			}); werr != nil {
				return werr
			}
			if !stable {
				return fmt.Errorf("page not stable after %s", flags.maxWait)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.url, "url", "", "Page to open before waiting")
	cmd.Flags().DurationVar(&flags.maxWait, "max-wait", 10*time.Second, "Maximum time to wait")
	cmd.Flags().StringSliceVar(&flags.conditions, "conditions", nil, "Comma separated conditions that must all hold")
	cmd.Flags().Float64Var(&flags.minScore, "min-score", 0.9, "Score used by the 'stable' condition")
	return cmd
}

// parseConditions maps condition names onto a conjunction. No names yields
// the zero condition, which selects the engine default.
func parseConditions(names []string, minScore float64) (smartwait.Condition, error) {
	if len(names) == 0 {
		return smartwait.Condition{}, nil
	}
	conds := make([]smartwait.Condition, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "dom":
			conds = append(conds, smartwait.DomStable())
		case "network":
			conds = append(conds, smartwait.NetworkIdle())
		case "animations":
			conds = append(conds, smartwait.AnimationsComplete())
		case "loaders":
			conds = append(conds, smartwait.NoLoaders())
		case "scripts":
			conds = append(conds, smartwait.ScriptsIdle())
		case "stable":
			conds = append(conds, smartwait.Stable(minScore))
		default:
			return smartwait.Condition{}, fmt.Errorf("unknown condition %q", name)
		}
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return smartwait.All(conds...), nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func openPage(ctx context.Context, a *app, url string) error {
	if url == "" {
		url = a.cfg.Browser.StartURL
	}
	if url == "" {
		return nil
	}
	a.logger.Debug("opening page", zap.String("url", url))
	if err := a.browser.Navigate(ctx, url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
