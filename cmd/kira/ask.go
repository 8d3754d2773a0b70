package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vietanhdev/kirapilot-app-sub001/internal/agent"
	"github.com/vietanhdev/kirapilot-app-sub001/pkg/protocol"
)

func askCmd() *cobra.Command {
	var (
		provider string
		debug    bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Ask one question about your tasks and timers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, provider)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			chain := a.engine.ProcessRequest(ctx, strings.Join(args, " "))
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), chain)
			}
			printChain(cmd.OutOrStdout(), chain)
			if debug {
				return writeJSON(cmd.OutOrStdout(), agent.Debug(chain, a.engine.Config().MaxIterations))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "use this provider (gemini or local)")
	cmd.Flags().BoolVar(&debug, "debug", false, "print chain debug info")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the whole chain as JSON")
	return cmd
}

func chatCmd() *cobra.Command {
	var (
		provider  string
		showSteps bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation. Tasks and timers mentioned in one
message can be referred to in the next ("start a timer for it").

Commands: /reset forgets the conversation, /stats prints counters,
/quit exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, provider)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return chat(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout(), showSteps)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "use this provider (gemini or local)")
	cmd.Flags().BoolVar(&showSteps, "steps", false, "show reasoning steps")
	return cmd
}

func chat(ctx context.Context, a *app, in io.Reader, out io.Writer, showSteps bool) error {
	session := a.engine.NewSession()
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, titleStyle.Render("KiraPilot")+" "+dimStyle.Render("("+a.manager.Active()+")"))
	for {
		fmt.Fprint(out, successStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			session.Reset()
			fmt.Fprintln(out, dimStyle.Render("Conversation cleared."))
			continue
		case "/stats":
			printStats(out, a.stats.Collect(a.store.Size(), a.store.Path()), a.usage.Summary())
			continue
		}

		chain := session.Ask(ctx, line)
		if showSteps {
			printSteps(out, chain)
		}
		printChain(out, chain)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printChain(w io.Writer, chain *protocol.ReActChain) {
	switch {
	case chain.Failed():
		fmt.Fprintln(w, errorStyle.Render(chain.FinalResponse))
	case chain.Metadata["degraded"] == true:
		fmt.Fprintln(w, warnStyle.Render(chain.FinalResponse))
	default:
		fmt.Fprintln(w, chain.FinalResponse)
	}
}

func printSteps(w io.Writer, chain *protocol.ReActChain) {
	for _, s := range chain.Steps {
		if s.Type == protocol.StepFinalAnswer {
			continue
		}
		content := s.Content
		if s.ToolCall != nil {
			args, _ := json.Marshal(s.ToolCall.Args)
			content = s.ToolCall.Name + " " + string(args)
		}
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  %-11s %s", s.Type, content)))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
