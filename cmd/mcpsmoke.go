package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/capability"
	"github.com/mohammad-safakhou/contentpipe/tools/mcp"
)

func mcpSmokeCMD(flags *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "mcp-smoke",
		Short: "List the tools of configured MCP endpoints and the registered capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			out := cmd.OutOrStdout()

			endpoints := []struct {
				name      string
				cfg       config.MCPServerConfig
				url       string
				transport mcp.Transport
			}{
				{"tavily", cfg.Tools.Tavily, mcp.TavilyURL(cfg.Tools.Tavily.URL, cfg.Tools.Tavily.APIKey),
					capability.Transport(cfg.Tools.Tavily.Transport, mcp.TransportStreamable)},
				{"firecrawl", cfg.Tools.Firecrawl, mcp.FirecrawlURL(cfg.Tools.Firecrawl.URL),
					capability.Transport(cfg.Tools.Firecrawl.Transport, mcp.TransportSSE)},
			}
			failed := 0
			for _, ep := range endpoints {
				if !ep.cfg.Enabled() {
					fmt.Fprintf(out, "%s: not configured\n", ep.name)
					continue
				}
				client := mcp.NewClient(mcp.Config{
					Name:      ep.name,
					URL:       ep.url,
					Headers:   mcp.BearerHeaders(ep.cfg.APIKey),
					Transport: ep.transport,
					Timeout:   timeout,
				}, logger.Named("mcp"))
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				tools, err := client.ListTools(ctx)
				cancel()
				_ = client.Close()
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: error: %v\n", ep.name, err)
					continue
				}
				fmt.Fprintf(out, "%s: %d tools\n", ep.name, len(tools))
				for _, t := range tools {
					fmt.Fprintf(out, "  - %s [%s]\n", t.Name, capability.Classify(t.Name))
				}
			}

			reg, err := capability.Build(cfg.Tools, cfg.Capability, logger.Named("capability"))
			if err != nil {
				return err
			}
			defer reg.Close()
			writeCards(out, reg.Cards())
			if failed > 0 {
				return fmt.Errorf("%d MCP endpoint(s) unreachable", failed)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "per endpoint timeout")
	return cmd
}

func writeCards(w io.Writer, cards []capability.ToolCard) {
	fmt.Fprintln(w, "\nRegistered capabilities:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tROLE\tPROVIDER\tVERSION")
	for _, c := range cards {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Role, c.Provider, c.Version)
	}
	_ = tw.Flush()
}
