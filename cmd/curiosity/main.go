// Command curiosity finds emerging curiosity signals in scraped questions.
//
// Usage:
//
//	curiosity run --input questions.yaml        Analyse one week and print the report
//	curiosity run --input q.yaml --tui          Same, with a live progress view
//	curiosity schedule --input questions.yaml   Run every week on the configured cron spec
//	curiosity signals [--run ID]                Show signals from a stored run
//	curiosity runs                              List past runs
//	curiosity events [--kind news]              Tail the JSONL run-event log
//	curiosity config init                       Write a default config file
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	tenant     string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "curiosity",
		Short: "Detect emerging curiosity signals in public questions",
		Long: `curiosity clusters a week of scraped questions from Reddit, Stack Exchange,
Hacker News and Quora, scores each topic for velocity, cross-platform spread,
engagement and novelty, and links spikes to the news that triggered them.

Environment:
  JINA_API_KEY       Jina AI key (embedding.provider = "jina")
  OPENAI_API_KEY     OpenAI key (embedding.provider = "openai")
  OLLAMA_HOST        Ollama host (embedding.provider = "ollama")
  NEWSAPI_KEY        NewsAPI key (news.provider = "newsapi")
  CURIOSITY_TENANT   Overrides the configured tenant`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default <user config dir>/curiosity/config.toml)")
	root.PersistentFlags().StringVar(&g.tenant, "tenant", "", "tenant to run for (overrides config)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(
		runCmd(g),
		scheduleCmd(g),
		signalsCmd(g),
		runsCmd(g),
		eventsCmd(g),
		configCmd(g),
	)
	return root
}
