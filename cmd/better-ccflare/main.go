// Package main is the entry point for better-ccflare.
package main

import (
	"context"
	"os"
	"path/filepath"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "config.yaml"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "better-ccflare",
	Short: "Multi-provider relay core for Anthropic-dialect clients",
	Long: `better-ccflare forwards Anthropic Messages API traffic to Anthropic,
Anthropic-compatible endpoints (z.ai, Minimax, NanoGPT), OpenAI-dialect
endpoints (Kilo, OpenRouter), AWS Bedrock, and Google Vertex AI, handling
credential refresh, dialect translation, rate-limit parsing, and usage
extraction along the way.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/better-ccflare/"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}

// configPath resolves the config file: the --config flag, then
// ./config.yaml, then ~/.config/better-ccflare/config.yaml.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		p := filepath.Join(home, ".config", "better-ccflare", defaultConfigFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
