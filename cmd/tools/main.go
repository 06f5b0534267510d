package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/askrepo/askrepo/internal/config"
	"github.com/askrepo/askrepo/internal/gh"
	"github.com/askrepo/askrepo/internal/tools"
)

const (
	serverName    = "askrepo-tools"
	serverVersion = "1.0.0"
)

func main() {
	fs := pflag.NewFlagSet(serverName, pflag.ExitOnError)
	installationID := fs.Int64("installation-id", 0, "GitHub App installation ID")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// stdout carries the MCP protocol; all logging goes to stderr.
	log.SetOutput(os.Stderr)
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zlog.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	if cfg.Repo == "" || !strings.Contains(cfg.Repo, "/") {
		log.Fatal("--repo owner/name is required")
	}

	var tokens gh.TokenProvider
	if cfg.GithubApp.AppID != 0 {
		pem, err := os.ReadFile(cfg.GithubApp.PrivateKeyPath)
		if err != nil {
			log.Fatalf("Failed to read GitHub App private key: %v", err)
		}
		tokens, err = gh.NewAppAuth(fmt.Sprint(cfg.GithubApp.AppID), pem)
		if err != nil {
			log.Fatalf("Failed to initialize GitHub App auth: %v", err)
		}
	} else {
		tokens = &gh.StaticTokenProvider{Token: cfg.GithubToken}
	}

	fetcher := gh.NewFetcher(tokens, *installationID, cfg.Repo)
	toolSet := tools.NewToolSet(fetcher, cfg.Branch)

	s := server.NewMCPServer(serverName, serverVersion)
	tools.Register(s, toolSet)

	log.Printf("%s serving %s@%s on stdio", serverName, cfg.Repo, cfg.Branch)
	if err := server.ServeStdio(s); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
