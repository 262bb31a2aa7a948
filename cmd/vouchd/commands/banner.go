package commands

import (
	"fmt"

	"github.com/teranos/vouch/config"
	"github.com/teranos/vouch/proxy"
	"github.com/teranos/vouch/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(cfg *config.Config, pool proxy.Stats, available int) {
	// ANSI escape codes
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()
	port := config.GetServerPort()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ██    ██  ██████  ██    ██  ██████  ██   ██\n")
	fmt.Printf("   ██    ██ ██    ██ ██    ██ ██       ██   ██\n")
	fmt.Printf("   ██    ██ ██    ██ ██    ██ ██       ███████\n")
	fmt.Printf("    ██  ██  ██    ██ ██    ██ ██       ██   ██\n")
	fmt.Printf("     ████    ██████   ██████   ██████  ██   ██%s\n\n", reset)

	fmt.Printf("%s%s┌─ vouchd ─────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:  %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Port:     %d\n", green, reset, port)
	fmt.Printf("%s│%s Database: %s\n", green, reset, cfg.GetDatabasePath())
	fmt.Printf("%s│%s Records:  %d available\n", green, reset, available)
	fmt.Printf("%s│%s Proxies:  %d total, %d quarantined\n", green, reset, pool.Total, pool.Quarantined)
	fmt.Printf("%s│%s Slots:    %d concurrent jobs\n", green, reset, cfg.Engine.MaxConcurrentJobs)
	fmt.Printf("%s└──────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ POST /api/jobs to submit, /ws/events for live status%s\n", yellow, bold, reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
