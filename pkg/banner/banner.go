package banner

import (
	"fmt"

	"replyloop/pkg/config"
)

const banner = `
██████╗ ███████╗██████╗ ██╗  ██╗   ██╗    ██╗      ██████╗  ██████╗ ██████╗
██╔══██╗██╔════╝██╔══██╗██║  ╚██╗ ██╔╝    ██║     ██╔═══██╗██╔═══██╗██╔══██╗
██████╔╝█████╗  ██████╔╝██║   ╚████╔╝     ██║     ██║   ██║██║   ██║██████╔╝
██╔══██╗██╔══╝  ██╔═══╝ ██║    ╚██╔╝      ██║     ██║   ██║██║   ██║██╔═══╝
██║  ██║███████╗██║     ███████╗██║       ███████╗╚██████╔╝╚██████╔╝██║
╚═╝  ╚═╝╚══════╝╚═╝     ╚══════╝╚═╝       ╚══════╝ ╚═════╝  ╚═════╝ ╚═╝
`

// Print renders the startup banner with the effective config, build version
// and where the access token came from ("env", "file", "config" or "").
func Print(eff config.EffectiveConfigResult, version, tokenSource string, replyCount int) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", eff.Addr)
	fmt.Printf("Replies:   %s (%d loaded)\n", eff.RepliesPath, replyCount)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}
	fmt.Printf("Config:    %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /webhook        - Platform verification handshake")
	fmt.Println("POST /webhook        - Inbound message events")
	fmt.Println("GET  /               - Service status")
	fmt.Println("GET  /stats          - Rotation statistics")
	fmt.Println("POST /reload_replies - Force reply pool reload")
	fmt.Println("GET  /metrics        - Prometheus metrics")

	fmt.Println("\n== Production? =================================================")
	switch tokenSource {
	case "env":
		fmt.Println("- Access token: OK (environment)")
	case "file":
		fmt.Println("- Access token: OK (token file)")
	case "config":
		fmt.Println("- Access token: OK (config)")
	default:
		fmt.Println("- Access token: MISSING (set PAGE_ACCESS_TOKEN; service starts but refuses sends)")
	}
	if eff.Config != nil && eff.Config.Messenger.VerifyToken != "" {
		fmt.Println("- Verify token: set")
	} else {
		fmt.Println("- Verify token: MISSING (webhook verification will fail)")
	}
	tlsOK := eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != ""
	if tlsOK {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured (terminate TLS upstream)")
	}
	if eff.Config != nil && eff.Config.Journal.Enabled {
		fmt.Printf("- Delivery journal: enabled (%s)\n", eff.Config.Journal.Path)
	} else {
		fmt.Println("- Delivery journal: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
