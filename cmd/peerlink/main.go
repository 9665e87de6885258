// Peerlink CLI entry point.
//
// This tool establishes a direct WebRTC DataChannel between two peers that
// share nothing but a session name and the URL of a message relay. Neither
// peer is pre-assigned a role: whoever finds an offer waiting on the relay
// answers it, otherwise it offers. Once the channel opens the relay is out
// of the picture and the CLI runs an interactive keyed-mailbox session.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-relay, -session, -config).
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/nkondo/peerlink/internal/config"
	"github.com/nkondo/peerlink/internal/mailbox"
	"github.com/nkondo/peerlink/internal/negotiation"
	"github.com/nkondo/peerlink/internal/signaling"
	"github.com/nkondo/peerlink/internal/util"
	webrtcpkg "github.com/nkondo/peerlink/internal/webrtc"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	relayFlag := flag.String("relay", "", "Relay base URL (e.g. https://relay.example.com/signal)")
	sessionFlag := flag.String("session", "", "Session name shared with the other peer")
	configFlag := flag.String("config", "", "Path to a YAML config file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Peerlink v%s", version))
	pterm.Println()

	cfg := config.Default()
	if *configFlag != "" {
		loaded, err := config.Load(*configFlag)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *relayFlag != "" {
		cfg.RelayURL = *relayFlag
	}
	if *sessionFlag != "" {
		cfg.Session = *sessionFlag
	}

	// Fall back to interactive prompts for anything still missing.
	if cfg.RelayURL == "" {
		cfg.RelayURL = askNonEmpty("Relay URL (e.g. https://relay.example.com/signal)")
	}
	if cfg.Session == "" {
		cfg.Session = askNonEmpty("Session name (share it with your peer)")
	}

	if err := runSession(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("session closed")
}

// runSession negotiates the peer connection and runs the mailbox loop until
// the context is cancelled or the channel closes.
func runSession(ctx context.Context, cfg config.Config) error {
	client := signaling.NewClient(cfg.RelayURL, time.Duration(cfg.PollInterval))

	// The engine creates one peer per attempt; keep a handle on the last
	// one so the mailbox can attach to its data channel. StartNegotiation
	// returns only after the attempt that created it resolved, so the read
	// below never races the factory.
	var peer *webrtcpkg.Peer
	factory := func() (negotiation.PeerConnection, error) {
		p, err := webrtcpkg.NewPeer(cfg.STUNServers)
		if err != nil {
			return nil, err
		}
		peer = p
		return p, nil
	}

	engine := negotiation.NewEngine(client, factory, time.Duration(cfg.NegotiationTimeout))
	defer engine.Disconnect()

	util.StartStatsReporter(ctx)
	util.LogInfo("connecting to session %q via %s", cfg.Session, cfg.RelayURL)

	if err := engine.StartNegotiation(ctx, cfg.Session); err != nil {
		return fmt.Errorf("negotiation failed: %w", err)
	}

	// Wait for the data channel itself to open before touching it.
	select {
	case <-peer.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	util.LogInfo("data channel open. Type a message, or /set <key> <value>")
	box := mailbox.New(peer)

	// Surface engine events and peer traffic in the background.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev := <-engine.Events():
				util.LogInfo("engine: %s", ev.Kind)
				if ev.Kind == negotiation.EventDisconnected || ev.Kind == negotiation.EventChannelClosed {
					return
				}
			case ev := <-box.Events():
				pterm.Println(pterm.Cyan("peer> ") + ev.Value)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stdin loop: plain lines become events, /set updates a keyed value.
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return errors.New("peer connection lost")
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if key, value, ok := parseSet(line); ok {
			if err := box.Set(key, value); err != nil {
				util.LogWarning("set failed: %v", err)
			}
			continue
		}

		if err := box.SendEvent("message", line); err != nil {
			util.LogWarning("send failed: %v", err)
		}
	}
	return scanner.Err()
}

// parseSet recognizes "/set <key> <value>" lines.
func parseSet(line string) (key, value string, ok bool) {
	if !strings.HasPrefix(line, "/set ") {
		return "", "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, "/set "))
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// askNonEmpty prompts until the user enters a non-empty value.
func askNonEmpty(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if value := strings.TrimSpace(raw); value != "" {
			pterm.Println()
			return value
		}

		util.LogWarning("a value is required")
		pterm.Println()
	}
}
