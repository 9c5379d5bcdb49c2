// Lobbymesh — CLI entry point.
//
// This tool joins a lobby through a signaling relay and establishes a P2P
// mesh over WebRTC DataChannels with every other member, then runs a small
// chat loop on logical channel 0. It exists to exercise the SDK end to end
// against cmd/relaydev (or a real relay backend).
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-relay, -lobby, -user).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/lobbymesh/lobbymesh/internal/config"
	"github.com/lobbymesh/lobbymesh/internal/relay"
	"github.com/lobbymesh/lobbymesh/internal/session"
	"github.com/lobbymesh/lobbymesh/internal/util"
)

var version = "dev"

const chatChannel = 0

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	relayFlag := flag.String("relay", "", "Relay WebSocket URL (e.g. ws://127.0.0.1:4400/ws)")
	lobbyFlag := flag.String("lobby", "", "Lobby identifier to join")
	userFlag := flag.String("user", "", "Local user identifier")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Lobbymesh — v%s", version))
	pterm.Println()

	relayURL, lobbyID, userID := *relayFlag, *lobbyFlag, *userFlag
	if relayURL == "" {
		relayURL = askText("Relay WebSocket URL (e.g. ws://127.0.0.1:4400/ws)")
	}
	if lobbyID == "" {
		lobbyID = askText("Lobby id")
	}
	if userID == "" {
		userID = askText("Your user id")
	}

	wsURL, err := normalizeWSURL(relayURL)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := run(ctx, wsURL, lobbyID, userID); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("left lobby %q", lobbyID)
}

// run connects to the relay, establishes the mesh, and chats until EOF or
// interrupt.
func run(ctx context.Context, wsURL, lobbyID, userID string) error {
	r, err := relay.DialWS(ctx, wsURL, lobbyID, userID)
	if err != nil {
		return err
	}
	defer r.Close()

	cfg := config.DefaultConfig()
	sess := session.New(cfg, r, session.Peer{ID: userID, Name: userID})
	sess.SetSink(func(sender string, channel uint32, payload []byte) {
		if channel == chatChannel {
			pterm.Printf("%s> %s\n", sender, string(payload))
		}
	})

	// Roster pushes from the relay drive membership reconciliation. The
	// first push establishes the session.
	established := make(chan []session.Peer, 1)
	r.OnRoster(func(members []relay.Member) {
		roster := make([]session.Peer, 0, len(members))
		for _, m := range members {
			roster = append(roster, session.Peer{ID: m.ID, Name: m.Name})
		}
		select {
		case established <- roster:
		default:
			sess.UpdateRoster(roster)
		}
	})

	var first []session.Peer
	select {
	case first = <-established:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := sess.Establish(ctx, lobbyID, first); err != nil {
		return err
	}
	defer sess.Disconnect()

	util.StartStatsReporter(ctx)
	util.LogInfo("mesh establishing — type to chat, Ctrl+C to quit")

	for {
		line, _ := pterm.DefaultInteractiveTextInput.WithDefaultText(userID).Show()
		line = strings.TrimSpace(line)
		if line == "" {
			select {
			case <-ctx.Done():
				return nil
			default:
				continue
			}
		}
		if !sess.Broadcast(chatChannel, true, []byte(line)) {
			util.LogWarning("message not delivered to every peer (state: %s)", sess.State())
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates and normalizes a raw WebSocket URL string.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askText prompts until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}
		util.LogWarning("value must not be empty")
		pterm.Println()
	}
}
