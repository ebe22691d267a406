// ABOUTME: Plain-terminal client for the quoting backend: a readline-style
// ABOUTME: chat REPL plus `sessions` and `doc` subcommands.

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/jiffylabs/quotechat/internal/agents"
	"github.com/jiffylabs/quotechat/internal/backend"
	"github.com/jiffylabs/quotechat/internal/cards"
	"github.com/jiffylabs/quotechat/internal/config"
	"github.com/jiffylabs/quotechat/internal/mdtext"
	"github.com/jiffylabs/quotechat/internal/payment"
	"github.com/jiffylabs/quotechat/internal/session"
	"github.com/jiffylabs/quotechat/internal/store"
)

var (
	agentColor  = color.New(color.FgCyan, color.Bold)
	userColor   = color.New(color.FgGreen)
	dimColor    = color.New(color.Faint)
	errColor    = color.New(color.FgRed)
	accentColor = color.New(color.FgYellow)
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config file")
	server := flag.String("server", "", "Backend URL (overrides config)")
	resume := flag.String("resume", "", "Session ID to resume (default: last session)")
	fresh := flag.Bool("new", false, "Start a new session instead of resuming")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Backend.BaseURL = *server
	}
	setupLogging(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	command := "chat"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	switch command {
	case "chat":
		err = runChat(ctx, cfg, *resume, *fresh)
	case "sessions":
		err = runSessions(ctx, cfg)
	case "doc":
		err = runDoc(ctx, cfg, *resume)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`quotechat - terminal client for the motor insurance quoting assistant

Usage:
  quotechat [flags] [command]

Commands:
  chat       Interactive quote conversation (default)
  sessions   List recent sessions
  doc        Download the policy document for the current session
  help       Show this help

Flags:
  -config PATH   Config file (default: XDG config dir)
  -server URL    Backend URL override
  -resume ID     Resume a specific session
  -new           Start a new session`)
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(cfg *config.Config) store.Store {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		slog.Warn("local session store unavailable", "error", err)
		return nil
	}
	return s
}

// repl holds the interactive chat state.
type repl struct {
	engine   *session.Engine
	registry *cards.Registry
	scanner  *bufio.Scanner

	quickReplies []backend.QuickReply
	addons       []cards.Addon
}

func runChat(ctx context.Context, cfg *config.Config, resume string, fresh bool) error {
	recents := openStore(cfg)
	if recents != nil {
		defer recents.Close()
	}

	engine := session.New(session.Options{
		Backend:     backend.NewClient(cfg.Backend.BaseURL, nil),
		Recents:     recents,
		Delays:      cfg.Delays,
		UserAgent:   cfg.Client.UserAgent,
		DownloadDir: cfg.Client.DownloadDir,
	})

	if resume == "" && !fresh && recents != nil {
		if current, err := recents.Current(ctx); err == nil && !current.Completed {
			resume = current.ID
		}
	}

	err := engine.Bootstrap(ctx, resume)
	if errors.Is(err, backend.ErrSessionNotFound) {
		dimColor.Println("Previous session is gone, starting fresh.")
		err = engine.Bootstrap(ctx, "")
	}
	if err != nil {
		return err
	}

	registry, err := cards.NewRegistry()
	if err != nil {
		return err
	}

	r := &repl{
		engine:   engine,
		registry: registry,
		scanner:  bufio.NewScanner(os.Stdin),
	}

	fmt.Printf("quotechat connected to %s (session %s)\n", cfg.Backend.BaseURL, engine.SessionID())
	dimColor.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	for _, msg := range engine.History() {
		r.printMessage(&msg)
	}

	return r.loop(ctx)
}

func (r *repl) loop(ctx context.Context) error {
	for {
		accentColor.Print("> ")
		line, ok := r.readLine(ctx)
		if !ok {
			fmt.Println("\nGoodbye!")
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := r.handleCommand(ctx, line); quit {
				fmt.Println("Goodbye!")
				return nil
			}
			continue
		}

		content, quickReplyValue := line, ""
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(r.quickReplies) {
			qr := r.quickReplies[n-1]
			content, quickReplyValue = qr.Label, qr.Value
		}

		r.sendTurn(ctx, content, quickReplyValue)
	}
}

// readLine reads one line of input, aborting when ctx is cancelled.
func (r *repl) readLine(ctx context.Context) (string, bool) {
	lineCh := make(chan string, 1)
	go func() {
		if r.scanner.Scan() {
			lineCh <- r.scanner.Text()
		} else {
			close(lineCh)
		}
	}()
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-lineCh:
		return line, ok
	}
}

func (r *repl) sendTurn(ctx context.Context, content, quickReplyValue string) {
	dimColor.Println("...")
	msg, err := r.engine.Submit(ctx, content, quickReplyValue)
	if errors.Is(err, session.ErrPaymentRequested) {
		r.runPaymentFlow(ctx)
		return
	}
	if err != nil {
		errColor.Printf("Turn failed: %v\n", err)
		return
	}
	r.printMessage(msg)

	if r.engine.ShouldShowPopup(msg) {
		r.printPolicyPopup()
	}
}

func (r *repl) printMessage(msg *backend.Message) {
	switch msg.Role {
	case backend.RoleUser:
		userColor.Printf("you: %s\n", msg.Content)
	case backend.RoleAssistant:
		label := agents.Label(agents.ID(msg.Agent))
		agentColor.Printf("%s:\n", label)
		fmt.Println(indent(mdtext.Render(msg.Content), "  "))
	}

	for _, rendered := range r.registry.Dispatch(msg.Cards) {
		fmt.Println(rendered)
	}
	for _, card := range msg.Cards {
		if card.Type == cards.TypeAddons {
			r.addons = cards.AddonsFromData(card.Data)
			dimColor.Println("Toggle an add-on with /addon N")
		}
	}

	r.quickReplies = msg.QuickReplies
	for i, qr := range msg.QuickReplies {
		accentColor.Printf("  %d. %s\n", i+1, qr.Label)
	}
	fmt.Println()
}

func (r *repl) handleCommand(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Println(`Commands:
  /agents    Show pipeline progress
  /addon N   Toggle add-on number N from the last add-ons card
  /doc       Download the policy document
  /quit      Exit`)
	case "/agents":
		r.printPipeline()
	case "/addon":
		if len(fields) < 2 {
			errColor.Println("Usage: /addon N")
			return false
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > len(r.addons) {
			errColor.Println("No such add-on")
			return false
		}
		addon := &r.addons[n-1]
		if err := r.engine.ToggleAddon(ctx, addon.ID, !addon.Selected); err != nil {
			errColor.Printf("Toggle failed: %v\n", err)
			return false
		}
		addon.Selected = !addon.Selected
		fmt.Printf("%s is now %s\n", addon.Title, onOff(addon.Selected))
	case "/doc":
		path, err := r.engine.DownloadDocument(ctx)
		if err != nil {
			errColor.Printf("Download failed: %v\n", err)
			return false
		}
		fmt.Printf("Saved %s\n", path)
	case "/quit", "/exit":
		return true
	default:
		errColor.Printf("Unknown command: %s\n", fields[0])
	}
	return false
}

func (r *repl) printPipeline() {
	tracker := r.engine.Tracker()
	fmt.Printf("Pipeline (%d%%):\n", tracker.Progress())
	for _, id := range agents.Pipeline {
		var marker string
		switch tracker.State(id) {
		case agents.StageActive:
			marker = accentColor.Sprint("▶")
		case agents.StageCompleted:
			marker = color.GreenString("✓")
		default:
			marker = dimColor.Sprint("·")
		}
		fmt.Printf("  %s %s\n", marker, agents.Label(id))
	}
}

func (r *repl) runPaymentFlow(ctx context.Context) {
	flow, err := r.engine.NewPaymentFlow(nil)
	if err != nil {
		errColor.Printf("Payment unavailable: %v\n", err)
		return
	}

	for {
		fmt.Printf("\nPay %s\n", accentColor.Sprintf("$%.2f", flow.Amount()))
		for i, m := range payment.Methods {
			fmt.Printf("  %d. %s\n", i+1, m.Label)
		}
		accentColor.Print("Pick a payment method (or 'c' to cancel)> ")
		line, ok := r.readLine(ctx)
		if !ok || strings.TrimSpace(line) == "c" {
			_ = flow.Cancel()
			dimColor.Println("Payment cancelled.")
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || n < 1 || n > len(payment.Methods) {
			errColor.Println("No such method")
			continue
		}
		if err := flow.Select(payment.Methods[n-1].ID); err != nil {
			errColor.Printf("%v\n", err)
			continue
		}
		if err := flow.Proceed(); err != nil {
			errColor.Printf("%v\n", err)
			continue
		}

		accentColor.Printf("Confirm paying $%.2f via %s? [y/N]> ", flow.Amount(), flow.Method().Label)
		answer, ok := r.readLine(ctx)
		if !ok || !strings.EqualFold(strings.TrimSpace(answer), "y") {
			if err := flow.Back(); err != nil {
				errColor.Printf("%v\n", err)
				return
			}
			continue
		}

		dimColor.Println("Processing payment...")
		result, err := flow.Confirm(ctx)
		if err != nil {
			errColor.Printf("Payment failed: %v\n", err)
			continue
		}

		color.Green("Payment successful! Reference %s", result.PaymentReference)
		if err := r.engine.CompletePayment(ctx, flow.Method().ID, result); err != nil {
			errColor.Printf("Finalizing failed: %v\n", err)
			return
		}
		history := r.engine.History()
		if len(history) > 0 {
			last := history[len(history)-1]
			r.printMessage(&last)
			if r.engine.ShouldShowPopup(&last) {
				r.printPolicyPopup()
			}
		}
		return
	}
}

func (r *repl) printPolicyPopup() {
	state := r.engine.State()
	fmt.Println()
	color.Green("  ┌──────────────────────────────────────┐")
	color.Green("  │        You're covered! 🎉            │")
	color.Green("  └──────────────────────────────────────┘")
	if policy := state.String(backend.StateKeyPolicyNumber); policy != "" {
		fmt.Printf("  Policy %s is active.\n", accentColor.Sprint(policy))
	}
	dimColor.Println("  Use /doc to download your policy document.")
	fmt.Println()
}

func runSessions(ctx context.Context, cfg *config.Config) error {
	recents := openStore(cfg)
	if recents == nil {
		return fmt.Errorf("local session store unavailable")
	}
	defer recents.Close()

	records, err := recents.ListRecent(ctx, 20)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No recent sessions.")
		return nil
	}

	current, _ := recents.Current(ctx)
	for _, rec := range records {
		marker := " "
		if current != nil && current.ID == rec.ID {
			marker = accentColor.Sprint("*")
		}
		status := "in progress"
		if rec.Completed {
			status = color.GreenString("completed")
		}
		plan := rec.PlanName
		if plan == "" {
			plan = "-"
		}
		fmt.Printf("%s %s  %s  %-15s %s\n",
			marker, rec.ID, rec.LastActiveAt.Local().Format("2006-01-02 15:04"), plan, status)
	}
	return nil
}

func runDoc(ctx context.Context, cfg *config.Config, resume string) error {
	recents := openStore(cfg)
	if recents != nil {
		defer recents.Close()
	}

	if resume == "" {
		if recents == nil {
			return fmt.Errorf("no session id given and no local store to find one")
		}
		current, err := recents.Current(ctx)
		if err != nil {
			return fmt.Errorf("no current session; pass -resume ID")
		}
		resume = current.ID
	}

	engine := session.New(session.Options{
		Backend:     backend.NewClient(cfg.Backend.BaseURL, nil),
		Recents:     recents,
		Delays:      cfg.Delays,
		UserAgent:   cfg.Client.UserAgent,
		DownloadDir: cfg.Client.DownloadDir,
	})
	if err := engine.Bootstrap(ctx, resume); err != nil {
		return err
	}

	path, err := engine.DownloadDocument(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Saved %s\n", path)
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func onOff(selected bool) string {
	if selected {
		return "on"
	}
	return "off"
}
