// ABOUTME: Full-screen TUI client for the quoting backend built on bubbletea.
// ABOUTME: Transcript viewport, pipeline sidebar, quick replies and payment overlay.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jiffylabs/quotechat/internal/agents"
	"github.com/jiffylabs/quotechat/internal/backend"
	"github.com/jiffylabs/quotechat/internal/cards"
	"github.com/jiffylabs/quotechat/internal/config"
	"github.com/jiffylabs/quotechat/internal/mdtext"
	"github.com/jiffylabs/quotechat/internal/notify"
	"github.com/jiffylabs/quotechat/internal/payment"
	"github.com/jiffylabs/quotechat/internal/session"
	"github.com/jiffylabs/quotechat/internal/store"
)

type uiMode int

const (
	modeChat uiMode = iota
	modePaymentSelect
	modePaymentConfirm
	modePaymentProcessing
	modePopup
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	agentStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	quickStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("240")).
			PaddingLeft(1)
	overlayStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("208")).
			Padding(1, 2)
	popupStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(1, 3)
)

const sidebarWidth = 22

type model struct {
	engine   *session.Engine
	registry *cards.Registry
	resumeID string
	events   <-chan notify.Event

	mode       uiMode
	ready      bool
	startupErr error
	statusLine string

	timeline viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	width    int
	height   int

	transcript   []string
	quickReplies []backend.QuickReply
	addons       []cards.Addon
	waiting      bool

	flow          *payment.Flow
	methodIndex   int
	paymentErr    string
	popupPolicyNo string
}

// Async command results.
type (
	bootstrapDoneMsg struct{ err error }
	turnDoneMsg      struct {
		msg *backend.Message
		err error
	}
	paymentDoneMsg struct {
		result *backend.PaymentResult
		err    error
	}
	completionDoneMsg struct{ err error }
	downloadDoneMsg   struct {
		path string
		err  error
	}
)

func newModel(engine *session.Engine, registry *cards.Registry, resumeID string, events <-chan notify.Event) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 2000
	input.Placeholder = "Tell me about your vehicle..."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	return model{
		engine:     engine,
		registry:   registry,
		resumeID:   resumeID,
		events:     events,
		statusLine: "connecting...",
		timeline:   viewport.New(0, 0),
		input:      input,
		spinner:    sp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.bootstrapCmd(), waitEvent(m.events))
}

// waitEvent re-arms after every delivery so the hub's transient events keep
// flowing into Update.
func waitEvent(ch <-chan notify.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return ev
	}
}

func (m model) bootstrapCmd() tea.Cmd {
	engine, resumeID := m.engine, m.resumeID
	return func() tea.Msg {
		err := engine.Bootstrap(context.Background(), resumeID)
		if errors.Is(err, backend.ErrSessionNotFound) {
			err = engine.Bootstrap(context.Background(), "")
		}
		return bootstrapDoneMsg{err: err}
	}
}

func (m model) submitCmd(content, quickReplyValue string) tea.Cmd {
	engine := m.engine
	return func() tea.Msg {
		msg, err := engine.Submit(context.Background(), content, quickReplyValue)
		return turnDoneMsg{msg: msg, err: err}
	}
}

func (m model) confirmPaymentCmd(flow *payment.Flow) tea.Cmd {
	return func() tea.Msg {
		result, err := flow.Confirm(context.Background())
		return paymentDoneMsg{result: result, err: err}
	}
}

func (m model) completePaymentCmd(method string, result *backend.PaymentResult) tea.Cmd {
	engine := m.engine
	return func() tea.Msg {
		return completionDoneMsg{err: engine.CompletePayment(context.Background(), method, result)}
	}
}

func (m model) downloadCmd() tea.Cmd {
	engine := m.engine
	return func() tea.Msg {
		path, err := engine.DownloadDocument(context.Background())
		return downloadDoneMsg{path: path, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case bootstrapDoneMsg:
		if msg.err != nil {
			m.startupErr = msg.err
			m.statusLine = "startup failed"
			return m, nil
		}
		m.ready = true
		m.statusLine = fmt.Sprintf("session %s", m.engine.SessionID())
		for _, histMsg := range m.engine.History() {
			m.appendMessage(&histMsg)
		}
		m.refreshTimeline()
		return m, nil

	case turnDoneMsg:
		m.waiting = false
		if msg.err != nil {
			if errors.Is(msg.err, session.ErrPaymentRequested) {
				return m.openPaymentOverlay()
			}
			m.appendLine(errStyle.Render("turn failed: " + msg.err.Error()))
			m.refreshTimeline()
			return m, nil
		}
		m.appendMessage(msg.msg)
		m.refreshTimeline()
		m.statusLine = fmt.Sprintf("session %s · %s", m.engine.SessionID(),
			agents.Label(m.engine.Tracker().Current()))
		if m.engine.ShouldShowPopup(msg.msg) {
			m.mode = modePopup
			m.popupPolicyNo = m.engine.State().String(backend.StateKeyPolicyNumber)
		}
		return m, nil

	case paymentDoneMsg:
		if msg.err != nil {
			m.paymentErr = msg.err.Error()
			m.mode = modePaymentSelect
			return m, nil
		}
		m.waiting = true
		m.mode = modeChat
		m.statusLine = "payment accepted, wrapping up..."
		method := ""
		if m.flow != nil {
			method = m.flow.Method().ID
		}
		return m, m.completePaymentCmd(method, msg.result)

	case completionDoneMsg:
		m.waiting = false
		if msg.err != nil {
			m.appendLine(errStyle.Render("finalizing failed: " + msg.err.Error()))
			m.refreshTimeline()
			return m, nil
		}
		history := m.engine.History()
		if len(history) >= 2 {
			m.appendMessage(&history[len(history)-2])
			last := history[len(history)-1]
			m.appendMessage(&last)
			if m.engine.ShouldShowPopup(&last) {
				m.mode = modePopup
				m.popupPolicyNo = m.engine.State().String(backend.StateKeyPolicyNumber)
			}
		}
		m.refreshTimeline()
		return m, nil

	case downloadDoneMsg:
		if msg.err != nil {
			m.statusLine = "download failed: " + msg.err.Error()
		} else {
			m.statusLine = "saved " + msg.path
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.timeline.Width = max(20, msg.Width-sidebarWidth-3)
		m.timeline.Height = max(5, msg.Height-6)
		m.input.Width = max(20, msg.Width-4)
		m.refreshTimeline()
		return m, nil

	case notify.Event:
		switch msg.Kind {
		case notify.KindToast:
			m.statusLine = msg.Text
		case notify.KindAgentChanged:
			m.statusLine = "handed off to " + agents.Label(agents.ID(msg.Agent))
		case notify.KindPaymentCompleted:
			m.statusLine = "payment reference " + msg.Text
		}
		return m, waitEvent(m.events)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.timeline, cmd = m.timeline.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	switch m.mode {
	case modePaymentSelect:
		return m.handlePaymentSelectKey(msg)
	case modePaymentConfirm:
		return m.handlePaymentConfirmKey(msg)
	case modePaymentProcessing:
		return m, nil
	case modePopup:
		switch msg.String() {
		case "d":
			m.mode = modeChat
			return m, m.downloadCmd()
		case "enter", "esc", "q":
			m.mode = modeChat
		}
		return m, nil
	}

	switch msg.Type {
	case tea.KeyEnter:
		return m.submitInput()
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) submitInput() (tea.Model, tea.Cmd) {
	if !m.ready || m.waiting {
		return m, nil
	}
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return m, nil
	}
	m.input.Reset()

	if strings.HasPrefix(line, "/") {
		return m.handleCommand(line)
	}

	content, quickReplyValue := line, ""
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(m.quickReplies) {
		qr := m.quickReplies[n-1]
		content, quickReplyValue = qr.Label, qr.Value
	}

	if session.IsPaymentTrigger(quickReplyValue) {
		return m.openPaymentOverlay()
	}

	m.waiting = true
	m.appendLine(userStyle.Render("you: " + content))
	m.refreshTimeline()
	return m, m.submitCmd(content, quickReplyValue)
}

func (m model) handleCommand(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/doc":
		return m, m.downloadCmd()
	case "/addon":
		if len(fields) < 2 {
			m.statusLine = "usage: /addon N"
			return m, nil
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > len(m.addons) {
			m.statusLine = "no such add-on"
			return m, nil
		}
		addon := m.addons[n-1]
		engine := m.engine
		m.addons[n-1].Selected = !addon.Selected
		return m, func() tea.Msg {
			if err := engine.ToggleAddon(context.Background(), addon.ID, !addon.Selected); err != nil {
				return downloadDoneMsg{err: err}
			}
			return downloadDoneMsg{path: "updated " + addon.Title}
		}
	case "/quit":
		return m, tea.Quit
	default:
		m.statusLine = "commands: /doc, /addon N, /quit"
	}
	return m, nil
}

func (m model) openPaymentOverlay() (tea.Model, tea.Cmd) {
	flow, err := m.engine.NewPaymentFlow(nil)
	if err != nil {
		m.statusLine = "payment unavailable: " + err.Error()
		return m, nil
	}
	m.flow = flow
	m.methodIndex = 0
	m.paymentErr = ""
	m.mode = modePaymentSelect
	return m, nil
}

func (m model) handlePaymentSelectKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.methodIndex > 0 {
			m.methodIndex--
		}
	case "down", "j":
		if m.methodIndex < len(payment.Methods)-1 {
			m.methodIndex++
		}
	case "enter":
		if err := m.flow.Select(payment.Methods[m.methodIndex].ID); err != nil {
			m.paymentErr = err.Error()
			return m, nil
		}
		if err := m.flow.Proceed(); err != nil {
			m.paymentErr = err.Error()
			return m, nil
		}
		m.paymentErr = ""
		m.mode = modePaymentConfirm
	case "esc":
		_ = m.flow.Cancel()
		m.mode = modeChat
		m.flow = nil
	}
	return m, nil
}

func (m model) handlePaymentConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "enter":
		m.mode = modePaymentProcessing
		return m, m.confirmPaymentCmd(m.flow)
	case "n", "esc":
		if err := m.flow.Back(); err != nil {
			m.paymentErr = err.Error()
		}
		m.mode = modePaymentSelect
	}
	return m, nil
}

// appendMessage renders one transcript entry: role line, body, cards and
// quick replies.
func (m *model) appendMessage(msg *backend.Message) {
	if msg == nil {
		return
	}
	switch msg.Role {
	case backend.RoleUser:
		m.appendLine(userStyle.Render("you: " + msg.Content))
	case backend.RoleAssistant:
		m.appendLine(agentStyle.Render(agents.Label(agents.ID(msg.Agent)) + ":"))
		m.appendLine(mdtext.Render(msg.Content))
	}

	for _, rendered := range m.registry.Dispatch(msg.Cards) {
		m.appendLine(rendered)
	}
	for _, card := range msg.Cards {
		if card.Type == cards.TypeAddons {
			m.addons = cards.AddonsFromData(card.Data)
			m.appendLine(dimStyle.Render("Toggle an add-on with /addon N"))
		}
	}

	m.quickReplies = msg.QuickReplies
	for i, qr := range msg.QuickReplies {
		m.appendLine(quickStyle.Render(fmt.Sprintf("  %d. %s", i+1, qr.Label)))
	}
	m.appendLine("")
}

func (m *model) appendLine(line string) {
	m.transcript = append(m.transcript, line)
}

func (m *model) refreshTimeline() {
	m.timeline.SetContent(strings.Join(m.transcript, "\n"))
	m.timeline.GotoBottom()
}

func (m model) View() string {
	if m.startupErr != nil {
		return errStyle.Render("startup failed: "+m.startupErr.Error()) + "\n"
	}
	if !m.ready {
		return fmt.Sprintf("\n  %s connecting to the quoting backend...\n", m.spinner.View())
	}

	header := headerStyle.Render("quotechat") + dimStyle.Render("  motor insurance quoting")

	var body string
	switch m.mode {
	case modePaymentSelect, modePaymentConfirm, modePaymentProcessing:
		body = m.paymentView()
	case modePopup:
		body = m.popupView()
	default:
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.timeline.View(), m.sidebarView())
	}

	inputLine := m.input.View()
	if m.waiting {
		inputLine = m.spinner.View() + dimStyle.Render(" assistant is typing...")
	}

	return strings.Join([]string{
		header,
		body,
		inputLine,
		dimStyle.Render(m.statusLine),
	}, "\n")
}

func (m model) sidebarView() string {
	tracker := m.engine.Tracker()
	if tracker == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("Pipeline"))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" %d%%", tracker.Progress())))
	for _, id := range agents.Pipeline {
		b.WriteString("\n")
		switch tracker.State(id) {
		case agents.StageActive:
			b.WriteString(quickStyle.Render("▶ " + agents.Label(id)))
		case agents.StageCompleted:
			b.WriteString(userStyle.Render("✓ " + agents.Label(id)))
		default:
			b.WriteString(dimStyle.Render("· " + agents.Label(id)))
		}
	}
	return sidebarStyle.Width(sidebarWidth).Render(b.String())
}

func (m model) paymentView() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Payment"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  $%.2f", m.flow.Amount())))
	b.WriteString("\n\n")

	switch m.mode {
	case modePaymentSelect:
		for i, method := range payment.Methods {
			cursor := "  "
			if i == m.methodIndex {
				cursor = quickStyle.Render("> ")
			}
			b.WriteString(cursor + method.Label + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter to continue · esc to cancel"))
	case modePaymentConfirm:
		b.WriteString(fmt.Sprintf("Pay %s via %s?\n\n",
			quickStyle.Render(fmt.Sprintf("$%.2f", m.flow.Amount())),
			m.flow.Method().Label))
		b.WriteString(dimStyle.Render("y to confirm · n to go back"))
	case modePaymentProcessing:
		b.WriteString(m.spinner.View() + " processing payment...")
	}

	if m.paymentErr != "" {
		b.WriteString("\n\n" + errStyle.Render(m.paymentErr))
	}
	return overlayStyle.Render(b.String())
}

func (m model) popupView() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("You're covered! 🎉"))
	b.WriteString("\n\n")
	if m.popupPolicyNo != "" {
		b.WriteString("Policy " + quickStyle.Render(m.popupPolicyNo) + " is active.\n\n")
	}
	b.WriteString(dimStyle.Render("d to download the policy document · enter to close"))
	return popupStyle.Render(b.String())
}

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

	// Keep slog off the alternate screen.
	logFile, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err == nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(logFile, nil)))
	}

	var recents store.Store
	if s, err := store.NewSQLiteStore(cfg.Database.Path); err == nil {
		recents = s
		defer s.Close()
	}

	resumeID := *resume
	if resumeID == "" && !*fresh && recents != nil {
		if current, err := recents.Current(context.Background()); err == nil && !current.Completed {
			resumeID = current.ID
		}
	}

	hub := notify.NewHub()
	defer hub.Close()
	events, _ := hub.Subscribe(context.Background())

	engine := session.New(session.Options{
		Backend:     backend.NewClient(cfg.Backend.BaseURL, nil),
		Hub:         hub,
		Recents:     recents,
		Delays:      cfg.Delays,
		UserAgent:   cfg.Client.UserAgent + " (tui)",
		DownloadDir: cfg.Client.DownloadDir,
	})

	registry, err := cards.NewRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(engine, registry, resumeID, events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "quotechat-tui fatal error: %v\n", err)
		os.Exit(1)
	}
}
