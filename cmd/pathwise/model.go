package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pathwise-ai/pathwise/pkg/audio"
	"github.com/pathwise-ai/pathwise/pkg/capture"
	"github.com/pathwise-ai/pathwise/pkg/client"
	"github.com/pathwise-ai/pathwise/pkg/session"
	"github.com/pathwise-ai/pathwise/pkg/voice/tts"
)

const statusClearDelay = 4 * time.Second

// app is the mutable state shared between the bubbletea model and the
// session sink. Everything in it is touched only on the bubbletea goroutine.
type app struct {
	state      *session.State
	manager    *client.Manager
	recorder   *capture.Recorder
	controller *session.Controller
	dispatcher *session.Dispatcher
	player     *audio.Player
	speech     tts.Synthesizer
	logger     *slog.Logger
	exportDir  string

	transcript       []transcriptLine
	profile          map[string]any
	status           string
	statusPersistent bool
	statusGen        int
	artifactEnabled  bool
	hasArtifact      bool
	bars             []float64
	draft            string
	phase            capture.Phase
}

type transcriptLine struct {
	author session.Author
	text   string
}

// uiSink is the session.Sink the dispatcher, fallback engine, and controller
// write through. Only playback and synthesis leave the UI goroutine.
type uiSink struct {
	app *app
}

func (s *uiSink) AppendMessage(author session.Author, text string) {
	s.app.transcript = append(s.app.transcript, transcriptLine{author: author, text: text})
}

func (s *uiSink) SetStatus(message string, persistent bool) {
	s.app.status = message
	s.app.statusPersistent = persistent
	s.app.statusGen++
}

func (s *uiSink) PlayAudio(payload []byte) {
	if s.app.player == nil {
		return
	}
	go func() {
		if err := s.app.player.PlayMP3(payload); err != nil {
			s.app.logger.Warn("reply playback failed", "error", err)
		}
	}()
}

func (s *uiSink) SpeakText(text string) {
	go func() {
		if err := s.app.speech.Speak(context.Background(), text, tts.Options{}); err != nil {
			s.app.logger.Warn("local synthesis failed", "error", err)
		}
	}()
}

func (s *uiSink) EnableArtifactRequests() {
	s.app.artifactEnabled = true
}

func (s *uiSink) ArtifactUpdated(json.RawMessage) {
	s.app.hasArtifact = true
}

func (s *uiSink) ProfileUpdated(profile map[string]any) {
	s.app.profile = profile
}

type (
	clientEventMsg  struct{ event client.Event }
	captureEventMsg struct{ event capture.Event }
	transcriptMsg   struct{ text string }
	statusClearMsg  struct{ gen int }
)

func waitClientEvent(ch <-chan client.Event) tea.Cmd {
	return func() tea.Msg { return clientEventMsg{event: <-ch} }
}

func waitCaptureEvent(ch <-chan capture.Event) tea.Cmd {
	return func() tea.Msg { return captureEventMsg{event: <-ch} }
}

func clearStatusAfter(gen int) tea.Cmd {
	return tea.Tick(statusClearDelay, func(time.Time) tea.Msg {
		return statusClearMsg{gen: gen}
	})
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	counselorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	offlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	barsStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	draftStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type model struct {
	app   *app
	input textinput.Model
	view  viewport.Model

	width        int
	height       int
	ready        bool
	lastClearGen int
}

func newModel(a *app) model {
	input := textinput.New()
	input.Placeholder = "Tell me about yourself…"
	input.Prompt = "> "
	input.CharLimit = 800
	input.Focus()
	return model{app: a, input: input}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		waitClientEvent(m.app.manager.Events()),
		waitCaptureEvent(m.app.recorder.Events()),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chrome := 7 // header, bars, draft, input, status, help, padding
		if !m.ready {
			m.view = viewport.New(msg.Width, max(msg.Height-chrome, 3))
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = max(msg.Height-chrome, 3)
		}
		m.input.Width = max(msg.Width-4, 20)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case clientEventMsg:
		cmd := m.handleClientEvent(msg.event)
		return m, tea.Batch(cmd, waitClientEvent(m.app.manager.Events()))

	case captureEventMsg:
		cmd := m.handleCaptureEvent(msg.event)
		return m, tea.Batch(cmd, waitCaptureEvent(m.app.recorder.Events()))

	case transcriptMsg:
		m.app.controller.SubmitTranscript(msg.text)
		m.app.draft = ""
		return m, m.sync()

	case statusClearMsg:
		if msg.gen == m.app.statusGen && !m.app.statusPersistent {
			m.app.status = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.app.recorder.Abort()
		return m, tea.Quit

	case "enter":
		text := m.input.Value()
		m.input.Reset()
		m.handleInput(text)
		return m, m.sync()

	case "ctrl+r":
		if m.app.recorder.Phase() == capture.PhaseIdle {
			if err := m.app.recorder.Start(context.Background()); err != nil {
				m.setStatus(fmt.Sprintf("recording unavailable: %v", err), false)
			}
		} else {
			m.app.recorder.Stop()
		}
		return m, m.sync()

	case "ctrl+p":
		m.app.controller.RequestArtifact()
		return m, m.sync()

	case "ctrl+x":
		m.app.controller.ClearConversation()
		return m, m.sync()

	case "ctrl+e":
		path, err := m.app.controller.ExportArtifact(m.app.exportDir)
		if err != nil {
			m.setStatus(fmt.Sprintf("export failed: %v", err), false)
		} else {
			m.setStatus("plan saved to "+path, false)
		}
		return m, m.sync()

	case "ctrl+n":
		m.app.controller.Reset(context.Background())
		m.app.transcript = nil
		m.app.profile = nil
		m.app.artifactEnabled = false
		m.app.hasArtifact = false
		m.app.draft = ""
		return m, m.sync()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleInput routes slash commands; anything else is a conversational turn.
func (m *model) handleInput(text string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		m.app.controller.SubmitText(text)
		return
	}
	command, rest, _ := strings.Cut(trimmed, " ")
	rest = strings.TrimSpace(rest)
	switch command {
	case "/start":
		m.app.controller.StartSession()
	case "/explore":
		interests := strings.Split(rest, ",")
		for i := range interests {
			interests[i] = strings.TrimSpace(interests[i])
		}
		m.app.controller.ExploreInterests(interests)
	case "/compare":
		first, second, ok := strings.Cut(rest, " vs ")
		if !ok {
			m.setStatus("usage: /compare <first> vs <second>", false)
			return
		}
		m.app.controller.CompareOptions(strings.TrimSpace(first), strings.TrimSpace(second))
	case "/profile":
		m.app.controller.RequestProfile()
		m.appendProfile()
	case "/history":
		m.app.controller.RequestHistory()
	case "/stats":
		m.app.controller.RequestStats()
	case "/plan":
		m.app.controller.RequestArtifact()
	default:
		m.setStatus("commands: /start /explore a, b /compare a vs b /profile /history /stats /plan", false)
	}
}

// appendProfile renders the accumulated profile into the transcript.
func (m *model) appendProfile() {
	if len(m.app.profile) == 0 {
		return
	}
	var b strings.Builder
	b.WriteString("profile so far:")
	for _, field := range sortedFields(m.app.profile) {
		switch v := m.app.profile[field].(type) {
		case []string:
			if len(v) > 0 {
				fmt.Fprintf(&b, " %s=%s;", field, strings.Join(v, ", "))
			}
		default:
			fmt.Fprintf(&b, " %s=%v;", field, v)
		}
	}
	m.app.transcript = append(m.app.transcript, transcriptLine{
		author: session.AuthorSystem,
		text:   strings.TrimSuffix(b.String(), ";"),
	})
}

func sortedFields(profile map[string]any) []string {
	fields := make([]string, 0, len(profile))
	for field := range profile {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func (m *model) handleClientEvent(event client.Event) tea.Cmd {
	switch ev := event.(type) {
	case client.OpenedEvent:
		if m.app.statusPersistent {
			m.app.status = ""
			m.app.statusPersistent = false
		}
	case client.FrameEvent:
		m.app.dispatcher.Dispatch(ev.Frame)
	case client.StatusEvent:
		m.setStatus(ev.Message, ev.Persistent)
	case client.ClosedEvent:
		// The manager already emitted the persistent disconnected status.
	}
	return m.sync()
}

func (m *model) handleCaptureEvent(event capture.Event) tea.Cmd {
	switch event.Kind {
	case capture.EventPhase:
		m.app.phase = event.Phase
		if event.Phase == capture.PhaseIdle {
			m.app.draft = ""
		}
	case capture.EventInterim:
		m.app.draft = event.Text
	case capture.EventFinal:
		m.app.draft = ""
	case capture.EventBars:
		m.app.bars = event.Bars
	case capture.EventError:
		m.app.state.SetModality(session.ModalityText)
		m.setStatus(fmt.Sprintf("microphone unavailable: %v", event.Err), false)
	}
	return m.sync()
}

func (m *model) setStatus(message string, persistent bool) {
	m.app.status = message
	m.app.statusPersistent = persistent
	m.app.statusGen++
}

// sync refreshes the viewport and arms the auto-clear timer for a new
// transient status.
func (m *model) sync() tea.Cmd {
	m.refresh()
	if m.app.status != "" && !m.app.statusPersistent && m.app.statusGen != m.lastClearGen {
		m.lastClearGen = m.app.statusGen
		return clearStatusAfter(m.app.statusGen)
	}
	return nil
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.view.SetContent(m.renderTranscript())
	m.view.GotoBottom()
}

func (m *model) renderTranscript() string {
	if len(m.app.transcript) == 0 {
		return systemStyle.Render("Say hello to get started, or press ctrl+r to speak.")
	}
	var b strings.Builder
	for _, line := range m.app.transcript {
		var label string
		switch line.author {
		case session.AuthorUser:
			label = userStyle.Render(line.author.String() + ":")
		case session.AuthorCounselor:
			label = counselorStyle.Render(line.author.String() + ":")
		default:
			label = systemStyle.Render(line.author.String() + ":")
		}
		b.WriteString(label + " " + line.text + "\n")
	}
	return b.String()
}

var barRunes = []rune(" ▁▂▃▄▅▆▇█")

func renderBars(bars []float64) string {
	var b strings.Builder
	for _, v := range bars {
		idx := int(capture.Lerp(0, float64(len(barRunes)-1), v) + 0.5)
		if idx >= len(barRunes) {
			idx = len(barRunes) - 1
		}
		b.WriteRune(barRunes[idx])
	}
	return b.String()
}

func (m model) View() string {
	if !m.ready {
		return "starting…"
	}

	conn := offlineStyle.Render("offline")
	if m.app.manager.IsOpen() {
		conn = counselorStyle.Render("online")
	}
	header := headerStyle.Render("PathWise") +
		fmt.Sprintf("  %s  progress %d%%", conn, m.app.state.Progress())
	if m.app.artifactEnabled {
		header += "  " + statusStyle.Render("[plan available: ctrl+p]")
	}

	barsLine := ""
	if m.app.phase == capture.PhaseListening || m.app.phase == capture.PhaseAcquiring {
		barsLine = barsStyle.Render("rec "+renderBars(m.app.bars)) + "  " + systemStyle.Render(m.app.phase.String())
	}

	draftLine := ""
	if m.app.draft != "" {
		draftLine = draftStyle.Render("… " + m.app.draft)
	}

	statusLine := ""
	if m.app.status != "" {
		if m.app.statusPersistent {
			statusLine = offlineStyle.Render(m.app.status)
		} else {
			statusLine = statusStyle.Render(m.app.status)
		}
	}

	help := helpStyle.Render("enter send · ctrl+r record · ctrl+p plan · ctrl+e export · ctrl+x clear · ctrl+n reset · ctrl+c quit")

	return strings.Join([]string{
		header,
		m.view.View(),
		barsLine,
		draftLine,
		m.input.View(),
		statusLine,
		help,
	}, "\n")
}
