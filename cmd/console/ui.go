package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"

	"github.com/jwebster45206/microsim/internal/sim"
	"github.com/jwebster45206/microsim/pkg/world"
)

const (
	AgentName       = "Narrator"
	PlaceHolderText = "What happens next? (e.g. 推進 30 分鐘)"
)

// copyToClipboard is replaced in tests.
var copyToClipboard = clipboard.WriteAll

// turn is one entry in the chat viewport. The first turn has no input.
type turn struct {
	input     string
	narrative string
}

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	api          *apiClient
	state        *world.WorldState
	turns        []turn
	pending      string
	notice       string
	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	err          error
	loading      bool

	showQuitModal bool
	progressTick  int
}

type statusMsg struct {
	status *sim.Status
	err    error
}

type actionResultMsg struct {
	input  string
	result *sim.Result
	err    error
}

type resetResultMsg struct {
	result *sim.Result
	err    error
}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)
)

var separatorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")) // dark grey

const helpText = `
Commands:
• /help  - Show this help
• /reset - Start over from 07:00
• /copy  - Copy the latest narrative
• Ctrl+C - Quit

How to play:
• Describe what happens, or ask to skip ahead ("推進 30 分鐘")
• The household reacts and the clock moves forward
`

func NewConsoleUI(api *apiClient) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 1000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		api:          api,
		textarea:     ta,
		chatViewport: chatVp,
		metaViewport: metaVp,
		loading:      true,
	}
}

func writeMetadata(ws *world.WorldState) string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("HOUSEHOLD") + "\n\n")

	if ws == nil {
		content.WriteString("Loading...\n")
		return content.String()
	}

	content.WriteString("Time:\n")
	content.WriteString(ws.Time + "\n\n")

	content.WriteString("Environment:\n")
	content.WriteString(fmt.Sprintf("%s, %s\n", ws.Environment.Weather, ws.Environment.Temperature))
	if ws.Environment.Notes != "" {
		content.WriteString(ws.Environment.Notes + "\n")
	}
	content.WriteString("\n")

	for _, c := range ws.Characters {
		content.WriteString(speakerStyle.Render(c.Name) + " " + promptStyle.Render(c.Role) + "\n")
		content.WriteString(fmt.Sprintf("• %s\n", c.Location))
		content.WriteString(fmt.Sprintf("• %s (%s)\n", c.CurrentAction, c.Mood))
		if c.Notes != "" {
			content.WriteString(fmt.Sprintf("• %s\n", c.Notes))
		}
		content.WriteString("\n")
	}

	content.WriteString("Commands:\n")
	content.WriteString("• Ctrl+C: Quit\n")
	content.WriteString("• Enter: Send\n")
	content.WriteString("• /help: Help\n")
	content.WriteString("• /reset: Start over\n")
	content.WriteString("• /copy: Copy\n")

	return content.String()
}

// writeChatContent rebuilds the chat content for the current viewport width.
func (m *ConsoleUI) writeChatContent() {
	chatWidth := max(m.chatViewport.Width-6, 20) // Account for left(3) + right(3) padding

	var content strings.Builder
	content.WriteString(titleStyle.Render("MICROSIM") + "\n\n")
	content.WriteString("A household, simulated. Type below to move the day along.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", chatWidth-6)) + "\n\n")

	for _, t := range m.turns {
		if t.input != "" {
			content.WriteString(userStyle.Render("You: ") + wrapText(t.input, chatWidth-6) + "\n\n")
		}
		content.WriteString(formatNarrative(t.narrative, chatWidth) + "\n\n")
	}

	if m.pending != "" {
		content.WriteString(userStyle.Render("You: ") + wrapText(m.pending, chatWidth-6) + "\n\n")
	}
	if m.loading {
		content.WriteString(m.renderProgressBar() + "\n\n")
	}
	if m.err != nil {
		content.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n\n")
	}
	if m.notice != "" {
		content.WriteString(m.notice + "\n")
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

// wrapText wraps at word boundaries, then hard-wraps runs without spaces
// such as Chinese prose.
func wrapText(s string, width int) string {
	width = max(width, 10)
	return wrap.String(wordwrap.String(s, width), width)
}

func formatNarrative(narrative string, width int) string {
	prefix := AgentName + ": "
	return narratorStyle.Render(prefix) + wrapText(narrative, width-len(prefix))
}

func (m ConsoleUI) Init() tea.Cmd {
	return tea.Batch(m.loadStatus(), textarea.Blink)
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		chatWidth := int(float64(m.width)*0.7) - 4
		metaWidth := m.width - chatWidth - 6

		m.chatViewport.Width = chatWidth - 2
		m.chatViewport.Height = m.height - 7
		m.metaViewport.Width = metaWidth - 2
		m.metaViewport.Height = m.height - 4
		m.textarea.SetWidth(chatWidth - 4)

		m.ready = true
		m.writeChatContent()
		m.metaViewport.SetContent(writeMetadata(m.state))

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}

			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			m.textarea.Reset()

			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}

			m.err = nil
			m.notice = ""
			m.pending = input
			m.loading = true
			m.progressTick = 0
			m.writeChatContent()

			return m, tea.Batch(m.sendAction(input), progressTick())
		}

	case statusMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			turns := make([]turn, 0, len(msg.status.NarrativeHistory))
			for _, n := range msg.status.NarrativeHistory {
				turns = append(turns, turn{narrative: n})
			}
			m.turns = turns
			m.state = &msg.status.State
			m.metaViewport.SetContent(writeMetadata(m.state))
		}
		m.writeChatContent()
		return m, nil

	case actionResultMsg:
		m.loading = false
		m.pending = ""
		m.err = msg.err
		if msg.err == nil {
			m.turns = append(m.turns, turn{input: msg.input, narrative: msg.result.Narrative})
			m.state = &msg.result.State
			m.metaViewport.SetContent(writeMetadata(m.state))
		} else {
			// Put the input back so it can be retried.
			m.textarea.SetValue(msg.input)
		}
		m.writeChatContent()
		return m, nil

	case resetResultMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.turns = []turn{{narrative: msg.result.Narrative}}
			m.state = &msg.result.State
			m.metaViewport.SetContent(writeMetadata(m.state))
		}
		m.writeChatContent()
		return m, nil

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
		return m, nil
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	m.err = nil
	m.notice = ""

	switch strings.ToLower(strings.TrimSpace(input)) {
	case "/help":
		m.notice = titleStyle.Render("Help:") + helpText

	case "/reset":
		m.loading = true
		m.progressTick = 0
		m.writeChatContent()
		return m, tea.Batch(m.sendReset(), progressTick())

	case "/copy":
		if len(m.turns) == 0 {
			m.notice = promptStyle.Render("Nothing to copy yet.")
			break
		}
		if err := copyToClipboard(m.turns[len(m.turns)-1].narrative); err != nil {
			m.err = fmt.Errorf("copy failed: %w", err)
			break
		}
		m.notice = promptStyle.Render("Latest narrative copied to clipboard.")

	default:
		m.notice = promptStyle.Render("Unknown command " + input + ". Type /help for commands.")
	}

	m.writeChatContent()
	return m, nil
}

func (m ConsoleUI) loadStatus() tea.Cmd {
	return func() tea.Msg {
		status, err := m.api.status()
		return statusMsg{status, err}
	}
}

func (m ConsoleUI) sendAction(input string) tea.Cmd {
	return func() tea.Msg {
		result, err := m.api.act(input)
		return actionResultMsg{input, result, err}
	}
}

func (m ConsoleUI) sendReset() tea.Cmd {
	return func() tea.Msg {
		result, err := m.api.reset()
		return resetResultMsg{result, err}
	}
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("The household keeps its state. You can pick up where you left off.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.7) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(chatWidth-4, 0))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar for loading states
func (m ConsoleUI) renderProgressBar() string {
	usable := m.chatViewport.Width - 6
	if usable <= 0 {
		usable = 30 // fallback before sizing
	}
	usable = min(max(usable, 10), 80)

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		switch {
		case i < filled:
			bar.WriteString("█")
		case i == filled && frame%4 < 2:
			bar.WriteString("▓")
		default:
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
