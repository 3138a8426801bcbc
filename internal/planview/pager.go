package planview

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/muesli/reflow/wordwrap"
)

var (
	pagerTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	pagerChromeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	liveStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

// Pager shows rendered plan content in an interactive viewport with
// search. RunLive additionally watches the plan file and re-renders on
// every write, following the tail while the run progresses.
type Pager struct {
	title string
}

// NewPager creates a pager with the given title bar text.
func NewPager(title string) *Pager {
	return &Pager{title: title}
}

// Run shows static content until the user quits.
func (p *Pager) Run(content string) error {
	prog := tea.NewProgram(
		&pagerModel{title: p.title, content: content},
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := prog.Run()
	return err
}

// RunLive watches path and calls render after every settle period.
func (p *Pager) RunLive(path string, render func() (string, error)) error {
	content, err := render()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("plan watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	prog := tea.NewProgram(
		&pagerModel{
			title:   p.title,
			content: content,
			live:    true,
			follow:  true,
			render:  render,
			watcher: watcher,
		},
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err = prog.Run()
	watcher.Close()
	return err
}

type planChangedMsg struct{}

type pagerModel struct {
	viewport viewport.Model
	title    string
	content  string
	wrapped  string
	ready    bool

	live    bool
	follow  bool // stick to the bottom as the plan grows
	render  func() (string, error)
	watcher *fsnotify.Watcher

	searching   bool
	searchInput textinput.Model
	searchQuery string
	matches     []int
	matchIndex  int
	noMatch     bool
}

func (m *pagerModel) Init() tea.Cmd {
	if m.live && m.watcher != nil {
		return m.watchPlan()
	}
	return nil
}

// watchPlan blocks until the plan file changes. The atomic rewrite the
// store does shows up as Create or Write depending on the platform.
func (m *pagerModel) watchPlan() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case event, ok := <-m.watcher.Events:
				if !ok {
					return nil
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					// Let the rename-over-the-top settle.
					time.Sleep(100 * time.Millisecond)
					return planChangedMsg{}
				}
			case _, ok := <-m.watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func (m *pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	if m.searching {
		if key, ok := msg.(tea.KeyMsg); ok {
			switch key.String() {
			case "enter":
				m.searchQuery = m.searchInput.Value()
				m.searching = false
				m.runSearch()
				if len(m.matches) > 0 {
					m.jumpToMatch(0)
				}
				return m, nil
			case "esc", "ctrl+c":
				m.searching = false
				m.clearSearch()
				return m, nil
			}
		}
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}

	switch msg := msg.(type) {
	case planChangedMsg:
		if m.render != nil {
			if content, err := m.render(); err == nil {
				offset := m.viewport.YOffset
				m.content = content
				m.wrapped = wrapContent(m.content, m.viewport.Width)
				m.viewport.SetContent(m.wrapped)
				if m.follow {
					m.viewport.GotoBottom()
				} else {
					m.viewport.YOffset = offset
				}
				if m.searchQuery != "" {
					m.runSearch()
				}
			}
		}
		cmds = append(cmds, m.watchPlan())

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.searchQuery != "" {
				m.clearSearch()
			} else {
				return m, tea.Quit
			}
		case "g":
			m.follow = false
			m.viewport.GotoTop()
		case "G":
			m.viewport.GotoBottom()
		case "f":
			if m.live {
				m.follow = !m.follow
				if m.follow {
					m.viewport.GotoBottom()
				}
			}
		case "/":
			m.searching = true
			m.searchInput = textinput.New()
			m.searchInput.Placeholder = "Search..."
			m.searchInput.Focus()
			m.searchInput.CharLimit = 100
			m.searchInput.Width = 40
			if m.searchQuery != "" {
				m.searchInput.SetValue(m.searchQuery)
			}
			return m, textinput.Blink
		case "n":
			if len(m.matches) > 0 {
				m.matchIndex = (m.matchIndex + 1) % len(m.matches)
				m.jumpToMatch(m.matchIndex)
			}
		case "N":
			if len(m.matches) > 0 {
				m.matchIndex--
				if m.matchIndex < 0 {
					m.matchIndex = len(m.matches) - 1
				}
				m.jumpToMatch(m.matchIndex)
			}
		}
		// Manual scrolling leaves follow mode.
		switch msg.String() {
		case "up", "k", "pgup", "ctrl+u", "b":
			m.follow = false
		}

	case tea.WindowSizeMsg:
		headerHeight, footerHeight := 1, 1
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.wrapped = wrapContent(m.content, msg.Width)
		m.viewport.SetContent(m.wrapped)
		if m.follow {
			m.viewport.GotoBottom()
		}
		if m.searchQuery != "" {
			m.runSearch()
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *pagerModel) clearSearch() {
	m.searchQuery = ""
	m.matches = nil
	m.noMatch = false
}

func (m *pagerModel) runSearch() {
	m.matches = nil
	m.matchIndex = 0
	m.noMatch = false
	if m.searchQuery == "" {
		return
	}
	query := strings.ToLower(m.searchQuery)
	for i, line := range strings.Split(m.wrapped, "\n") {
		if strings.Contains(strings.ToLower(line), query) {
			m.matches = append(m.matches, i)
		}
	}
	if len(m.matches) == 0 {
		m.noMatch = true
	}
}

func (m *pagerModel) jumpToMatch(index int) {
	if index < 0 || index >= len(m.matches) {
		return
	}
	m.follow = false
	target := m.matches[index] - m.viewport.Height/2
	if target < 0 {
		target = 0
	}
	if limit := m.viewport.TotalLineCount() - m.viewport.Height; target > limit {
		target = max(0, limit)
	}
	m.viewport.YOffset = target
}

func (m *pagerModel) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	title := pagerTitleStyle.Render(m.title)
	rule := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title)))
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, pagerChromeStyle.Render(rule))

	if m.searching {
		prompt := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("/")
		return header + "\n" + m.viewport.View() + "\n" + prompt + m.searchInput.View()
	}

	var help string
	switch {
	case m.noMatch:
		help = " " + failedStyle.Render("Pattern not found") + " │ /: search "
	case len(m.matches) > 0:
		pos := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).
			Render(fmt.Sprintf("[%d/%d]", m.matchIndex+1, len(m.matches)))
		help = fmt.Sprintf(" %s │ n/N: next/prev │ /: search │ esc: clear ", pos)
	case m.live && m.follow:
		help = fmt.Sprintf(" %s │ q: quit │ /: search │ f: unfollow ", liveStyle.Render("● LIVE"))
	case m.live:
		help = fmt.Sprintf(" %s │ q: quit │ /: search │ f: follow │ g/G: top/bottom ", liveStyle.Render("● LIVE"))
	default:
		help = " q: quit │ /: search │ n/N: next/prev │ g/G: top/bottom "
	}

	percent := 100
	if span := m.viewport.TotalLineCount() - m.viewport.Height; span > 0 {
		percent = m.viewport.YOffset * 100 / span
		if percent > 100 {
			percent = 100
		}
	}
	info := fmt.Sprintf(" %d%% ", percent)
	rule = strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(help)-lipgloss.Width(info)))
	footer := pagerChromeStyle.Render(help) + pagerChromeStyle.Render(rule) + pagerChromeStyle.Render(info)

	return header + "\n" + m.viewport.View() + "\n" + footer
}

// wrapContent wraps long lines to the viewport width, indenting plan
// step continuations to keep the step body visually nested.
func wrapContent(content string, width int) string {
	if width <= 0 {
		return content
	}
	var result []string
	for _, line := range strings.Split(content, "\n") {
		if lipgloss.Width(line) <= width {
			result = append(result, line)
			continue
		}
		indent := ""
		if strings.HasPrefix(line, "    ") {
			indent = "    "
		}
		avail := max(20, width-len(indent))
		for _, w := range strings.Split(wordwrap.String(strings.TrimPrefix(line, indent), avail), "\n") {
			result = append(result, indent+w)
		}
	}
	return strings.Join(result, "\n")
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
