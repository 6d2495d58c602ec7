package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/tmc/mxlwb/dbgtree"
	"github.com/tmc/mxlwb/session"
	"github.com/tmc/mxlwb/ui/debug"
	"github.com/tmc/mxlwb/ui/editor"
	"github.com/tmc/mxlwb/ui/help"
	"github.com/tmc/mxlwb/ui/keymap"
	"github.com/tmc/mxlwb/ui/layout"
	"github.com/tmc/mxlwb/ui/message"
	"github.com/tmc/mxlwb/ui/statusbar"
)

// Pane names.
const (
	PaneParams  = "params"
	PaneOutput  = "output"
	PaneConsole = "console"
	PaneChat    = "chat"
	PaneDebug   = "debug"
)

// DefaultLayout is params and console on the left, output and chat on the
// right, with the debug tree under the output.
func DefaultLayout() layout.Node {
	return layout.NewSplit(layout.Horizontal, 0.35,
		layout.NewSplit(layout.Vertical, 0.7, layout.NewLeaf(PaneParams), layout.NewLeaf(PaneConsole)),
		layout.NewSplit(layout.Vertical, 0.5,
			layout.NewSplit(layout.Vertical, 0.6, layout.NewLeaf(PaneOutput), layout.NewLeaf(PaneDebug)),
			layout.NewLeaf(PaneChat)))
}

// WorkbenchConfig configures the full-screen workbench.
type WorkbenchConfig struct {
	Controller Controller
	// Monitor is optional; without it the debug pane is unavailable.
	Monitor    Monitor
	ShowHidden bool
	Layout     layout.Node
	Logger     *zap.SugaredLogger

	// Input and Output override the terminal, mainly for tests.
	Input  io.Reader
	Output io.Writer
}

// Workbench is the full-screen terminal workbench.
type Workbench struct {
	cfg WorkbenchConfig
}

// NewWorkbench returns a workbench for cfg.Controller.
func NewWorkbench(cfg WorkbenchConfig) (*Workbench, error) {
	if cfg.Controller == nil {
		return nil, errors.New("interactive: no controller")
	}
	if cfg.Layout == nil {
		cfg.Layout = DefaultLayout()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Workbench{cfg: cfg}, nil
}

// Run runs the Bubble Tea program until the user quits or ctx is done.
func (w *Workbench) Run(ctx context.Context) error {
	m := newModel(ctx, w.cfg)
	defer m.unsubscribe()

	options := []tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}
	if w.cfg.Input != nil {
		options = append(options, tea.WithInput(w.cfg.Input))
	}
	if w.cfg.Output != nil {
		options = append(options, tea.WithOutput(w.cfg.Output))
	}
	_, err := tea.NewProgram(m, options...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// --- Messages ---
type (
	stateMsg        struct{ state session.State }
	debugStateMsg   struct{ state dbgtree.State }
	subClosedMsg    struct{}
	errMsg          struct{ err error }
	chatSelectedMsg struct{ id string }
)

// --- Model ---

type model struct {
	ctx    context.Context
	cfg    WorkbenchConfig
	log    *zap.SugaredLogger
	keyMap keymap.KeyMap

	tree      layout.Node
	focus     string
	showDebug bool

	params    editor.Model
	chatInput textinput.Model
	panes     map[string]*viewport.Model
	debugView *debug.View
	help      help.Model
	spinner   spinner.Model

	state  session.State
	dbg    dbgtree.State
	chatID string

	states      <-chan session.State
	dbgStates   <-chan dbgtree.State
	unsubscribe func()

	showHidden bool
	err        error
	width      int
	height     int
}

func newModel(ctx context.Context, cfg WorkbenchConfig) *model {
	km := keymap.DefaultKeyMap()
	st := cfg.Controller.State()

	ci := textinput.New()
	ci.Prompt = "> "
	ci.Placeholder = "message"

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := &model{
		ctx:        ctx,
		cfg:        cfg,
		log:        cfg.Logger,
		keyMap:     km,
		tree:       cfg.Layout,
		focus:      PaneParams,
		params:     editor.New(km, st.Params),
		chatInput:  ci,
		panes:      map[string]*viewport.Model{},
		debugView:  debug.NewView(),
		help:       help.New(km),
		spinner:    sp,
		state:      st,
		showHidden: cfg.ShowHidden,
		width:      80,
		height:     24,
	}
	for _, p := range []string{PaneOutput, PaneConsole, PaneChat, PaneDebug} {
		vp := viewport.New(0, 0)
		m.panes[p] = &vp
	}
	m.debugView.ShowHidden = cfg.ShowHidden

	states, cancel := cfg.Controller.Subscribe()
	m.states = states
	m.unsubscribe = cancel
	if cfg.Monitor != nil {
		dbgStates, dcancel := cfg.Monitor.Subscribe()
		m.dbgStates = dbgStates
		m.dbg = cfg.Monitor.State()
		m.unsubscribe = func() { cancel(); dcancel() }
	}
	m.params.Focus()
	m.selectChat()
	m.resize()
	return m
}

func (m *model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForState(m.states), m.spinner.Tick}
	if m.dbgStates != nil {
		cmds = append(cmds, waitForDebugState(m.dbgStates))
	}
	return tea.Batch(cmds...)
}

func waitForState(ch <-chan session.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return subClosedMsg{}
		}
		return stateMsg{s}
	}
}

func waitForDebugState(ch <-chan dbgtree.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return debugStateMsg{s}
	}
}

// intent runs fn off the UI goroutine and reports its error.
func (m *model) intent(name string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	log := m.log
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			log.Debugw("intent failed", "intent", name, "error", err)
			return errMsg{err}
		}
		return nil
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.SetWidth(msg.Width)
		m.resize()
		return m, nil

	case stateMsg:
		m.state = msg.state
		m.selectChat()
		m.refresh()
		return m, waitForState(m.states)

	case debugStateMsg:
		m.dbg = msg.state
		m.refresh()
		return m, waitForDebugState(m.dbgStates)

	case subClosedMsg:
		return m, tea.Quit

	case chatSelectedMsg:
		m.chatID = msg.id
		m.refresh()
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case editor.ChangedMsg:
		// Params are pushed to the controller when a request is sent.
		m.err = nil
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	cmds = append(cmds, m.updateFocused(msg))
	return m, tea.Batch(cmds...)
}

// handleKey applies workbench-wide bindings.
func (m *model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	ctl := m.cfg.Controller
	km := m.keyMap
	switch {
	case key.Matches(msg, km.Quit):
		return tea.Quit, true
	case key.Matches(msg, km.Suspend):
		return tea.Suspend, true
	case key.Matches(msg, km.ToggleHelp):
		m.help, _ = m.help.Update(msg)
		m.resize()
		return nil, true
	case key.Matches(msg, km.NextPane):
		m.cycleFocus(1)
		return nil, true
	case key.Matches(msg, km.PrevPane):
		m.cycleFocus(-1)
		return nil, true
	case key.Matches(msg, km.Grow):
		m.tree = layout.Resize(m.tree, m.focus, 0.05)
		m.resize()
		return nil, true
	case key.Matches(msg, km.Shrink):
		m.tree = layout.Resize(m.tree, m.focus, -0.05)
		m.resize()
		return nil, true

	case key.Matches(msg, km.Send):
		return m.send(), true
	case msg.Type == tea.KeyEnter && m.focus == PaneChat:
		return m.send(), true
	case key.Matches(msg, km.Stop):
		m.err = nil
		return m.intent("StopRequest", ctl.StopRequest), true
	case key.Matches(msg, km.Clear):
		m.err = nil
		return m.intent("ClearOutput", ctl.ClearOutput), true
	case key.Matches(msg, km.Regenerate):
		if m.chatID == "" {
			return nil, true
		}
		id := m.chatID
		return m.intent("RegenerateLastTurn", func(ctx context.Context) error {
			return ctl.RegenerateLastTurn(ctx, id)
		}), true

	case key.Matches(msg, km.NewChat):
		return func() tea.Msg {
			id, err := ctl.CreateChat(m.ctx, "")
			if err != nil {
				return errMsg{err}
			}
			return chatSelectedMsg{id}
		}, true
	case key.Matches(msg, km.NextChat):
		m.nextChat()
		return nil, true
	case key.Matches(msg, km.DeleteChat):
		if m.chatID == "" {
			return nil, true
		}
		id := m.chatID
		return m.intent("DeleteChat", func(ctx context.Context) error {
			return ctl.DeleteChat(ctx, id)
		}), true
	case key.Matches(msg, km.DeleteTurn):
		c, ok := m.state.Chat(m.chatID)
		if !ok || len(c.Turns) == 0 {
			return nil, true
		}
		turnID := c.Turns[len(c.Turns)-1].ID
		return m.intent("DeleteChatTurn", func(ctx context.Context) error {
			return ctl.DeleteChatTurn(ctx, c.ID, turnID)
		}), true

	case key.Matches(msg, km.ToggleHidden):
		m.showHidden = !m.showHidden
		m.debugView.ShowHidden = m.showHidden
		m.refresh()
		return nil, true
	case key.Matches(msg, km.ToggleDebug):
		return m.toggleDebug(), true
	}
	return nil, false
}

// send starts a chat turn from the chat pane or a raw request otherwise.
func (m *model) send() tea.Cmd {
	ctl := m.cfg.Controller
	m.err = nil
	params := m.params.Value()
	if m.focus != PaneChat {
		return m.intent("SendRequest", func(ctx context.Context) error {
			if err := ctl.SetParams(ctx, params); err != nil {
				return err
			}
			_, err := ctl.SendRequest(ctx)
			return err
		})
	}
	text := strings.TrimSpace(m.chatInput.Value())
	if text == "" {
		return nil
	}
	m.chatInput.Reset()
	chatID := m.chatID
	return func() tea.Msg {
		if err := ctl.SetParams(m.ctx, params); err != nil {
			return errMsg{err}
		}
		if chatID == "" {
			id, err := ctl.CreateChat(m.ctx, "")
			if err != nil {
				return errMsg{err}
			}
			chatID = id
		}
		if _, err := ctl.SendChatMessage(m.ctx, chatID, text); err != nil {
			return errMsg{err}
		}
		return chatSelectedMsg{chatID}
	}
}

func (m *model) toggleDebug() tea.Cmd {
	mon := m.cfg.Monitor
	if mon == nil {
		m.err = errors.New("no diagnostic stream configured")
		return nil
	}
	m.showDebug = !m.showDebug
	if !m.showDebug && m.focus == PaneDebug {
		m.focus = PaneOutput
	}
	m.resize()
	if m.showDebug {
		return m.intent("Connect", mon.Connect)
	}
	return m.intent("Disconnect", mon.Disconnect)
}

// updateFocused forwards msg to the focused pane.
func (m *model) updateFocused(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch m.focus {
	case PaneParams:
		m.params, cmd = m.params.Update(msg)
	case PaneChat:
		var cmds []tea.Cmd
		m.chatInput, cmd = m.chatInput.Update(msg)
		cmds = append(cmds, cmd)
		if k, ok := msg.(tea.KeyMsg); ok && isScrollKey(m.keyMap, k) {
			*m.panes[PaneChat], cmd = m.panes[PaneChat].Update(msg)
			cmds = append(cmds, cmd)
		}
		return tea.Batch(cmds...)
	default:
		if vp, ok := m.panes[m.focus]; ok {
			*vp, cmd = vp.Update(msg)
		}
	}
	return cmd
}

func isScrollKey(km keymap.KeyMap, k tea.KeyMsg) bool {
	return key.Matches(k, km.Up, km.Down, km.PageUp, km.PageDown)
}

func (m *model) visibleTree() layout.Node {
	if m.showDebug {
		return m.tree
	}
	return layout.Remove(m.tree, PaneDebug)
}

func (m *model) cycleFocus(dir int) {
	panes := layout.Panes(m.visibleTree())
	i := 0
	for j, p := range panes {
		if p == m.focus {
			i = j
		}
	}
	m.focus = panes[(i+dir+len(panes))%len(panes)]

	m.params.Blur()
	m.chatInput.Blur()
	switch m.focus {
	case PaneParams:
		m.params.Focus()
	case PaneChat:
		m.chatInput.Focus()
	}
}

// selectChat keeps chatID pointing at an existing chat.
func (m *model) selectChat() {
	if _, ok := m.state.Chat(m.chatID); ok {
		return
	}
	m.chatID = ""
	if chats := m.state.Chats(); len(chats) > 0 {
		m.chatID = chats[len(chats)-1].ID
	}
}

func (m *model) nextChat() {
	chats := m.state.Chats()
	if len(chats) == 0 {
		return
	}
	i := 0
	for j, c := range chats {
		if c.ID == m.chatID {
			i = j + 1
		}
	}
	m.chatID = chats[i%len(chats)].ID
	m.refresh()
}

// bodyHeight is the height left for panes after the error line, help and
// status bar.
func (m *model) bodyHeight() int {
	return max(m.height-2-lipgloss.Height(m.help.View()), 1)
}

// resize fits every pane to its area in the current layout.
func (m *model) resize() {
	tree := m.visibleTree()
	bh := m.bodyHeight()
	for _, p := range layout.Panes(tree) {
		w, h, ok := layout.Size(tree, p, m.width, bh)
		if !ok {
			continue
		}
		h-- // title line
		switch p {
		case PaneParams:
			m.params.SetSize(w, h)
		case PaneChat:
			m.chatInput.Width = max(w-3, 1)
			m.panes[p].Width, m.panes[p].Height = w, max(h-1, 1)
		default:
			m.panes[p].Width, m.panes[p].Height = w, max(h, 1)
		}
	}
	m.debugView.Width = m.panes[PaneDebug].Width
	m.refresh()
}

// refresh re-renders pane contents from the latest snapshots.
func (m *model) refresh() {
	r := m.state.Response()

	var output, console string
	if r != nil {
		output = message.RenderAll(message.FromParts(r.Parts(), message.PartOptions{
			PrimaryStream: m.state.Options.PrimaryStream,
			ShowHidden:    m.showHidden,
		}), m.panes[PaneOutput].Width)
		console = r.Console()
	}
	setContent(m.panes[PaneOutput], output)
	setContent(m.panes[PaneConsole], console)

	var chat string
	if c, ok := m.state.Chat(m.chatID); ok {
		var inFlight *session.ChatTurn
		var partial string
		if r != nil {
			if t, ok := r.ChatTurn(); ok && t.ChatID == c.ID && m.state.RunState.Active() {
				inFlight = &t
				partial = r.Text(m.state.Options.PrimaryStream)
			}
		}
		chat = message.RenderAll(message.FromTurns(c.Turns, inFlight, partial), m.panes[PaneChat].Width)
	}
	setContent(m.panes[PaneChat], chat)

	setContent(m.panes[PaneDebug], m.debugView.Render(m.dbg))
}

// setContent replaces a viewport's content, following the tail if the
// viewport was already at the bottom.
func setContent(vp *viewport.Model, s string) {
	follow := vp.AtBottom()
	vp.SetContent(s)
	if follow {
		vp.GotoBottom()
	}
}

var (
	titleStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	focusedTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func (m *model) paneTitle(p string) string {
	title := p
	switch p {
	case PaneChat:
		if c, ok := m.state.Chat(m.chatID); ok {
			title = fmt.Sprintf("chat: %s (%d turns)", c.Name, len(c.Turns))
		}
	case PaneOutput:
		if r := m.state.Response(); r != nil && len(r.Streams()) > 1 {
			title = fmt.Sprintf("output (%d streams)", len(r.Streams()))
		}
		if m.state.RunState == session.Connecting || m.state.RunState == session.Queued {
			title += " " + m.spinner.View()
		}
	}
	if p == m.focus {
		return focusedTitleStyle.Render("▌" + title)
	}
	return titleStyle.Render(" " + title)
}

func (m *model) paneContent(p string, w, h int) string {
	var body string
	switch p {
	case PaneParams:
		body = m.params.View()
	case PaneChat:
		body = m.panes[p].View() + "\n" + m.chatInput.View()
	default:
		if vp, ok := m.panes[p]; ok {
			body = vp.View()
		}
	}
	return m.paneTitle(p) + "\n" + body
}

func (m *model) View() string {
	var view strings.Builder
	view.WriteString(layout.Render(m.visibleTree(), m.width, m.bodyHeight(), m.paneContent))

	view.WriteString("\n")
	if m.err != nil {
		view.WriteString(errStyle.MaxWidth(m.width).MaxHeight(1).Render("Error: " + m.err.Error()))
	}
	if h := m.help.View(); h != "" {
		view.WriteString("\n" + h)
	}

	data := statusbar.StatusData{RunState: m.state.RunState.String(), Pane: m.focus}
	if c, ok := m.state.Chat(m.chatID); ok {
		data.Chat = c.Name
	}
	if m.cfg.Monitor != nil && m.showDebug {
		data.Debug = m.dbg.RunState.String()
	}
	if r := m.state.Response(); r != nil {
		data.CustomMessages = append(data.CustomMessages, fmt.Sprintf("%d parts", r.PartCount()))
	}
	view.WriteString("\n" + statusbar.Render(m.width, data))
	return view.String()
}
