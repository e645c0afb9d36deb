package tui

// Keybinding constants
const (
	KeyTab   = "tab"
	KeyQuit  = "q"
	KeyCtrlC = "ctrl+c"
	KeyUp    = "up"
	KeyDown  = "down"
	KeyJ     = "j"
	KeyK     = "k"
)

// HelpView returns a one-line help bar with the active keybindings.
func HelpView() string {
	return StyleHelp.Render("tab: switch pane | j/k: scroll log | q/ctrl+c: stop run")
}
