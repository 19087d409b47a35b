package ui

import (
	"github.com/charmbracelet/glamour"
)

const helpMarkdown = `# coverlay

Live coverage overlays for your terminal.

## Navigation

| Key | Action |
| --- | --- |
| ` + "`↑/k` `↓/j`" + ` | Move through covered files |
| ` + "`enter`" + ` | Open the selected file in the source pane |
| ` + "`x` / `esc`" + ` | Close the source pane |

## Coverage

| Key | Action |
| --- | --- |
| ` + "`r`" + ` | Reload all coverage reports now |
| ` + "`c`" + ` | Clear overlays (cached data is kept) |
| ` + "`y`" + ` | Copy the selected file's coverage summary |

## Gutter markers

- ` + "`✓`" + ` line executed
- ` + "`✗`" + ` line never hit
- ` + "`◐`" + ` branch on this line not fully taken

Reports are picked up automatically when they change on disk.
Press ` + "`?`" + ` to close this help.
`

// renderHelp renders the help overlay as styled markdown, falling back to the
// raw text if the terminal renderer cannot be built.
func renderHelp(width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return helpMarkdown
	}
	out, err := r.Render(helpMarkdown)
	if err != nil {
		return helpMarkdown
	}
	return out
}
