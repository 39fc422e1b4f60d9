package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Catppuccin Mocha color palette
var (
	colorMauve   = lipgloss.Color("#cba6f7") // Title
	colorBlue    = lipgloss.Color("#89b4fa") // Section headers
	colorGreen   = lipgloss.Color("#a6e3a1") // Commands
	colorYellow  = lipgloss.Color("#f9e2af") // Flags
	colorRed     = lipgloss.Color("#f38ba8") // AUTO_REJECT
	colorOverlay = lipgloss.Color("#6c7086") // Muted text
	colorBase    = lipgloss.Color("#1e1e2e") // Background
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorMauve).
			MarginBottom(1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBlue).
			MarginTop(1)

	commandStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	flagStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	rejectStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorRed)

	acceptStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	approvalStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorOverlay)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBlue).
			Background(colorBase).
			Padding(1, 2).
			MarginTop(1).
			MarginBottom(1)
)

func showQuickReference(w io.Writer) {
	width := clampWidth(detectWidth())
	useUnicode := supportsUnicode()

	border := lipgloss.RoundedBorder()
	if !useUnicode {
		border = lipgloss.Border{
			Top:         "-",
			Bottom:      "-",
			Left:        "|",
			Right:       "|",
			TopLeft:     "+",
			TopRight:    "+",
			BottomLeft:  "+",
			BottomRight: "+",
		}
	}

	container := boxStyle.Copy().Border(border).Width(width)

	titleText := " CMDGATE QUICK REFERENCE: Command Authorization "
	titleRendered := gradientText(titleText, []lipgloss.Color{colorMauve, colorBlue})
	if !useUnicode {
		titleRendered = "CMDGATE QUICK REFERENCE: Command Authorization"
	}
	title := titleStyle.Copy().Width(width - 4).Align(lipgloss.Center).Render(titleRendered)

	setup := renderSection(useUnicode, "🔷 SETUP (once)", []string{
		bullet("cmdgate init", "create the database, bootstrap admin and starter rules"),
		bullet("cmdgate users create alice --as $ADMIN_KEY", "add a member (prints its API key)"),
		bullet("cmdgate serve --addr 127.0.0.1:5000", "HTTP API, /ws events and /metrics"),
	})

	member := renderSection(useUnicode, "🔶 AS A MEMBER", []string{
		bullet("cmdgate submit --as alice -- ls -la", "authorize a command (costs one credit)"),
		bullet("cmdgate history --as alice -j", "your commands, newest first"),
	})

	admin := renderSection(useUnicode, "🔷 AS AN ADMIN", []string{
		bullet("cmdgate pending --as $ADMIN_KEY", "commands awaiting approval"),
		bullet("cmdgate approve <id> --reason \"Verified\"", "vote; quorum executes the command"),
		bullet("cmdgate reject <id> --reason \"Too broad\"", "one rejection is final"),
		bullet("cmdgate users credits alice 50", "set a balance"),
		bullet("cmdgate audit -n 20", "newest audit entries"),
	})

	rules := renderSection(useUnicode, "🛡️ RULES (first match wins)", []string{
		bullet("cmdgate rules list", "policy in evaluation order"),
		bullet("cmdgate rules validate \"^git push.*--force\"", "check a pattern before adding it"),
		bullet("cmdgate rules check \"^git\" -a accept", "report conflicts with existing rules"),
		bullet("cmdgate rules create \"^git push.*--force\" -a reject", "append a rule"),
	})

	actions := actionLegend(useUnicode)
	flags := flagLegend(useUnicode)
	footer := footerLegend(useUnicode)

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		setup,
		member,
		admin,
		rules,
		actions,
		flags,
		footer,
	)

	fmt.Fprintln(w, container.Render(content))
}

func clampWidth(w int) int {
	if w < 72 {
		return 72
	}
	if w > 100 {
		return 100
	}
	return w
}

func detectWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	// fall back to environment or default
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if v, err := strconv.Atoi(cols); err == nil && v > 0 {
			return v
		}
	}
	return 80
}

func supportsUnicode() bool {
	termEnv := strings.ToLower(os.Getenv("TERM"))
	locale := strings.ToLower(strings.Join([]string{
		os.Getenv("LC_ALL"),
		os.Getenv("LC_CTYPE"),
		os.Getenv("LANG"),
	}, " "))
	if strings.Contains(termEnv, "dumb") {
		return false
	}
	return strings.Contains(locale, "utf-8") || strings.Contains(locale, "utf8")
}

func gradientText(text string, colors []lipgloss.Color) string {
	if len(colors) == 0 || !supportsUnicode() {
		return text
	}
	runes := []rune(text)
	segments := len(colors)
	if segments == 1 {
		return lipgloss.NewStyle().Foreground(colors[0]).Render(text)
	}
	// Handle single character case to avoid division by zero
	if len(runes) <= 1 {
		return lipgloss.NewStyle().Foreground(colors[0]).Render(text)
	}

	var b strings.Builder
	for i, r := range runes {
		// simple linear gradient selection
		idx := i * (segments - 1) / (len(runes) - 1)
		b.WriteString(lipgloss.NewStyle().Foreground(colors[idx]).Render(string(r)))
	}
	return b.String()
}

func bullet(command, desc string) string {
	return commandStyle.Render("  "+command) + mutedStyle.Render("  "+desc)
}

func renderSection(useUnicode bool, title string, lines []string) string {
	if !useUnicode {
		title = strings.TrimLeft(title, "🔷🔶🛡️ ") // strip icons for ASCII fallback
	}
	header := sectionStyle.Render(title)
	body := strings.Join(lines, "\n")
	return lipgloss.JoinVertical(lipgloss.Left, header, body)
}

func actionLegend(useUnicode bool) string {
	reject := "AUTO_REJECT"
	accept := "AUTO_ACCEPT"
	approval := "PENDING_APPROVAL (risk >= threshold)"
	if useUnicode {
		reject = "🔴 " + reject
		accept = "🟢 " + accept
		approval = "🟡 " + approval
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionStyle.Render("🎯 OUTCOMES"),
		fmt.Sprintf("  %s   %s   %s", rejectStyle.Render(reject), acceptStyle.Render(accept), approvalStyle.Render(approval)),
	)
}

func flagLegend(useUnicode bool) string {
	prefix := "🚩 GLOBAL FLAGS"
	if !useUnicode {
		prefix = "FLAGS"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		sectionStyle.Render(prefix),
		flagStyle.Render("  -j, --json")+mutedStyle.Render("              structured output"),
		flagStyle.Render("  -o, --output <fmt>")+mutedStyle.Render("      text, json or yaml"),
		flagStyle.Render("  -C, --project <dir>")+mutedStyle.Render("     project holding .cmdgate/"),
		flagStyle.Render("  --as <name|key>")+mutedStyle.Render("         acting user (env: CMDGATE_API_KEY)"),
		flagStyle.Render("  --db <path>")+mutedStyle.Render("             database path"),
	)
}

func footerLegend(useUnicode bool) string {
	api := "cmdgate serve"
	help := "cmdgate <command> --help"
	if !useUnicode {
		return mutedStyle.Render("API: " + api + "   HELP: " + help)
	}
	return lipgloss.JoinHorizontal(lipgloss.Left,
		mutedStyle.Render("API: "), commandStyle.Render(api),
		mutedStyle.Render("   HELP: "), commandStyle.Render(help),
	)
}
