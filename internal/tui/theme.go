package tui

import "github.com/charmbracelet/lipgloss"

// Theme 定义 TUI 的颜色主题
type Theme struct {
	text      lipgloss.Color
	textMuted lipgloss.Color
	primary   lipgloss.Color
	warning   lipgloss.Color
	error     lipgloss.Color
	border    lipgloss.Color
}

// 默认暗色主题，主色与命令行输出保持一致
func getTheme() Theme {
	return Theme{
		text:      lipgloss.Color("#e0e0e0"),
		textMuted: lipgloss.Color("#8B8598"),
		primary:   lipgloss.Color("#7C5CFF"),
		warning:   lipgloss.Color("#FFB020"),
		error:     lipgloss.Color("#E23D2D"),
		border:    lipgloss.Color("#333333"),
	}
}

// styles 由主题派生的常用样式
type styles struct {
	text   lipgloss.Style
	title  lipgloss.Style
	muted  lipgloss.Style
	accent lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	border lipgloss.Style
	badge  lipgloss.Style
	pad    lipgloss.Style
}

func newStyles() styles {
	t := getTheme()
	return styles{
		text:   lipgloss.NewStyle().Foreground(t.text),
		title:  lipgloss.NewStyle().Foreground(t.text).Bold(true),
		muted:  lipgloss.NewStyle().Foreground(t.textMuted),
		accent: lipgloss.NewStyle().Foreground(t.primary),
		warn:   lipgloss.NewStyle().Foreground(t.warning),
		err:    lipgloss.NewStyle().Foreground(t.error),
		border: lipgloss.NewStyle().Foreground(t.border),
		badge:  lipgloss.NewStyle().Background(t.primary).Foreground(lipgloss.Color("#000000")).Padding(0, 1),
		pad:    lipgloss.NewStyle().PaddingLeft(2),
	}
}
