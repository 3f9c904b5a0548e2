package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// PRSM 像素字 Logo
var logoLines = []string{
	"█▀▀█ █▀▀█ █▀▀▀ █▀▄▀█",
	"█▀▀▀ █▄▄▀ ▀▀▀█ █ ▀ █",
	"▀    ▀ ▀▀ ▀▀▀▀ ▀   ▀",
}

// renderLogo 渲染 Logo，居中由调用方负责
func renderLogo() string {
	st := lipgloss.NewStyle().Foreground(getTheme().primary).Bold(true)
	return st.Render(strings.Join(logoLines, "\n"))
}
