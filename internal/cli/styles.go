// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/xcash-fin/loanflow/internal/model"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#5FAFD7")
	// SuccessColor indicates approvals and successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4")
	// WarningColor indicates partial approvals and caution messages.
	WarningColor = lipgloss.Color("#FFE66D")
	// ErrorColor indicates declines, errors and failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B")
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666")

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats approvals.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	// WarningStyle formats partial approvals and warnings.
	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor)

	// ErrorStyle formats declines and errors.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	// BoldStyle makes text bold.
	BoldStyle = lipgloss.NewStyle().
			Bold(true)
)

// DecisionStyle returns the style for a decision category.
func DecisionStyle(d model.Decision) lipgloss.Style {
	switch d {
	case model.DecisionApproved:
		return SuccessStyle
	case model.DecisionApprovedLower:
		return WarningStyle
	case model.DecisionDeclined, model.DecisionError:
		return ErrorStyle
	default:
		return SubtleStyle
	}
}
