package overlay

import (
	"github.com/IliaW/content-overlay/internal/model"
	"github.com/IliaW/content-overlay/internal/tracker"
)

type Tone string

const (
	TonePrimary Tone = "primary"
	ToneLoading Tone = "loading"
	ToneBusy    Tone = "busy"
	ToneSuccess Tone = "success"
	ToneFailure Tone = "failure"
	ToneOffline Tone = "offline"
)

const (
	TooltipAnalyze   = "Analyze this content"
	TooltipCrawling  = "Crawling..."
	TooltipAnalyzing = "Analyzing..."
	TooltipAnalyzed  = "See analysis"
	TooltipFailed    = "Failed to analyze. Please contact the developer."
	TooltipOffline   = "Failed to connect to the server. Please contact the developer."
	TooltipExport    = "Download emails"
	TooltipReport    = "Create report"
)

// View is what the floating buttons show for one machine state.
type View struct {
	// Visible is false until the identity is actionable.
	Visible  bool
	Disabled bool
	Tone     Tone
	Tooltip  string
	// ExportVisible shows the download button next to a finished analysis.
	ExportVisible bool
	// BottomInset in pixels keeps the buttons clear of the platform's own
	// floating widgets.
	BottomInset int
	Status      model.TaskStatus
	Content     model.ContentInfo
}

func ViewFor(st tracker.State) View {
	v := View{
		Visible:     st.Content.Actionable() && !st.Abandoned,
		Status:      st.Status,
		Content:     st.Content,
		BottomInset: bottomInset(st.Content.Platform),
	}
	if st.IsError {
		v.Disabled = true
		v.Tone = ToneOffline
		v.Tooltip = TooltipOffline
		return v
	}
	switch st.Status {
	case model.StatusCrawling:
		v.Tone, v.Tooltip = ToneLoading, TooltipCrawling
	case model.StatusCrawled, model.StatusAnalyzing:
		v.Tone, v.Tooltip = ToneBusy, TooltipAnalyzing
	case model.StatusAnalyzed:
		v.Tone, v.Tooltip = ToneSuccess, TooltipAnalyzed
		v.ExportVisible = v.Visible
	case model.StatusFailed:
		v.Tone, v.Tooltip = ToneFailure, TooltipFailed
	default:
		v.Tone, v.Tooltip = TonePrimary, TooltipAnalyze
	}
	return v
}

func bottomInset(p model.Platform) int {
	switch p {
	case model.Twitter:
		return 122 + 24
	case model.Facebook:
		return 450 + 24
	default:
		return 24
	}
}
