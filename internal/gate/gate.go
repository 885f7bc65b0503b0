// Package gate runs the pre-extraction checks against a freshly loaded
// document: best-effort dismissal of consent popups and overlays, then
// detection of bot-challenge interstitials. Dismissal goes first because a
// consent overlay can obstruct extraction and can itself carry
// challenge-like decoy text.
package gate

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagesift/pagesift/internal/metrics"
	"github.com/pagesift/pagesift/internal/scrape"
)

// Consent button phrases, matched case-insensitively against button text.
var consentPhrases = []string{
	"Accept",
	"Accept all",
	"Agree",
	"OK",
	"Allow",
	"Got it",
	"I agree",
	"Continue",
	"Consent",
	"Allow all",
}

// Close controls for modal and cookie popups.
var closeSelectors = []string{
	".modal-close",
	".popup-close",
	".cookie-close",
	"[aria-label*='close' i]",
	"[aria-label*='dismiss' i]",
	".close-button",
	"button.close",
	"[data-dismiss='modal']",
}

// Banner containers removed outright rather than clicked.
var bannerSelectors = []string{
	"#cookie-banner",
	"#cookie-notice",
	".cookie-notice",
	".cookie-banner",
	".gdpr-banner",
	".consent-banner",
	"[data-testid*='cookie' i]",
	"[data-testid*='consent' i]",
}

// Keywords that mark a challenge page when present in body text.
var challengeKeywords = []string{
	"captcha",
	"recaptcha",
	"hcaptcha",
	"verify you are human",
	"verify you're human",
	"security check",
	"prove you're not a robot",
	"cloudflare",
}

// Frame source fragments of known challenge providers.
var challengeFramePatterns = []string{
	"google.com/recaptcha",
	"hcaptcha.com",
	"captcha",
	"recaptcha",
}

// Widget markers of embedded challenges.
var challengeSelectors = []string{
	".g-recaptcha",
	"#g-recaptcha",
	".h-captcha",
	"#h-captcha",
	"[data-sitekey]",
	"iframe[src*='recaptcha']",
	"iframe[src*='hcaptcha']",
}

// settleDelay lets the page react after a successful dismissal click.
const settleDelay = 500 * time.Millisecond

// DismissStats counts the dismissal actions that took effect.
type DismissStats struct {
	Clicked int
	Removed int
}

// Gate holds the popup and anomaly checks.
type Gate struct {
	logger *zap.Logger
}

// New creates a Gate.
func New(logger *zap.Logger) *Gate {
	return &Gate{logger: logger.Named("gate")}
}

// Dismiss tries to clear consent popups and overlay banners. Every candidate
// attempt is individually absorbed; Dismiss never fails. At most one consent
// button and one close control are clicked, then all known banner containers
// are removed.
func (g *Gate) Dismiss(ctx context.Context, doc scrape.Document) DismissStats {
	var stats DismissStats

	for _, phrase := range consentPhrases {
		clicked, err := doc.ClickByText(ctx, "button", phrase)
		if err != nil {
			g.logger.Debug("consent click failed", zap.String("phrase", phrase), zap.Error(err))
			continue
		}
		if clicked {
			g.logger.Debug("clicked consent button", zap.String("phrase", phrase))
			stats.Clicked++
			g.pause(ctx)
			break
		}
	}

	for _, selector := range closeSelectors {
		n, err := doc.Count(ctx, selector)
		if err != nil || n == 0 {
			continue
		}
		if err := doc.ClickFirst(ctx, selector); err != nil {
			g.logger.Debug("close click failed", zap.String("selector", selector), zap.Error(err))
			continue
		}
		g.logger.Debug("clicked close control", zap.String("selector", selector))
		stats.Clicked++
		g.pause(ctx)
		break
	}

	for _, selector := range bannerSelectors {
		n, err := doc.RemoveAll(ctx, selector)
		if err != nil {
			continue
		}
		stats.Removed += n
	}

	metrics.ObserveDismissals("clicked", stats.Clicked)
	metrics.ObserveDismissals("removed", stats.Removed)
	return stats
}

// DetectAnomaly reports whether the page looks like a bot challenge. Three
// independent signals are checked in order: body-text keywords, challenge
// frame sources, and challenge widget markers. Inspection failures count as
// "not detected"; the gate fails open.
func (g *Gate) DetectAnomaly(ctx context.Context, doc scrape.Document) bool {
	if text, err := doc.BodyText(ctx); err == nil {
		lower := strings.ToLower(text)
		for _, keyword := range challengeKeywords {
			if strings.Contains(lower, keyword) {
				g.logger.Warn("challenge keyword detected",
					zap.String("url", doc.URL()), zap.String("keyword", keyword))
				metrics.ObserveAnomalySignal("keyword")
				return true
			}
		}
	}

	if frames, err := doc.FrameURLs(ctx); err == nil {
		for _, frame := range frames {
			lower := strings.ToLower(frame)
			for _, pattern := range challengeFramePatterns {
				if strings.Contains(lower, pattern) {
					g.logger.Warn("challenge frame detected",
						zap.String("url", doc.URL()), zap.String("frame", frame))
					metrics.ObserveAnomalySignal("frame")
					return true
				}
			}
		}
	}

	for _, selector := range challengeSelectors {
		n, err := doc.Count(ctx, selector)
		if err != nil {
			continue
		}
		if n > 0 {
			g.logger.Warn("challenge widget detected",
				zap.String("url", doc.URL()), zap.String("selector", selector))
			metrics.ObserveAnomalySignal("widget")
			return true
		}
	}

	return false
}

func (g *Gate) pause(ctx context.Context) {
	timer := time.NewTimer(settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
