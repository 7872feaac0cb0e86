package classify

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/metrics"
)

// ScreeningPrompt asks a vision model for a one-word verdict on a screenshot.
const ScreeningPrompt = "If this page shows an error then answer 'error' without any other words. " +
	"If this page a login page, a capcha or some other mechanism blocking a user from accessing the content " +
	"which is not a cookie consent then answer with just one word: 'blocked'. Otherwise answer 'ok'. " +
	"Always use only 1 word in your answer."

// Verdict is the screening result.
type Verdict int

// Screening verdicts.
const (
	VerdictOK Verdict = iota
	VerdictError
	VerdictBlocked
	// VerdictUnrecognized is treated like VerdictOK by callers.
	VerdictUnrecognized
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictError:
		return "error"
	case VerdictBlocked:
		return "blocked"
	default:
		return "unrecognized"
	}
}

// Screening carries the verdict and the normalized model answer.
type Screening struct {
	Verdict Verdict
	Answer  string
}

// Screener judges page screenshots with an AI model.
type Screener struct {
	asker  crawler.Asker
	logger *zap.Logger
}

// NewScreener wraps an Asker.
func NewScreener(asker crawler.Asker, logger *zap.Logger) *Screener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Screener{asker: asker, logger: logger.Named("screener")}
}

// Screen classifies the screenshot at imagePath. The boolean is false when
// the model could not be reached, in which case screening is skipped.
func (s *Screener) Screen(ctx context.Context, imagePath string) (Screening, bool) {
	if s == nil || s.asker == nil {
		return Screening{}, false
	}
	answer, err := s.asker.Ask(ctx, ScreeningPrompt, imagePath)
	if err != nil {
		s.logger.Warn("ai screening unavailable", zap.String("image", imagePath), zap.Error(err))
		return Screening{}, false
	}
	screening := ParseVerdict(answer)
	metrics.ObserveScreening(screening.Verdict.String())
	return screening, true
}

// ParseVerdict normalizes a model answer.
func ParseVerdict(answer string) Screening {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	normalized = strings.Trim(normalized, ".'\"")
	switch normalized {
	case "ok":
		return Screening{Verdict: VerdictOK, Answer: normalized}
	case "error":
		return Screening{Verdict: VerdictError, Answer: normalized}
	case "blocked":
		return Screening{Verdict: VerdictBlocked, Answer: normalized}
	default:
		return Screening{Verdict: VerdictUnrecognized, Answer: normalized}
	}
}
