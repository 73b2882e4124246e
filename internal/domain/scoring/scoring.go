// Package scoring turns contribution counts into XP, levels, titles and the
// token amount an identity may claim. Everything here is pure.
package scoring

import (
	"math"

	"github.com/shopspring/decimal"
)

// Scoring constants.
const (
	XPPerContribution = 50
	levelStep         = 50 // threshold(L) = L*(L+1)*levelStep
	basePerLevel      = 5.0
	growthPerLevel    = 1.08
	ceilingPlaces     = 4
	titleBracket      = 5

	reviewerThreshold   = 50
	maintainerThreshold = 100

	// maxLevel is the largest L with L*(L+1)*levelStep <= math.MaxInt64.
	maxLevel = 429496729
	// maxCeilingLevel bounds the ceiling sum. Higher levels earn its ceiling.
	maxCeilingLevel = 10000
)

// Titles are indexed by level bracket.
var titles = [...]string{
	"Apprentice", "Aspiring", "Novice", "Enthusiastic", "Explorer",
	"Code Craftsman", "Skilled", "Proficient", "Champion", "Quality",
	"Expert", "Professional", "Innovative", "Veteran", "Rising",
	"Master", "Conquerer", "Top Tier", "Insightful", "Legendary", "SUPREME",
}

// Roles assigned from raw contribution counts.
const (
	RoleContributor = "Contributor"
	RoleReviewer    = "Reviewer"
	RoleMaintainer  = "Maintainer"
)

// Result is the derived score of a contribution count. Never stored.
type Result struct {
	Contributions   int             `json:"contributions"`
	XP              int64           `json:"xp"`
	Level           int             `json:"level"`
	Title           string          `json:"title"`
	NextLevelXP     int64           `json:"nextLevelXp"`
	EarnableCeiling decimal.Decimal `json:"earnableCeiling"`
	Role            string          `json:"role"`
}

// XP converts a contribution count to experience points. Negative counts
// are treated as zero and totals saturate at math.MaxInt64.
func XP(contributions int) int64 {
	if contributions < 0 {
		return 0
	}
	if int64(contributions) > math.MaxInt64/XPPerContribution {
		return math.MaxInt64
	}
	return int64(contributions) * XPPerContribution
}

func threshold(level int64) int64 {
	return level * (level + 1) * levelStep
}

// Level returns the largest L >= 0 such that L*(L+1)*50 <= xp.
func Level(xp int64) int {
	if xp <= 0 {
		return 0
	}
	// Solve L^2 + L - xp/50 = 0 and walk the estimate onto the exact answer.
	l := int64((math.Sqrt(1+4*float64(xp)/levelStep) - 1) / 2)
	l = max(0, min(l, maxLevel))
	for l > 0 && threshold(l) > xp {
		l--
	}
	for l < maxLevel && threshold(l+1) <= xp {
		l++
	}
	return int(l)
}

// NextLevelXP is the XP at which level+1 is reached, or math.MaxInt64 when
// that threshold does not fit.
func NextLevelXP(level int) int64 {
	if level < 0 {
		level = 0
	}
	if level >= maxLevel {
		return math.MaxInt64
	}
	return threshold(int64(level) + 1)
}

// Title maps a level to its bracket title.
func Title(level int) string {
	if level < 0 {
		level = 0
	}
	idx := min(level/titleBracket, len(titles)-1)
	return titles[idx]
}

// Titles returns a copy of the ordered title list.
func Titles() []string {
	out := make([]string, len(titles))
	copy(out, titles[:])
	return out
}

// EarnablePerLevel is the token amount unlocked by reaching level.
func EarnablePerLevel(level int) float64 {
	if level < 1 {
		return 0
	}
	return basePerLevel * math.Pow(growthPerLevel, float64(level))
}

// EarnableCeiling is the cumulative token entitlement at level, rounded to
// four decimal places.
func EarnableCeiling(level int) decimal.Decimal {
	if level < 1 {
		return decimal.Zero
	}
	level = min(level, maxCeilingLevel)
	sum := 0.0
	for i := 1; i <= level; i++ {
		sum += EarnablePerLevel(i)
	}
	if math.IsInf(sum, 0) || math.IsNaN(sum) {
		return closedFormCeiling(level)
	}
	return decimal.NewFromFloat(sum).Round(ceilingPlaces)
}

// closedFormCeiling evaluates 5*1.08*(1.08^L-1)/0.08 in decimal arithmetic
// for levels whose float sum overflows.
func closedFormCeiling(level int) decimal.Decimal {
	g := decimal.NewFromFloat(growthPerLevel)
	geometric := g.Pow(decimal.NewFromInt(int64(level))).Sub(decimal.NewFromInt(1))
	factor := decimal.NewFromFloat(basePerLevel).Mul(g).Div(g.Sub(decimal.NewFromInt(1)))
	return factor.Mul(geometric).Round(ceilingPlaces)
}

// Role classifies an identity by raw contribution count.
func Role(contributions int) string {
	switch {
	case contributions > maintainerThreshold:
		return RoleMaintainer
	case contributions > reviewerThreshold:
		return RoleReviewer
	default:
		return RoleContributor
	}
}

// Score derives the full result for a contribution count.
func Score(contributions int) Result {
	if contributions < 0 {
		contributions = 0
	}
	xp := XP(contributions)
	level := Level(xp)
	return Result{
		Contributions:   contributions,
		XP:              xp,
		Level:           level,
		Title:           Title(level),
		NextLevelXP:     NextLevelXP(level),
		EarnableCeiling: EarnableCeiling(level),
		Role:            Role(contributions),
	}
}
