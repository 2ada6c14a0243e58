package media

import (
	"slices"
	"strings"

	apperrors "reelkit.io/reelkit/internal/pkg/errors"
)

// CommonNiche is the niche of content that targets no specific audience.
const CommonNiche = "COMMON"

// Niches lists the audience niches content can target, besides CommonNiche.
var Niches = []string{
	"BODYBUILDING", "MOTIVATION", "MMA", "BOXING", "SELF_DEFENSE", "PARKOUR",
	"SKATEBOARDING", "SURFING", "GYMNASTICS", "CAMPING", "FOOTBALL",
	"BASKETBALL", "TENNIS", "CAR_RACING", "MOTORCYCLE_STUNTS", "TECH_UNBOXING",
	"PC_BUILDING", "CODING", "EDITING", "VIDEO_GAME", "BEAUTY",
	"OUTFIT_INSPIRATION", "SNEAKER_REVIEWS", "MUSIC", "RAP", "ANIMATED_SERIES",
	"COSPLAY", "REACTION", "GOOFY_HUMOR", "DARK_HUMOR", "PRANKS", "NEWS",
	"POLITICS", "ASTRONOMY", "ANIMAL_DOCUMENTARIES", "CUTE_ANIMAL_MOMENTS",
	"ASMR", "MEDITATION", "TRAVEL", "BUSINESS", "PRODUCTIVITY", "TREND",
}

// NormalizeNiche upper-cases n and maps the empty niche to CommonNiche.
func NormalizeNiche(n string) (string, error) {
	n = strings.ToUpper(strings.TrimSpace(n))
	if n == "" || n == CommonNiche {
		return CommonNiche, nil
	}
	if !slices.Contains(Niches, n) {
		return "", apperrors.BadRequest(apperrors.CodeInvalidRequest, "unknown niche: "+n)
	}
	return n, nil
}
