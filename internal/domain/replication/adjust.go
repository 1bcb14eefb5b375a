package replication

import (
	"fmt"
	"slices"
	"strings"

	"github.com/okian/trendcast/internal/domain/model"
)

// DefaultRules are the adjustment rules of the built-in platforms.
func DefaultRules() map[string]model.AdjustmentRule {
	return map[string]model.AdjustmentRule{
		"tiktok": {
			MaxDurationSec: 15,
			HookWithinSec:  2,
			Tags:           []string{"#viral", "#trending", "#music"},
		},
		"instagram": {
			MaxDurationSec: 30,
			AspectRatio:    "9:16",
			Tags:           []string{"#reels", "#music", "#viral", "#trending"},
		},
		"youtube": {
			MaxDurationSec: 60,
		},
	}
}

// StyleTag turns a style id into a hashtag: "LoFi Luna" becomes "#lofiluna".
func StyleTag(styleID string) string {
	s := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(styleID), " ", ""))
	if s == "" {
		return ""
	}
	return "#" + s
}

// Adjust derives one source's copy of the winner. The winner is read only.
func Adjust(winner model.Variant, sourceID string, rule model.AdjustmentRule, styleID string) model.PlatformAdjustment {
	duration := winner.DurationSec
	if limit := float64(rule.MaxDurationSec); limit > 0 && (duration <= 0 || duration > limit) {
		duration = limit
	}

	tags := slices.Clone(rule.Tags)
	if len(tags) > 0 {
		if tag := StyleTag(styleID); tag != "" && !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}

	return model.PlatformAdjustment{
		SourceID:    sourceID,
		ArtifactRef: fmt.Sprintf("%s?platform=%s", winner.ArtifactRef, sourceID),
		DurationSec: duration,
		HookAtSec:   rule.HookWithinSec,
		AspectRatio: rule.AspectRatio,
		Tags:        tags,
	}
}
