package models

import (
	"sort"
	"time"
)

// Channels and audience targets an item may use.
const (
	ChannelMassMessage = "mass_message"
	ChannelWallPost    = "wall_post"
	ChannelStory       = "story"

	TargetActiveFans    = "active_fans"
	TargetAllFans       = "all_fans"
	TargetNonPurchasers = "non_purchasers"
	TargetExpiredFans   = "expired_fans"
	TargetRenewOff      = "renew_off"
	TargetTopSpenders   = "top_spenders"
	TargetInactiveFans  = "inactive_fans"
)

var (
	KnownChannels = map[string]bool{ChannelMassMessage: true, ChannelWallPost: true, ChannelStory: true}
	KnownTargets  = map[string]bool{
		TargetActiveFans: true, TargetAllFans: true, TargetNonPurchasers: true,
		TargetExpiredFans: true, TargetRenewOff: true, TargetTopSpenders: true,
		TargetInactiveFans: true,
	}
)

// FollowUpSendType is produced only by follow-up generation.
const FollowUpSendType = "ppv_followup"

// SendType describes one kind of send and the rules that apply to it.
type SendType struct {
	Key              string
	Category         Category
	PaidOnly         bool
	FreeOnly         bool
	DerivedOnly      bool
	FollowUpEligible bool
	WeeklyCap        int // 0 means unlimited
	DailyCap         int
	MinGapMinutes    int
	Weight           float64
	Channel          string
	Target           string
	BasePrice        float64 // 0 means unpriced
	ExpiresAfter     time.Duration
}

// EligibleFor reports whether the type may be used on a page.
func (s SendType) EligibleFor(page PageType) bool {
	if s.PaidOnly && page != PagePaid {
		return false
	}
	if s.FreeOnly && page != PageFree {
		return false
	}
	return true
}

// Catalog indexes send types by key.
type Catalog map[string]SendType

// DefaultCatalog returns the built-in send type table.
func DefaultCatalog() Catalog {
	types := []SendType{
		{Key: "ppv_unlock", Category: CategoryRevenue, FollowUpEligible: true, DailyCap: 4, MinGapMinutes: 120, Weight: 3, Channel: ChannelMassMessage, Target: TargetActiveFans, BasePrice: 15},
		{Key: "ppv_wall", Category: CategoryRevenue, FreeOnly: true, DailyCap: 1, MinGapMinutes: 180, Weight: 1.5, Channel: ChannelWallPost, Target: TargetAllFans, BasePrice: 12},
		{Key: "tip_goal", Category: CategoryRevenue, WeeklyCap: 3, DailyCap: 1, MinGapMinutes: 240, Weight: 1.2, Channel: ChannelWallPost, Target: TargetAllFans, ExpiresAfter: 24 * time.Hour},
		{Key: "bundle", Category: CategoryRevenue, FollowUpEligible: true, DailyCap: 2, MinGapMinutes: 180, Weight: 1.5, Channel: ChannelMassMessage, Target: TargetActiveFans, BasePrice: 30},
		{Key: "flash_bundle", Category: CategoryRevenue, FollowUpEligible: true, WeeklyCap: 2, DailyCap: 1, MinGapMinutes: 240, Weight: 1, Channel: ChannelMassMessage, Target: TargetActiveFans, BasePrice: 25, ExpiresAfter: 24 * time.Hour},
		{Key: "game_post", Category: CategoryRevenue, WeeklyCap: 5, DailyCap: 1, MinGapMinutes: 180, Weight: 1, Channel: ChannelWallPost, Target: TargetAllFans, BasePrice: 10, ExpiresAfter: 48 * time.Hour},
		{Key: "first_to_tip", Category: CategoryRevenue, WeeklyCap: 3, DailyCap: 1, MinGapMinutes: 180, Weight: 1, Channel: ChannelWallPost, Target: TargetAllFans, ExpiresAfter: 24 * time.Hour},
		{Key: "vip_program", Category: CategoryRevenue, WeeklyCap: 1, DailyCap: 1, MinGapMinutes: 240, Weight: 0.6, Channel: ChannelWallPost, Target: TargetAllFans, BasePrice: 50},
		{Key: "snapchat_bundle", Category: CategoryRevenue, WeeklyCap: 1, DailyCap: 1, MinGapMinutes: 240, Weight: 0.6, Channel: ChannelMassMessage, Target: TargetTopSpenders, BasePrice: 40},

		{Key: "link_drop", Category: CategoryEngagement, DailyCap: 2, MinGapMinutes: 60, Weight: 2, Channel: ChannelMassMessage, Target: TargetActiveFans},
		{Key: "wall_link_drop", Category: CategoryEngagement, DailyCap: 2, MinGapMinutes: 90, Weight: 1.5, Channel: ChannelWallPost, Target: TargetAllFans},
		{Key: "bump_normal", Category: CategoryEngagement, DailyCap: 2, MinGapMinutes: 60, Weight: 2, Channel: ChannelMassMessage, Target: TargetActiveFans},
		{Key: "bump_descriptive", Category: CategoryEngagement, DailyCap: 2, MinGapMinutes: 60, Weight: 1.5, Channel: ChannelMassMessage, Target: TargetActiveFans},
		{Key: "bump_text_only", Category: CategoryEngagement, DailyCap: 2, MinGapMinutes: 60, Weight: 1.2, Channel: ChannelMassMessage, Target: TargetActiveFans},
		{Key: "bump_flyer", Category: CategoryEngagement, DailyCap: 1, MinGapMinutes: 90, Weight: 1, Channel: ChannelWallPost, Target: TargetAllFans},
		{Key: "dm_farm", Category: CategoryEngagement, DailyCap: 1, MinGapMinutes: 120, Weight: 1, Channel: ChannelMassMessage, Target: TargetActiveFans},
		{Key: "like_farm", Category: CategoryEngagement, DailyCap: 1, MinGapMinutes: 120, Weight: 1, Channel: ChannelWallPost, Target: TargetAllFans},
		{Key: "live_promo", Category: CategoryEngagement, WeeklyCap: 2, DailyCap: 1, MinGapMinutes: 180, Weight: 0.7, Channel: ChannelStory, Target: TargetAllFans},

		{Key: "renew_on_post", Category: CategoryRetention, PaidOnly: true, DailyCap: 1, MinGapMinutes: 240, Weight: 1.5, Channel: ChannelWallPost, Target: TargetRenewOff},
		{Key: "renew_on_message", Category: CategoryRetention, PaidOnly: true, DailyCap: 1, MinGapMinutes: 240, Weight: 1.5, Channel: ChannelMassMessage, Target: TargetRenewOff},
		{Key: "expired_winback", Category: CategoryRetention, PaidOnly: true, WeeklyCap: 3, DailyCap: 1, MinGapMinutes: 240, Weight: 1, Channel: ChannelMassMessage, Target: TargetExpiredFans},
		{Key: "fan_checkin", Category: CategoryRetention, DailyCap: 1, MinGapMinutes: 180, Weight: 1, Channel: ChannelMassMessage, Target: TargetActiveFans},
		{Key: "reengage_dm", Category: CategoryRetention, DailyCap: 1, MinGapMinutes: 180, Weight: 0.8, Channel: ChannelMassMessage, Target: TargetInactiveFans},
		{Key: FollowUpSendType, Category: CategoryRetention, DerivedOnly: true, Channel: ChannelMassMessage, Target: TargetNonPurchasers},
	}
	c := make(Catalog, len(types))
	for _, t := range types {
		c[t.Key] = t
	}
	return c
}

// Allocatable returns the sorted keys of non-derived types of a category
// that may be used on the given page.
func (c Catalog) Allocatable(cat Category, page PageType) []string {
	var keys []string
	for k, t := range c {
		if t.Category == cat && !t.DerivedOnly && t.EligibleFor(page) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
