package rewards

import (
	"encoding/json"
	"time"
)

// Preset promotion JSON for demos and seeding. They build JSON strings so
// they go through the same validation as promotions posted over HTTP.
//
// USAGE:
//   jsonStr := rewards.WelcomeBonusJSON(start, start.AddDate(0, 1, 0), 50)
//   promo, err := factory.NewPromotionFactory().ParsePromotion(jsonStr, time.Now())

// WelcomeBonusJSON returns a one-time flat bonus.
func WelcomeBonusJSON(start, end time.Time, points int) string {
	return presetJSON(map[string]interface{}{
		"name":        "Welcome Bonus",
		"description": "One-time bonus on your first purchase",
		"type":        "one-time",
		"startTime":   start.UTC().Format(time.RFC3339),
		"endTime":     end.UTC().Format(time.RFC3339),
		"points":      points,
	})
}

// DoublePointsJSON returns an automatic promotion that adds rate extra
// points per dollar spent.
func DoublePointsJSON(name string, start, end time.Time, rate float64) string {
	return presetJSON(map[string]interface{}{
		"name":        name,
		"description": "Extra points on every purchase",
		"type":        "automatic",
		"startTime":   start.UTC().Format(time.RFC3339),
		"endTime":     end.UTC().Format(time.RFC3339),
		"rate":        rate,
	})
}

// BigSpenderJSON returns an automatic promotion with a spend threshold.
func BigSpenderJSON(start, end time.Time, minSpending float64, rate float64, points int) string {
	return presetJSON(map[string]interface{}{
		"name":        "Big Spender",
		"description": "Bonus for large purchases",
		"type":        "automatic",
		"startTime":   start.UTC().Format(time.RFC3339),
		"endTime":     end.UTC().Format(time.RFC3339),
		"minSpending": minSpending,
		"rate":        rate,
		"points":      points,
	})
}

// SpringBonusJSON is the rate 0.05 + 10 points promotion used in the
// worked examples: a 20.00 purchase earns 80 + 11 = 91.
func SpringBonusJSON(start, end time.Time) string {
	return presetJSON(map[string]interface{}{
		"name":        "Spring Bonus",
		"description": "5% back in points plus 10",
		"type":        "automatic",
		"startTime":   start.UTC().Format(time.RFC3339),
		"endTime":     end.UTC().Format(time.RFC3339),
		"rate":        0.05,
		"points":      10,
	})
}

func presetJSON(pj map[string]interface{}) string {
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
