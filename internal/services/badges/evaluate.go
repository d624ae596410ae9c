package badges

import "github.com/fastprodman/studentportal/internal/models"

// Unlock lists what a single progress update newly earned.
type Unlock struct {
	Key    string   `json:"progressKey"`
	Value  int64    `json:"value"`
	Badges []string `json:"newBadges"`
	Codes  []string `json:"newCodes"`
}

func (u Unlock) Empty() bool { return len(u.Badges) == 0 && len(u.Codes) == 0 }

// evaluate checks every badge counting key against the stored counter and
// records newly earned badges and codes on p. Membership in EarnedBadges is
// the only "already awarded" signal, so repeated calls add nothing.
func evaluate(p *models.BadgeProgress, catalog *Catalog, key string) Unlock {
	u := Unlock{Key: key, Value: p.Progress[key], Badges: []string{}, Codes: []string{}}

	for _, d := range catalog.ByKey(key) {
		if p.EarnedBadges.Has(d.Name) || !d.MaxProgress.Met(u.Value) {
			continue
		}

		p.EarnedBadges.Add(d.Name)
		u.Badges = append(u.Badges, d.Name)

		if d.RewardCode != "" && p.UnlockedCodes.Add(d.RewardCode) {
			u.Codes = append(u.Codes, d.RewardCode)
		}
	}

	return u
}
