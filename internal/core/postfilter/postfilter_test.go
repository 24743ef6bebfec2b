// Package postfilter 客户端过滤测试
package postfilter

import (
	"testing"

	"odds-feed-reconciler/internal/core/model"
)

func baseOpp() model.Opportunity {
	return model.Opportunity{
		EventID: "evt1",
		Sport:   "nba",
		Player:  "Jayson Tatum",
		Market:  "player_points",
		Line:    27.5,
		Side:    "over",
		Price:   -110,
		Book:    "draftkings",
		EdgePct: 3.0,
	}
}

func TestApply_PresetCascade(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*model.Opportunity)
		c      Criteria
		kept   bool
	}{
		{"全部通过", func(o *model.Opportunity) {}, Criteria{Sports: []string{"nba"}, MinEdgePct: 2}, true},
		{"运动不在集合", func(o *model.Opportunity) { o.Sport = "nfl" }, Criteria{Sports: []string{"nba"}}, false},
		{"edge 低于阈值", func(o *model.Opportunity) { o.EdgePct = 1.5 }, Criteria{MinEdgePct: 2}, false},
		{"价格低于下限", func(o *model.Opportunity) { o.Price = -200 }, Criteria{OddsMin: -150}, false},
		{"价格高于上限", func(o *model.Opportunity) { o.Price = 300 }, Criteria{OddsMax: 200}, false},
		{"盘口不在集合", func(o *model.Opportunity) { o.Market = "player_rebounds" }, Criteria{Markets: []string{"player_points"}}, false},
		{"搜索不匹配", func(o *model.Opportunity) {}, Criteria{Search: "lebron"}, false},
		{"搜索大小写不敏感", func(o *model.Opportunity) {}, Criteria{Search: "TATUM"}, true},
		{"book 被排除", func(o *model.Opportunity) {}, Criteria{ExcludedBooks: []string{"draftkings"}}, false},
		{"大学球员被排除", func(o *model.Opportunity) { o.IsCollege = true }, Criteria{ExcludeCollege: true}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opp := baseOpp()
			tc.mutate(&opp)
			got := Apply(model.PresetMode(), tc.c, []model.Opportunity{opp})
			if kept := len(got) == 1; kept != tc.kept {
				t.Fatalf("kept=%v, want %v", kept, tc.kept)
			}
		})
	}
}

// blend 模式下后端已过滤的谓词必须被跳过，避免双重过滤
func TestApply_CustomBlendSkipsServerPredicates(t *testing.T) {
	blend := model.CustomBlendMode(&model.BlendConfig{
		BookWeights: map[string]float64{"pinnacle": 0.7, "circa": 0.3},
	})

	opp := baseOpp()
	opp.Sport = "nfl"    // 预设模式会拒绝
	opp.EdgePct = 0.1    // 预设模式会拒绝
	opp.Price = -450     // 预设模式会拒绝

	c := Criteria{
		Sports:     []string{"nba"},
		MinEdgePct: 2,
		OddsMin:    -200,
	}

	if got := Apply(blend, c, []model.Opportunity{opp}); len(got) != 1 {
		t.Fatalf("blend 模式不应重复应用后端谓词: %+v", got)
	}

	// 残余谓词仍然生效
	c.ExcludedBooks = []string{"draftkings"}
	if got := Apply(blend, c, []model.Opportunity{opp}); len(got) != 0 {
		t.Fatalf("blend 模式下 book 排除仍应生效")
	}
}

func TestApply_HiddenKeys(t *testing.T) {
	opp := baseOpp()
	c := Criteria{HiddenKeys: map[string]bool{opp.DedupKey(): true}}

	if got := Apply(model.PresetMode(), c, []model.Opportunity{opp}); len(got) != 0 {
		t.Fatalf("预设模式下隐藏行应被过滤")
	}
	blend := model.CustomBlendMode(&model.BlendConfig{})
	if got := Apply(blend, c, []model.Opportunity{opp}); len(got) != 0 {
		t.Fatalf("blend 模式下隐藏行应被过滤")
	}
}

func TestApply_EmptyInput(t *testing.T) {
	if got := Apply(model.PresetMode(), Criteria{}, nil); got != nil {
		t.Fatalf("空输入应返回 nil")
	}
}
