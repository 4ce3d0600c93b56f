// Package catalog holds the static keyword tables the pipeline matches
// against: materiality indicators, universal ESG category groups, and
// per-industry profiles. The tables are loaded once and never mutated;
// declaration order is significant for tie-breaking.
package catalog

// Category labels an ESG dimension of a materiality issue.
type Category string

const (
	Environmental Category = "E"
	Social        Category = "S"
	Governance    Category = "G"
	Unknown       Category = "Unknown"
)

// CategoryGroup pairs a category with its universal keyword list.
type CategoryGroup struct {
	Category Category
	Keywords []string
}

// IndustryProfile pairs an industry label with the keywords that signal it.
// The same keywords double as the industry-specific scoring group.
type IndustryProfile struct {
	Label    string
	Keywords []string
}

// materialityIndicators flag text that talks about a materiality assessment
// rather than ESG topics in general.
var materialityIndicators = []string{
	"중대성",
	"materiality",
	"핵심이슈",
	"이슈 풀",
	"우선순위",
	"이해관계자",
	"영향도",
	"발생가능성",
	"매트릭스",
	"material issue",
	"material topic",
	"stakeholder",
	"double materiality",
}

// categoryGroups are scanned in declared order; the first group with a hit
// decides the category.
var categoryGroups = []CategoryGroup{
	{
		Category: Environmental,
		Keywords: []string{
			"기후변화", "온실가스", "재생에너지", "환경경영", "친환경",
			"생물다양성", "폐기물", "수자원", "대기오염",
			"climate change", "greenhouse gas", "renewable energy",
			"biodiversity", "circular economy",
		},
	},
	{
		Category: Social,
		Keywords: []string{
			"안전", "직원", "다양성", "인권", "지역사회", "고용",
			"복지", "사회공헌", "고객만족", "공급망",
			"human rights", "health and safety", "diversity",
			"community", "supply chain",
		},
	},
	{
		Category: Governance,
		Keywords: []string{
			"이사회", "윤리", "컴플라이언스", "투명성", "감사",
			"위험관리", "지배구조", "내부통제", "주주",
			"board of directors", "compliance", "business ethics",
			"anti-corruption", "governance",
		},
	},
}

// industryProfiles are checked in declared order; earlier entries win ties.
var industryProfiles = []IndustryProfile{
	{
		Label: "에너지",
		Keywords: []string{
			"발전", "전력", "송전", "탄소중립", "원자력", "신재생",
			"발전소", "에너지전환", "power generation", "grid",
		},
	},
	{
		Label: "제조",
		Keywords: []string{
			"공장", "생산라인", "품질", "제조", "설비", "소재",
			"완성차", "반도체", "manufacturing", "factory",
		},
	},
	{
		Label: "금융",
		Keywords: []string{
			"여신", "투자", "금융", "은행", "보험", "자산운용",
			"책임투자", "responsible investment", "portfolio", "lending",
		},
	},
	{
		Label: "건설",
		Keywords: []string{
			"시공", "건설", "현장", "수주", "토목", "플랜트",
			"construction", "infrastructure",
		},
	},
	{
		Label: "유통",
		Keywords: []string{
			"매장", "유통", "물류", "소비자", "상품", "이커머스",
			"retail", "logistics",
		},
	},
}

// MaterialityIndicators returns the materiality-indicator keyword list.
func MaterialityIndicators() []string { return materialityIndicators }

// CategoryGroups returns the universal category keyword groups in
// declaration order (E, S, G).
func CategoryGroups() []CategoryGroup { return categoryGroups }

// IndustryProfiles returns the industry profiles in declaration order.
func IndustryProfiles() []IndustryProfile { return industryProfiles }

// IndustryKeywords returns the specific keyword group for an industry label,
// or nil if the label is not in the catalogue.
func IndustryKeywords(label string) []string {
	for _, p := range industryProfiles {
		if p.Label == label {
			return p.Keywords
		}
	}
	return nil
}
