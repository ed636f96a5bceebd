// Package rules holds every ranking constant and word table used by the
// re-ranker and the keyword searches. Defaults reproduce the production tuning;
// a YAML file can override any part of it.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Course tags produced by the category table.
const (
	CourseDrink   = "drink"
	CourseSoup    = "soup"
	CourseStarter = "starter"
	CourseMain    = "main"
	CourseDessert = "dessert"
	CourseCombo   = "combo"
)

// RerankWeights tune the vector-stage re-ranker.
type RerankWeights struct {
	TagBonus        float64 `yaml:"tag_bonus"`
	NegativePenalty float64 `yaml:"negative_penalty"`
	CourseBonus     float64 `yaml:"course_bonus"`
	BestsellerBonus float64 `yaml:"bestseller_bonus"`
	CoveragePenalty float64 `yaml:"coverage_penalty"`
	// MinCoverage is the number of requested strong attributes an item must
	// show when at least that many were requested.
	MinCoverage   int `yaml:"min_coverage"`
	CandidatePool int `yaml:"candidate_pool"`
}

// KeywordWeights tune the simple keyword fallback.
type KeywordWeights struct {
	NameHit               float64 `yaml:"name_hit"`
	DescriptionHit        float64 `yaml:"description_hit"`
	SynonymNameHit        float64 `yaml:"synonym_name_hit"`
	SynonymDescriptionHit float64 `yaml:"synonym_description_hit"`
	CompoundBoost         float64 `yaml:"compound_boost"`
	// CoverageRatio is the share of query words that must be satisfied.
	CoverageRatio float64 `yaml:"coverage_ratio"`
}

// HintedWeights tune the hint-aware keyword search.
type HintedWeights struct {
	QueryNameHit          float64 `yaml:"query_name_hit"`
	QueryDescriptionHit   float64 `yaml:"query_description_hit"`
	KeywordNameHit        float64 `yaml:"keyword_name_hit"`
	KeywordDescriptionHit float64 `yaml:"keyword_description_hit"`
	CourseMatch           float64 `yaml:"course_match"`
	Bestseller            float64 `yaml:"bestseller"`
}

// Contradiction penalizes items whose text says the opposite of the query.
type Contradiction struct {
	Query   string   `yaml:"query"`
	Terms   []string `yaml:"terms"`
	Penalty float64  `yaml:"penalty"`
}

// Compound rewards items that satisfy a multi-word request as a whole.
type Compound struct {
	Name string `yaml:"name"`
	// QueryTerms must all appear in the query.
	QueryTerms []string `yaml:"query_terms"`
	// TextAll lists term groups; the item text must hit every group.
	TextAll [][]string `yaml:"text_all"`
	// TextNone terms must not appear in the item text.
	TextNone   []string `yaml:"text_none"`
	Course     string   `yaml:"course"`
	RequireVeg bool     `yaml:"require_veg"`
}

// TasteTag is a display tag synthesized when any of its terms is in the text.
type TasteTag struct {
	Tag   string   `yaml:"tag"`
	Terms []string `yaml:"terms"`
}

// Popularity computes the display popularity score of an item.
type Popularity struct {
	Base            float64 `yaml:"base"`
	Bestseller      float64 `yaml:"bestseller"`
	CheapBelow      float64 `yaml:"cheap_below"`
	Cheap           float64 `yaml:"cheap"`
	Veg             float64 `yaml:"veg"`
	BudgetTagBelow  float64 `yaml:"budget_tag_below"`
	PremiumTagAbove float64 `yaml:"premium_tag_above"`
}

// Rules is the complete ranking configuration.
type Rules struct {
	Rerank  RerankWeights  `yaml:"rerank"`
	Keyword KeywordWeights `yaml:"keyword"`
	Hinted  HintedWeights  `yaml:"hinted"`

	ResultLimit int `yaml:"result_limit"`

	// StrongAttributes are the taste attributes whose coverage is enforced.
	StrongAttributes []string `yaml:"strong_attributes"`
	// ExpansionSynonyms are appended to the embedding text per positive keyword.
	ExpansionSynonyms map[string][]string `yaml:"expansion_synonyms"`
	// FallbackSynonyms widen keyword matching when no embedding is available.
	FallbackSynonyms map[string][]string `yaml:"fallback_synonyms"`
	Contradictions   []Contradiction     `yaml:"contradictions"`
	Compounds        []Compound          `yaml:"compounds"`
	TasteTags        []TasteTag          `yaml:"taste_tags"`
	Popularity       Popularity          `yaml:"popularity"`
	// Courses maps menu category ids to course tags.
	Courses map[int]string `yaml:"courses"`
}

// Default returns the production tuning.
func Default() *Rules {
	return &Rules{
		Rerank: RerankWeights{
			TagBonus:        0.3,
			NegativePenalty: 0.5,
			CourseBonus:     0.5,
			BestsellerBonus: 0.3,
			CoveragePenalty: 1.0,
			MinCoverage:     2,
			CandidatePool:   20,
		},
		Keyword: KeywordWeights{
			NameHit:               5,
			DescriptionHit:        3,
			SynonymNameHit:        4,
			SynonymDescriptionHit: 2,
			CompoundBoost:         5,
			CoverageRatio:         0.5,
		},
		Hinted: HintedWeights{
			QueryNameHit:          4,
			QueryDescriptionHit:   2,
			KeywordNameHit:        3,
			KeywordDescriptionHit: 1.5,
			CourseMatch:           2,
			Bestseller:            1,
		},
		ResultLimit:      3,
		StrongAttributes: []string{"hot", "sweet", "spicy", "cheesy", "sour", "cold", "refreshing"},
		ExpansionSynonyms: map[string][]string{
			"hot":        {"warm", "spicy"},
			"sweet":      {"sugary", "dessert"},
			"cheesy":     {"cheese", "mozzarella"},
			"refreshing": {"cool", "cold", "chilled"},
			"spicy":      {"hot", "fiery", "chili"},
		},
		FallbackSynonyms: map[string][]string{
			"cold":       {"chilled", "ice", "frozen", "refreshing", "iced", "cool"},
			"hot":        {"spicy", "warm", "heated", "fiery", "burning"},
			"sweet":      {"dessert", "sugar", "honey", "chocolate", "sugary", "candy"},
			"spicy":      {"hot", "chili", "pepper", "fiery", "pungent", "tangy"},
			"sour":       {"tangy", "tart", "acidic", "bitter"},
			"refreshing": {"cool", "cold", "chilled", "fresh"},
			"drink":      {"beverage", "juice", "smoothie", "coffee", "tea", "soda"},
			"soup":       {"broth", "stew", "bisque"},
			"starter":    {"appetizer", "snack"},
			"main":       {"course", "meal", "dish"},
			"dessert":    {"sweet", "cake", "ice cream"},
			"vegetarian": {"veg", "veggie"},
			"non-veg":    {"non-vegetarian", "meat", "chicken", "fish"},
		},
		Contradictions: []Contradiction{
			{Query: "cold", Terms: []string{"hot", "warm", "heated"}, Penalty: 3},
			{Query: "hot", Terms: []string{"cold", "iced", "chilled"}, Penalty: 3},
			{Query: "sweet", Terms: []string{"sour", "tangy", "bitter"}, Penalty: 2},
			{Query: "spicy", Terms: []string{"sweet", "chocolate", "sugar"}, Penalty: 2},
		},
		Compounds: []Compound{
			{
				Name:       "refreshing-drink",
				QueryTerms: []string{"refreshing", "drink"},
				TextAll:    [][]string{{"refreshing", "cool", "cold", "chilled"}},
				Course:     CourseDrink,
			},
			{
				Name:       "hot-spicy",
				QueryTerms: []string{"hot", "spicy"},
				TextAll:    [][]string{{"hot", "spicy", "chili", "pepper"}},
				TextNone:   []string{"sweet", "chocolate"},
			},
			{
				Name:       "cold-sweet",
				QueryTerms: []string{"cold", "sweet"},
				TextAll: [][]string{
					{"cold", "chilled", "refreshing"},
					{"sweet", "sugar", "honey", "chocolate"},
				},
			},
			{
				Name:       "vegetarian-main",
				QueryTerms: []string{"vegetarian", "main"},
				Course:     CourseMain,
				RequireVeg: true,
			},
		},
		TasteTags: []TasteTag{
			{Tag: "spicy", Terms: []string{"spicy", "hot", "chili", "pepper"}},
			{Tag: "sweet", Terms: []string{"sweet", "sugar", "honey", "chocolate"}},
			{Tag: "sour", Terms: []string{"sour", "tangy", "lemon"}},
			{Tag: "cold", Terms: []string{"cold", "iced", "chilled", "refreshing"}},
			{Tag: "hot", Terms: []string{"hot", "warm", "heated"}},
			{Tag: "cheesy", Terms: []string{"cheesy", "cheese"}},
			{Tag: "crispy", Terms: []string{"crispy", "fried"}},
		},
		Popularity: Popularity{
			Base:            5,
			Bestseller:      3,
			CheapBelow:      150,
			Cheap:           1,
			Veg:             0.5,
			BudgetTagBelow:  100,
			PremiumTagAbove: 300,
		},
		Courses: map[int]string{
			1:  CourseStarter,
			2:  CourseSoup,
			4:  CourseMain,
			5:  CourseMain,
			6:  CourseMain,
			7:  CourseMain,
			8:  CourseMain,
			9:  CourseMain,
			10: CourseMain,
			11: CourseDessert,
			12: CourseDrink,
		},
	}
}

// Load returns the defaults overlaid with the YAML document at path.
// An empty path yields the defaults.
func Load(path string) (*Rules, error) {
	r := Default()
	if strings.TrimSpace(path) == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking rules: %w", err)
	}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to parse ranking rules %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate rejects configurations the scorers cannot use.
func (r *Rules) Validate() error {
	if r.ResultLimit < 1 {
		return fmt.Errorf("rules: result_limit must be at least 1")
	}
	if r.Rerank.CandidatePool < r.ResultLimit {
		return fmt.Errorf("rules: rerank.candidate_pool (%d) must not be smaller than result_limit (%d)",
			r.Rerank.CandidatePool, r.ResultLimit)
	}
	if r.Keyword.CoverageRatio < 0 || r.Keyword.CoverageRatio > 1 {
		return fmt.Errorf("rules: keyword.coverage_ratio must be within [0,1]")
	}
	for _, c := range r.Contradictions {
		if c.Query == "" || len(c.Terms) == 0 {
			return fmt.Errorf("rules: contradiction entries need a query and terms")
		}
	}
	for _, c := range r.Compounds {
		if len(c.QueryTerms) == 0 {
			return fmt.Errorf("rules: compound %q needs query_terms", c.Name)
		}
	}
	return nil
}

// CourseFor maps a category id to its course tag, or "" when unmapped.
func (r *Rules) CourseFor(categoryID int) string {
	return r.Courses[categoryID]
}

// HasCourse reports whether some category maps to course.
func (r *Rules) HasCourse(course string) bool {
	if course == "" {
		return false
	}
	for _, c := range r.Courses {
		if c == course {
			return true
		}
	}
	return false
}

// IsStrong reports whether attr is one of the coverage-enforced attributes.
func (r *Rules) IsStrong(attr string) bool {
	for _, a := range r.StrongAttributes {
		if a == attr {
			return true
		}
	}
	return false
}
