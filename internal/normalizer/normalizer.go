// Package normalizer turns a free-text craving into a menu.ParsedQuery with a
// chat model. It never fails: when the model is unavailable or returns
// something unusable, the parse degrades to the lower-cased input.
package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ca-srg/cravings/internal/embedding"
	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/textnorm"
)

var (
	jsonObject  = regexp.MustCompile(`(?s)\{.*\}`)
	firstNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

var systemPrompt = strings.TrimSpace(`
You are a restaurant menu assistant. Convert any free-text craving into structured JSON.
Rules:
- Normalize slang, typos, punctuation, emojis.
- Extract positive/negative keywords (what user wants/avoids).
- Detect hints: diet (veg/non-veg/vegan), course_type (drink/starter/main/dessert/snack/combo), budget (numeric INR), portion_size (single/share_2/share_4), mood/context.
- Map adjectives to logical categories: "refreshing" -> course_type: drink, taste_profile: refreshing; "warming" -> soup/hot drink.
- Detect intent: surprise, popular, trending, chef_reco, history_reference.

Output only JSON, use empty strings/arrays if unknown:

{
  "normalized_query": "",
  "positive_keywords": [],
  "negative_keywords": [],
  "hints": {
    "diet": "",
    "course_type": "",
    "budget": "",
    "portion_size": "",
    "mood": ""
  },
  "intent": ""
}

Examples:
"need something hot n spicy" -> "positive_keywords": ["hot","spicy"], "hints": {"course_type":"drink"}
"give me a non-veg starter" -> "hints": {"diet":"non-veg","course_type":"starter"}
"Idk maybe something sweet" -> "positive_keywords":["sweet"]
"Anything without onions pls" -> "negative_keywords":["onion"]
"meal under 150" -> "hints": {"budget":150}
"refreshing drink" -> "hints": {"course_type":"drink"}, "positive_keywords":["refreshing"]
"warming soup" -> "hints": {"course_type":"soup"}, "positive_keywords":["warming"]
"something cheesy" -> "positive_keywords":["cheesy"]
"spicy but not too hot" -> "positive_keywords":["spicy"], "negative_keywords":["hot"]
"vegetarian main course" -> "hints": {"diet":"veg","course_type":"main"}
`)

// Config bounds the model call.
type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// Normalizer parses cravings with a chat model.
type Normalizer struct {
	chat   embedding.ChatClient
	cfg    Config
	logger zerolog.Logger
	sleep  func(context.Context, time.Duration) error
}

type payload struct {
	NormalizedQuery  string   `json:"normalized_query"`
	PositiveKeywords []string `json:"positive_keywords"`
	NegativeKeywords []string `json:"negative_keywords"`
	Hints            struct {
		Diet        string          `json:"diet"`
		CourseType  string          `json:"course_type"`
		Budget      json.RawMessage `json:"budget"`
		PortionSize string          `json:"portion_size"`
		Mood        string          `json:"mood"`
	} `json:"hints"`
	Intent string `json:"intent"`
}

// New creates a Normalizer. A nil chat client is allowed and always yields
// the raw-input parse.
func New(chat embedding.ChatClient, cfg Config, logger zerolog.Logger) *Normalizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 300 * time.Millisecond
	}
	return &Normalizer{
		chat:   chat,
		cfg:    cfg,
		logger: logger.With().Str("component", "normalizer").Logger(),
		sleep:  sleepContext,
	}
}

// Parse returns the structured form of raw.
func (n *Normalizer) Parse(ctx context.Context, raw string) menu.ParsedQuery {
	fallback := menu.ParsedQuery{NormalizedQuery: textnorm.Normalize(raw)}
	if n == nil || n.chat == nil || fallback.NormalizedQuery == "" {
		return fallback
	}

	reply, err := n.complete(ctx, raw)
	if err != nil {
		n.logger.Warn().Err(err).Msg("craving parse unavailable, using raw query")
		return fallback
	}

	parsed, err := decode(reply)
	if err != nil {
		n.logger.Warn().Err(err).Msg("craving parse returned unusable output")
		return fallback
	}
	if parsed.NormalizedQuery == "" {
		parsed.NormalizedQuery = fallback.NormalizedQuery
	}
	return parsed
}

func (n *Normalizer) complete(ctx context.Context, raw string) (string, error) {
	messages := []embedding.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "User query: " + strconv.Quote(strings.TrimSpace(raw))},
	}

	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := n.sleep(ctx, n.cfg.RetryDelay); err != nil {
				return "", err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
		reply, err := n.chat.Complete(callCtx, messages)
		cancel()
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		n.logger.Debug().Err(err).Int("attempt", attempt).Msg("chat completion failed")
	}
	return "", fmt.Errorf("chat completion failed after %d attempts: %w", n.cfg.MaxAttempts, lastErr)
}

func decode(reply string) (menu.ParsedQuery, error) {
	match := jsonObject.FindString(reply)
	if match == "" {
		return menu.ParsedQuery{}, errors.New("no JSON object in reply")
	}

	var p payload
	if err := json.Unmarshal([]byte(match), &p); err != nil {
		return menu.ParsedQuery{}, fmt.Errorf("decode reply: %w", err)
	}

	parsed := menu.ParsedQuery{
		NormalizedQuery:  textnorm.Normalize(p.NormalizedQuery),
		PositiveKeywords: textnorm.LowerUnique(p.PositiveKeywords),
		NegativeKeywords: textnorm.LowerUnique(p.NegativeKeywords),
		Hints: menu.Hints{
			Diet:        strings.ToLower(strings.TrimSpace(p.Hints.Diet)),
			CourseType:  strings.ToLower(strings.TrimSpace(p.Hints.CourseType)),
			Budget:      parseBudget(p.Hints.Budget),
			PortionSize: strings.TrimSpace(p.Hints.PortionSize),
			Mood:        strings.TrimSpace(p.Hints.Mood),
		},
		Intent:    strings.TrimSpace(p.Intent),
		FromModel: true,
	}
	return parsed, nil
}

// parseBudget accepts a JSON number or a string holding one ("150", "Rs 150").
func parseBudget(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		if num <= 0 {
			return nil
		}
		return &num
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	digits := firstNumber.FindString(strings.ReplaceAll(s, ",", ""))
	if digits == "" {
		return nil
	}
	num, err := strconv.ParseFloat(digits, 64)
	if err != nil || num <= 0 {
		return nil
	}
	return &num
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
