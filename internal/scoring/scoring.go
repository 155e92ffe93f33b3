// Package scoring converts a raw cell value into a typed, scored answer.
//
// Each field type has one scoring function, selected from a table indexed
// by core.FieldType. Scoring is pure: the same value and field always give
// the same answer.
package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/JonMunkholm/checkin/internal/core"
	"github.com/JonMunkholm/checkin/internal/fields"
)

type scoreFunc func(raw string, f *fields.Field, a *core.Answer) error

var scorers = [core.NumFieldTypes]scoreFunc{
	core.FieldOther:        scoreVerbatim,
	core.FieldSingleChoice: scoreSingleChoice,
	core.FieldMultiChoice:  scoreMultiChoice,
	core.FieldText:         scoreText,
	core.FieldDateTime:     scoreDateTime,
	core.FieldNumeric:      scoreNumeric,
}

// Score returns the answer for raw under field f. An empty value gives a
// zero-score answer with no value.
//
// A malformed score rule yields an error wrapping core.ErrRule together with
// the zero-score answer; callers log it and keep the answer.
func Score(raw string, f *fields.Field) (core.Answer, error) {
	blank := core.Answer{
		FieldID:  f.ID,
		CommonID: f.CommonID,
		Title:    f.Title,
		Type:     f.Type.String(),
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return blank, nil
	}

	if err := badScore(f); err != nil {
		return blank, fmt.Errorf("field %s (%s): %w", f.ID, f.Title, err)
	}

	score := scoreVerbatim
	if f.Type >= 0 && f.Type < core.NumFieldTypes {
		score = scorers[f.Type]
	}

	a := blank
	a.RawValue = raw
	if err := score(raw, f, &a); err != nil {
		return blank, fmt.Errorf("field %s (%s): %w", f.ID, f.Title, err)
	}
	return a, nil
}

func badScore(f *fields.Field) error {
	for _, o := range f.Options {
		if o.BadScore != "" {
			return fmt.Errorf("%w: option %q has score %s", core.ErrRule, o.Name, o.BadScore)
		}
	}
	for _, r := range f.Rules {
		if r.BadScore != "" {
			return fmt.Errorf("%w: rule %q has score %s", core.ErrRule, r.Raw, r.BadScore)
		}
	}
	return nil
}

func scoreVerbatim(raw string, _ *fields.Field, a *core.Answer) error {
	a.Value = raw
	return nil
}

func scoreSingleChoice(raw string, f *fields.Field, a *core.Answer) error {
	a.Value = raw
	if opt, ok := f.Option(raw); ok {
		a.Score = opt.Score
	}
	return nil
}

func scoreMultiChoice(raw string, f *fields.Field, a *core.Answer) error {
	tokens := make([]string, 0, strings.Count(raw, ",")+1)
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		tokens = append(tokens, tok)
		if opt, ok := f.Option(tok); ok {
			a.Score += opt.Score
		}
	}
	a.Value = tokens
	return nil
}

func scoreText(raw string, f *fields.Field, a *core.Answer) error {
	a.Value = raw
	for _, rule := range f.Rules {
		switch rule.Condition {
		case core.CondKeyword:
			if raw == rule.Threshold {
				a.Score += rule.Score
			}
		case core.CondNotBlank:
			a.Score += rule.Score
		case core.CondBlank:
			// raw is never blank here
		}
	}
	return nil
}

func scoreDateTime(raw string, _ *fields.Field, a *core.Answer) error {
	if v, ok := ParseDate(raw); ok {
		a.Value = v
	}
	return nil
}

func scoreNumeric(raw string, f *fields.Field, a *core.Answer) error {
	a.Value = raw

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		v = math.NaN()
	}

	var total float64
	for _, rule := range f.Rules {
		hit, err := Holds(rule, v)
		if err != nil {
			return err
		}
		if hit {
			total += rule.Score
		}
	}
	a.Score = total
	return nil
}

// Holds reports whether a numeric rule's condition holds for v. NaN matches
// no rule.
func Holds(rule core.ScoreRule, v float64) (bool, error) {
	var c float64
	switch rule.Condition {
	case core.CondLess, core.CondLessOrEqual, core.CondEqual,
		core.CondNotEqual, core.CondGreaterOrEqual, core.CondGreater:
		var err error
		c, err = strconv.ParseFloat(strings.TrimSpace(rule.Threshold), 64)
		if err != nil {
			return false, fmt.Errorf("%w: threshold %q for %q", core.ErrRule, rule.Threshold, rule.Raw)
		}
	case core.CondBlank, core.CondNotBlank, core.CondKeyword:
		return false, nil
	default:
		return false, fmt.Errorf("%w: unknown condition %q", core.ErrRule, rule.Raw)
	}

	if math.IsNaN(v) {
		return false, nil
	}

	switch rule.Condition {
	case core.CondLess:
		return v < c, nil
	case core.CondLessOrEqual:
		return v <= c, nil
	case core.CondEqual:
		return v == c, nil
	case core.CondNotEqual:
		return v != c, nil
	case core.CondGreaterOrEqual:
		return v >= c, nil
	default:
		return v > c, nil
	}
}
