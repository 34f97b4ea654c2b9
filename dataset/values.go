package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var rangeRE = regexp.MustCompile(`^([0-9]+(?:[.,][0-9]+)?)\s*(?:-|–|to)\s*([0-9]+(?:[.,][0-9]+)?)$`)

// groupedRE erkennt Tausendertrennzeichen wie in "1,000" oder "12,500.5".
var groupedRE = regexp.MustCompile(`^[-+]?[0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]+)?$`)

// row ist eine Tabellenzeile mit tolerantem Feldzugriff.
type row map[string]any

// raw liefert den ersten vorhandenen, nicht-nil Wert der angegebenen Felder.
func (r row) raw(names ...string) any {
	for _, n := range names {
		if v, ok := r[n]; ok && v != nil {
			return v
		}
	}
	return nil
}

func (r row) text(names ...string) string {
	return toText(r.raw(names...))
}

func (r row) number(names ...string) *float64 {
	return toNumber(r.raw(names...))
}

func (r row) list(names ...string) []string {
	return toList(r.raw(names...))
}

// referenceIDs vereinigt alle Felder, die auf Zitationen verweisen können.
func (r row) referenceIDs() []string {
	var out []string
	seen := map[string]bool{}
	for _, name := range []string{"reference_ids", "citation_ids", "citation_id", "references"} {
		for _, id := range toList(r[name]) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// toText wandelt Skalare in bereinigten Text um. Leer bedeutet "nicht vorhanden".
func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return CleanText(t)
	case json.Number:
		return t.String()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		// YAML liest unquotierte Daten wie 2024-01-01 als Zeitstempel.
		if h, m, sec := t.Clock(); h == 0 && m == 0 && sec == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339)
	default:
		return ""
	}
}

// toNumber akzeptiert Zahlen und numerische Strings (mit Tausendertrennzeichen oder Dezimalkomma).
// Nicht-endliche oder nicht-numerische Werte ergeben nil.
func toNumber(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		parsed, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := CleanText(t)
		if s == "" {
			return nil
		}
		switch {
		case groupedRE.MatchString(s):
			s = strings.ReplaceAll(s, ",", "")
		case !strings.Contains(s, ".") && strings.Count(s, ",") == 1:
			s = strings.Replace(s, ",", ".", 1)
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func toInt(v any) *int {
	f := toNumber(v)
	if f == nil {
		return nil
	}
	i := int(math.Round(*f))
	return &i
}

// toList teilt Strings an ; | und , auf. Reihenfolge und Duplikate bleiben erhalten.
func toList(v any) []string {
	var out []string
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range t {
			if s := toText(item); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, item := range t {
			if s := CleanText(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		parts := strings.FieldsFunc(t, func(r rune) bool {
			return r == ';' || r == '|' || r == ','
		})
		for _, p := range parts {
			if s := CleanText(p); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := toText(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// toStructured liefert eingebettete strukturierte Daten als JSON.
// malformed ist true, wenn ein serialisierter Wert nicht geparst werden konnte.
// Freitext wird mit allowText zu {"text": ...}.
func toStructured(v any, allowText bool) (out json.RawMessage, malformed bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, true
		}
		return b, false
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, false
		}
		if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
			var parsed any
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				return nil, true
			}
			b, _ := json.Marshal(parsed)
			return b, false
		}
		if !allowText {
			return nil, true
		}
		b, _ := json.Marshal(map[string]string{"text": CleanText(s)})
		return b, false
	default:
		return nil, true
	}
}

// doseRange liest den optimalen Bereich aus min/max-Feldern oder aus optimal_dose_range.
func doseRange(r row) (lo, hi *float64, err error) {
	lo = r.number("optimal_dose_min")
	hi = r.number("optimal_dose_max")
	if lo == nil && hi == nil {
		switch t := r.raw("optimal_dose_range").(type) {
		case []any:
			if len(t) != 2 {
				return nil, nil, fmt.Errorf("expected two bounds, got %d", len(t))
			}
			lo, hi = toNumber(t[0]), toNumber(t[1])
		case string:
			s := CleanText(t)
			if s == "" {
				break
			}
			m := rangeRE.FindStringSubmatch(s)
			if m == nil {
				return nil, nil, fmt.Errorf("cannot parse range %q", s)
			}
			lo, hi = toNumber(m[1]), toNumber(m[2])
		}
	}
	if lo != nil && hi != nil && *lo > *hi {
		return nil, nil, fmt.Errorf("inverted range [%v, %v]", *lo, *hi)
	}
	return lo, hi, nil
}

// toTime akzeptiert RFC3339 und reine Datumsangaben.
func toTime(v any) (*time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return &t, nil
	}
	s := toText(v)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}
