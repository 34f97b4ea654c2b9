package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tabellen der Sheet-Form, in Verarbeitungsreihenfolge.
var sheetTables = []string{
	"ingredients",
	"forms",
	"evidence",
	"citations",
	"form_aliases",
	"normalization_rules",
	"token_aliases",
	"generic_form_tokens",
	"interactions",
	"nutrient_targets",
	"target_profiles",
	"ul__toxicity",
	"dose_response_curves",
}

// packageShape ist eine der beiden akzeptierten Paket-Formen.
type packageShape interface {
	name() string
	build(b *builder) error
}

// Load parst einen Paket-Puffer. name dient der Formaterkennung (Endung) und für Fehlermeldungen.
// Zeilen-Probleme werden als Issues zurückgegeben; nur strukturelle Fehler brechen ab.
func Load(data []byte, name string) (*Package, []Issue, error) {
	doc, err := decode(data, name)
	if err != nil {
		return nil, nil, err
	}

	shape, err := detectShape(doc, name)
	if err != nil {
		return nil, nil, err
	}

	b := &builder{source: name, pkg: &Package{Shape: shape.name()}}
	b.pkg.Version = packageVersion(doc)
	if err := shape.build(b); err != nil {
		return nil, nil, err
	}
	return b.pkg, b.issues, nil
}

func decode(data []byte, name string) (map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &StructuralError{Source: name, Reason: "empty package"}
	}

	var raw any
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(trimmed, &raw); err != nil {
			return nil, &StructuralError{Source: name, Reason: "invalid YAML", Err: err}
		}
		raw = normalizeYAML(raw)
	case ".json":
		if err := decodeJSON(trimmed, &raw); err != nil {
			return nil, &StructuralError{Source: name, Reason: "invalid JSON", Err: err}
		}
	default:
		if trimmed[0] == '{' || trimmed[0] == '[' {
			if err := decodeJSON(trimmed, &raw); err != nil {
				return nil, &StructuralError{Source: name, Reason: "invalid JSON", Err: err}
			}
		} else {
			if err := yaml.Unmarshal(trimmed, &raw); err != nil {
				return nil, &StructuralError{Source: name, Reason: "invalid YAML", Err: err}
			}
			raw = normalizeYAML(raw)
		}
	}

	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, &StructuralError{Source: name, Reason: fmt.Sprintf("top level must be an object, got %s", kindOf(raw))}
	}
	return doc, nil
}

func decodeJSON(data []byte, out *any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after top-level value")
	}
	return nil
}

// normalizeYAML macht aus map[any]any überall map[string]any, damit beide Formate gleich aussehen.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}

// detectShape entscheidet einmal pro Paket: eine nicht-leere sheets-Tabelle gewinnt.
func detectShape(doc map[string]any, source string) (packageShape, error) {
	rawSheets, present := doc["sheets"]
	if present && rawSheets != nil {
		sheets, ok := rawSheets.(map[string]any)
		if !ok {
			return nil, &StructuralError{Source: source, Reason: fmt.Sprintf("sheets must be an object, got %s", kindOf(rawSheets))}
		}
		if len(sheets) > 0 {
			return sheetPackage{sheets: sheets}, nil
		}
	}
	return flatPackage{doc: doc}, nil
}

func packageVersion(doc map[string]any) string {
	if v := toText(doc["version"]); v != "" {
		return v
	}
	if meta, ok := doc["meta"].(map[string]any); ok {
		return toText(meta["version"])
	}
	return ""
}

type flatPackage struct {
	doc map[string]any
}

func (flatPackage) name() string { return "flat" }

func (p flatPackage) build(b *builder) error {
	ingredients, err := b.rows(p.doc, "ingredients")
	if err != nil {
		return err
	}
	for _, r := range ingredients {
		key, ok := b.ingredient(r)
		if !ok {
			continue
		}
		b.nestedForms(r, key)
		b.nestedEvidence(r, key)
	}

	citations, err := b.rows(p.doc, "citations")
	if err != nil {
		return err
	}
	for _, r := range citations {
		b.citation(r)
	}

	aliases, err := b.rows(p.doc, "form_aliases")
	if err != nil {
		return err
	}
	for _, r := range aliases {
		b.formAlias(r)
	}
	return nil
}

type sheetPackage struct {
	sheets map[string]any
}

func (sheetPackage) name() string { return "sheets" }

func (p sheetPackage) build(b *builder) error {
	// ul_toxicity ist eine verbreitete Schreibweise für ul__toxicity
	if _, ok := p.sheets["ul__toxicity"]; !ok {
		if v, ok := p.sheets["ul_toxicity"]; ok {
			p.sheets["ul__toxicity"] = v
		}
	}

	handlers := map[string]func(row){
		"ingredients":          func(r row) { b.ingredient(r) },
		"forms":                func(r row) { b.form(r, "") },
		"evidence":             func(r row) { b.evidence(r, "", "") },
		"citations":            b.citation,
		"form_aliases":         b.formAlias,
		"normalization_rules":  b.normalizationRule,
		"token_aliases":        b.tokenAlias,
		"generic_form_tokens":  b.genericFormToken,
		"interactions":         b.interaction,
		"nutrient_targets":     b.nutrientTarget,
		"target_profiles":      b.targetProfile,
		"ul__toxicity":         b.ulToxicity,
		"dose_response_curves": b.doseResponseCurve,
	}
	for _, table := range sheetTables {
		rows, err := b.rows(p.sheets, table)
		if err != nil {
			return err
		}
		handle := handlers[table]
		for _, r := range rows {
			handle(r)
		}
	}
	return nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}
