// Package schema validates trial metadata documents against the embedded
// clinical trial JSON Schema.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed clinical_trial.json
var clinicalTrialSchema []byte

const schemaURL = "clinical_trial.json"

type Validator struct {
	schema *jsonschema.Schema
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(clinicalTrialSchema))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: sch}, nil
}

// Errors returns human-readable violations; an empty result means valid.
func (v *Validator) Errors(doc any) ([]string, error) {
	// Documents built in Go may hold typed slices and maps, so normalise
	// them to the generic JSON shape the validator expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	err = v.schema.Validate(inst)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}
	return messages(ve), nil
}

// Validate is Errors folded into a *common.ValidationError.
func (v *Validator) Validate(doc any) error {
	msgs, err := v.Errors(doc)
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		return &common.ValidationError{Messages: msgs}
	}
	return nil
}

func messages(ve *jsonschema.ValidationError) []string {
	lines := strings.Split(ve.Error(), "\n")
	var out []string
	for _, l := range lines[1:] {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "- ")
		if l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		out = append(out, strings.TrimSpace(lines[0]))
	}
	return out
}
