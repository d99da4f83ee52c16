package step

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// JSONDelimiter wraps the JSON answer the model is asked to produce
const JSONDelimiter = "<<<SOAP_JSON>>>"

const soapSchemaURL = "soap_schema.json"

//go:embed soap_schema.json
var soapSchemaJSON []byte

var (
	soapSchemaOnce sync.Once
	soapSchema     *jsonschema.Schema
	soapSchemaErr  error
)

func compiledSoapSchema() (*jsonschema.Schema, error) {
	soapSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(soapSchemaJSON))
		if err != nil {
			soapSchemaErr = fmt.Errorf("failed to load soap schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(soapSchemaURL, doc); err != nil {
			soapSchemaErr = fmt.Errorf("failed to add soap schema: %w", err)
			return
		}
		soapSchema, soapSchemaErr = c.Compile(soapSchemaURL)
	})
	return soapSchema, soapSchemaErr
}

// ExtractJSON pulls the JSON answer out of model output. The span between the
// first and last delimiter wins; otherwise the first '{' to the last '}'.
func ExtractJSON(text string) (string, error) {
	if strings.Count(text, JSONDelimiter) >= 2 {
		start := strings.Index(text, JSONDelimiter) + len(JSONDelimiter)
		end := strings.LastIndex(text, JSONDelimiter)
		if start < end {
			if candidate := strings.TrimSpace(text[start:end]); candidate != "" {
				return candidate, nil
			}
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || start >= end {
		return "", errors.New("no JSON object found in model output")
	}
	return text[start : end+1], nil
}

// ParseSoapNote validates a JSON answer against the SOAP schema
func ParseSoapNote(raw string) (domain.SoapNote, error) {
	schema, err := compiledSoapSchema()
	if err != nil {
		return domain.SoapNote{}, err
	}

	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return domain.SoapNote{}, domain.NewParseError(fmt.Errorf("invalid JSON: %w", err))
	}
	if err := schema.Validate(inst); err != nil {
		return domain.SoapNote{}, domain.NewParseError(fmt.Errorf("schema mismatch: %w", err))
	}

	var note domain.SoapNote
	if err := json.Unmarshal([]byte(raw), &note); err != nil {
		return domain.SoapNote{}, domain.NewParseError(err)
	}
	return note, nil
}

// ParseModelOutput runs extraction then validation
func ParseModelOutput(text string) (domain.SoapNote, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return domain.SoapNote{}, domain.NewParseError(err)
	}
	return ParseSoapNote(raw)
}
