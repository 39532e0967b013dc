package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var (
	reJSONBlock      = regexp.MustCompile(`(?s)\{.*\}`)
	reTrailingCommas = regexp.MustCompile(`,\s*([\}\]])`)
)

// ExtractJSON recovers a single JSON object from model output. It tries a
// strict parse first, then extracts the outermost brace block and removes
// trailing commas before retrying. Anything else is a terminal parse
// failure.
func ExtractJSON(raw string, out any) error {
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}

	block := reJSONBlock.FindString(raw)
	if block == "" {
		return fmt.Errorf("no JSON object found in model output")
	}

	repaired := reTrailingCommas.ReplaceAllString(block, "$1")
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("JSON repair failed: %w", err)
	}
	return nil
}
