package providers

import "strings"

// PatternKeys are the model-family shorthands accepted as mapping keys. A
// pattern key matches any client model whose name contains it,
// case-insensitively, so "sonnet" covers Claude-3-5-Sonnet-20241022 and
// every later sonnet revision.
var PatternKeys = []string{"opus", "sonnet", "haiku"}

// MapModel resolves a client model name against the account's mappings,
// then the provider's static mappings, in strict precedence:
// exact account key, pattern account key, exact static key, pattern static
// key, identity.
func MapModel(model string, accountMappings, staticMappings map[string]string) string {
	if mapped, ok := lookupMapping(model, accountMappings); ok {
		return mapped
	}
	if mapped, ok := lookupMapping(model, staticMappings); ok {
		return mapped
	}
	return model
}

func lookupMapping(model string, mappings map[string]string) (string, bool) {
	if len(mappings) == 0 {
		return "", false
	}

	if mapped, ok := mappings[model]; ok && mapped != "" {
		return mapped, true
	}

	lower := strings.ToLower(model)
	for _, key := range PatternKeys {
		mapped, ok := mappings[key]
		if !ok || mapped == "" {
			continue
		}
		if strings.Contains(lower, key) {
			return mapped, true
		}
	}
	return "", false
}
