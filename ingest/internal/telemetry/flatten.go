package telemetry

import "strings"

// Flatten rewrites indexed-array keys such as "voltages[0]" into flat
// column names ("voltages_0"). Everything else passes through untouched;
// nesting deeper than one indexed level does not occur in observed
// payloads and is not expanded.
func Flatten(payload map[string]any) map[string]any {
	row := make(map[string]any, len(payload))
	for key, value := range payload {
		open := strings.IndexByte(key, '[')
		end := strings.IndexByte(key, ']')
		if open > 0 && end > open {
			row[key[:open]+"_"+key[open+1:end]] = value
			continue
		}
		row[key] = value
	}
	return row
}
