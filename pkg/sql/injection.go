package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a parameter value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Name of the parameter that failed the check
	ParamValue  any    // The value that was checked
}

// CheckParameterForInjection uses libinjection to detect SQL injection patterns
// in a parameter value.
//
// Only string values are checked. Parameters are always escaped by the
// encoder, so a positive result is reported for auditing and never blocks
// execution.
//
// Example:
//
//	result := CheckParameterForInjection("search", "'; DROP TABLE users--")
//	// result.IsSQLi == true
//	// result.ParamName == "search"
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			ParamName:   paramName,
			ParamValue:  value,
		}
	}

	return nil
}

// CheckAllParameters runs CheckParameterForInjection over params in order and
// returns the parameters that were flagged.
func CheckAllParameters(params *Params) []*InjectionCheckResult {
	if params == nil {
		return nil
	}
	var results []*InjectionCheckResult
	for pair := params.Oldest(); pair != nil; pair = pair.Next() {
		if result := CheckParameterForInjection(pair.Key, pair.Value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
