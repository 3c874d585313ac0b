// Package config loads pixelport.yaml.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches ${NAME}, ${NAME:-fallback} and ${NAME:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:-|:\?)([^}]*))?\}`)

// ExpandEnv substitutes environment references in a config document.
//
// It runs over the raw file, so any scalar may carry a reference. Deployments
// use it for the values that differ per panel or per site: device_id,
// adapter.url and adapter.headers, the archive s3 bucket, region and
// endpoint, and bridge.addr.
//
//	${NAME}            value of NAME, or empty
//	${NAME:-fallback}  fallback when NAME is unset or empty
//	${NAME:?message}   error when NAME is unset or empty
//
// A plain reference that expands to nothing is not an error here; Validate
// catches the required fields it leaves empty.
func ExpandEnv(input string) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		name, op, arg := m[1], m[2], m[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		switch op {
		case ":-":
			return arg
		case ":?":
			if arg == "" {
				arg = "must be set"
			}
			missing = append(missing, name+" "+arg)
		}
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("environment: %s", strings.Join(missing, "; "))
	}
	return out, nil
}
