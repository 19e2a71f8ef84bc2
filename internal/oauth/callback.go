// Package oauth extracts and validates authorization callback parameters
// pasted by users completing the upstream provider's OAuth flow.
package oauth

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	codeParamRe  = regexp.MustCompile(`[?&]code=([^&\s]+)`)
	stateParamRe = regexp.MustCompile(`[?&]state=([^&\s]+)`)
	codeBareRe   = regexp.MustCompile(`^code=([^&\s]+)`)
	stateBareRe  = regexp.MustCompile(`^state=([^&\s]+)`)
	stateHexRe   = regexp.MustCompile(`^[a-f0-9]+$`)
)

// ParseCallback extracts code and state from whatever the user pasted. It
// accepts a full callback URL, a URL without a scheme, a bare query string,
// or a query string with a leading question mark. Missing parameters come
// back empty.
func ParseCallback(rawInput string) (code, state string) {
	rawInput = strings.TrimSpace(rawInput)
	if rawInput == "" {
		return "", ""
	}

	code = firstMatch(codeParamRe, rawInput)
	if code == "" {
		code = firstMatch(codeBareRe, rawInput)
	}

	state = firstMatch(stateParamRe, rawInput)
	if state == "" {
		state = firstMatch(stateBareRe, rawInput)
	}

	if decoded, err := url.QueryUnescape(code); err == nil {
		code = decoded
	}
	if decoded, err := url.QueryUnescape(state); err == nil {
		state = decoded
	}
	return code, state
}

func firstMatch(re *regexp.Regexp, input string) string {
	if m := re.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	return ""
}

// Validate checks the extracted parameters and returns a problem description
// per invalid field. An empty slice means the pair is acceptable.
func Validate(code, state string) []string {
	var problems []string

	switch {
	case code == "":
		problems = append(problems, "missing code parameter")
	case len(code) < 10:
		problems = append(problems, "code parameter is malformed")
	}

	switch {
	case state == "":
		problems = append(problems, "missing state parameter")
	case len(state) != 32 || !stateHexRe.MatchString(state):
		problems = append(problems, "state parameter is malformed")
	}

	return problems
}
