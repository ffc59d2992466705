package moodle

import "regexp"

var mlangRegex = regexp.MustCompile(`\{mlang (\w+)\}(.*?)\{mlang\}`)

// LangOrFirst resolves Moodle {mlang xx}...{mlang} markup: the variant for
// the preferred language wins, else the first variant, else the raw string.
func LangOrFirst(s, preferred string) string {
	matches := mlangRegex.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s
	}
	for _, m := range matches {
		if m[1] == preferred {
			return m[2]
		}
	}
	return matches[0][2]
}
