package builtins

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"regexp"
)

// compiledPatterns memoizes regexp.Compile results across match/rmatch/
// subst/file_grep calls. Pattern source strings recur heavily in verb
// code (the same literal gets compiled on every invocation of a loop
// body), so caching the *regexp.Regexp keyed on the exact source text
// avoids re-parsing it every tick.
var compiledPatterns, _ = lru.New[string, *regexp.Regexp](256)

func compileCachedRegexp(pattern string) (*regexp.Regexp, error) {
	if re, ok := compiledPatterns.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	compiledPatterns.Add(pattern, re)
	return re, nil
}
