/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package endpoint

import "strings"

// DomainFilter decides whether a zone or endpoint name is managed by this
// instance, given include and exclude pattern lists. Each pattern is either
// a literal name or a "*."-prefixed wildcard matching any depth of
// subdomain. A name is managed iff (include is empty OR some include
// pattern matches) AND (no exclude pattern matches).
type DomainFilter struct {
	include []string
	exclude []string
}

// NewDomainFilter builds a DomainFilter from include/exclude pattern lists.
func NewDomainFilter(include, exclude []string) *DomainFilter {
	return &DomainFilter{
		include: prepare(include),
		exclude: prepare(exclude),
	}
}

func prepare(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		p = strings.TrimSuffix(p, ".")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Match reports whether domain is managed under this filter.
func (df *DomainFilter) Match(domain string) bool {
	if df == nil {
		return true // nil filter matches everything
	}
	return matchAny(df.include, domain, true) && !matchAny(df.exclude, domain, false)
}

// IsConfigured reports whether any include or exclude rule was specified.
func (df *DomainFilter) IsConfigured() bool {
	if df == nil {
		return false
	}
	return len(df.include) > 0 || len(df.exclude) > 0
}

// matchAny reports whether any pattern in patterns matches domain. An empty
// pattern list returns emptyResult (true for include lists - "no include
// list means everything is included" - false for exclude lists).
func matchAny(patterns []string, domain string, emptyResult bool) bool {
	if len(patterns) == 0 {
		return emptyResult
	}
	name := NormalizeDNSName(domain)
	for _, pattern := range patterns {
		if matchOne(pattern, name) {
			return true
		}
	}
	return false
}

// matchOne matches a single pattern against a normalized domain name.
// "*.example.com" matches any subdomain of example.com at depth >= 1, but
// not example.com itself. A bare "example.com" matches itself and any of
// its subdomains.
func matchOne(pattern, name string) bool {
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		return strings.HasSuffix(name, suffix) && name != suffix[1:]
	}
	if name == pattern {
		return true
	}
	return strings.HasSuffix(name, "."+pattern)
}
