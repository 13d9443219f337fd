// Package policy implements the L5 reviewer policy engine of spec §4.7: a
// restricted Cedar-like grammar that assigns mandatory reviewers to paths,
// aggregated hierarchically across the directories leading to a target path.
package policy

import (
	"regexp"
	"strings"
)

var (
	rulePattern     = regexp.MustCompile(`(?s)permit\s*\([^)]*\)\s*when\s*\{\s*resource\.path\.startsWith\s*\(\s*"([^"]*)"\s*\)\s*\}\s*to\s*\[([^\]]+)\]`)
	reviewerPattern = regexp.MustCompile(`"([^"]+)"`)
)

// ReviewerRule binds a path prefix to a set of mandatory reviewers.
type ReviewerRule struct {
	PathPattern string
	Reviewers   []string
}

// ParseReviewerRules extracts every `permit(...) when {...} to [...]` rule
// from a policy file's content. A rule with an empty reviewer list is
// dropped; an empty path_pattern is kept and matches every path.
func ParseReviewerRules(policyContent string) []ReviewerRule {
	var rules []ReviewerRule
	for _, m := range rulePattern.FindAllStringSubmatch(policyContent, -1) {
		pathPattern := m[1]
		reviewersStr := m[2]

		var reviewers []string
		for _, rm := range reviewerPattern.FindAllStringSubmatch(reviewersStr, -1) {
			reviewers = append(reviewers, rm[1])
		}

		if len(reviewers) > 0 {
			rules = append(rules, ReviewerRule{PathPattern: pathPattern, Reviewers: reviewers})
		}
	}
	return rules
}

// FindReviewersForPath returns the reviewers of every rule whose pattern is
// a prefix of filePath (or empty, matching everything), in rule order,
// deduplicated on first occurrence.
func FindReviewersForPath(rules []ReviewerRule, filePath string) []string {
	seen := make(map[string]bool)
	var reviewers []string

	normalizedPath := strings.TrimPrefix(filePath, "/")

	for _, rule := range rules {
		normalizedPattern := strings.TrimPrefix(rule.PathPattern, "/")
		if normalizedPattern == "" || strings.HasPrefix(normalizedPath, normalizedPattern) {
			for _, r := range rule.Reviewers {
				if !seen[r] {
					seen[r] = true
					reviewers = append(reviewers, r)
				}
			}
		}
	}
	return reviewers
}

// PolicyFile is one policy document on the root-to-leaf path to a target,
// keyed by its location for traceability only (the key plays no role in
// override resolution; path_pattern does).
type PolicyFile struct {
	Location string
	Content  string
}

// AggregateReviewers combines reviewer rules from a list of policy files
// ordered root to leaf. For a given path_pattern, a later (more specific
// directory) file's rule replaces an earlier one's; rules with distinct
// path_patterns accumulate. Only rules whose pattern matches targetPath
// contribute.
func AggregateReviewers(policyFiles []PolicyFile, targetPath string) []string {
	patternReviewers := make(map[string][]string)
	var patternOrder []string

	normalizedTarget := strings.TrimPrefix(targetPath, "/")

	for _, pf := range policyFiles {
		for _, rule := range ParseReviewerRules(pf.Content) {
			normalizedPattern := strings.TrimPrefix(rule.PathPattern, "/")
			matches := normalizedPattern == "" || strings.HasPrefix(normalizedTarget, normalizedPattern)
			if !matches {
				continue
			}
			if _, exists := patternReviewers[rule.PathPattern]; !exists {
				patternOrder = append(patternOrder, rule.PathPattern)
			}
			patternReviewers[rule.PathPattern] = rule.Reviewers
		}
	}

	seen := make(map[string]bool)
	var all []string
	for _, pattern := range patternOrder {
		for _, r := range patternReviewers[pattern] {
			if !seen[r] {
				seen[r] = true
				all = append(all, r)
			}
		}
	}
	return all
}
