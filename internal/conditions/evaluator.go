// Package conditions evaluates policy condition trees against a runtime
// evaluation context. Evaluation is pure: no side effects, no clock reads,
// deterministic for identical inputs.
package conditions

import (
	"net"
	"reflect"
	"time"

	"github.com/pbac-engine/go-core/pkg/types"
)

// Clause is one evaluable constraint from a condition tree
type Clause interface {
	Evaluate(ctx *types.EvaluationContext) bool
}

// Compile flattens a condition tree into its clause list. An empty tree
// compiles to no clauses and is vacuously satisfied.
func Compile(c *types.Conditions) []Clause {
	if c.IsEmpty() {
		return nil
	}

	var clauses []Clause
	if c.User != nil {
		if len(c.User.Attributes) > 0 {
			clauses = append(clauses, UserAttributeClause{Attributes: c.User.Attributes})
		}
		if len(c.User.Groups) > 0 {
			clauses = append(clauses, GroupClause{Groups: c.User.Groups})
		}
	}
	if c.Resource != nil {
		if c.Resource.Type != "" {
			clauses = append(clauses, ResourceTypeClause{Type: c.Resource.Type})
		}
		if len(c.Resource.Attributes) > 0 {
			clauses = append(clauses, ResourceAttributeClause{Attributes: c.Resource.Attributes})
		}
	}
	if c.Environment != nil {
		if c.Environment.Time != nil {
			clauses = append(clauses, TimeRangeClause{Window: *c.Environment.Time})
		}
		if len(c.Environment.IPWhitelist) > 0 || len(c.Environment.IPBlacklist) > 0 {
			clauses = append(clauses, IPRuleClause{
				Whitelist: c.Environment.IPWhitelist,
				Blacklist: c.Environment.IPBlacklist,
			})
		}
		if len(c.Environment.Locations) > 0 {
			clauses = append(clauses, LocationClause{Locations: c.Environment.Locations})
		}
	}
	if len(c.Custom) > 0 {
		clauses = append(clauses, CustomClause{Values: c.Custom})
	}
	return clauses
}

// Evaluate reports whether every clause of the condition tree holds for the
// given context. Extra context fields a tree does not mention are ignored.
func Evaluate(c *types.Conditions, ctx *types.EvaluationContext) bool {
	for _, clause := range Compile(c) {
		if !clause.Evaluate(ctx) {
			return false
		}
	}
	return true
}

// UserAttributeClause requires every listed key to equal the corresponding
// user attribute; a missing attribute fails.
type UserAttributeClause struct {
	Attributes map[string]interface{}
}

func (c UserAttributeClause) Evaluate(ctx *types.EvaluationContext) bool {
	return attributesMatch(c.Attributes, ctx.User.Attributes)
}

// GroupClause requires the user's groups to be a superset of the listed set
type GroupClause struct {
	Groups []string
}

func (c GroupClause) Evaluate(ctx *types.EvaluationContext) bool {
	have := make(map[string]struct{}, len(ctx.User.Groups))
	for _, g := range ctx.User.Groups {
		have[g] = struct{}{}
	}
	for _, g := range c.Groups {
		if _, ok := have[g]; !ok {
			return false
		}
	}
	return true
}

// ResourceTypeClause requires an exact resource type match
type ResourceTypeClause struct {
	Type string
}

func (c ResourceTypeClause) Evaluate(ctx *types.EvaluationContext) bool {
	return ctx.Resource.Type == c.Type
}

// ResourceAttributeClause mirrors UserAttributeClause for the resource
type ResourceAttributeClause struct {
	Attributes map[string]interface{}
}

func (c ResourceAttributeClause) Evaluate(ctx *types.EvaluationContext) bool {
	return attributesMatch(c.Attributes, ctx.Resource.Attributes)
}

// TimeRangeClause restricts the time-of-day component of the environment
// timestamp to a half-open [start, end) window, wrapping past midnight when
// end < start.
type TimeRangeClause struct {
	Window types.TimeWindow
}

func (c TimeRangeClause) Evaluate(ctx *types.EvaluationContext) bool {
	start, err := parseClock(c.Window.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(c.Window.End)
	if err != nil {
		return false
	}

	ts := ctx.Environment.Timestamp
	now := ts.Hour()*60 + ts.Minute()

	if start == end {
		// Zero-width window admits nothing.
		return false
	}
	if start < end {
		return now >= start && now < end
	}
	// Wraps past midnight, e.g. 22:00-06:00.
	return now >= start || now < end
}

// parseClock parses an HH:mm value into minutes past midnight
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IPRuleClause enforces blacklist-over-whitelist IP filtering. A blacklist
// match fails unconditionally; a non-empty whitelist with no match fails.
// Entries are literal IPs or CIDR blocks.
type IPRuleClause struct {
	Whitelist []string
	Blacklist []string
}

func (c IPRuleClause) Evaluate(ctx *types.EvaluationContext) bool {
	ip := ctx.Environment.IPAddress
	for _, entry := range c.Blacklist {
		if ipEntryMatches(entry, ip) {
			return false
		}
	}
	if len(c.Whitelist) == 0 {
		return true
	}
	for _, entry := range c.Whitelist {
		if ipEntryMatches(entry, ip) {
			return true
		}
	}
	return false
}

func ipEntryMatches(entry, ip string) bool {
	if entry == ip {
		return true
	}
	_, network, err := net.ParseCIDR(entry)
	if err != nil {
		return false
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && network.Contains(parsed)
}

// LocationClause requires the environment location to be a member of the
// listed set
type LocationClause struct {
	Locations []string
}

func (c LocationClause) Evaluate(ctx *types.EvaluationContext) bool {
	for _, loc := range c.Locations {
		if ctx.Environment.Location == loc {
			return true
		}
	}
	return false
}

// CustomClause is opaque key/value equality against the custom context bag
type CustomClause struct {
	Values map[string]interface{}
}

func (c CustomClause) Evaluate(ctx *types.EvaluationContext) bool {
	return attributesMatch(c.Values, ctx.Custom)
}

func attributesMatch(want, have map[string]interface{}) bool {
	for k, v := range want {
		actual, ok := have[k]
		if !ok {
			return false
		}
		if !valueEqual(v, actual) {
			return false
		}
	}
	return true
}

// valueEqual compares attribute values. Numeric values are compared by
// magnitude so a condition authored as 42 matches a context value decoded
// from JSON as float64(42).
func valueEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
