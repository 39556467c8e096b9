package types

// Conditions is the structured predicate attached to a policy. Branches are
// optional and combined by implicit AND; an absent branch is vacuously
// satisfied.
type Conditions struct {
	User        *UserConditions        `json:"user,omitempty" yaml:"user,omitempty"`
	Resource    *ResourceConditions    `json:"resource,omitempty" yaml:"resource,omitempty"`
	Environment *EnvironmentConditions `json:"environment,omitempty" yaml:"environment,omitempty"`
	Custom      map[string]interface{} `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// UserConditions constrains the requesting user
type UserConditions struct {
	// Attributes lists key/value pairs that must all equal the user's
	// attributes; a missing attribute fails the condition.
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	// Groups lists groups the user must be a member of (superset check).
	Groups []string `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// ResourceConditions constrains the target resource
type ResourceConditions struct {
	Type       string                 `json:"type,omitempty" yaml:"type,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// TimeWindow is a time-of-day window in HH:mm 24h form. The window is
// half-open [Start, End); when End < Start it wraps past midnight.
type TimeWindow struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// EnvironmentConditions constrains the ambient request environment
type EnvironmentConditions struct {
	Time *TimeWindow `json:"time,omitempty" yaml:"time,omitempty"`
	// IPWhitelist, when non-empty, requires the request IP to match one
	// entry. IPBlacklist rejects unconditionally on match, whitelist or not.
	IPWhitelist []string `json:"ipWhitelist,omitempty" yaml:"ipWhitelist,omitempty"`
	IPBlacklist []string `json:"ipBlacklist,omitempty" yaml:"ipBlacklist,omitempty"`
	Locations   []string `json:"locations,omitempty" yaml:"locations,omitempty"`
}

// IsEmpty reports whether no branch constrains anything
func (c *Conditions) IsEmpty() bool {
	if c == nil {
		return true
	}
	return c.User == nil && c.Resource == nil && c.Environment == nil && len(c.Custom) == 0
}

// Clone returns a deep copy of the condition tree
func (c *Conditions) Clone() *Conditions {
	if c == nil {
		return nil
	}
	cp := &Conditions{}
	if c.User != nil {
		cp.User = &UserConditions{
			Attributes: cloneMap(c.User.Attributes),
			Groups:     append([]string(nil), c.User.Groups...),
		}
	}
	if c.Resource != nil {
		cp.Resource = &ResourceConditions{
			Type:       c.Resource.Type,
			Attributes: cloneMap(c.Resource.Attributes),
		}
	}
	if c.Environment != nil {
		env := &EnvironmentConditions{
			IPWhitelist: append([]string(nil), c.Environment.IPWhitelist...),
			IPBlacklist: append([]string(nil), c.Environment.IPBlacklist...),
			Locations:   append([]string(nil), c.Environment.Locations...),
		}
		if c.Environment.Time != nil {
			tw := *c.Environment.Time
			env.Time = &tw
		}
		cp.Environment = env
	}
	cp.Custom = cloneMap(c.Custom)
	return cp
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
