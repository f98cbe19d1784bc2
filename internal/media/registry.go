package media

import "sort"

// priority fixes the detection order when a message carries links from several networks.
var priority = map[Platform]int{
	PlatformInstagram: 0,
	PlatformTwitter:   1,
	PlatformTikTok:    2,
}

func rank(p Platform) int {
	if r, ok := priority[p]; ok {
		return r
	}
	return len(priority)
}

// Registry selects a Resolver by URL pattern.
type Registry struct {
	resolvers []Resolver
}

// NewRegistry orders resolvers by platform priority. Nil resolvers are skipped.
func NewRegistry(resolvers ...Resolver) *Registry {
	kept := make([]Resolver, 0, len(resolvers))
	for _, r := range resolvers {
		if r != nil {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return rank(kept[i].Platform()) < rank(kept[j].Platform())
	})
	return &Registry{resolvers: kept}
}

// Detect tests each platform's pattern in priority order and returns the first match.
func (r *Registry) Detect(text string) (Resolver, string, bool) {
	for _, resolver := range r.resolvers {
		if match, ok := resolver.Detect(text); ok {
			return resolver, match, true
		}
	}
	return nil, "", false
}

// Resolver returns the resolver registered for platform.
func (r *Registry) Resolver(platform Platform) (Resolver, bool) {
	for _, resolver := range r.resolvers {
		if resolver.Platform() == platform {
			return resolver, true
		}
	}
	return nil, false
}

// Platforms lists registered platforms in priority order.
func (r *Registry) Platforms() []Platform {
	out := make([]Platform, 0, len(r.resolvers))
	for _, resolver := range r.resolvers {
		out = append(out, resolver.Platform())
	}
	return out
}
