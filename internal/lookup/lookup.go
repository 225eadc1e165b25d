// Package lookup resolves the per-region context a fragment needs before it
// can be rendered: the machine image for the application's base and the
// subnets each environment owns in each region.
package lookup

import (
	"context"
	"fmt"
	"sort"

	"github.com/example/pipectl/internal/pipeline"
)

// ImageResolver finds the image id to bake from for base in region.
type ImageResolver interface {
	ImageID(ctx context.Context, base, region string) (string, error)
}

// SubnetResolver builds the environment/region subnet index.
type SubnetResolver interface {
	Subnets(ctx context.Context, regions []string) (pipeline.SubnetIndex, error)
}

// Static serves lookups from configuration, without calling AWS.
type Static struct {
	Images map[string]map[string]string
	Index  pipeline.SubnetIndex
}

func (s Static) ImageID(_ context.Context, base, region string) (string, error) {
	byRegion, ok := s.Images[base]
	if !ok {
		return "", fmt.Errorf("no image configured for base %q", base)
	}
	id, ok := byRegion[region]
	if !ok || id == "" {
		return "", fmt.Errorf("no image configured for base %q in %s", base, region)
	}
	return id, nil
}

func (s Static) Subnets(_ context.Context, regions []string) (pipeline.SubnetIndex, error) {
	keep := map[string]bool{}
	for _, r := range regions {
		keep[r] = true
	}
	out := pipeline.SubnetIndex{}
	for env, byRegion := range s.Index {
		for region, subnets := range byRegion {
			if len(keep) > 0 && !keep[region] {
				continue
			}
			if out[env] == nil {
				out[env] = map[string][]string{}
			}
			sorted := append([]string(nil), subnets...)
			sort.Strings(sorted)
			out[env][region] = sorted
		}
	}
	return out, nil
}
