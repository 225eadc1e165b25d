package lookup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/go-logr/logr"

	"github.com/example/pipectl/internal/pipeline"
)

// EC2API is the part of the EC2 client the resolvers use.
type EC2API interface {
	DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	DescribeSubnets(ctx context.Context, in *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
}

// EC2Options configure the EC2-backed resolver.
type EC2Options struct {
	// EnvironmentTag is the subnet tag whose value names the environment.
	EnvironmentTag string
	// Owners restricts image lookup; defaults to "self".
	Owners []string
	Logger logr.Logger
	// ClientFor overrides client construction, mostly for tests.
	ClientFor func(region string) EC2API
}

// EC2 resolves images and subnets with the EC2 API, one client per region.
// Image ids are cached per base and region for the life of the resolver.
type EC2 struct {
	envTag    string
	owners    []string
	log       logr.Logger
	clientFor func(region string) EC2API

	mu     sync.Mutex
	images map[string]string
}

// NewEC2 loads the default AWS configuration chain unless opts.ClientFor is set.
func NewEC2(ctx context.Context, opts EC2Options) (*EC2, error) {
	clientFor := opts.ClientFor
	if clientFor == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		clientFor = func(region string) EC2API {
			return ec2.NewFromConfig(cfg, func(o *ec2.Options) { o.Region = region })
		}
	}
	envTag := strings.TrimSpace(opts.EnvironmentTag)
	if envTag == "" {
		envTag = "environment"
	}
	owners := opts.Owners
	if len(owners) == 0 {
		owners = []string{"self"}
	}
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &EC2{
		envTag:    envTag,
		owners:    owners,
		log:       log.WithName("lookup"),
		clientFor: clientFor,
		images:    map[string]string{},
	}, nil
}

// ImageID returns the newest available image whose name starts with base.
func (e *EC2) ImageID(ctx context.Context, base, region string) (string, error) {
	key := region + "/" + base
	e.mu.Lock()
	cached, ok := e.images[key]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}
	out, err := e.clientFor(region).DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: e.owners,
		Filters: []ec2types.Filter{
			{Name: aws.String("name"), Values: []string{base + "*"}},
			{Name: aws.String("state"), Values: []string{"available"}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("describe images for %s in %s: %w", base, region, err)
	}
	var newest *ec2types.Image
	for i := range out.Images {
		img := &out.Images[i]
		if img.ImageId == nil {
			continue
		}
		if newest == nil || aws.ToString(img.CreationDate) > aws.ToString(newest.CreationDate) {
			newest = img
		}
	}
	if newest == nil {
		return "", fmt.Errorf("no available image named %s* in %s", base, region)
	}
	id := aws.ToString(newest.ImageId)
	e.log.V(1).Info("resolved image", "base", base, "region", region, "image", id, "name", aws.ToString(newest.Name))
	e.mu.Lock()
	e.images[key] = id
	e.mu.Unlock()
	return id, nil
}

// Subnets groups every subnet carrying the environment tag by tag value and region.
func (e *EC2) Subnets(ctx context.Context, regions []string) (pipeline.SubnetIndex, error) {
	idx := pipeline.SubnetIndex{}
	for _, region := range regions {
		pager := ec2.NewDescribeSubnetsPaginator(e.clientFor(region), &ec2.DescribeSubnetsInput{
			Filters: []ec2types.Filter{{Name: aws.String("tag-key"), Values: []string{e.envTag}}},
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("describe subnets in %s: %w", region, err)
			}
			for _, subnet := range page.Subnets {
				env := tagValue(subnet.Tags, e.envTag)
				if env == "" || subnet.SubnetId == nil {
					continue
				}
				if idx[env] == nil {
					idx[env] = map[string][]string{}
				}
				idx[env][region] = append(idx[env][region], aws.ToString(subnet.SubnetId))
			}
		}
	}
	for _, byRegion := range idx {
		for region := range byRegion {
			sort.Strings(byRegion[region])
		}
	}
	return idx, nil
}

func tagValue(tags []ec2types.Tag, key string) string {
	for _, t := range tags {
		if aws.ToString(t.Key) == key {
			return strings.TrimSpace(aws.ToString(t.Value))
		}
	}
	return ""
}
