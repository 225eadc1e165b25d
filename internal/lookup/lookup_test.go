package lookup

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/go-cmp/cmp"

	"github.com/example/pipectl/internal/pipeline"
)

type fakeEC2 struct {
	mu          sync.Mutex
	imageCalls  int
	images      []ec2types.Image
	subnetPages [][]ec2types.Subnet
	err         error
}

func (f *fakeEC2) DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, _ ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	f.mu.Lock()
	f.imageCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.DescribeImagesOutput{Images: f.images}, nil
}

func (f *fakeEC2) DescribeSubnets(ctx context.Context, in *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	page := 0
	if in.NextToken != nil {
		page = 1
	}
	out := &ec2.DescribeSubnetsOutput{Subnets: f.subnetPages[page]}
	if page+1 < len(f.subnetPages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func subnet(id, env string) ec2types.Subnet {
	return ec2types.Subnet{
		SubnetId: aws.String(id),
		Tags:     []ec2types.Tag{{Key: aws.String("environment"), Value: aws.String(env)}},
	}
}

func TestEC2_ImageIDPicksNewestAndCaches(t *testing.T) {
	fake := &fakeEC2{images: []ec2types.Image{
		{ImageId: aws.String("ami-old"), CreationDate: aws.String("2024-01-01T00:00:00.000Z")},
		{ImageId: aws.String("ami-new"), CreationDate: aws.String("2025-06-01T00:00:00.000Z")},
		{CreationDate: aws.String("2026-01-01T00:00:00.000Z")},
	}}
	r, err := NewEC2(context.Background(), EC2Options{ClientFor: func(string) EC2API { return fake }})
	if err != nil {
		t.Fatalf("NewEC2: %v", err)
	}
	for i := 0; i < 2; i++ {
		id, err := r.ImageID(context.Background(), "tomcat8", "us-east-1")
		if err != nil {
			t.Fatalf("ImageID: %v", err)
		}
		if id != "ami-new" {
			t.Fatalf("expected ami-new, got %s", id)
		}
	}
	if fake.imageCalls != 1 {
		t.Fatalf("expected one DescribeImages call, got %d", fake.imageCalls)
	}
}

func TestEC2_ImageIDNoMatch(t *testing.T) {
	r, _ := NewEC2(context.Background(), EC2Options{ClientFor: func(string) EC2API { return &fakeEC2{} }})
	if _, err := r.ImageID(context.Background(), "tomcat8", "us-east-1"); err == nil {
		t.Fatalf("expected error when no image matches")
	}
}

func TestEC2_SubnetsGroupsByEnvironmentAcrossPages(t *testing.T) {
	east := &fakeEC2{subnetPages: [][]ec2types.Subnet{
		{subnet("subnet-2", "dev"), subnet("subnet-1", "dev")},
		{subnet("subnet-3", "prod"), {SubnetId: aws.String("subnet-untagged")}},
	}}
	west := &fakeEC2{subnetPages: [][]ec2types.Subnet{{subnet("subnet-9", "prod")}}}
	r, _ := NewEC2(context.Background(), EC2Options{ClientFor: func(region string) EC2API {
		if region == "us-west-2" {
			return west
		}
		return east
	}})
	got, err := r.Subnets(context.Background(), []string{"us-east-1", "us-west-2"})
	if err != nil {
		t.Fatalf("Subnets: %v", err)
	}
	want := pipeline.SubnetIndex{
		"dev":  {"us-east-1": {"subnet-1", "subnet-2"}},
		"prod": {"us-east-1": {"subnet-3"}, "us-west-2": {"subnet-9"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("index mismatch (-want +got):\n%s", diff)
	}
}

func TestEC2_SubnetsPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	r, _ := NewEC2(context.Background(), EC2Options{ClientFor: func(string) EC2API { return &fakeEC2{err: boom} }})
	if _, err := r.Subnets(context.Background(), []string{"us-east-1"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	s := Static{
		Images: map[string]map[string]string{"tomcat8": {"us-east-1": "ami-1"}},
		Index:  pipeline.SubnetIndex{"dev": {"us-east-1": {"b", "a"}, "us-west-2": {"c"}}},
	}
	if id, err := s.ImageID(context.Background(), "tomcat8", "us-east-1"); err != nil || id != "ami-1" {
		t.Fatalf("ImageID=%q err=%v", id, err)
	}
	if _, err := s.ImageID(context.Background(), "tomcat8", "us-west-2"); err == nil {
		t.Fatalf("expected missing region error")
	}
	got, err := s.Subnets(context.Background(), []string{"us-east-1"})
	if err != nil {
		t.Fatalf("Subnets: %v", err)
	}
	if diff := cmp.Diff(pipeline.SubnetIndex{"dev": {"us-east-1": {"a", "b"}}}, got); diff != "" {
		t.Fatalf("static index mismatch (-want +got):\n%s", diff)
	}
}
