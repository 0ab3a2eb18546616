package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/uuid"

	"github.com/cruciblehq/forge/internal/errutil"
)

const (
	// How long to wait for a launched instance to reach the running
	// state before giving up on it.
	instanceWaitTimeout = 5 * time.Minute

	// The ssh daemon comes up some time after the instance does; dial
	// attempts are spaced out until it answers.
	sshRetryInterval = 10 * time.Second
	sshRetryAttempts = 30
)

// Builds on a freshly launched EC2 instance. The instance exists only
// for the duration of the build and is terminated at Teardown whether
// the build succeeded or not.
type cloudEngine struct {
	sshEngine

	client     *ec2.Client
	instanceID string
	terminated bool
}

func newCloud(opts Options) (Engine, error) {
	if !opts.Platform.HasCloudImage() {
		return nil, errutil.Wrapf(ErrProvisioning, "platform %q has no cloud image", opts.Platform.Name)
	}
	return &cloudEngine{
		sshEngine: sshEngine{kind: KindCloud, platform: opts.Platform},
	}, nil
}

func (e *cloudEngine) Startup(ctx context.Context, localWorkdir string) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return errutil.Wrap(ErrProvisioning, err)
	}
	e.client = ec2.NewFromConfig(cfg)

	host, err := e.launch(ctx)
	if err != nil {
		return err
	}

	if err := e.dialWithRetry(ctx, host, localWorkdir); err != nil {
		e.terminate(ctx)
		return err
	}
	return nil
}

// Launches an instance from the platform's cloud image and waits for it
// to come up. Returns the address to ssh to.
func (e *cloudEngine) launch(ctx context.Context) (string, error) {
	image := e.platform.CloudImage

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(image.AMI),
		InstanceType: ec2types.InstanceType(image.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags: []ec2types.Tag{{
				Key:   aws.String("Name"),
				Value: aws.String("forge-" + uuid.NewString()),
			}},
		}},
	}
	if image.SubnetID != "" {
		input.SubnetId = aws.String(image.SubnetID)
	}
	if image.KeyName != "" {
		input.KeyName = aws.String(image.KeyName)
	}

	out, err := e.client.RunInstances(ctx, input)
	if err != nil {
		return "", errutil.Wrapf(ErrProvisioning, "launching instance from %s: %w", image.AMI, err)
	}
	if len(out.Instances) == 0 {
		return "", errutil.Wrapf(ErrProvisioning, "no instance launched from %s", image.AMI)
	}
	e.instanceID = aws.ToString(out.Instances[0].InstanceId)
	slog.Info("launched instance", "instance", e.instanceID, "ami", image.AMI)

	waiter := ec2.NewInstanceRunningWaiter(e.client)
	describe := &ec2.DescribeInstancesInput{InstanceIds: []string{e.instanceID}}
	if err := waiter.Wait(ctx, describe, instanceWaitTimeout); err != nil {
		e.terminate(ctx)
		return "", errutil.Wrapf(ErrProvisioning, "instance %s never reached running: %w", e.instanceID, err)
	}

	desc, err := e.client.DescribeInstances(ctx, describe)
	if err != nil {
		e.terminate(ctx)
		return "", errutil.Wrap(ErrProvisioning, err)
	}
	host := instanceAddress(desc)
	if host == "" {
		e.terminate(ctx)
		return "", errutil.Wrapf(ErrProvisioning, "instance %s has no reachable address", e.instanceID)
	}
	return host, nil
}

// Dials the instance's ssh daemon, retrying while it boots.
func (e *cloudEngine) dialWithRetry(ctx context.Context, host, localWorkdir string) error {
	var err error
	for i := 0; i < sshRetryAttempts; i++ {
		if err = e.connect(ctx, host, localWorkdir); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sshRetryInterval):
		}
	}
	return errutil.Wrapf(ErrProvisioning, "ssh to %s: %w", host, err)
}

func (e *cloudEngine) Teardown(ctx context.Context) error {
	e.disconnect()
	return e.terminate(ctx)
}

func (e *cloudEngine) terminate(ctx context.Context) error {
	if e.terminated || e.instanceID == "" {
		return nil
	}
	_, err := e.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{e.instanceID},
	})
	if err != nil {
		return fmt.Errorf("terminating %s: %w", e.instanceID, err)
	}
	e.terminated = true
	slog.Info("terminated instance", "instance", e.instanceID)
	return nil
}

// Picks the best address for a freshly launched instance: public DNS if
// the subnet assigns one, otherwise the private IP.
func instanceAddress(out *ec2.DescribeInstancesOutput) string {
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			if dns := aws.ToString(inst.PublicDnsName); dns != "" {
				return dns
			}
			if ip := aws.ToString(inst.PrivateIpAddress); ip != "" {
				return ip
			}
		}
	}
	return ""
}
