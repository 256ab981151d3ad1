package pd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	corev1 "k8s.io/api/core/v1"
)

// driveNameTag is the EBS tag carrying the KuberDock drive name.
const driveNameTag = "kuberdock-drive-name"

// ebsCreateTimeout bounds the wait for a new volume to become available.
const ebsCreateTimeout = 5 * time.Minute

// EC2API is the slice of the EC2 client the backend uses.
type EC2API interface {
	CreateVolume(ctx context.Context, params *ec2.CreateVolumeInput, optFns ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error)
	DeleteVolume(ctx context.Context, params *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
}

// EBSConfig describes where volumes are provisioned.
type EBSConfig struct {
	Region           string
	AvailabilityZone string
	FSType           string
}

// EBSBackend stores drives as EBS volumes. The drive reference is the volume
// id; the drive name travels as a tag so ListAll can reconcile.
type EBSBackend struct {
	cfg    EBSConfig
	client EC2API
	waiter func(ctx context.Context, volumeID string) error
}

// NewEBSBackend creates the backend with credentials from the SDK default
// chain.
func NewEBSBackend(ctx context.Context, cfg EBSConfig) (*EBSBackend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := ec2.NewFromConfig(awsCfg)
	return NewEBSBackendWithClient(cfg, client), nil
}

// NewEBSBackendWithClient wires an explicit client; tests pass a fake.
func NewEBSBackendWithClient(cfg EBSConfig, client EC2API) *EBSBackend {
	b := &EBSBackend{cfg: cfg, client: client}
	if real, ok := client.(*ec2.Client); ok {
		waiter := ec2.NewVolumeAvailableWaiter(real)
		b.waiter = func(ctx context.Context, volumeID string) error {
			return waiter.Wait(ctx, &ec2.DescribeVolumesInput{
				VolumeIds: []string{volumeID},
			}, ebsCreateTimeout)
		}
	}
	return b
}

func (b *EBSBackend) Name() string { return "aws" }

func (b *EBSBackend) NodeBound() bool { return false }

func (b *EBSBackend) CreatePhysical(ctx context.Context, driveName string, sizeGB int) (string, error) {
	out, err := b.client.CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String(b.cfg.AvailabilityZone),
		Size:             aws.Int32(int32(sizeGB)),
		VolumeType:       ec2types.VolumeTypeGp3,
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeVolume,
			Tags: []ec2types.Tag{
				{Key: aws.String(driveNameTag), Value: aws.String(driveName)},
				{Key: aws.String("Name"), Value: aws.String(driveName)},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("creating EBS volume %q: %w", driveName, err)
	}
	volumeID := aws.ToString(out.VolumeId)

	if b.waiter != nil {
		if err := b.waiter(ctx, volumeID); err != nil {
			// Best effort cleanup; the volume never reached the DB.
			_, _ = b.client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: out.VolumeId})
			return "", fmt.Errorf("waiting for EBS volume %q: %w", volumeID, err)
		}
	}
	return volumeID, nil
}

func (b *EBSBackend) DeletePhysical(ctx context.Context, d Disk) error {
	volumeID := d.BackendRef
	if volumeID == "" {
		id, err := b.findVolumeID(ctx, d.DriveName)
		if err != nil {
			return err
		}
		if id == "" {
			return nil
		}
		volumeID = id
	}

	_, err := b.client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(volumeID)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidVolume.NotFound" {
			return nil
		}
		return fmt.Errorf("deleting EBS volume %q: %w", volumeID, err)
	}
	return nil
}

func (b *EBSBackend) EnrichVolume(v *corev1.Volume, d Disk) {
	v.VolumeSource = corev1.VolumeSource{
		AWSElasticBlockStore: &corev1.AWSElasticBlockStoreVolumeSource{
			VolumeID: d.BackendRef,
			FSType:   b.cfg.FSType,
		},
	}
}

func (b *EBSBackend) ListAll(ctx context.Context) ([]string, error) {
	var names []string
	var nextToken *string
	for {
		out, err := b.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
			Filters: []ec2types.Filter{{
				Name:   aws.String("tag-key"),
				Values: []string{driveNameTag},
			}},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing EBS volumes: %w", err)
		}
		for _, vol := range out.Volumes {
			for _, tag := range vol.Tags {
				if aws.ToString(tag.Key) == driveNameTag {
					names = append(names, aws.ToString(tag.Value))
				}
			}
		}
		if out.NextToken == nil {
			return names, nil
		}
		nextToken = out.NextToken
	}
}

func (b *EBSBackend) findVolumeID(ctx context.Context, driveName string) (string, error) {
	out, err := b.client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("tag:" + driveNameTag),
			Values: []string{driveName},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("looking up EBS volume %q: %w", driveName, err)
	}
	if len(out.Volumes) == 0 {
		return "", nil
	}
	return aws.ToString(out.Volumes[0].VolumeId), nil
}
