package mainconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/dental-clinic-platform/internal/config"
)

func TestLoadAWSConfigStaticCredentials(t *testing.T) {
	cfg := &appconfig.Config{AWSRegion: "ap-south-1", AWSAccessKeyID: "AKID", AWSSecretAccessKey: "secret"}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "ap-south-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Nil(t, awsCfg.EndpointResolverWithOptions)
}

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "ap-south-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localstack:4566",
	}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, awsCfg.EndpointResolverWithOptions)

	for _, svc := range []string{s3.ServiceID, sesv2.ServiceID} {
		ep, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(svc, "ap-south-1")
		require.NoError(t, err)
		assert.Equal(t, "http://localstack:4566", ep.URL)
	}

	_, err = awsCfg.EndpointResolverWithOptions.ResolveEndpoint("DynamoDB", "ap-south-1")
	var notFound *aws.EndpointNotFoundError
	assert.True(t, errors.As(err, &notFound))
}
