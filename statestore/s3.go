package statestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/goccy/go-json"

	"github.com/datazip-inc/olake-github/constants"
	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils/logger"
)

// S3 keeps the state as a single object; every save is one PutObject
type S3 struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	key      string
}

func NewS3(cfg *S3Config) (*S3, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 state store requires a bucket")
	}

	awsCfg := aws.Config{}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	} else if cfg.Endpoint == "" {
		logger.Warn("S3 region not provided for state store, relying on the default AWS resolution")
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	if cfg.Endpoint != "" {
		logger.Infof("using custom S3 endpoint for state store: %s", cfg.Endpoint)
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(cfg.PathStyle)
		if strings.HasPrefix(cfg.Endpoint, "http://") {
			awsCfg.DisableSSL = aws.Bool(true)
		}
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            awsCfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session for state store: %s", err)
	}

	client := s3.New(sess)
	key := strings.Trim(cfg.Key, "/")
	if key == "" {
		key = constants.StateFileName
	}

	return &S3{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   cfg.Bucket,
		key:      key,
	}, nil
}

func (s *S3) Type() string {
	return S3Store
}

func (s *S3) Load(ctx context.Context) (*types.State, error) {
	output, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var awsErr awserr.Error
		if errors.As(err, &awsErr) && (awsErr.Code() == s3.ErrCodeNoSuchKey || awsErr.Code() == "NotFound") {
			return types.NewState(), nil
		}
		return nil, fmt.Errorf("failed to read state s3://%s/%s: %s", s.bucket, s.key, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state s3://%s/%s: %s", s.bucket, s.key, err)
	}

	state := types.NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state s3://%s/%s: %s", s.bucket, s.key, err)
	}
	return state, nil
}

func (s *S3) Save(ctx context.Context, state *types.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %s", err)
	}

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload state to s3://%s/%s: %s", s.bucket, s.key, err)
	}
	return nil
}

func (s *S3) Close() error {
	return nil
}
