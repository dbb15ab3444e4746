package s3obj

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/mvailati/fusegate/pkg/backend"
)

func TestIsInvalidRange(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "InvalidRange", Message: "requested range not satisfiable"}
	assert.True(t, isInvalidRange(apiErr))
	assert.True(t, isInvalidRange(fmt.Errorf("operation error S3: GetObject: %w", apiErr)))

	assert.False(t, isInvalidRange(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.False(t, isInvalidRange(errors.New("mentions InvalidRange only in text")))
}

func TestMapErr(t *testing.T) {
	err := mapErr(fmt.Errorf("wrapped: %w", &types.NoSuchKey{}), "/missing")
	assert.True(t, backend.IsCode(err, backend.ErrNotFound))

	err = mapErr(fmt.Errorf("wrapped: %w", &types.NotFound{}), "/missing")
	assert.True(t, backend.IsCode(err, backend.ErrNotFound))

	err = mapErr(errors.New("connection reset"), "/f")
	assert.True(t, backend.IsCode(err, backend.ErrIOError))
}
