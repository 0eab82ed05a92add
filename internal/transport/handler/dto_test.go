package handler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fielddispatch/gateway/internal/security"
	"github.com/fielddispatch/gateway/internal/transport/handler"
)

func TestCreateJobRequest_Validation(t *testing.T) {
	valid := handler.CreateJobRequest{
		TaskID:   "123e4567-e89b-12d3-a456-426614174000",
		Lat:      40.0,
		Lng:      -73.0,
		Country:  "US",
		Priority: "standard",
	}
	assert.NoError(t, security.ValidateStruct(valid))

	bad := valid
	bad.Lat = 200
	assert.Error(t, security.ValidateStruct(bad))

	bad = valid
	bad.Country = "USA"
	assert.Error(t, security.ValidateStruct(bad))

	bad = valid
	bad.Priority = "whenever"
	assert.Error(t, security.ValidateStruct(bad))

	bad = valid
	bad.TaskID = "not-a-uuid"
	assert.Error(t, security.ValidateStruct(bad))
}

func TestRateJobRequest_Validation(t *testing.T) {
	assert.NoError(t, security.ValidateStruct(handler.RateJobRequest{Stars: 3}))
	assert.Error(t, security.ValidateStruct(handler.RateJobRequest{Stars: 0}))
	assert.Error(t, security.ValidateStruct(handler.RateJobRequest{Stars: 6}))
}

func TestUploadCredentialRequest_Validation(t *testing.T) {
	valid := handler.UploadCredentialRequest{Type: "license", FileRef: "s3://bucket/key"}
	assert.NoError(t, security.ValidateStruct(valid))

	bad := valid
	bad.Type = "diploma"
	assert.Error(t, security.ValidateStruct(bad))

	bad = valid
	bad.FileRef = ""
	assert.Error(t, security.ValidateStruct(bad))
}

func TestReassignRequest_Validation(t *testing.T) {
	valid := handler.ReassignRequest{NewProviderID: "123e4567-e89b-12d3-a456-426614174000", Reason: "no-show"}
	assert.NoError(t, security.ValidateStruct(valid))

	bad := valid
	bad.NewProviderID = "nope"
	assert.Error(t, security.ValidateStruct(bad))

	bad = valid
	bad.Reason = ""
	assert.Error(t, security.ValidateStruct(bad))
}
