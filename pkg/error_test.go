package pkg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusSuccess, "success"},
		{StatusPending, "pending"},
		{StatusCancelled, "cancelled"},
		{StatusError, "error"},
		{StatusHostError, "hosterror"},
		{Status(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestStatus_Err(t *testing.T) {
	tests := []struct {
		status  Status
		wantErr error
	}{
		{StatusSuccess, nil},
		{StatusPending, nil},
		{StatusCancelled, ErrCancelled},
		{StatusError, ErrProtocol},
		{StatusHostError, ErrHostFault},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			err := tt.status.Err()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "Status.Err() = %v, want %v", err, tt.wantErr)
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	for _, s := range []Status{StatusSuccess, StatusCancelled, StatusError, StatusHostError} {
		assert.True(t, s.Terminal(), s.String())
	}
}

func TestSchedulingErrors_Distinct(t *testing.T) {
	errs := []error{
		ErrInvalidTopology,
		ErrDuplicateEndpoint,
		ErrResourceExhausted,
		ErrUnsupportedController,
		ErrResourceUnavailable,
	}
	for i, a := range errs {
		for j, b := range errs {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v unexpectedly matches %v", a, b)
			}
		}
	}
}
