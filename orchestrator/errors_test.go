package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
)

func TestClassifyExecuteError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "schedule to start timeout points at queue configuration",
			err:  temporal.NewTimeoutError(enums.TIMEOUT_TYPE_SCHEDULE_TO_START, nil),
			want: "no runner worker polled queue",
		},
		{
			name: "start to close timeout",
			err:  temporal.NewTimeoutError(enums.TIMEOUT_TYPE_START_TO_CLOSE, nil),
			want: "exceeded execution deadline",
		},
		{
			name: "heartbeat timeout",
			err:  temporal.NewTimeoutError(enums.TIMEOUT_TYPE_HEARTBEAT, nil),
			want: "stopped heartbeating",
		},
		{
			name: "application error keeps original message",
			err:  temporal.NewApplicationError("agent crashed", "ExecutionFailed"),
			want: "agent crashed",
		},
		{
			name: "plain error keeps original message",
			err:  errors.New("boom"),
			want: "boom",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := classifyExecuteError(tc.err, "d.runner")
			require.Error(t, classified)
			assert.Contains(t, classified.Error(), tc.want)
			assert.ErrorIs(t, classified, tc.err)
		})
	}
}
