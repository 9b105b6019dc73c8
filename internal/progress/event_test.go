package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validEvent(stage Stage) Event {
	evt := Event{
		RunID: NewRunID(),
		TS:    time.Now().UTC(),
		Stage: stage,
	}
	switch stage {
	case StageJobStart, StageJobDone, StageJobError:
		evt.Job = "feed-a"
	case StageFetchAttempt:
		evt.Site = "example.com"
		evt.StatusClass = Status2xx
	case StageRateWait:
		evt.Site = "example.com"
	}
	return evt
}

func TestValidate(t *testing.T) {
	t.Parallel()

	for _, stage := range []Stage{StageJobStart, StageJobDone, StageJobError, StageFetchAttempt, StageRateWait} {
		require.NoError(t, validEvent(stage).Validate(), string(stage))
	}

	evt := validEvent(StageJobStart)
	evt.RunID = [16]byte{}
	require.Error(t, evt.Validate())

	evt = validEvent(StageJobStart)
	evt.TS = time.Time{}
	require.Error(t, evt.Validate())

	evt = validEvent(StageJobDone)
	evt.Job = ""
	require.Error(t, evt.Validate())

	evt = validEvent(StageFetchAttempt)
	evt.Site = ""
	require.Error(t, evt.Validate())

	evt = validEvent(StageFetchAttempt)
	evt.StatusClass = ""
	require.Error(t, evt.Validate())

	evt = validEvent(StageRateWait)
	evt.Dur = -time.Second
	require.Error(t, evt.Validate())

	evt = validEvent(StageJobStart)
	evt.Stage = "SOMETHING_ELSE"
	require.Error(t, evt.Validate())
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusNone, ClassifyStatus(0))
	require.Equal(t, Status2xx, ClassifyStatus(200))
	require.Equal(t, Status2xx, ClassifyStatus(204))
	require.Equal(t, Status3xx, ClassifyStatus(302))
	require.Equal(t, Status4xx, ClassifyStatus(429))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(700))
}

func TestRunIDs(t *testing.T) {
	t.Parallel()

	a := NewRunID()
	b := NewRunID()
	require.NotEqual(t, a, b)
	require.Equal(t, a, [16]byte(Event{RunID: a}.RunUUID()))
}
