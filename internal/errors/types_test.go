package errors

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWithoutCauseIsStillAnError(t *testing.T) {
	err := Parse("verdict rejected", nil)
	require.Error(t, err)
	assert.Equal(t, KindParse, KindOf(err))
	assert.Equal(t, "verdict rejected", err.Error())

	err = Parse("bad json", fmt.Errorf("unexpected token"))
	require.Error(t, err)
	assert.Equal(t, KindParse, KindOf(err))
	assert.Contains(t, err.Error(), "unexpected token")
}

func TestWrapNilCauseIsNil(t *testing.T) {
	assert.NoError(t, Wrap(KindUpstream, "nothing happened", nil))
	assert.NoError(t, Upstream("nothing happened", nil))
}

func TestKindOfRecognisesUnwrappedErrors(t *testing.T) {
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindCancelled, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindUpstream, KindOf(&net.OpError{Op: "dial", Err: fmt.Errorf("refused")}))
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("plain failure")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Upstream("backend down", fmt.Errorf("refused"))))
	assert.False(t, IsRetryable(Parse("bad verdict", nil)))
	assert.False(t, IsRetryable(Exhausted("cap reached")))
}
