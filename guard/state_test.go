package guard_test

import (
	"errors"
	"testing"

	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/jrsteele09/cognito-guard/guard"
	"github.com/stretchr/testify/require"
)

func TestState_CanTransition(t *testing.T) {
	all := []guard.State{guard.Unauthenticated, guard.Validating, guard.Authenticated, guard.Failed}
	allowed := map[[2]guard.State]bool{
		{guard.Unauthenticated, guard.Validating}: true,
		{guard.Validating, guard.Authenticated}:   true,
		{guard.Validating, guard.Failed}:          true,
	}
	for _, from := range all {
		for _, to := range all {
			require.Equal(t, allowed[[2]guard.State{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestAttempt_Success(t *testing.T) {
	a := guard.NewAttempt(guard.TokenStrategy)
	require.Equal(t, guard.Unauthenticated, a.State())

	require.NoError(t, a.Begin())
	require.NoError(t, a.Succeed(&auth.Principal{Subject: "user-1"}))

	require.True(t, a.Authenticated())
	require.Equal(t, auth.KindUnknown, a.Kind())
	require.Equal(t, guard.TokenStrategy, a.Strategy())
}

func TestAttempt_Failure(t *testing.T) {
	a := guard.NewAttempt(guard.SessionStrategy)
	require.NoError(t, a.Begin())
	require.NoError(t, a.Fail(auth.NewError(auth.Expired, "test", nil)))

	require.Equal(t, guard.Failed, a.State())
	require.Equal(t, auth.Expired, a.Kind())
	require.Nil(t, a.Principal())
}

func TestAttempt_IllegalTransitions(t *testing.T) {
	a := guard.NewAttempt(guard.TokenStrategy)
	require.ErrorIs(t, a.Succeed(&auth.Principal{}), guard.ErrIllegalTransition)
	require.ErrorIs(t, a.Fail(errors.New("x")), guard.ErrIllegalTransition)

	require.NoError(t, a.Begin())
	require.ErrorIs(t, a.Begin(), guard.ErrIllegalTransition)
	require.NoError(t, a.Fail(errors.New("x")))

	require.ErrorIs(t, a.Succeed(&auth.Principal{}), guard.ErrIllegalTransition)
	require.ErrorIs(t, a.Begin(), guard.ErrIllegalTransition)
	require.Equal(t, guard.Failed, a.State())
}

func TestAttempt_RequiresArguments(t *testing.T) {
	a := guard.NewAttempt(guard.TokenStrategy)
	require.NoError(t, a.Begin())
	require.Error(t, a.Succeed(nil))
	require.Error(t, a.Fail(nil))
	require.Equal(t, guard.Validating, a.State())
}
