package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/mcpmux/internal/domain"
	internalerrors "github.com/mcpmux/mcpmux/internal/errors"
	"github.com/mcpmux/mcpmux/internal/transport"
)

func newCalcServer(t *testing.T, name string) *ManagedServer {
	t.Helper()

	return NewManagedServer(hclog.NewNullLogger(), inprocEntry(name),
		func() (transport.Transport, error) {
			return transport.NewInProc(hclog.NewNullLogger(), calcBackend()), nil
		},
	)
}

func TestSupervisor_AddRemove(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(hclog.NewNullLogger())

	require.NoError(t, sup.Add(newCalcServer(t, "alpha")))
	require.NoError(t, sup.Add(newCalcServer(t, "beta")))

	err := sup.Add(newCalcServer(t, "alpha"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "alpha")

	require.Equal(t, []string{"alpha", "beta"}, sup.Names())

	ms, ok := sup.Remove("alpha")
	require.True(t, ok)
	require.Equal(t, "alpha", ms.Name())
	require.Equal(t, []string{"beta"}, sup.Names())

	_, ok = sup.Remove("alpha")
	require.False(t, ok)
}

func TestSupervisor_ServerNotFound(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(hclog.NewNullLogger())

	_, err := sup.Server("ghost")
	require.ErrorIs(t, err, internalerrors.ErrServerNotFound)

	_, err = sup.Start(context.Background(), "ghost")
	require.ErrorIs(t, err, internalerrors.ErrServerNotFound)

	_, err = sup.Stop(context.Background(), "ghost")
	require.ErrorIs(t, err, internalerrors.ErrServerNotFound)

	_, err = sup.Restart(context.Background(), "ghost")
	require.ErrorIs(t, err, internalerrors.ErrServerNotFound)
}

func TestSupervisor_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(hclog.NewNullLogger())
	require.NoError(t, sup.Add(newCalcServer(t, "calc")))

	status, err := sup.Start(context.Background(), "calc")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateRunning, status.State)

	// Starting a running server reports status instead of failing.
	status, err = sup.Start(context.Background(), "calc")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateRunning, status.State)

	status, err = sup.Stop(context.Background(), "calc")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateStopped, status.State)

	status, err = sup.Stop(context.Background(), "calc")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateStopped, status.State)
}

func TestSupervisor_Restart(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(hclog.NewNullLogger())
	require.NoError(t, sup.Add(newCalcServer(t, "calc")))

	_, err := sup.Start(context.Background(), "calc")
	require.NoError(t, err)

	status, err := sup.Restart(context.Background(), "calc")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateRunning, status.State)

	// Restart from stopped acts as a plain start.
	_, err = sup.Stop(context.Background(), "calc")
	require.NoError(t, err)

	status, err = sup.Restart(context.Background(), "calc")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateRunning, status.State)

	_, err = sup.Stop(context.Background(), "calc")
	require.NoError(t, err)
}

func TestSupervisor_StartAllStopAll(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(hclog.NewNullLogger())
	require.NoError(t, sup.Add(newCalcServer(t, "one")))
	require.NoError(t, sup.Add(newCalcServer(t, "two")))
	require.NoError(t, sup.Add(newCalcServer(t, "three")))

	sup.StartAll(context.Background())

	statuses := sup.Servers()
	require.Len(t, statuses, 3)
	for _, status := range statuses {
		require.Equal(t, domain.ServerStateRunning, status.State, status.Name)
	}

	conn, ok := sup.Conn("two")
	require.True(t, ok)
	require.NotNil(t, conn)

	sup.StopAll(context.Background())

	for _, status := range sup.Servers() {
		require.Equal(t, domain.ServerStateStopped, status.State, status.Name)
	}

	_, ok = sup.Conn("two")
	require.False(t, ok)
}

func TestSupervisor_FailedStartDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(hclog.NewNullLogger())
	require.NoError(t, sup.Add(newCalcServer(t, "good")))

	broken := NewManagedServer(hclog.NewNullLogger(), inprocEntry("broken"),
		func() (transport.Transport, error) {
			return newSilentTransport(), nil
		},
		WithStartupTimeout(150*time.Millisecond),
	)
	require.NoError(t, sup.Add(broken))

	sup.StartAll(context.Background())
	t.Cleanup(func() { sup.StopAll(context.Background()) })

	good, err := sup.Server("good")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateRunning, good.State)

	bad, err := sup.Server("broken")
	require.NoError(t, err)
	require.Equal(t, domain.ServerStateCrashed, bad.State)
}
