package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_RunsInRegistrationOrder(t *testing.T) {
	s := NewShutdown()
	var order []int
	for i := 1; i <= 3; i++ {
		s.Register(func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []int{1, 2, 3}, order)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []int{1, 2, 3}, order, "a second run must not repeat callbacks")
}

func TestShutdown_IsolatesFailures(t *testing.T) {
	s := NewShutdown()
	boom := errors.New("boom")
	ran := false

	s.Register(func(ctx context.Context) error { return boom })
	s.Register(func(ctx context.Context) error { panic("kaput") })
	s.Register(func(ctx context.Context) error { ran = true; return nil })

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "kaput")
	assert.True(t, ran)
}

func TestShutdown_RegisterAfterRun(t *testing.T) {
	s := NewShutdown()
	require.NoError(t, s.Run(context.Background()))

	called := false
	s.Register(func(ctx context.Context) error { called = true; return nil })
	require.NoError(t, s.Run(context.Background()))
	assert.False(t, called)
}

func TestRegistry_PriorityOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	add := func(priority int, name string) {
		r.AddAction(priority, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	add(1000, "logs")
	add(10, "first")
	add(10, "second")
	add(5, "early")

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"early", "first", "second", "logs"}, order)
	assert.Zero(t, r.Len())
}

func TestRegistry_ActionsAddedWhileRunning(t *testing.T) {
	r := NewRegistry()
	var order []string

	r.AddAction(DefaultPriority, func(ctx context.Context) error {
		order = append(order, "outer")
		r.AddAction(1000, func(ctx context.Context) error {
			order = append(order, "late")
			return nil
		})
		return nil
	})
	r.AddAction(20, func(ctx context.Context) error {
		order = append(order, "middle")
		return nil
	})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"outer", "middle", "late"}, order)
}

func TestRegistry_IsolatesFailures(t *testing.T) {
	r := NewRegistry()
	ran := false
	r.AddAction(1, func(ctx context.Context) error { panic("kaput") })
	r.AddAction(2, func(ctx context.Context) error { ran = true; return nil })

	err := r.Run(context.Background())
	assert.Error(t, err)
	assert.True(t, ran)
}
