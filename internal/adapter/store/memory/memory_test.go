package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"aichat/internal/adapter/store/storetest"
	"aichat/internal/domain"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store { return New() })
}

func TestClosedStore(t *testing.T) {
	s := New()
	assert.NoError(t, s.Close())

	_, err := s.ListConversations(context.Background())
	assert.ErrorIs(t, err, domain.ErrPersistence)

	err = s.SaveState(context.Background(), "k", []byte("v"))
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestLoadStateReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	assert.NoError(t, s.SaveState(ctx, "k", []byte("abc")))

	v, err := s.LoadState(ctx, "k")
	assert.NoError(t, err)
	v[0] = 'x'

	again, err := s.LoadState(ctx, "k")
	assert.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}
