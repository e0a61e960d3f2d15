package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewClientRequiresAddr(t *testing.T) {
	_, err := NewClient(context.Background(), "", "", 0, nil)
	assert.Error(t, err)
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := NewClient(ctx, "127.0.0.1:1", "", 0, nil)
	assert.Error(t, err)
}
