package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/NordCoder/Studymate/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"miss", goredis.Nil, domain.ErrNotFound},
		{"pool timeout", goredis.ErrPoolTimeout, domain.ErrUnavailable},
		{"wrapped pool timeout", fmt.Errorf("pipeline: %w", goredis.ErrPoolTimeout), domain.ErrUnavailable},
		{"closed client", goredis.ErrClosed, domain.ErrUnavailable},
		{"deadline", context.DeadlineExceeded, domain.ErrUnavailable},
		{"network", dialErr, domain.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tc.err), tc.want)
		})
	}

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, classify("op", nil))
	})

	t.Run("other errors stay unclassified", func(t *testing.T) {
		err := classify("op", errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrUnavailable)
		assert.NotErrorIs(t, err, domain.ErrNotFound)
	})
}
