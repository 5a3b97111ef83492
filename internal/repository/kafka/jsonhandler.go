package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Studymate/internal/obs/retry"
)

// JSONHandler decodes each value into M. A value that does not decode is a
// permanent failure.
func JSONHandler[M any](handle func(context.Context, []byte, M) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		var msg M
		if err := json.Unmarshal(value, &msg); err != nil {
			return retry.Permanent(fmt.Errorf("decode message: %w", err))
		}
		return handle(ctx, key, msg)
	}
}
