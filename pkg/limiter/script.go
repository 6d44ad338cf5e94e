package limiter

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

//go:embed sliding_window.lua
var slidingWindowSource string

var slidingWindowScript = redis.NewScript(slidingWindowSource)

// evaluate runs the admission step for key as one atomic script execution.
// Script.Run tries EVALSHA first and falls back to EVAL on NOSCRIPT, so a
// flushed script cache does not surface as an error.
func evaluate(ctx context.Context, c redis.Scripter, key, token string, timestamp, window, limit int64) (Result, error) {
	raw, err := slidingWindowScript.Run(ctx, c, []string{key}, timestamp, window, limit, token).Result()
	if err != nil {
		return Result{}, err
	}
	return parseResult(raw)
}

func parseResult(raw interface{}) (Result, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Result{}, fmt.Errorf("unexpected script result: %T", raw)
	}

	admitted, err := asInt64(values[0])
	if err != nil {
		return Result{}, fmt.Errorf("parsing admitted flag: %w", err)
	}
	retryAfter, err := asInt64(values[1])
	if err != nil {
		return Result{}, fmt.Errorf("parsing retry after: %w", err)
	}
	remaining, err := asInt64(values[2])
	if err != nil {
		return Result{}, fmt.Errorf("parsing remaining: %w", err)
	}

	return Result{
		Admitted:   admitted == 1,
		RetryAfter: retryAfter,
		Remaining:  remaining,
	}, nil
}

func asInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse int64 from %q: %w", x, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
