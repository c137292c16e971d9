package chain

import (
	"context"
	"errors"
	"time"

	"github.com/barreleye/barreleye/internal/metrics"
)

// RPC warm-up code from Bitcoin Core's rpc/protocol.h, reused verbatim by
// the retry policy below (source: common/src/chain/bitcoin/client.rs).
const RPCInWarmup = -28

const (
	retryAttempts = 13
	retryBaseMS   = 250
)

// RPCError carries a JSON-RPC error code so the retry loop can distinguish
// "still warming up" from a hard failure, mirroring client.rs's RpcError.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return e.Message }

// ConnError wraps a transport-level connection failure, the other
// retryable case alongside RPCInWarmup.
type ConnError struct{ Err error }

func (e *ConnError) Error() string { return "connection error: " + e.Err.Error() }
func (e *ConnError) Unwrap() error { return e.Err }

// WithRetry retries fn up to retryAttempts times with exponential backoff
// (250ms * 2^attempt) whenever fn returns an RPCInWarmup RPCError or a
// ConnError, exactly as client.rs's request() loop does. Any other error
// aborts immediately. network labels the outcome/retry counters so
// barreleye_rpc_requests_total and barreleye_rpc_retries_total can be
// broken down per chain.
func WithRetry(ctx context.Context, network string, fn func(attempt int) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		result, err := fn(attempt)
		if err == nil {
			metrics.RPCRequestsTotal.WithLabelValues(network, "success").Inc()
			return result, nil
		}
		lastErr = err

		var rpcErr *RPCError
		var connErr *ConnError
		retryable := (errors.As(err, &rpcErr) && rpcErr.Code == RPCInWarmup) || errors.As(err, &connErr)
		if !retryable {
			metrics.RPCRequestsTotal.WithLabelValues(network, "error").Inc()
			return nil, err
		}
		metrics.RPCRetriesTotal.WithLabelValues(network).Inc()

		backoff := time.Duration(retryBaseMS*(1<<uint(attempt))) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	metrics.RPCRequestsTotal.WithLabelValues(network, "error").Inc()
	return nil, lastErr
}
