package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func TestParseInstance(t *testing.T) {
	instance, err := parseInstance("api", "10.0.0.7:9090")
	require.NoError(t, err)
	assert.Equal(t, &ServiceInstance{Name: "api", Host: "10.0.0.7", Port: 9090}, instance)
	assert.Equal(t, "10.0.0.7:9090", instance.Addr())

	instance, err = parseInstance("api", "[::1]:8080")
	require.NoError(t, err)
	assert.Equal(t, "::1", instance.Host)
	assert.Equal(t, "[::1]:8080", instance.Addr())

	_, err = parseInstance("api", "no-port")
	assert.Error(t, err)
	_, err = parseInstance("api", "host:http")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "/storefront/services/api/h:1", serviceKey("/storefront/", &ServiceInstance{Name: "api", Host: "h", Port: 1}))
	assert.Equal(t, "/storefront/idgen/1/7", workerKey("/storefront/", 1, 7))
}

func TestWatchLease(t *testing.T) {
	t.Run("keep-alive channel closes while running", func(t *testing.T) {
		ch := make(chan *clientv3.LeaseKeepAliveResponse, 1)
		lost := watchLease(context.Background(), ch)

		ch <- &clientv3.LeaseKeepAliveResponse{TTL: 30}
		assert.Never(t, func() bool { return isClosed(lost) }, 50*time.Millisecond, 5*time.Millisecond)

		close(ch)
		assert.Eventually(t, func() bool { return isClosed(lost) }, time.Second, 5*time.Millisecond)
	})

	t.Run("shutdown is not a loss", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ch := make(chan *clientv3.LeaseKeepAliveResponse)
		lost := watchLease(ctx, ch)

		cancel()
		close(ch)
		assert.Never(t, func() bool { return isClosed(lost) }, 50*time.Millisecond, 5*time.Millisecond)
	})
}

func TestWorkerClaimLost(t *testing.T) {
	lost := make(chan struct{})
	claim := &WorkerClaim{ID: 3, lost: lost}
	assert.False(t, isClosed(claim.Lost()))

	close(lost)
	assert.True(t, isClosed(claim.Lost()))
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
