package resolve_test

import (
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavemesh/dgram/resolve"
)

func countingResolver(lookups *int32, ips ...string) resolve.Resolver {
	return resolve.ResolverFunc(func(host string) ([]net.IP, error) {
		atomic.AddInt32(lookups, 1)

		var out []net.IP
		for _, ip := range ips {
			out = append(out, net.ParseIP(ip))
		}
		return out, nil
	})
}

func TestServiceCachesLookups(t *testing.T) {
	t.Parallel()

	var lookups int32
	service := resolve.NewService(countingResolver(&lookups, "10.0.0.1"), 16)

	for i := 0; i < 3; i++ {
		ips, err := service.LookupHost("meter.local")
		require.NoError(t, err)
		require.Len(t, ips, 1)
		assert.Equal(t, "10.0.0.1", ips[0].String())
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&lookups))
}

func TestServiceInvalidate(t *testing.T) {
	t.Parallel()

	var lookups int32
	service := resolve.NewService(countingResolver(&lookups, "10.0.0.1"), 16)

	_, err := service.LookupHost("a.local")
	require.NoError(t, err)
	_, err = service.LookupHost("b.local")
	require.NoError(t, err)
	assert.Equal(t, 2, service.Len())

	service.InvalidateHost("a.local")
	assert.Equal(t, 1, service.Len())

	service.Invalidate()
	assert.Equal(t, 0, service.Len())

	_, err = service.LookupHost("a.local")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&lookups))
}

func TestServiceEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	var lookups int32
	service := resolve.NewService(countingResolver(&lookups, "10.0.0.1"), 2)

	_, _ = service.LookupHost("a.local")
	_, _ = service.LookupHost("b.local")
	_, _ = service.LookupHost("a.local") // refresh a, b is now oldest
	_, _ = service.LookupHost("c.local") // evicts b

	assert.Equal(t, 2, service.Len())

	_, _ = service.LookupHost("b.local")
	assert.Equal(t, int32(4), atomic.LoadInt32(&lookups))
}

func TestServiceErrorsNameHost(t *testing.T) {
	t.Parallel()

	service := resolve.NewService(nil, 16)

	_, err := service.LookupHost("definitely-not-a-real-host.invalid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definitely-not-a-real-host.invalid")
}

func TestSystemResolverPassesLiterals(t *testing.T) {
	t.Parallel()

	ips, err := resolve.System().LookupHost("192.168.1.5")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, "192.168.1.5", ips[0].String())
}
