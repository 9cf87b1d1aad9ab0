package policy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		input    string
		expected Tier
		wantErr  bool
	}{
		{"diamond", TierDiamond, false},
		{"Emerald", TierEmerald, false},
		{" RUBY ", TierRuby, false},
		{"sapphire", TierSapphire, false},
		{"platinum", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tier, err := ParseTier(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, tier)
		})
	}
}

func TestTier_Ordering(t *testing.T) {
	assert.True(t, TierDiamond.AtLeast(TierEmerald))
	assert.True(t, TierEmerald.AtLeast(TierRuby))
	assert.True(t, TierRuby.AtLeast(TierSapphire))
	assert.False(t, TierSapphire.AtLeast(TierRuby))
	assert.True(t, TierDiamond.AtLeast(TierDiamond))
}

func TestCatalog_Defaults(t *testing.T) {
	catalog, err := NewCatalog("")
	require.NoError(t, err)

	diamond := catalog.Resolve(TierDiamond)
	assert.Equal(t, RedirectSubdomainWildcard, diamond.RedirectURIMode)
	assert.Equal(t, EvictReject, diamond.Eviction)
	assert.True(t, diamond.MFARequired)

	sapphire := catalog.Resolve(TierSapphire)
	assert.Equal(t, RedirectExact, sapphire.RedirectURIMode)
	assert.True(t, sapphire.IPRestriction)
	assert.True(t, sapphire.GeoRestriction)

	// Rotation cadence tightens with privilege.
	assert.Less(t, diamond.SecretRotation, sapphire.SecretRotation)
}

func TestCatalog_UnknownTierFallsBackToSapphire(t *testing.T) {
	catalog, err := NewCatalog("")
	require.NoError(t, err)

	bundle := catalog.Resolve(Tier("platinum"))
	assert.Equal(t, TierSapphire, bundle.Tier)
}

func TestCatalog_Overrides(t *testing.T) {
	t.Run("partial override keeps remaining defaults", func(t *testing.T) {
		catalog, err := NewCatalog(`{"ruby": {"session_limit": 7, "secret_rotation_days": 10}}`)
		require.NoError(t, err)

		ruby := catalog.Resolve(TierRuby)
		assert.Equal(t, 7, ruby.SessionLimit)
		assert.Equal(t, 10*24*time.Hour, ruby.SecretRotation)
		// Untouched fields keep defaults.
		assert.Equal(t, EvictLRU, ruby.Eviction)

		// Other tiers untouched.
		assert.Equal(t, 10, catalog.Resolve(TierDiamond).SessionLimit)
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		_, err := NewCatalog(`{"ruby": `)
		assert.Error(t, err)
	})

	t.Run("unknown tier rejected", func(t *testing.T) {
		_, err := NewCatalog(`{"platinum": {"session_limit": 1}}`)
		assert.Error(t, err)
	})

	t.Run("eviction override on diamond rejected", func(t *testing.T) {
		_, err := NewCatalog(`{"diamond": {"eviction": "evict"}}`)
		assert.Error(t, err)
	})

	t.Run("eviction override on lower tier accepted", func(t *testing.T) {
		catalog, err := NewCatalog(`{"sapphire": {"eviction": "reject"}}`)
		require.NoError(t, err)
		assert.Equal(t, EvictReject, catalog.Resolve(TierSapphire).Eviction)
	})
}

func TestCatalog_ReloadKeepsPreviousOnFailure(t *testing.T) {
	catalog, err := NewCatalog(`{"ruby": {"session_limit": 7}}`)
	require.NoError(t, err)

	err = catalog.Reload(`{"ruby": {"eviction": "bogus"}}`)
	assert.Error(t, err)

	// The previous generation stays active.
	assert.Equal(t, 7, catalog.Resolve(TierRuby).SessionLimit)
}

func TestCatalog_ConcurrentResolveDuringReload(t *testing.T) {
	catalog, err := NewCatalog("")
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				bundle := catalog.Resolve(TierRuby)
				// A reader must always observe a complete bundle.
				assert.Equal(t, TierRuby, bundle.Tier)
				assert.NotZero(t, bundle.SessionLimit)
			}
		}
	}()

	for i := 0; i < 100; i++ {
		require.NoError(t, catalog.Reload(`{"ruby": {"session_limit": 9}}`))
		require.NoError(t, catalog.Reload(""))
	}
	close(stop)
	wg.Wait()
}
