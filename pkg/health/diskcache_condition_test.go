package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeUsageSource struct{ used, cap int64 }

func (f fakeUsageSource) Usage() (int64, int64) { return f.used, f.cap }

func TestDiskCacheConditionThresholds(t *testing.T) {
	cond := &DiskCacheCondition{WarnRatio: 0.8, CritRatio: 0.95}

	cond.Source = fakeUsageSource{used: 10, cap: 100}
	s, err := cond.Probe()
	assert.NoError(t, err)
	assert.Equal(t, Healthy, s.Status)

	cond.Source = fakeUsageSource{used: 85, cap: 100}
	s, err = cond.Probe()
	assert.NoError(t, err)
	assert.Equal(t, Warning, s.Status)

	cond.Source = fakeUsageSource{used: 96, cap: 100}
	s, err = cond.Probe()
	assert.NoError(t, err)
	assert.Equal(t, Critical, s.Status)
}

func TestDiskCacheConditionNoCapIsNoData(t *testing.T) {
	cond := &DiskCacheCondition{Source: fakeUsageSource{used: 0, cap: 0}}
	s, err := cond.Probe()
	assert.NoError(t, err)
	assert.Equal(t, NoData, s.Status)
}
