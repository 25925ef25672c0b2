package health

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// UsageSource reports a cache's current size and configured cap, so
// DiskCacheCondition doesn't need to import pkg/diskcache directly.
type UsageSource interface {
	Usage() (used, cap int64)
}

// DiskCacheCondition reports Warning once usage crosses WarnRatio of
// the configured cap and Critical once it crosses CritRatio, mirroring
// the teacher's DiskPressure condition adapted from free-space-left to
// a usage-based cap (this cache's capacity is nominal, not a real
// filesystem limit).
type DiskCacheCondition struct {
	Source    UsageSource
	WarnRatio float64
	CritRatio float64
}

func (d *DiskCacheCondition) Probe() (StatusMessage, error) {
	used, cap := d.Source.Usage()
	if cap <= 0 {
		return StatusMessage{Status: NoData}, nil
	}

	ratio := float64(used) / float64(cap)
	status := Healthy
	switch {
	case ratio >= d.CritRatio:
		status = Critical
	case ratio >= d.WarnRatio:
		status = Warning
	}

	msg := fmt.Sprintf("disk cache usage %s / %s (%s)",
		humanize.Bytes(uint64(used)), humanize.Bytes(uint64(cap)), status)
	return StatusMessage{Status: status, Message: msg}, nil
}
