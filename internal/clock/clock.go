// Package clock provides the current time capability.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/config"
)

// NewBuilder returns the capability builder for the current time. The
// configured home timezone is the default; callers can ask for any
// IANA zone.
func NewBuilder(loc config.LocationConfig) capability.Builder {
	return capability.Builder{
		Name: "clock",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			return Capabilities(loc.Timezone, time.Now), nil
		},
	}
}

// Capabilities returns the get_time capability. now is injectable for
// tests.
func Capabilities(homeZone string, now func() time.Time) []*capability.Capability {
	return []*capability.Capability{
		{
			Name:        "get_time",
			Description: "Get the current date and time.",
			Domain:      capability.DomainGeneral,
			Params: []capability.Param{
				{Name: "timezone", Type: "string", Description: "IANA timezone, defaults to the home zone"},
			},
			Handler: timeHandler(homeZone, now),
		},
	}
}

func timeHandler(homeZone string, now func() time.Time) capability.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		zone, _ := args["timezone"].(string)
		if zone == "" {
			zone = homeZone
		}
		if zone == "" {
			zone = "UTC"
		}

		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", zone)
		}
		return now().In(loc).Format("Monday, January 2, 2006 at 3:04 PM MST"), nil
	}
}
