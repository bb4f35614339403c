package admin

import (
	"context"
	"errors"

	"schoolbus-tracker/internal/apiclient"
)

// Stats are the counters of the admin overview.
type Stats struct {
	Users    int `json:"users"`
	Parents  int `json:"parents"`
	Admins   int `json:"admins"`
	Drivers  int `json:"drivers"`
	Vehicles int `json:"vehicles"`
	Students int `json:"students"`
	Alerts   int `json:"alerts"`
	Messages int `json:"messages"`
	Stops    int `json:"stops"`
	// device telemetry
	StopTimes      int `json:"stopTimes"`
	GPSFixes       int `json:"gpsFixes"`
	SensorReadings int `json:"sensorReadings"`
}

// CollectStats lists every collection once. Collections that fail are left
// at zero and their errors joined.
func CollectStats(ctx context.Context, c *apiclient.Client) (Stats, error) {
	var (
		st   Stats
		errs []error
	)

	if users, err := c.Users().List(ctx); err != nil {
		errs = append(errs, err)
	} else {
		st.Users = len(users)
		for _, u := range users {
			switch u.Role {
			case apiclient.RoleParent:
				st.Parents++
			case apiclient.RoleAdmin:
				st.Admins++
			}
		}
	}
	st.Drivers = count(ctx, c.Drivers(), &errs)
	st.Vehicles = count(ctx, c.Vehicles(), &errs)
	st.Students = count(ctx, c.Students(), &errs)
	st.Alerts = count(ctx, c.DriverAlerts(), &errs)
	st.Messages = count(ctx, c.Messages(), &errs)
	st.Stops = count(ctx, c.Stops(), &errs)
	st.StopTimes = count(ctx, c.StopTimes(), &errs)
	st.GPSFixes = count(ctx, c.GPS(), &errs)
	st.SensorReadings = count(ctx, c.BME(), &errs)
	return st, errors.Join(errs...)
}

func count[T any](ctx context.Context, r apiclient.Resource[T], errs *[]error) int {
	items, err := r.List(ctx)
	if err != nil {
		*errs = append(*errs, err)
		return 0
	}
	return len(items)
}
