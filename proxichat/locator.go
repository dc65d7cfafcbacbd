package proxichat

import "context"

// Location is a geographic fix in decimal degrees.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Locator abstracts device permission and geolocation acquisition. Both
// operations are asynchronous capabilities of the host platform; the
// SDK only consumes their results. RequestPermission returns an error
// when the user declines; CurrentLocation returns an error when no fix
// is obtainable.
type Locator interface {
	RequestPermission(ctx context.Context) error
	CurrentLocation(ctx context.Context) (Location, error)
}

// FixedLocator always grants permission and returns a static location.
// Intended for examples, tests and headless clients.
type FixedLocator struct {
	Location Location
}

func (f FixedLocator) RequestPermission(context.Context) error { return nil }

func (f FixedLocator) CurrentLocation(context.Context) (Location, error) {
	return f.Location, nil
}
