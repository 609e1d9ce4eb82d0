// Package store holds the device-state record and the push-target list the
// relay serves. Writes are last-write-wins.
package store

import (
	"context"
	"fmt"

	"streetlamp/internal/model"
)

// Record fields the relay writes. The device owns the rest.
const (
	FieldLightsOn   = "lightsOn"
	FieldManualMode = "isManualMode"
)

type Store interface {
	// Status returns nil when the device has not written a record yet.
	Status(ctx context.Context) (*model.DeviceRecord, error)
	SetField(ctx context.Context, field string, value bool) error
	AddToken(ctx context.Context, token string) error
	Tokens(ctx context.Context) ([]string, error)
}

func checkField(field string) error {
	switch field {
	case FieldLightsOn, FieldManualMode:
		return nil
	default:
		return fmt.Errorf("field %q is not writable", field)
	}
}
